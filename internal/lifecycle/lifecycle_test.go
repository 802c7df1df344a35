package lifecycle

import "testing"

func TestShuttingDown_DefaultFalse(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false")
	}
}

func TestSetShuttingDown_Toggle(t *testing.T) {
	SetShuttingDown(true)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true)")
	}
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetShuttingDown(false)")
	}
}
