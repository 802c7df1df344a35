package degraded

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestFibDelays verifies the Fibonacci delay schedule up to the maximum.
func TestFibDelays(t *testing.T) {
	delays := fibDelays(1*time.Minute, 13*time.Minute)
	want := []time.Duration{1, 2, 3, 5, 8, 13}
	if len(delays) != len(want) {
		t.Fatalf("len(delays) = %d, want %d", len(delays), len(want))
	}
	for i, w := range want {
		expected := time.Duration(w) * time.Minute
		if delays[i] != expected {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], expected)
		}
	}
}

// TestFibDelays_StopsAtMax verifies that the schedule never exceeds max.
func TestFibDelays_StopsAtMax(t *testing.T) {
	delays := fibDelays(1*time.Minute, 5*time.Minute)
	if len(delays) == 0 {
		t.Fatal("expected at least one delay")
	}
	for _, d := range delays {
		if d > 5*time.Minute {
			t.Errorf("delay %v exceeds max 5m", d)
		}
	}
}

// TestRunRecovery_Recovers verifies that recovery stops once the datastore
// ping succeeds and does not report exhaustion.
func TestRunRecovery_Recovers(t *testing.T) {
	defer ClearRecoveryOverrides()
	attempts := atomic.Int32{}
	validate := func(ctx context.Context) error {
		if attempts.Add(1) >= 2 {
			return nil
		}
		return errors.New("store unreachable")
	}
	exhausted := atomic.Bool{}
	RunRecovery(context.Background(), validate, 10*time.Millisecond, 100*time.Millisecond, func() {
		exhausted.Store(true)
	})
	if exhausted.Load() {
		t.Error("onExhausted should not have been called")
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

// TestRunRecovery_Exhausted verifies that onExhausted fires when the datastore
// never comes back within the delay schedule.
func TestRunRecovery_Exhausted(t *testing.T) {
	defer ClearRecoveryOverrides()
	validate := func(ctx context.Context) error {
		return errors.New("store unreachable")
	}
	exhausted := atomic.Bool{}
	RunRecovery(context.Background(), validate, 10*time.Millisecond, 50*time.Millisecond, func() {
		exhausted.Store(true)
	})
	if !exhausted.Load() {
		t.Error("onExhausted should have been called")
	}
}

// TestRunRecovery_Disabled verifies that recovery returns immediately without
// pinging when the testing override disables it.
func TestRunRecovery_Disabled(t *testing.T) {
	defer ClearRecoveryOverrides()
	SetRecoveryDisabled(true)
	validateCalled := atomic.Bool{}
	validate := func(ctx context.Context) error {
		validateCalled.Store(true)
		return nil
	}
	RunRecovery(context.Background(), validate, 1*time.Millisecond, 10*time.Millisecond, func() {})
	if validateCalled.Load() {
		t.Error("validate should not be called while recovery is disabled")
	}
}

func TestRunRecovery_ForceOverrides(t *testing.T) {
	defer ClearRecoveryOverrides()

	t.Run("force succeed skips validate", func(t *testing.T) {
		ClearRecoveryOverrides()
		validateCalled := atomic.Bool{}
		validate := func(ctx context.Context) error {
			validateCalled.Store(true)
			return errors.New("would fail")
		}
		exhausted := atomic.Bool{}
		SetForceSucceedNextAttempt(true)
		RunRecovery(context.Background(), validate, 1*time.Millisecond, 100*time.Millisecond, func() {
			exhausted.Store(true)
		})
		if validateCalled.Load() {
			t.Error("forceSucceedNext should skip validate")
		}
		if exhausted.Load() {
			t.Error("forceSucceedNext should not call onExhausted")
		}
	})

	t.Run("force fail then real failures exhaust", func(t *testing.T) {
		ClearRecoveryOverrides()
		validate := func(ctx context.Context) error {
			return errors.New("store unreachable")
		}
		exhausted := atomic.Bool{}
		SetForceFailNextAttempt(true)
		RunRecovery(context.Background(), validate, 1*time.Millisecond, 5*time.Millisecond, func() {
			exhausted.Store(true)
		})
		if !exhausted.Load() {
			t.Error("expected exhaustion after forced and real failures")
		}
	})
}

// TestRunRecovery_ContextCancel verifies that a cancelled app context stops
// recovery before any delay elapses.
func TestRunRecovery_ContextCancel(t *testing.T) {
	defer ClearRecoveryOverrides()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	validateCalled := atomic.Bool{}
	validate := func(ctx context.Context) error {
		validateCalled.Store(true)
		return nil
	}
	RunRecovery(ctx, validate, 1*time.Minute, 13*time.Minute, func() {
		t.Error("onExhausted should not fire after cancel")
	})
	if validateCalled.Load() {
		t.Error("validate should not be called after cancel")
	}
}

func TestRecoveryOverrides_SetAndClear(t *testing.T) {
	SetRecoveryDisabled(true)
	if !IsRecoveryDisabled() {
		t.Error("IsRecoveryDisabled() = false, want true")
	}
	SetForceFailNextAttempt(true)
	SetForceSucceedNextAttempt(true)

	ClearRecoveryOverrides()
	if IsRecoveryDisabled() {
		t.Error("ClearRecoveryOverrides did not clear recoveryDisabled")
	}
}

// TestGetAndAdvanceNextRecoveryDelay verifies the simulated attempt index walks
// the delay schedule and reports exhaustion at the end.
func TestGetAndAdvanceNextRecoveryDelay(t *testing.T) {
	defer ClearRecoveryOverrides()
	ClearRecoveryOverrides()

	first, ok := GetAndAdvanceNextRecoveryDelay(1*time.Minute, 3*time.Minute)
	if !ok || first != 1*time.Minute {
		t.Errorf("first delay = (%v, %v), want (1m, true)", first, ok)
	}
	second, ok := GetAndAdvanceNextRecoveryDelay(1*time.Minute, 3*time.Minute)
	if !ok || second != 2*time.Minute {
		t.Errorf("second delay = (%v, %v), want (2m, true)", second, ok)
	}
	third, ok := GetAndAdvanceNextRecoveryDelay(1*time.Minute, 3*time.Minute)
	if !ok || third != 3*time.Minute {
		t.Errorf("third delay = (%v, %v), want (3m, true)", third, ok)
	}
	if _, ok := GetAndAdvanceNextRecoveryDelay(1*time.Minute, 3*time.Minute); ok {
		t.Error("expected exhausted schedule after final delay")
	}
}

// TestNotifyDegraded_TriggersListener verifies the listener runs recovery when
// a handler reports a degraded datastore.
func TestNotifyDegraded_TriggersListener(t *testing.T) {
	defer ClearRecoveryOverrides()
	ClearRecoveryOverrides()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	validated := make(chan struct{}, 1)
	validate := func(ctx context.Context) error {
		select {
		case validated <- struct{}{}:
		default:
		}
		return nil
	}
	StartRecoveryListener(ctx, validate, 1*time.Millisecond, 10*time.Millisecond, func() {})
	NotifyDegraded()

	select {
	case <-validated:
	case <-time.After(2 * time.Second):
		t.Fatal("recovery did not run after NotifyDegraded")
	}
}
