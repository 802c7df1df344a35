package lifecycle

import "sync/atomic"

var shuttingDown atomic.Bool

// SetShuttingDown sets the drain flag. Call when SIGTERM/SIGINT is received.
// The health handler reports shutting-down with 503 while set, so the load
// balancer stops routing logins here.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true while the process is draining in-flight requests.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
