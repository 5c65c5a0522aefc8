package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	drainStart   atomic.Int64
)

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	if v {
		drainStart.CompareAndSwap(0, time.Now().UnixNano())
	} else {
		drainStart.Store(0)
	}
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// ShuttingDownSince returns when draining began, or the zero time when serving normally.
func ShuttingDownSince() time.Time {
	ns := drainStart.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
