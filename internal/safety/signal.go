package safety

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// SignalContext returns a context cancelled on SIGINT or SIGTERM. The loop
// core never registers handlers itself; this adapter lives at the process
// boundary so the core stays testable with plain contexts.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// WatchStopMarker polls for an externally-placed marker file and latches
// the emergency stop when it appears. It returns when ctx is done.
func (g *Guard) WatchStopMarker(ctx context.Context, path string, interval time.Duration) {
	if path == "" {
		return
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				g.EmergencyStop("stop marker present: " + path)
				return
			}
		}
	}
}
