// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import "log/slog"

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged rather than crashing the process. All fire-and-forget goroutines in
// the platform (async audit writes, best-effort analytics rollups, last-active
// touches) go through this so a panic in a background path can never take down
// a request-serving process or silently kill a recurring job.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
