// Package safego launches fire-and-forget goroutines that survive panics.
// The API key cleanup sweeper and the metrics/pprof side-channel servers run
// under it; a panic in any of them is logged instead of taking the auth
// service down.
package safego

import "log/slog"

// Go runs fn in a new goroutine, recovering and logging any panic. Use it for
// background work with no caller waiting on the result, where an unrecovered
// panic would otherwise crash the process or silently end the loop.
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
