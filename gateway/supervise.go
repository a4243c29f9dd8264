package gateway

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

const (
	superviseBaseBackoff = time.Second
	superviseMaxBackoff  = time.Minute
	// A run that lasts this long resets the backoff to the base.
	superviseStableAfter = time.Minute
)

// Supervise runs fn until ctx is cancelled, restarting it whenever it
// panics or returns early. Restarts back off exponentially up to a cap
// so a loop that dies immediately cannot spin hot.
func Supervise(ctx context.Context, name string, fn func(context.Context)) {
	backoff := superviseBaseBackoff
	for {
		began := time.Now()
		runSupervised(ctx, name, fn)
		if ctx.Err() != nil {
			return
		}
		if time.Since(began) >= superviseStableAfter {
			backoff = superviseBaseBackoff
		}
		slog.Warn("background loop stopped, restarting",
			"loop", name, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > superviseMaxBackoff {
			backoff = superviseMaxBackoff
		}
	}
}

func runSupervised(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background loop panicked",
				"loop", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn(ctx)
}
