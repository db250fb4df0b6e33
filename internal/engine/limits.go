package engine

import (
	"context"
	"errors"
	"runtime"
	"time"
)

// Cancellation causes when a ceiling is hit. Retrieve with
// context.Cause.
var (
	ErrWallClockLimit = errors.New("wall clock ceiling exceeded")
	ErrMemoryLimit    = errors.New("memory ceiling exceeded")
)

const defaultSampleInterval = 50 * time.Millisecond

// Limits are the cooperative resource ceilings for one sandboxed run.
// Enforcement is by cancelling the run's context: the run must observe
// ctx.Done() at its yield points, and effects already performed are not
// rolled back. Zero values mean no ceiling.
type Limits struct {
	WallClock      time.Duration
	MaxMemory      int64
	SampleInterval time.Duration
}

// Apply derives a context the run executes under. The wall clock is a
// plain deadline; memory is sampled by a watchdog goroutine reading
// runtime.MemStats, which is a coarse process-wide measure rather than a
// per-run account. The returned stop function releases the watchdog and
// must be called on every path.
func (l Limits) Apply(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := parent
	cancelClock := func() {}
	if l.WallClock > 0 {
		ctx, cancelClock = context.WithTimeoutCause(ctx, l.WallClock, ErrWallClockLimit)
	}

	ctx, cancelMem := context.WithCancelCause(ctx)
	if l.MaxMemory > 0 {
		interval := l.SampleInterval
		if interval <= 0 {
			interval = defaultSampleInterval
		}
		go watchMemory(ctx, cancelMem, l.MaxMemory, interval)
	}

	stop := func() {
		cancelMem(nil)
		cancelClock()
	}
	return ctx, stop
}

func watchMemory(ctx context.Context, cancel context.CancelCauseFunc, max int64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			if int64(stats.HeapAlloc) > max {
				cancel(ErrMemoryLimit)
				return
			}
		}
	}
}
