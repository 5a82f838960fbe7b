package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner triggers full passes on an interval and on demand. Triggers that
// arrive while a pass runs are dropped by the Engine's guard.
type Runner struct {
	engine   *Engine
	interval time.Duration
	refresh  func()
	logger   *slog.Logger

	trigger chan struct{}
	wg      sync.WaitGroup
}

// NewRunner returns a Runner. An interval of zero disables periodic passes.
func NewRunner(engine *Engine, interval time.Duration, refresh func(), logger *slog.Logger) *Runner {
	return &Runner{
		engine:   engine,
		interval: interval,
		refresh:  refresh,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests a pass without blocking.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run starts a pass immediately, then on every tick and trigger, until ctx
// is cancelled. It waits for running passes before returning.
func (r *Runner) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.interval > 0 {
		t := time.NewTicker(r.interval)
		defer t.Stop()
		tick = t.C
	}

	r.logger.Info("sync: runner started", slog.Duration("interval", r.interval))
	r.start(ctx)
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("sync: runner stopped")
			return nil
		case <-tick:
			r.start(ctx)
		case <-r.trigger:
			r.start(ctx)
		}
	}
}

func (r *Runner) start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Failures are logged by SyncAll and retried on the next trigger.
		_, _ = r.engine.SyncAll(ctx, r.refresh)
	}()
}
