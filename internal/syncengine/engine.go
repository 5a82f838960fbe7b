// Package syncengine reconciles the local note store with a remote file store.
//
// A full pass runs five ordered steps: upload pending notes, apply pending
// renames, download remote changes, apply local deletions, and apply remote
// deletions. At most one pass runs per Engine at a time. The single-note
// operations are not excluded against a running pass; every write they
// race with is guarded by the last_modified value observed when the note was
// read, so a lost race leaves the note pending for the next pass.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/starford/mono/internal/notestore"
	"github.com/starford/mono/internal/remote"
)

const defaultConcurrency = 4

// Engine owns the sync policy between one store and one remote.
type Engine struct {
	store       notestore.Store
	remote      remote.Provider
	logger      *slog.Logger
	guard       *semaphore.Weighted
	now         func() time.Time
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for settlement timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithConcurrency bounds how many notes a step processes in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// New returns an Engine.
func New(store notestore.Store, rp remote.Provider, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		remote:      rp,
		logger:      logger,
		guard:       semaphore.NewWeighted(1),
		now:         time.Now,
		concurrency: defaultConcurrency,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Report summarises one full pass.
type Report struct {
	Skipped      string `json:"skipped,omitempty"`
	Uploaded     int    `json:"uploaded"`
	Renamed      int    `json:"renamed"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Merged       int    `json:"merged"`
	RemoteDelete int    `json:"remote_deleted"`
	LocalDelete  int    `json:"local_deleted"`
}

// ErrDeferred marks a single-note operation whose local write succeeded but
// whose remote write failed. The note stays pending for the next pass.
var ErrDeferred = errors.New("remote write deferred")

// Skip reasons reported when a pass does not run.
const (
	SkipUnauthorized = "remote not authorized"
	SkipInFlight     = "pass already running"
)

// pass is the state shared by the steps of one SyncAll call.
type pass struct {
	refresh  func()
	listing  map[string]bool // remote ids seen by the download step
	listedAt time.Time

	mu     sync.Mutex
	report Report
}

func (p *pass) count(fn func(r *Report)) {
	p.mu.Lock()
	fn(&p.report)
	p.mu.Unlock()
}

type step struct {
	name string
	run  func(ctx context.Context, p *pass) error
}

// SyncAll runs one full reconciliation pass. It is a no-op when the remote is
// not authorized or another pass on this Engine is in flight. refresh, if
// non-nil, is called when local notes were changed from the remote side.
//
// The first failing step aborts the rest of the pass; effects of completed
// steps stand.
func (e *Engine) SyncAll(ctx context.Context, refresh func()) (Report, error) {
	if !e.remote.Authorized() {
		e.logger.Debug("sync: skipped", slog.String("reason", SkipUnauthorized))
		return Report{Skipped: SkipUnauthorized}, nil
	}
	if !e.guard.TryAcquire(1) {
		e.logger.Debug("sync: skipped", slog.String("reason", SkipInFlight))
		return Report{Skipped: SkipInFlight}, nil
	}
	defer e.guard.Release(1)

	if refresh == nil {
		refresh = func() {}
	}
	p := &pass{refresh: refresh}
	steps := []step{
		{"upload pending", e.uploadPending},
		{"apply renames", e.applyRenames},
		{"download changes", e.downloadChanges},
		{"apply local deletions", e.applyLocalDeletions},
		{"apply remote deletions", e.applyRemoteDeletions},
	}

	start := e.now()
	for _, s := range steps {
		if err := s.run(ctx, p); err != nil {
			e.logger.Error("sync: step failed",
				slog.String("step", s.name),
				slog.String("error", err.Error()))
			return p.report, fmt.Errorf("sync: %s: %w", s.name, err)
		}
	}

	e.logger.Info("sync: pass complete",
		slog.Int("uploaded", p.report.Uploaded),
		slog.Int("renamed", p.report.Renamed),
		slog.Int("created", p.report.Created),
		slog.Int("updated", p.report.Updated),
		slog.Int("merged", p.report.Merged),
		slog.Int("remote_deleted", p.report.RemoteDelete),
		slog.Int("local_deleted", p.report.LocalDelete),
		slog.Duration("took", e.now().Sub(start)))
	return p.report, nil
}

// Authorized reports whether the remote can be used.
func (e *Engine) Authorized() bool {
	return e.remote.Authorized()
}

// Deauthorize drops the remote's credentials if it holds any.
func (e *Engine) Deauthorize(ctx context.Context) error {
	d, ok := e.remote.(remote.Deauthorizer)
	if !ok {
		return nil
	}
	if err := d.Deauthorize(ctx); err != nil {
		return fmt.Errorf("sync: deauthorize: %w", err)
	}
	e.logger.Info("sync: remote deauthorized")
	return nil
}

// forEach runs fn over a snapshot of items with bounded parallelism. A
// failure on one item does not stop the others; all failures are joined.
func forEach[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(limit)
	for _, it := range items {
		g.Go(func() error {
			if err := fn(ctx, it); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// settledAt returns the last_synced_at stamp for a write the remote dated
// remoteTs. It is never earlier than remoteTs, so the next pass does not
// mistake the engine's own write for a remote change.
func (e *Engine) settledAt(remoteTs time.Time) time.Time {
	now := e.now()
	if remoteTs.After(now) {
		return remoteTs
	}
	return now
}
