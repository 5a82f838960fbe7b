// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/mono/internal/api"
	"github.com/starford/mono/internal/editor"
	"github.com/starford/mono/internal/noteservice"
	"github.com/starford/mono/internal/notestore"
	"github.com/starford/mono/internal/remote"
	"github.com/starford/mono/internal/sse"
	"github.com/starford/mono/internal/syncengine"
)

// App holds the components every command shares.
type App struct {
	Config *Config
	Logger *slog.Logger
	Store  *notestore.DB
	Remote remote.Provider
	Engine *syncengine.Engine

	closers []io.Closer
}

// New opens the note store and remote described by the configuration and
// wires the sync engine on top of them.
func New(opts ...Option) (*App, error) {
	a := &application{}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := a.config

	app := &App{Config: cfg}
	app.Logger = app.newLogger(a.logOutput)
	slog.SetDefault(app.Logger)

	app.Logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("remote_kind", cfg.Remote.Kind),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := notestore.Open(cfg.SQLite.Path)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init note store: %w", err)
	}
	app.Store = store
	app.closers = append(app.closers, store)

	rp, err := newRemote(cfg.Remote)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init remote: %w", err)
	}
	app.Remote = rp

	app.Engine = syncengine.New(store, rp, app.Logger, syncengine.WithConcurrency(cfg.Sync.Concurrency))
	return app, nil
}

// Close releases the note store and the log file.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i].Close())
	}
	app.closers = nil
	return errors.Join(errs...)
}

// NewService returns a note service over the app's store and engine.
func (app *App) NewService(opts ...noteservice.Option) *noteservice.Service {
	return noteservice.NewService(app.Store, app.Engine, app.Logger, opts...)
}

func (app *App) newLogger(out io.Writer) *slog.Logger {
	if out == nil {
		out = os.Stdout
	}
	if app.Config.App.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   app.Config.App.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		app.closers = append(app.closers, lj)
		out = io.MultiWriter(out, lj)
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: app.Config.App.LogLevel,
	}))
}

func newRemote(cfg RemoteConfig) (remote.Provider, error) {
	switch cfg.Kind {
	case RemoteFS:
		if err := os.MkdirAll(cfg.FS.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create mirror dir: %w", err)
		}
		return remote.NewFS(cfg.FS.Path)
	case RemoteDropbox:
		d := remote.NewDropbox(cfg.Dropbox.Token, cfg.Dropbox.Root, cfg.Timeout)
		if cfg.Dropbox.APIURL != "" {
			d.APIURL = cfg.Dropbox.APIURL
		}
		if cfg.Dropbox.ContentURL != "" {
			d.ContentURL = cfg.Dropbox.ContentURL
		}
		return d, nil
	default:
		return remote.Disabled{}, nil
	}
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := New(opts...)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Serve(ctx)
}

// Serve runs the HTTP API, the sync runner and the mirror watcher until ctx
// is cancelled or a shutdown signal arrives.
func (app *App) Serve(ctx context.Context) error {
	cfg, logger := app.Config, app.Logger

	// SSE broker.
	broker := sse.NewBroker(time.Second)
	defer broker.Close()

	svc := app.NewService(
		noteservice.WithNotifier(broker.PublishNoteEvent),
		noteservice.WithRefresh(broker.Refreshed),
	)

	// Pending edits outlive request contexts; they are flushed on shutdown.
	sessions := editor.NewSessions(context.WithoutCancel(ctx), svc, cfg.Sync.Debounce, logger)
	runner := syncengine.NewRunner(app.Engine, cfg.Sync.Interval, broker.Refreshed, logger)

	apiRouter := api.NewRouter(svc, sessions, runner.Trigger, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Periodic and triggered sync passes.
	g.Go(func() error {
		return runner.Run(gCtx)
	})

	// Changes in the fs mirror trigger a pass.
	if cfg.Remote.Kind == RemoteFS && cfg.Sync.Watch {
		g.Go(func() error {
			if err := remote.Watch(gCtx, cfg.Remote.FS.Path, time.Second, logger, runner.Trigger); err != nil {
				logger.Warn("watcher: disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		sessions.Close()

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the runner and watcher stop with the
// server.
var errShutdown = errors.New("shutdown")
