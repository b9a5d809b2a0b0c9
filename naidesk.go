// Package naidesk is the native backend of the NAI desktop client: it
// supervises the local tagger worker, manages the embedded browser overlay,
// proxies the remote image services and tears everything down on exit.
package naidesk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loykin/naidesk/internal/config"
	"github.com/loykin/naidesk/internal/history"
	"github.com/loykin/naidesk/internal/history/opensearch"
	"github.com/loykin/naidesk/internal/history/sqlite"
	"github.com/loykin/naidesk/internal/metrics"
	"github.com/loykin/naidesk/internal/overlay"
	"github.com/loykin/naidesk/internal/remote"
	"github.com/loykin/naidesk/internal/server"
	"github.com/loykin/naidesk/internal/shutdown"
	"github.com/loykin/naidesk/internal/sidecar"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for embedders.

type Config = config.Config

type Host = overlay.Host

type Surface = overlay.Surface

type Rect = overlay.Rect

type Report = shutdown.Report

type TaggerStatus = sidecar.Status

// LoadConfig reads a TOML file (optional) over the defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return config.Default() }

// Backend wires the worker supervisor, overlay manager, remote client,
// lifecycle journal and shutdown coordinator together.
type Backend struct {
	cfg Config
	log *slog.Logger

	Tagger  *sidecar.Supervisor
	Overlay *overlay.Manager
	Remote  *remote.Client

	journal     *sqlite.Sink
	recorder    *history.Recorder
	coordinator *shutdown.Coordinator
	router      *server.Router
}

// New builds a Backend. A nil host selects the in-memory headless host.
func New(cfg Config, host Host, log *slog.Logger) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if host == nil {
		host = overlay.NewHeadlessHost()
	}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	b := &Backend{cfg: cfg, log: log}
	var rec *history.Recorder
	if cfg.History.Enabled {
		sink, err := sqlite.New(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("open history %s: %w", cfg.History.DSN, err)
		}
		b.journal = sink
		sinks := []history.Sink{sink}
		if cfg.History.OpenSearchURL != "" {
			sinks = append(sinks, opensearch.New(cfg.History.OpenSearchURL, cfg.History.OpenSearchIndex))
		}
		rec = history.NewRecorder(log.With("component", "history"), sinks...)
		b.recorder = rec
	}

	sc, err := cfg.SidecarConfig()
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.Tagger = sidecar.New(sc,
		sidecar.WithTerminator(cfg.Terminator()),
		sidecar.WithLogger(log),
		sidecar.WithHistory(rec),
	)
	b.Overlay = overlay.NewManager(host,
		overlay.WithLabel(cfg.Overlay.Label),
		overlay.WithLogger(log),
		overlay.WithHistory(rec),
	)
	b.Remote = remote.New(cfg.Remote, log)
	b.coordinator = shutdown.New(b.Tagger, b.Overlay, log)

	opts := []server.Option{
		server.WithBasePath(cfg.Server.BasePath),
		server.WithRemote(b.Remote),
		server.WithMetrics(cfg.Metrics.Enabled),
	}
	if b.journal != nil {
		opts = append(opts, server.WithHistory(b.journal))
	}
	if sr, ok := host.(server.SurfaceReporter); ok {
		opts = append(opts, server.WithSurfaceReporter(sr))
	}
	b.router = server.NewRouter(b.Tagger, b.Overlay, opts...)
	return b, nil
}

// Handler returns the local command API.
func (b *Backend) Handler() http.Handler { return b.router.Handler() }

// Start reaps a worker orphaned by a previous run and, when autostart is
// set, launches the worker. A missing worker executable is logged, not fatal:
// the UI may start it later or run without tagging.
func (b *Backend) Start() error {
	if err := b.Tagger.ReapStale(); err != nil {
		b.log.Warn("failed to reap stale tagger worker", "error", err)
	}
	if !b.cfg.Tagger.Autostart {
		return nil
	}
	err := b.Tagger.Start()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sidecar.ErrWorkerNotFound):
		b.log.Warn("tagger worker not available; tagging disabled", "error", err)
		return nil
	default:
		return err
	}
}

// Run starts the backend, serves the command API on cfg.Server.Listen and
// blocks until ctx is cancelled or the listener fails. Teardown always runs
// before it returns.
func (b *Backend) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", b.cfg.Server.Listen, err)
	}
	return b.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (b *Backend) Serve(ctx context.Context, ln net.Listener) error {
	defer func() { _ = b.Close() }()

	if err := b.Start(); err != nil {
		_ = ln.Close()
		b.Shutdown()
		return err
	}

	// a listener failure ends the run like a cancellation does
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	srv := server.NewServer(ln.Addr().String(), b.router)
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		stop()
	}()
	b.log.Info("command API listening", "addr", ln.Addr().String(), "base_path", b.cfg.Server.BasePath)

	b.coordinator.Run(runCtx)

	var runErr error
	select {
	case err := <-serveErr:
		runErr = fmt.Errorf("serve: %w", err)
	default:
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		b.log.Warn("command API did not stop cleanly", "error", err)
	}
	return runErr
}

// Shutdown closes the overlay and terminates the worker. It runs once;
// later calls return the first Report.
func (b *Backend) Shutdown() Report { return b.coordinator.Shutdown() }

// Close sends queued history events and releases the lifecycle journal.
func (b *Backend) Close() error {
	b.recorder.Close()
	if b.journal == nil {
		return nil
	}
	err := b.journal.Close()
	b.journal = nil
	return err
}
