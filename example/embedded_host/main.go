package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/naidesk"
	"github.com/loykin/naidesk/internal/overlay"
)

// embedded_host: mount the naidesk command API inside an application's own
// HTTP server, with a host that logs every surface call before delegating to
// the in-memory host. A native shell would implement naidesk.Host over its
// window toolkit instead.
func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg := naidesk.DefaultConfig()
	cfg.Tagger.Autostart = false
	cfg.Metrics.Enabled = false

	b, err := naidesk.New(cfg, &loggingHost{inner: overlay.NewHeadlessHost(), log: log}, log)
	if err != nil {
		log.Error("init backend", "error", err)
		os.Exit(1)
	}
	defer func() { _ = b.Close() }()

	mux := http.NewServeMux()
	mux.Handle("/api/", b.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "host app; naidesk commands under /api/")
	})
	srv := &http.Server{Addr: "127.0.0.1:8081", Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	log.Info("listening", "addr", srv.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	r := b.Shutdown()
	log.Info("shutdown", "overlay", r.Overlay, "worker", r.Worker)
	sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
}

type loggingHost struct {
	inner naidesk.Host
	log   *slog.Logger
}

func (h *loggingHost) CreateSurface(label string, u *url.URL, r naidesk.Rect) (naidesk.Surface, error) {
	h.log.Debug("create surface", "label", label, "url", u.String(), "rect", r)
	return h.inner.CreateSurface(label, u, r)
}

func (h *loggingHost) Surface(label string) (naidesk.Surface, bool) {
	return h.inner.Surface(label)
}
