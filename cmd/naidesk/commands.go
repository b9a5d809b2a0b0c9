package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loykin/naidesk"
	"github.com/loykin/naidesk/internal/logger"
	"github.com/loykin/naidesk/internal/sidecar"
	"github.com/loykin/naidesk/pkg/client"
	"github.com/loykin/naidesk/pkg/template"
)

var (
	errWorkerMissing = errors.New("tagger worker executable not found")
	errWorkerExited  = errors.New("tagger worker exited")
)

// command carries the CLI's output so tests can capture it.
type command struct {
	out io.Writer
}

func (c command) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func loadConfig(path string) (naidesk.Config, error) {
	cfg, err := naidesk.LoadConfig(path)
	if err != nil {
		return cfg, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// setup loads the config and builds the application logger from it.
func setup(path string) (naidesk.Config, *slog.Logger, io.Closer, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return cfg, nil, nil, err
	}
	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log)
	return cfg, log, closer, nil
}

func (c command) Serve(ctx context.Context, path string) error {
	cfg, log, closer, err := setup(path)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	b, err := naidesk.New(cfg, nil, log)
	if err != nil {
		return err
	}
	err = b.Run(ctx)
	r := b.Shutdown()
	log.Info("naidesk stopped", "overlay", r.Overlay, "worker", r.Worker)
	return err
}

func (c command) TaggerCheck(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	loc := sidecar.NewLocator(cfg.Tagger.Binary)
	if p, ok := loc.Locate(); ok {
		c.printf("tagger worker available: %s\n", p)
		return nil
	}
	c.printf("tagger worker not found; looked in:\n  %s\n", strings.Join(loc.Candidates(), "\n  "))
	return errWorkerMissing
}

// TaggerRun supervises the worker in the foreground: it returns when ctx is
// cancelled (worker terminated) or when the worker exits on its own.
func (c command) TaggerRun(ctx context.Context, path string) error {
	cfg, log, closer, err := setup(path)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	cfg.Metrics.Enabled = false
	b, err := naidesk.New(cfg, nil, log)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	if err := b.Tagger.ReapStale(); err != nil {
		log.Warn("failed to reap stale tagger worker", "error", err)
	}
	if err := b.Tagger.Start(); err != nil {
		return err
	}
	st := b.Tagger.Status()
	c.printf("tagger worker running: pid %d (%s)\n", st.PID, st.Path)

	select {
	case <-ctx.Done():
		r := b.Shutdown()
		c.printf("tagger worker stopped: %s\n", r.Worker)
		return r.WorkerErr
	case <-b.Tagger.Exited():
		b.Shutdown()
		return errWorkerExited
	}
}

func newClient(f APIFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
}

func (c command) TaggerStatus(ctx context.Context, f APIFlags) error {
	st, err := newClient(f).TaggerStatus(orBackground(ctx))
	if err != nil {
		return err
	}
	if !st.Running {
		c.printf("tagger worker: stopped (restarts %d, terminator %s)\n", st.Restarts, st.Terminator)
		return nil
	}
	c.printf("tagger worker: running pid %d since %s (restarts %d, terminator %s)\n",
		st.PID, st.StartedAt.Format("2006-01-02 15:04:05"), st.Restarts, st.Terminator)
	return nil
}

func (c command) TaggerStart(ctx context.Context, f APIFlags) error {
	if err := newClient(f).StartTagger(orBackground(ctx)); err != nil {
		return err
	}
	c.printf("tagger worker started\n")
	return nil
}

func (c command) TaggerStop(ctx context.Context, f APIFlags) error {
	if err := newClient(f).TerminateTagger(orBackground(ctx)); err != nil {
		return err
	}
	c.printf("tagger worker terminated\n")
	return nil
}

func (c command) ConfigPrint(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	data, err := template.Encode(cfg)
	if err != nil {
		return err
	}
	_, err = c.out.Write(data)
	return err
}

func (c command) ConfigInit(f InitFlags) error {
	data, err := template.NewGenerator(f.DataDir).GenerateTOML(template.Preset(f.Preset))
	if err != nil {
		return err
	}
	if f.Out == "" {
		_, err = c.out.Write(data)
		return err
	}
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !f.Force {
		flag = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	file, err := os.OpenFile(f.Out, flag, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", f.Out)
		}
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	c.printf("wrote %s preset to %s\n", f.Preset, f.Out)
	return nil
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
