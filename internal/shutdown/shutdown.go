// Package shutdown tears down the overlay and the tagger worker when the
// host exits. Nothing here may block exit: every failure is logged and
// swallowed.
package shutdown

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Outcome describes what happened to one resource during teardown.
type Outcome string

const (
	OutcomeNothing Outcome = "nothing" // nothing was held
	OutcomeDone    Outcome = "done"
	OutcomeIgnored Outcome = "ignored" // teardown failed; logged and ignored
)

// Worker is the part of the worker supervisor the coordinator needs.
type Worker interface {
	Shutdown() (held bool, err error)
}

// Overlay is the part of the overlay manager the coordinator needs.
type Overlay interface {
	IsOpen() bool
	Close() error
}

// Report summarises one teardown.
type Report struct {
	Overlay    Outcome       `json:"overlay"`
	Worker     Outcome       `json:"worker"`
	OverlayErr error         `json:"-"`
	WorkerErr  error         `json:"-"`
	Took       time.Duration `json:"took"`
}

type Coordinator struct {
	worker  Worker
	overlay Overlay
	log     *slog.Logger

	once   sync.Once
	report Report
	done   chan struct{}
}

// New returns a Coordinator. Either worker or overlay may be nil.
func New(worker Worker, overlay Overlay, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		worker:  worker,
		overlay: overlay,
		log:     log.With("component", "shutdown"),
		done:    make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled and then shuts down.
func (c *Coordinator) Run(ctx context.Context) Report {
	<-ctx.Done()
	return c.Shutdown()
}

// Shutdown closes the overlay, then terminates the worker. Only the first
// call does any work; later calls return the same Report.
func (c *Coordinator) Shutdown() Report {
	c.once.Do(func() {
		defer close(c.done)
		start := time.Now()
		c.report.Overlay, c.report.OverlayErr = c.closeOverlay()
		c.report.Worker, c.report.WorkerErr = c.stopWorker()
		c.report.Took = time.Since(start)
		c.log.Info("shutdown complete",
			"overlay", c.report.Overlay, "worker", c.report.Worker, "took", c.report.Took)
	})
	return c.report
}

// Done is closed once Shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) closeOverlay() (Outcome, error) {
	if c.overlay == nil || !c.overlay.IsOpen() {
		return OutcomeNothing, nil
	}
	if err := c.overlay.Close(); err != nil {
		c.log.Warn("failed to close overlay during shutdown", "error", err)
		return OutcomeIgnored, err
	}
	return OutcomeDone, nil
}

func (c *Coordinator) stopWorker() (Outcome, error) {
	if c.worker == nil {
		return OutcomeNothing, nil
	}
	held, err := c.worker.Shutdown()
	switch {
	case err != nil:
		c.log.Warn("failed to terminate tagger worker during shutdown", "error", err)
		return OutcomeIgnored, err
	case held:
		return OutcomeDone, nil
	default:
		return OutcomeNothing, nil
	}
}
