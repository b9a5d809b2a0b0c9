// Package sidecar supervises the single tagger worker process.
package sidecar

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loykin/naidesk/internal/detector"
	"github.com/loykin/naidesk/internal/history"
	"github.com/loykin/naidesk/internal/logger"
	"github.com/loykin/naidesk/internal/metrics"
	"github.com/loykin/naidesk/internal/process"
)

// DefaultPort is the TCP port the worker is told to listen on.
const DefaultPort = 8002

// Config describes how the worker is launched.
type Config struct {
	Binary  string        // executable name without extension; default tagger-server
	Port    int           // passed as --port; default 8002
	Args    []string      // extra arguments appended after --port
	Env     []string      // full environment; nil inherits, empty means none
	PIDFile string        // optional; enables stale worker reaping
	Log     logger.Config // worker stdout/stderr capture
}

// Spawner starts a process. Tests replace it to observe spawns.
type Spawner func(spec process.Spec) (process.Handle, error)

func spawnChild(spec process.Spec) (process.Handle, error) {
	c, err := process.Spawn(spec)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Status is a snapshot of the worker slot.
type Status struct {
	Running    bool      `json:"running"`
	PID        int       `json:"pid,omitempty"`
	Path       string    `json:"path,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Restarts   int       `json:"restarts"`
	Terminator string    `json:"terminator"`
}

// Supervisor owns the worker slot: at most one live worker at a time.
// mu is held for the full duration of Start and Terminate, spawn and kill
// included, so no caller ever observes a half-updated slot.
type Supervisor struct {
	cfg     Config
	locator Locator
	term    process.Terminator
	spawn   Spawner
	log     *slog.Logger
	history *history.Recorder

	mu       sync.Mutex
	slot     process.Handle
	path     string
	restarts int
	sealed   bool
}

type Option func(*Supervisor)

func WithLocator(l Locator) Option               { return func(s *Supervisor) { s.locator = l } }
func WithTerminator(t process.Terminator) Option { return func(s *Supervisor) { s.term = t } }
func WithSpawner(fn Spawner) Option              { return func(s *Supervisor) { s.spawn = fn } }
func WithLogger(l *slog.Logger) Option           { return func(s *Supervisor) { s.log = l } }
func WithHistory(r *history.Recorder) Option     { return func(s *Supervisor) { s.history = r } }

// New creates a Supervisor with an empty slot.
func New(cfg Config, opts ...Option) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	s := &Supervisor{
		cfg:     cfg,
		locator: NewLocator(cfg.Binary),
		spawn:   spawnChild,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.term == nil {
		s.term = process.DefaultTerminator(0)
	}
	s.log = s.log.With("component", "sidecar", "worker", cfg.Binary)
	return s
}

// Locate resolves the worker executable; absence is not an error.
func (s *Supervisor) Locate() (string, bool) { return s.locator.Locate() }

// IsAvailable reports whether the worker executable can be found.
func (s *Supervisor) IsAvailable() bool {
	_, ok := s.locator.Locate()
	return ok
}

// Args is the worker command line after the program name.
func (s *Supervisor) Args() []string {
	args := []string{"--port", strconv.Itoa(s.cfg.Port)}
	return append(args, s.cfg.Args...)
}

// Start spawns the worker unless one is already running. A worker that
// exited on its own since the last call is noticed here and replaced.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return ErrShuttingDown
	}
	if s.slot != nil {
		if !s.slot.Exited() {
			metrics.IncWorkerStart("already_running")
			return nil
		}
		pid, detail := s.slot.PID(), exitDetail(s.slot)
		s.log.Warn("tagger worker exited on its own", "pid", pid, "exit", detail)
		s.history.Record(history.Event{Type: history.EventWorkerExitDetected, Subject: s.cfg.Binary, PID: pid, Detail: detail})
		s.clearLocked()
		s.restarts++
	}

	path, ok := s.locator.Locate()
	if !ok {
		metrics.IncWorkerStart("not_found")
		return fmt.Errorf("%w (looked in: %s)", ErrWorkerNotFound, strings.Join(s.locator.Candidates(), ", "))
	}

	h, err := s.spawn(process.Spec{
		Name: s.cfg.Binary,
		Path: path,
		Args: s.Args(),
		Env:  s.cfg.Env,
		Log:  s.cfg.Log,
	})
	if err != nil {
		metrics.IncWorkerStart("spawn_failed")
		return fmt.Errorf("%w at %s: %w", ErrSpawnFailure, path, err)
	}
	s.slot = h
	s.path = path
	if err := process.WritePIDFile(s.cfg.PIDFile, h.PID()); err != nil {
		s.log.Warn("failed to write worker pid file", "path", s.cfg.PIDFile, "error", err)
	}

	metrics.IncWorkerStart("spawned")
	metrics.SetWorkerRunning(true)
	s.history.Record(history.Event{Type: history.EventWorkerStart, Subject: s.cfg.Binary, PID: h.PID(), Detail: path})
	s.log.Info("tagger worker started", "pid", h.PID(), "path", path, "port", s.cfg.Port)
	return nil
}

// Terminate empties the slot and kills the held worker with the configured
// Terminator. An empty slot is a no-op.
func (s *Supervisor) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.terminateLocked()
	return err
}

// Shutdown seals the supervisor against further starts and terminates the
// held worker, all under one hold of the slot lock. held reports whether
// there was a worker to terminate.
func (s *Supervisor) Shutdown() (held bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return s.terminateLocked()
}

func (s *Supervisor) terminateLocked() (bool, error) {
	h := s.slot
	if h == nil {
		return false, nil
	}
	s.clearLocked()

	pid := h.PID()
	err := s.term.Terminate(h)
	if err != nil {
		metrics.IncWorkerTermination(s.term.Name(), "error")
		s.history.Record(history.Event{Type: history.EventWorkerStop, Subject: s.cfg.Binary, PID: pid, Detail: "error: " + err.Error()})
		return true, fmt.Errorf("%w: pid %d via %s: %w", ErrTerminationFailure, pid, s.term.Name(), err)
	}
	metrics.IncWorkerTermination(s.term.Name(), "ok")
	s.history.Record(history.Event{Type: history.EventWorkerStop, Subject: s.cfg.Binary, PID: pid, Detail: "strategy=" + s.term.Name()})
	s.log.Info("tagger worker terminated", "pid", pid, "strategy", s.term.Name())
	return true, nil
}

// ReapStale kills a worker recorded in the PID file by a previous run of the
// host that did not shut down cleanly. It is a no-op without a PID file.
func (s *Supervisor) ReapStale() error {
	if s.cfg.PIDFile == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pd, err := detector.PIDFileDetector{PIDFile: s.cfg.PIDFile}.Resolve()
	if err != nil {
		s.log.Warn("ignoring unreadable worker pid file", "path", s.cfg.PIDFile, "error", err)
		process.RemovePIDFile(s.cfg.PIDFile)
		return nil
	}
	if pd.PID == 0 || (s.slot != nil && s.slot.PID() == pd.PID) {
		return nil
	}
	alive, _ := pd.Alive()
	if !alive {
		process.RemovePIDFile(s.cfg.PIDFile)
		return nil
	}

	s.log.Warn("terminating stale tagger worker from a previous run", "pid", pd.PID)
	h := process.Attach(pd.PID, time.Unix(pd.StartUnix, 0))
	if err := s.term.Terminate(h); err != nil {
		metrics.IncWorkerTermination(s.term.Name(), "error")
		return fmt.Errorf("%w: stale pid %d: %w", ErrTerminationFailure, pd.PID, err)
	}
	metrics.IncWorkerTermination(s.term.Name(), "ok")
	s.history.Record(history.Event{Type: history.EventWorkerStop, Subject: s.cfg.Binary, PID: pd.PID, Detail: "stale"})
	process.RemovePIDFile(s.cfg.PIDFile)
	return nil
}

// Exited returns a channel closed when the current worker exits, or nil
// when the slot is empty.
func (s *Supervisor) Exited() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slot == nil {
		return nil
	}
	return s.slot.Done()
}

// Status returns a snapshot of the slot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Restarts: s.restarts, Terminator: s.term.Name()}
	if s.slot != nil {
		st.PID = s.slot.PID()
		st.Path = s.path
		st.StartedAt = s.slot.StartedAt()
		st.Running = !s.slot.Exited()
	}
	return st
}

func (s *Supervisor) clearLocked() {
	s.slot = nil
	s.path = ""
	process.RemovePIDFile(s.cfg.PIDFile)
	metrics.SetWorkerRunning(false)
}

func exitDetail(h process.Handle) string {
	if err := h.Wait(); err != nil {
		return err.Error()
	}
	return "exit status 0"
}
