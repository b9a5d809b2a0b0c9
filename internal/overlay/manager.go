package overlay

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/naidesk/internal/history"
	"github.com/loykin/naidesk/internal/metrics"
)

// Manager owns the one labelled surface. Every operation holds mu for its
// whole duration, so an open can never interleave with a close.
// Operations on a surface that does not exist succeed without effect.
type Manager struct {
	host     Host
	label    string
	registry *Registry
	log      *slog.Logger
	history  *history.Recorder

	mu sync.Mutex
}

type Option func(*Manager)

func WithLabel(label string) Option          { return func(m *Manager) { m.label = label } }
func WithRegistry(r *Registry) Option        { return func(m *Manager) { m.registry = r } }
func WithLogger(l *slog.Logger) Option       { return func(m *Manager) { m.log = l } }
func WithHistory(r *history.Recorder) Option { return func(m *Manager) { m.history = r } }

func NewManager(host Host, opts ...Option) *Manager {
	m := &Manager{host: host, label: DefaultLabel, log: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	if m.label == "" {
		m.label = DefaultLabel
	}
	if m.registry == nil {
		m.registry = NewRegistry()
	}
	m.log = m.log.With("component", "overlay", "label", m.label)
	return m
}

func (m *Manager) Label() string { return m.label }

// Open replaces any existing surface with a new one at r showing rawURL.
func (m *Manager) Open(rawURL string, r Rect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.closeLocked(); err != nil {
		m.log.Warn("ignoring failure to close previous surface", "error", err)
	}
	u, err := ParseURL(rawURL)
	if err != nil {
		metrics.IncOverlayOp("open", "error")
		return fmt.Errorf("%w: %q", err, rawURL)
	}
	if _, err := m.host.CreateSurface(m.label, u, r); err != nil {
		metrics.IncOverlayOp("open", "error")
		return fmt.Errorf("%w: %w", ErrSurfaceCreation, err)
	}
	m.registry.Set(m.label, true)
	metrics.IncOverlayOp("open", "ok")
	metrics.SetOverlayOpen(true)
	m.history.Record(history.Event{Type: history.EventOverlayOpen, Subject: m.label, Detail: u.String()})
	m.log.Debug("surface opened", "url", u.String(), "x", r.X, "y", r.Y, "width", r.Width, "height", r.Height)
	return nil
}

// Close destroys the surface if it exists.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	s, ok := m.host.Surface(m.label)
	if !ok {
		m.registry.Set(m.label, false)
		metrics.IncOverlayOp("close", "noop")
		return nil
	}
	if err := s.Close(); err != nil {
		metrics.IncOverlayOp("close", "error")
		return fmt.Errorf("%w: %w", ErrSurfaceClose, err)
	}
	m.registry.Set(m.label, false)
	metrics.IncOverlayOp("close", "ok")
	metrics.SetOverlayOpen(false)
	m.history.Record(history.Event{Type: history.EventOverlayClose, Subject: m.label})
	return nil
}

// Navigate loads rawURL into the existing surface, keeping its history.
func (m *Manager) Navigate(rawURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.host.Surface(m.label)
	if !ok {
		metrics.IncOverlayOp("navigate", "noop")
		return nil
	}
	u, err := ParseURL(rawURL)
	if err != nil {
		metrics.IncOverlayOp("navigate", "error")
		return fmt.Errorf("%w: %q", err, rawURL)
	}
	if err := s.Navigate(u); err != nil {
		metrics.IncOverlayOp("navigate", "error")
		return fmt.Errorf("%w: %w", ErrSurfaceNavigation, err)
	}
	metrics.IncOverlayOp("navigate", "ok")
	return nil
}

// Reposition moves then resizes the surface. The first failure stops it.
func (m *Manager) Reposition(r Rect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.host.Surface(m.label)
	if !ok {
		metrics.IncOverlayOp("reposition", "noop")
		return nil
	}
	if err := s.SetPosition(r.X, r.Y); err != nil {
		metrics.IncOverlayOp("reposition", "error")
		return fmt.Errorf("%w: position: %w", ErrSurfacePosition, err)
	}
	if err := s.SetSize(r.Width, r.Height); err != nil {
		metrics.IncOverlayOp("reposition", "error")
		return fmt.Errorf("%w: size: %w", ErrSurfacePosition, err)
	}
	metrics.IncOverlayOp("reposition", "ok")
	return nil
}

// SetVisible shows or hides the surface without destroying it.
func (m *Manager) SetVisible(visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op := "hide"
	if visible {
		op = "show"
	}
	s, ok := m.host.Surface(m.label)
	if !ok {
		metrics.IncOverlayOp(op, "noop")
		return nil
	}
	var err error
	if visible {
		err = s.Show()
	} else {
		err = s.Hide()
	}
	if err != nil {
		metrics.IncOverlayOp(op, "error")
		return fmt.Errorf("%w: %s: %w", ErrSurfaceVisibility, op, err)
	}
	metrics.IncOverlayOp(op, "ok")
	return nil
}

// IsOpen asks the host. A registry entry that disagrees is corrected.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.host.Surface(m.label)
	if cached := m.registry.IsOpen(m.label); cached != ok {
		m.log.Debug("overlay registry was stale", "cached", cached, "host", ok)
		m.registry.Set(m.label, ok)
		metrics.SetOverlayOpen(ok)
	}
	return ok
}
