package overlay

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
)

// ErrSurfaceClosed is returned by operations on a surface after Close.
var ErrSurfaceClosed = errors.New("surface closed")

// SurfaceState is what a HeadlessHost knows about one surface.
type SurfaceState struct {
	Label   string   `json:"label"`
	URL     string   `json:"url"`
	History []string `json:"history"`
	Rect    Rect     `json:"rect"`
	Visible bool     `json:"visible"`
}

// HeadlessHost is a Host that keeps surfaces in memory. It backs the serve
// command when no native window is attached, where the UI renders from the
// state it reports, and it backs tests.
type HeadlessHost struct {
	mu       sync.Mutex
	surfaces map[string]*headlessSurface
}

func NewHeadlessHost() *HeadlessHost {
	return &HeadlessHost{surfaces: make(map[string]*headlessSurface)}
}

func (h *HeadlessHost) CreateSurface(label string, u *url.URL, r Rect) (Surface, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.surfaces[label]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSurfaceLabel, label)
	}
	s := &headlessSurface{host: h, state: SurfaceState{
		Label:   label,
		URL:     u.String(),
		History: []string{u.String()},
		Rect:    r,
		Visible: true,
	}}
	h.surfaces[label] = s
	return s, nil
}

func (h *HeadlessHost) Surface(label string) (Surface, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.surfaces[label]
	if !ok {
		return nil, false
	}
	return s, true
}

// Count returns the number of live surfaces.
func (h *HeadlessHost) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.surfaces)
}

// State returns a copy of the named surface's state.
func (h *HeadlessHost) State(label string) (SurfaceState, bool) {
	h.mu.Lock()
	s, ok := h.surfaces[label]
	h.mu.Unlock()
	if !ok {
		return SurfaceState{}, false
	}
	return s.snapshot(), true
}

// Destroy removes a surface behind the manager's back, as a window close would.
func (h *HeadlessHost) Destroy(label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.surfaces[label]; ok {
		s.markClosed()
		delete(h.surfaces, label)
	}
}

type headlessSurface struct {
	host *HeadlessHost

	mu     sync.Mutex
	state  SurfaceState
	closed bool
}

func (s *headlessSurface) snapshot() SurfaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.History = append([]string(nil), s.state.History...)
	return st
}

func (s *headlessSurface) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *headlessSurface) update(fn func(st *SurfaceState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSurfaceClosed
	}
	fn(&s.state)
	return nil
}

func (s *headlessSurface) Label() string { return s.state.Label }

func (s *headlessSurface) Navigate(u *url.URL) error {
	return s.update(func(st *SurfaceState) {
		st.URL = u.String()
		st.History = append(st.History, st.URL)
	})
}

func (s *headlessSurface) SetPosition(x, y float64) error {
	return s.update(func(st *SurfaceState) { st.Rect.X, st.Rect.Y = x, y })
}

func (s *headlessSurface) SetSize(width, height float64) error {
	if width < 0 || height < 0 {
		return fmt.Errorf("negative size %vx%v", width, height)
	}
	return s.update(func(st *SurfaceState) { st.Rect.Width, st.Rect.Height = width, height })
}

func (s *headlessSurface) Show() error {
	return s.update(func(st *SurfaceState) { st.Visible = true })
}

func (s *headlessSurface) Hide() error {
	return s.update(func(st *SurfaceState) { st.Visible = false })
}

func (s *headlessSurface) Close() error {
	if err := s.update(func(*SurfaceState) {}); err != nil {
		return err
	}
	s.host.Destroy(s.state.Label)
	return nil
}
