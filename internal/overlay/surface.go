// Package overlay manages the single embedded browser surface composited into
// the host window.
package overlay

import (
	"errors"
	"net/url"
	"strings"
)

// DefaultLabel identifies the embedded browser surface in the host window.
const DefaultLabel = "embedded_browser"

var (
	ErrInvalidURL            = errors.New("invalid URL")
	ErrSurfaceCreation       = errors.New("failed to create embedded surface")
	ErrSurfaceClose          = errors.New("failed to close embedded surface")
	ErrSurfaceNavigation     = errors.New("failed to navigate embedded surface")
	ErrSurfacePosition       = errors.New("failed to reposition embedded surface")
	ErrSurfaceVisibility     = errors.New("failed to change embedded surface visibility")
	ErrDuplicateSurfaceLabel = errors.New("surface label already in use")
)

// Rect is a rectangle in logical (DPI independent) window coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Surface is a live content surface inside the host window.
type Surface interface {
	Label() string
	Navigate(u *url.URL) error
	SetPosition(x, y float64) error
	SetSize(width, height float64) error
	Show() error
	Hide() error
	Close() error
}

// Host is the window that owns surfaces. Its surface table is the source of
// truth for whether a surface exists.
type Host interface {
	CreateSurface(label string, u *url.URL, r Rect) (Surface, error)
	Surface(label string) (Surface, bool)
}

// ParseURL validates a navigation target. It must be absolute; http and
// https targets must name a host.
func ParseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}
	if !u.IsAbs() {
		return nil, ErrInvalidURL
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return nil, ErrInvalidURL
		}
	}
	return u, nil
}
