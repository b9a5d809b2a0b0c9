package client

import "time"

// TaggerStatus mirrors GET /tagger/status.
type TaggerStatus struct {
	Running    bool      `json:"running"`
	PID        int       `json:"pid,omitempty"`
	Path       string    `json:"path,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Restarts   int       `json:"restarts"`
	Terminator string    `json:"terminator"`
}

// TaggerAvailability mirrors GET /tagger/available.
type TaggerAvailability struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
}

// OverlayState mirrors GET /overlay/state.
type OverlayState struct {
	Open  bool   `json:"open"`
	Label string `json:"label"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
