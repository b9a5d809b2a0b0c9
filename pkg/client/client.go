// Package client talks to a running naidesk command API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned when the API answers 404, e.g. the tagger worker
// executable is missing.
var ErrNotFound = errors.New("not found")

// Client provides HTTP client functionality to communicate with a naidesk backend
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8001/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new naidesk API client
func New(config Config) *Client {
	d := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = d.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = d.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the backend is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	var st OverlayState
	err := c.do(ctx, http.MethodGet, "/overlay/state", &st)
	if err != nil {
		c.logger.Debug("Backend unreachable", "error", err)
		return false
	}
	return true
}

func (c *Client) TaggerAvailable(ctx context.Context) (TaggerAvailability, error) {
	var out TaggerAvailability
	return out, c.do(ctx, http.MethodGet, "/tagger/available", &out)
}

func (c *Client) TaggerStatus(ctx context.Context) (TaggerStatus, error) {
	var out TaggerStatus
	return out, c.do(ctx, http.MethodGet, "/tagger/status", &out)
}

// StartTagger asks the backend to start the worker; a running worker is left alone.
func (c *Client) StartTagger(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/tagger/start", nil)
}

func (c *Client) TerminateTagger(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/tagger/terminate", nil)
}

func (c *Client) OverlayState(ctx context.Context) (OverlayState, error) {
	var out OverlayState
	return out, c.do(ctx, http.MethodGet, "/overlay/state", &out)
}

func (c *Client) CloseOverlay(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/overlay/close", nil)
}

// do performs the request and decodes a 200 body into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errorResp.Error)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
