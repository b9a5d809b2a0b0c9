// Package remote wraps the third-party HTTP services the desktop UI talks to:
// the NovelAI account and upscale endpoints and a background removal model.
// Every call returns a result value carrying its own error string; none of
// them return Go errors, so the UI can render any outcome directly.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/naidesk/internal/metrics"
)

const (
	DefaultNovelAIURL    = "https://api.novelai.net"
	DefaultBackgroundURL = "https://router.huggingface.co/hf-inference/models/briaai/RMBG-1.4"
	DefaultTimeout       = 60 * time.Second

	// MaxImageBytes caps every image read from a remote body or archive entry.
	// Upscaled 4x outputs of the largest NovelAI canvas stay well below it.
	MaxImageBytes = 64 << 20
	// maxJSONBytes caps account responses.
	maxJSONBytes = 1 << 20
)

var errTooLarge = errors.New("payload too large")

// Config holds client configuration
type Config struct {
	NovelAIURL    string        `toml:"novelai_url" mapstructure:"novelai_url"`
	BackgroundURL string        `toml:"background_url" mapstructure:"background_url"`
	Timeout       time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type Client struct {
	novelai    string
	background string
	http       *http.Client
	log        *slog.Logger
	maxBytes   int64
}

// New creates a client. Empty fields fall back to the public endpoints.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.NovelAIURL == "" {
		cfg.NovelAIURL = DefaultNovelAIURL
	}
	if cfg.BackgroundURL == "" {
		cfg.BackgroundURL = DefaultBackgroundURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		novelai:    strings.TrimRight(cfg.NovelAIURL, "/"),
		background: cfg.BackgroundURL,
		http:       &http.Client{Timeout: cfg.Timeout},
		log:        log.With("component", "remote"),
		maxBytes:   MaxImageBytes,
	}
}

// VerifyTokenResult reports whether a NovelAI API token is accepted.
type VerifyTokenResult struct {
	Valid bool   `json:"valid"`
	Tier  string `json:"tier,omitempty"`
	Error string `json:"error,omitempty"`
}

// BalanceResult carries the account's remaining Anlas.
type BalanceResult struct {
	Success   bool   `json:"success"`
	Fixed     *int64 `json:"fixed,omitempty"`
	Purchased *int64 `json:"purchased,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ImageResult carries a base64 image produced by a remote model.
type ImageResult struct {
	Success   bool   `json:"success"`
	ImageData string `json:"image_data,omitempty"`
	Error     string `json:"error,omitempty"`
}

type subscription struct {
	Tier              *int `json:"tier"`
	TrainingStepsLeft *struct {
		Fixed     *int64 `json:"fixedTrainingStepsLeft"`
		Purchased *int64 `json:"purchasedTrainingSteps"`
	} `json:"trainingStepsLeft"`
}

// TierName maps a NovelAI subscription tier number to its name.
func TierName(tier *int) string {
	if tier == nil {
		return "paper"
	}
	switch *tier {
	case 3:
		return "opus"
	case 2:
		return "scroll"
	case 1:
		return "tablet"
	default:
		return "paper"
	}
}

// VerifyToken checks token against the subscription endpoint.
func (c *Client) VerifyToken(ctx context.Context, token string) VerifyTokenResult {
	start := time.Now()
	sub, status, err := c.subscription(ctx, token)
	switch {
	case err != nil:
		c.observe("verify_token", "error", start)
		return VerifyTokenResult{Error: err.Error()}
	case status == http.StatusUnauthorized:
		c.observe("verify_token", "unauthorized", start)
		return VerifyTokenResult{Error: "invalid API token"}
	case !isSuccess(status):
		c.observe("verify_token", "error", start)
		return VerifyTokenResult{Error: fmt.Sprintf("API error: %d", status)}
	}
	c.observe("verify_token", "ok", start)
	return VerifyTokenResult{Valid: true, Tier: TierName(sub.Tier)}
}

// Balance reads the fixed and purchased Anlas of the account behind token.
func (c *Client) Balance(ctx context.Context, token string) BalanceResult {
	start := time.Now()
	sub, status, err := c.subscription(ctx, token)
	if err != nil {
		c.observe("balance", "error", start)
		return BalanceResult{Error: err.Error()}
	}
	if !isSuccess(status) {
		c.observe("balance", "error", start)
		return BalanceResult{Error: fmt.Sprintf("API error: %d", status)}
	}
	res := BalanceResult{Success: true}
	if sub.TrainingStepsLeft != nil {
		res.Fixed = sub.TrainingStepsLeft.Fixed
		res.Purchased = sub.TrainingStepsLeft.Purchased
	}
	c.observe("balance", "ok", start)
	return res
}

// subscription returns the decoded body only for a 2xx status. A non-2xx
// status is returned without error so callers can tell the cases apart.
func (c *Client) subscription(ctx context.Context, token string) (subscription, int, error) {
	var sub subscription
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.novelai+"/user/subscription", nil)
	if err != nil {
		return sub, 0, fmt.Errorf("network error: %w", err)
	}
	authorize(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("subscription request failed", "error", err)
		return sub, 0, fmt.Errorf("network error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if !isSuccess(resp.StatusCode) {
		return sub, resp.StatusCode, nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBytes)).Decode(&sub); err != nil {
		return sub, resp.StatusCode, fmt.Errorf("JSON decode error: %w", err)
	}
	return sub, resp.StatusCode, nil
}

func authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

// readCapped reads r fully, failing once more than limit bytes arrive.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", errTooLarge, limit)
	}
	return b, nil
}

// apiError renders a non-2xx response including its body.
func apiError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Sprintf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *Client) post(ctx context.Context, url, contentType string, body []byte, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		authorize(req, token)
	}
	return c.http.Do(req)
}

func (c *Client) observe(endpoint, result string, start time.Time) {
	metrics.ObserveRemote(endpoint, result, time.Since(start).Seconds())
	if result != "ok" {
		c.log.Warn("remote request failed", "endpoint", endpoint, "result", result)
	}
}
