// Package opensearch ships lifecycle events to an OpenSearch (or
// Elasticsearch) index over its document API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/naidesk/internal/history"
)

// DefaultIndex is used when no index is configured.
const DefaultIndex = "naidesk-lifecycle"

// Sink writes each event as one document to baseURL/index/_doc. Events with
// an ID are PUT under it, so a retried send overwrites instead of duplicating.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	if strings.TrimSpace(index) == "" {
		index = DefaultIndex
	}
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		index:   index,
	}
}

func (s *Sink) docURL() string { return fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index) }

func (s *Sink) target(e history.Event) (method, u string) {
	if e.ID == "" {
		return http.MethodPost, s.docURL()
	}
	return http.MethodPut, s.docURL() + "/" + url.PathEscape(e.ID)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	method, u := s.target(e)
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
