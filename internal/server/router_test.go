package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/loykin/naidesk/internal/history"
	"github.com/loykin/naidesk/internal/overlay"
	"github.com/loykin/naidesk/internal/remote"
	"github.com/loykin/naidesk/internal/sidecar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTagger struct {
	mu        sync.Mutex
	path      string
	startErr  error
	termErr   error
	running   bool
	starts    int
	terminate int
}

func (s *stubTagger) Locate() (string, bool) { return s.path, s.path != "" }

func (s *stubTagger) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	s.running = true
	return nil
}

func (s *stubTagger) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminate++
	s.running = false
	return s.termErr
}

func (s *stubTagger) Status() sidecar.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sidecar.Status{Running: s.running, PID: 4242, Terminator: "direct"}
}

type stubRemote struct{ lastToken string }

func (s *stubRemote) VerifyToken(_ context.Context, token string) remote.VerifyTokenResult {
	s.lastToken = token
	if token != "good" {
		return remote.VerifyTokenResult{Error: "invalid API token"}
	}
	return remote.VerifyTokenResult{Valid: true, Tier: "opus"}
}

func (s *stubRemote) Balance(context.Context, string) remote.BalanceResult {
	fixed, purchased := int64(10000), int64(500)
	return remote.BalanceResult{Success: true, Fixed: &fixed, Purchased: &purchased}
}

func (s *stubRemote) Upscale(_ context.Context, token string, r remote.UpscaleRequest) remote.ImageResult {
	return remote.ImageResult{Success: true, ImageData: fmt.Sprintf("%s:%dx%d@%d", token, r.Width, r.Height, r.Scale)}
}

func (s *stubRemote) RemoveBackground(_ context.Context, img string) remote.ImageResult {
	return remote.ImageResult{Success: true, ImageData: "data:image/png;base64," + img}
}

type stubHistory struct {
	events []history.Event
	err    error
}

func (s stubHistory) Recent(_ context.Context, limit int) ([]history.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.events) {
		return s.events[:limit], nil
	}
	return s.events, nil
}

type fixture struct {
	h      http.Handler
	tagger *stubTagger
	host   *overlay.HeadlessHost
	remote *stubRemote
}

func setup(t *testing.T, base string, opts ...Option) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := fixture{
		tagger: &stubTagger{path: "/opt/naidesk/tagger-server"},
		host:   overlay.NewHeadlessHost(),
		remote: &stubRemote{},
	}
	ov := overlay.NewManager(f.host)
	opts = append([]Option{WithBasePath(base), WithRemote(f.remote)}, opts...)
	f.h = NewRouter(f.tagger, ov, opts...).Handler()
	return f
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			rdr = strings.NewReader(s)
		} else {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			rdr = bytes.NewReader(b)
		}
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestTaggerEndpoints(t *testing.T) {
	f := setup(t, "/api")

	rec := doReq(t, f.h, http.MethodGet, "/api/tagger/available", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"available":true,"path":"/opt/naidesk/tagger-server"}`, rec.Body.String())

	rec = doReq(t, f.h, http.MethodPost, "/api/tagger/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	st := decode[sidecar.Status](t, doReq(t, f.h, http.MethodGet, "/api/tagger/status", nil))
	assert.True(t, st.Running)
	assert.Equal(t, 4242, st.PID)

	rec = doReq(t, f.h, http.MethodPost, "/api/tagger/terminate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.tagger.terminate)
}

func TestTaggerUnavailable(t *testing.T) {
	f := setup(t, "")
	f.tagger.path = ""
	f.tagger.startErr = fmt.Errorf("%w (looked in: a, b)", sidecar.ErrWorkerNotFound)

	rec := doReq(t, f.h, http.MethodGet, "/tagger/available", nil)
	assert.JSONEq(t, `{"available":false}`, rec.Body.String())

	rec = doReq(t, f.h, http.MethodPost, "/tagger/start", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[errorResp](t, rec).Error, "looked in")
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", sidecar.ErrWorkerNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", overlay.ErrInvalidURL), http.StatusBadRequest},
		{sidecar.ErrShuttingDown, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: x", sidecar.ErrSpawnFailure), http.StatusInternalServerError},
		{fmt.Errorf("%w: x", sidecar.ErrTerminationFailure), http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), c.err.Error())
	}
}

func TestTerminateFailureIs500(t *testing.T) {
	f := setup(t, "")
	f.tagger.termErr = fmt.Errorf("%w: access denied", sidecar.ErrTerminationFailure)
	rec := doReq(t, f.h, http.MethodPost, "/tagger/terminate", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOverlayLifecycle(t *testing.T) {
	f := setup(t, "/api")

	state := func() bool {
		return decode[struct {
			Open bool `json:"open"`
		}](t, doReq(t, f.h, http.MethodGet, "/api/overlay/state", nil)).Open
	}
	assert.False(t, state())

	rec := doReq(t, f.h, http.MethodPost, "/api/overlay/open",
		map[string]any{"url": "https://novelai.net/image", "x": 10, "y": 20, "width": 800, "height": 600})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, state())

	s, ok := f.host.State(overlay.DefaultLabel)
	require.True(t, ok)
	assert.Equal(t, overlay.Rect{X: 10, Y: 20, Width: 800, Height: 600}, s.Rect)

	rec = doReq(t, f.h, http.MethodPost, "/api/overlay/navigate", map[string]any{"url": "https://novelai.net/stories"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doReq(t, f.h, http.MethodPost, "/api/overlay/reposition", overlay.Rect{X: 1, Y: 2, Width: 300, Height: 200})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doReq(t, f.h, http.MethodPost, "/api/overlay/hide", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	s, _ = f.host.State(overlay.DefaultLabel)
	assert.Equal(t, "https://novelai.net/stories", s.URL)
	assert.Equal(t, overlay.Rect{X: 1, Y: 2, Width: 300, Height: 200}, s.Rect)
	assert.False(t, s.Visible)
	assert.True(t, state(), "hidden is still open")

	rec = doReq(t, f.h, http.MethodPost, "/api/overlay/show", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doReq(t, f.h, http.MethodPost, "/api/overlay/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, state())

	// closing again is a no-op
	rec = doReq(t, f.h, http.MethodPost, "/api/overlay/close", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOverlayStateReportsSurface(t *testing.T) {
	gin.SetMode(gin.TestMode)
	host := overlay.NewHeadlessHost()
	h := NewRouter(&stubTagger{}, overlay.NewManager(host), WithSurfaceReporter(host)).Handler()

	rec := doReq(t, h, http.MethodGet, "/overlay/state", nil)
	assert.JSONEq(t, `{"open":false,"label":"embedded_browser"}`, rec.Body.String())

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/overlay/open",
		map[string]any{"url": "https://novelai.net", "width": 320, "height": 240}).Code)
	st := decode[overlayState](t, doReq(t, h, http.MethodGet, "/overlay/state", nil))
	require.True(t, st.Open)
	require.NotNil(t, st.Surface)
	assert.Equal(t, "https://novelai.net", st.Surface.URL)
	assert.Equal(t, 320.0, st.Surface.Rect.Width)
}

func TestOverlayInvalidURL(t *testing.T) {
	f := setup(t, "")
	rec := doReq(t, f.h, http.MethodPost, "/overlay/open", map[string]any{"url": "not a url", "width": 1, "height": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.host.Count())
}

func TestOverlayBadJSON(t *testing.T) {
	f := setup(t, "")
	rec := doReq(t, f.h, http.MethodPost, "/overlay/open", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResp](t, rec).Error, "invalid JSON")
}

func TestRemoteEndpoints(t *testing.T) {
	f := setup(t, "/api")

	v := decode[remote.VerifyTokenResult](t, doReq(t, f.h, http.MethodPost, "/api/remote/verify-token", map[string]string{"token": "good"}))
	assert.True(t, v.Valid)
	assert.Equal(t, "opus", v.Tier)

	rec := doReq(t, f.h, http.MethodPost, "/api/remote/verify-token", map[string]string{"token": "bad"})
	assert.Equal(t, http.StatusOK, rec.Code, "remote failures travel in the body")
	assert.False(t, decode[remote.VerifyTokenResult](t, rec).Valid)

	b := decode[remote.BalanceResult](t, doReq(t, f.h, http.MethodPost, "/api/remote/balance", map[string]string{"token": "good"}))
	require.NotNil(t, b.Fixed)
	assert.EqualValues(t, 10000, *b.Fixed)

	u := decode[remote.ImageResult](t, doReq(t, f.h, http.MethodPost, "/api/remote/upscale",
		map[string]any{"token": "tok", "image": "aW1n", "width": 512, "height": 768, "scale": 4}))
	assert.Equal(t, "tok:512x768@4", u.ImageData)

	bg := decode[remote.ImageResult](t, doReq(t, f.h, http.MethodPost, "/api/remote/remove-background", map[string]string{"image": "aW1n"}))
	assert.Equal(t, "data:image/png;base64,aW1n", bg.ImageData)
}

func TestRemoteDisabledWithoutClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRouter(&stubTagger{}, overlay.NewManager(overlay.NewHeadlessHost())).Handler()
	rec := doReq(t, h, http.MethodPost, "/remote/verify-token", map[string]string{"token": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	events := []history.Event{
		{Type: history.EventWorkerStart, Subject: "tagger-server", PID: 1},
		{Type: history.EventWorkerStop, Subject: "tagger-server", PID: 1},
	}
	f := setup(t, "", WithHistory(stubHistory{events: events}))

	got := decode[[]history.Event](t, doReq(t, f.h, http.MethodGet, "/history?limit=1", nil))
	require.Len(t, got, 1)
	assert.Equal(t, history.EventWorkerStart, got[0].Type)

	rec := doReq(t, f.h, http.MethodGet, "/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f = setup(t, "", WithHistory(stubHistory{err: errors.New("db closed")}))
	rec = doReq(t, f.h, http.MethodGet, "/history", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	f = setup(t, "", WithHistory(stubHistory{}))
	rec = doReq(t, f.h, http.MethodGet, "/history", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	f := setup(t, "/api", WithMetrics(true))
	rec := doReq(t, f.h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f = setup(t, "/api")
	rec = doReq(t, f.h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
