package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/naidesk/internal/history"
	"github.com/loykin/naidesk/internal/metrics"
	"github.com/loykin/naidesk/internal/overlay"
	"github.com/loykin/naidesk/internal/remote"
	"github.com/loykin/naidesk/internal/sidecar"
)

// Router exposes the desktop backend commands to the UI layer over HTTP.
// Endpoints (relative to basePath):
//
//	GET  /tagger/available        worker executable present?
//	GET  /tagger/status
//	POST /tagger/start
//	POST /tagger/terminate
//	GET  /overlay/state           open flag, plus surface state when reported
//	POST /overlay/open            body: {url, x, y, width, height}
//	POST /overlay/close
//	POST /overlay/navigate        body: {url}
//	POST /overlay/reposition      body: {x, y, width, height}
//	POST /overlay/show
//	POST /overlay/hide
//	POST /remote/verify-token     body: {token}
//	POST /remote/balance          body: {token}
//	POST /remote/upscale          body: {token, image, width, height, scale}
//	POST /remote/remove-background body: {image}
//	GET  /history?limit=N         only when a history reader is configured
//
// /metrics is served at the root when enabled.
type Router struct {
	tagger   Tagger
	overlay  Overlay
	remote   Remote
	history  HistoryReader
	surfaces SurfaceReporter
	basePath string
	metrics  bool
}

// Tagger is the worker supervisor as seen by the API.
type Tagger interface {
	Locate() (string, bool)
	Start() error
	Terminate() error
	Status() sidecar.Status
}

// Overlay is the embedded browser manager as seen by the API.
type Overlay interface {
	Open(rawURL string, r overlay.Rect) error
	Close() error
	Navigate(rawURL string) error
	Reposition(r overlay.Rect) error
	SetVisible(visible bool) error
	IsOpen() bool
	Label() string
}

// Remote is the third-party service client as seen by the API.
type Remote interface {
	VerifyToken(ctx context.Context, token string) remote.VerifyTokenResult
	Balance(ctx context.Context, token string) remote.BalanceResult
	Upscale(ctx context.Context, token string, r remote.UpscaleRequest) remote.ImageResult
	RemoveBackground(ctx context.Context, imageBase64 string) remote.ImageResult
}

// SurfaceReporter exposes a host's view of a surface, for hosts that keep
// no native window and let the UI render from reported state.
type SurfaceReporter interface {
	State(label string) (overlay.SurfaceState, bool)
}

// HistoryReader lists recent lifecycle events.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

type Option func(*Router)

func WithBasePath(bp string) Option      { return func(r *Router) { r.basePath = sanitizeBase(bp) } }
func WithRemote(c Remote) Option         { return func(r *Router) { r.remote = c } }
func WithHistory(h HistoryReader) Option { return func(r *Router) { r.history = h } }
func WithMetrics(enabled bool) Option    { return func(r *Router) { r.metrics = enabled } }

func WithSurfaceReporter(s SurfaceReporter) Option { return func(r *Router) { r.surfaces = s } }

// NewRouter constructs a Router. tagger and overlay are required.
func NewRouter(tagger Tagger, ov Overlay, opts ...Option) *Router {
	r := &Router{tagger: tagger, overlay: ov}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	api := g.Group(r.basePath)

	t := api.Group("/tagger")
	t.GET("/available", r.handleTaggerAvailable)
	t.GET("/status", r.handleTaggerStatus)
	t.POST("/start", r.handleTaggerStart)
	t.POST("/terminate", r.handleTaggerTerminate)

	o := api.Group("/overlay")
	o.GET("/state", r.handleOverlayState)
	o.POST("/open", r.handleOverlayOpen)
	o.POST("/close", r.handleOverlayClose)
	o.POST("/navigate", r.handleOverlayNavigate)
	o.POST("/reposition", r.handleOverlayReposition)
	o.POST("/show", r.handleOverlayVisibility(true))
	o.POST("/hide", r.handleOverlayVisibility(false))

	if r.remote != nil {
		rm := api.Group("/remote")
		rm.POST("/verify-token", r.handleVerifyToken)
		rm.POST("/balance", r.handleBalance)
		rm.POST("/upscale", r.handleUpscale)
		rm.POST("/remove-background", r.handleRemoveBackground)
	}
	if r.history != nil {
		api.GET("/history", r.handleHistory)
	}
	return g
}

// NewServer builds an http.Server for addr using this router; the caller
// runs ListenAndServe and Shutdown.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// remote calls (upscale) can be slow
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, overlay.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, sidecar.ErrWorkerNotFound):
		return http.StatusNotFound
	case errors.Is(err, sidecar.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(c *gin.Context, err error) {
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleTaggerAvailable(c *gin.Context) {
	path, ok := r.tagger.Locate()
	writeJSON(c, http.StatusOK, struct {
		Available bool   `json:"available"`
		Path      string `json:"path,omitempty"`
	}{ok, path})
}

func (r *Router) handleTaggerStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.tagger.Status())
}

func (r *Router) handleTaggerStart(c *gin.Context) { writeResult(c, r.tagger.Start()) }

func (r *Router) handleTaggerTerminate(c *gin.Context) { writeResult(c, r.tagger.Terminate()) }

type openReq struct {
	URL string `json:"url"`
	overlay.Rect
}

type navigateReq struct {
	URL string `json:"url"`
}

type overlayState struct {
	Open    bool                  `json:"open"`
	Label   string                `json:"label"`
	Surface *overlay.SurfaceState `json:"surface,omitempty"`
}

func (r *Router) handleOverlayState(c *gin.Context) {
	st := overlayState{Open: r.overlay.IsOpen(), Label: r.overlay.Label()}
	if st.Open && r.surfaces != nil {
		if s, ok := r.surfaces.State(st.Label); ok {
			st.Surface = &s
		}
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleOverlayOpen(c *gin.Context) {
	var req openReq
	if !bindJSON(c, &req) {
		return
	}
	writeResult(c, r.overlay.Open(req.URL, req.Rect))
}

func (r *Router) handleOverlayClose(c *gin.Context) { writeResult(c, r.overlay.Close()) }

func (r *Router) handleOverlayNavigate(c *gin.Context) {
	var req navigateReq
	if !bindJSON(c, &req) {
		return
	}
	writeResult(c, r.overlay.Navigate(req.URL))
}

func (r *Router) handleOverlayReposition(c *gin.Context) {
	var req overlay.Rect
	if !bindJSON(c, &req) {
		return
	}
	writeResult(c, r.overlay.Reposition(req))
}

func (r *Router) handleOverlayVisibility(visible bool) gin.HandlerFunc {
	return func(c *gin.Context) { writeResult(c, r.overlay.SetVisible(visible)) }
}

type tokenReq struct {
	Token string `json:"token"`
}

type upscaleReq struct {
	Token string `json:"token"`
	remote.UpscaleRequest
}

type removeBackgroundReq struct {
	Image string `json:"image"`
}

// Remote results always answer 200; success and error travel in the body.
func (r *Router) handleVerifyToken(c *gin.Context) {
	var req tokenReq
	if !bindJSON(c, &req) {
		return
	}
	writeJSON(c, http.StatusOK, r.remote.VerifyToken(c.Request.Context(), req.Token))
}

func (r *Router) handleBalance(c *gin.Context) {
	var req tokenReq
	if !bindJSON(c, &req) {
		return
	}
	writeJSON(c, http.StatusOK, r.remote.Balance(c.Request.Context(), req.Token))
}

func (r *Router) handleUpscale(c *gin.Context) {
	var req upscaleReq
	if !bindJSON(c, &req) {
		return
	}
	writeJSON(c, http.StatusOK, r.remote.Upscale(c.Request.Context(), req.Token, req.UpscaleRequest))
}

func (r *Router) handleRemoveBackground(c *gin.Context) {
	var req removeBackgroundReq
	if !bindJSON(c, &req) {
		return
	}
	writeJSON(c, http.StatusOK, r.remote.RemoveBackground(c.Request.Context(), req.Image))
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := r.history.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}
