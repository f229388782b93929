// Package httpapi implements the HTTP surface: request parsing, response
// construction (streamed file or reverse-proxy handoff), and the auxiliary
// endpoints (type listing, test page, metrics).
package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/previewd/previewd/internal/backend"
	"github.com/previewd/previewd/internal/coordinator"
	"github.com/previewd/previewd/internal/httpapi/testpage"
	"github.com/previewd/previewd/internal/metrics"
	"github.com/previewd/previewd/internal/perr"
	"github.com/previewd/previewd/internal/plugin"
)

// Handler is previewd's top-level http.Handler.
type Handler struct {
	Coordinator *coordinator.Coordinator
	Registry    *backend.Registry
	Metrics     *metrics.Metrics

	DefaultFormat string
	DefaultWidth  int
	DefaultHeight int
	CacheControl  time.Duration
	XAccelRedirect string
	FileRoot       string
	StoreRoot      string

	Logger *slog.Logger

	pluginMux *http.ServeMux
}

// NewHandler builds a Handler and mounts any registered plugins on a
// "METHOD PATTERN" ServeMux, so plugin patterns get the full wildcard
// grammar ({param}, {rest...}) and plugins can read r.PathValue.
func NewHandler(coord *coordinator.Coordinator, registry *backend.Registry, m *metrics.Metrics, logger *slog.Logger) *Handler {
	h := &Handler{Coordinator: coord, Registry: registry, Metrics: m, Logger: logger}
	plugins := plugin.All()
	if len(plugins) > 0 {
		h.pluginMux = http.NewServeMux()
		for _, p := range plugins {
			h.pluginMux.HandleFunc(p.Method()+" "+p.Pattern(), func(w http.ResponseWriter, r *http.Request) {
				h.handlePlugin(w, r, p)
			})
		}
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if h.Logger != nil {
			h.Logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", elapsed)
		}
		if h.Metrics != nil {
			h.Metrics.ObserveRequest(r.URL.Path, r.Method, rec.status, elapsed)
		}
	}()

	if h.pluginMux != nil {
		if _, pattern := h.pluginMux.Handler(r); pattern != "" {
			h.pluginMux.ServeHTTP(rec, r)
			return
		}
	}

	switch {
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		h.handleInfo(rec, r)
	case r.URL.Path == "/test/" && r.Method == http.MethodGet:
		h.handleTestPage(rec, r)
	case r.URL.Path == "/metrics/" && r.Method == http.MethodGet:
		h.handleMetrics(rec, r)
	case r.URL.Path == "/preview/" && (r.Method == http.MethodGet || r.Method == http.MethodPost):
		h.handlePreview(rec, r)
	default:
		http.NotFound(rec, r)
	}
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "py"
	}
	if format != "py" && format != "js" {
		http.Error(w, "invalid format", http.StatusBadRequest)
		return
	}
	if err := writeListing(w, h.Registry, format); err != nil && h.Logger != nil {
		h.Logger.Warn("writing type listing failed", "err", err)
	}
}

func (h *Handler) handleTestPage(w http.ResponseWriter, r *http.Request) {
	data, err := testpage.FS.ReadFile("test.html")
	if err != nil {
		http.Error(w, "test page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		http.NotFound(w, r)
		return
	}
	h.Metrics.Handler().ServeHTTP(w, r)
}

// handlePlugin delegates input resolution to a registered path plugin
// instead of the built-in file source.
func (h *Handler) handlePlugin(w http.ResponseWriter, r *http.Request, p plugin.Plugin) {
	path, origin, err := p.Resolve(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return
	}

	params, err := h.parsePreviewParams(r, false)
	if err != nil {
		writeError(w, err)
		return
	}

	cp := coordinator.Params{
		ResolvedPath: path, ResolvedOrigin: origin,
		Format: params.format, Width: params.width, Height: params.height,
		Pages: params.pages, Name: params.name, Store: coordinator.StoreOptFromHeader(r),
	}
	h.runPreview(w, r, cp)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	params, err := h.parsePreviewParams(r, true)
	if err != nil {
		writeError(w, err)
		return
	}

	cp := coordinator.Params{
		Format: params.format, Width: params.width, Height: params.height,
		Pages: params.pages, Name: params.name, Store: coordinator.StoreOptFromHeader(r),
	}

	switch {
	case params.path != "":
		cp.Path = params.path
	case params.upload != nil:
		cp.Upload = params.upload
	case params.url != "":
		cp.URL = params.url
	default:
		writeError(w, perr.BadInput("exactly one of path, file, or url is required", nil))
		return
	}

	h.runPreview(w, r, cp)
}

func (h *Handler) runPreview(w http.ResponseWriter, r *http.Request, cp coordinator.Params) {
	result, err := h.Coordinator.Handle(r.Context(), cp)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeResult(w, result)
}

// writeResult streams the artifact, or responds empty with
// X-Accel-Redirect when the artifact is already store-resident and offload
// is configured.
func (h *Handler) writeResult(w http.ResponseWriter, result *coordinator.Result) {
	req := result.Req
	dst := req.Dst()
	if dst == nil {
		writeError(w, perr.Internal("no artifact produced", nil))
		return
	}

	w.Header().Set("Content-Type", req.ContentType())

	if h.XAccelRedirect != "" && !dst.IsTemp() && !result.Fallback {
		suffix := storeSuffix(dst.Path(), h.StoreRoot)
		w.Header().Set("X-Accel-Redirect", h.XAccelRedirect+"/"+suffix)
		h.setCacheControl(w)
		w.WriteHeader(http.StatusOK)
		req.Cleanup() // dst is store-owned; this only drops a temp src
		return
	}

	f, err := os.Open(dst.Path())
	if err != nil {
		writeError(w, perr.Internal("opening artifact", err))
		return
	}
	defer f.Close()
	defer req.Cleanup()

	if !result.Fallback {
		h.setCacheControl(w)
	}
	if _, err := io.Copy(w, f); err != nil && h.Logger != nil {
		h.Logger.Warn("streaming artifact failed", "err", err)
	}
}

func (h *Handler) setCacheControl(w http.ResponseWriter) {
	if h.CacheControl <= 0 {
		return
	}
	maxAge := int(h.CacheControl.Seconds())
	w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(maxAge)+", public")
}

func storeSuffix(path, storeRoot string) string {
	if storeRoot == "" {
		return path
	}
	rel, err := filepath.Rel(storeRoot, path)
	if err != nil {
		return path
	}
	return rel
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), perr.KindOf(err).HTTPStatus())
}

// statusRecorder wraps http.ResponseWriter to capture the status code for
// logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
