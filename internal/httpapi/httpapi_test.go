package httpapi

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/previewd/previewd/internal/backend"
	"github.com/previewd/previewd/internal/coordinator"
	"github.com/previewd/previewd/internal/icons"
	"github.com/previewd/previewd/internal/pathref"
	"github.com/previewd/previewd/internal/plugin"
	"github.com/previewd/previewd/internal/request"
	"github.com/previewd/previewd/internal/source"
	"github.com/previewd/previewd/internal/store"
	"github.com/previewd/previewd/internal/workpool"
)

// --- test doubles ---

// fakeBackend produces a fixed GIF artifact for "bin" inputs.
type fakeBackend struct {
	calls int
}

func (f *fakeBackend) Name() string              { return "fake" }
func (f *fakeBackend) Extensions() []string      { return []string{"bin", "docx"} }
func (f *fakeBackend) Formats() []request.Format {
	return []request.Format{request.FormatImage, request.FormatPDF}
}
func (f *fakeBackend) Preview(_ context.Context, req *request.Request) error {
	f.calls++
	tmp, err := os.CreateTemp("", "fake-artifact-*.gif")
	if err != nil {
		return err
	}
	tmp.WriteString("GIF89a-fake")
	tmp.Close()
	req.SetDst(pathref.NewTemp(tmp.Name()))
	return nil
}

// --- fixtures ---

func newTestHandler(t *testing.T, storeBase string) (*Handler, *fakeBackend) {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "sample.bin"), []byte("input"), 0o644); err != nil {
		t.Fatal(err)
	}

	be := &fakeBackend{}
	registry := backend.NewRegistry(be)
	coord := &coordinator.Coordinator{
		Source:    source.New(root, 0, nil),
		Store:     store.New(storeBase, nil),
		Icons:     icons.New("", "", false, nil, nil),
		Registry:  registry,
		Pool:      workpool.New(0),
		MaxWidth:  800,
		MaxHeight: 600,
	}

	h := NewHandler(coord, registry, nil, nil)
	h.DefaultFormat = "image"
	h.DefaultWidth = 320
	h.DefaultHeight = 240
	h.StoreRoot = storeBase
	return h, be
}

func do(h *Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- tests ---

func TestPreviewByPath(t *testing.T) {
	h, _ := newTestHandler(t, "")

	rec := do(h, http.MethodGet, "/preview/?path=sample.bin&format=image")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Body.String() != "GIF89a-fake" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestPreviewDefaultsApplied(t *testing.T) {
	h, _ := newTestHandler(t, "")

	// No format/width/height: the configured defaults kick in.
	rec := do(h, http.MethodGet, "/preview/?path=sample.bin")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Fatalf("content type = %q, default format should be image", ct)
	}
}

func TestPreviewParamErrors(t *testing.T) {
	h, _ := newTestHandler(t, "")

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"no input", "/preview/", http.StatusBadRequest},
		{"two inputs", "/preview/?path=a.bin&url=http://x/y.bin", http.StatusBadRequest},
		{"bad format", "/preview/?path=sample.bin&format=tiff", http.StatusBadRequest},
		{"bad pages", "/preview/?path=sample.bin&pages=1_3", http.StatusBadRequest},
		{"bad width", "/preview/?path=sample.bin&width=banana", http.StatusBadRequest},
		{"zero width", "/preview/?path=sample.bin&width=0", http.StatusBadRequest},
		{"missing file", "/preview/?path=nope.bin", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodGet, tt.target)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestPreviewUpload(t *testing.T) {
	h, _ := newTestHandler(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "report.docx")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("office bytes"))
	mw.WriteField("format", "pdf")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/preview/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestPreviewStoreDisabledHeader(t *testing.T) {
	storeBase := t.TempDir()
	h, be := newTestHandler(t, storeBase)

	req := httptest.NewRequest(http.MethodGet, "/preview/?path=sample.bin", nil)
	req.Header.Set("pvs-store-disabled", "1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// Nothing was stored, so the backend runs again for the same request.
	req2 := httptest.NewRequest(http.MethodGet, "/preview/?path=sample.bin", nil)
	req2.Header.Set("pvs-store-disabled", "1")
	h.ServeHTTP(httptest.NewRecorder(), req2)
	if be.calls != 2 {
		t.Fatalf("backend calls = %d, want 2 when storage is opted out", be.calls)
	}
}

func TestPreviewStoreHitSecondRequest(t *testing.T) {
	storeBase := t.TempDir()
	h, be := newTestHandler(t, storeBase)

	first := do(h, http.MethodGet, "/preview/?path=sample.bin")
	second := do(h, http.MethodGet, "/preview/?path=sample.bin")
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses = %d, %d", first.Code, second.Code)
	}
	if be.calls != 1 {
		t.Fatalf("backend calls = %d, want 1 (second request hits the store)", be.calls)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatal("hit must serve byte-identical content")
	}
}

func TestPreviewXAccelRedirect(t *testing.T) {
	storeBase := t.TempDir()
	h, _ := newTestHandler(t, storeBase)
	h.XAccelRedirect = "/protected/previews"

	rec := do(h, http.MethodGet, "/preview/?path=sample.bin")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	accel := rec.Header().Get("X-Accel-Redirect")
	if !strings.HasPrefix(accel, "/protected/previews/") {
		t.Fatalf("X-Accel-Redirect = %q", accel)
	}
	if rec.Body.Len() != 0 {
		t.Fatal("offloaded response must have an empty body")
	}
}

func TestCacheControlOnlyWhenConfigured(t *testing.T) {
	h, _ := newTestHandler(t, "")
	rec := do(h, http.MethodGet, "/preview/?path=sample.bin")
	if cc := rec.Header().Get("Cache-Control"); cc != "" {
		t.Fatalf("Cache-Control = %q without configuration", cc)
	}

	h2, _ := newTestHandler(t, "")
	h2.CacheControl = 10 * time.Minute
	rec = do(h2, http.MethodGet, "/preview/?path=sample.bin")
	if cc := rec.Header().Get("Cache-Control"); cc != "max-age=600, public" {
		t.Fatalf("Cache-Control = %q", cc)
	}
}

func TestListingEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, "")

	rec := do(h, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "'bin'") || !strings.Contains(body, "extensions = [") {
		t.Fatalf("listing body = %q", body)
	}

	rec = do(h, http.MethodGet, "/?format=js")
	if !strings.HasPrefix(rec.Body.String(), "var extensions") {
		t.Fatalf("js listing = %q", rec.Body.String())
	}

	rec = do(h, http.MethodGet, "/?format=rb")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown listing format: status = %d", rec.Code)
	}
}

func TestTestPage(t *testing.T) {
	h, _ := newTestHandler(t, "")
	rec := do(h, http.MethodGet, "/test/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<form") {
		t.Fatal("test page should render the preview form")
	}
}

func TestMetricsDisabledIs404(t *testing.T) {
	h, _ := newTestHandler(t, "")
	rec := do(h, http.MethodGet, "/metrics/")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when metrics are disabled", rec.Code)
	}
}

// stubPlugin resolves every request to a fixed file with a user-scoped origin.
type stubPlugin struct {
	path string
}

func (s *stubPlugin) Pattern() string { return "/files/" }
func (s *stubPlugin) Method() string  { return http.MethodGet }
func (s *stubPlugin) Resolve(_ context.Context, _ *http.Request) (string, string, error) {
	return s.path, "/users/42/sample.bin", nil
}

func TestPluginRoute(t *testing.T) {
	h, _ := newTestHandler(t, "")

	root := t.TempDir()
	target := filepath.Join(root, "sample.bin")
	if err := os.WriteFile(target, []byte("input"), 0o644); err != nil {
		t.Fatal(err)
	}
	plugin.Register(&stubPlugin{path: target})

	// Re-index routes now that the plugin is registered.
	h2 := NewHandler(h.Coordinator, h.Registry, nil, nil)
	h2.DefaultFormat = "image"
	h2.DefaultWidth = 320
	h2.DefaultHeight = 240

	rec := do(h2, http.MethodGet, "/files/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Fatalf("content type = %q", ct)
	}
}

// pathValuePlugin resolves using the {uri...} wildcard from its pattern,
// scoping the origin by the matched {version} segment.
type pathValuePlugin struct {
	root string

	gotVersion string
	gotURI     string
}

func (s *pathValuePlugin) Pattern() string { return "/api/{version}/data/{uri...}" }
func (s *pathValuePlugin) Method() string  { return http.MethodGet }
func (s *pathValuePlugin) Resolve(_ context.Context, r *http.Request) (string, string, error) {
	s.gotVersion = r.PathValue("version")
	s.gotURI = r.PathValue("uri")
	return filepath.Join(s.root, s.gotURI), "/v" + s.gotVersion + "/" + s.gotURI, nil
}

func TestPluginRouteWithWildcards(t *testing.T) {
	h, _ := newTestHandler(t, "")

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "report.bin"), []byte("input"), 0o644); err != nil {
		t.Fatal(err)
	}
	pv := &pathValuePlugin{root: root}
	plugin.Register(pv)

	h2 := NewHandler(h.Coordinator, h.Registry, nil, nil)
	h2.DefaultFormat = "image"
	h2.DefaultWidth = 320
	h2.DefaultHeight = 240

	rec := do(h2, http.MethodGet, "/api/2/data/report.bin")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if pv.gotVersion != "2" || pv.gotURI != "report.bin" {
		t.Fatalf("path values = (%q, %q), pattern segments not matched", pv.gotVersion, pv.gotURI)
	}

	// A non-matching path must fall through to the built-in routes.
	rec = do(h2, http.MethodGet, "/api/2/other/report.bin")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for an unmatched plugin path", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	h, _ := newTestHandler(t, "")
	rec := do(h, http.MethodGet, "/nope/")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
