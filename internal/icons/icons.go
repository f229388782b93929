// Package icons serves type-icon placeholders when a preview cannot be
// produced, selected by requested dimensions and file extension. The icon
// root's per-dimension subdirectories are listed once at startup.
package icons

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/previewd/previewd/internal/pathref"
	"github.com/previewd/previewd/internal/request"
)

// ImageRenderer is the subset of the image backend's behavior the icon
// fallback needs when resize-on-fallback is enabled.
type ImageRenderer interface {
	Preview(ctx context.Context, req *request.Request) error
}

// Fallback selects and serves a generic icon when no real preview could be
// produced.
type Fallback struct {
	Root         string
	RedirectBase string // non-empty enables redirect-to-URL mode
	Resize       bool
	Image        ImageRenderer
	Logger       *slog.Logger

	dims []int // sorted ascending, loaded at construction
}

// New scans Root for per-dimension subdirectories (named by their pixel
// size, e.g. "48", "256") and records the available sizes.
func New(root, redirectBase string, resize bool, img ImageRenderer, logger *slog.Logger) *Fallback {
	f := &Fallback{Root: root, RedirectBase: redirectBase, Resize: resize, Image: img, Logger: logger}
	f.dims = loadDimensions(root)
	return f
}

func loadDimensions(root string) []int {
	if root == "" {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var dims []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil {
			dims = append(dims, n)
		}
	}
	sort.Ints(dims)
	return dims
}

// pick returns the smallest available dimension >= target, or the largest
// available dimension if none qualifies.
func (f *Fallback) pick(target int) (int, bool) {
	if len(f.dims) == 0 {
		return 0, false
	}
	for _, d := range f.dims {
		if d >= target {
			return d, true
		}
	}
	return f.dims[len(f.dims)-1], true
}

// Resolve looks up the icon path for extension at the bucket pick chooses
// for max(width,height), falling back to "default" within that bucket.
// Returns ok=false when no icon root is configured or nothing matches.
func (f *Fallback) Resolve(extension string, width, height int) (path string, ok bool) {
	if f == nil || f.Root == "" {
		return "", false
	}
	target := width
	if height > target {
		target = height
	}
	dim, ok := f.pick(target)
	if !ok {
		return "", false
	}

	candidate := filepath.Join(f.Root, strconv.Itoa(dim), extension+".png")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, true
	}
	fallback := filepath.Join(f.Root, strconv.Itoa(dim), "default.png")
	if _, err := os.Stat(fallback); err == nil {
		return fallback, true
	}
	return "", false
}

// Apply runs one of the two fallback modes: redirect the client to an
// externally hosted icon, or set req.Src to the local icon and rerun the
// image backend so it is sized/formatted like a normal preview.
//
// When redirect mode is selected, w is non-nil and Apply writes the
// redirect itself; callers must check the returned bool and stop handling
// the request when redirected.
func (f *Fallback) Apply(ctx context.Context, req *request.Request, w http.ResponseWriter) (handled bool) {
	iconPath, ok := f.Resolve(req.Extension(), req.Width, req.Height)
	if !ok {
		return false
	}

	if f.RedirectBase != "" && w != nil {
		w.Header().Set("Location", f.RedirectBase+"/"+filepath.Base(iconPath))
		w.WriteHeader(http.StatusFound)
		return true
	}

	req.SetSrc(pathref.New(iconPath, ""))
	req.Args.Pages = request.Pages{First: 1, Last: 1}

	if !f.Resize || f.Image == nil {
		req.SetDst(pathref.New(iconPath, ""))
		return true
	}

	if err := f.Image.Preview(ctx, req); err != nil {
		if f.Logger != nil {
			f.Logger.Warn("icon resize failed, serving icon unsized", "err", err)
		}
		req.SetDst(pathref.New(iconPath, ""))
	}
	return true
}
