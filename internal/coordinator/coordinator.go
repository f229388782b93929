// Package coordinator orchestrates the lifecycle of one preview request:
// resolve the input, consult the store, dispatch to a backend through its
// worker pool, fall back to an icon on failure, and populate the store on
// success.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/previewd/previewd/internal/backend"
	"github.com/previewd/previewd/internal/backend/officebackend"
	"github.com/previewd/previewd/internal/icons"
	"github.com/previewd/previewd/internal/pathref"
	"github.com/previewd/previewd/internal/perr"
	"github.com/previewd/previewd/internal/request"
	"github.com/previewd/previewd/internal/source"
	"github.com/previewd/previewd/internal/store"
	"github.com/previewd/previewd/internal/workpool"
)

// iconSentinel is the extension used for the unconditional icon fallback
// when input resolution itself fails. There is no real backend for
// "unresolvable input", so the icon lookup uses a fixed generic bucket.
const iconSentinel = "unknown"

// Observer receives timing/error signals for metrics; nil is a valid
// no-observation default.
type Observer interface {
	ObservePreview(extension, format string, elapsed time.Duration)
	ObserveConversionError(backendName, extension, format string)
}

// Params is one parsed preview request, prior to input resolution.
type Params struct {
	Path   string
	Upload *multipart.FileHeader
	URL    string

	// ResolvedPath/ResolvedOrigin carry a PathPlugin's answer; when set they
	// take precedence over the three FileSource modes above.
	ResolvedPath   string
	ResolvedOrigin string

	Format request.Format
	Width  int
	Height int
	Pages  request.Pages
	Name   string
	Store  request.StoreOpt
}

// Coordinator wires together the source, store, backends, worker pool,
// and icon fallback for the preview endpoint.
type Coordinator struct {
	Source   *source.Source
	Store    *store.Store
	Icons    *icons.Fallback
	Registry *backend.Registry
	Pool     *workpool.Pool
	Logger   *slog.Logger
	Observer Observer

	MaxWidth, MaxHeight int
	MaxPages            int
	Timeout             time.Duration
}

// Result describes how to deliver the response to the HTTP layer.
type Result struct {
	Req      *request.Request
	StoreHit bool
	// Fallback marks an icon-substituted response; those still return 200
	// but must not carry a success Cache-Control.
	Fallback bool
}

// Handle runs the full pipeline for one parsed request. The caller (the
// HTTP layer) is responsible for calling req.Cleanup() once the response
// body has been fully written, unless the response is an X-Accel-Redirect
// in which case the store, not the caller, owns the artifact.
func (c *Coordinator) Handle(ctx context.Context, p Params) (*Result, error) {
	if err := c.validate(p); err != nil {
		return nil, err
	}

	req, fellBack, err := c.resolveInput(ctx, p)
	if err != nil {
		return nil, err
	}
	if fellBack {
		return &Result{Req: req, Fallback: true}, nil
	}

	hit, key := c.Store.Get(req)
	if hit {
		return &Result{Req: req, StoreHit: true}, nil
	}

	if err := c.runBackend(ctx, req); err != nil {
		if !perr.KindOf(err).Recoverable() {
			req.Cleanup()
			return nil, err
		}
		if !c.Icons.Apply(ctx, req, nil) {
			req.Cleanup()
			return nil, perr.Internal("preview generation failed", err)
		}
		return &Result{Req: req, Fallback: true}, nil
	}

	if key != "" {
		c.Store.Put(key, req)
	}
	return &Result{Req: req, StoreHit: false}, nil
}

func (c *Coordinator) validate(p Params) error {
	if !p.Pages.All() && (p.Pages.First < 1 || p.Pages.First > p.Pages.Last) {
		return perr.InvalidPage(p.Pages.First, p.Pages.Last)
	}
	if c.MaxPages > 0 && !p.Pages.All() && (p.Pages.Last-p.Pages.First+1) > c.MaxPages {
		return perr.InvalidPage(p.Pages.First, p.Pages.Last)
	}
	if p.Format != request.FormatImage && p.Format != request.FormatPDF {
		return perr.InvalidFormat(string(p.Format))
	}
	return nil
}

// resolveInput picks the right FileSource mode. On a recoverable failure
// (see perr.Kind.Recoverable) it attempts an icon fallback keyed by
// iconSentinel rather than surfacing the resolution error directly.
func (c *Coordinator) resolveInput(ctx context.Context, p Params) (req *request.Request, fellBack bool, err error) {
	width, height := clamp(p.Width, c.MaxWidth), clamp(p.Height, c.MaxHeight)

	src, origin, err := c.resolveSource(ctx, p)
	if err != nil {
		// A resolved-but-missing (or non-regular) path surfaces as 404 and
		// bad input as 400; only recoverable kinds get the icon treatment.
		if !perr.KindOf(err).Recoverable() {
			return nil, false, err
		}
		req := request.New(origin, p.Name, width, height, p.Format, nil)
		req.Args.Pages, req.Args.Store = p.Pages, p.Store
		req.Name = "input." + iconSentinel
		if !c.Icons.Apply(ctx, req, nil) {
			return nil, false, perr.Internal("input resolution failed and no icon available", err)
		}
		return req, true, nil
	}

	name := p.Name
	if name == "" {
		name = origin
	}
	req = request.New(origin, name, width, height, p.Format, src)
	req.Args.Pages, req.Args.Store = p.Pages, p.Store
	return req, false, nil
}

func (c *Coordinator) resolveSource(ctx context.Context, p Params) (*pathref.Ref, string, error) {
	switch {
	case p.ResolvedPath != "":
		return c.Source.FromResolved(p.ResolvedPath, p.ResolvedOrigin)
	case p.Path != "":
		return c.Source.FromServerPath(p.Path)
	case p.Upload != nil:
		return c.Source.FromUpload(ctx, p.Upload)
	case p.URL != "":
		return c.Source.FromURL(ctx, p.URL)
	default:
		return nil, "", perr.BadInput("exactly one of path, file, or url is required", nil)
	}
}

// runBackend selects the backend for req's extension and runs it through
// the worker pool with a timeout.
func (c *Coordinator) runBackend(ctx context.Context, req *request.Request) error {
	b, ok := c.Registry.Select(req.Extension())
	if !ok {
		return perr.UnsupportedType(req.Extension())
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	run := func() error { return b.Preview(ctx, req) }
	var err error
	if ob, ok := b.(*officebackend.Backend); ok && ob.Pool != nil {
		// Office work with a dedicated pool takes no default-pool slot.
		err = run()
	} else {
		err = c.Pool.Run(ctx, run)
	}
	elapsed := time.Since(start)

	if c.Observer != nil {
		if err != nil {
			c.Observer.ObserveConversionError(b.Name(), req.Extension(), string(req.Format))
		} else {
			c.Observer.ObservePreview(req.Extension(), string(req.Format), elapsed)
		}
	}
	return err
}

func clamp(v, max int) int {
	if max > 0 && v > max {
		return max
	}
	return v
}

// ParsePages parses the pages parameter: a single integer, a range "N-M",
// or the literal "all". Empty input means the first page; "all" maps to the
// (0,0) whole-document range.
func ParsePages(raw string) (request.Pages, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return request.Pages{First: 1, Last: 1}, nil
	}
	if strings.EqualFold(raw, "all") {
		return request.Pages{First: 0, Last: 0}, nil
	}
	if i := strings.IndexByte(raw, '-'); i > 0 {
		first, err1 := strconv.Atoi(raw[:i])
		last, err2 := strconv.Atoi(raw[i+1:])
		if err1 != nil || err2 != nil || first < 1 || last < first {
			return request.Pages{}, perr.InvalidPage(first, last)
		}
		return request.Pages{First: first, Last: last}, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return request.Pages{}, perr.New(perr.KindInvalidPage, fmt.Sprintf("invalid pages value %q", raw))
	}
	return request.Pages{First: n, Last: n}, nil
}

// StoreOptFromHeader maps the pvs-store-disabled header to request.StoreOpt.
func StoreOptFromHeader(r *http.Request) request.StoreOpt {
	return store.StoreOptFromHeader(r.Header.Get("pvs-store-disabled"))
}
