// Package request defines PreviewRequest, the mutable work item that flows
// from the HTTP surface through the coordinator, backends, and preview
// store for the lifetime of a single preview.
package request

import (
	"path/filepath"

	"github.com/previewd/previewd/internal/pathref"
)

// Format is the output artifact kind a caller can request.
type Format string

const (
	FormatImage Format = "image"
	FormatPDF   Format = "pdf"
)

// Pages is a page range. (0,0) means "all pages"; otherwise First and Last
// are one-based and First <= Last.
type Pages struct {
	First int
	Last  int
}

// All reports whether this range means "the whole document".
func (p Pages) All() bool { return p.First == 0 && p.Last == 0 }

// StoreOpt is the tri-state storage preference for one request.
type StoreOpt int

const (
	StoreUnset StoreOpt = iota
	StoreEnabled
	StoreDisabled
)

// Args holds the secondary, rarely-varying request parameters.
type Args struct {
	Pages Pages
	Store StoreOpt
}

// Request is the mutable work item for one preview. Assigning Src or Dst
// releases the previous reference if it was temp-owned, so intermediate
// artifacts never outlive the stage that superseded them.
type Request struct {
	Width, Height int
	Format        Format
	Origin        string
	Name          string
	Args          Args

	src *pathref.Ref
	dst *pathref.Ref
}

// New builds a Request. name defaults to the basename of origin when empty.
func New(origin, name string, width, height int, format Format, src *pathref.Ref) *Request {
	if name == "" {
		name = filepath.Base(origin)
	}
	return &Request{
		Width:  width,
		Height: height,
		Format: format,
		Origin: origin,
		Name:   name,
		src:    src,
	}
}

// Extension is derived from Name, not from Src, so intermediate backend
// conversions (office -> pdf -> image) never change backend selection.
func (r *Request) Extension() string {
	return pathref.Extension(r.Name)
}

// ContentType returns the MIME type that corresponds to Format.
func (r *Request) ContentType() string {
	if r.Format == FormatPDF {
		return "application/pdf"
	}
	return "image/gif"
}

// Src returns the current input reference.
func (r *Request) Src() *pathref.Ref { return r.src }

// SetSrc transfers ownership of obj to the request, releasing the previous
// Src if it was temp-owned. It does NOT touch Name/Origin — callers that
// want backend-selection to follow the new source (e.g. icon fallback)
// must update Name explicitly, since Extension is derived from Name.
func (r *Request) SetSrc(obj *pathref.Ref) {
	if r.src != nil {
		r.src.Release()
	}
	r.src = obj
}

// Dst returns the produced artifact reference, or nil if none yet.
func (r *Request) Dst() *pathref.Ref { return r.dst }

// SetDst transfers ownership of obj to the request, releasing the previous
// Dst if it was temp-owned.
func (r *Request) SetDst(obj *pathref.Ref) {
	if r.dst != nil {
		r.dst.Release()
	}
	r.dst = obj
}

// TakeDst detaches and returns the artifact reference without releasing it,
// for handing the artifact from a delegate request back to its parent. The
// delegate's Cleanup then only removes what it still owns.
func (r *Request) TakeDst() *pathref.Ref {
	d := r.dst
	r.dst = nil
	return d
}

// Cleanup releases both Src and Dst. Safe to call multiple times.
func (r *Request) Cleanup() {
	if r.src != nil {
		r.src.Release()
		r.src = nil
	}
	if r.dst != nil {
		r.dst.Release()
		r.dst = nil
	}
}
