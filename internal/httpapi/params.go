package httpapi

import (
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/previewd/previewd/internal/coordinator"
	"github.com/previewd/previewd/internal/perr"
	"github.com/previewd/previewd/internal/request"
)

// multipartMemory bounds how much of an upload is buffered in memory before
// spilling to disk; the rest streams through FileSource's size-limited copy.
const multipartMemory = 8 << 20

// previewParams is one parsed /preview/ request before input resolution.
type previewParams struct {
	path   string
	upload *multipart.FileHeader
	url    string

	format request.Format
	width  int
	height int
	pages  request.Pages
	name   string
}

// parsePreviewParams reads the preview endpoint's inputs from the query
// string or a form-encoded/multipart body. When requireInput is set,
// exactly one of path, file, and url must be present; plugin routes supply
// the input themselves, so they parse with it unset.
func (h *Handler) parsePreviewParams(r *http.Request, requireInput bool) (previewParams, error) {
	var p previewParams

	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return p, perr.BadInput("parsing multipart form", err)
		}
		if files := r.MultipartForm.File["file"]; len(files) > 0 {
			p.upload = files[0]
		}
	} else if err := r.ParseForm(); err != nil {
		return p, perr.BadInput("parsing form", err)
	}

	p.path = r.FormValue("path")
	p.url = r.FormValue("url")
	p.name = r.FormValue("name")

	if requireInput {
		given := 0
		for _, set := range []bool{p.path != "", p.upload != nil, p.url != ""} {
			if set {
				given++
			}
		}
		if given != 1 {
			return p, perr.BadInput("exactly one of path, file, or url is required", nil)
		}
	}

	format := r.FormValue("format")
	if format == "" {
		format = h.DefaultFormat
	}
	switch format {
	case string(request.FormatImage), string(request.FormatPDF):
		p.format = request.Format(format)
	default:
		return p, perr.BadInput("format must be image or pdf", nil)
	}

	var err error
	if p.width, err = intParam(r, "width", h.DefaultWidth); err != nil {
		return p, err
	}
	if p.height, err = intParam(r, "height", h.DefaultHeight); err != nil {
		return p, err
	}

	if p.pages, err = coordinator.ParsePages(r.FormValue("pages")); err != nil {
		return p, err
	}

	return p, nil
}

func intParam(r *http.Request, key string, fallback int) (int, error) {
	raw := r.FormValue(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, perr.BadInput(key+" must be a positive integer", nil)
	}
	return n, nil
}
