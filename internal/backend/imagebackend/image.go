// Package imagebackend previews raster inputs: it flattens alpha over
// white, shrink-only resizes to fit the requested box, and composites the
// result centered onto a transparent canvas of the exact requested
// dimensions.
package imagebackend

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"log/slog"
	"os"

	"github.com/disintegration/imaging"

	"github.com/previewd/previewd/internal/backend"
	"github.com/previewd/previewd/internal/pathref"
	"github.com/previewd/previewd/internal/perr"
	"github.com/previewd/previewd/internal/request"
)

// Extensions is the set of raster input types this backend handles.
var Extensions = []string{
	"bmp", "dcx", "gif", "jpg", "jpeg", "png", "psd", "tiff", "tif", "xbm", "xpm",
}

// Backend implements backend.Backend for raster image inputs.
type Backend struct {
	Logger   *slog.Logger
	FileRoot string
}

func New(logger *slog.Logger, fileRoot string) *Backend {
	return &Backend{Logger: logger, FileRoot: fileRoot}
}

func (b *Backend) Name() string            { return "image" }
func (b *Backend) Extensions() []string    { return Extensions }
func (b *Backend) Formats() []request.Format {
	return []request.Format{request.FormatImage, request.FormatPDF}
}

// Preview implements backend.Backend. Raster inputs have exactly one page,
// so any pages range other than (1,1) is rejected.
func (b *Backend) Preview(ctx context.Context, req *request.Request) error {
	if err := backend.CheckFormat(b, req.Format); err != nil {
		return err
	}
	if req.Args.Pages != (request.Pages{First: 1, Last: 1}) {
		return perr.InvalidPage(req.Args.Pages.First, req.Args.Pages.Last)
	}

	return backend.LogDuration(ctx, b.Logger, "image.preview", func() error {
		canvas, err := render(req.Src().Path(), req.Width, req.Height)
		if err != nil {
			return perr.Internal("image render failed", err)
		}

		switch req.Format {
		case request.FormatImage:
			return b.writeGIF(req, canvas)
		case request.FormatPDF:
			return b.writePDF(req, canvas)
		default:
			return perr.InvalidFormat(string(req.Format))
		}
	})
}

// render decodes src at its native pixel size (no rendering resolution is
// applied), flattens alpha over white, shrink-only resizes to fit width x height (imaging.Fit semantics,
// equivalent to ImageMagick's "WxH>"), and composites the result centered
// onto a transparent canvas of exactly width x height.
func render(src string, width, height int) (*image.NRGBA, error) {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", src, err)
	}

	flat := flattenOverWhite(img)

	// Shrink-only fit: never upscale past the source's own dimensions.
	bounds := flat.Bounds()
	var fitted *image.NRGBA
	if bounds.Dx() <= width && bounds.Dy() <= height {
		fitted = flat
	} else {
		fitted = imaging.Fit(flat, width, height, imaging.Lanczos)
	}

	canvas := imaging.New(width, height, color.Transparent)
	left := (width - fitted.Bounds().Dx()) / 2
	top := (height - fitted.Bounds().Dy()) / 2
	canvas = imaging.Paste(canvas, fitted, image.Pt(left, top))
	return canvas, nil
}

// flattenOverWhite composites img over an opaque white background,
// discarding its alpha channel.
func flattenOverWhite(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	bg := image.NewNRGBA(bounds)
	draw.Draw(bg, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(bg, bounds, img, bounds.Min, draw.Over)
	return bg
}

func (b *Backend) writeGIF(req *request.Request, canvas *image.NRGBA) error {
	tmp, err := os.CreateTemp("", "preview-image-*.gif")
	if err != nil {
		return perr.Internal("create temp gif", err)
	}
	defer tmp.Close()

	if err := gif.Encode(tmp, canvas, &gif.Options{NumColors: 256}); err != nil {
		os.Remove(tmp.Name())
		return perr.Internal("encode gif", err)
	}
	req.SetDst(pathref.NewTemp(tmp.Name()))
	return nil
}

func (b *Backend) writePDF(req *request.Request, canvas *image.NRGBA) error {
	var buf bytes.Buffer
	if err := EncodeSinglePagePDF(&buf, canvas); err != nil {
		return perr.Internal("encode single-page pdf", err)
	}

	tmp, err := os.CreateTemp("", "preview-image-*.pdf")
	if err != nil {
		return perr.Internal("create temp pdf", err)
	}
	defer tmp.Close()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		os.Remove(tmp.Name())
		return perr.Internal("write temp pdf", err)
	}
	req.SetDst(pathref.NewTemp(tmp.Name()))
	return nil
}
