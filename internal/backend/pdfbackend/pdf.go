// Package pdfbackend converts PDF (and PDF-like) inputs by driving
// Ghostscript as a subprocess: sub-document extraction for pdf output,
// single-page rasterization handed to the image backend for image output.
package pdfbackend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strings"

	"github.com/previewd/previewd/internal/backend"
	"github.com/previewd/previewd/internal/backend/imagebackend"
	"github.com/previewd/previewd/internal/pathref"
	"github.com/previewd/previewd/internal/perr"
	"github.com/previewd/previewd/internal/request"
)

// Extensions is the set of input types this backend handles directly.
var Extensions = []string{"pdf", "eps", "ps"}

// GSRunner invokes the Ghostscript-compatible engine. Abstracted as an
// interface so tests can substitute a fake without touching the real
// binary.
type GSRunner interface {
	Run(ctx context.Context, args []string) (stdout, stderr []byte, err error)
}

// execGS shells out to the "gs" binary.
type execGS struct{}

func (execGS) Run(ctx context.Context, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "gs", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Backend implements backend.Backend for PDF (and PDF-like) inputs.
type Backend struct {
	Logger *slog.Logger
	Image  *imagebackend.Backend
	GS     GSRunner
}

func New(logger *slog.Logger, img *imagebackend.Backend) *Backend {
	return &Backend{Logger: logger, Image: img, GS: execGS{}}
}

func (b *Backend) Name() string         { return "pdf" }
func (b *Backend) Extensions() []string { return Extensions }
func (b *Backend) Formats() []request.Format {
	return []request.Format{request.FormatImage, request.FormatPDF}
}

func (b *Backend) Preview(ctx context.Context, req *request.Request) error {
	if err := backend.CheckFormat(b, req.Format); err != nil {
		return err
	}

	size, err := req.Src().Size()
	if err != nil {
		return perr.BadInput("stat input", err)
	}
	if size == 0 {
		return perr.New(perr.KindBadInput, "empty input file")
	}

	return backend.LogDuration(ctx, b.Logger, "pdf.preview", func() error {
		switch req.Format {
		case request.FormatPDF:
			return b.previewPDF(ctx, req)
		case request.FormatImage:
			return b.previewImage(ctx, req)
		default:
			return perr.InvalidFormat(string(req.Format))
		}
	})
}

// previewPDF re-emits a sub-document covering req.Args.Pages, or the whole
// document when the range is (0,0).
func (b *Backend) previewPDF(ctx context.Context, req *request.Request) error {
	tmp, err := os.CreateTemp("", "preview-pdf-*.pdf")
	if err != nil {
		return perr.Internal("create temp pdf", err)
	}
	tmp.Close()

	args := []string{
		"-dNOPAUSE", "-dBATCH", "-dSAFER", "-sDEVICE=pdfwrite", "-q",
		"-sOutputFile=" + tmp.Name(),
	}
	if !req.Args.Pages.All() {
		args = append(args,
			fmt.Sprintf("-dFirstPage=%d", req.Args.Pages.First),
			fmt.Sprintf("-dLastPage=%d", req.Args.Pages.Last))
	}
	args = append(args, req.Src().Path())

	_, stderr, err := b.GS.Run(ctx, args)
	if err != nil {
		os.Remove(tmp.Name())
		if pageOutOfBounds(stderr) {
			return perr.InvalidPage(req.Args.Pages.First, req.Args.Pages.Last)
		}
		return perr.Transport("ghostscript invocation failed", err)
	}

	req.SetDst(pathref.NewTemp(tmp.Name()))
	return nil
}

// previewImage rasterizes exactly the first page of the range at a DPI
// tuned for the requested box, then hands the PNG to the Image backend for
// the final resize/canvas step.
func (b *Backend) previewImage(ctx context.Context, req *request.Request) error {
	firstPage := 1
	if !req.Args.Pages.All() {
		firstPage = req.Args.Pages.First
	}

	dpi := computeDPI(req.Width, req.Height)

	png, err := os.CreateTemp("", "preview-pdf-*.png")
	if err != nil {
		return perr.Internal("create temp png", err)
	}
	png.Close()

	args := []string{
		fmt.Sprintf("-dFirstPage=%d", firstPage),
		fmt.Sprintf("-dLastPage=%d", firstPage),
		"-dNOPAUSE", "-dBATCH", "-dSAFER", "-sDEVICE=png16m",
		fmt.Sprintf("-r%d", dpi),
		"-q", "-sOutputFile=" + png.Name(),
		req.Src().Path(),
	}

	_, stderr, err := b.GS.Run(ctx, args)
	if err != nil {
		os.Remove(png.Name())
		if pageOutOfBounds(stderr) {
			return perr.InvalidPage(firstPage, firstPage)
		}
		return perr.Transport("ghostscript invocation failed", err)
	}

	rendered := request.New("", "page.png", req.Width, req.Height, request.FormatImage,
		pathref.NewTemp(png.Name()))
	rendered.Args.Pages = request.Pages{First: 1, Last: 1}

	if err := b.Image.Preview(ctx, rendered); err != nil {
		rendered.Cleanup()
		return err
	}
	req.SetDst(rendered.TakeDst())
	rendered.Cleanup()
	return nil
}

// computeDPI picks max(W/8.5, H/11) rounded up to a multiple of 144 and
// halved, producing a tight-but-not-blurry raster for letter-sized
// documents.
func computeDPI(width, height int) int {
	raw := math.Max(float64(width)/8.5, float64(height)/11.0)
	rounded := math.Ceil(raw/144.0) * 144.0
	dpi := int(rounded / 2)
	if dpi < 1 {
		dpi = 1
	}
	return dpi
}

// pageOutOfBounds reports whether Ghostscript's stderr indicates the
// requested page range exceeded the document's page count.
func pageOutOfBounds(stderr []byte) bool {
	s := string(stderr)
	return strings.Contains(s, "FirstPage") || strings.Contains(s, "LastPage")
}
