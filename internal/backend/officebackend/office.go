// Package officebackend converts office documents by invoking an
// out-of-process converter (a soffice/LibreOffice listener addressed by
// host:port) that produces a PDF, then delegates the PDF to pdfbackend.
//
// Concurrency is bounded by an independent worker pool so office
// conversions never starve the default pool used by the other backends.
package officebackend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/previewd/previewd/internal/backend"
	"github.com/previewd/previewd/internal/backend/pdfbackend"
	"github.com/previewd/previewd/internal/pathref"
	"github.com/previewd/previewd/internal/perr"
	"github.com/previewd/previewd/internal/request"
	"github.com/previewd/previewd/internal/workpool"
)

// Extensions is the set of office-document input types this backend
// handles.
var Extensions = []string{
	"dot", "docm", "dotx", "dotm", "psw", "doc", "xls", "ppt", "wpd",
	"wps", "csv", "sdw", "sgl", "vor", "docx", "xlsx", "pptx", "xlsm",
	"xltx", "xltm", "xlt", "xlw", "dif", "rtf", "pxl", "pps", "ppsx",
	"odt", "ods", "odp",
}

// Converter runs a single office->PDF conversion. Abstracted so tests can
// substitute a fake without driving a real soffice listener.
type Converter interface {
	Convert(ctx context.Context, in PreviewInput) (pdfPath string, err error)
}

// PreviewInput is what the converter needs: either a shared path it can
// read directly, or raw bytes plus the source extension to pipe on stdin.
type PreviewInput struct {
	SharedPath string // non-empty when the source is directly readable
	Stdin      []byte // used when SharedPath is empty
	Extension  string
}

// sofficeConverter drives soffice via its --convert-to listener, addressed
// by PVS_SOFFICE_ADDR / PVS_SOFFICE_PORT.
type sofficeConverter struct {
	Addr    string
	Port    int
	Timeout time.Duration
}

func (c *sofficeConverter) Convert(ctx context.Context, in PreviewInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	outDir, err := os.MkdirTemp("", "preview-office-*")
	if err != nil {
		return "", fmt.Errorf("create office outdir: %w", err)
	}

	host := c.Addr + ":" + strconv.Itoa(c.Port)
	target := in.SharedPath
	var stdin *bytes.Reader
	if target == "" {
		target = "stdin." + in.Extension
		stdin = bytes.NewReader(in.Stdin)
	}

	args := []string{
		"-env:UserInstallation=file://" + outDir + "/profile",
		"--host=" + host,
		"--headless", "--norestore", "--convert-to", "pdf", "--outdir", outDir,
		target,
	}
	cmd := exec.CommandContext(ctx, "soffice", args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("soffice convert failed: %w: %s", err, stderr.String())
	}

	entries, err := os.ReadDir(outDir)
	if err != nil || len(entries) == 0 {
		return "", fmt.Errorf("soffice produced no output")
	}
	return outDir + "/" + entries[0].Name(), nil
}

// Backend implements backend.Backend for office documents.
type Backend struct {
	Logger    *slog.Logger
	PDF       *pdfbackend.Backend
	Converter Converter
	Pool      *workpool.Pool // per-backend pool; nil means use caller's pool
	Retry     int
}

// Config bundles the office-specific settings read from environment.
type Config struct {
	Addr       string
	Port       int
	Timeout    time.Duration
	Retry      int
	MaxWorkers int
}

// New builds the office backend. When cfg.MaxWorkers > 0, a dedicated
// bounded pool is created so office conversions never consume default-pool
// slots.
func New(logger *slog.Logger, pdf *pdfbackend.Backend, cfg Config) *Backend {
	b := &Backend{
		Logger: logger,
		PDF:    pdf,
		Converter: &sofficeConverter{
			Addr:    cfg.Addr,
			Port:    cfg.Port,
			Timeout: cfg.Timeout,
		},
		Retry: cfg.Retry,
	}
	if cfg.MaxWorkers > 0 {
		b.Pool = workpool.New(cfg.MaxWorkers)
	}
	return b
}

func (b *Backend) Name() string         { return "office" }
func (b *Backend) Extensions() []string { return Extensions }
func (b *Backend) Formats() []request.Format {
	return []request.Format{request.FormatImage, request.FormatPDF}
}

func (b *Backend) Preview(ctx context.Context, req *request.Request) error {
	if err := backend.CheckFormat(b, req.Format); err != nil {
		return err
	}

	run := func() error { return b.convertAndDelegate(ctx, req) }
	if b.Pool != nil {
		return b.Pool.Run(ctx, run)
	}
	return run()
}

func (b *Backend) convertAndDelegate(ctx context.Context, req *request.Request) error {
	return backend.LogDuration(ctx, b.Logger, "office.preview", func() error {
		in := PreviewInput{Extension: req.Extension()}
		if req.Src().IsShared() {
			in.SharedPath = req.Src().Path()
		} else {
			data, err := os.ReadFile(req.Src().Path())
			if err != nil {
				return perr.BadInput("reading office input", err)
			}
			in.Stdin = data
		}

		retries := b.Retry
		if retries < 1 {
			retries = 1
		}

		var pdfPath string
		var lastErr error
		for attempt := 0; attempt < retries; attempt++ {
			pdfPath, lastErr = b.Converter.Convert(ctx, in)
			if lastErr == nil {
				break
			}
			if ctx.Err() != nil {
				break
			}
		}
		if lastErr != nil {
			return perr.Transport("office conversion failed", lastErr)
		}

		pdfReq := request.New("", "document.pdf", req.Width, req.Height, req.Format,
			pathref.NewTemp(pdfPath))
		pdfReq.Args = req.Args

		if err := b.PDF.Preview(ctx, pdfReq); err != nil {
			pdfReq.Cleanup()
			return err
		}
		req.SetDst(pdfReq.TakeDst())
		pdfReq.Cleanup()
		return nil
	})
}
