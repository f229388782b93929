// Package videobackend previews video files: it samples frames via ffmpeg,
// composites a film-strip overlay over each one, and encodes the result as
// a looping animated GIF. PDF output wraps a single midpoint frame.
package videobackend

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/previewd/previewd/internal/backend"
	"github.com/previewd/previewd/internal/backend/imagebackend"
	"github.com/previewd/previewd/internal/pathref"
	"github.com/previewd/previewd/internal/perr"
	"github.com/previewd/previewd/internal/request"
)

// Extensions is the set of video/container types this backend handles.
// Pure-audio formats are excluded; this service does not transcode audio.
var Extensions = []string{
	"3g2", "3gp", "4xm", "asf", "avi", "bink", "divx", "dnxhd", "dvd", "dxa",
	"f4v", "flv", "h264", "hevc", "m4v", "mj2", "mkv", "mov", "mp4", "mpeg",
	"mpg", "mts", "mxf", "nsv", "nut", "nuv", "ogv", "qt", "rm", "swf",
	"vob", "webm", "wmv",
}

const (
	framesWanted = 15
	frameFPS     = 3
	gifFrameMS   = 333
)

// FrameExtractor runs ffmpeg/ffprobe to inspect a clip and extract frames.
// Abstracted so tests can substitute a fake.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, src, outDir string, fps int, count int) error
	// Duration reports the clip length in seconds.
	Duration(ctx context.Context, src string) (float64, error)
	// ExtractFrameAt grabs the single frame nearest offset seconds.
	ExtractFrameAt(ctx context.Context, src string, offset float64, outPath string) error
}

type ffmpegExtractor struct{}

func (ffmpegExtractor) ExtractFrames(ctx context.Context, src, outDir string, fps, count int) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", src,
		"-vf", fmt.Sprintf("fps=%d", fps),
		"-frames:v", fmt.Sprintf("%d", count),
		filepath.Join(outDir, "frame-%03d.png"))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg frame extraction: %w: %s", err, stderr.String())
	}
	return nil
}

func (ffmpegExtractor) Duration(ctx context.Context, src string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w: %s", err, stderr.String())
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: parsing %q: %w", stdout.String(), err)
	}
	return dur, nil
}

func (ffmpegExtractor) ExtractFrameAt(ctx context.Context, src string, offset float64, outPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-ss", fmt.Sprintf("%.3f", offset),
		"-i", src, "-frames:v", "1", outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg frame at %.3fs: %w: %s", offset, err, stderr.String())
	}
	return nil
}

// Backend implements backend.Backend for video inputs.
type Backend struct {
	Logger      *slog.Logger
	Extractor   FrameExtractor
	OverlayPath string // path to the film-strip overlay PNG; empty disables it
}

func New(logger *slog.Logger, overlayPath string) *Backend {
	return &Backend{Logger: logger, Extractor: ffmpegExtractor{}, OverlayPath: overlayPath}
}

func (b *Backend) Name() string         { return "video" }
func (b *Backend) Extensions() []string { return Extensions }
func (b *Backend) Formats() []request.Format {
	return []request.Format{request.FormatImage, request.FormatPDF}
}

// Preview implements backend.Backend. Videos have no pages: the
// whole-document range and the untouched single-page default are accepted,
// an explicit page selection is InvalidPage.
func (b *Backend) Preview(ctx context.Context, req *request.Request) error {
	if err := backend.CheckFormat(b, req.Format); err != nil {
		return err
	}
	if !req.Args.Pages.All() && req.Args.Pages != (request.Pages{First: 1, Last: 1}) {
		return perr.InvalidPage(req.Args.Pages.First, req.Args.Pages.Last)
	}

	return backend.LogDuration(ctx, b.Logger, "video.preview", func() error {
		switch req.Format {
		case request.FormatImage:
			return b.previewGIF(ctx, req)
		case request.FormatPDF:
			return b.previewPDF(ctx, req)
		default:
			return perr.InvalidFormat(string(req.Format))
		}
	})
}

func (b *Backend) previewGIF(ctx context.Context, req *request.Request) error {
	frameDir, err := os.MkdirTemp("", "preview-video-frames-*")
	if err != nil {
		return perr.Internal("create frame dir", err)
	}
	defer os.RemoveAll(frameDir)

	if err := b.Extractor.ExtractFrames(ctx, req.Src().Path(), frameDir, frameFPS, framesWanted); err != nil {
		return perr.Transport("frame extraction failed", err)
	}

	files, err := filepath.Glob(filepath.Join(frameDir, "frame-*.png"))
	if err != nil || len(files) == 0 {
		return perr.Transport("no frames extracted", err)
	}
	sort.Strings(files)

	overlay := b.loadOverlay(req.Width, req.Height)

	gifImg := &gif.GIF{LoopCount: 0}
	for _, f := range files {
		frame, err := imaging.Open(f)
		if err != nil {
			continue
		}
		resized := fitShrink(frame, req.Width, req.Height)
		composited := compositeOverlay(resized, overlay)

		paletted := image.NewPaletted(composited.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, composited.Bounds(), composited, image.Point{})

		gifImg.Image = append(gifImg.Image, paletted)
		gifImg.Delay = append(gifImg.Delay, gifFrameMS/10)
		gifImg.Disposal = append(gifImg.Disposal, gif.DisposalNone)
	}
	if len(gifImg.Image) == 0 {
		return perr.Transport("no frames decoded", nil)
	}

	tmp, err := os.CreateTemp("", "preview-video-*.gif")
	if err != nil {
		return perr.Internal("create temp gif", err)
	}
	defer tmp.Close()
	if err := gif.EncodeAll(tmp, gifImg); err != nil {
		os.Remove(tmp.Name())
		return perr.Internal("encode animated gif", err)
	}
	req.SetDst(pathref.NewTemp(tmp.Name()))
	return nil
}

// previewPDF grabs a single frame near the midpoint, flattens over white,
// and wraps it as a one-page PDF via the image backend's encoder.
func (b *Backend) previewPDF(ctx context.Context, req *request.Request) error {
	dur, err := b.Extractor.Duration(ctx, req.Src().Path())
	if err != nil {
		return perr.Transport("probing clip duration failed", err)
	}

	tmpFrame, err := os.CreateTemp("", "preview-video-mid-*.png")
	if err != nil {
		return perr.Internal("create temp frame", err)
	}
	tmpFrame.Close()
	framePath := tmpFrame.Name()
	if err := b.Extractor.ExtractFrameAt(ctx, req.Src().Path(), dur/2, framePath); err != nil {
		os.Remove(framePath)
		return perr.Transport("midpoint frame extraction failed", err)
	}
	defer os.Remove(framePath)

	frame, err := imaging.Open(framePath)
	if err != nil {
		return perr.Internal("decode midpoint frame", err)
	}

	bg := image.NewNRGBA(frame.Bounds())
	draw.Draw(bg, bg.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(bg, bg.Bounds(), frame, frame.Bounds().Min, draw.Over)

	var buf bytes.Buffer
	if err := imagebackend.EncodeSinglePagePDF(&buf, bg); err != nil {
		return perr.Internal("encode single-page pdf", err)
	}

	tmp, err := os.CreateTemp("", "preview-video-*.pdf")
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

// fitShrink resizes img to fit within width x height preserving aspect
// ratio, never upscaling past the frame's own dimensions.
func fitShrink(img image.Image, width, height int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() <= width && b.Dy() <= height {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, width, height, imaging.Lanczos)
}

func (b *Backend) loadOverlay(width, height int) image.Image {
	if b.OverlayPath == "" {
		return nil
	}
	img, err := imaging.Open(b.OverlayPath)
	if err != nil {
		return nil
	}
	return imaging.Fit(img, width, height, imaging.Lanczos)
}

// compositeOverlay alpha-composites overlay centered over frame. A nil
// overlay (icon assets unavailable) is a no-op — the animation still
// renders, just without the film-strip chrome.
func compositeOverlay(frame *image.NRGBA, overlay image.Image) *image.NRGBA {
	if overlay == nil {
		return frame
	}
	b := frame.Bounds()
	ob := overlay.Bounds()
	left := (b.Dx() - ob.Dx()) / 2
	top := (b.Dy() - ob.Dy()) / 2
	return imaging.Overlay(frame, overlay, image.Pt(left, top), 1.0)
}
