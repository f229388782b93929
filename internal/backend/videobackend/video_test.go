package videobackend

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/previewd/previewd/internal/pathref"
	"github.com/previewd/previewd/internal/perr"
	"github.com/previewd/previewd/internal/request"
)

// fakeExtractor writes synthetic frames instead of driving ffmpeg.
type fakeExtractor struct {
	frames   int
	frameW   int
	frameH   int
	duration float64
	failAll  bool

	gotOffset float64 // offset requested of ExtractFrameAt
}

func (f *fakeExtractor) writeFrame(path string) error {
	img := image.NewNRGBA(image.Rect(0, 0, f.frameW, f.frameH))
	for y := 0; y < f.frameH; y++ {
		for x := 0; x < f.frameW; x++ {
			img.Set(x, y, color.NRGBA{B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func (f *fakeExtractor) ExtractFrames(_ context.Context, _, outDir string, _, count int) error {
	if f.failAll {
		return fmt.Errorf("no video stream")
	}
	n := f.frames
	if n > count {
		n = count
	}
	for i := 1; i <= n; i++ {
		if err := f.writeFrame(filepath.Join(outDir, fmt.Sprintf("frame-%03d.png", i))); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeExtractor) Duration(_ context.Context, _ string) (float64, error) {
	if f.failAll {
		return 0, fmt.Errorf("no video stream")
	}
	return f.duration, nil
}

func (f *fakeExtractor) ExtractFrameAt(_ context.Context, _ string, offset float64, outPath string) error {
	if f.failAll {
		return fmt.Errorf("no video stream")
	}
	f.gotOffset = offset
	return f.writeFrame(outPath)
}

func videoInput(t *testing.T) *pathref.Ref {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mov")
	if err := os.WriteFile(path, []byte("not a real movie"), 0o644); err != nil {
		t.Fatal(err)
	}
	return pathref.New(path, "")
}

func newVideoReq(t *testing.T, w, h int, format request.Format) *request.Request {
	t.Helper()
	req := request.New("clip.mov", "", w, h, format, videoInput(t))
	req.Args.Pages = request.Pages{} // all
	return req
}

func TestPreviewAnimatedGIF(t *testing.T) {
	b := &Backend{Extractor: &fakeExtractor{frames: 5, frameW: 640, frameH: 480}}

	req := newVideoReq(t, 320, 240, request.FormatImage)
	defer req.Cleanup()

	if err := b.Preview(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(req.Dst().Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	anim, err := gif.DecodeAll(f)
	if err != nil {
		t.Fatalf("artifact is not a GIF: %v", err)
	}
	if len(anim.Image) != 5 {
		t.Fatalf("frames = %d, want 5", len(anim.Image))
	}
	if anim.LoopCount != 0 {
		t.Fatalf("LoopCount = %d, want 0 (loop forever)", anim.LoopCount)
	}
	for _, d := range anim.Delay {
		if d != gifFrameMS/10 {
			t.Fatalf("frame delay = %d cs, want %d", d, gifFrameMS/10)
		}
	}
	for _, frame := range anim.Image {
		if frame.Bounds().Dx() > 320 || frame.Bounds().Dy() > 240 {
			t.Fatalf("frame %v exceeds the requested box", frame.Bounds())
		}
	}
}

func TestPreviewGIFNeverUpscalesSmallVideo(t *testing.T) {
	b := &Backend{Extractor: &fakeExtractor{frames: 2, frameW: 64, frameH: 48}}

	req := newVideoReq(t, 320, 240, request.FormatImage)
	defer req.Cleanup()

	if err := b.Preview(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(req.Dst().Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	anim, err := gif.DecodeAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if got := anim.Image[0].Bounds(); got.Dx() != 64 || got.Dy() != 48 {
		t.Fatalf("small frames must not be upscaled, got %v", got)
	}
}

func TestPreviewMidpointPDF(t *testing.T) {
	ex := &fakeExtractor{frames: 1, frameW: 640, frameH: 480, duration: 42}
	b := &Backend{Extractor: ex}

	req := newVideoReq(t, 320, 240, request.FormatPDF)
	defer req.Cleanup()

	if err := b.Preview(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if ex.gotOffset != 21 {
		t.Fatalf("frame grabbed at %gs, want the 21s midpoint of a 42s clip", ex.gotOffset)
	}
	data, err := os.ReadFile(req.Dst().Path())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatal("pdf artifact missing header")
	}
}

func TestPreviewRejectsExplicitPageRange(t *testing.T) {
	b := &Backend{Extractor: &fakeExtractor{frames: 1, frameW: 64, frameH: 48}}

	req := newVideoReq(t, 320, 240, request.FormatImage)
	req.Args.Pages = request.Pages{First: 2, Last: 2}
	defer req.Cleanup()

	err := b.Preview(context.Background(), req)
	if perr.KindOf(err) != perr.KindInvalidPage {
		t.Fatalf("kind = %s, want invalid_page", perr.KindOf(err))
	}
}

func TestPreviewExtractionFailureIsTransport(t *testing.T) {
	b := &Backend{Extractor: &fakeExtractor{failAll: true}}

	req := newVideoReq(t, 320, 240, request.FormatImage)
	defer req.Cleanup()

	err := b.Preview(context.Background(), req)
	if perr.KindOf(err) != perr.KindTransport {
		t.Fatalf("kind = %s, want transport", perr.KindOf(err))
	}
}
