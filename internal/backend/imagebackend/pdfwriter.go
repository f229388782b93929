package imagebackend

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
)

// EncodeSinglePagePDF writes a minimal one-page PDF wrapping img as a JPEG
// XObject. Ghostscript converts from PDF, not to it, so this small writer
// covers the one image->PDF case the pipeline needs. Exported so other
// raster-producing backends (videobackend's midpoint-frame PDF output) can
// reuse it.
func EncodeSinglePagePDF(w io.Writer, img image.Image) error {
	var jpegBuf bytes.Buffer
	if err := jpeg.Encode(&jpegBuf, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("encoding page image: %w", err)
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	var buf bytes.Buffer
	offsets := make([]int, 0, 6)
	buf.WriteString("%PDF-1.4\n")

	writeObj := func(n int, body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, body)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, fmt.Sprintf(
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] "+
			"/Resources << /XObject << /Im0 5 0 R >> >> /Contents 4 0 R >>",
		width, height))

	content := fmt.Sprintf("q %d 0 0 %d 0 0 cm /Im0 Do Q", width, height)
	writeObj(4, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))

	offsets = append(offsets, buf.Len())
	fmt.Fprintf(&buf, "5 0 obj\n<< /Type /XObject /Subtype /Image /Width %d /Height %d "+
		"/ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>\nstream\n",
		width, height, jpegBuf.Len())
	buf.Write(jpegBuf.Bytes())
	buf.WriteString("\nendstream\nendobj\n")

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF",
		len(offsets)+1, xrefStart)

	_, err := w.Write(buf.Bytes())
	return err
}
