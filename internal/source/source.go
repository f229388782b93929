// Package source resolves the three supported input modes — a server-local
// path, a multipart upload, or a remote URL — into a local file the preview
// pipeline can read, enforcing the size limit as bytes arrive rather than
// only after the fact. Cancellation is honored via ctx.Err() checks between
// chunks since http.Request bodies and os.File don't accept a context
// directly.
package source

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/previewd/previewd/internal/pathref"
	"github.com/previewd/previewd/internal/perr"
)

const chunkSize = 8 << 20

// Source resolves the three supported input kinds into a local PathRef.
type Source struct {
	FileRoot    string
	MaxFileSize int64 // 0 = unbounded
	Client      *http.Client
}

func New(fileRoot string, maxFileSize int64, client *http.Client) *Source {
	if client == nil {
		client = http.DefaultClient
	}
	return &Source{FileRoot: fileRoot, MaxFileSize: maxFileSize, Client: client}
}

// FromServerPath resolves p, relative to FileRoot, confirms it is a regular
// file within the size limit, and returns a shared PathRef (directly
// visible to external converter processes) plus its origin string.
func (s *Source) FromServerPath(p string) (*pathref.Ref, string, error) {
	if p == "" {
		return nil, "", perr.BadInput("path is required", nil)
	}
	clean := filepath.Clean("/" + p) // reject ../ escapes by anchoring at root
	full := filepath.Join(s.FileRoot, clean)

	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", perr.NotFound("path not found")
		}
		return nil, "", perr.BadInput("stat path", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, "", perr.NotFound("path is not a regular file")
	}
	if s.MaxFileSize > 0 && fi.Size() > s.MaxFileSize {
		return nil, "", perr.BadInput("file exceeds maximum size", nil)
	}

	return pathref.NewShared(full, s.FileRoot), p, nil
}

// FromResolved validates a path a PathPlugin already resolved, keeping the
// plugin's origin so cache identity stays user-scoped. The same
// regular-file and size checks as FromServerPath apply.
func (s *Source) FromResolved(path, origin string) (*pathref.Ref, string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", perr.NotFound("path not found")
		}
		return nil, "", perr.BadInput("stat path", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, "", perr.NotFound("path is not a regular file")
	}
	if s.MaxFileSize > 0 && fi.Size() > s.MaxFileSize {
		return nil, "", perr.BadInput("file exceeds maximum size", nil)
	}
	return pathref.New(path, s.FileRoot), origin, nil
}

// FromUpload streams a multipart file part to a temp file with its
// extension preserved, enforcing MaxFileSize as bytes arrive.
func (s *Source) FromUpload(ctx context.Context, fh *multipart.FileHeader) (*pathref.Ref, string, error) {
	if fh == nil {
		return nil, "", perr.BadInput("file is required", nil)
	}
	in, err := fh.Open()
	if err != nil {
		return nil, "", perr.BadInput("opening upload", err)
	}
	defer in.Close()

	ext := pathref.Extension(fh.Filename)
	tmp, err := os.CreateTemp("", "preview-upload-*."+ext)
	if err != nil {
		return nil, "", perr.Internal("create temp file", err)
	}
	defer tmp.Close()

	if err := copyLimited(ctx, tmp, in, s.MaxFileSize); err != nil {
		os.Remove(tmp.Name())
		return nil, "", err
	}

	return pathref.NewTemp(tmp.Name()), tmp.Name(), nil
}

// FromURL issues an HTTP GET and streams the body to a temp file, failing
// Transport on a non-200 response.
func (s *Source) FromURL(ctx context.Context, url string) (*pathref.Ref, string, error) {
	if url == "" {
		return nil, "", perr.BadInput("url is required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", perr.BadInput("invalid url", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, "", perr.Transport("fetching url", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", perr.Transport(fmt.Sprintf("url fetch returned %d", resp.StatusCode), nil)
	}

	ext := extensionFromURL(url)
	tmp, err := os.CreateTemp("", "preview-url-*."+ext)
	if err != nil {
		return nil, "", perr.Internal("create temp file", err)
	}
	defer tmp.Close()

	if err := copyLimited(ctx, tmp, resp.Body, s.MaxFileSize); err != nil {
		os.Remove(tmp.Name())
		return nil, "", err
	}

	return pathref.NewTemp(tmp.Name()), url, nil
}

// copyLimited copies src to dst in chunkSize reads, failing BadInput the
// instant the running total exceeds limit (limit<=0 means unbounded), and
// cooperating with ctx cancellation between chunks.
func copyLimited(ctx context.Context, dst io.Writer, src io.Reader, limit int64) error {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return perr.Transport("ingestion canceled", err)
		}
		n, err := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if limit > 0 && total > limit {
				return perr.BadInput("input exceeds maximum size", nil)
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return perr.Internal("writing ingested data", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return perr.Transport("reading input", err)
		}
	}
}

func extensionFromURL(url string) string {
	clean := strings.SplitN(url, "?", 2)[0]
	return pathref.Extension(filepath.Base(clean))
}
