// Package pathref implements PathRef, the file reference type that flows
// through the preview pipeline. It tracks whether a file lives under the
// system temp area (and is therefore owned by whoever holds the reference)
// or under the configured file root (and is therefore visible to external
// converter processes).
package pathref

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Ref is a reference to a file on disk at some stage of the pipeline: an
// input, an intermediate conversion artifact, or a final output.
type Ref struct {
	path     string
	fileRoot string
	isTemp   bool
	isShared bool
}

// New wraps path as a Ref. fileRoot is the configured server-local file
// root (used to compute IsShared); it may be empty if not applicable.
func New(path, fileRoot string) *Ref {
	tempDir := os.TempDir()
	r := &Ref{path: path, fileRoot: fileRoot}
	r.isTemp = pathHasPrefix(path, tempDir)
	if fileRoot != "" {
		r.isShared = pathHasPrefix(path, fileRoot)
	}
	return r
}

// NewTemp wraps a path known to live under the system temp directory.
func NewTemp(path string) *Ref {
	return &Ref{path: path, isTemp: true}
}

// NewShared wraps a path known to live under the configured file root,
// i.e. directly visible to external converter subprocesses.
func NewShared(path, fileRoot string) *Ref {
	return &Ref{path: path, fileRoot: fileRoot, isShared: true}
}

func pathHasPrefix(path, dir string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Path returns the absolute path to the file.
func (r *Ref) Path() string { return r.path }

// Size returns the file's current byte size.
func (r *Ref) Size() (int64, error) {
	fi, err := os.Stat(r.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// ModTime returns the file's current modification time.
func (r *Ref) ModTime() (time.Time, error) {
	fi, err := os.Stat(r.path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// Extension returns the lowercased extension with no leading dot.
func (r *Ref) Extension() string {
	return Extension(r.path)
}

// Extension derives a lowercased, dot-free extension from a path or name.
func Extension(name string) string {
	ext := filepath.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsTemp reports whether this path lies under the system temp area and is
// therefore owned by the holder of this Ref.
func (r *Ref) IsTemp() bool { return r.isTemp }

// IsShared reports whether this path lies under the configured file root
// and is therefore directly readable by external converter processes.
func (r *Ref) IsShared() bool { return r.isShared }

// Release deletes the underlying file if (and only if) it is temp-owned.
// Safe to call multiple times; missing files are not an error.
func (r *Ref) Release() {
	if r == nil || !r.isTemp {
		return
	}
	_ = os.Remove(r.path)
}
