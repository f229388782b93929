// Package backend defines the conversion backend contract and the registry
// that maps input extensions to the backend that handles them.
package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/previewd/previewd/internal/perr"
	"github.com/previewd/previewd/internal/request"
)

// Backend converts a source file referenced by req.Src() into a destination
// artifact of the requested output format, populating req via SetDst (or,
// for pipeline composition, SetSrc to hand off to another backend).
type Backend interface {
	// Name identifies this backend for metrics and the type-listing endpoint.
	Name() string
	// Extensions lists the input extensions this backend handles.
	Extensions() []string
	// Formats lists the output formats this backend supports.
	Formats() []request.Format
	// Preview runs the conversion. Implementations validate req.Format
	// against Formats() themselves (via backend.CheckFormat) so the error
	// carries the calling backend's name.
	Preview(ctx context.Context, req *request.Request) error
}

// CheckFormat returns a *perr.Error(KindInvalidFormat) if format is not in
// the backend's supported set. Call this first thing inside Preview.
func CheckFormat(b Backend, format request.Format) error {
	for _, f := range b.Formats() {
		if f == format {
			return nil
		}
	}
	return perr.InvalidFormat(string(format))
}

// Registry maps input extensions to the backend that handles them. Built
// once at startup and read-only thereafter.
type Registry struct {
	byExtension map[string]Backend
	backends    []Backend
}

// NewRegistry builds a registry from an ordered list of backends. The first
// backend in the list whose Extensions() contains a given extension wins.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{byExtension: make(map[string]Backend), backends: backends}
	for _, b := range backends {
		for _, ext := range b.Extensions() {
			if _, exists := r.byExtension[ext]; !exists {
				r.byExtension[ext] = b
			}
		}
	}
	return r
}

// Select returns the backend that handles extension, or ok=false when no
// backend is registered for it.
func (r *Registry) Select(extension string) (Backend, bool) {
	b, ok := r.byExtension[extension]
	return b, ok
}

// All returns every registered backend, in registration order.
func (r *Registry) All() []Backend {
	return r.backends
}

// LogDuration wraps a conversion call and logs it at a level that escalates
// with how long it took: debug <= 5s, info <= 10s, warning above that.
func LogDuration(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	level := slog.LevelDebug
	switch {
	case elapsed > 10*time.Second:
		level = slog.LevelWarn
	case elapsed > 5*time.Second:
		level = slog.LevelInfo
	}
	logger.Log(ctx, level, "conversion", "op", op, "duration", elapsed, "error", err)
	return err
}
