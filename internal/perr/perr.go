// Package perr defines the error kinds the preview pipeline can produce and
// how they map onto HTTP status codes. The coordinator is the single place
// that decides whether a kind should attempt icon fallback before it ever
// reaches the HTTP surface (see internal/coordinator).
package perr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error categories from the error-handling design.
type Kind int

const (
	// KindBadInput covers malformed/missing parameters, oversized inputs,
	// invalid server paths, and download failures.
	KindBadInput Kind = iota
	// KindNotFound means the resolved path does not exist or is not a
	// regular file.
	KindNotFound
	// KindInvalidPage is a requested page range outside the document.
	// Never masked by icon fallback.
	KindInvalidPage
	// KindUnsupportedType means no backend handles the input extension.
	KindUnsupportedType
	// KindInvalidFormat means a backend rejects the requested output format.
	KindInvalidFormat
	// KindTransport is a subprocess or remote call failure after retries.
	KindTransport
	// KindInternal covers assertion failures, unexpected disk errors, and
	// anything else not otherwise classified.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindBadInput:
		return "bad_input"
	case KindNotFound:
		return "not_found"
	case KindInvalidPage:
		return "invalid_page"
	case KindUnsupportedType:
		return "unsupported_type"
	case KindInvalidFormat:
		return "invalid_format"
	case KindTransport:
		return "transport"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// HTTPStatus returns the response status this kind maps to when it reaches
// the client directly (i.e. after icon fallback has already been attempted
// and declined, where applicable).
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadInput, KindInvalidPage:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Recoverable reports whether the coordinator should attempt IconFallback
// before surfacing this kind to the client.
func (k Kind) Recoverable() bool {
	switch k {
	case KindUnsupportedType, KindTransport, KindInternal, KindInvalidFormat:
		return true
	default:
		return false
	}
}

// Error is a kinded error carrying a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a kinded error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a kinded error that wraps an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, err: cause}
}

// BadInput, InvalidPage, UnsupportedType, InvalidFormat, Transport, and
// Internal are convenience constructors for the common case of wrapping an
// existing error under a given kind.

func BadInput(msg string, cause error) *Error { return Wrap(KindBadInput, msg, cause) }
func NotFound(msg string) *Error              { return New(KindNotFound, msg) }
func InvalidPage(first, last int) *Error {
	return New(KindInvalidPage, fmt.Sprintf("invalid page range: %d-%d", first, last))
}
func UnsupportedType(ext string) *Error {
	return New(KindUnsupportedType, fmt.Sprintf("unsupported file type: %s", ext))
}
func InvalidFormat(format string) *Error {
	return New(KindInvalidFormat, fmt.Sprintf("unsupported output format: %s", format))
}
func Transport(msg string, cause error) *Error { return Wrap(KindTransport, msg, cause) }
func Internal(msg string, cause error) *Error  { return Wrap(KindInternal, msg, cause) }

// As extracts the *Error from err if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, defaulting to KindInternal when err is not
// a *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
