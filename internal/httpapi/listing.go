package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/previewd/previewd/internal/backend"
)

// formatDecl is the per-language wrapper for the GET / type listing: py
// emits a bare assignment, js a var declaration with a semicolon.
var formatDecl = map[string]struct{ decl, comment, lineEnd string }{
	"py": {"", "# ", ""},
	"js": {"var ", "// ", ";"},
}

// writeListing renders the supported-extensions listing in the requested
// source language.
func writeListing(w http.ResponseWriter, registry *backend.Registry, format string) error {
	f, ok := formatDecl[format]
	if !ok {
		f = formatDecl["py"]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%sextensions = [\n", f.decl)
	for _, be := range registry.All() {
		fmt.Fprintf(&b, "    %s%s supported formats\n    ", f.comment, titleCase(be.Name()))
		exts := be.Extensions()
		for i, ext := range exts {
			fmt.Fprintf(&b, "'%s'", ext)
			if i != len(exts)-1 {
				b.WriteString(", ")
			}
		}
		b.WriteString(",\n")
	}
	fmt.Fprintf(&b, "]%s\n", f.lineEnd)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := w.Write([]byte(b.String()))
	return err
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
