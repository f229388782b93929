// Package plugin implements the path-plugin extension point: an externally
// provided handler that resolves a request to a local file path and a
// stable origin, replacing the built-in file source for its route. Plugins
// are statically linked implementations that register themselves at
// process init; there is no runtime code loading.
package plugin

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// Plugin is an externally registered request handler. The Coordinator
// treats a Plugin identically to FileSource: it resolves an incoming
// request to a local path and a stable origin string, and is responsible
// for its own authentication.
type Plugin interface {
	// Pattern is the URL pattern this plugin mounts at, in http.ServeMux
	// wildcard grammar (e.g. "/sessions/{id}" or "/api/{version}/data/{uri...}").
	// Handlers read matched segments via r.PathValue.
	Pattern() string
	// Method is the HTTP method this plugin responds to.
	Method() string
	// Resolve authenticates r and returns the local file path plus a
	// stable, user-scoped origin string so cache entries never leak
	// across users.
	Resolve(ctx context.Context, r *http.Request) (path string, origin string, err error)
}

var (
	mu        sync.Mutex
	registry  []Plugin
	byPattern = map[string]Plugin{}
)

// Register adds p to the process-wide plugin registry. Called from a
// plugin implementation's init() function.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	key := p.Method() + " " + p.Pattern()
	if _, exists := byPattern[key]; exists {
		panic(fmt.Sprintf("plugin: duplicate registration for %s", key))
	}
	byPattern[key] = p
	registry = append(registry, p)
}

// All returns every registered plugin, in registration order.
func All() []Plugin {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Plugin, len(registry))
	copy(out, registry)
	return out
}
