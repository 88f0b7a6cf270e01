// File: server/router.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Route table: per method an exact-path map plus prefix entries. Lookup tries
// the exact path, then the longest registered prefix that the path starts
// with.

package server

import (
	"strings"

	"github.com/momentics/hioload-http/http1"
)

// Handler serves one request.
type Handler func(req *http1.Request) (*http1.Response, error)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

type prefixRoute struct {
	prefix  string
	handler Handler
}

type methodRoutes struct {
	exact    map[string]Handler
	prefixes []prefixRoute
}

// Router maps (method, path) to handlers. It is filled before the server
// starts and only read afterwards.
type Router struct {
	routes map[http1.Method]*methodRoutes
}

// NewRouter returns an empty route table.
func NewRouter() *Router {
	return &Router{routes: make(map[http1.Method]*methodRoutes)}
}

// Add registers h for method and path. Every path also acts as a prefix for
// the fallback scan. Re-registering a path replaces its handler.
func (r *Router) Add(method http1.Method, path string, h Handler) {
	mr := r.routes[method]
	if mr == nil {
		mr = &methodRoutes{exact: make(map[string]Handler)}
		r.routes[method] = mr
	}
	if _, dup := mr.exact[path]; dup {
		for i := range mr.prefixes {
			if mr.prefixes[i].prefix == path {
				mr.prefixes[i].handler = h
			}
		}
		mr.exact[path] = h
		return
	}
	mr.exact[path] = h
	mr.prefixes = append(mr.prefixes, prefixRoute{prefix: path, handler: h})
}

// Lookup resolves a handler. ok is false when nothing matches.
func (r *Router) Lookup(method http1.Method, path string) (Handler, bool) {
	mr := r.routes[method]
	if mr == nil {
		return nil, false
	}
	if h, ok := mr.exact[path]; ok {
		return h, true
	}
	var best *prefixRoute
	for i := range mr.prefixes {
		p := &mr.prefixes[i]
		if !strings.HasPrefix(path, p.prefix) {
			continue
		}
		if best == nil || len(p.prefix) > len(best.prefix) {
			best = p
		}
	}
	if best == nil {
		return nil, false
	}
	return best.handler, true
}

// Len returns the number of registered (method, path) pairs.
func (r *Router) Len() int {
	n := 0
	for _, mr := range r.routes {
		n += len(mr.exact)
	}
	return n
}

// Group registers routes under a common path prefix.
type Group struct {
	s      *Server
	prefix string
	mw     []Middleware
}

// Group creates a route group with the given prefix.
func (s *Server) Group(prefix string, mw ...Middleware) *Group {
	return &Group{s: s, prefix: strings.TrimSuffix(prefix, "/"), mw: mw}
}

// Handle registers h under the group prefix.
func (g *Group) Handle(method http1.Method, path string, h Handler) {
	for i := len(g.mw) - 1; i >= 0; i-- {
		h = g.mw[i](h)
	}
	g.s.Handle(method, g.prefix+path, h)
}

// GET registers h for GET requests to path under the group prefix.
func (g *Group) GET(path string, h Handler) { g.Handle(http1.MethodGet, path, h) }

// POST registers h for POST requests to path under the group prefix.
func (g *Group) POST(path string, h Handler) { g.Handle(http1.MethodPost, path, h) }

// PUT registers h for PUT requests to path under the group prefix.
func (g *Group) PUT(path string, h Handler) { g.Handle(http1.MethodPut, path, h) }

// DELETE registers h for DELETE requests to path under the group prefix.
func (g *Group) DELETE(path string, h Handler) { g.Handle(http1.MethodDelete, path, h) }

// PATCH registers h for PATCH requests to path under the group prefix.
func (g *Group) PATCH(path string, h Handler) { g.Handle(http1.MethodPatch, path, h) }

// HEAD registers h for HEAD requests to path under the group prefix.
func (g *Group) HEAD(path string, h Handler) { g.Handle(http1.MethodHead, path, h) }

// OPTIONS registers h for OPTIONS requests to path under the group prefix.
func (g *Group) OPTIONS(path string, h Handler) { g.Handle(http1.MethodOptions, path, h) }
