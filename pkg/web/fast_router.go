package web

import (
	"errors"
	"strings"
	"sync"

	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/valyala/fasthttp"
)

// FastRequestHandler handles fasthttp requests
type FastRequestHandler func(ctx *FastRequestContext) error

// FastMiddleware wraps a handler
type FastMiddleware func(handler FastRequestHandler) FastRequestHandler

// Router matches method and path patterns with ":name" parameters.
// Global middleware registered with Use wraps every request, including 404 and 405
// responses; route middleware wraps only its route.
type Router struct {
	mu         sync.RWMutex
	routes     []*fastRoute
	middleware []FastMiddleware
	logger     core.Logger
}

type fastRoute struct {
	method  string
	pattern string
	parts   []string
	handler FastRequestHandler
}

// NewRouter creates an empty router
func NewRouter(logger core.Logger) *Router {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &Router{logger: logger}
}

// Use appends global middleware
func (r *Router) Use(mw ...FastMiddleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

func (r *Router) GET(path string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Route(fasthttp.MethodGet, path, handler, mw...)
}

func (r *Router) POST(path string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Route(fasthttp.MethodPost, path, handler, mw...)
}

func (r *Router) PUT(path string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Route(fasthttp.MethodPut, path, handler, mw...)
}

func (r *Router) DELETE(path string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Route(fasthttp.MethodDelete, path, handler, mw...)
}

// Route registers handler for method and path, wrapped by mw in order
func (r *Router) Route(method, path string, handler FastRequestHandler, mw ...FastMiddleware) {
	if handler == nil {
		panic("route handler cannot be nil")
	}
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, &fastRoute{
		method:  method,
		pattern: path,
		parts:   splitPath(path),
		handler: handler,
	})
}

// ServeFastHTTP routes ctx and renders handler errors
func (r *Router) ServeFastHTTP(ctx *FastRequestContext) {
	r.mu.RLock()
	handler := r.match(ctx)
	for i := len(r.middleware) - 1; i >= 0; i-- {
		handler = r.middleware[i](handler)
	}
	r.mu.RUnlock()

	if err := handler(ctx); err != nil {
		r.renderError(ctx, err)
	}
}

func (r *Router) match(ctx *FastRequestContext) FastRequestHandler {
	method := string(ctx.Method())
	path := splitPath(string(ctx.Path()))

	pathMatched := false
	for _, route := range r.routes {
		if !matchParts(route.parts, path) {
			continue
		}
		if route.method != method {
			pathMatched = true
			continue
		}
		for i, part := range route.parts {
			if strings.HasPrefix(part, ":") {
				ctx.Params[part[1:]] = path[i]
			}
		}
		ctx.route = route.pattern
		return route.handler
	}

	if pathMatched {
		return func(*FastRequestContext) error {
			return NewHTTPError(fasthttp.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		}
	}
	return func(*FastRequestContext) error {
		return NewHTTPError(fasthttp.StatusNotFound, "not_found", "no route for "+string(ctx.Path()))
	}
}

// renderError writes err as a JSON error body. Errors that are not HTTPErrors
// become a 500 without leaking their text.
func (r *Router) renderError(ctx *FastRequestContext, err error) {
	var he *HTTPError
	if !errors.As(err, &he) {
		r.logger.WithFields(map[string]interface{}{
			"request_id": ctx.RequestID(),
			"method":     string(ctx.Method()),
			"path":       string(ctx.Path()),
		}).Errorf("handler error: %v", err)
		he = NewHTTPError(fasthttp.StatusInternalServerError, "internal_error", "internal server error")
	}

	body := ErrorBody{Error: he.Code, Message: he.Message, RequestID: ctx.RequestID()}
	if jerr := ctx.JSON(he.Status, body); jerr != nil {
		ctx.RequestCtx.Error(he.Message, he.Status)
	}
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func matchParts(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, part := range pattern {
		if strings.HasPrefix(part, ":") {
			if path[i] == "" {
				return false
			}
			continue
		}
		if part != path[i] {
			return false
		}
	}
	return true
}
