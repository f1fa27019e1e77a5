// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"log/slog"

	"github.com/z5labs/relay/internal/slogfield"
	"github.com/z5labs/relay/pathmatch"
)

// Route is a compiled path matcher bound to a method.
type Route struct {
	method  Method
	matcher pathmatch.Matcher
	log     *slog.Logger
}

// Method returns the method the route was registered for.
func (r *Route) Method() Method {
	return r.method
}

// Pattern returns the source pattern of the route matcher.
func (r *Route) Pattern() string {
	return r.matcher.String()
}

// Check matches the request path against the route. It ignores the
// request method.
func (r *Route) Check(req *Request) (Params, bool) {
	path := req.Path()
	params, ok := r.matcher.Match(path)
	r.log.Log(
		req.Context(),
		slog.LevelDebug,
		"checked route",
		slogfield.Pattern(r.matcher.String()),
		slogfield.Path(path),
		slogfield.Bool("matched", ok),
	)
	return params, ok
}

// HTTPRoute is a [Route] bound to a [Middleware]. It is active until
// disposed, either directly or through the scope it was registered with.
type HTTPRoute struct {
	Route

	mw      Middleware
	dispose func() error
}

// handle is the route's entry in the route waterfall.
func (r *HTTPRoute) handle(ctx context.Context, req *Request, resp *Response, next Next) error {
	if !r.method.accepts(req.Method()) {
		return next(ctx)
	}
	params, ok := r.Check(req)
	if !ok {
		return next(ctx)
	}
	return r.mw(ctx, req.WithParams(params), resp, next)
}

// Dispose unregisters the route. It is safe to call more than once.
func (r *HTTPRoute) Dispose() error {
	return r.dispose()
}
