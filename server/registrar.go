// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"slices"

	"github.com/gorilla/websocket"
	"github.com/z5labs/relay/hook"
	"github.com/z5labs/relay/pathmatch"
	"github.com/z5labs/relay/scope"
)

// InvalidMethodError is returned when registering a route for a
// method which is not a [Method] constant.
type InvalidMethodError struct {
	Method Method
}

// Error implements the [builtin.error] interface.
func (e InvalidMethodError) Error() string {
	return "server: invalid route method: " + string(e.Method)
}

// Registrar registers routes and hooks on a [Server] for one plugin.
// Everything registered through it is removed when its scope is disposed.
type Registrar struct {
	srv *Server
	sc  *scope.Scope
}

// Plugin returns a [Registrar] whose registrations live as long as sc.
func (s *Server) Plugin(sc *scope.Scope) *Registrar {
	return &Registrar{srv: s, sc: sc}
}

// Scope returns the scope owning the registrations.
func (p *Registrar) Scope() *scope.Scope {
	return p.sc
}

// Server returns the server routes are registered on.
func (p *Registrar) Server() *Server {
	return p.srv
}

// Get registers mw for GET requests matching pattern.
func (p *Registrar) Get(pattern string, mw Middleware) (*HTTPRoute, error) {
	return p.Handle(MethodGet, pattern, mw)
}

// Head registers mw for HEAD requests matching pattern.
func (p *Registrar) Head(pattern string, mw Middleware) (*HTTPRoute, error) {
	return p.Handle(MethodHead, pattern, mw)
}

// Post registers mw for POST requests matching pattern.
func (p *Registrar) Post(pattern string, mw Middleware) (*HTTPRoute, error) {
	return p.Handle(MethodPost, pattern, mw)
}

// Put registers mw for PUT requests matching pattern.
func (p *Registrar) Put(pattern string, mw Middleware) (*HTTPRoute, error) {
	return p.Handle(MethodPut, pattern, mw)
}

// Patch registers mw for PATCH requests matching pattern.
func (p *Registrar) Patch(pattern string, mw Middleware) (*HTTPRoute, error) {
	return p.Handle(MethodPatch, pattern, mw)
}

// Delete registers mw for DELETE requests matching pattern.
func (p *Registrar) Delete(pattern string, mw Middleware) (*HTTPRoute, error) {
	return p.Handle(MethodDelete, pattern, mw)
}

// All registers mw for requests matching pattern regardless of method.
func (p *Registrar) All(pattern string, mw Middleware) (*HTTPRoute, error) {
	return p.Handle(MethodAny, pattern, mw)
}

// Handle compiles pattern with [pathmatch.Compile] and registers mw for it.
func (p *Registrar) Handle(method Method, pattern string, mw Middleware) (*HTTPRoute, error) {
	m, err := pathmatch.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return p.HandleMatcher(method, m, mw)
}

// HandleMatcher registers mw for requests whose path m accepts.
//
// The route is appended to the route list and to the route waterfall in
// one step, and removed from both in one step.
func (p *Registrar) HandleMatcher(method Method, m pathmatch.Matcher, mw Middleware) (*HTTPRoute, error) {
	if !method.Valid() {
		return nil, InvalidMethodError{Method: method}
	}

	s := p.srv
	r := &HTTPRoute{
		Route: Route{
			method:  method,
			matcher: m,
			log:     s.log,
		},
		mw: mw,
	}

	dispose, err := p.sc.Effect(func() (scope.Release, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.routes = append(s.routes, r)
		removeHandler := s.routeChain.Add(r.handle)

		return func() error {
			s.mu.Lock()
			defer s.mu.Unlock()

			s.routes = slices.DeleteFunc(s.routes, func(x *HTTPRoute) bool { return x == r })
			removeHandler()
			return nil
		}, nil
	})
	if err != nil {
		return nil, err
	}
	r.dispose = dispose
	return r, nil
}

// WS compiles pattern and registers a WebSocket route for it.
// A nil h accepts every socket.
func (p *Registrar) WS(pattern string, h WSHandler) (*WSRoute, error) {
	m, err := pathmatch.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return p.WSMatcher(m, h)
}

// WSMatcher registers a WebSocket route for upgrade requests whose
// path m accepts. Disposing the route closes every socket it accepted.
func (p *Registrar) WSMatcher(m pathmatch.Matcher, h WSHandler) (*WSRoute, error) {
	s := p.srv
	r := &WSRoute{
		Route: Route{
			method:  MethodGet,
			matcher: m,
			log:     s.log,
		},
		handler: h,
		clients: make(map[*Socket]struct{}),
	}

	dispose, err := p.sc.Effect(func() (scope.Release, error) {
		s.mu.Lock()
		s.wsRoutes = append(s.wsRoutes, r)
		s.mu.Unlock()

		return func() error {
			s.mu.Lock()
			s.wsRoutes = slices.DeleteFunc(s.wsRoutes, func(x *WSRoute) bool { return x == r })
			s.mu.Unlock()

			return r.closeClients(websocket.CloseGoingAway, "route disposed")
		}, nil
	})
	if err != nil {
		return nil, err
	}
	r.dispose = dispose
	return r, nil
}

// OnRequest adds mw to the request waterfall. It runs after every
// handler already added, including the route matcher, unless
// [hook.Prepend] is given. A handler running after the route matcher
// only sees requests no route matched, with the status already set to
// 404, so it must set the status explicitly when serving them.
func (p *Registrar) OnRequest(mw Middleware, opts ...hook.Option) error {
	return p.addHook(&p.srv.requestChain, mw, opts...)
}

// OnRoute adds mw to the route waterfall.
func (p *Registrar) OnRoute(mw Middleware, opts ...hook.Option) error {
	return p.addHook(&p.srv.routeChain, mw, opts...)
}

func (p *Registrar) addHook(c *hook.Chain[Middleware], mw Middleware, opts ...hook.Option) error {
	s := p.srv
	_, err := p.sc.Effect(func() (scope.Release, error) {
		s.mu.Lock()
		remove := c.Add(mw, opts...)
		s.mu.Unlock()

		return func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			remove()
			return nil
		}, nil
	})
	return err
}
