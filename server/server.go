// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/z5labs/relay/hook"
	"github.com/z5labs/relay/internal/noop"
	"github.com/z5labs/relay/internal/slogfield"
	"github.com/z5labs/relay/internal/try"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/z5labs/relay/server"

// ErrorHandler handles errors returned (or panics raised) by middleware
// before anything was written to the client.
type ErrorHandler interface {
	HandleError(context.Context, http.ResponseWriter, error)
}

// ErrorHandlerFunc adapts a func into an [ErrorHandler].
type ErrorHandlerFunc func(context.Context, http.ResponseWriter, error)

// HandleError implements the [ErrorHandler] interface.
func (f ErrorHandlerFunc) HandleError(ctx context.Context, w http.ResponseWriter, err error) {
	f(ctx, w, err)
}

type options struct {
	log         *slog.Logger
	errHandler  ErrorHandler
	checkOrigin func(*http.Request) bool
	cfg         Config
	meters      metric.MeterProvider
}

// Option configures a [Server].
type Option func(*options)

// Logger sets the logger used by the server, its routes and sockets.
func Logger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// OnError sets the [ErrorHandler]. The default logs the error and
// responds with 500 and no body.
func OnError(eh ErrorHandler) Option {
	return func(o *options) {
		o.errHandler = eh
	}
}

// CheckOrigin sets the origin check used when upgrading to a WebSocket.
// The default rejects cross-origin upgrades.
func CheckOrigin(f func(*http.Request) bool) Option {
	return func(o *options) {
		o.checkOrigin = f
	}
}

// MeterProvider sets the provider of the request counter. The default
// is the global provider.
func MeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meters = mp
	}
}

// WithConfig sets the listen and timeout configuration used by [Server.Run].
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// Server dispatches HTTP requests and WebSocket upgrades to the routes
// registered through its plugins.
//
// Every request goes through two waterfalls. The "request" waterfall
// holds the handlers added with [Registrar.OnRequest] plus the route
// matcher. The route matcher runs the "route" waterfall, which holds
// every [HTTPRoute] in registration order plus the handlers added with
// [Registrar.OnRoute]. When no route handles a request, the status is
// derived from the methods registered for its path: 404 when none,
// 204 with an Allow header for OPTIONS and 405 with an Allow header
// otherwise.
type Server struct {
	log        *slog.Logger
	errHandler ErrorHandler
	upgrader   websocket.Upgrader
	cfg        Config

	tracer   trace.Tracer
	requests metric.Int64Counter

	// mu guards routes, wsRoutes and every change to routeChain made
	// by route registration, so both can be snapshotted together.
	mu           sync.RWMutex
	routes       []*HTTPRoute
	wsRoutes     []*WSRoute
	requestChain hook.Chain[Middleware]
	routeChain   hook.Chain[Middleware]

	urlMu     sync.RWMutex
	url       string
	ready     chan struct{}
	readyOnce sync.Once
}

// New returns a [Server] with no routes.
func New(opts ...Option) *Server {
	o := &options{
		log:    noop.Logger(),
		meters: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{
		log:        o.log,
		errHandler: o.errHandler,
		upgrader: websocket.Upgrader{
			CheckOrigin: o.checkOrigin,
		},
		cfg:    o.cfg,
		tracer: otel.Tracer(instrumentationName),
		ready:  make(chan struct{}),
	}
	if s.errHandler == nil {
		s.errHandler = ErrorHandlerFunc(s.handleError)
	}

	requests, err := o.meters.Meter(instrumentationName).Int64Counter(
		"relay.server.requests",
		metric.WithDescription("Number of dispatched requests."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		s.log.Warn("failed to create request counter, requests will not be counted", slogfield.Error(err))
		requests = metricnoop.Int64Counter{}
	}
	s.requests = requests

	s.requestChain.Add(s.matchRoutes)
	return s
}

func (s *Server) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	s.log.ErrorContext(ctx, "failed to handle request", slogfield.Error(err))
	w.WriteHeader(http.StatusInternalServerError)
}

// ServeHTTP implements the [http.Handler] interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(
		r.Context(),
		"dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.EscapedPath()),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var status int
	if websocket.IsWebSocketUpgrade(r) {
		status = s.serveUpgrade(w, r)
	} else {
		status = s.serveHTTP(ctx, w, r, span)
	}

	span.SetAttributes(attribute.Int("http.status_code", status))
	s.requests.Add(
		ctx,
		1,
		metric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.Int("http.status_code", status),
		),
	)
}

func (s *Server) serveHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request, span trace.Span) int {
	req := NewRequest(r)
	resp := NewResponse()
	defer func() {
		err := req.removeForm()
		if err != nil {
			s.log.WarnContext(ctx, "failed to remove multipart form files", slogfield.Error(err))
		}
	}()

	err := try.Call(func() error {
		return waterfall(ctx, s.requestChain.Snapshot(), req, resp, noopTerminal)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if pe, ok := try.AsPanic(err); ok {
			s.log.ErrorContext(ctx, "recovered from panic while dispatching request", slog.Any("panic", pe))
		}
		if resp.Flushed() {
			s.log.ErrorContext(ctx, "request failed after response was flushed", slogfield.Error(err))
			return resp.Status()
		}
		s.errHandler.HandleError(ctx, w, err)
		return http.StatusInternalServerError
	}

	err = resp.Flush(w)
	if err != nil {
		span.RecordError(err)
		s.log.ErrorContext(ctx, "failed to flush response", slogfield.Error(err))
	}
	return resp.Status()
}

// matchRoutes is the route matcher's entry in the request waterfall.
func (s *Server) matchRoutes(ctx context.Context, req *Request, resp *Response, next Next) error {
	s.mu.RLock()
	routes := slices.Clone(s.routes)
	chain := s.routeChain.Snapshot()
	s.mu.RUnlock()

	return waterfall(ctx, chain, req, resp, negotiate(routes, next))
}

// negotiate derives the status of a request no route handled. A
// response which already carries a body is left as is. When no route
// matches the path, or the routes for the request's own method all
// delegated, the request waterfall continues with a 404 so handlers
// added after the route matcher can still serve it.
func negotiate(routes []*HTTPRoute, next Next) terminal {
	return func(ctx context.Context, req *Request, resp *Response) error {
		if resp.Body() != nil {
			return nil
		}

		var methods []string
		anyMethod := false
		for _, r := range routes {
			if _, ok := r.Check(req); !ok {
				continue
			}
			if r.method == MethodAny {
				anyMethod = true
				break
			}
			if !slices.Contains(methods, string(r.method)) {
				methods = append(methods, string(r.method))
			}
		}

		if !anyMethod && len(methods) == 0 {
			resp.SetStatus(http.StatusNotFound)
			return next(ctx)
		}

		allowed := anyMethod || slices.Contains(methods, req.Method())
		if allowed && req.Method() != http.MethodOptions {
			resp.SetStatus(http.StatusNotFound)
			return next(ctx)
		}

		allow := "*"
		if !anyMethod {
			allow = strings.Join(methods, ", ")
		}
		resp.Header().Set("Allow", allow)

		if req.Method() == http.MethodOptions {
			resp.SetStatus(http.StatusNoContent)
			return nil
		}
		resp.SetStatus(http.StatusMethodNotAllowed)
		return nil
	}
}

type wsCandidate struct {
	route  *WSRoute
	params Params
}

func (s *Server) serveUpgrade(w http.ResponseWriter, r *http.Request) int {
	ctx := r.Context()
	req := NewRequest(r)

	s.mu.RLock()
	routes := slices.Clone(s.wsRoutes)
	s.mu.RUnlock()

	var candidates []wsCandidate
	for _, route := range routes {
		params, ok := route.Check(req)
		if !ok {
			continue
		}
		candidates = append(candidates, wsCandidate{route: route, params: params})
	}
	if len(candidates) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return http.StatusNotFound
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already responded
		s.log.WarnContext(ctx, "failed to upgrade connection", slogfield.Error(err))
		return http.StatusBadRequest
	}

	for _, c := range candidates {
		sock := newSocket(conn, req.WithParams(c.params), s.log)
		err := try.Call(func() error {
			return c.route.accept(sock.Context(), sock)
		})
		if err != nil {
			sock.detach()
			if errors.Is(err, ErrDecline) {
				s.log.DebugContext(ctx, "websocket route declined", slogfield.Pattern(c.route.Pattern()))
				continue
			}
			s.log.ErrorContext(
				ctx,
				"websocket route failed to accept",
				slogfield.Pattern(c.route.Pattern()),
				slogfield.Error(err),
			)
			continue
		}

		if !c.route.join(sock) {
			sock.CloseWithCode(websocket.CloseGoingAway, "route disposed")
			return http.StatusSwitchingProtocols
		}
		sock.readLoop()
		return http.StatusSwitchingProtocols
	}

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "no route accepted the connection")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(CloseTimeout))
	conn.Close()
	return http.StatusSwitchingProtocols
}

// closeSockets closes every socket accepted by any route.
func (s *Server) closeSockets() error {
	s.mu.RLock()
	routes := slices.Clone(s.wsRoutes)
	s.mu.RUnlock()

	var errs []error
	for _, route := range routes {
		errs = append(errs, route.closeClients(websocket.CloseGoingAway, "server shutting down"))
	}
	return errors.Join(errs...)
}
