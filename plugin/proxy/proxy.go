// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package proxy forwards every request under a path prefix to an upstream server.
package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/z5labs/relay/httpclient"
	"github.com/z5labs/relay/internal/noop"
	"github.com/z5labs/relay/internal/slogfield"
	"github.com/z5labs/relay/server"
)

// Config
type Config struct {
	Prefix   string `config:"prefix"`
	Upstream string `config:"upstream"`

	// Retries is the number of times a failed upstream request is retried.
	Retries int `config:"retries"`

	// TripAfter opens the circuit to the upstream after that many
	// consecutive failures. Zero disables circuit breaking.
	TripAfter uint32 `config:"tripAfter"`

	Timeout time.Duration `config:"timeout"`

	// Methods limits the forwarded methods. Empty forwards every method.
	Methods []server.Method `config:"methods"`
}

// InvalidUpstreamError is returned by [Register] when the upstream is
// not an absolute http(s) URL.
type InvalidUpstreamError struct {
	Upstream string
	Cause    error
}

// Error implements the [builtin.error] interface.
func (e InvalidUpstreamError) Error() string {
	msg := "proxy: invalid upstream url: " + e.Upstream
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidUpstreamError) Unwrap() error {
	return e.Cause
}

type options struct {
	log       *slog.Logger
	transport http.RoundTripper
}

// Option
type Option func(*options)

// Logger
func Logger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Transport sets the base transport used for upstream requests.
func Transport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// hopHeaders are removed when forwarding in either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Register adds routes on cfg.Prefix and everything below it,
// forwarding matching requests to cfg.Upstream. There is one route per
// entry of cfg.Methods, or a single route for every method.
func Register(p *server.Registrar, cfg Config, opts ...Option) ([]*server.HTTPRoute, error) {
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, InvalidUpstreamError{Upstream: cfg.Upstream, Cause: err}
	}
	if (upstream.Scheme != "http" && upstream.Scheme != "https") || upstream.Host == "" {
		return nil, InvalidUpstreamError{Upstream: cfg.Upstream}
	}

	o := &options{
		log:       noop.Logger(),
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(o)
	}

	clientOpts := []httpclient.Option{
		httpclient.Name("proxy " + upstream.Host),
		httpclient.Logger(o.log),
		httpclient.RoundTripper(o.transport),
		httpclient.Timeout(cfg.Timeout),
		httpclient.NoRedirects(),
	}
	if cfg.Retries > 0 {
		clientOpts = append(clientOpts, httpclient.Retry(cfg.Retries, 50*time.Millisecond, time.Second))
	}
	if cfg.TripAfter > 0 {
		clientOpts = append(clientOpts, httpclient.TripAfter(cfg.TripAfter), httpclient.OpenStateTimeout(10*time.Second))
	}

	prefix := strings.TrimSuffix(cfg.Prefix, "/")
	fw := &forwarder{
		prefix:   prefix,
		upstream: upstream,
		client:   httpclient.New(clientOpts...),
		log:      o.log,
	}
	pattern := escape(prefix) + "{/*path}"

	methods := cfg.Methods
	if len(methods) == 0 {
		methods = []server.Method{server.MethodAny}
	}
	routes := make([]*server.HTTPRoute, 0, len(methods))
	for _, m := range methods {
		route, err := p.Handle(m, pattern, fw.forward)
		if err != nil {
			return routes, err
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// escape quotes every character with a meaning in route patterns.
func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\:*{}`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

type forwarder struct {
	prefix   string
	upstream *url.URL
	client   *http.Client
	log      *slog.Logger
}

func (f *forwarder) target(req *server.Request) string {
	rest := strings.TrimPrefix(req.Path(), f.prefix)
	target := strings.TrimSuffix(f.upstream.String(), "/") + rest
	if q := req.URL().RawQuery; q != "" {
		target += "?" + q
	}
	return target
}

func (f *forwarder) forward(ctx context.Context, req *server.Request, resp *server.Response, _ server.Next) error {
	body, err := req.Stream()
	if err != nil {
		return err
	}

	out, err := http.NewRequestWithContext(ctx, req.Method(), f.target(req), body)
	if err != nil {
		body.Close()
		return err
	}
	out.ContentLength = req.Raw().ContentLength
	out.Header = req.Header().Clone()
	removeHopHeaders(out.Header)
	setForwardedHeaders(out.Header, req.Raw())

	upstreamResp, err := f.client.Do(out)
	if err != nil {
		f.log.WarnContext(
			ctx,
			"upstream request failed",
			slogfield.String("upstream", f.upstream.String()),
			slogfield.Error(err),
		)
		resp.SetStatus(http.StatusBadGateway)
		return nil
	}

	header := resp.Header()
	for k, vs := range upstreamResp.Header {
		header[k] = append(header[k], vs...)
	}
	removeHopHeaders(header)

	resp.SetStatus(upstreamResp.StatusCode)
	return resp.SetBody(upstreamResp.Body)
}

func removeHopHeaders(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

func setForwardedHeaders(h http.Header, r *http.Request) {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		h.Set("X-Forwarded-For", ip)
	}
	if h.Get("X-Forwarded-Host") == "" {
		h.Set("X-Forwarded-Host", r.Host)
	}
	if h.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if r.TLS != nil {
			proto = "https"
		}
		h.Set("X-Forwarded-Proto", proto)
	}
}
