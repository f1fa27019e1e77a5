// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httpclient builds an http.Client with tracing, logging,
// retries and circuit breaking.
package httpclient

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"github.com/z5labs/relay/internal/noop"
	"github.com/z5labs/relay/internal/slogfield"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type circuitOptions struct {
	maxRequests uint32
	interval    time.Duration
	timeout     time.Duration
	tripCount   uint32
	statusCodes []int
}

type retryOptions struct {
	maxRetries int
	waitMin    time.Duration
	waitMax    time.Duration
}

type options struct {
	timeout     time.Duration
	rt          http.RoundTripper
	name        string
	log         *slog.Logger
	noRedirects bool

	co *circuitOptions
	ro *retryOptions
}

// Option configures the client returned by [New].
type Option func(*options)

func withCircuitOption(f func(*circuitOptions)) Option {
	return func(o *options) {
		if o.co == nil {
			o.co = &circuitOptions{tripCount: 5}
		}
		f(o.co)
	}
}

// HalfOpenRequests sets how many requests a half open circuit lets through.
func HalfOpenRequests(n uint32) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.maxRequests = n
	})
}

// OpenStateTimeout sets how long the circuit stays open before going half open.
func OpenStateTimeout(d time.Duration) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.timeout = d
	})
}

// CountResetInterval sets how often a closed circuit resets its failure counts.
func CountResetInterval(d time.Duration) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.interval = d
	})
}

// TripAfter opens the circuit after n consecutive failures.
func TripAfter(n uint32) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.tripCount = n
	})
}

// TripOn sets the response status codes counted as circuit failures.
// The default is every 5xx status.
func TripOn(codes ...int) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.statusCodes = codes
	})
}

// Retry retries failed requests up to n times, waiting between min and max.
func Retry(n int, min, max time.Duration) Option {
	return func(o *options) {
		o.ro = &retryOptions{
			maxRetries: n,
			waitMin:    min,
			waitMax:    max,
		}
	}
}

// Name is attached to every log record and names the circuit breaker.
func Name(s string) Option {
	return func(o *options) {
		o.name = s
	}
}

// RoundTripper sets the base transport. The default is [http.DefaultTransport].
func RoundTripper(rt http.RoundTripper) Option {
	return func(o *options) {
		o.rt = rt
	}
}

// Timeout provides a global timeout value for the http.Client.
func Timeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Logger
func Logger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// NoRedirects returns redirect responses to the caller instead of following them.
func NoRedirects() Option {
	return func(o *options) {
		o.noRedirects = true
	}
}

// New returns a client whose transport is traced, logged and, when
// configured, circuit broken. Retries wrap the whole transport so every
// attempt passes through the circuit.
func New(opts ...Option) *http.Client {
	o := &options{
		rt:  http.DefaultTransport,
		log: noop.Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.log
	if o.name != "" {
		logger = logger.With(slogfield.String("http_client", o.name))
	}

	var rt http.RoundTripper = &logRoundTripper{
		base: otelhttp.NewTransport(o.rt),
		log:  logger,
	}
	if o.co != nil {
		rt = newCircuitRoundTripper(rt, o.name, o.co, logger)
	}

	client := &http.Client{
		Timeout:   o.timeout,
		Transport: rt,
	}
	if o.noRedirects {
		client.CheckRedirect = noRedirect
	}
	if o.ro != nil {
		rc := &retryablehttp.Client{
			HTTPClient:   client,
			Logger:       logger,
			RetryWaitMin: o.ro.waitMin,
			RetryWaitMax: o.ro.waitMax,
			RetryMax:     o.ro.maxRetries,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Backoff:      retryablehttp.DefaultBackoff,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		}
		client = rc.StandardClient()
		if o.noRedirects {
			client.CheckRedirect = noRedirect
		}
	}
	return client
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

type logRoundTripper struct {
	base http.RoundTripper
	log  *slog.Logger
}

func (rt *logRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	start := time.Now()
	rt.log.DebugContext(
		ctx,
		"request sent",
		slogfield.Method(req.Method),
		slogfield.String("url", req.URL.String()),
	)
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		rt.log.WarnContext(
			ctx,
			"request failed",
			slogfield.String("url", req.URL.String()),
			slogfield.Error(err),
		)
		return nil, err
	}
	rt.log.DebugContext(
		ctx,
		"response received",
		slogfield.String("url", req.URL.String()),
		slogfield.StatusCode(resp.StatusCode),
		slogfield.Duration("latency", time.Since(start)),
	)
	return resp, nil
}

// StatusCodeError marks a response whose status counts as a circuit
// failure. It never reaches callers; they receive the response itself.
type StatusCodeError struct {
	Code int
}

// Error implements the [builtin.error] interface.
func (e StatusCodeError) Error() string {
	return "httpclient: failure status code " + strconv.Itoa(e.Code)
}

type circuitRoundTripper struct {
	base      http.RoundTripper
	cb        *gobreaker.CircuitBreaker
	isFailure func(code int) bool
}

func newCircuitRoundTripper(base http.RoundTripper, name string, co *circuitOptions, log *slog.Logger) *circuitRoundTripper {
	isFailure := func(code int) bool {
		return code >= 500
	}
	if len(co.statusCodes) > 0 {
		codes := slices.Clone(co.statusCodes)
		isFailure = func(code int) bool {
			return slices.Contains(codes, code)
		}
	}

	return &circuitRoundTripper{
		base:      base,
		isFailure: isFailure,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: co.maxRequests,
			Interval:    co.interval,
			Timeout:     co.timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= co.tripCount
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				switch to {
				case gobreaker.StateOpen:
					log.Error("circuit has been opened")
				case gobreaker.StateHalfOpen:
					log.Warn(
						"circuit is now half open and letting some requests through",
						slogfield.Uint32("max_requests_allowed_through", co.maxRequests),
					)
				case gobreaker.StateClosed:
					log.Info("circuit has been closed")
				}
			},
		}),
	}
}

func (rt *circuitRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	_, err := rt.cb.Execute(func() (interface{}, error) {
		var err error
		resp, err = rt.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if rt.isFailure(resp.StatusCode) {
			return nil, StatusCodeError{Code: resp.StatusCode}
		}
		return nil, nil
	})
	if _, ok := err.(StatusCodeError); ok {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
