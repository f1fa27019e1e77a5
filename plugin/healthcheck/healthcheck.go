// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package healthcheck registers liveness and readiness routes.
package healthcheck

import (
	"context"
	"net/http"

	"github.com/z5labs/relay/health"
	"github.com/z5labs/relay/server"
)

// Config
type Config struct {
	LivenessPath  string `config:"livenessPath"`
	ReadinessPath string `config:"readinessPath"`
}

type options struct {
	liveness  []health.Metric
	readiness []health.Metric
}

// Option
type Option func(*options)

// Liveness adds metrics which must all be healthy for the liveness route
// to report healthy.
func Liveness(ms ...health.Metric) Option {
	return func(o *options) {
		o.liveness = append(o.liveness, ms...)
	}
}

// Readiness adds metrics which must all be healthy for the readiness route
// to report healthy.
func Readiness(ms ...health.Metric) Option {
	return func(o *options) {
		o.readiness = append(o.readiness, ms...)
	}
}

// Status is the body of both health routes.
type Status struct {
	Healthy bool `json:"healthy"`
}

// Register adds GET and HEAD routes for liveness and readiness.
//
// The plugin is alive until its scope is disposed. It is ready once
// the server is serving and it is alive. Both can be narrowed further
// with [Liveness] and [Readiness].
func Register(p *server.Registrar, cfg Config, opts ...Option) error {
	if cfg.LivenessPath == "" {
		cfg.LivenessPath = "/health/liveness"
	}
	if cfg.ReadinessPath == "" {
		cfg.ReadinessPath = "/health/readiness"
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	alive := health.And(append([]health.Metric{health.Not(health.Closed(p.Scope().Done()))}, o.liveness...)...)
	ready := health.And(append([]health.Metric{health.Closed(p.Server().Ready()), alive}, o.readiness...)...)

	routes := []struct {
		path   string
		metric health.Metric
	}{
		{path: cfg.LivenessPath, metric: alive},
		{path: cfg.ReadinessPath, metric: ready},
	}
	for _, route := range routes {
		mw := report(route.metric)
		if _, err := p.Get(route.path, mw); err != nil {
			return err
		}
		if _, err := p.Head(route.path, mw); err != nil {
			return err
		}
	}
	return nil
}

func report(m health.Metric) server.Middleware {
	return server.MiddlewareFunc(func(ctx context.Context, req *server.Request, resp *server.Response) error {
		healthy := m.Healthy(ctx)
		resp.Header().Set("Cache-Control", "no-store")
		if healthy {
			resp.SetStatus(http.StatusOK)
		} else {
			resp.SetStatus(http.StatusServiceUnavailable)
		}
		return resp.SetBody(Status{Healthy: healthy})
	})
}
