// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"syscall"

	"github.com/z5labs/relay"
	"github.com/z5labs/relay/plugin/healthcheck"
	"github.com/z5labs/relay/plugin/proxy"
	"github.com/z5labs/relay/plugin/static"
	"github.com/z5labs/relay/scope"
	"github.com/z5labs/relay/server"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config is the full config of the relay command.
type Config struct {
	Server server.Config `config:"server"`

	Log struct {
		Level slog.Level `config:"level"`
	} `config:"log"`

	OTel struct {
		// Stdout exports spans to the log output.
		Stdout bool `config:"stdout"`
	} `config:"otel"`

	Health healthcheck.Config `config:"health"`

	// Static is only registered when Dir is set.
	Static static.Config `config:"static"`

	Proxy []proxy.Config `config:"proxy"`
}

// builder sets level from the decoded config, since log is created
// before the config is read.
func builder(log *slog.Logger, level *slog.LevelVar, w io.Writer) relay.AppBuilderFunc[Config] {
	return func(ctx context.Context, sc *scope.Scope, cfg Config) (relay.App, error) {
		level.Set(cfg.Log.Level)

		srv, err := newServer(sc, log, w, cfg)
		if err != nil {
			return nil, err
		}

		return relay.Recover(
			relay.WithSignalNotifications(srv, os.Interrupt, syscall.SIGTERM),
		), nil
	}
}

func newServer(sc *scope.Scope, log *slog.Logger, w io.Writer, cfg Config) (*server.Server, error) {
	if cfg.OTel.Stdout {
		err := initTracing(sc, w)
		if err != nil {
			return nil, err
		}
	}

	srv := server.New(
		server.Logger(log),
		server.WithConfig(cfg.Server),
	)

	err := registerPlugins(srv, sc, log, cfg)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

func initTracing(sc *scope.Scope, w io.Writer) error {
	_, err := sc.Effect(func() (scope.Release, error) {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, err
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", "relay"),
			)),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

		return func() error {
			return tp.Shutdown(context.Background())
		}, nil
	})
	return err
}

func registerPlugins(srv *server.Server, sc *scope.Scope, log *slog.Logger, cfg Config) error {
	hc, err := sc.Child(scope.Name("healthcheck"))
	if err != nil {
		return err
	}
	err = healthcheck.Register(srv.Plugin(hc), cfg.Health)
	if err != nil {
		return err
	}

	if cfg.Static.Dir != "" {
		st, err := sc.Child(scope.Name("static"))
		if err != nil {
			return err
		}
		err = static.Register(srv.Plugin(st), cfg.Static.Prefix, os.DirFS(cfg.Static.Dir))
		if err != nil {
			return err
		}
	}

	for i, pc := range cfg.Proxy {
		px, err := sc.Child(scope.Name("proxy-" + strconv.Itoa(i)))
		if err != nil {
			return err
		}
		_, err = proxy.Register(srv.Plugin(px), pc, proxy.Logger(log))
		if err != nil {
			return err
		}
	}
	return nil
}
