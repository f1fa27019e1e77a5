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
	"time"

	"github.com/z5labs/relay/internal/slogfield"
	"github.com/z5labs/relay/listen"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// Config
type Config struct {
	Host string `config:"host"`

	// Port is the preferred port. When MaxPort is greater, the ports
	// up to it are tried in order until one is free.
	Port    int `config:"port"`
	MaxPort int `config:"maxPort"`

	// SelfURL overrides the URL derived from the bound address.
	SelfURL string `config:"selfUrl"`

	ReadHeaderTimeout time.Duration `config:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `config:"shutdownTimeout"`
}

// DefaultConfig is used for every zero field of the configured [Config].
var DefaultConfig = Config{
	Host:              "0.0.0.0",
	ReadHeaderTimeout: 2 * time.Second,
	ShutdownTimeout:   10 * time.Second,
}

func (cfg Config) withDefaults() Config {
	if cfg.Host == "" {
		cfg.Host = DefaultConfig.Host
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = DefaultConfig.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultConfig.ShutdownTimeout
	}
	return cfg
}

// Ready is closed once [Server.Run] is serving.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Run listens and serves until ctx is cancelled, then closes every
// socket and shuts the HTTP server down gracefully.
//
// A zero port binds an ephemeral port.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.cfg.withDefaults()

	ls, err := listen.Listen(ctx, listen.Options{
		Host:    cfg.Host,
		Port:    cfg.Port,
		MaxPort: cfg.MaxPort,
		Logger:  s.log,
	})
	if err != nil {
		return err
	}
	s.setURL(SelfURL("http", cfg.Host, listen.Port(ls)))

	hs := &http.Server{
		Handler:           otelhttp.NewHandler(s, "relay"),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		defer s.log.Info("shut down server")

		s.log.Info("shutting down server")
		return errors.Join(s.closeSockets(), hs.Shutdown(ctx))
	})
	g.Go(func() error {
		s.log.Info("started server", slogfield.String("url", s.URL()))
		s.readyOnce.Do(func() { close(s.ready) })
		return hs.Serve(ls)
	})

	err = g.Wait()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	s.log.Error("server encountered unexpected error", slogfield.Error(err))
	return err
}
