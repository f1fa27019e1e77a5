// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command chat broadcasts every websocket message it receives on /chat
// to all connected clients.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/z5labs/relay"
	"github.com/z5labs/relay/config"
	"github.com/z5labs/relay/otelslog"
	"github.com/z5labs/relay/plugin/healthcheck"
	"github.com/z5labs/relay/scope"
	"github.com/z5labs/relay/server"
)

const defaultConfig = `
server:
  host: 127.0.0.1
  port: 8080
  maxPort: 8090
`

type Config struct {
	Server server.Config `config:"server"`
}

func buildChat(log *slog.Logger) relay.AppBuilderFunc[Config] {
	return func(ctx context.Context, sc *scope.Scope, cfg Config) (relay.App, error) {
		return newChat(sc, log, cfg)
	}
}

func newChat(sc *scope.Scope, log *slog.Logger, cfg Config) (relay.App, error) {
	srv := server.New(server.Logger(log), server.WithConfig(cfg.Server))
	p := srv.Plugin(sc)

	var room *server.WSRoute
	room, err := p.WS("/chat", func(ctx context.Context, sock *server.Socket) error {
		sock.OnMessage(func(messageType int, data []byte) {
			err := room.Broadcast(sock.Context(), messageType, data)
			if err != nil {
				log.ErrorContext(sock.Context(), "failed to broadcast message", slog.Any("error", err))
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	_, err = p.Get("/chat/clients", server.MiddlewareFunc(func(ctx context.Context, req *server.Request, resp *server.Response) error {
		return resp.SetBody(map[string]int{"clients": len(room.Clients())})
	}))
	if err != nil {
		return nil, err
	}

	err = healthcheck.Register(p, healthcheck.Config{})
	if err != nil {
		return nil, err
	}

	return relay.Recover(relay.WithSignalNotifications(srv, os.Interrupt)), nil
}

func main() {
	log := otelslog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{AddSource: true}))

	err := relay.Run(
		context.Background(),
		buildChat(log),
		relay.Name("chat"),
		relay.Logger(log),
		relay.Config(
			config.FromYaml(strings.NewReader(defaultConfig)),
			config.FromEnv("CHAT_"),
		),
	)
	if err != nil {
		log.Error("chat exited", slog.Any("error", err))
		os.Exit(1)
	}
}
