// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command relay serves static files, reverse proxies and health checks
// from a single relay server configured with YAML and the environment.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/z5labs/relay"
	"github.com/z5labs/relay/config"
	"github.com/z5labs/relay/otelslog"

	"github.com/spf13/cobra"
)

// EnvPrefix is the prefix of environment variables applied on top of
// the config file, e.g. RELAY_SERVER__PORT=8080.
const EnvPrefix = "RELAY_"

func main() {
	err := newCommand(os.Stderr).ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCommand(logOut io.Writer) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a relay server",
		Long: `relay runs an HTTP and WebSocket server whose routes are
contributed by plugins: health checks, static files and reverse proxies.

Config is read from an optional YAML file and then from environment
variables prefixed with ` + EnvPrefix + `, where "__" separates nested keys.
Unknown keys are rejected.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := new(slog.LevelVar)
			log := otelslog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
				Level: level,
			}))

			return relay.Run(
				cmd.Context(),
				builder(log, level, logOut),
				relay.Name("relay"),
				relay.Logger(log),
				relay.Config(configSources(configPath)...),
				relay.StrictConfig(),
			)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}

func configSources(path string) []config.Source {
	var srcs []config.Source
	if path != "" {
		dir, name := filepath.Split(filepath.Clean(path))
		if dir == "" {
			dir = "."
		}
		srcs = append(srcs, config.FromYaml(config.NewFileReader(os.DirFS(dir), name)))
	}
	return append(srcs, config.FromEnv(EnvPrefix))
}
