// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.


package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cardinalhq/geostats/config"
	"github.com/cardinalhq/geostats/internal/debugging"
	"github.com/cardinalhq/geostats/internal/healthcheck"
	"github.com/cardinalhq/geostats/internal/tileserver"
)

func init() {
	var (
		port        int
		idleTimeout time.Duration
		requireGzip bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve named accumulators over HTTP",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if c.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if c.Flags().Changed("idle-timeout") {
				cfg.Server.IdleTimeout = idleTimeout
			}
			if c.Flags().Changed("require-gzip") {
				cfg.Accumulator.RequireGzip = requireGzip
			}

			addlAttrs := attribute.NewSet()
			doneCtx, doneFx, err := setupTelemetry("geostats-server", &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			debugging.RunPprof(doneCtx)

			server := tileserver.New(tileserver.Config{
				Port:         cfg.Server.Port,
				IdleTimeout:  cfg.Server.IdleTimeout,
				MaxBodyBytes: cfg.Server.MaxBodyBytes,
				Accumulator:  cfg.Accumulator,
			}, healthcheck.New())

			return server.Run(doneCtx)
		},
	}

	defaults := config.DefaultServerConfig()
	cmd.Flags().IntVarP(&port, "port", "p", defaults.Port, "Listen port")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", defaults.IdleTimeout, "Drop an accumulator after this long without requests")
	cmd.Flags().BoolVar(&requireGzip, "require-gzip", false, "Reject tiles that are not gzip compressed")

	rootCmd.AddCommand(cmd)
}
