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
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/geostats/config"
	"github.com/cardinalhq/geostats/internal/helpers"
	"github.com/cardinalhq/geostats/internal/logctx"
	"github.com/cardinalhq/geostats/internal/tilescan"
	"github.com/cardinalhq/geostats/pkg/geostats"
)

func init() {
	var (
		formatName  string
		output      string
		name        string
		concurrency int
		requireGzip bool
		failFast    bool
	)

	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Accumulate statistics over tile files and print the report",
		Long: `Walk the given files and directories, add every vector tile found
(.mvt, .pbf, optionally .gz) to one accumulator and print its report.
Tiles stored as {z}/{x}/{y}.ext contribute their zoom level.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			format, err := geostats.ParseFormat(formatName)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if c.Flags().Changed("require-gzip") {
				cfg.Accumulator.RequireGzip = requireGzip
			}

			addlAttrs := attribute.NewSet()
			doneCtx, doneFx, err := setupTelemetry("geostats-scan", &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			files, err := tilescan.Files(args)
			if err != nil {
				return err
			}

			acc := geostats.New(name, geostats.WithConfig(cfg.Accumulator))
			ctx := logctx.With(doneCtx, slog.String("command", "scan"))

			start := time.Now()
			summary, scanErr := tilescan.Scan(ctx, acc, files, tilescan.Options{
				Concurrency: concurrency,
				FailFast:    failFast,
			})
			scanDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributeSet(commonAttributes))
			scanFilesCounter.Add(ctx, int64(summary.Accepted), metric.WithAttributes(attribute.String("outcome", "accepted")))
			scanFilesCounter.Add(ctx, int64(summary.Failed), metric.WithAttributes(attribute.String("outcome", "failed")))

			slog.Info("Scan finished",
				slog.Int("files", summary.Files),
				slog.Int("accepted", summary.Accepted),
				slog.Int("failed", summary.Failed),
				slog.Int64("bytes", summary.Bytes),
				slog.Duration("elapsed", time.Since(start)))

			if err := writeReport(acc.GetStats(), format, output); err != nil {
				return err
			}
			if scanErr != nil {
				return fmt.Errorf("%d of %d tile files failed: %w", summary.Failed, summary.Files, scanErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&formatName, "format", "f", "json", "Report format: json, yaml or cbor")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Write the report to this file instead of stdout")
	cmd.Flags().StringVar(&name, "name", "", "Accumulator name shown in the report (generated when empty)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", helpers.GetIntEnv("GEOSTATS_CONCURRENCY", runtime.GOMAXPROCS(0)), "Tiles decoded in parallel")
	cmd.Flags().BoolVar(&requireGzip, "require-gzip", false, "Reject tiles that are not gzip compressed")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop at the first tile that cannot be read")

	rootCmd.AddCommand(cmd)
}
