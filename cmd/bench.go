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
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/geostats/internal/debugging"
	"github.com/cardinalhq/geostats/internal/tilegen"
	"github.com/cardinalhq/geostats/pkg/geostats"
)

type benchOptions struct {
	Iterations  int
	Concurrency int
	Distinct    int
	Tile        tilegen.Options
}

type benchResult struct {
	Iterations int
	Elapsed    time.Duration
	Bytes      int64
	P50, P99   time.Duration
	Report     geostats.Report
}

func (r benchResult) print(w io.Writer) {
	secs := r.Elapsed.Seconds()
	fmt.Fprintf(w, "iterations:  %d\n", r.Iterations)
	fmt.Fprintf(w, "elapsed:     %s\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "tiles/sec:   %.1f\n", float64(r.Iterations)/secs)
	fmt.Fprintf(w, "MiB/sec:     %.2f\n", float64(r.Bytes)/secs/(1<<20))
	fmt.Fprintf(w, "latency p50: %s\n", r.P50)
	fmt.Fprintf(w, "latency p99: %s\n", r.P99)
	fmt.Fprintf(w, "layers:      %d\n", r.Report.LayerCount)
}

// runBench adds Iterations synthetic tiles, cycling over Distinct different
// ones, to a single accumulator from Concurrency goroutines.
func runBench(ctx context.Context, opts benchOptions) (benchResult, error) {
	if opts.Distinct <= 0 {
		opts.Distinct = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	tiles, err := tilegen.Generate(opts.Distinct, opts.Tile)
	if err != nil {
		return benchResult{}, err
	}

	latency, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return benchResult{}, err
	}
	var mu sync.Mutex

	acc := geostats.New("bench")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	var total int64
	start := time.Now()
	for i := range opts.Iterations {
		buf := tiles[i%len(tiles)]
		total += int64(len(buf))
		g.Go(func() error {
			t0 := time.Now()
			if err := acc.AddBuffer(gctx, buf); err != nil {
				return err
			}
			d := time.Since(t0)
			mu.Lock()
			defer mu.Unlock()
			return latency.Add(float64(d))
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}

	res := benchResult{
		Iterations: opts.Iterations,
		Elapsed:    time.Since(start),
		Bytes:      total,
		Report:     acc.GetStats(),
	}
	if !latency.IsEmpty() {
		qs, err := latency.GetValuesAtQuantiles([]float64{0.5, 0.99})
		if err != nil {
			return benchResult{}, err
		}
		res.P50, res.P99 = time.Duration(qs[0]), time.Duration(qs[1])
	}
	return res, nil
}

func init() {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure accumulator throughput on synthetic tiles",
		RunE: func(c *cobra.Command, _ []string) error {
			addlAttrs := attribute.NewSet()
			doneCtx, doneFx, err := setupTelemetry("geostats-bench", &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			debugging.RunPprof(doneCtx)

			res, err := runBench(doneCtx, opts)
			if err != nil {
				return err
			}
			res.print(c.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "n", 1000, "Tiles to add")
	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "c", 8, "Concurrent AddBuffer calls")
	cmd.Flags().IntVar(&opts.Distinct, "distinct", 16, "Different synthetic tiles to cycle through")
	cmd.Flags().IntVar(&opts.Tile.Layers, "layers", 4, "Layers per tile")
	cmd.Flags().IntVar(&opts.Tile.FeaturesPerLayer, "features", 200, "Features per layer")
	cmd.Flags().IntVar(&opts.Tile.AttributesPerLayer, "attributes", 6, "Attributes per layer")

	rootCmd.AddCommand(cmd)
}
