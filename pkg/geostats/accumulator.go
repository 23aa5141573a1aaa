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


// Package geostats accumulates statistics over Mapbox Vector Tiles.
//
// An Accumulator takes one tile buffer at a time (gzip compressed or raw),
// decodes it, extracts per-layer and per-geometry statistics and merges them
// into a running aggregate. Attribute schemas are deduplicated so repeated
// or overlapping tiles never inflate the distinct attribute sets, while
// feature counts always accumulate. GetStats renders the aggregate at any
// point without changing it.
//
// Decoding runs without holding any lock; only the merge of an already
// extracted buffer is serialized, so many goroutines may add buffers to the
// same Accumulator at once.
package geostats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/geostats/internal/aggregate"
	"github.com/cardinalhq/geostats/internal/decompress"
	"github.com/cardinalhq/geostats/internal/idgen"
	"github.com/cardinalhq/geostats/internal/logctx"
	"github.com/cardinalhq/geostats/internal/mvt"
	"github.com/cardinalhq/geostats/internal/tilestats"
)

type (
	Report          = aggregate.Report
	LayerReport     = aggregate.LayerReport
	AttributeReport = aggregate.AttributeReport
	Quantiles       = aggregate.Quantiles
	Format          = aggregate.Format
)

const (
	FormatJSON = aggregate.FormatJSON
	FormatYAML = aggregate.FormatYAML
	FormatCBOR = aggregate.FormatCBOR
)

// ParseFormat accepts json, yaml and cbor.
func ParseFormat(s string) (Format, error) {
	return aggregate.ParseFormat(s)
}

// Config tunes how buffers are accepted. The zero value is usable.
type Config struct {
	// RequireGzip rejects raw buffers with ErrNotGzip.
	RequireGzip bool `mapstructure:"require_gzip"`
	// MaxInflatedBytes caps the decompressed size of one buffer.
	MaxInflatedBytes int64 `mapstructure:"max_inflated_bytes"`
	// MaxValuesPerAttribute caps the values per attribute and tile fed to
	// the distinct value estimate.
	MaxValuesPerAttribute int `mapstructure:"max_values_per_attribute"`
}

func DefaultConfig() Config {
	return Config{
		MaxInflatedBytes:      decompress.DefaultMaxInflatedBytes,
		MaxValuesPerAttribute: tilestats.DefaultMaxValuesPerAttribute,
	}
}

type Option func(*Accumulator)

func WithConfig(cfg Config) Option {
	return func(a *Accumulator) {
		a.cfg = cfg
	}
}

// WithLogger sets the logger used when the caller's context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Accumulator) {
		a.logger = logger
	}
}

// TileID locates a tile in the z/x/y grid. Only the zoom is used, to
// report per-layer zoom ranges.
type TileID struct {
	Z, X, Y uint32
}

func (t TileID) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Accumulator is the stateful statistics aggregate. It is safe for
// concurrent use.
type Accumulator struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	state *aggregate.State
}

// New creates an empty accumulator. The name only labels logs and reports;
// an empty name is replaced by a generated one.
func New(name string, opts ...Option) *Accumulator {
	if name == "" {
		name = idgen.NewLabel()
	}
	a := &Accumulator{
		name:  name,
		cfg:   DefaultConfig(),
		state: aggregate.NewState(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Accumulator) Name() string {
	return a.name
}

// AddBuffer decodes one tile buffer and merges its statistics. On error the
// accumulator is left exactly as it was.
func (a *Accumulator) AddBuffer(ctx context.Context, buf []byte) error {
	return a.add(ctx, buf, tilestats.Options{})
}

// AddTile is AddBuffer for a tile whose position is known; the zoom level
// is recorded as a per-layer zoom hint.
func (a *Accumulator) AddTile(ctx context.Context, id TileID, buf []byte) error {
	return a.add(ctx, buf, tilestats.Options{Zoom: int(id.Z), HasZoom: true})
}

// AddBufferAsync runs AddBuffer on its own goroutine. The returned channel
// receives exactly one value and is then closed.
func (a *Accumulator) AddBufferAsync(ctx context.Context, buf []byte) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- a.AddBuffer(ctx, buf)
	}()
	return done
}

// AddBuffers adds a batch of buffers, decoding up to concurrency of them in
// parallel. Every valid buffer is merged even when others fail; the failures
// are returned together, in input order, as a *multierror.Error.
func (a *Accumulator) AddBuffers(ctx context.Context, bufs [][]byte, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	errs := make([]error, len(bufs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, buf := range bufs {
		g.Go(func() error {
			if err := a.AddBuffer(ctx, buf); err != nil {
				errs[i] = fmt.Errorf("buffer %d: %w", i, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (a *Accumulator) add(ctx context.Context, buf []byte, opts tilestats.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ll := a.log(ctx)

	start := time.Now()
	records, inflated, err := a.process(buf, opts)
	if err != nil {
		stage := StageOf(err)
		buffersRejectedCounter.Add(ctx, 1, stageAttr(stage))
		ll.Warn("Rejected tile buffer",
			slog.String("stage", string(stage)),
			slog.Int("bytes", len(buf)),
			slog.Any("error", err))
		return err
	}
	processDuration.Record(ctx, time.Since(start).Seconds())
	inflatedBytesCounter.Add(ctx, int64(inflated))

	mergeStart := time.Now()
	a.mu.Lock()
	a.state.Merge(records)
	processed := a.state.BuffersProcessed
	a.mu.Unlock()
	mergeDuration.Record(ctx, time.Since(mergeStart).Seconds())

	buffersAcceptedCounter.Add(ctx, 1)
	recordsMergedCounter.Add(ctx, int64(len(records)))
	ll.Debug("Merged tile buffer",
		slog.Int("bytes", len(buf)),
		slog.Int("inflatedBytes", inflated),
		slog.Int("records", len(records)),
		slog.Uint64("buffersProcessed", processed))
	return nil
}

// process runs the lock-free stages: decompress, decode and extract. It
// only touches memory local to the call.
func (a *Accumulator) process(buf []byte, opts tilestats.Options) ([]tilestats.StatRecord, int, error) {
	if len(buf) == 0 {
		return nil, 0, a.stageError(StageInput, ErrInvalidInput)
	}

	raw, err := decompress.Decompress(buf, decompress.Options{
		RequireGzip:      a.cfg.RequireGzip,
		MaxInflatedBytes: a.cfg.MaxInflatedBytes,
	})
	if err != nil {
		return nil, 0, a.stageError(StageDecompress, err)
	}

	tile, err := mvt.Decode(raw)
	if err != nil {
		return nil, 0, a.stageError(StageDecode, err)
	}

	opts.MaxValuesPerAttribute = a.cfg.MaxValuesPerAttribute
	return tilestats.Extract(tile.Layers, opts), len(raw), nil
}

func (a *Accumulator) stageError(stage Stage, err error) error {
	return &Error{Stage: stage, Accumulator: a.name, Err: err}
}

// GetStats renders the current aggregate. It never blocks behind a decode
// and never changes the aggregate.
func (a *Accumulator) GetStats() Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return aggregate.BuildReport(a.state, a.name)
}

// BuffersProcessed is the number of buffers merged since construction or
// the last Reset.
func (a *Accumulator) BuffersProcessed() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.BuffersProcessed
}

// Reset discards everything accumulated so far.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Reset()
}

func (a *Accumulator) log(ctx context.Context) *slog.Logger {
	ll := logctx.FromContext(ctx)
	if a.logger != nil && ll == slog.Default() {
		ll = a.logger
	}
	return ll.With(slog.String("accumulator", a.name))
}
