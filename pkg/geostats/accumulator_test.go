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


package geostats

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/geostats/internal/mvt"
)

func gzipTile(t *testing.T, layers ...mvt.Layer) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(mvt.Encode(&mvt.Tile{Layers: layers}))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func roadsLayer() mvt.Layer {
	return mvt.NewLayerBuilder("roads").
		Add(mvt.GeomLine, mvt.LineGeometry([2]int32{0, 0}, [2]int32{10, 0}), map[string]any{"name": "Main", "type": "primary"}).
		Add(mvt.GeomLine, mvt.LineGeometry([2]int32{0, 5}, [2]int32{10, 5}), map[string]any{"name": "Side", "type": "residential"}).
		Add(mvt.GeomLine, mvt.LineGeometry([2]int32{0, 9}, [2]int32{10, 9}, [2]int32{20, 30}), map[string]any{"name": "High", "type": "primary"}).
		Layer()
}

func buildingsLayer() mvt.Layer {
	return mvt.NewLayerBuilder("buildings").
		Add(mvt.GeomPolygon, mvt.PolygonGeometry([][2]int32{{0, 0}, {8, 0}, {8, 8}}), map[string]any{"height": 12}).
		Add(mvt.GeomPoint, mvt.PointGeometry([2]int32{4, 4}), map[string]any{"label": "Town hall"}).
		Layer()
}

func statsJSON(t *testing.T, a *Accumulator) []byte {
	t.Helper()
	b, err := a.GetStats().Marshal(FormatJSON)
	require.NoError(t, err)
	return b
}

func TestAccumulator_RoadsEndToEnd(t *testing.T) {
	ctx := context.Background()
	a := New("roads-test")
	tile := gzipTile(t, roadsLayer())

	require.NoError(t, a.AddBuffer(ctx, tile))
	require.NoError(t, a.AddBuffer(ctx, tile))

	r := a.GetStats()
	assert.Equal(t, "roads-test", r.Name)
	assert.Equal(t, uint64(2), r.BuffersProcessed)
	require.Len(t, r.Layers, 1)

	roads := r.Layers[0]
	assert.Equal(t, "roads", roads.Name)
	assert.Equal(t, uint64(6), roads.TotalFeatureCount)
	assert.Equal(t, map[string]uint64{"line": 6}, roads.GeometryTypeCounts)
	assert.Equal(t, []string{"name", "type"}, roads.Attributes)
	assert.Equal(t, 2, roads.AttributeCount)
	assert.Equal(t, 1, roads.DistinctSchemaCount)
}

func TestAccumulator_EmptyReportBeforeAnyBuffer(t *testing.T) {
	a := New("empty")
	r := a.GetStats()
	assert.Equal(t, uint64(0), r.BuffersProcessed)
	assert.Empty(t, r.Layers)
	assert.Equal(t, uint64(0), a.BuffersProcessed())
}

func TestAccumulator_GeneratedName(t *testing.T) {
	a, b := New(""), New("")
	assert.NotEmpty(t, a.Name())
	assert.NotEqual(t, a.Name(), b.Name())
}

func TestAccumulator_Commutative(t *testing.T) {
	ctx := context.Background()
	b1 := gzipTile(t, roadsLayer(), buildingsLayer())
	b2 := gzipTile(t, buildingsLayer())

	first := New("x")
	require.NoError(t, first.AddBuffer(ctx, b1))
	require.NoError(t, first.AddBuffer(ctx, b2))

	second := New("x")
	require.NoError(t, second.AddBuffer(ctx, b2))
	require.NoError(t, second.AddBuffer(ctx, b1))

	assert.Equal(t, statsJSON(t, first), statsJSON(t, second))
}

func TestAccumulator_SameBufferTwice(t *testing.T) {
	ctx := context.Background()
	a := New("twice")
	buf := gzipTile(t, buildingsLayer())

	require.NoError(t, a.AddBuffer(ctx, buf))
	once := a.GetStats().Layers[0]
	require.NoError(t, a.AddBuffer(ctx, buf))
	twice := a.GetStats().Layers[0]

	assert.Equal(t, 2*once.TotalFeatureCount, twice.TotalFeatureCount)
	for typ, n := range once.GeometryTypeCounts {
		assert.Equal(t, 2*n, twice.GeometryTypeCounts[typ])
	}
	assert.Equal(t, once.DistinctSchemaCount, twice.DistinctSchemaCount)
	assert.Equal(t, once.Attributes, twice.Attributes)
}

func TestAccumulator_GetStatsIsStable(t *testing.T) {
	a := New("stable")
	require.NoError(t, a.AddBuffer(context.Background(), gzipTile(t, roadsLayer(), buildingsLayer())))

	for _, f := range []Format{FormatJSON, FormatYAML, FormatCBOR} {
		first, err := a.GetStats().Marshal(f)
		require.NoError(t, err)
		second, err := a.GetStats().Marshal(f)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestAccumulator_RejectedBuffersLeaveStateUntouched(t *testing.T) {
	ctx := context.Background()
	good := gzipTile(t, roadsLayer())

	corrupt := bytes.Clone(good)
	corrupt[len(corrupt)-8] ^= 0xff

	var notATile bytes.Buffer
	zw := gzip.NewWriter(&notATile)
	_, _ = zw.Write([]byte("I am not a vector tile"))
	require.NoError(t, zw.Close())

	tests := []struct {
		name      string
		cfg       Config
		buf       []byte
		wantErr   error
		wantStage Stage
	}{
		{"nil buffer", DefaultConfig(), nil, ErrInvalidInput, StageInput},
		{"empty buffer", DefaultConfig(), []byte{}, ErrInvalidInput, StageInput},
		{"corrupt gzip", DefaultConfig(), corrupt, ErrCorruptGzip, StageDecompress},
		{"truncated gzip", DefaultConfig(), good[:len(good)/2], ErrCorruptGzip, StageDecompress},
		{"raw text", DefaultConfig(), []byte("I am not a vector tile"), ErrMalformedTile, StageDecode},
		{"gzipped text", DefaultConfig(), notATile.Bytes(), ErrMalformedTile, StageDecode},
		{"raw tile when gzip required", Config{RequireGzip: true}, mvt.Encode(&mvt.Tile{Layers: []mvt.Layer{roadsLayer()}}), ErrNotGzip, StageDecompress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New("atomic", WithConfig(tt.cfg))
			require.NoError(t, a.AddBuffer(ctx, good))
			before := statsJSON(t, a)

			err := a.AddBuffer(ctx, tt.buf)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantStage, StageOf(err))

			var gerr *Error
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, "atomic", gerr.Accumulator)

			assert.Equal(t, uint64(1), a.BuffersProcessed())
			assert.Equal(t, before, statsJSON(t, a))

			// The accumulator keeps working after a failure.
			require.NoError(t, a.AddBuffer(ctx, good))
			assert.Equal(t, uint64(2), a.BuffersProcessed())
		})
	}
}

func TestAccumulator_EmptyTile(t *testing.T) {
	ctx := context.Background()
	a := New("empty-tile")
	require.NoError(t, a.AddBuffer(ctx, gzipTile(t, roadsLayer())))
	before := a.GetStats().Layers

	require.NoError(t, a.AddBuffer(ctx, gzipTile(t)))

	r := a.GetStats()
	assert.Equal(t, uint64(2), r.BuffersProcessed)
	assert.Equal(t, before, r.Layers)
}

func TestAccumulator_RawTileAccepted(t *testing.T) {
	a := New("raw")
	require.NoError(t, a.AddBuffer(context.Background(), mvt.Encode(&mvt.Tile{Layers: []mvt.Layer{roadsLayer()}})))
	assert.Equal(t, uint64(3), a.GetStats().Layers[0].TotalFeatureCount)
}

func TestAccumulator_AddTileRecordsZoomRange(t *testing.T) {
	ctx := context.Background()
	a := New("zoom")
	buf := gzipTile(t, roadsLayer())
	require.NoError(t, a.AddTile(ctx, TileID{Z: 14, X: 8190, Y: 5448}, buf))
	require.NoError(t, a.AddTile(ctx, TileID{Z: 6, X: 31, Y: 21}, buf))
	require.NoError(t, a.AddBuffer(ctx, buf))

	roads := a.GetStats().Layers[0]
	require.NotNil(t, roads.MinZoom)
	require.NotNil(t, roads.MaxZoom)
	assert.Equal(t, 6, *roads.MinZoom)
	assert.Equal(t, 14, *roads.MaxZoom)
	assert.Equal(t, "14/8190/5448", TileID{Z: 14, X: 8190, Y: 5448}.String())
}

func TestAccumulator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New("cancelled")
	err := a.AddBuffer(ctx, gzipTile(t, roadsLayer()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(0), a.BuffersProcessed())
}

func TestAccumulator_AddBufferAsync(t *testing.T) {
	ctx := context.Background()
	a := New("async")

	ok := a.AddBufferAsync(ctx, gzipTile(t, roadsLayer()))
	bad := a.AddBufferAsync(ctx, nil)

	assert.NoError(t, <-ok)
	assert.ErrorIs(t, <-bad, ErrInvalidInput)
	_, open := <-ok
	assert.False(t, open)
	assert.Equal(t, uint64(1), a.BuffersProcessed())
}

func TestAccumulator_AddBuffers(t *testing.T) {
	ctx := context.Background()
	good := gzipTile(t, roadsLayer())
	bufs := [][]byte{good, []byte("I am not a vector tile"), good, nil, good}

	a := New("batch")
	err := a.AddBuffers(ctx, bufs, 3)
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 2)
	assert.ErrorIs(t, merr.Errors[0], ErrMalformedTile)
	assert.Contains(t, merr.Errors[0].Error(), "buffer 1")
	assert.ErrorIs(t, merr.Errors[1], ErrInvalidInput)
	assert.Contains(t, merr.Errors[1].Error(), "buffer 3")

	r := a.GetStats()
	assert.Equal(t, uint64(3), r.BuffersProcessed)
	assert.Equal(t, uint64(9), r.Layers[0].TotalFeatureCount)

	assert.NoError(t, New("ok").AddBuffers(ctx, [][]byte{good, good}, 0))
}

func TestAccumulator_ConcurrentAddsMatchSequential(t *testing.T) {
	ctx := context.Background()
	bufs := [][]byte{
		gzipTile(t, roadsLayer()),
		gzipTile(t, buildingsLayer()),
		gzipTile(t, roadsLayer(), buildingsLayer()),
		gzipTile(t),
	}

	sequential := New("c")
	for range 10 {
		for _, b := range bufs {
			require.NoError(t, sequential.AddBuffer(ctx, b))
		}
	}

	concurrent := New("c")
	var wg sync.WaitGroup
	for range 10 {
		for _, b := range bufs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, concurrent.AddBuffer(ctx, b))
				_ = concurrent.GetStats()
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, uint64(40), concurrent.BuffersProcessed())
	assert.Equal(t, statsJSON(t, sequential), statsJSON(t, concurrent))
}

func TestAccumulator_Reset(t *testing.T) {
	a := New("reset")
	require.NoError(t, a.AddBuffer(context.Background(), gzipTile(t, roadsLayer())))
	a.Reset()
	r := a.GetStats()
	assert.Equal(t, uint64(0), r.BuffersProcessed)
	assert.Empty(t, r.Layers)
}

func TestError_Message(t *testing.T) {
	err := &Error{Stage: StageDecode, Accumulator: "tiles", Err: ErrMalformedTile}
	assert.Equal(t, "geostats tiles: decode stage: malformed vector tile", err.Error())
	assert.Equal(t, Stage(""), StageOf(errors.New("other")))
}
