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


package tilegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/geostats/internal/decompress"
	"github.com/cardinalhq/geostats/internal/mvt"
)

func TestTile_Deterministic(t *testing.T) {
	opts := Options{Layers: 4, FeaturesPerLayer: 10, Seed: 7}
	assert.Equal(t, mvt.Encode(Tile(opts)), mvt.Encode(Tile(opts)))

	other := opts
	other.Seed = 8
	assert.NotEqual(t, mvt.Encode(Tile(opts)), mvt.Encode(Tile(other)))
}

func TestTile_Shape(t *testing.T) {
	tile := Tile(Options{Layers: 3, FeaturesPerLayer: 5, AttributesPerLayer: 2})
	require.Len(t, tile.Layers, 3)
	assert.Equal(t, "roads", tile.Layers[0].Name)
	for i, l := range tile.Layers {
		assert.Len(t, l.Features, 5)
		assert.LessOrEqual(t, len(l.Keys), 2)
		for _, f := range l.Features {
			assert.Equal(t, mvt.GeomType(i%3+1), f.Type)
			assert.Positive(t, f.VertexCount)
		}
	}
}

func TestGenerate_DecodesBack(t *testing.T) {
	bufs, err := Generate(3, Options{Seed: 1})
	require.NoError(t, err)
	require.Len(t, bufs, 3)

	for _, b := range bufs {
		require.True(t, decompress.IsGzip(b))
		raw, err := decompress.Decompress(b, decompress.Options{})
		require.NoError(t, err)
		tile, err := mvt.Decode(raw)
		require.NoError(t, err)
		assert.Len(t, tile.Layers, 3)
	}
}
