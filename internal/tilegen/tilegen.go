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


// Package tilegen synthesizes vector tiles for benchmarks and tests.
package tilegen

import (
	"bytes"
	"fmt"
	"math/rand/v2"

	"github.com/klauspost/compress/gzip"

	"github.com/cardinalhq/geostats/internal/mvt"
)

var layerNames = []string{"roads", "buildings", "water", "landuse", "poi", "places", "boundaries", "transit"}

var attributeNames = []string{"name", "class", "rank", "height", "oneway", "surface", "population", "ref"}

type Options struct {
	Layers             int
	FeaturesPerLayer   int
	AttributesPerLayer int
	Seed               uint64
}

func (o Options) withDefaults() Options {
	if o.Layers <= 0 {
		o.Layers = 3
	}
	if o.FeaturesPerLayer <= 0 {
		o.FeaturesPerLayer = 50
	}
	if o.AttributesPerLayer <= 0 {
		o.AttributesPerLayer = 4
	}
	o.Layers = min(o.Layers, len(layerNames))
	o.AttributesPerLayer = min(o.AttributesPerLayer, len(attributeNames))
	return o
}

// Tile builds a deterministic pseudo-random tile. The same options always
// produce the same tile.
func Tile(opts Options) *mvt.Tile {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewPCG(opts.Seed, 0x9e3779b97f4a7c15))

	tile := &mvt.Tile{}
	for i := range opts.Layers {
		lb := mvt.NewLayerBuilder(layerNames[i])
		typ := mvt.GeomType(i%3 + 1)
		for range opts.FeaturesPerLayer {
			lb.Add(typ, geometry(rng, typ), properties(rng, opts.AttributesPerLayer))
		}
		tile.Layers = append(tile.Layers, lb.Layer())
	}
	return tile
}

// Gzip encodes the tile and compresses it the way tile servers ship them.
func Gzip(t *mvt.Tile) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(mvt.Encode(t)); err != nil {
		return nil, fmt.Errorf("compressing tile: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing tile: %w", err)
	}
	return buf.Bytes(), nil
}

// Generate returns n gzip compressed tiles with consecutive seeds.
func Generate(n int, opts Options) ([][]byte, error) {
	out := make([][]byte, 0, n)
	for i := range n {
		o := opts
		o.Seed = opts.Seed + uint64(i)
		b, err := Gzip(Tile(o))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func point(rng *rand.Rand) [2]int32 {
	return [2]int32{rng.Int32N(mvt.DefaultExtent), rng.Int32N(mvt.DefaultExtent)}
}

func geometry(rng *rand.Rand, typ mvt.GeomType) []uint32 {
	switch typ {
	case mvt.GeomPoint:
		return mvt.PointGeometry(point(rng))
	case mvt.GeomLine:
		pts := make([][2]int32, 2+rng.IntN(8))
		for i := range pts {
			pts[i] = point(rng)
		}
		return mvt.LineGeometry(pts...)
	default:
		x, y := rng.Int32N(mvt.DefaultExtent-64), rng.Int32N(mvt.DefaultExtent-64)
		w, h := 1+rng.Int32N(63), 1+rng.Int32N(63)
		return mvt.PolygonGeometry([][2]int32{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}})
	}
}

// properties picks a random subset of the first n attribute names, so a
// layer carries several attribute schemas.
func properties(rng *rand.Rand, n int) map[string]any {
	props := make(map[string]any, n)
	for i, key := range attributeNames[:n] {
		if i > 0 && rng.IntN(4) == 0 {
			continue
		}
		switch i % 4 {
		case 0:
			props[key] = fmt.Sprintf("%s-%d", key, rng.IntN(100))
		case 1:
			props[key] = rng.IntN(20)
		case 2:
			props[key] = rng.Float64() * 100
		default:
			props[key] = rng.IntN(2) == 0
		}
	}
	return props
}
