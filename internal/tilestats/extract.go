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


// Package tilestats turns decoded tile layers into per-layer, per-geometry
// statistic records. Extraction is pure: it reads the decoded layers and
// returns fresh records without touching any shared state.
package tilestats

import (
	"cmp"
	"slices"

	"github.com/go-spatial/geom"

	"github.com/cardinalhq/geostats/internal/mvt"
)

// DefaultMaxValuesPerAttribute caps how many distinct values per attribute a
// single record carries for cardinality estimation.
const DefaultMaxValuesPerAttribute = 1000

// StatRecord summarizes the features of one geometry type in one layer of
// one tile. Records are immutable once returned.
type StatRecord struct {
	LayerName      string
	GeometryType   mvt.GeomType
	AttributeNames []string // sorted, unique
	FeatureCount   uint64

	VertexCount     uint64
	FeatureVertices []int
	AttributeTypes  map[string]mvt.ValueType
	AttributeValues map[string][]string // canonical values, sorted, unique
	Extents         []uint32            // sorted, unique
	Bounds          *geom.Extent        // nil when no feature has vertices

	Zoom    int
	HasZoom bool
}

type Options struct {
	MaxValuesPerAttribute int
	// Zoom is attached to every record when HasZoom is set.
	Zoom    int
	HasZoom bool
}

type recordKey struct {
	layer string
	typ   mvt.GeomType
}

type builder struct {
	rec    StatRecord
	names  map[string]struct{}
	values map[string]map[string]struct{}
	exts   map[uint32]struct{}
	bounds mvt.Bounds
}

// Extract emits one record per distinct geometry type present in each layer.
// Layers sharing a name within the tile are folded together. The result is
// ordered by layer name, then geometry type.
func Extract(layers []mvt.Layer, opts Options) []StatRecord {
	maxValues := opts.MaxValuesPerAttribute
	if maxValues <= 0 {
		maxValues = DefaultMaxValuesPerAttribute
	}

	builders := map[recordKey]*builder{}
	for li := range layers {
		layer := &layers[li]
		for fi := range layer.Features {
			f := &layer.Features[fi]
			key := recordKey{layer: layer.Name, typ: f.Type}
			b, ok := builders[key]
			if !ok {
				b = &builder{
					rec: StatRecord{
						LayerName:      layer.Name,
						GeometryType:   f.Type,
						AttributeTypes: map[string]mvt.ValueType{},
						Zoom:           opts.Zoom,
						HasZoom:        opts.HasZoom,
					},
					names:  map[string]struct{}{},
					values: map[string]map[string]struct{}{},
					exts:   map[uint32]struct{}{},
				}
				builders[key] = b
			}
			b.add(layer, f, maxValues)
		}
	}

	records := make([]StatRecord, 0, len(builders))
	for _, b := range builders {
		records = append(records, b.finish())
	}
	slices.SortFunc(records, func(a, b StatRecord) int {
		return cmp.Or(
			cmp.Compare(a.LayerName, b.LayerName),
			cmp.Compare(a.GeometryType, b.GeometryType),
		)
	})
	return records
}

func (b *builder) add(layer *mvt.Layer, f *mvt.Feature, maxValues int) {
	b.rec.FeatureCount++
	b.rec.VertexCount += uint64(f.VertexCount)
	b.rec.FeatureVertices = append(b.rec.FeatureVertices, f.VertexCount)
	b.exts[layer.Extent] = struct{}{}

	if f.Bounds.Valid {
		b.bounds = unionBounds(b.bounds, f.Bounds)
	}

	for _, p := range layer.Properties(f) {
		b.names[p.Key] = struct{}{}
		b.rec.AttributeTypes[p.Key] |= p.Value.Type()

		vals, ok := b.values[p.Key]
		if !ok {
			vals = map[string]struct{}{}
			b.values[p.Key] = vals
		}
		if len(vals) < maxValues {
			vals[p.Value.Canonical()] = struct{}{}
		}
	}
}

func (b *builder) finish() StatRecord {
	rec := b.rec
	rec.AttributeNames = sortedSet(b.names)
	rec.AttributeValues = make(map[string][]string, len(b.values))
	for k, vals := range b.values {
		rec.AttributeValues[k] = sortedSet(vals)
	}
	for e := range b.exts {
		rec.Extents = append(rec.Extents, e)
	}
	slices.Sort(rec.Extents)
	if b.bounds.Valid {
		rec.Bounds = geom.NewExtent(
			[2]float64{float64(b.bounds.MinX), float64(b.bounds.MinY)},
			[2]float64{float64(b.bounds.MaxX), float64(b.bounds.MaxY)},
		)
	}
	return rec
}

func unionBounds(a, b mvt.Bounds) mvt.Bounds {
	if !a.Valid {
		return b
	}
	return mvt.Bounds{
		MinX:  min(a.MinX, b.MinX),
		MinY:  min(a.MinY, b.MinY),
		MaxX:  max(a.MaxX, b.MaxX),
		MaxY:  max(a.MaxY, b.MaxY),
		Valid: true,
	}
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
