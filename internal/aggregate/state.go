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


// Package aggregate holds the long-lived statistics state of an accumulator.
// Merging is commutative and associative per record: counters add, sets
// union, sketches and bounds combine. State is not safe for concurrent use;
// the owner serializes Merge against BuildReport. Concurrent BuildReport
// calls are safe with each other.
package aggregate

import (
	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/axiomhq/hyperloglog"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-spatial/geom"

	"github.com/cardinalhq/geostats/internal/mvt"
	"github.com/cardinalhq/geostats/internal/tilestats"
)

// vertexSketchAccuracy is the relative accuracy of the vertices-per-feature
// quantiles.
const vertexSketchAccuracy = 0.01

// State maps layer names to their aggregates and counts merged buffers.
type State struct {
	Layers           map[string]*LayerAggregate
	BuffersProcessed uint64

	touched []*AttributeAggregate
}

// LayerAggregate is the running aggregate of one layer across all buffers.
type LayerAggregate struct {
	TotalFeatureCount        uint64
	GeometryTypeCounts       map[mvt.GeomType]uint64
	DistinctAttributeSchemas mapset.Set[DedupKey]
	DistinctAttributeNames   mapset.Set[string]

	SchemasByType map[mvt.GeomType]mapset.Set[DedupKey]
	VertexCount   uint64
	Attributes    map[string]*AttributeAggregate
	Extents       mapset.Set[uint32]
	Bounds        *geom.Extent

	MinZoom, MaxZoom int
	HasZoom          bool

	vertices *ddsketch.DDSketch
}

// AttributeAggregate tracks what kinds of values an attribute carries and
// approximately how many distinct values were seen.
type AttributeAggregate struct {
	Types  mvt.ValueType
	values *hyperloglog.Sketch

	// Estimate mutates the sketch, so it is only called from Merge and
	// the result cached for readers.
	estimate uint64
	touched  bool
}

// ApproxDistinctValues is the distinct value estimate as of the last Merge.
func (a *AttributeAggregate) ApproxDistinctValues() uint64 {
	return a.estimate
}

func NewState() *State {
	return &State{Layers: map[string]*LayerAggregate{}}
}

func newLayerAggregate() *LayerAggregate {
	// NewDefaultDDSketch only fails for an accuracy outside (0, 1).
	sketch, err := ddsketch.NewDefaultDDSketch(vertexSketchAccuracy)
	if err != nil {
		panic(err)
	}
	return &LayerAggregate{
		GeometryTypeCounts:       map[mvt.GeomType]uint64{},
		DistinctAttributeSchemas: mapset.NewThreadUnsafeSet[DedupKey](),
		DistinctAttributeNames:   mapset.NewThreadUnsafeSet[string](),
		SchemasByType:            map[mvt.GeomType]mapset.Set[DedupKey]{},
		Attributes:               map[string]*AttributeAggregate{},
		Extents:                  mapset.NewThreadUnsafeSet[uint32](),
		vertices:                 sketch,
	}
}

// Merge folds the records extracted from one buffer into the state and
// counts the buffer, even when it produced no records.
func (s *State) Merge(records []tilestats.StatRecord) {
	for i := range records {
		s.mergeRecord(&records[i])
	}
	for _, attr := range s.touched {
		attr.estimate = attr.values.Estimate()
		attr.touched = false
	}
	s.touched = s.touched[:0]
	s.BuffersProcessed++
}

func (s *State) mergeRecord(rec *tilestats.StatRecord) {
	la, ok := s.Layers[rec.LayerName]
	if !ok {
		la = newLayerAggregate()
		s.Layers[rec.LayerName] = la
	}

	// Counts always accumulate; only the schema and name sets deduplicate.
	la.TotalFeatureCount += rec.FeatureCount
	la.GeometryTypeCounts[rec.GeometryType] += rec.FeatureCount

	key := KeyFor(rec.LayerName, rec.GeometryType, rec.AttributeNames)
	la.DistinctAttributeSchemas.Add(key)
	byType, ok := la.SchemasByType[rec.GeometryType]
	if !ok {
		byType = mapset.NewThreadUnsafeSet[DedupKey]()
		la.SchemasByType[rec.GeometryType] = byType
	}
	byType.Add(key)
	la.DistinctAttributeNames.Append(rec.AttributeNames...)

	la.VertexCount += rec.VertexCount
	for _, v := range rec.FeatureVertices {
		_ = la.vertices.Add(float64(v))
	}

	for name, typ := range rec.AttributeTypes {
		attr := la.attribute(name)
		attr.Types |= typ
	}
	for name, values := range rec.AttributeValues {
		attr := la.attribute(name)
		for _, v := range values {
			attr.values.Insert([]byte(v))
		}
		if !attr.touched {
			attr.touched = true
			s.touched = append(s.touched, attr)
		}
	}

	la.Extents.Append(rec.Extents...)

	if rec.Bounds != nil {
		if la.Bounds == nil {
			b := *rec.Bounds
			la.Bounds = &b
		} else {
			la.Bounds.Add(rec.Bounds)
		}
	}

	if rec.HasZoom {
		if !la.HasZoom {
			la.MinZoom, la.MaxZoom, la.HasZoom = rec.Zoom, rec.Zoom, true
		} else {
			la.MinZoom = min(la.MinZoom, rec.Zoom)
			la.MaxZoom = max(la.MaxZoom, rec.Zoom)
		}
	}
}

func (la *LayerAggregate) attribute(name string) *AttributeAggregate {
	attr, ok := la.Attributes[name]
	if !ok {
		attr = &AttributeAggregate{values: hyperloglog.New14()}
		la.Attributes[name] = attr
	}
	return attr
}

// Reset returns the state to its freshly constructed form.
func (s *State) Reset() {
	s.Layers = map[string]*LayerAggregate{}
	s.BuffersProcessed = 0
	s.touched = nil
}
