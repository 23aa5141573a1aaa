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


package aggregate

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/geostats/internal/mvt"
)

// Report is the serializable view of a State. Slices are sorted and maps
// are encoded with sorted keys, so equal states encode to identical bytes.
type Report struct {
	Name             string        `json:"name,omitempty" yaml:"name,omitempty"`
	BuffersProcessed uint64        `json:"buffersProcessed" yaml:"buffersProcessed"`
	LayerCount       int           `json:"layerCount" yaml:"layerCount"`
	Layers           []LayerReport `json:"layers" yaml:"layers"`
}

type LayerReport struct {
	Name                  string            `json:"name" yaml:"name"`
	TotalFeatureCount     uint64            `json:"totalFeatureCount" yaml:"totalFeatureCount"`
	GeometryTypeCounts    map[string]uint64 `json:"geometryTypeCounts" yaml:"geometryTypeCounts"`
	AttributeCount        int               `json:"attributeCount" yaml:"attributeCount"`
	Attributes            []string          `json:"attributes" yaml:"attributes"`
	DistinctSchemaCount   int               `json:"distinctSchemaCount" yaml:"distinctSchemaCount"`
	SchemasByGeometryType map[string]int    `json:"schemasByGeometryType" yaml:"schemasByGeometryType"`
	VertexCount           uint64            `json:"vertexCount" yaml:"vertexCount"`
	VerticesPerFeature    *Quantiles        `json:"verticesPerFeature,omitempty" yaml:"verticesPerFeature,omitempty"`
	Extents               []uint32          `json:"extents" yaml:"extents"`
	Bounds                *[4]float64       `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	MinZoom               *int              `json:"minZoom,omitempty" yaml:"minZoom,omitempty"`
	MaxZoom               *int              `json:"maxZoom,omitempty" yaml:"maxZoom,omitempty"`
	AttributeDetails      []AttributeReport `json:"attributeDetails" yaml:"attributeDetails"`
}

// Quantiles are approximate, within one percent relative accuracy.
type Quantiles struct {
	P50 float64 `json:"p50" yaml:"p50"`
	P99 float64 `json:"p99" yaml:"p99"`
	Max float64 `json:"max" yaml:"max"`
}

type AttributeReport struct {
	Name                 string   `json:"name" yaml:"name"`
	Types                []string `json:"types" yaml:"types"`
	ApproxDistinctValues uint64   `json:"approxDistinctValues" yaml:"approxDistinctValues"`
}

// BuildReport renders the state without modifying it. It is valid on an
// empty state and yields zero layers.
func BuildReport(s *State, name string) Report {
	r := Report{
		Name:             name,
		BuffersProcessed: s.BuffersProcessed,
		LayerCount:       len(s.Layers),
		Layers:           make([]LayerReport, 0, len(s.Layers)),
	}
	for layerName, la := range s.Layers {
		r.Layers = append(r.Layers, buildLayerReport(layerName, la))
	}
	slices.SortFunc(r.Layers, func(a, b LayerReport) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return r
}

func buildLayerReport(name string, la *LayerAggregate) LayerReport {
	lr := LayerReport{
		Name:                  name,
		TotalFeatureCount:     la.TotalFeatureCount,
		GeometryTypeCounts:    make(map[string]uint64, len(la.GeometryTypeCounts)),
		AttributeCount:        la.DistinctAttributeNames.Cardinality(),
		Attributes:            la.DistinctAttributeNames.ToSlice(),
		DistinctSchemaCount:   la.DistinctAttributeSchemas.Cardinality(),
		SchemasByGeometryType: make(map[string]int, len(la.SchemasByType)),
		VertexCount:           la.VertexCount,
		Extents:               la.Extents.ToSlice(),
		AttributeDetails:      make([]AttributeReport, 0, len(la.Attributes)),
	}
	slices.Sort(lr.Attributes)
	slices.Sort(lr.Extents)

	for typ, n := range la.GeometryTypeCounts {
		lr.GeometryTypeCounts[typ.String()] = n
	}
	for typ, keys := range la.SchemasByType {
		lr.SchemasByGeometryType[typ.String()] = keys.Cardinality()
	}

	if !la.vertices.IsEmpty() {
		q := &Quantiles{}
		q.P50, _ = la.vertices.GetValueAtQuantile(0.5)
		q.P99, _ = la.vertices.GetValueAtQuantile(0.99)
		q.Max, _ = la.vertices.GetMaxValue()
		lr.VerticesPerFeature = q
	}

	if la.Bounds != nil {
		lr.Bounds = &[4]float64{la.Bounds.MinX(), la.Bounds.MinY(), la.Bounds.MaxX(), la.Bounds.MaxY()}
	}
	if la.HasZoom {
		minZoom, maxZoom := la.MinZoom, la.MaxZoom
		lr.MinZoom, lr.MaxZoom = &minZoom, &maxZoom
	}

	for attrName, attr := range la.Attributes {
		lr.AttributeDetails = append(lr.AttributeDetails, AttributeReport{
			Name:                 attrName,
			Types:                typeNames(attr.Types),
			ApproxDistinctValues: attr.ApproxDistinctValues(),
		})
	}
	slices.SortFunc(lr.AttributeDetails, func(a, b AttributeReport) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return lr
}

func typeNames(t mvt.ValueType) []string {
	names := []string{}
	for _, single := range []mvt.ValueType{mvt.TypeBoolean, mvt.TypeNumber, mvt.TypeString} {
		if t&single != 0 {
			names = append(names, single.String())
		}
	}
	return names
}

// Format names a report encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCBOR Format = "cbor"
)

// ParseFormat accepts json, yaml (or yml) and cbor, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "cbor":
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("unknown report format %q (must be json, yaml or cbor)", s)
	}
}

// ContentType is the HTTP media type of the encoding.
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatCBOR:
		return "application/cbor"
	default:
		return "application/json"
	}
}

var cborEncMode cbor.EncMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("failed to create CBOR encoder: %w", err))
	}
}

// Marshal encodes the report in the given format.
func (r Report) Marshal(f Format) ([]byte, error) {
	switch f {
	case FormatJSON, "":
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(r)
	case FormatCBOR:
		return cborEncMode.Marshal(r)
	default:
		return nil, fmt.Errorf("unknown report format %q", f)
	}
}

// Encode writes the encoded report to w.
func (r Report) Encode(w io.Writer, f Format) error {
	b, err := r.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding %s report: %w", f, err)
	}
	_, err = w.Write(b)
	return err
}
