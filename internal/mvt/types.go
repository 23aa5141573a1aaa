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


// Package mvt decodes and encodes the Mapbox Vector Tile protobuf payload.
// Only the structure needed to compute statistics is interpreted; geometry
// command streams are walked to count vertices and bound them, never rendered.
package mvt

import (
	"math"
	"strconv"
)

// DefaultExtent is the layer extent assumed when a layer omits it.
const DefaultExtent = 4096

// GeomType is the geometry type tag carried by a feature.
type GeomType int32

const (
	GeomUnknown GeomType = 0
	GeomPoint   GeomType = 1
	GeomLine    GeomType = 2
	GeomPolygon GeomType = 3
)

func (g GeomType) String() string {
	switch g {
	case GeomPoint:
		return "point"
	case GeomLine:
		return "line"
	case GeomPolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// ValueKind identifies which member of a tile Value is set.
type ValueKind uint8

const (
	KindString ValueKind = iota + 1
	KindFloat
	KindDouble
	KindInt
	KindUint
	KindSint
	KindBool
)

// ValueType is the coarse type of an attribute value.
type ValueType uint8

const (
	TypeString ValueType = 1 << iota
	TypeNumber
	TypeBoolean
)

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	default:
		return "mixed"
	}
}

// Value is one entry of a layer's value table.
type Value struct {
	Kind   ValueKind
	String string
	Float  float64 // float and double
	Int    int64   // int and sint
	Uint   uint64
	Bool   bool
}

// Type collapses the wire kind into string, number or boolean.
func (v Value) Type() ValueType {
	switch v.Kind {
	case KindString:
		return TypeString
	case KindBool:
		return TypeBoolean
	default:
		return TypeNumber
	}
}

// Canonical renders the value as text. Numbers that compare equal render
// identically regardless of their wire kind, so 1 (int) and 1.0 (double)
// count as the same value.
func (v Value) Canonical() string {
	switch v.Kind {
	case KindString:
		return v.String
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt, KindSint:
		return strconv.FormatInt(v.Int, 10)
	case KindUint:
		return strconv.FormatUint(v.Uint, 10)
	case KindFloat, KindDouble:
		if v.Float == math.Trunc(v.Float) && math.Abs(v.Float) < 1<<53 {
			return strconv.FormatInt(int64(v.Float), 10)
		}
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return ""
	}
}

// StringValue, IntValue, DoubleValue and BoolValue build table values.
func StringValue(s string) Value  { return Value{Kind: KindString, String: s} }
func IntValue(i int64) Value      { return Value{Kind: KindInt, Int: i} }
func DoubleValue(f float64) Value { return Value{Kind: KindDouble, Float: f} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

// Feature is one feature of a layer. Tags index the layer's Keys and Values
// tables in pairs.
type Feature struct {
	ID       uint64
	HasID    bool
	Type     GeomType
	Tags     []uint32
	Geometry []uint32

	// Filled in by Decode while walking the geometry command stream.
	VertexCount int
	Bounds      Bounds
}

// Bounds is an axis-aligned box in tile coordinates. Valid is false when
// the geometry has no vertices.
type Bounds struct {
	MinX, MinY, MaxX, MaxY int64
	Valid                  bool
}

func (b *Bounds) extend(x, y int64) {
	if !b.Valid {
		*b = Bounds{MinX: x, MinY: y, MaxX: x, MaxY: y, Valid: true}
		return
	}
	b.MinX = min(b.MinX, x)
	b.MinY = min(b.MinY, y)
	b.MaxX = max(b.MaxX, x)
	b.MaxY = max(b.MaxY, y)
}

// Layer is a named collection of features sharing key and value tables.
type Layer struct {
	Name     string
	Version  uint32
	Extent   uint32
	Keys     []string
	Values   []Value
	Features []Feature
}

// Property is a resolved key/value pair of a feature.
type Property struct {
	Key   string
	Value Value
}

// Properties resolves the tag pairs of f against the layer tables. The
// feature must belong to a decoded (validated) layer.
func (l *Layer) Properties(f *Feature) []Property {
	props := make([]Property, 0, len(f.Tags)/2)
	for i := 0; i+1 < len(f.Tags); i += 2 {
		props = append(props, Property{
			Key:   l.Keys[f.Tags[i]],
			Value: l.Values[f.Tags[i+1]],
		})
	}
	return props
}

// Tile is a decoded vector tile.
type Tile struct {
	Layers []Layer
}
