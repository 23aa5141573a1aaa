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


package mvt

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encode serializes t as a vector tile payload. Feature geometry is written
// as given; VertexCount and Bounds are ignored.
func Encode(t *Tile) []byte {
	var b []byte
	for i := range t.Layers {
		b = protowire.AppendTag(b, tileLayers, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeLayer(&t.Layers[i]))
	}
	return b
}

func encodeLayer(l *Layer) []byte {
	var b []byte
	b = protowire.AppendTag(b, layerVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(max(l.Version, 1)))
	b = protowire.AppendTag(b, layerName, protowire.BytesType)
	b = protowire.AppendString(b, l.Name)
	for i := range l.Features {
		b = protowire.AppendTag(b, layerFeatures, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFeature(&l.Features[i]))
	}
	for _, k := range l.Keys {
		b = protowire.AppendTag(b, layerKeys, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for _, v := range l.Values {
		b = protowire.AppendTag(b, layerValues, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeValue(v))
	}
	extent := l.Extent
	if extent == 0 {
		extent = DefaultExtent
	}
	b = protowire.AppendTag(b, layerExtent, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(extent))
	return b
}

func encodeFeature(f *Feature) []byte {
	var b []byte
	if f.HasID {
		b = protowire.AppendTag(b, featureID, protowire.VarintType)
		b = protowire.AppendVarint(b, f.ID)
	}
	if len(f.Tags) > 0 {
		b = protowire.AppendTag(b, featureTags, protowire.BytesType)
		b = protowire.AppendBytes(b, packUint32s(f.Tags))
	}
	b = protowire.AppendTag(b, featureType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))
	if len(f.Geometry) > 0 {
		b = protowire.AppendTag(b, featureGeometry, protowire.BytesType)
		b = protowire.AppendBytes(b, packUint32s(f.Geometry))
	}
	return b
}

func packUint32s(vs []uint32) []byte {
	b := make([]byte, 0, len(vs))
	for _, v := range vs {
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}

func encodeValue(v Value) []byte {
	var b []byte
	switch v.Kind {
	case KindString:
		b = protowire.AppendTag(b, valueString, protowire.BytesType)
		b = protowire.AppendString(b, v.String)
	case KindFloat:
		b = protowire.AppendTag(b, valueFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(float32(v.Float)))
	case KindDouble:
		b = protowire.AppendTag(b, valueDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.Float))
	case KindInt:
		b = protowire.AppendTag(b, valueInt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Int))
	case KindUint:
		b = protowire.AppendTag(b, valueUint, protowire.VarintType)
		b = protowire.AppendVarint(b, v.Uint)
	case KindSint:
		b = protowire.AppendTag(b, valueSint, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v.Int))
	case KindBool:
		b = protowire.AppendTag(b, valueBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(v.Bool))
	}
	return b
}

// LayerBuilder assembles a layer, interning keys and values the way tile
// encoders do.
type LayerBuilder struct {
	layer  Layer
	keys   map[string]uint32
	values map[Value]uint32
}

func NewLayerBuilder(name string) *LayerBuilder {
	return &LayerBuilder{
		layer:  Layer{Name: name, Version: 2, Extent: DefaultExtent},
		keys:   map[string]uint32{},
		values: map[Value]uint32{},
	}
}

// Add appends a feature with the given geometry commands and properties.
// Property values may be string, bool, any integer type, float32, float64
// or a Value. VertexCount and Bounds are filled in as Decode would.
func (lb *LayerBuilder) Add(typ GeomType, geometry []uint32, props map[string]any) *LayerBuilder {
	f := Feature{Type: typ, Geometry: geometry}
	_ = walkGeometry(&f)
	for _, k := range sortedKeys(props) {
		f.Tags = append(f.Tags, lb.key(k), lb.value(ValueOf(props[k])))
	}
	lb.layer.Features = append(lb.layer.Features, f)
	return lb
}

// Layer returns the assembled layer.
func (lb *LayerBuilder) Layer() Layer {
	return lb.layer
}

func (lb *LayerBuilder) key(k string) uint32 {
	if idx, ok := lb.keys[k]; ok {
		return idx
	}
	idx := uint32(len(lb.layer.Keys))
	lb.layer.Keys = append(lb.layer.Keys, k)
	lb.keys[k] = idx
	return idx
}

func (lb *LayerBuilder) value(v Value) uint32 {
	if idx, ok := lb.values[v]; ok {
		return idx
	}
	idx := uint32(len(lb.layer.Values))
	lb.layer.Values = append(lb.layer.Values, v)
	lb.values[v] = idx
	return idx
}

// ValueOf converts a Go value into a tile Value. It panics on unsupported
// types; it is meant for building fixtures and synthetic tiles.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return IntValue(int64(t))
	case int32:
		return IntValue(int64(t))
	case int64:
		return IntValue(t)
	case uint:
		return Value{Kind: KindUint, Uint: uint64(t)}
	case uint32:
		return Value{Kind: KindUint, Uint: uint64(t)}
	case uint64:
		return Value{Kind: KindUint, Uint: t}
	case float32:
		return Value{Kind: KindFloat, Float: float64(t)}
	case float64:
		return DoubleValue(t)
	default:
		panic(fmt.Sprintf("mvt: unsupported property type %T", v))
	}
}
