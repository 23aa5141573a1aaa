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
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedTile is returned for any structural violation of the tile payload.
var ErrMalformedTile = errors.New("malformed vector tile")

// Field numbers from the vector tile protobuf schema.
const (
	tileLayers protowire.Number = 3

	layerName     protowire.Number = 1
	layerFeatures protowire.Number = 2
	layerKeys     protowire.Number = 3
	layerValues   protowire.Number = 4
	layerExtent   protowire.Number = 5
	layerVersion  protowire.Number = 15

	featureID       protowire.Number = 1
	featureTags     protowire.Number = 2
	featureType     protowire.Number = 3
	featureGeometry protowire.Number = 4

	valueString protowire.Number = 1
	valueFloat  protowire.Number = 2
	valueDouble protowire.Number = 3
	valueInt    protowire.Number = 4
	valueUint   protowire.Number = 5
	valueSint   protowire.Number = 6
	valueBool   protowire.Number = 7
)

// Geometry command ids.
const (
	cmdMoveTo    = 1
	cmdLineTo    = 2
	cmdClosePath = 7
)

// Decode parses b as a vector tile. An empty payload is a valid tile with
// no layers. All failures wrap ErrMalformedTile and name the offending
// layer, feature or offset.
func Decode(b []byte) (*Tile, error) {
	t := &Tile{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != tileLayers {
			return skipField(num, typ, b)
		}
		v, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, fmt.Errorf("layer %d: %w", len(t.Layers), err)
		}
		layer, err := decodeLayer(v)
		if err != nil {
			if layer.Name != "" {
				return 0, fmt.Errorf("layer %d (%q): %w", len(t.Layers), layer.Name, err)
			}
			return 0, fmt.Errorf("layer %d: %w", len(t.Layers), err)
		}
		t.Layers = append(t.Layers, layer)
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTile, err)
	}
	return t, nil
}

// walkFields iterates the top-level fields of a message. fn consumes the
// field value and returns the number of bytes used.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for off := 0; off < len(b); {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return fmt.Errorf("offset %d: reading tag: %w", off, protowire.ParseError(n))
		}
		start := off
		off += n
		used, err := fn(num, typ, b[off:])
		if err != nil {
			return fmt.Errorf("offset %d: %w", start, err)
		}
		off += used
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if typ == protowire.StartGroupType || typ == protowire.EndGroupType {
		return 0, fmt.Errorf("field %d: group wire type not supported", num)
	}
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
	}
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("expected length-delimited field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("expected varint field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

// consumeUint32s reads a repeated uint32 field in either packed or
// unpacked encoding and appends to dst.
func consumeUint32s(dst []uint32, typ protowire.Type, b []byte) ([]uint32, int, error) {
	if typ == protowire.VarintType {
		v, n, err := consumeVarint(typ, b)
		if err != nil {
			return dst, 0, err
		}
		if v > math.MaxUint32 {
			return dst, 0, fmt.Errorf("value %d overflows uint32", v)
		}
		return append(dst, uint32(v)), n, nil
	}
	packed, n, err := consumeBytes(typ, b)
	if err != nil {
		return dst, 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return dst, 0, fmt.Errorf("packed varint: %w", protowire.ParseError(m))
		}
		if v > math.MaxUint32 {
			return dst, 0, fmt.Errorf("packed value %d overflows uint32", v)
		}
		dst = append(dst, uint32(v))
		packed = packed[m:]
	}
	return dst, n, nil
}

func decodeLayer(b []byte) (Layer, error) {
	layer := Layer{Version: 1, Extent: DefaultExtent}
	hasName := false

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case layerName:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, fmt.Errorf("name: %w", err)
			}
			layer.Name = string(v)
			hasName = true
			return n, nil
		case layerFeatures:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, fmt.Errorf("feature %d: %w", len(layer.Features), err)
			}
			f, err := decodeFeature(v)
			if err != nil {
				return 0, fmt.Errorf("feature %d: %w", len(layer.Features), err)
			}
			layer.Features = append(layer.Features, f)
			return n, nil
		case layerKeys:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, fmt.Errorf("key %d: %w", len(layer.Keys), err)
			}
			layer.Keys = append(layer.Keys, string(v))
			return n, nil
		case layerValues:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, fmt.Errorf("value %d: %w", len(layer.Values), err)
			}
			val, err := decodeValue(v)
			if err != nil {
				return 0, fmt.Errorf("value %d: %w", len(layer.Values), err)
			}
			layer.Values = append(layer.Values, val)
			return n, nil
		case layerExtent:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, fmt.Errorf("extent: %w", err)
			}
			if v > math.MaxUint32 {
				return 0, fmt.Errorf("extent %d overflows uint32", v)
			}
			layer.Extent = uint32(v)
			return n, nil
		case layerVersion:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, fmt.Errorf("version: %w", err)
			}
			if v > math.MaxUint32 {
				return 0, fmt.Errorf("version %d overflows uint32", v)
			}
			layer.Version = uint32(v)
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return layer, err
	}
	if !hasName {
		return layer, errors.New("layer has no name")
	}

	// Tags can only be resolved once both tables are complete.
	for i := range layer.Features {
		if err := checkTags(&layer, &layer.Features[i]); err != nil {
			return layer, fmt.Errorf("feature %d: %w", i, err)
		}
	}
	return layer, nil
}

func checkTags(layer *Layer, f *Feature) error {
	if len(f.Tags)%2 != 0 {
		return fmt.Errorf("odd number of tags (%d)", len(f.Tags))
	}
	for i := 0; i < len(f.Tags); i += 2 {
		if int(f.Tags[i]) >= len(layer.Keys) {
			return fmt.Errorf("tag %d: key index %d out of range (%d keys)", i/2, f.Tags[i], len(layer.Keys))
		}
		if int(f.Tags[i+1]) >= len(layer.Values) {
			return fmt.Errorf("tag %d: value index %d out of range (%d values)", i/2, f.Tags[i+1], len(layer.Values))
		}
	}
	return nil
}

func decodeFeature(b []byte) (Feature, error) {
	var f Feature
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var err error
		var n int
		switch num {
		case featureID:
			var v uint64
			v, n, err = consumeVarint(typ, b)
			f.ID, f.HasID = v, true
		case featureTags:
			f.Tags, n, err = consumeUint32s(f.Tags, typ, b)
		case featureType:
			var v uint64
			v, n, err = consumeVarint(typ, b)
			f.Type = GeomUnknown
			if v <= uint64(GeomPolygon) {
				f.Type = GeomType(v)
			}
		case featureGeometry:
			f.Geometry, n, err = consumeUint32s(f.Geometry, typ, b)
		default:
			return skipField(num, typ, b)
		}
		if err != nil {
			return 0, fmt.Errorf("field %d: %w", num, err)
		}
		return n, nil
	})
	if err != nil {
		return f, err
	}
	if err := walkGeometry(&f); err != nil {
		return f, fmt.Errorf("geometry: %w", err)
	}
	return f, nil
}

// walkGeometry validates the command stream and records the vertex count
// and bounds of the feature.
func walkGeometry(f *Feature) error {
	var x, y int64
	g := f.Geometry
	for i := 0; i < len(g); {
		cmd := g[i]
		id, count := cmd&0x7, int(cmd>>3)
		i++
		switch id {
		case cmdMoveTo, cmdLineTo:
			if remain := len(g) - i; remain < 2*count {
				return fmt.Errorf("command %d at index %d needs %d parameters, %d remain", id, i-1, 2*count, remain)
			}
			for range count {
				x += protowire.DecodeZigZag(uint64(g[i]))
				y += protowire.DecodeZigZag(uint64(g[i+1]))
				i += 2
				f.Bounds.extend(x, y)
				f.VertexCount++
			}
		case cmdClosePath:
		default:
			return fmt.Errorf("unknown command %d at index %d", id, i-1)
		}
	}
	return nil
}

func decodeValue(b []byte) (Value, error) {
	var v Value
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case valueString:
			s, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			v = Value{Kind: KindString, String: string(s)}
			return n, nil
		case valueFloat:
			if typ != protowire.Fixed32Type {
				return 0, fmt.Errorf("float value has wire type %d", typ)
			}
			bits, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			v = Value{Kind: KindFloat, Float: float64(math.Float32frombits(bits))}
			return n, nil
		case valueDouble:
			if typ != protowire.Fixed64Type {
				return 0, fmt.Errorf("double value has wire type %d", typ)
			}
			bits, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			v = Value{Kind: KindDouble, Float: math.Float64frombits(bits)}
			return n, nil
		case valueInt, valueUint, valueSint, valueBool:
			raw, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			switch num {
			case valueInt:
				v = Value{Kind: KindInt, Int: int64(raw)}
			case valueUint:
				v = Value{Kind: KindUint, Uint: raw}
			case valueSint:
				v = Value{Kind: KindSint, Int: protowire.DecodeZigZag(raw)}
			default:
				v = Value{Kind: KindBool, Bool: raw != 0}
			}
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return v, err
	}
	if v.Kind == 0 {
		return v, errors.New("value has no type")
	}
	return v, nil
}
