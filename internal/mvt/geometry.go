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
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

func command(id, count int) uint32 {
	return uint32(count<<3 | id)
}

func zigzag(v int32) uint32 {
	return uint32(protowire.EncodeZigZag(int64(v)))
}

type cursor struct{ x, y int32 }

func (c *cursor) moveTo(dst []uint32, p [2]int32) []uint32 {
	dst = append(dst, zigzag(p[0]-c.x), zigzag(p[1]-c.y))
	c.x, c.y = p[0], p[1]
	return dst
}

// PointGeometry encodes one or more points as a single MoveTo command.
func PointGeometry(points ...[2]int32) []uint32 {
	if len(points) == 0 {
		return nil
	}
	var c cursor
	g := []uint32{command(cmdMoveTo, len(points))}
	for _, p := range points {
		g = c.moveTo(g, p)
	}
	return g
}

// LineGeometry encodes a single linestring of at least two points.
func LineGeometry(points ...[2]int32) []uint32 {
	if len(points) < 2 {
		return nil
	}
	var c cursor
	g := []uint32{command(cmdMoveTo, 1)}
	g = c.moveTo(g, points[0])
	g = append(g, command(cmdLineTo, len(points)-1))
	for _, p := range points[1:] {
		g = c.moveTo(g, p)
	}
	return g
}

// PolygonGeometry encodes rings without their repeated closing point. The
// first ring is the exterior.
func PolygonGeometry(rings ...[][2]int32) []uint32 {
	var c cursor
	var g []uint32
	for _, ring := range rings {
		if len(ring) < 3 {
			continue
		}
		g = append(g, command(cmdMoveTo, 1))
		g = c.moveTo(g, ring[0])
		g = append(g, command(cmdLineTo, len(ring)-1))
		for _, p := range ring[1:] {
			g = c.moveTo(g, p)
		}
		g = append(g, command(cmdClosePath, 1))
	}
	return g
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
