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
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/cardinalhq/geostats/internal/mvt"
)

// DedupKey fingerprints an attribute schema: the layer, the geometry type and
// the sorted set of attribute names. It identifies schema variants only and
// is never used for counting.
type DedupKey uint64

// KeyFor computes the DedupKey of a schema. names need not be sorted.
func KeyFor(layer string, typ mvt.GeomType, names []string) DedupKey {
	if !slices.IsSorted(names) {
		names = slices.Sorted(slices.Values(names))
	}

	h := xxhash.New()
	_, _ = h.WriteString(layer)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(typ.String())
	prev := ""
	for i, name := range names {
		if i > 0 && name == prev {
			continue
		}
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(name)
		prev = name
	}
	return DedupKey(h.Sum64())
}
