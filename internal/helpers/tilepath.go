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


package helpers

import (
	"path/filepath"
	"strconv"
	"strings"
)

// MaxZoom is the deepest zoom level ParseTilePath accepts.
const MaxZoom = 30

var tileExtensions = []string{".mvt.gz", ".pbf.gz", ".mvt", ".pbf"}

// trimTileExt strips a known tile extension, reporting whether one matched.
func trimTileExt(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, ext := range tileExtensions {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)], true
		}
	}
	return name, false
}

// IsTileFile reports whether p names a vector tile, compressed or not.
func IsTileFile(p string) bool {
	_, ok := trimTileExt(filepath.Base(p))
	return ok
}

// ParseTilePath extracts the tile coordinates from a path laid out as
// .../{z}/{x}/{y}.ext, the usual tile cache layout.
func ParseTilePath(p string) (z, x, y uint32, ok bool) {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(p)), "/")
	if len(parts) < 3 {
		return 0, 0, 0, false
	}
	n := len(parts)
	ystr, ok := trimTileExt(parts[n-1])
	if !ok {
		return 0, 0, 0, false
	}

	zz, err := strconv.ParseUint(parts[n-3], 10, 32)
	if err != nil || zz > MaxZoom {
		return 0, 0, 0, false
	}
	xx, err := strconv.ParseUint(parts[n-2], 10, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	yy, err := strconv.ParseUint(ystr, 10, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	if xx >= 1<<zz || yy >= 1<<zz {
		return 0, 0, 0, false
	}
	return uint32(zz), uint32(xx), uint32(yy), true
}
