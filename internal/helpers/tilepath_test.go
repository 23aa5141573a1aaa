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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTileFile(t *testing.T) {
	assert.True(t, IsTileFile("tiles/3/4/2.pbf"))
	assert.True(t, IsTileFile("tiles/3/4/2.MVT"))
	assert.True(t, IsTileFile("x.mvt.gz"))
	assert.True(t, IsTileFile("x.pbf.gz"))
	assert.False(t, IsTileFile("x.gz"))
	assert.False(t, IsTileFile("metadata.json"))
	assert.False(t, IsTileFile("tiles/3/4"))
}

func TestParseTilePath(t *testing.T) {
	tests := []struct {
		path    string
		z, x, y uint32
		ok      bool
	}{
		{"tiles/14/8190/5448.pbf", 14, 8190, 5448, true},
		{"/srv/cache/0/0/0.mvt.gz", 0, 0, 0, true},
		{"3/7/7.mvt", 3, 7, 7, true},
		{"3/8/7.mvt", 0, 0, 0, false},
		{"3/7/8.mvt", 0, 0, 0, false},
		{"31/0/0.mvt", 0, 0, 0, false},
		{"a/1/1.mvt", 0, 0, 0, false},
		{"1/b/1.mvt", 0, 0, 0, false},
		{"1/1/c.mvt", 0, 0, 0, false},
		{"1/1/1.json", 0, 0, 0, false},
		{"1/1.mvt", 0, 0, 0, false},
		{"roads.mvt", 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			z, x, y, ok := ParseTilePath(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.z, z)
			assert.Equal(t, tt.x, x)
			assert.Equal(t, tt.y, y)
		})
	}
}
