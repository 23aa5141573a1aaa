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


package decompress

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(b)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecompress(t *testing.T) {
	payload := bytes.Repeat([]byte("layer roads "), 100)
	compressed := gzipBytes(t, payload)

	truncated := compressed[:len(compressed)-6]

	badCRC := bytes.Clone(compressed)
	badCRC[len(badCRC)-8] ^= 0xff

	badHeader := bytes.Clone(compressed)
	badHeader[2] = 0x00 // compression method must be deflate (8)

	tests := []struct {
		name    string
		input   []byte
		opts    Options
		want    []byte
		wantErr error
	}{
		{"gzip payload inflates", compressed, Options{}, payload, nil},
		{"raw payload passes through", payload, Options{}, payload, nil},
		{"raw payload rejected when gzip required", payload, Options{RequireGzip: true}, nil, ErrNotGzip},
		{"gzip accepted when gzip required", compressed, Options{RequireGzip: true}, payload, nil},
		{"truncated stream", truncated, Options{}, nil, ErrCorruptGzip},
		{"bad checksum", badCRC, Options{}, nil, ErrCorruptGzip},
		{"bad header", badHeader, Options{}, nil, ErrCorruptGzip},
		{"magic only", []byte{0x1f, 0x8b}, Options{}, nil, ErrCorruptGzip},
		{"inflate limit exceeded", compressed, Options{MaxInflatedBytes: 10}, nil, ErrCorruptGzip},
		{"inflate limit exactly met", compressed, Options{MaxInflatedBytes: int64(len(payload))}, payload, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decompress(tt.input, tt.opts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecompress_EmptyGzipStream(t *testing.T) {
	got, err := Decompress(gzipBytes(t, nil), Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecompress_MultiMember(t *testing.T) {
	joined := append(gzipBytes(t, []byte("abc")), gzipBytes(t, []byte("def"))...)
	got, err := Decompress(joined, Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), got)
}

func TestIsGzip(t *testing.T) {
	assert.True(t, IsGzip([]byte{0x1f, 0x8b, 0x08}))
	assert.False(t, IsGzip([]byte{0x1f}))
	assert.False(t, IsGzip(nil))
	assert.False(t, IsGzip([]byte("I am not a vector tile")))
}
