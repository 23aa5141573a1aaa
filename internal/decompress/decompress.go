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


// Package decompress inflates gzip-compressed tile payloads and passes raw
// payloads through untouched.
package decompress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// DefaultMaxInflatedBytes bounds the size of a single inflated tile.
const DefaultMaxInflatedBytes = 64 << 20

var (
	// ErrNotGzip is returned when gzip is required and the payload lacks the gzip magic.
	ErrNotGzip = errors.New("payload is not gzip compressed")

	// ErrCorruptGzip is returned when the payload has the gzip magic but cannot be inflated.
	ErrCorruptGzip = errors.New("corrupt gzip payload")
)

var gzipMagic = []byte{0x1f, 0x8b}

type Options struct {
	// RequireGzip rejects payloads without the gzip magic instead of passing them through.
	RequireGzip bool
	// MaxInflatedBytes caps the inflated size. Zero means DefaultMaxInflatedBytes.
	MaxInflatedBytes int64
}

// IsGzip reports whether b starts with the two-byte gzip magic.
func IsGzip(b []byte) bool {
	return bytes.HasPrefix(b, gzipMagic)
}

// Decompress returns the inflated form of b when it is gzip compressed,
// and b itself otherwise. The returned slice never aliases internal buffers
// of the gzip reader.
func Decompress(b []byte, opts Options) ([]byte, error) {
	if !IsGzip(b) {
		if opts.RequireGzip {
			return nil, ErrNotGzip
		}
		return b, nil
	}

	limit := opts.MaxInflatedBytes
	if limit <= 0 {
		limit = DefaultMaxInflatedBytes
	}

	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrCorruptGzip, err)
	}
	defer func() { _ = zr.Close() }()

	// Tiles usually compress around 4:1.
	var out bytes.Buffer
	out.Grow(min(len(b)*4, int(limit)))

	n, err := io.Copy(&out, io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflating: %w", ErrCorruptGzip, err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: inflated size exceeds %d bytes", ErrCorruptGzip, limit)
	}
	return out.Bytes(), nil
}
