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


package geostats

import (
	"errors"
	"fmt"

	"github.com/cardinalhq/geostats/internal/decompress"
	"github.com/cardinalhq/geostats/internal/mvt"
)

var (
	// ErrInvalidInput is returned for a missing or empty buffer.
	ErrInvalidInput = errors.New("no tile buffer passed to AddBuffer")
	// ErrNotGzip is returned when gzip is required and the buffer is raw.
	ErrNotGzip = decompress.ErrNotGzip
	// ErrCorruptGzip is returned when a gzip buffer cannot be inflated.
	ErrCorruptGzip = decompress.ErrCorruptGzip
	// ErrMalformedTile is returned when the inflated buffer is not a valid vector tile.
	ErrMalformedTile = mvt.ErrMalformedTile
)

// Stage names the processing step that rejected a buffer.
type Stage string

const (
	StageInput      Stage = "input"
	StageDecompress Stage = "decompress"
	StageDecode     Stage = "decode"
)

// Error is returned by the Add methods. The accumulator state is unchanged
// whenever an Error is returned. Use errors.Is against the Err* sentinels
// to classify it.
type Error struct {
	Stage       Stage
	Accumulator string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("geostats %s: %s stage: %v", e.Accumulator, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StageOf reports the stage that rejected err, or "" when err did not come
// from an accumulator stage.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
