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


package tilescan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/geostats/internal/mvt"
	"github.com/cardinalhq/geostats/internal/tilegen"
	"github.com/cardinalhq/geostats/pkg/geostats"
)

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, b, 0o644))
}

func tileDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	tile := tilegen.Tile(tilegen.Options{Layers: 2, FeaturesPerLayer: 4, Seed: 3})
	gz, err := tilegen.Gzip(tile)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "5", "10", "12.pbf"), gz)
	writeFile(t, filepath.Join(dir, "9", "300", "200.mvt.gz"), gz)
	writeFile(t, filepath.Join(dir, "loose.mvt"), mvt.Encode(tile))
	writeFile(t, filepath.Join(dir, "metadata.json"), []byte(`{}`))
	return dir
}

func TestFiles(t *testing.T) {
	dir := tileDir(t)
	files, err := Files([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "5", "10", "12.pbf"),
		filepath.Join(dir, "9", "300", "200.mvt.gz"),
		filepath.Join(dir, "loose.mvt"),
	}, files)

	explicit := filepath.Join(dir, "metadata.json")
	files, err = Files([]string{explicit})
	require.NoError(t, err)
	assert.Equal(t, []string{explicit}, files)

	_, err = Files([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestScan_AllGood(t *testing.T) {
	dir := tileDir(t)
	files, err := Files([]string{dir})
	require.NoError(t, err)

	acc := geostats.New("scan")
	summary, err := Scan(context.Background(), acc, files, Options{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, Summary{Files: 3, Accepted: 3, Bytes: summary.Bytes}, summary)
	assert.Positive(t, summary.Bytes)

	r := acc.GetStats()
	assert.Equal(t, uint64(3), r.BuffersProcessed)
	require.Len(t, r.Layers, 2)
	for _, l := range r.Layers {
		assert.Equal(t, uint64(12), l.TotalFeatureCount)
		require.NotNil(t, l.MinZoom)
		assert.Equal(t, 5, *l.MinZoom)
		assert.Equal(t, 9, *l.MaxZoom)
	}
}

func TestScan_CollectsFailures(t *testing.T) {
	dir := tileDir(t)
	writeFile(t, filepath.Join(dir, "broken.mvt"), []byte("I am not a vector tile"))
	writeFile(t, filepath.Join(dir, "empty.pbf"), nil)

	files, err := Files([]string{dir})
	require.NoError(t, err)

	acc := geostats.New("scan")
	summary, err := Scan(context.Background(), acc, files, Options{Concurrency: 4})
	require.Error(t, err)
	assert.Equal(t, 5, summary.Files)
	assert.Equal(t, 3, summary.Accepted)
	assert.Equal(t, 2, summary.Failed)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 2)
	assert.ErrorIs(t, merr.Errors[0], geostats.ErrMalformedTile)
	assert.Contains(t, merr.Errors[0].Error(), "broken.mvt")
	assert.ErrorIs(t, merr.Errors[1], geostats.ErrInvalidInput)
	assert.Contains(t, merr.Errors[1].Error(), "empty.pbf")

	assert.Equal(t, uint64(3), acc.BuffersProcessed())
}

func TestScan_FailFast(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.mvt")
	writeFile(t, bad, []byte("I am not a vector tile"))

	acc := geostats.New("scan")
	summary, err := Scan(context.Background(), acc, []string{bad}, Options{FailFast: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, geostats.ErrMalformedTile)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, uint64(0), acc.BuffersProcessed())
}

func TestScan_MissingFile(t *testing.T) {
	acc := geostats.New("scan")
	_, err := Scan(context.Background(), acc, []string{filepath.Join(t.TempDir(), "gone.mvt")}, Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
