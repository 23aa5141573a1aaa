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


// Package tilescan feeds tile files from disk into an accumulator.
package tilescan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/geostats/internal/helpers"
	"github.com/cardinalhq/geostats/internal/logctx"
	"github.com/cardinalhq/geostats/pkg/geostats"
)

type Options struct {
	Concurrency int
	// FailFast stops at the first rejected file instead of collecting
	// every failure.
	FailFast bool
}

// Summary describes one scan.
type Summary struct {
	Files    int
	Accepted int
	Failed   int
	Bytes    int64
}

// fileError ties a failure to the file that caused it.
type fileError struct {
	path string
	err  error
}

func (e *fileError) Error() string { return fmt.Sprintf("%s: %v", e.path, e.err) }
func (e *fileError) Unwrap() error { return e.err }

// Files expands paths into the tile files they name. Directories are walked
// recursively; regular files are taken as given even without a tile
// extension. The result is sorted.
func Files(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() && helpers.IsTileFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Scan adds every file to acc. Files laid out as {z}/{x}/{y}.ext carry their
// zoom level into the report. Failures are logged and returned together as
// a *multierror.Error ordered by path, unless FailFast is set, in which
// case the first failure is returned and the scan stops.
func Scan(ctx context.Context, acc *geostats.Accumulator, files []string, opts Options) (Summary, error) {
	ll := logctx.FromContext(ctx)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	var (
		mu      sync.Mutex
		summary = Summary{Files: len(files)}
		failed  []*fileError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, err := addFile(gctx, acc, path)
			mu.Lock()
			defer mu.Unlock()
			summary.Bytes += n
			if err == nil {
				summary.Accepted++
				return nil
			}
			summary.Failed++
			ll.Warn("Skipping tile file", slog.String("path", path), slog.Any("error", err))
			fe := &fileError{path: path, err: err}
			if opts.FailFast {
				return fe
			}
			failed = append(failed, fe)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].path < failed[j].path })
	var result *multierror.Error
	for _, fe := range failed {
		result = multierror.Append(result, fe)
	}
	return summary, result.ErrorOrNil()
}

func addFile(ctx context.Context, acc *geostats.Accumulator, path string) (int64, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if z, x, y, ok := helpers.ParseTilePath(path); ok {
		return int64(len(buf)), acc.AddTile(ctx, geostats.TileID{Z: z, X: x, Y: y}, buf)
	}
	return int64(len(buf)), acc.AddBuffer(ctx, buf)
}
