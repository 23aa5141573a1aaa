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


// Package tileserver exposes named accumulators over HTTP.
package tileserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cardinalhq/geostats/internal/healthcheck"
	"github.com/cardinalhq/geostats/internal/idgen"
	"github.com/cardinalhq/geostats/internal/logctx"
	"github.com/cardinalhq/geostats/pkg/geostats"
)

type Config struct {
	Port         int
	IdleTimeout  time.Duration
	MaxBodyBytes int64
	Accumulator  geostats.Config
}

// Server holds named accumulators. An accumulator is created by the first
// tile posted to its name and evicted after IdleTimeout without traffic.
type Server struct {
	cfg          Config
	accumulators *ttlcache.Cache[string, *geostats.Accumulator]
	probes       *healthcheck.Probes
}

type AddResponse struct {
	Accumulator      string `json:"accumulator"`
	BuffersProcessed uint64 `json:"buffersProcessed"`
}

type AccumulatorInfo struct {
	Name             string `json:"name"`
	BuffersProcessed uint64 `json:"buffersProcessed"`
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func New(cfg Config, probes *healthcheck.Probes) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = ttlcache.NoTTL
	}
	if probes == nil {
		probes = healthcheck.New()
	}
	s := &Server{
		cfg: cfg,
		accumulators: ttlcache.New(
			ttlcache.WithTTL[string, *geostats.Accumulator](cfg.IdleTimeout),
		),
		probes: probes,
	}
	s.accumulators.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *geostats.Accumulator]) {
		if reason == ttlcache.EvictionReasonExpired {
			slog.Info("Evicted idle accumulator",
				slog.String("accumulator", item.Key()),
				slog.Uint64("buffersProcessed", item.Value().BuffersProcessed()))
		}
	})
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/accumulators", s.handleList)
	mux.HandleFunc("POST /api/v1/accumulators/{name}/tiles", s.handleAddTile)
	mux.HandleFunc("GET /api/v1/accumulators/{name}/stats", s.handleStats)
	mux.HandleFunc("DELETE /api/v1/accumulators/{name}", s.handleDelete)
	s.probes.Register(mux)
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.accumulators.Start()
	defer s.accumulators.Stop()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting geostats server", slog.String("addr", addr))

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	s.probes.SetStatus(healthcheck.StatusHealthy)
	s.probes.SetReady(true)

	select {
	case <-ctx.Done():
		s.probes.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		s.probes.SetStatus(healthcheck.StatusUnhealthy)
		return err
	}
}

// accumulator returns the named accumulator, creating it on first use.
func (s *Server) accumulator(name string) *geostats.Accumulator {
	if item := s.accumulators.Get(name); item != nil {
		return item.Value()
	}
	item, _ := s.accumulators.GetOrSet(name, geostats.New(name, geostats.WithConfig(s.cfg.Accumulator)))
	return item.Value()
}

func (s *Server) handleAddTile(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	ctx := logctx.With(req.Context(),
		slog.String("requestID", idgen.ShortID()),
		slog.String("remote", req.RemoteAddr))

	id, hasID, err := parseTileID(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	body := req.Body
	if s.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, req.Body, s.cfg.MaxBodyBytes)
	}
	buf, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("reading tile: %v", err)})
		return
	}

	acc := s.accumulator(name)
	if hasID {
		err = acc.AddTile(ctx, id, buf)
	} else {
		err = acc.AddBuffer(ctx, buf)
	}
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Stage: string(geostats.StageOf(err))})
		return
	}

	writeJSON(w, http.StatusOK, AddResponse{Accumulator: name, BuffersProcessed: acc.BuffersProcessed()})
}

func (s *Server) handleStats(w http.ResponseWriter, req *http.Request) {
	item := s.accumulators.Get(req.PathValue("name"))
	if item == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "accumulator not found"})
		return
	}
	format, err := geostats.ParseFormat(req.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	b, err := item.Value().GetStats().Marshal(format)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) handleDelete(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if !s.accumulators.Has(name) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "accumulator not found"})
		return
	}
	s.accumulators.Delete(name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	items := s.accumulators.Items()
	infos := make([]AccumulatorInfo, 0, len(items))
	for name, item := range items {
		infos = append(infos, AccumulatorInfo{Name: name, BuffersProcessed: item.Value().BuffersProcessed()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	writeJSON(w, http.StatusOK, infos)
}

// parseTileID reads the optional z, x and y query parameters. Either all
// three are present or none.
func parseTileID(req *http.Request) (geostats.TileID, bool, error) {
	q := req.URL.Query()
	if !q.Has("z") && !q.Has("x") && !q.Has("y") {
		return geostats.TileID{}, false, nil
	}
	var coords [3]uint32
	for i, key := range []string{"z", "x", "y"} {
		v, err := strconv.ParseUint(q.Get(key), 10, 32)
		if err != nil {
			return geostats.TileID{}, false, fmt.Errorf("tile coordinates need z, x and y as unsigned integers: bad %s %q", key, q.Get(key))
		}
		coords[i] = uint32(v)
	}
	return geostats.TileID{Z: coords[0], X: coords[1], Y: coords[2]}, true, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, geostats.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, geostats.ErrNotGzip),
		errors.Is(err, geostats.ErrCorruptGzip),
		errors.Is(err, geostats.ErrMalformedTile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", slog.Any("error", err))
	}
}
