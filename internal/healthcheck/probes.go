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


// Package healthcheck serves liveness and readiness probes for the
// geostats HTTP server.
package healthcheck

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

type Response struct {
	Healthy bool   `json:"healthy"`
	Status  string `json:"status"`
}

// Probes tracks process health. Mount it on a mux with Register.
type Probes struct {
	status     atomic.Int32
	ready      atomic.Bool
	conditions sync.Map // map[string]bool
}

func New() *Probes {
	return &Probes{}
}

func (p *Probes) SetStatus(status Status) {
	p.status.Store(int32(status))
	slog.Debug("Health check status updated", slog.String("status", status.String()))
}

func (p *Probes) Status() Status {
	return Status(p.status.Load())
}

func (p *Probes) SetReady(ready bool) {
	p.ready.Store(ready)
	slog.Debug("Ready status updated", slog.Bool("ready", ready))
}

// SetReadyCondition sets a named readiness condition. All conditions must be
// true, along with the base ready flag, for IsReady to return true.
func (p *Probes) SetReadyCondition(name string, ready bool) {
	p.conditions.Store(name, ready)
	slog.Debug("Ready condition updated", slog.String("condition", name), slog.Bool("ready", ready))
}

func (p *Probes) ClearReadyCondition(name string) {
	p.conditions.Delete(name)
}

func (p *Probes) IsReady() bool {
	if !p.ready.Load() {
		return false
	}
	ready := true
	p.conditions.Range(func(_, value any) bool {
		if !value.(bool) {
			ready = false
			return false
		}
		return true
	})
	return ready
}

// Register mounts /healthz, /readyz and /livez on mux.
func (p *Probes) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		p.respond(w, p.Status() == StatusHealthy)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		p.respond(w, p.IsReady())
	})
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, _ *http.Request) {
		p.respond(w, p.Status() != StatusUnhealthy)
	})
}

func (p *Probes) respond(w http.ResponseWriter, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	resp := Response{Healthy: ok, Status: p.Status().String()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}
