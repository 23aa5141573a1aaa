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


package healthcheck

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "starting", StatusStarting.String())
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
	assert.Equal(t, "unknown", Status(999).String())
}

func probe(t *testing.T, mux *http.ServeMux, path string) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, resp
}

func TestProbes_Endpoints(t *testing.T) {
	p := New()
	mux := http.NewServeMux()
	p.Register(mux)

	code, resp := probe(t, mux, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "starting", resp.Status)

	code, _ = probe(t, mux, "/livez")
	assert.Equal(t, http.StatusOK, code)

	code, _ = probe(t, mux, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	p.SetStatus(StatusHealthy)
	p.SetReady(true)

	code, resp = probe(t, mux, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Healthy)

	code, _ = probe(t, mux, "/readyz")
	assert.Equal(t, http.StatusOK, code)

	p.SetStatus(StatusUnhealthy)
	code, resp = probe(t, mux, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Healthy)
}

func TestProbes_ReadyConditions(t *testing.T) {
	p := New()
	p.SetReady(true)
	assert.True(t, p.IsReady())

	p.SetReadyCondition("listener", false)
	assert.False(t, p.IsReady())

	p.SetReadyCondition("listener", true)
	assert.True(t, p.IsReady())

	p.SetReadyCondition("cache", false)
	p.ClearReadyCondition("cache")
	assert.True(t, p.IsReady())

	p.SetReady(false)
	assert.False(t, p.IsReady())
}
