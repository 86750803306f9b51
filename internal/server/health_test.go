package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"file-exchanger/internal/rooms"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		probes     map[string]Pinger
		wantCode   int
		wantStatus HealthStatus
	}{
		{"no probes", nil, http.StatusOK, HealthStatusHealthy},
		{"all up", map[string]Pinger{"rooms_storage": fakePinger{}, "audit_db": fakePinger{}}, http.StatusOK, HealthStatusHealthy},
		{"db down", map[string]Pinger{"rooms_storage": fakePinger{}, "audit_db": fakePinger{err: errors.New("refused")}}, http.StatusServiceUnavailable, HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t, func(c *Config, _ *rooms.Config) { c.Probes = tt.probes })

			rr := env.do(t, http.MethodGet, "/health", nil, nil)
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rr.Code)
			}
			var h Health
			if err := json.Unmarshal(rr.Body.Bytes(), &h); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if h.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s", h.Status, tt.wantStatus)
			}
			if len(h.Components) != len(tt.probes) {
				t.Fatalf("expected %d components, got %d", len(tt.probes), len(h.Components))
			}
			if h.Version != "test" {
				t.Fatalf("version = %q", h.Version)
			}
			if strings.Contains(rr.Body.String(), "refused") {
				t.Fatal("probe errors must not be exposed")
			}
		})
	}
}

func TestReady(t *testing.T) {
	env := newTestServer(t)
	if rr := env.do(t, http.MethodGet, "/ready", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with local storage, got %d", rr.Code)
	}

	env = newTestServer(t, func(c *Config, _ *rooms.Config) {
		c.Probes = map[string]Pinger{"shared_storage": fakePinger{err: errors.New("bucket missing")}}
	})
	rr := env.do(t, http.MethodGet, "/ready", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "shared_storage unavailable") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestLive(t *testing.T) {
	env := newTestServer(t, func(c *Config, _ *rooms.Config) {
		c.Probes = map[string]Pinger{"audit_db": fakePinger{err: errors.New("down")}}
	})
	rr := env.do(t, http.MethodGet, "/live", nil, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "alive") {
		t.Fatalf("live must not depend on probes: %d %s", rr.Code, rr.Body.String())
	}
}

func TestDetermineOverallHealth(t *testing.T) {
	tests := []struct {
		components map[string]ComponentHealth
		want       HealthStatus
	}{
		{map[string]ComponentHealth{}, HealthStatusHealthy},
		{map[string]ComponentHealth{"a": {Status: ComponentStatusUp}}, HealthStatusHealthy},
		{map[string]ComponentHealth{"a": {Status: ComponentStatusUp}, "b": {Status: ComponentStatusDegraded}}, HealthStatusDegraded},
		{map[string]ComponentHealth{"a": {Status: ComponentStatusDegraded}, "b": {Status: ComponentStatusDown}}, HealthStatusUnhealthy},
	}
	for i, tt := range tests {
		if got := determineOverallHealth(tt.components); got != tt.want {
			t.Errorf("case %d: got %s, want %s", i, got, tt.want)
		}
	}
}

func TestPrometheusMetrics(t *testing.T) {
	env := newTestServer(t)
	id := env.createRoom(t, "secret")
	env.postJSON(t, "/api/join-room", map[string]string{"room_id": id, "password": "nope"})
	env.do(t, http.MethodPost, "/api/upload", strings.NewReader("12345"), map[string]string{"X-Filename": "m.txt"})
	env.do(t, http.MethodGet, "/api/download/m.txt", nil, nil)

	rr := env.do(t, http.MethodGet, "/metrics", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`sfx_info{version="test"} 1`,
		"sfx_rooms_created_total 1",
		`sfx_room_joins_total{result="failed"} 1`,
		"sfx_uploads_total 1",
		"sfx_upload_bytes_total 5",
		"sfx_downloads_total 1",
		"sfx_rooms 1",
		`sfx_request_errors_total{class="4xx"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestPrometheusLabel(t *testing.T) {
	if got := prometheusLabel("a\"b\\c\nd"); got != `a\"b\\c\nd` {
		t.Fatalf("got %q", got)
	}
}
