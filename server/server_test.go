package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/pipeline"
	"github.com/postersafari/postr-engine/server/endpoint"
)

type fakeStats struct{}

func (fakeStats) InFlight() int   { return 2 }
func (fakeStats) Peak() int       { return 3 }
func (fakeStats) Processed() int  { return 10 }
func (fakeStats) Failed() int     { return 1 }
func (fakeStats) ClaimsLost() int { return 4 }

type fakeStage struct {
	name     string
	progress int
}

func (s fakeStage) Name() string                                  { return s.name }
func (s fakeStage) Start(*document.Item, pipeline.Callback) error { return nil }
func (s fakeStage) Progress() int                                 { return s.progress }
func (s fakeStage) Cancel()                                       {}
func (s fakeStage) Status() int                                   { return 0 }

type fakeSource struct {
	pipeline.Source
	open, healthy bool
	retryAt       time.Time
}

func (s fakeSource) IsOpen() bool       { return s.open }
func (s fakeSource) IsHealthy() bool    { return s.healthy }
func (s fakeSource) RetryAt() time.Time { return s.retryAt }

var info = endpoint.Info{Service: "postr-engine", Version: "test", EngineID: "engine-a"}

func newTestServer(src fakeSource) *Server {
	s := New(Config{}, nil)
	stages := []pipeline.Stage{fakeStage{"regex", 40}, fakeStage{"wordsplit", 0}}
	s.RegisterEngine(info, fakeStats{}, stages, endpoint.SourceHealth("source", src))
	return s
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	s.GinEngine().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: response is not JSON: %v", path, err)
	}
	return rr, body
}

func TestStatus(t *testing.T) {
	s := newTestServer(fakeSource{open: true, healthy: true})
	rr, body := get(t, s, "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body["engine_id"] != "engine-a" || body["processed"] != float64(10) || body["claims_lost"] != float64(4) {
		t.Errorf("unexpected counters: %v", body)
	}
	stages, _ := body["stages"].([]any)
	if len(stages) != 1 {
		t.Fatalf("expected only the running stage, got %v", body["stages"])
	}
	if st := stages[0].(map[string]any); st["stage"] != "regex" || st["progress"] != float64(40) {
		t.Errorf("unexpected stage progress: %v", st)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Error("expected a request id header")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		src      fakeSource
		code     int
		status   string
		retryKey bool
	}{
		{"up", fakeSource{open: true, healthy: true}, http.StatusOK, "up", false},
		{"degraded while unhealthy", fakeSource{open: true, retryAt: time.Now().Add(time.Minute)}, http.StatusOK, "degraded", true},
		{"down when closed", fakeSource{healthy: true}, http.StatusServiceUnavailable, "down", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr, body := get(t, newTestServer(tc.src), "/health")
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rr.Code)
			}
			if body["status"] != tc.status {
				t.Errorf("expected %s, got %v", tc.status, body["status"])
			}
			comps, _ := body["components"].([]any)
			if len(comps) != 1 {
				t.Fatalf("expected one component, got %v", body["components"])
			}
			details, _ := comps[0].(map[string]any)["details"].(map[string]any)
			if _, ok := details["retry_at"]; ok != tc.retryKey {
				t.Errorf("retry_at present = %v, want %v", ok, tc.retryKey)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	s := New(Config{}, nil)
	s.GinEngine().GET("/boom", func(c *gin.Context) { panic("test panic") })

	rr := httptest.NewRecorder()
	s.GinEngine().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", http.NoBody))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestRequestIDIsReused(t *testing.T) {
	s := newTestServer(fakeSource{open: true, healthy: true})
	req := httptest.NewRequest(http.MethodGet, "/alive", http.NoBody)
	req.Header.Set("X-Request-Id", "abc")
	rr := httptest.NewRecorder()
	s.GinEngine().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-Id"); got != "abc" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}
}

func TestStartStop(t *testing.T) {
	cfg := Config{Host: "127.0.0.1", Port: 0}
	s := New(cfg, nil)
	s.RegisterEngine(info, fakeStats{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/alive")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestConfig(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	if c.Port != 8089 || c.ReadTimeout != 5 {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if err := (&Config{Port: 70000}).Validate(); err == nil {
		t.Error("expected port error")
	}
}
