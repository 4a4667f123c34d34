package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"netsweep/scanner"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRouter(t *testing.T) (*gin.Engine, *scanner.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	orch := scanner.New(scanner.Config{
		Ping: func(_ context.Context, ip string, _ time.Duration) scanner.HostProbe {
			if ip == "10.0.0.1" {
				return scanner.HostProbe{Reachable: true, Latency: 2 * time.Millisecond, HasLatency: true}
			}
			return scanner.HostProbe{}
		},
		Probe: func(_ string, port int, _ time.Duration) (bool, error) {
			return port == 22 || port == 80, nil
		},
		PortConcurrency: 16,
	}, nil)

	router := gin.New()
	NewServer(orch).RegisterRoutes(router)
	return router, orch
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func waitForIdle(t *testing.T, orch *scanner.Orchestrator) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for orch.Stats().State != scanner.StateIdle {
		select {
		case <-deadline:
			t.Fatal("sweep never finished")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartSweepEndpoint(t *testing.T) {
	router, orch := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/sweeps", SweepRequest{
		Targets: []string{"10.0.0.1", "10.0.0.2"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var accepted SweepAcceptedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &accepted); err != nil {
		t.Fatal(err)
	}
	if accepted.Generation != 1 {
		t.Errorf("generation = %d, want 1", accepted.Generation)
	}

	waitForIdle(t, orch)

	w = doJSON(t, router, http.MethodGet, "/hosts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", w.Code)
	}
	var rows []scanner.HostResult
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || !rows[0].Reachable || rows[1].Reachable {
		t.Errorf("rows = %+v", rows)
	}
}

func TestStartSweepRejectsEmptyTargets(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/sweeps", map[string]any{"targets": []string{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPortScanEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/hosts/10.0.0.1/ports", PortScanRequest{
		StartPort: 1, EndPort: 100, TTLSeconds: 3600,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res scanner.PortResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.OpenPorts) != 2 || res.OpenPorts[0] != 22 || res.OpenPorts[1] != 80 {
		t.Errorf("open ports = %v", res.OpenPorts)
	}
	if res.ServiceNames[22] != "ssh" {
		t.Errorf("service names = %v", res.ServiceNames)
	}

	// Now cached and retrievable without a new sweep.
	w = doJSON(t, router, http.MethodGet, "/hosts/10.0.0.1/ports", nil)
	if w.Code != http.StatusOK {
		t.Errorf("cached lookup status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/hosts/10.0.0.1/ports/age", nil)
	if w.Code != http.StatusOK {
		t.Errorf("cache age status = %d", w.Code)
	}

	// Cache clear drops it.
	w = doJSON(t, router, http.MethodDelete, "/cache", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("cache clear status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/hosts/10.0.0.1/ports", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("post-clear lookup status = %d, want 404", w.Code)
	}
}

func TestPortScanInvalidRange(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/hosts/10.0.0.1/ports", PortScanRequest{
		StartPort: 500, EndPort: 10,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRateEndpoints(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(t, router, http.MethodPut, "/rate", RateRequest{Rate: 100, Burst: 10})
	if w.Code != http.StatusOK {
		t.Fatalf("set rate status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/rate", nil)
	var stats scanner.RateStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Rate != 100 || stats.Burst != 10 {
		t.Errorf("stats = %+v", stats)
	}

	w = doJSON(t, router, http.MethodPut, "/rate", RateRequest{Rate: -3})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative rate status = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware("sekrit", discardLogger()))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", w.Code)
	}
}
