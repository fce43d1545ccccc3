package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/martinsuchenak/beacond/internal/config"
	"github.com/martinsuchenak/beacond/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		ListenAddr:        "127.0.0.1:0",
		StorageBackend:    storage.BackendMemory,
		FetchTimeout:      2 * time.Second,
		StaleAfter:        5 * time.Hour,
		MaxBodyBytes:      1 << 20,
		UserAgent:         "beacond-test",
		MaxConcurrency:    4,
		LocationRetention: time.Hour,
		PruneSchedule:     "@hourly",
		RefreshWorkers:    1,
	}
}

func setupTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	srv.Start()
	t.Cleanup(func() { srv.Close() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_Routes(t *testing.T) {
	ts := setupTestServer(t, testConfig())

	tests := []struct {
		method   string
		path     string
		body     string
		status   int
		contains string
	}{
		{"GET", "/", "", http.StatusOK, ""},
		{"GET", "/index.html", "", http.StatusOK, "/add-device"},
		{"GET", "/assets/app.css", "", http.StatusOK, "body"},
		{"POST", "/resolve-scan", `{"objects":[{"id":"dev1","rssi":-42}]}`, http.StatusOK, `{"metadata":[{"id":"dev1"}]}`},
		{"POST", "/resolve-scan", `{}`, http.StatusBadRequest, "objects"},
		{"GET", "/api/devices", "", http.StatusOK, "dev1"},
		{"GET", "/metrics", "", http.StatusOK, "beacond_"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("Failed to build request: %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Failed to make request: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, resp.StatusCode)
			}
			body, _ := io.ReadAll(resp.Body)
			if tt.contains != "" && !strings.Contains(string(body), tt.contains) {
				t.Errorf("Expected body to contain %q, got %s", tt.contains, body)
			}
			if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
				t.Error("Expected security headers on every route")
			}
		})
	}
}

func TestServer_APIAuth(t *testing.T) {
	cfg := testConfig()
	cfg.APIAuthToken = "secret"
	ts := setupTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/api/devices")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.StatusCode)
	}

	// Scanners post without credentials
	resp, err = http.Post(ts.URL+"/resolve-scan", "application/json", strings.NewReader(`{"objects":[]}`))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", ts.URL+"/api/devices", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 with token, got %d", resp.StatusCode)
	}
}

func TestNewServer_InvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshSchedule = "every tuesday"

	if _, err := NewServer(cfg); err == nil {
		t.Error("Expected error for invalid refresh schedule")
	}
}

func TestNewServer_SQLite(t *testing.T) {
	cfg := testConfig()
	cfg.StorageBackend = storage.BackendSQLite
	cfg.DataDir = t.TempDir()

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
