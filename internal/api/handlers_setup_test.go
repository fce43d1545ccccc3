package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/martinsuchenak/beacond/internal/cache"
	"github.com/martinsuchenak/beacond/internal/registry"
	"github.com/martinsuchenak/beacond/internal/resolver"
	"github.com/martinsuchenak/beacond/internal/scraper"
	"github.com/martinsuchenak/beacond/internal/storage"
)

// testSite serves a small page and counts hits
type testSite struct {
	server *httptest.Server
	hits   int32
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()

	site := &testSite{}
	site.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&site.hits, 1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>Beacon %s</title>
<meta name="description" content="A page for %s">
<link rel="icon" href="/icon.png"></head><body></body></html>`, r.URL.Path, r.URL.Path)
	}))
	t.Cleanup(site.server.Close)

	return site
}

func (s *testSite) url(path string) string {
	return s.server.URL + path
}

func (s *testSite) count() int {
	return int(atomic.LoadInt32(&s.hits))
}

type testEnv struct {
	handler *Handler
	mux     *http.ServeMux
	store   *storage.MemoryStorage
	site    *testSite
}

// setupTestHandler creates a Handler over the in-memory store and a local site
func setupTestHandler(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryStorage()
	site := newTestSite(t)

	reg := registry.New(store, nil)
	mc := cache.New(store, scraper.New(scraper.Options{}), cache.Options{})
	scan := resolver.New(reg, mc, resolver.Options{Route: "resolve-scan"})
	located := resolver.New(reg, mc, resolver.Options{Route: "resolve-location", Locations: store})

	handler := NewHandler(reg, mc, scan, located, store)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &testEnv{handler: handler, mux: mux, store: store, site: site}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func TestHandler_RegisterRoutes(t *testing.T) {
	env := setupTestHandler(t)

	server := httptest.NewServer(env.mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/devices")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if resp.ContentLength > 0 {
		t.Errorf("Expected empty liveness body, got %d bytes", resp.ContentLength)
	}
}
