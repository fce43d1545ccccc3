package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/martinsuchenak/beacond/internal/cache"
	"github.com/martinsuchenak/beacond/internal/model"
	"github.com/martinsuchenak/beacond/internal/registry"
	"github.com/martinsuchenak/beacond/internal/storage"
)

// pageFetcher serves a fixed page per URL and counts fetches
type pageFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	titles map[string]string
}

func newPageFetcher() *pageFetcher {
	return &pageFetcher{calls: make(map[string]int), titles: make(map[string]string)}
}

func (f *pageFetcher) FetchAndExtract(ctx context.Context, url string) (*model.SiteMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[url]++
	title, ok := f.titles[url]
	if !ok {
		title = "Page " + url
	}
	return &model.SiteMetadata{
		URL:         url,
		Title:       title,
		Description: "About " + url,
		FaviconURL:  model.DefaultFaviconURL,
	}, nil
}

func (f *pageFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *pageFetcher) setTitle(url, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[url] = title
}

type testEnv struct {
	store    *storage.MemoryStorage
	fetcher  *pageFetcher
	registry *registry.Registry
	cache    *cache.MetadataCache
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryStorage()
	fetcher := newPageFetcher()
	return &testEnv{
		store:    store,
		fetcher:  fetcher,
		registry: registry.New(store, nil),
		cache:    cache.New(store, fetcher, cache.Options{}),
	}
}

func strPtr(s string) *string { return &s }

func rssi(v float64) *float64 { return &v }

func TestResolver_UnknownIDWithoutURL(t *testing.T) {
	env := setupTestEnv(t)
	r := New(env.registry, env.cache, Options{})

	resp, err := r.Resolve(context.Background(), &model.ScanRequest{
		Objects: []model.Sighting{{ID: strPtr("dev1"), RSSI: rssi(-40)}},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(resp.Metadata) != 1 || resp.Metadata[0] != (model.MetadataEntry{ID: "dev1"}) {
		t.Errorf("Expected id-only entry, got %+v", resp.Metadata)
	}

	// A later sighting carrying a URL does not attach it to the existing device
	resp, err = r.Resolve(context.Background(), &model.ScanRequest{
		Objects: []model.Sighting{{ID: strPtr("dev1"), URL: strPtr("http://example.com"), RSSI: rssi(-40)}},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resp.Metadata[0] != (model.MetadataEntry{ID: "dev1"}) {
		t.Errorf("Expected id-only entry on second sighting, got %+v", resp.Metadata[0])
	}
	if env.fetcher.count("http://example.com") != 0 {
		t.Error("Expected no fetch for a device without a registered URL")
	}
}

func TestResolver_URLOnlySighting(t *testing.T) {
	env := setupTestEnv(t)
	r := New(env.registry, env.cache, Options{})
	url := "http://example.com"

	resp, err := r.Resolve(context.Background(), &model.ScanRequest{
		Objects: []model.Sighting{{URL: strPtr(url), RSSI: rssi(-60)}},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := model.MetadataEntry{
		ID:          url,
		URL:         url,
		Title:       "Page " + url,
		Description: "About " + url,
		Icon:        model.DefaultFaviconURL,
	}
	if resp.Metadata[0] != want {
		t.Errorf("Expected %+v, got %+v", want, resp.Metadata[0])
	}

	// Fresh record is served without another fetch
	if _, err := r.Resolve(context.Background(), &model.ScanRequest{
		Objects: []model.Sighting{{URL: strPtr(url), RSSI: rssi(-60)}},
	}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := env.fetcher.count(url); got != 1 {
		t.Errorf("Expected 1 fetch, got %d", got)
	}
}

func TestResolver_ForceRefetches(t *testing.T) {
	env := setupTestEnv(t)
	r := New(env.registry, env.cache, Options{})
	url := "http://example.com"

	if _, err := env.registry.RegisterURL(context.Background(), "dev1", url); err != nil {
		t.Fatalf("RegisterURL() error = %v", err)
	}

	req := &model.ScanRequest{Objects: []model.Sighting{{ID: strPtr("dev1"), RSSI: rssi(-50)}}}
	if _, err := r.Resolve(context.Background(), req); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	env.fetcher.setTitle(url, "Updated")
	req.Objects[0].Force = true
	resp, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resp.Metadata[0].Title != "Updated" {
		t.Errorf("Expected forced refresh title 'Updated', got %q", resp.Metadata[0].Title)
	}
	if got := env.fetcher.count(url); got != 2 {
		t.Errorf("Expected 2 fetches, got %d", got)
	}
}

func TestResolver_ForceWithoutURL(t *testing.T) {
	env := setupTestEnv(t)
	r := New(env.registry, env.cache, Options{})

	resp, err := r.Resolve(context.Background(), &model.ScanRequest{
		Objects: []model.Sighting{{ID: strPtr("dev1"), RSSI: rssi(-50), Force: true}},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resp.Metadata[0] != (model.MetadataEntry{ID: "dev1"}) {
		t.Errorf("Expected id-only entry, got %+v", resp.Metadata[0])
	}
}

// nilMetadata never has metadata available
type nilMetadata struct{}

func (nilMetadata) Resolve(ctx context.Context, url string, force bool) *model.SiteMetadata {
	return nil
}

func TestResolver_NoMetadataReturnsURL(t *testing.T) {
	env := setupTestEnv(t)
	r := New(env.registry, nilMetadata{}, Options{})

	resp, err := r.Resolve(context.Background(), &model.ScanRequest{
		Objects: []model.Sighting{{URL: strPtr("http://down.example.com"), RSSI: rssi(-70)}},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := model.MetadataEntry{ID: "http://down.example.com", URL: "http://down.example.com"}
	if resp.Metadata[0] != want {
		t.Errorf("Expected %+v, got %+v", want, resp.Metadata[0])
	}
}

// failingDevices fails for one key
type failingDevices struct {
	inner   Devices
	failKey string
}

func (f *failingDevices) GetOrRegister(ctx context.Context, key string, url *string) (*model.Device, error) {
	if key == f.failKey {
		return nil, errors.New("store unavailable")
	}
	return f.inner.GetOrRegister(ctx, key, url)
}

func TestResolver_RegistryFailureDegradesEntry(t *testing.T) {
	env := setupTestEnv(t)
	devices := &failingDevices{inner: env.registry, failKey: "bad"}
	r := New(devices, env.cache, Options{})

	resp, err := r.Resolve(context.Background(), &model.ScanRequest{
		Objects: []model.Sighting{
			{ID: strPtr("bad"), URL: strPtr("http://bad.example.com"), RSSI: rssi(-40)},
			{URL: strPtr("http://good.example.com"), RSSI: rssi(-40)},
		},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resp.Metadata[0] != (model.MetadataEntry{ID: "bad"}) {
		t.Errorf("Expected degraded entry, got %+v", resp.Metadata[0])
	}
	if resp.Metadata[1].Title == "" {
		t.Errorf("Expected the rest of the batch to resolve, got %+v", resp.Metadata[1])
	}
}

func TestResolver_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  *model.ScanRequest
	}{
		{name: "nil request", req: nil},
		{name: "missing objects", req: &model.ScanRequest{}},
		{name: "no id or url", req: &model.ScanRequest{Objects: []model.Sighting{{RSSI: rssi(-40)}}}},
		{name: "empty id and url", req: &model.ScanRequest{Objects: []model.Sighting{{ID: strPtr(""), URL: strPtr(""), RSSI: rssi(-40)}}}},
		{name: "missing rssi", req: &model.ScanRequest{Objects: []model.Sighting{{ID: strPtr("dev1")}}}},
		{name: "second object invalid", req: &model.ScanRequest{Objects: []model.Sighting{
			{ID: strPtr("dev1"), RSSI: rssi(-40)},
			{ID: strPtr("dev2")},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			r := New(env.registry, env.cache, Options{})

			_, err := r.Resolve(context.Background(), tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}

			devices, _ := env.registry.List(context.Background())
			if len(devices) != 0 {
				t.Errorf("Expected no devices created for an invalid batch, got %d", len(devices))
			}
		})
	}
}

func TestResolver_EmptyBatch(t *testing.T) {
	env := setupTestEnv(t)
	r := New(env.registry, env.cache, Options{})

	resp, err := r.Resolve(context.Background(), &model.ScanRequest{Objects: []model.Sighting{}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resp.Metadata == nil || len(resp.Metadata) != 0 {
		t.Errorf("Expected empty non-nil metadata, got %#v", resp.Metadata)
	}
}

func TestResolver_CancelledContext(t *testing.T) {
	env := setupTestEnv(t)
	r := New(env.registry, env.cache, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, &model.ScanRequest{
		Objects: []model.Sighting{{ID: strPtr("dev1"), RSSI: rssi(-40)}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestResolver_RecordsLocations(t *testing.T) {
	env := setupTestEnv(t)
	r := New(env.registry, env.cache, Options{Locations: env.store, Route: "resolve-location"})

	_, err := r.Resolve(context.Background(), &model.ScanRequest{
		Objects: []model.Sighting{
			{ID: strPtr("dev1"), RSSI: rssi(-40)},
			{ID: strPtr("dev2"), RSSI: rssi(-75)},
		},
		Location: &model.GeoPoint{Lat: 51.5, Lon: -0.12},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	samples, err := env.store.ListLocationSamples("dev2", 10)
	if err != nil {
		t.Fatalf("ListLocationSamples() error = %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(samples))
	}
	if samples[0].Lat != 51.5 || samples[0].Lon != -0.12 || samples[0].RSSI != -75 {
		t.Errorf("Unexpected sample %+v", samples[0])
	}
}

func TestResolver_NoLocationStoreIgnoresLocation(t *testing.T) {
	env := setupTestEnv(t)
	r := New(env.registry, env.cache, Options{})

	_, err := r.Resolve(context.Background(), &model.ScanRequest{
		Objects:  []model.Sighting{{ID: strPtr("dev1"), RSSI: rssi(-40)}},
		Location: &model.GeoPoint{Lat: 1, Lon: 2},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	samples, err := env.store.ListLocationSamples("dev1", 10)
	if err != nil {
		t.Fatalf("ListLocationSamples() error = %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("Expected no samples, got %d", len(samples))
	}
}

// The response always has one entry per sighting, in input order
func TestResolver_PreservesOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := storage.NewMemoryStorage()
		r := New(registry.New(store, nil), cache.New(store, newPageFetcher(), cache.Options{}), Options{
			MaxConcurrency: rapid.IntRange(1, 8).Draw(t, "concurrency"),
		})

		n := rapid.IntRange(0, 40).Draw(t, "n")
		objects := make([]model.Sighting, n)
		for i := range objects {
			key := fmt.Sprintf("dev%d", rapid.IntRange(0, 10).Draw(t, "key"))
			if rapid.Bool().Draw(t, "url-only") {
				objects[i] = model.Sighting{URL: strPtr("http://" + key + ".example.com"), RSSI: rssi(-50)}
			} else {
				objects[i] = model.Sighting{ID: strPtr(key), RSSI: rssi(-50)}
			}
		}

		resp, err := r.Resolve(context.Background(), &model.ScanRequest{Objects: objects})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if len(resp.Metadata) != n {
			t.Fatalf("Expected %d entries, got %d", n, len(resp.Metadata))
		}
		for i, entry := range resp.Metadata {
			if entry.ID != objects[i].Key() {
				t.Fatalf("Entry %d: expected id %s, got %s", i, objects[i].Key(), entry.ID)
			}
		}
	})
}
