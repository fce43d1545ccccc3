package resolver

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/martinsuchenak/beacond/internal/log"
	"github.com/martinsuchenak/beacond/internal/metrics"
	"github.com/martinsuchenak/beacond/internal/model"
	"github.com/martinsuchenak/beacond/internal/storage"
)

// DefaultMaxConcurrency bounds the sightings resolved in parallel per batch
const DefaultMaxConcurrency = 8

// Devices looks up or creates sighted devices
type Devices interface {
	GetOrRegister(ctx context.Context, key string, url *string) (*model.Device, error)
}

// Metadata resolves page metadata for a URL, returning nil when none is available
type Metadata interface {
	Resolve(ctx context.Context, url string, force bool) *model.SiteMetadata
}

// Options configures a Resolver
type Options struct {
	MaxConcurrency int
	// Locations receives a sample per sighting when the batch carries a
	// location. Nil disables location logging.
	Locations storage.LocationStore
	Metrics   *metrics.Metrics
	Route     string
	Now       func() time.Time
}

// Resolver turns a batch of sightings into a batch of metadata entries
type Resolver struct {
	devices        Devices
	metadata       Metadata
	locations      storage.LocationStore
	maxConcurrency int
	metrics        *metrics.Metrics
	route          string
	now            func() time.Time
}

// New creates a Resolver
func New(devices Devices, metadata Metadata, opts Options) *Resolver {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Route == "" {
		opts.Route = "resolve-scan"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Resolver{
		devices:        devices,
		metadata:       metadata,
		locations:      opts.Locations,
		maxConcurrency: opts.MaxConcurrency,
		metrics:        opts.Metrics,
		route:          opts.Route,
		now:            opts.Now,
	}
}

// Resolve validates req and resolves every sighting. The response has one entry
// per sighting in input order. A failure resolving one sighting degrades that
// entry only; a cancelled context fails the whole batch.
func (r *Resolver) Resolve(ctx context.Context, req *model.ScanRequest) (*model.ScanResponse, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	start := r.now()
	entries := make([]model.MetadataEntry, len(req.Objects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrency)

	for i := range req.Objects {
		sighting := req.Objects[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entries[i] = r.resolveSighting(gctx, &sighting, req.Location)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.metrics.BatchDuration.WithLabelValues(r.route).Observe(r.now().Sub(start).Seconds())
	log.Debug("Resolved sighting batch", "route", r.route, "count", len(entries), "duration", r.now().Sub(start))

	return &model.ScanResponse{Metadata: entries}, nil
}

func (r *Resolver) resolveSighting(ctx context.Context, s *model.Sighting, loc *model.GeoPoint) model.MetadataEntry {
	key := s.Key()

	device, err := r.devices.GetOrRegister(ctx, key, s.SightedURL())
	if err != nil {
		log.Warn("Failed to resolve device, returning id only", "key", key, "error", err)
		r.metrics.SightingsTotal.WithLabelValues("id").Inc()
		return model.MetadataEntry{ID: key}
	}

	r.recordLocation(device.Name, s, loc)

	entry := model.MetadataEntry{ID: device.Name}

	// A forced sighting of a device without a URL has nothing to fetch
	if !device.HasURL() {
		r.metrics.SightingsTotal.WithLabelValues("id").Inc()
		return entry
	}

	url := *device.URL
	meta := r.metadata.Resolve(ctx, url, s.Force)
	if meta == nil {
		entry.URL = url
		r.metrics.SightingsTotal.WithLabelValues("url").Inc()
		return entry
	}

	entry.URL = meta.URL
	entry.Title = meta.Title
	entry.Description = meta.Description
	entry.Icon = meta.FaviconURL
	r.metrics.SightingsTotal.WithLabelValues("metadata").Inc()

	return entry
}

func (r *Resolver) recordLocation(deviceID string, s *model.Sighting, loc *model.GeoPoint) {
	if r.locations == nil || loc == nil {
		return
	}

	sample := &model.LocationSample{
		DeviceID:   deviceID,
		Lat:        loc.Lat,
		Lon:        loc.Lon,
		RSSI:       *s.RSSI,
		RecordedAt: r.now().UTC(),
	}
	if err := r.locations.AppendLocationSample(sample); err != nil {
		log.Warn("Failed to record location sample", "device", deviceID, "error", err)
		return
	}
	r.metrics.LocationSamples.Inc()
}

// ValidationError reports a malformed batch
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return e.Reason
	}
	return fmt.Sprintf("objects[%d]: %s", e.Index, e.Reason)
}

// Validate checks that a batch has an objects array and that every sighting
// has a key and a signal strength.
func Validate(req *model.ScanRequest) error {
	if req == nil || req.Objects == nil {
		return &ValidationError{Index: -1, Reason: "objects array is required"}
	}

	for i := range req.Objects {
		s := &req.Objects[i]
		if s.Key() == "" {
			return &ValidationError{Index: i, Reason: "id or url is required"}
		}
		if s.RSSI == nil {
			return &ValidationError{Index: i, Reason: "rssi is required"}
		}
	}

	return nil
}
