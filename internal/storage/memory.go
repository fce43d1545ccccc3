package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/martinsuchenak/beacond/internal/model"
)

var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage implements Storage with in-process maps. Nothing survives a
// restart.
type MemoryStorage struct {
	mu        sync.RWMutex
	devices   map[string]*model.Device
	metadata  map[string]*model.SiteMetadata
	locations []model.LocationSample
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		devices:  make(map[string]*model.Device),
		metadata: make(map[string]*model.SiteMetadata),
	}
}

// Close is a no-op
func (ms *MemoryStorage) Close() error {
	return nil
}

func (ms *MemoryStorage) GetOrCreateDevice(name string, url *string) (*model.Device, error) {
	if name == "" {
		return nil, ErrInvalidID
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if device, ok := ms.devices[name]; ok {
		return cloneDevice(device), nil
	}

	now := time.Now().UTC()
	device := &model.Device{
		Name:      name,
		URL:       cloneString(url),
		CreatedAt: now,
		UpdatedAt: now,
	}
	ms.devices[name] = device

	return cloneDevice(device), nil
}

func (ms *MemoryStorage) SetDeviceURL(name string, url string) (*model.Device, error) {
	if name == "" {
		return nil, ErrInvalidID
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now().UTC()
	device, ok := ms.devices[name]
	if !ok {
		device = &model.Device{Name: name, CreatedAt: now}
		ms.devices[name] = device
	}
	device.URL = &url
	device.UpdatedAt = now

	return cloneDevice(device), nil
}

func (ms *MemoryStorage) GetDevice(name string) (*model.Device, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	device, ok := ms.devices[name]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return cloneDevice(device), nil
}

func (ms *MemoryStorage) ListDevices() ([]model.Device, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	devices := make([]model.Device, 0, len(ms.devices))
	for _, device := range ms.devices {
		devices = append(devices, *cloneDevice(device))
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Name < devices[j].Name
	})

	return devices, nil
}

func (ms *MemoryStorage) GetSiteMetadata(url string) (*model.SiteMetadata, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	meta, ok := ms.metadata[url]
	if !ok {
		return nil, ErrMetadataNotFound
	}
	clone := *meta
	return &clone, nil
}

func (ms *MemoryStorage) UpsertSiteMetadata(meta *model.SiteMetadata) error {
	if meta == nil || meta.URL == "" {
		return ErrInvalidID
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	clone := *meta
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = time.Now().UTC()
	}
	if clone.FetchedAt.IsZero() {
		clone.FetchedAt = clone.UpdatedAt
	}
	if existing, ok := ms.metadata[clone.URL]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = clone.UpdatedAt
	}
	ms.metadata[clone.URL] = &clone
	meta.CreatedAt = clone.CreatedAt

	return nil
}

func (ms *MemoryStorage) ListStaleSiteMetadata(before time.Time, limit int) ([]model.SiteMetadata, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var records []model.SiteMetadata
	for _, meta := range ms.metadata {
		if meta.UpdatedAt.Before(before) {
			records = append(records, *meta)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (ms *MemoryStorage) AppendLocationSample(sample *model.LocationSample) error {
	if sample == nil || sample.DeviceID == "" {
		return ErrInvalidID
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if sample.ID == "" {
		sample.ID = newSampleID()
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now().UTC()
	}
	ms.locations = append(ms.locations, *sample)

	return nil
}

func (ms *MemoryStorage) ListLocationSamples(deviceID string, limit int) ([]model.LocationSample, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	samples := make([]model.LocationSample, 0)
	for i := len(ms.locations) - 1; i >= 0; i-- {
		if ms.locations[i].DeviceID != deviceID {
			continue
		}
		samples = append(samples, ms.locations[i])
		if limit > 0 && len(samples) == limit {
			break
		}
	}

	return samples, nil
}

func (ms *MemoryStorage) PruneLocationSamples(before time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	kept := ms.locations[:0]
	var pruned int64
	for _, s := range ms.locations {
		if s.RecordedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, s)
	}
	ms.locations = kept

	return pruned, nil
}

func cloneDevice(d *model.Device) *model.Device {
	clone := *d
	clone.URL = cloneString(d.URL)
	return &clone
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
