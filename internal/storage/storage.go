package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/martinsuchenak/beacond/internal/model"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrMetadataNotFound = errors.New("site metadata not found")
	ErrInvalidID        = errors.New("invalid ID")
)

// DeviceStore persists devices keyed by name
type DeviceStore interface {
	// GetOrCreateDevice returns the device stored under name, creating it with
	// url if absent. An existing device is returned unchanged. Concurrent calls
	// for the same name create at most one record.
	GetOrCreateDevice(name string, url *string) (*model.Device, error)
	// SetDeviceURL overwrites the device URL, creating the device if absent
	SetDeviceURL(name string, url string) (*model.Device, error)
	GetDevice(name string) (*model.Device, error)
	ListDevices() ([]model.Device, error)
}

// MetadataStore persists scraped page metadata keyed by URL
type MetadataStore interface {
	GetSiteMetadata(url string) (*model.SiteMetadata, error)
	// UpsertSiteMetadata inserts or fully replaces the record for meta.URL.
	// CreatedAt of an existing record is preserved.
	UpsertSiteMetadata(meta *model.SiteMetadata) error
	// ListStaleSiteMetadata returns up to limit records updated before the
	// given time, oldest first
	ListStaleSiteMetadata(before time.Time, limit int) ([]model.SiteMetadata, error)
}

// LocationStore is an append only log of device location samples
type LocationStore interface {
	AppendLocationSample(sample *model.LocationSample) error
	// ListLocationSamples returns the newest samples for a device first
	ListLocationSamples(deviceID string, limit int) ([]model.LocationSample, error)
	// PruneLocationSamples deletes samples recorded before the given time
	PruneLocationSamples(before time.Time) (int64, error)
}

// Storage is the full persistence surface used by the server
type Storage interface {
	DeviceStore
	MetadataStore
	LocationStore
	Close() error
}

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// NewStorage creates the storage backend named by backend
func NewStorage(backend, dataDir string) (Storage, error) {
	switch backend {
	case "", BackendSQLite:
		ss, err := NewSQLiteStorage(dataDir)
		if err != nil {
			return nil, err
		}
		return ss, nil
	case BackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
