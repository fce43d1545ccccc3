package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/martinsuchenak/beacond/internal/log"
	"github.com/martinsuchenak/beacond/internal/metrics"
	"github.com/martinsuchenak/beacond/internal/model"
	"github.com/martinsuchenak/beacond/internal/storage"
)

var (
	ErrInvalidKey     = errors.New("device key required")
	ErrInvalidURL     = errors.New("device url required")
	ErrDeviceNotFound = storage.ErrDeviceNotFound
)

// Registry maps device keys to their best known URL
type Registry struct {
	store   storage.DeviceStore
	metrics *metrics.Metrics
}

// New creates a device registry over store
func New(store storage.DeviceStore, m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Registry{store: store, metrics: m}
}

// GetOrRegister returns the device stored under key, creating it with url on
// first sighting. The url of an existing device is never changed here.
func (r *Registry) GetOrRegister(ctx context.Context, key string, url *string) (*model.Device, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device, err := r.store.GetOrCreateDevice(key, url)
	if err != nil {
		return nil, fmt.Errorf("resolving device %s: %w", key, err)
	}

	return device, nil
}

// RegisterURL sets the URL of the device stored under key, creating the device
// if needed. This is the only path that changes an existing device's URL.
func (r *Registry) RegisterURL(ctx context.Context, key, url string) (*model.Device, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if url == "" {
		return nil, ErrInvalidURL
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device, err := r.store.SetDeviceURL(key, url)
	if err != nil {
		return nil, fmt.Errorf("registering device %s: %w", key, err)
	}

	r.metrics.DeviceRegistered.Inc()
	log.Info("Device URL registered", "device", key, "url", url)
	return device, nil
}

// Get returns the device stored under key
func (r *Registry) Get(ctx context.Context, key string) (*model.Device, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	return r.store.GetDevice(key)
}

// List returns all registered devices ordered by key
func (r *Registry) List(ctx context.Context) ([]model.Device, error) {
	return r.store.ListDevices()
}
