package model

import (
	"time"
)

// Device is a sighted beacon. Name is the registry key and never changes once
// the record exists; URL is only set through explicit registration or on the
// first sighting of a URL-only beacon.
type Device struct {
	Name      string    `json:"name"`
	URL       *string   `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasURL reports whether the device has a URL to resolve
func (d *Device) HasURL() bool {
	return d != nil && d.URL != nil && *d.URL != ""
}

// URLString returns the device URL or an empty string
func (d *Device) URLString() string {
	if d == nil || d.URL == nil {
		return ""
	}
	return *d.URL
}
