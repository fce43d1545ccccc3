package model

import "time"

// LocationSample records where and how strongly a device was seen. Samples are
// append only.
type LocationSample struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	RSSI       float64   `json:"rssi"`
	RecordedAt time.Time `json:"recorded_at"`
}
