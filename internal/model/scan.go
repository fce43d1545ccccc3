package model

// Sighting is one observed beacon in a resolve batch. Either ID or URL must be
// present; when ID is absent the URL doubles as the device key.
type Sighting struct {
	ID    *string  `json:"id,omitempty"`
	URL   *string  `json:"url,omitempty"`
	RSSI  *float64 `json:"rssi"`
	Force bool     `json:"force,omitempty"`
}

// Key returns the registry key for the sighting
func (s *Sighting) Key() string {
	if s.ID != nil && *s.ID != "" {
		return *s.ID
	}
	if s.URL != nil {
		return *s.URL
	}
	return ""
}

// SightedURL returns the URL carried by the sighting, if any
func (s *Sighting) SightedURL() *string {
	if s.URL == nil || *s.URL == "" {
		return nil
	}
	u := *s.URL
	return &u
}

// GeoPoint is the batch level position of the scanner
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ScanRequest is the body of /resolve-scan and /resolve-location
type ScanRequest struct {
	Objects  []Sighting `json:"objects"`
	Location *GeoPoint  `json:"location,omitempty"`
}

// MetadataEntry is one resolved sighting. Only ID is guaranteed.
type MetadataEntry struct {
	ID          string `json:"id"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// ScanResponse preserves the order of ScanRequest.Objects
type ScanResponse struct {
	Metadata []MetadataEntry `json:"metadata"`
}
