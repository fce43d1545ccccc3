package model

import "time"

// DefaultFaviconURL is used when a page declares no icon link
const DefaultFaviconURL = "/favicon.ico"

// SiteMetadata is the scraped summary of a page, keyed by URL
type SiteMetadata struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	FaviconURL  string    `json:"favicon_url"`
	RawContent  string    `json:"-"`
	FetchedAt   time.Time `json:"fetched_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsStale reports whether the record was last updated before now-window
func (m *SiteMetadata) IsStale(now time.Time, window time.Duration) bool {
	if m == nil {
		return true
	}
	return m.UpdatedAt.Before(now.Add(-window))
}
