package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/martinsuchenak/beacond/internal/log"
	"github.com/martinsuchenak/beacond/internal/model"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 2 << 20
	DefaultUserAgent    = "beacond/1.0 (+metadata resolver)"
)

var (
	ErrUnreachable = errors.New("page unreachable")
	ErrTimeout     = errors.New("page fetch timed out")
	ErrInvalidURL  = errors.New("invalid page URL")
)

// FetchError describes a failed page fetch. Kind is ErrUnreachable or ErrTimeout.
type FetchError struct {
	URL        string
	Kind       error
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: %v (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetching %s: %v: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Kind)
}

func (e *FetchError) Is(target error) bool {
	return target == e.Kind
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Options configures a Scraper
type Options struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
	Client       *http.Client
}

// Scraper fetches pages and extracts their metadata. It keeps no state between
// calls and persists nothing.
type Scraper struct {
	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	userAgent    string
	now          func() time.Time
}

// New creates a Scraper, filling unset options with defaults
func New(opts Options) *Scraper {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	return &Scraper{
		client:       client,
		timeout:      opts.Timeout,
		maxBodyBytes: opts.MaxBodyBytes,
		userAgent:    opts.UserAgent,
		now:          time.Now,
	}
}

// FetchAndExtract GETs url and extracts its metadata. Any non-2xx status is an
// ErrUnreachable failure and yields no metadata.
func (s *Scraper) FetchAndExtract(ctx context.Context, url string) (*model.SiteMetadata, error) {
	if url == "" {
		return nil, ErrInvalidURL
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	start := s.now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classify(ctx, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: url, Kind: ErrUnreachable, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodyBytes))
	if err != nil {
		return nil, classify(ctx, url, err)
	}

	fields := Extract(body)
	now := s.now()

	log.Debug("Page fetched", "url", url, "status", resp.StatusCode, "bytes", len(body), "duration", now.Sub(start))

	return &model.SiteMetadata{
		URL:         url,
		Title:       fields.Title,
		Description: fields.Description,
		FaviconURL:  fields.FaviconURL,
		RawContent:  string(body),
		FetchedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func classify(ctx context.Context, url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &FetchError{URL: url, Kind: ErrTimeout, Err: err}
	}
	return &FetchError{URL: url, Kind: ErrUnreachable, Err: err}
}
