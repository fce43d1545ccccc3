package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/beacond/internal/cache"
	"github.com/martinsuchenak/beacond/internal/resolver"
	"github.com/martinsuchenak/beacond/internal/scraper"
	"github.com/martinsuchenak/beacond/internal/storage"
)

const (
	DefaultListenAddr        = ":8080"
	DefaultDataDir           = "./data"
	DefaultLocationRetention = 30 * 24 * time.Hour
	DefaultPruneSchedule     = "@hourly"
	DefaultRefreshWorkers    = 4
)

// Config holds the server configuration
type Config struct {
	ListenAddr     string
	DataDir        string
	StorageBackend string

	FetchTimeout   time.Duration
	StaleAfter     time.Duration
	MaxBodyBytes   int64
	UserAgent      string
	MaxConcurrency int

	APIAuthToken string
	MCPAuthToken string

	LocationRetention time.Duration
	PruneSchedule     string
	RefreshSchedule   string
	RefreshWorkers    int
}

// IsAPIAuthEnabled reports whether /api/ requires a bearer token
func (c *Config) IsAPIAuthEnabled() bool {
	return c.APIAuthToken != ""
}

// IsMCPEnabled reports whether /mcp requires a bearer token
func (c *Config) IsMCPEnabled() bool {
	return c.MCPAuthToken != ""
}

// GetFlags returns the server flags. Every flag can also be set from its
// BEACOND_* environment variable or a .env file.
func GetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "listen-addr",
			Usage:        "Address to listen on",
			DefaultValue: DefaultListenAddr,
			EnvVars:      []string{"BEACOND_LISTEN_ADDR"},
		},
		&cli.StringFlag{
			Name:         "data-dir",
			Usage:        "Directory for the SQLite database",
			DefaultValue: DefaultDataDir,
			EnvVars:      []string{"BEACOND_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:         "storage-backend",
			Usage:        "Storage backend (sqlite, memory)",
			DefaultValue: storage.BackendSQLite,
			EnvVars:      []string{"BEACOND_STORAGE_BACKEND"},
		},
		&cli.StringFlag{
			Name:         "fetch-timeout",
			Usage:        "Timeout for a single page fetch",
			DefaultValue: scraper.DefaultTimeout.String(),
			EnvVars:      []string{"BEACOND_FETCH_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:         "stale-after",
			Usage:        "How long cached page metadata is served before refetching",
			DefaultValue: cache.DefaultStaleAfter.String(),
			EnvVars:      []string{"BEACOND_STALE_AFTER"},
		},
		&cli.IntFlag{
			Name:         "max-body-bytes",
			Usage:        "Maximum page body size read by the scraper",
			DefaultValue: scraper.DefaultMaxBodyBytes,
			EnvVars:      []string{"BEACOND_MAX_BODY_BYTES"},
		},
		&cli.StringFlag{
			Name:         "user-agent",
			Usage:        "User-Agent sent when fetching pages",
			DefaultValue: scraper.DefaultUserAgent,
			EnvVars:      []string{"BEACOND_USER_AGENT"},
		},
		&cli.IntFlag{
			Name:         "max-concurrency",
			Usage:        "Sightings resolved in parallel per batch",
			DefaultValue: resolver.DefaultMaxConcurrency,
			EnvVars:      []string{"BEACOND_MAX_CONCURRENCY"},
		},
		&cli.StringFlag{
			Name:    "api-token",
			Usage:   "Bearer token required on /api/ routes",
			EnvVars: []string{"BEACOND_API_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "mcp-token",
			Usage:   "Bearer token required on /mcp",
			EnvVars: []string{"BEACOND_MCP_TOKEN"},
		},
		&cli.StringFlag{
			Name:         "location-retention",
			Usage:        "How long location samples are kept (0 keeps them forever)",
			DefaultValue: DefaultLocationRetention.String(),
			EnvVars:      []string{"BEACOND_LOCATION_RETENTION"},
		},
		&cli.StringFlag{
			Name:         "prune-schedule",
			Usage:        "Cron schedule for pruning location samples (empty disables)",
			DefaultValue: DefaultPruneSchedule,
			EnvVars:      []string{"BEACOND_PRUNE_SCHEDULE"},
		},
		&cli.StringFlag{
			Name:    "refresh-schedule",
			Usage:   "Cron schedule for refreshing stale metadata (empty disables)",
			EnvVars: []string{"BEACOND_REFRESH_SCHEDULE"},
		},
		&cli.IntFlag{
			Name:         "refresh-workers",
			Usage:        "Workers used by the stale metadata refresh",
			DefaultValue: DefaultRefreshWorkers,
			EnvVars:      []string{"BEACOND_REFRESH_WORKERS"},
		},
	}
}

// Flags is the subset of *cli.Command that Load reads
type Flags interface {
	GetString(name string) string
	GetInt(name string) int
}

// Load builds and validates the configuration from parsed flags
func Load(cmd Flags) (*Config, error) {
	cfg := &Config{
		ListenAddr:      cmd.GetString("listen-addr"),
		DataDir:         cmd.GetString("data-dir"),
		StorageBackend:  cmd.GetString("storage-backend"),
		MaxBodyBytes:    int64(cmd.GetInt("max-body-bytes")),
		UserAgent:       cmd.GetString("user-agent"),
		MaxConcurrency:  cmd.GetInt("max-concurrency"),
		APIAuthToken:    cmd.GetString("api-token"),
		MCPAuthToken:    cmd.GetString("mcp-token"),
		PruneSchedule:   cmd.GetString("prune-schedule"),
		RefreshSchedule: cmd.GetString("refresh-schedule"),
		RefreshWorkers:  cmd.GetInt("refresh-workers"),
	}

	var errs []error
	cfg.FetchTimeout = parseDuration("fetch-timeout", cmd.GetString("fetch-timeout"), scraper.DefaultTimeout, &errs)
	cfg.StaleAfter = parseDuration("stale-after", cmd.GetString("stale-after"), cache.DefaultStaleAfter, &errs)
	cfg.LocationRetention = parseDuration("location-retention", cmd.GetString("location-retention"), DefaultLocationRetention, &errs)

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = storage.BackendSQLite
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = scraper.DefaultUserAgent
	}

	switch cfg.StorageBackend {
	case storage.BackendSQLite, storage.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage-backend: unknown backend %q", cfg.StorageBackend))
	}
	if cfg.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch-timeout: must be positive"))
	}
	if cfg.StaleAfter <= 0 {
		errs = append(errs, errors.New("stale-after: must be positive"))
	}
	if cfg.LocationRetention < 0 {
		errs = append(errs, errors.New("location-retention: must not be negative"))
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max-body-bytes: must be positive"))
	}
	if cfg.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("max-concurrency: must be positive"))
	}
	if cfg.RefreshWorkers <= 0 {
		errs = append(errs, errors.New("refresh-workers: must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseDuration(name, value string, def time.Duration, errs *[]error) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", name, err))
		return def
	}
	return d
}
