package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/martinsuchenak/beacond/internal/model"
)

var _ Storage = (*SQLiteStorage)(nil)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStorage implements Storage with SQLite backend
type SQLiteStorage struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLite-based storage in dataDir
func NewSQLiteStorage(dataDir string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "beacond.db")

	// Times are written in the sqlite text format so they sort and compare as strings
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer
	db.SetMaxIdleConns(1)

	ss := &SQLiteStorage{
		db:   db,
		path: dbPath,
	}

	if err := ss.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	if err := ss.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return ss, nil
}

func (ss *SQLiteStorage) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}

	_, err = ss.db.Exec(string(schema))
	return err
}

// Close closes the database connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// Path returns the database file path
func (ss *SQLiteStorage) Path() string {
	return ss.path
}

// GetOrCreateDevice returns the named device, inserting it first if absent
func (ss *SQLiteStorage) GetOrCreateDevice(name string, url *string) (*model.Device, error) {
	if name == "" {
		return nil, ErrInvalidID
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := time.Now().UTC()

	tx, err := ss.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO devices (name, url, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`, name, nullString(url), now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting device: %w", err)
	}

	device, err := queryDevice(tx, name)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing device: %w", err)
	}

	return device, nil
}

// SetDeviceURL overwrites the device URL, creating the device if needed
func (ss *SQLiteStorage) SetDeviceURL(name string, url string) (*model.Device, error) {
	if name == "" {
		return nil, ErrInvalidID
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := time.Now().UTC()

	tx, err := ss.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO devices (name, url, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET url = excluded.url, updated_at = excluded.updated_at
	`, name, url, now, now)
	if err != nil {
		return nil, fmt.Errorf("saving device url: %w", err)
	}

	device, err := queryDevice(tx, name)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing device: %w", err)
	}

	return device, nil
}

// GetDevice retrieves a device by name
func (ss *SQLiteStorage) GetDevice(name string) (*model.Device, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	return queryDevice(ss.db, name)
}

// ListDevices returns all devices ordered by name
func (ss *SQLiteStorage) ListDevices() ([]model.Device, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT name, url, created_at, updated_at
		FROM devices
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := make([]model.Device, 0)
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}

	return devices, rows.Err()
}

// GetSiteMetadata retrieves the cached metadata for url
func (ss *SQLiteStorage) GetSiteMetadata(url string) (*model.SiteMetadata, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	row := ss.db.QueryRow(`
		SELECT url, title, description, favicon_url, content, fetched_at, created_at, updated_at
		FROM site_metadata
		WHERE url = ?
	`, url)

	meta, err := scanSiteMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMetadataNotFound
		}
		return nil, fmt.Errorf("querying site metadata: %w", err)
	}

	return meta, nil
}

// UpsertSiteMetadata inserts or replaces the record for meta.URL
func (ss *SQLiteStorage) UpsertSiteMetadata(meta *model.SiteMetadata) error {
	if meta == nil || meta.URL == "" {
		return ErrInvalidID
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := time.Now().UTC()
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = now
	}
	if meta.FetchedAt.IsZero() {
		meta.FetchedAt = meta.UpdatedAt
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = meta.UpdatedAt
	}

	_, err := ss.db.Exec(`
		INSERT INTO site_metadata (url, title, description, favicon_url, content, fetched_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			favicon_url = excluded.favicon_url,
			content = excluded.content,
			fetched_at = excluded.fetched_at,
			updated_at = excluded.updated_at
	`, meta.URL, meta.Title, meta.Description, meta.FaviconURL, meta.RawContent,
		meta.FetchedAt.UTC(), meta.CreatedAt.UTC(), meta.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting site metadata: %w", err)
	}

	return nil
}

// ListStaleSiteMetadata returns records updated before the given time
func (ss *SQLiteStorage) ListStaleSiteMetadata(before time.Time, limit int) ([]model.SiteMetadata, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}

	rows, err := ss.db.Query(`
		SELECT url, title, description, favicon_url, content, fetched_at, created_at, updated_at
		FROM site_metadata
		WHERE updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying stale site metadata: %w", err)
	}
	defer rows.Close()

	var records []model.SiteMetadata
	for rows.Next() {
		meta, err := scanSiteMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning site metadata: %w", err)
		}
		records = append(records, *meta)
	}

	return records, rows.Err()
}

// AppendLocationSample appends a sample, assigning an ID if it has none
func (ss *SQLiteStorage) AppendLocationSample(sample *model.LocationSample) error {
	if sample == nil || sample.DeviceID == "" {
		return ErrInvalidID
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if sample.ID == "" {
		sample.ID = newSampleID()
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now().UTC()
	}

	_, err := ss.db.Exec(`
		INSERT INTO location_samples (id, device_id, lat, lon, rssi, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sample.ID, sample.DeviceID, sample.Lat, sample.Lon, sample.RSSI, sample.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting location sample: %w", err)
	}

	return nil
}

// ListLocationSamples returns the newest samples for a device first
func (ss *SQLiteStorage) ListLocationSamples(deviceID string, limit int) ([]model.LocationSample, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}

	rows, err := ss.db.Query(`
		SELECT id, device_id, lat, lon, rssi, recorded_at
		FROM location_samples
		WHERE device_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying location samples: %w", err)
	}
	defer rows.Close()

	samples := make([]model.LocationSample, 0)
	for rows.Next() {
		var s model.LocationSample
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.Lat, &s.Lon, &s.RSSI, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning location sample: %w", err)
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// PruneLocationSamples deletes samples recorded before the given time
func (ss *SQLiteStorage) PruneLocationSamples(before time.Time) (int64, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	result, err := ss.db.Exec(`DELETE FROM location_samples WHERE recorded_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning location samples: %w", err)
	}

	return result.RowsAffected()
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func queryDevice(q queryer, name string) (*model.Device, error) {
	row := q.QueryRow(`
		SELECT name, url, created_at, updated_at
		FROM devices
		WHERE name = ?
	`, name)

	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return device, nil
}

func scanDevice(s scanner) (*model.Device, error) {
	var d model.Device
	var url sql.NullString
	if err := s.Scan(&d.Name, &url, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}
	if url.Valid {
		d.URL = &url.String
	}
	return &d, nil
}

func scanSiteMetadata(s scanner) (*model.SiteMetadata, error) {
	var m model.SiteMetadata
	err := s.Scan(&m.URL, &m.Title, &m.Description, &m.FaviconURL, &m.RawContent,
		&m.FetchedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// newSampleID generates a time ordered UUIDv7 for a location sample
func newSampleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
