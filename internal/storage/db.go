package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Alexander-D-Karpov/tonearm/internal/config"
	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

type Database struct {
	db       *sql.DB
	cacheDir string
	mu       sync.RWMutex
	closed   bool
	debug    bool
}

func (d *Database) GetDB() *sql.DB {
	return d.db
}

func NewDatabase(cfg *config.Config) (*Database, error) {
	dbDir := filepath.Dir(cfg.Storage.DatabasePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	cacheDir := cfg.Storage.CacheDir
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := openDatabase(cfg.Storage.DatabasePath, cfg.Storage.EnableWAL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	storage := &Database{
		db:       db,
		cacheDir: cacheDir,
		debug:    cfg.Debug,
	}

	if err := storage.runMigrations(); err != nil {
		if closeErr := storage.Close(); closeErr != nil {
			log.Printf("Failed to close database after migration error: %v", closeErr)
		}
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return storage, nil
}

func openDatabase(dbPath string, enableWAL bool) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Printf("Creating new database at %s", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=memory",
		"PRAGMA cache_size=-64000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=30000",
	}

	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				log.Printf("Failed to close database after pragma error: %v", closeErr)
			}
			return nil, fmt.Errorf("execute pragma %s: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("Failed to close database after ping error: %v", closeErr)
		}
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

func (d *Database) debugLog(operation string, err error, duration time.Duration) {
	if !d.debug || err == nil {
		return
	}

	log.Printf("[DB] %s failed in %v: %v", operation, duration, err)
}

func (d *Database) checkClosed() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return fmt.Errorf("database is closed")
	}
	return nil
}

func (d *Database) GetTracks(ctx context.Context, limit, offset int) ([]*types.Track, error) {
	start := time.Now()
	defer func() { d.debugLog("GetTracks", nil, time.Since(start)) }()

	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, title, artist, album, duration, uri, source_type, cover_image,
		       local_path, downloaded, added_at, updated_at
		FROM tracks
		ORDER BY added_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := d.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		d.debugLog("GetTracks", err, time.Since(start))
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("Failed to close rows: %v", closeErr)
		}
	}()

	var tracks []*types.Track
	for rows.Next() {
		track, err := d.scanTrack(rows)
		if err != nil {
			d.debugLog("GetTracks", err, time.Since(start))
			return nil, fmt.Errorf("scan track: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		d.debugLog("GetTracks", err, time.Since(start))
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tracks, nil
}

func (d *Database) GetTrack(ctx context.Context, id string) (*types.Track, error) {
	start := time.Now()
	defer func() { d.debugLog("GetTrack", nil, time.Since(start)) }()

	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, title, artist, album, duration, uri, source_type, cover_image,
		       local_path, downloaded, added_at, updated_at
		FROM tracks
		WHERE id = ?
	`

	row := d.db.QueryRowContext(ctx, query, id)
	track, err := d.scanTrack(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		d.debugLog("GetTrack", err, time.Since(start))
		return nil, fmt.Errorf("scan track: %w", err)
	}

	return track, nil
}

func (d *Database) SaveTrack(ctx context.Context, track *types.Track) error {
	start := time.Now()
	defer func() { d.debugLog("SaveTrack", nil, time.Since(start)) }()

	if err := d.checkClosed(); err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO tracks (
			id, title, artist, album, duration, uri, source_type, cover_image,
			local_path, downloaded, added_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	if track.AddedAt.IsZero() {
		track.AddedAt = now
	}
	track.UpdatedAt = now

	_, err := d.db.ExecContext(ctx, query,
		track.ID, track.Title, track.Artist, track.Album, track.Length,
		track.URI, string(track.SourceType), track.CoverImage,
		track.LocalPath, track.Downloaded, track.AddedAt, track.UpdatedAt,
	)
	if err != nil {
		d.debugLog("SaveTrack", err, time.Since(start))
		return fmt.Errorf("insert track: %w", err)
	}

	return nil
}

func (d *Database) DeleteTrack(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { d.debugLog("DeleteTrack", nil, time.Since(start)) }()

	if err := d.checkClosed(); err != nil {
		return err
	}

	_, err := d.db.ExecContext(ctx, "DELETE FROM tracks WHERE id = ?", id)
	return err
}

func (d *Database) SearchTracks(ctx context.Context, query string, limit int) ([]*types.Track, error) {
	start := time.Now()
	defer func() { d.debugLog("SearchTracks", nil, time.Since(start)) }()

	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	searchQuery := `
		SELECT id, title, artist, album, duration, uri, source_type, cover_image,
		       local_path, downloaded, added_at, updated_at
		FROM tracks
		WHERE title LIKE ? OR artist LIKE ? OR album LIKE ?
		ORDER BY added_at DESC
		LIMIT ?
	`

	searchPattern := "%" + query + "%"
	rows, err := d.db.QueryContext(ctx, searchQuery, searchPattern, searchPattern, searchPattern, limit)
	if err != nil {
		d.debugLog("SearchTracks", err, time.Since(start))
		return nil, fmt.Errorf("search tracks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("Failed to close rows: %v", closeErr)
		}
	}()

	var tracks []*types.Track
	for rows.Next() {
		track, err := d.scanTrack(rows)
		if err != nil {
			d.debugLog("SearchTracks", err, time.Since(start))
			return nil, fmt.Errorf("scan track: %w", err)
		}
		tracks = append(tracks, track)
	}

	return tracks, nil
}

func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	d.closed = true

	if d.db != nil {
		if _, err := d.db.Exec("PRAGMA optimize"); err != nil {
			log.Printf("Warning: Failed to optimize database: %v", err)
		}
		return d.db.Close()
	}

	return nil
}

func (d *Database) scanTrack(scanner interface {
	Scan(dest ...interface{}) error
}) (*types.Track, error) {
	var track types.Track
	var sourceType string

	err := scanner.Scan(
		&track.ID, &track.Title, &track.Artist, &track.Album, &track.Length,
		&track.URI, &sourceType, &track.CoverImage,
		&track.LocalPath, &track.Downloaded, &track.AddedAt, &track.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	track.SourceType = types.SourceType(sourceType)
	return &track, nil
}
