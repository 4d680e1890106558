package storage

import (
	"fmt"
)

func (d *Database) runMigrations() error {
	migrations := []string{
		createTables,
		createIndexes,
	}

	for i, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

const createTables = `
CREATE TABLE IF NOT EXISTS tracks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	artist TEXT DEFAULT '',
	album TEXT DEFAULT '',
	duration INTEGER DEFAULT 0,
	uri TEXT NOT NULL,
	source_type TEXT DEFAULT 'local',
	cover_image TEXT,
	local_path TEXT,
	downloaded BOOLEAN DEFAULT FALSE,
	added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS play_history (
	id TEXT PRIMARY KEY,
	track_id TEXT NOT NULL,
	played_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	duration_played INTEGER DEFAULT 0,
	completed BOOLEAN DEFAULT FALSE,
	source TEXT
);

CREATE TABLE IF NOT EXISTS user_favorites (
	id TEXT PRIMARY KEY,
	track_id TEXT NOT NULL UNIQUE,
	liked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_tracks_title ON tracks(title);
CREATE INDEX IF NOT EXISTS idx_tracks_artist ON tracks(artist);
CREATE INDEX IF NOT EXISTS idx_history_track ON play_history(track_id);
CREATE INDEX IF NOT EXISTS idx_history_played_at ON play_history(played_at);
CREATE INDEX IF NOT EXISTS idx_favorites_track ON user_favorites(track_id);
`
