package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

// RecordPlay inserts a history entry for a started playback and returns its
// id so completion can be filled in later.
func (d *Database) RecordPlay(ctx context.Context, trackID string, source *string) (string, error) {
	start := time.Now()
	defer func() { d.debugLog("RecordPlay", nil, time.Since(start)) }()

	if err := d.checkClosed(); err != nil {
		return "", err
	}

	id := uuid.NewString()

	_, err := d.db.ExecContext(ctx,
		"INSERT INTO play_history (id, track_id, played_at, source) VALUES (?, ?, ?, ?)",
		id, trackID, time.Now(), source,
	)
	if err != nil {
		d.debugLog("RecordPlay", err, time.Since(start))
		return "", fmt.Errorf("record play: %w", err)
	}

	return id, nil
}

// UpdatePlayCompletion stores how much of the track actually played.
func (d *Database) UpdatePlayCompletion(ctx context.Context, entryID string, durationPlayed int64, completed bool) error {
	start := time.Now()
	defer func() { d.debugLog("UpdatePlayCompletion", nil, time.Since(start)) }()

	if err := d.checkClosed(); err != nil {
		return err
	}

	_, err := d.db.ExecContext(ctx,
		"UPDATE play_history SET duration_played = ?, completed = ? WHERE id = ?",
		durationPlayed, completed, entryID,
	)
	if err != nil {
		d.debugLog("UpdatePlayCompletion", err, time.Since(start))
		return fmt.Errorf("update play completion: %w", err)
	}

	return nil
}

func (d *Database) GetRecentPlays(ctx context.Context, limit int) ([]*types.PlayHistoryEntry, error) {
	start := time.Now()
	defer func() { d.debugLog("GetRecentPlays", nil, time.Since(start)) }()

	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, track_id, played_at, duration_played, completed, source
		FROM play_history
		ORDER BY played_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		d.debugLog("GetRecentPlays", err, time.Since(start))
		return nil, fmt.Errorf("query recent plays: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("Failed to close rows: %v", closeErr)
		}
	}()

	var entries []*types.PlayHistoryEntry
	for rows.Next() {
		var e types.PlayHistoryEntry
		if err := rows.Scan(&e.ID, &e.TrackID, &e.PlayedAt, &e.DurationPlayed, &e.Completed, &e.Source); err != nil {
			d.debugLog("GetRecentPlays", err, time.Since(start))
			return nil, fmt.Errorf("scan play entry: %w", err)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
