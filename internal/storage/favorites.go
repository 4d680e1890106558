package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

func (d *Database) AddFavorite(ctx context.Context, trackID string) error {
	start := time.Now()
	defer func() { d.debugLog("AddFavorite", nil, time.Since(start)) }()

	if err := d.checkClosed(); err != nil {
		return err
	}

	_, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_favorites (id, track_id, liked_at) VALUES (?, ?, ?)",
		uuid.NewString(), trackID, time.Now(),
	)
	if err != nil {
		d.debugLog("AddFavorite", err, time.Since(start))
		return fmt.Errorf("add favorite: %w", err)
	}

	return nil
}

func (d *Database) RemoveFavorite(ctx context.Context, trackID string) error {
	start := time.Now()
	defer func() { d.debugLog("RemoveFavorite", nil, time.Since(start)) }()

	if err := d.checkClosed(); err != nil {
		return err
	}

	_, err := d.db.ExecContext(ctx, "DELETE FROM user_favorites WHERE track_id = ?", trackID)
	return err
}

func (d *Database) IsFavorited(ctx context.Context, trackID string) (bool, error) {
	if err := d.checkClosed(); err != nil {
		return false, err
	}

	var one int
	err := d.db.QueryRowContext(ctx,
		"SELECT 1 FROM user_favorites WHERE track_id = ?", trackID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *Database) GetFavorites(ctx context.Context) ([]*types.Favorite, error) {
	start := time.Now()
	defer func() { d.debugLog("GetFavorites", nil, time.Since(start)) }()

	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, track_id, liked_at
		FROM user_favorites
		ORDER BY liked_at DESC
	`)
	if err != nil {
		d.debugLog("GetFavorites", err, time.Since(start))
		return nil, fmt.Errorf("query favorites: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("Failed to close rows: %v", closeErr)
		}
	}()

	var favorites []*types.Favorite
	for rows.Next() {
		var f types.Favorite
		if err := rows.Scan(&f.ID, &f.TrackID, &f.LikedAt); err != nil {
			d.debugLog("GetFavorites", err, time.Since(start))
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		favorites = append(favorites, &f)
	}

	return favorites, rows.Err()
}
