package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexander-D-Karpov/tonearm/internal/config"
	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()

	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "tonearm.db")
	cfg.Storage.CacheDir = t.TempDir()
	cfg.Storage.EnableWAL = false

	db, err := NewDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func sampleTrack(id string) *types.Track {
	return &types.Track{
		ID:         id,
		Title:      "Windowpane " + id,
		Artist:     "Opeth",
		Album:      "Damnation",
		Length:     465,
		URI:        "/music/" + id + ".flac",
		SourceType: types.SourceLocal,
	}
}

func TestSaveAndGetTrack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	track := sampleTrack("a1")
	require.NoError(t, db.SaveTrack(ctx, track))

	got, err := db.GetTrack(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Windowpane a1", got.Title)
	assert.Equal(t, "Opeth", got.Artist)
	assert.Equal(t, types.SourceLocal, got.SourceType)
	assert.False(t, got.AddedAt.IsZero())
}

func TestGetTrack_MissingReturnsNil(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetTrack(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveTrack_Upsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	track := sampleTrack("a1")
	require.NoError(t, db.SaveTrack(ctx, track))

	track.Title = "Renamed"
	require.NoError(t, db.SaveTrack(ctx, track))

	got, err := db.GetTrack(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	all, err := db.GetTracks(ctx, 100, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSearchTracks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveTrack(ctx, &types.Track{
		ID: "1", Title: "Harvest", Artist: "Opeth", URI: "/m/1.flac", SourceType: types.SourceLocal,
	}))
	require.NoError(t, db.SaveTrack(ctx, &types.Track{
		ID: "2", Title: "Something Else", Artist: "Nobody", URI: "/m/2.flac", SourceType: types.SourceLocal,
	}))

	found, err := db.SearchTracks(ctx, "opeth", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "1", found[0].ID)
}

func TestDeleteTrack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveTrack(ctx, sampleTrack("a1")))
	require.NoError(t, db.DeleteTrack(ctx, "a1"))

	got, err := db.GetTrack(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPlayHistoryLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	src := "local"
	id, err := db.RecordPlay(ctx, "track-1", &src)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, db.UpdatePlayCompletion(ctx, id, 465, true))

	plays, err := db.GetRecentPlays(ctx, 10)
	require.NoError(t, err)
	require.Len(t, plays, 1)
	assert.Equal(t, "track-1", plays[0].TrackID)
	assert.Equal(t, int64(465), plays[0].DurationPlayed)
	assert.True(t, plays[0].Completed)
	require.NotNil(t, plays[0].Source)
	assert.Equal(t, "local", *plays[0].Source)
}

func TestRecentPlays_Limit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		_, err := db.RecordPlay(ctx, id, nil)
		require.NoError(t, err)
	}

	plays, err := db.GetRecentPlays(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, plays, 2)
}

func TestFavorites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AddFavorite(ctx, "track-1"))
	require.NoError(t, db.AddFavorite(ctx, "track-1"), "re-adding is a no-op")

	liked, err := db.IsFavorited(ctx, "track-1")
	require.NoError(t, err)
	assert.True(t, liked)

	favs, err := db.GetFavorites(ctx)
	require.NoError(t, err)
	assert.Len(t, favs, 1)

	require.NoError(t, db.RemoveFavorite(ctx, "track-1"))
	liked, err = db.IsFavorited(ctx, "track-1")
	require.NoError(t, err)
	assert.False(t, liked)
}

func TestClosedDatabaseRefusesWork(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Close())

	_, err := db.GetTracks(context.Background(), 10, 0)
	assert.Error(t, err)
}
