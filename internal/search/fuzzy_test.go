package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexander-D-Karpov/tonearm/internal/config"
	"github.com/Alexander-D-Karpov/tonearm/internal/storage"
	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, *storage.Database) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "tonearm.db")
	cfg.Storage.CacheDir = t.TempDir()
	cfg.Search.MaxResults = 50

	db, err := storage.NewDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewEngine(cfg, db), db
}

func seed(t *testing.T, db *storage.Database) {
	t.Helper()
	ctx := context.Background()

	tracks := []*types.Track{
		{ID: "1", Title: "Ghost of Perdition", Artist: "Opeth", Album: "Ghost Reveries", URI: "/m/1.flac", SourceType: types.SourceLocal},
		{ID: "2", Title: "The Grand Conjuration", Artist: "Opeth", Album: "Ghost Reveries", URI: "/m/2.flac", SourceType: types.SourceLocal},
		{ID: "3", Title: "Vampira", Artist: "Devin Townsend", Album: "Empath", URI: "/m/3.flac", SourceType: types.SourceLocal},
	}
	for _, tr := range tracks {
		require.NoError(t, db.SaveTrack(ctx, tr))
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	engine, _ := newTestEngine(t)

	res, err := engine.Search(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Tracks)
}

func TestSearch_ByTitleSubstring(t *testing.T) {
	engine, db := newTestEngine(t)
	seed(t, db)

	res, err := engine.Search(context.Background(), "ghost", 10)
	require.NoError(t, err)
	require.NotEmpty(t, res.Tracks)

	ids := map[string]bool{}
	for _, tr := range res.Tracks {
		ids[tr.ID] = true
	}
	assert.True(t, ids["1"])
}

func TestSearch_ByArtist(t *testing.T) {
	engine, db := newTestEngine(t)
	seed(t, db)

	res, err := engine.Search(context.Background(), "opeth", 10)
	require.NoError(t, err)
	require.Len(t, res.Tracks, 2)
}

func TestSearch_NoDuplicatesAcrossExactAndFuzzy(t *testing.T) {
	engine, db := newTestEngine(t)
	seed(t, db)

	res, err := engine.Search(context.Background(), "vampira", 10)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, tr := range res.Tracks {
		seen[tr.ID]++
	}
	for id, n := range seen {
		assert.Equalf(t, 1, n, "track %s duplicated", id)
	}
}

func TestSearch_RespectsLimit(t *testing.T) {
	engine, db := newTestEngine(t)
	seed(t, db)

	res, err := engine.Search(context.Background(), "e", 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Tracks), 1)
}
