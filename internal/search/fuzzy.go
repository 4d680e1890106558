package search

import (
	"context"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/Alexander-D-Karpov/tonearm/internal/config"
	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

// Engine finds tracks in the local library by title, artist or album. It
// merges exact substring matches from the database with fuzzy-scored
// matches over the loaded library.
type Engine struct {
	cfg     *config.Config
	storage types.Storage
}

func NewEngine(cfg *config.Config, storage types.Storage) *Engine {
	return &Engine{
		cfg:     cfg,
		storage: storage,
	}
}

func (e *Engine) Search(ctx context.Context, query string, limit int) (*types.SearchResults, error) {
	if query == "" {
		return &types.SearchResults{}, nil
	}
	if limit <= 0 {
		limit = e.cfg.Search.MaxResults
	}

	tracks, err := e.storage.SearchTracks(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	fuzzyResults, err := e.FuzzySearch(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	results := &types.SearchResults{
		Tracks: mergeTracks(tracks, fuzzyResults.Tracks),
	}
	results.Total = len(results.Tracks)

	if len(results.Tracks) > limit {
		results.Tracks = results.Tracks[:limit]
		results.Total = limit
	}

	return results, nil
}

func (e *Engine) FuzzySearch(ctx context.Context, query string, limit int) (*types.SearchResults, error) {
	tracks, err := e.storage.GetTracks(ctx, 1000, 0)
	if err != nil {
		return nil, err
	}

	scored := e.scoreTracks(tracks, query)
	if len(scored) > limit {
		scored = scored[:limit]
	}

	return &types.SearchResults{
		Tracks: scored,
		Total:  len(scored),
	}, nil
}

type scoredTrack struct {
	track *types.Track
	score float64
}

func (e *Engine) scoreTracks(tracks []*types.Track, query string) []*types.Track {
	var scored []scoredTrack
	queryLower := strings.ToLower(query)

	for _, track := range tracks {
		score := 0.0

		if strings.Contains(strings.ToLower(track.Title), queryLower) {
			score += 10.0
		}
		if strings.Contains(strings.ToLower(track.Artist), queryLower) {
			score += 5.0
		}
		if strings.Contains(strings.ToLower(track.Album), queryLower) {
			score += 3.0
		}

		distance := fuzzy.LevenshteinDistance(queryLower, strings.ToLower(track.Title))
		if distance <= len(queryLower)/2 {
			score += float64(len(queryLower) - distance)
		}

		if fuzzy.MatchNormalizedFold(queryLower, track.Artist) {
			score += 2.0
		}

		if score > 0 {
			scored = append(scored, scoredTrack{track: track, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	out := make([]*types.Track, len(scored))
	for i, s := range scored {
		out[i] = s.track
	}
	return out
}

func mergeTracks(exact, fuzzyMatches []*types.Track) []*types.Track {
	seen := make(map[string]bool, len(exact))
	out := make([]*types.Track, 0, len(exact)+len(fuzzyMatches))

	for _, t := range exact {
		if !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	for _, t := range fuzzyMatches {
		if !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}

	return out
}
