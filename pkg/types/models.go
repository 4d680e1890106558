package types

import (
	"time"
)

// SourceType tells the engine where a track's bytes come from.
type SourceType string

const (
	SourceLocal  SourceType = "local"
	SourceRemote SourceType = "remote"
)

// Track represents one playable entry in the library or queue.
type Track struct {
	ID         string     `json:"id" db:"id"`
	Title      string     `json:"title" db:"title"`
	Artist     string     `json:"artist" db:"artist"`
	Album      string     `json:"album" db:"album"`
	Length     int        `json:"length" db:"duration"`
	URI        string     `json:"uri" db:"uri"`
	SourceType SourceType `json:"source_type" db:"source_type"`
	CoverImage *string    `json:"cover_image" db:"cover_image"`

	LocalPath  *string   `json:"-" db:"local_path"`
	Downloaded bool      `json:"-" db:"downloaded"`
	AddedAt    time.Time `json:"-" db:"added_at"`
	UpdatedAt  time.Time `json:"-" db:"updated_at"`
}

// PlayURI returns the URI the playback engine should open, preferring a
// downloaded local copy over the remote location.
func (t *Track) PlayURI() string {
	if t.LocalPath != nil && *t.LocalPath != "" {
		return *t.LocalPath
	}
	return t.URI
}

// PlayHistoryEntry records one playback of a track.
type PlayHistoryEntry struct {
	ID             string    `json:"id" db:"id"`
	TrackID        string    `json:"track_id" db:"track_id"`
	PlayedAt       time.Time `json:"played_at" db:"played_at"`
	DurationPlayed int64     `json:"duration_played" db:"duration_played"`
	Completed      bool      `json:"completed" db:"completed"`
	Source         *string   `json:"source" db:"source"`
}

// Favorite marks a track the user liked.
type Favorite struct {
	ID      string    `json:"id" db:"id"`
	TrackID string    `json:"track_id" db:"track_id"`
	LikedAt time.Time `json:"liked_at" db:"liked_at"`
}

// RepeatMode controls how the queue advances past its last track.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// AudioError is the structured payload of an audio-error event.
type AudioError struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// DeviceChanged is the payload of a device-changed event.
type DeviceChanged struct {
	DeviceName string `json:"device_name"`
}

// SearchResults groups matches for a library query.
type SearchResults struct {
	Tracks []*Track `json:"tracks"`
	Total  int      `json:"total"`
}
