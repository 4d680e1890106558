package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexander-D-Karpov/tonearm/internal/config"
	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := &config.Config{}
	cfg.Storage.CacheDir = t.TempDir()
	cfg.Download.MaxConcurrent = 2
	cfg.Download.ChunkSizeBytes = 64 * 1024
	cfg.Download.BudgetSeconds = 30
	cfg.Download.TempDir = filepath.Join(t.TempDir(), "tmp")
	cfg.HTTP.UserAgent = "Tonearm/test"

	return NewManager(cfg)
}

// mp3Payload is a minimal valid-looking MPEG stream: an ID3 header plus
// padding past the size floor.
func mp3Payload() []byte {
	data := make([]byte, 4096)
	copy(data, "ID3")
	return data
}

func TestDownloadTrack_FetchesAndMarksLocal(t *testing.T) {
	payload := mp3Payload()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	m := newTestManager(t)
	track := &types.Track{
		ID:         "t1",
		Title:      "Cached",
		URI:        srv.URL + "/t1.mp3",
		SourceType: types.SourceRemote,
	}

	done := make(chan *Task, 1)
	m.OnCompletion(func(task *Task) {
		if task.State == StateCompleted || task.State == StateFailed {
			select {
			case done <- task:
			default:
			}
		}
	})

	require.NoError(t, m.DownloadTrack(context.Background(), track))

	select {
	case task := <-done:
		require.Equal(t, StateCompleted, task.State, "error: %v", task.Error)
	case <-time.After(10 * time.Second):
		t.Fatal("download never completed")
	}

	require.NotNil(t, track.LocalPath)
	assert.True(t, track.Downloaded)
	assert.Equal(t, *track.LocalPath, track.PlayURI(), "engine opens the cached copy")
}

func TestDownloadTrack_RejectsLocalURI(t *testing.T) {
	m := newTestManager(t)
	err := m.DownloadTrack(context.Background(), &types.Track{ID: "x", URI: "/music/x.flac"})
	assert.Error(t, err)
}

func TestValidateAudioFile_RejectsGarbage(t *testing.T) {
	m := newTestManager(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not audio, definitely not, padding padding padding padding padding "+
			"padding padding padding padding padding padding padding padding padding padding")
		for i := 0; i < 64; i++ {
			fmt.Fprint(w, "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx")
		}
	}))
	defer srv.Close()

	track := &types.Track{ID: "bad", URI: srv.URL + "/bad.mp3", SourceType: types.SourceRemote}

	done := make(chan *Task, 1)
	m.OnCompletion(func(task *Task) {
		if task.State == StateCompleted || task.State == StateFailed {
			select {
			case done <- task:
			default:
			}
		}
	})

	require.NoError(t, m.DownloadTrack(context.Background(), track))

	select {
	case task := <-done:
		assert.Equal(t, StateFailed, task.State)
	case <-time.After(10 * time.Second):
		t.Fatal("download never finished")
	}
}

func TestRemoteExtension(t *testing.T) {
	cases := map[string]string{
		"https://cdn.example.com/a.flac":     ".flac",
		"https://cdn.example.com/a.mp3?x=1":  ".mp3",
		"https://cdn.example.com/stream":     ".mp3",
		"https://cdn.example.com/a.verylong": ".mp3",
	}
	for uri, want := range cases {
		assert.Equalf(t, want, remoteExtension(uri), "uri %s", uri)
	}
}

func TestShouldRetry(t *testing.T) {
	m := newTestManager(t)

	assert.False(t, m.shouldRetry(nil))
	assert.False(t, m.shouldRetry(fmt.Errorf("HTTP 404: Not Found")))
	assert.False(t, m.shouldRetry(context.Canceled))
	assert.True(t, m.shouldRetry(fmt.Errorf("connection reset by peer")))
	assert.True(t, m.shouldRetry(fmt.Errorf("HTTP 503: Service Unavailable")))
}
