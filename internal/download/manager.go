package download

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Alexander-D-Karpov/tonearm/internal/config"
	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

// Manager fetches remote tracks into the local cache so later plays use the
// file source instead of streaming. Each download gets a wall-clock budget on
// top of per-attempt retries.
type Manager struct {
	config        *Config
	httpClient    *http.Client
	semaphore     chan struct{}
	tasks         sync.Map
	progressCbs   []ProgressCallback
	completionCbs []CompletionCallback
	callbackMutex sync.RWMutex
	debug         bool
}

func NewManager(cfg *config.Config) *Manager {
	downloadConfig := &Config{
		MaxConcurrent: cfg.Download.MaxConcurrent,
		ChunkSize:     cfg.Download.ChunkSizeBytes,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		WallBudget:    time.Duration(cfg.Download.BudgetSeconds) * time.Second,
		UserAgent:     cfg.HTTP.UserAgent,
		TempDir:       cfg.Download.TempDir,
		CacheDir:      cfg.Storage.CacheDir,
	}

	manager := &Manager{
		config:    downloadConfig,
		semaphore: make(chan struct{}, downloadConfig.MaxConcurrent),
		httpClient: &http.Client{
			Timeout: downloadConfig.WallBudget,
		},
		debug: cfg.Debug,
	}

	if err := os.MkdirAll(downloadConfig.TempDir, 0755); err != nil {
		log.Printf("[DOWNLOAD] Failed to create temp directory: %v", err)
	}
	if err := os.MkdirAll(downloadConfig.CacheDir, 0755); err != nil {
		log.Printf("[DOWNLOAD] Failed to create cache directory: %v", err)
	}

	manager.debugLog("Download manager initialized - max concurrent: %d", downloadConfig.MaxConcurrent)
	return manager
}

func (m *Manager) Download(ctx context.Context, url, destination string) error {
	return m.downloadWithOptions(ctx, url, destination, "", nil)
}

func (m *Manager) DownloadTrack(ctx context.Context, track *types.Track) error {
	if track == nil {
		return fmt.Errorf("track cannot be nil")
	}
	if !strings.HasPrefix(track.URI, "http://") && !strings.HasPrefix(track.URI, "https://") {
		return fmt.Errorf("track %s is not remote", track.ID)
	}

	filename := m.generateSafeFilename(track.Title, track.ID) + remoteExtension(track.URI)
	destination := filepath.Join(m.config.CacheDir, "tracks", filename)

	if stat, err := os.Stat(destination); err == nil && stat.Size() > 0 {
		m.debugLog("Track already in cache: %s", destination)
		track.LocalPath = &destination
		track.Downloaded = true
		return nil
	}

	if track.Downloaded && track.LocalPath != nil {
		if _, err := os.Stat(*track.LocalPath); err == nil {
			m.debugLog("Track metadata indicates already downloaded: %s", *track.LocalPath)
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	return m.downloadWithOptions(ctx, track.URI, destination, track.Title, track)
}

func (m *Manager) downloadWithOptions(ctx context.Context, url, destination, title string, track *types.Track) error {
	taskID := m.generateTaskID(url, destination)

	if existingTask, exists := m.tasks.Load(taskID); exists {
		task := existingTask.(*Task)
		task.mutex.RLock()
		state := task.State
		task.mutex.RUnlock()

		if state == StateDownloading || state == StatePending {
			m.debugLog("Download already in progress: %s", url)
			return fmt.Errorf("download already in progress")
		}
	}

	taskCtx, cancel := context.WithTimeout(ctx, m.config.WallBudget)
	task := &Task{
		ID:          taskID,
		URL:         url,
		Destination: destination,
		Title:       title,
		State:       StatePending,
		Progress:    &Progress{},
		StartTime:   time.Now(),
		CancelFunc:  cancel,
		MaxRetries:  m.config.RetryAttempts,
		Track:       track,
	}

	m.tasks.Store(taskID, task)
	m.debugLog("Created download task: %s -> %s", url, destination)

	go m.executeDownload(taskCtx, task)

	return nil
}

func (m *Manager) executeDownload(ctx context.Context, task *Task) {
	select {
	case m.semaphore <- struct{}{}:
		defer func() { <-m.semaphore }()
	case <-ctx.Done():
		m.updateTaskState(task, StateCancelled, ctx.Err())
		return
	}

	m.updateTaskState(task, StateDownloading, nil)
	m.debugLog("Starting download: %s", task.URL)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= task.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * m.config.RetryDelay
			m.debugLog("Retrying download (attempt %d/%d) after %v: %s",
				attempt+1, task.MaxRetries+1, delay, task.URL)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				m.updateTaskState(task, StateCancelled, ctx.Err())
				return
			}
		}

		err := m.performDownload(ctx, task)
		attempts = attempt + 1
		if err == nil {
			m.handleDownloadSuccess(task)
			return
		}

		lastErr = err
		task.mutex.Lock()
		task.Retries = attempt
		task.mutex.Unlock()

		if !m.shouldRetry(err) {
			break
		}
	}

	m.updateTaskState(task, StateFailed, lastErr)
	m.debugLog("Download failed after %d attempts: %s - %v", attempts, task.URL, lastErr)
}

func (m *Manager) GetProgress(url string) (*types.DownloadProgress, bool) {
	task := m.findTask(url)
	if task == nil {
		return nil, false
	}

	return m.taskToProgress(task), true
}

func (m *Manager) Cancel(url string) error {
	task := m.findTask(url)
	if task == nil {
		return fmt.Errorf("download not found: %s", url)
	}

	task.mutex.Lock()
	if task.CancelFunc != nil {
		task.CancelFunc()
	}
	task.mutex.Unlock()

	m.updateTaskState(task, StateCancelled, fmt.Errorf("cancelled by user"))
	m.debugLog("Cancelled download: %s", url)
	return nil
}

func (m *Manager) findTask(url string) *Task {
	var found *Task
	m.tasks.Range(func(key, value interface{}) bool {
		task := value.(*Task)
		if task.URL == url {
			found = task
			return false
		}
		return true
	})
	return found
}

func (m *Manager) GetAllDownloads() []*types.DownloadProgress {
	var downloads []*types.DownloadProgress

	m.tasks.Range(func(key, value interface{}) bool {
		task := value.(*Task)
		downloads = append(downloads, m.taskToProgress(task))
		return true
	})

	return downloads
}

func (m *Manager) OnProgress(callback ProgressCallback) {
	m.callbackMutex.Lock()
	defer m.callbackMutex.Unlock()
	m.progressCbs = append(m.progressCbs, callback)
}

func (m *Manager) OnCompletion(callback CompletionCallback) {
	m.callbackMutex.Lock()
	defer m.callbackMutex.Unlock()
	m.completionCbs = append(m.completionCbs, callback)
}

func (m *Manager) ClearCompleted() {
	var toDelete []string

	m.tasks.Range(func(key, value interface{}) bool {
		task := value.(*Task)
		task.mutex.RLock()
		state := task.State
		task.mutex.RUnlock()

		if state == StateCompleted || state == StateFailed {
			toDelete = append(toDelete, key.(string))
		}
		return true
	})

	for _, key := range toDelete {
		m.tasks.Delete(key)
	}

	m.debugLog("Cleared %d completed downloads", len(toDelete))
}

func (m *Manager) generateTaskID(url, destination string) string {
	hash := sha256.Sum256([]byte(url + destination))
	return fmt.Sprintf("%x", hash)[:16]
}

func (m *Manager) generateSafeFilename(name, id string) string {
	if id != "" {
		return id
	}

	safe := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-",
		"\"", "-", "<", "-", ">", "-", "|", "-",
	).Replace(name)
	if len(safe) > 100 {
		safe = safe[:100]
	}
	return safe
}

func remoteExtension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	if ext := filepath.Ext(p); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".mp3"
}

func (m *Manager) debugLog(format string, args ...interface{}) {
	if m.debug {
		log.Printf("[DOWNLOAD] "+format, args...)
	}
}
