package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Alexander-D-Karpov/tonearm/internal/audio"
	"github.com/Alexander-D-Karpov/tonearm/internal/config"
	"github.com/Alexander-D-Karpov/tonearm/internal/download"
	"github.com/Alexander-D-Karpov/tonearm/internal/handlers"
	"github.com/Alexander-D-Karpov/tonearm/internal/resolver"
	"github.com/Alexander-D-Karpov/tonearm/internal/search"
	"github.com/Alexander-D-Karpov/tonearm/internal/storage"
	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	debug      = flag.Bool("debug", false, "Enable debug mode - shows detailed logging for all components")
	Version    = "dev"
)

// app bundles the host-side collaborators the command loop drives.
type app struct {
	cfg       *config.Config
	db        *storage.Database
	engine    *audio.Engine
	search    *search.Engine
	downloads *download.Manager
}

func main() {
	flag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("[MAIN] Debug mode enabled - all components will log detailed information")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[MAIN] Failed to load config: %v", err)
	}

	if *debug {
		cfg.Debug = true
		log.Printf("[MAIN] Configuration loaded successfully")
		log.Printf("[MAIN] - Database Path: %s", cfg.Storage.DatabasePath)
		log.Printf("[MAIN] - Cache Directory: %s", cfg.Storage.CacheDir)
		log.Printf("[MAIN] - Crossfade: %dms", cfg.Audio.CrossfadeDurationMs)
	}

	db, err := storage.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("[MAIN] Failed to open database: %v", err)
	}
	defer db.Close()

	res := resolver.New(resolver.Options{
		Timeout:           secondsToDuration(cfg.Resolver.TimeoutSeconds),
		RequestsPerSecond: cfg.Resolver.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.Resolver.RateLimit.BurstSize,
		Debug:             cfg.Debug,
	})
	defer res.Close()

	bus := handlers.NewEventBus()
	bus.Subscribe(handlers.EventAudioError, func(data interface{}) {
		if e, ok := data.(types.AudioError); ok {
			log.Printf("[MAIN] Audio error %s: %s", e.Code, e.Message)
		}
	})
	bus.Subscribe(handlers.EventDeviceChanged, func(data interface{}) {
		if d, ok := data.(types.DeviceChanged); ok {
			log.Printf("[MAIN] Output device changed: %s", d.DeviceName)
		}
	})
	bus.Subscribe(handlers.EventTrackChanged, func(data interface{}) {
		if t, ok := data.(*types.Track); ok && t != nil {
			log.Printf("[MAIN] Now playing: %s - %s", t.Artist, t.Title)
		}
	})
	bus.Subscribe(handlers.EventPlaybackError, func(data interface{}) {
		log.Printf("[MAIN] Playback error: %v", data)
	})

	engine := audio.NewEngine(cfg, res, db, bus)
	setupGracefulShutdown(engine)

	a := &app{
		cfg:       cfg,
		db:        db,
		engine:    engine,
		search:    search.NewEngine(cfg, db),
		downloads: download.NewManager(cfg),
	}
	a.downloads.OnCompletion(func(task *download.Task) {
		if task.State != download.StateCompleted || task.Track == nil {
			return
		}
		// Persist the cached location so future plays skip the network.
		if err := db.SaveTrack(context.Background(), task.Track); err != nil {
			log.Printf("[MAIN] Failed to persist downloaded track: %v", err)
		}
	})

	a.loadLibrary()

	fmt.Printf("tonearm %s - type 'help' for commands\n", Version)
	a.runCommandLoop()

	engine.Shutdown()
}

// loadLibrary fills the play queue from the stored library so next/prev and
// crossfade preloading have something to walk.
func (a *app) loadLibrary() {
	tracks, err := a.db.GetTracks(context.Background(), 1000, 0)
	if err != nil {
		log.Printf("[MAIN] Failed to load library: %v", err)
		return
	}
	a.engine.Queue().SetTracks(tracks)
	if a.cfg.Debug {
		log.Printf("[MAIN] Loaded %d library tracks into the queue", len(tracks))
	}
}

func (a *app) runCommandLoop() {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "play":
			if len(fields) < 2 {
				fmt.Println("usage: play <uri|track-id>")
				continue
			}
			a.play(strings.Join(fields[1:], " "))
		case "pause":
			a.engine.Pause()
		case "resume":
			a.engine.Resume()
		case "stop":
			a.engine.Stop()
		case "seek":
			if len(fields) < 2 {
				fmt.Println("usage: seek <seconds>")
				continue
			}
			if s, err := strconv.ParseFloat(fields[1], 64); err == nil {
				a.engine.Seek(s)
			}
		case "vol":
			if len(fields) < 2 {
				fmt.Printf("volume: %.2f\n", a.engine.Volume())
				continue
			}
			if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
				a.engine.SetVolume(v)
			}
		case "pos":
			fmt.Printf("%.1fs / %.1fs\n", a.engine.GetPosition(), a.engine.GetDuration())
		case "crossfade":
			if len(fields) < 2 {
				continue
			}
			if ms, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
				a.engine.SetCrossfadeDuration(uint32(ms))
			}
		case "add":
			if len(fields) < 2 {
				fmt.Println("usage: add <uri> [title]")
				continue
			}
			a.add(fields[1], strings.Join(fields[2:], " "))
		case "library", "ls":
			a.listLibrary()
		case "next":
			a.next()
		case "prev":
			a.prev()
		case "queue":
			if len(fields) < 2 {
				a.listQueue()
				continue
			}
			a.enqueue(fields[1])
		case "shuffle":
			fmt.Printf("shuffle: %v\n", a.engine.Queue().ToggleShuffle())
		case "repeat":
			if len(fields) < 2 {
				fmt.Printf("repeat: %s\n", a.engine.Queue().Repeat())
				continue
			}
			a.engine.Queue().SetRepeat(types.RepeatMode(fields[1]))
		case "search":
			if len(fields) < 2 {
				fmt.Println("usage: search <query>")
				continue
			}
			a.searchLibrary(strings.Join(fields[1:], " "))
		case "fav":
			if len(fields) < 2 {
				fmt.Println("usage: fav <track-id>")
				continue
			}
			a.setFavorite(fields[1], true)
		case "unfav":
			if len(fields) < 2 {
				fmt.Println("usage: unfav <track-id>")
				continue
			}
			a.setFavorite(fields[1], false)
		case "favs":
			a.listFavorites()
		case "download":
			if len(fields) < 2 {
				fmt.Println("usage: download <track-id>")
				continue
			}
			a.downloadTrack(fields[1])
		case "history":
			a.listHistory()
		case "help":
			fmt.Println("playback: play <uri|id> | pause | resume | stop | seek <s> | vol [0-1] | pos | crossfade <ms>")
			fmt.Println("library:  add <uri> [title] | library | search <q> | download <id> | history")
			fmt.Println("queue:    queue [<id>] | next | prev | shuffle | repeat [off|all|one]")
			fmt.Println("likes:    fav <id> | unfav <id> | favs")
			fmt.Println("other:    quit")
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
}

// play accepts either a library track id or a raw URI.
func (a *app) play(arg string) {
	if track := a.lookup(arg); track != nil {
		a.engine.PlayTrack(track)
		return
	}
	a.engine.Play(arg)
}

func (a *app) lookup(id string) *types.Track {
	track, err := a.db.GetTrack(context.Background(), id)
	if err != nil {
		log.Printf("[MAIN] Track lookup failed: %v", err)
		return nil
	}
	return track
}

func (a *app) add(uri, title string) {
	if title == "" {
		title = uri
	}

	sourceType := types.SourceLocal
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		sourceType = types.SourceRemote
	}

	track := &types.Track{
		ID:         uuid.NewString(),
		Title:      title,
		URI:        uri,
		SourceType: sourceType,
	}

	if err := a.db.SaveTrack(context.Background(), track); err != nil {
		fmt.Printf("failed to add track: %v\n", err)
		return
	}

	a.loadLibrary()
	fmt.Printf("added %s (%s)\n", track.Title, track.ID)
}

func (a *app) listLibrary() {
	tracks := a.engine.Queue().Tracks()
	if len(tracks) == 0 {
		fmt.Println("library is empty - use 'add <uri>'")
		return
	}
	for _, t := range tracks {
		marker := " "
		if current := a.engine.Queue().Current(); current != nil && current.ID == t.ID {
			marker = "*"
		}
		fmt.Printf("%s %s  %s - %s\n", marker, t.ID, t.Artist, t.Title)
	}
}

func (a *app) next() {
	if track := a.engine.Queue().Advance(); track != nil {
		a.engine.PlayTrack(track)
	} else {
		fmt.Println("end of queue")
	}
}

func (a *app) prev() {
	if track := a.engine.Queue().Previous(); track != nil {
		a.engine.PlayTrack(track)
	}
}

func (a *app) enqueue(id string) {
	track := a.lookup(id)
	if track == nil {
		fmt.Printf("no such track: %s\n", id)
		return
	}
	a.engine.Queue().AddToQueue(track)
	fmt.Printf("queued %s\n", track.Title)
}

func (a *app) listQueue() {
	pending := a.engine.Queue().Pending()
	if len(pending) == 0 {
		fmt.Println("manual queue is empty")
		return
	}
	for i, t := range pending {
		fmt.Printf("%d. %s - %s\n", i+1, t.Artist, t.Title)
	}
}

func (a *app) searchLibrary(query string) {
	res, err := a.search.Search(context.Background(), query, a.cfg.Search.MaxResults)
	if err != nil {
		fmt.Printf("search failed: %v\n", err)
		return
	}
	if len(res.Tracks) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, t := range res.Tracks {
		fmt.Printf("%s  %s - %s\n", t.ID, t.Artist, t.Title)
	}
}

func (a *app) setFavorite(id string, liked bool) {
	ctx := context.Background()
	var err error
	if liked {
		err = a.db.AddFavorite(ctx, id)
	} else {
		err = a.db.RemoveFavorite(ctx, id)
	}
	if err != nil {
		fmt.Printf("favorite update failed: %v\n", err)
	}
}

func (a *app) listFavorites() {
	favs, err := a.db.GetFavorites(context.Background())
	if err != nil {
		fmt.Printf("failed to list favorites: %v\n", err)
		return
	}
	for _, f := range favs {
		if track := a.lookup(f.TrackID); track != nil {
			fmt.Printf("%s  %s - %s\n", track.ID, track.Artist, track.Title)
		} else {
			fmt.Println(f.TrackID)
		}
	}
}

func (a *app) downloadTrack(id string) {
	track := a.lookup(id)
	if track == nil {
		fmt.Printf("no such track: %s\n", id)
		return
	}
	if err := a.downloads.DownloadTrack(context.Background(), track); err != nil {
		fmt.Printf("download failed: %v\n", err)
		return
	}
	fmt.Printf("downloading %s\n", track.Title)
}

func (a *app) listHistory() {
	plays, err := a.db.GetRecentPlays(context.Background(), 20)
	if err != nil {
		fmt.Printf("failed to list history: %v\n", err)
		return
	}
	for _, p := range plays {
		status := ""
		if p.Completed {
			status = " (completed)"
		}
		if track := a.lookup(p.TrackID); track != nil {
			fmt.Printf("%s  %s - %s%s\n", p.PlayedAt.Format(time.DateTime), track.Artist, track.Title, status)
		} else {
			fmt.Printf("%s  %s%s\n", p.PlayedAt.Format(time.DateTime), p.TrackID, status)
		}
	}
}

func setupGracefulShutdown(engine *audio.Engine) {
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		sig := <-c
		log.Printf("[MAIN] Received signal: %v", sig)
		log.Printf("[MAIN] Initiating graceful shutdown...")

		engine.Shutdown()
		os.Exit(0)
	}()
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
