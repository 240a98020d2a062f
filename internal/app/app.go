// Package app wires together all adapters and domain logic.
// It provides lifecycle management for a project watcher: create, start, stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/corey/bakewatch/internal/adapters/bbolt"
	"github.com/corey/bakewatch/internal/adapters/command"
	fsw "github.com/corey/bakewatch/internal/adapters/fsnotify"
	"github.com/corey/bakewatch/internal/adapters/notify"
	"github.com/corey/bakewatch/internal/adapters/socket"
	"github.com/corey/bakewatch/internal/domain/watch"
	"github.com/corey/bakewatch/internal/logging"
	"github.com/corey/bakewatch/internal/ports"
)

// App is the top-level container wiring all components together.
type App struct {
	ProjectRoot string
	Paths       *Paths
	Settings    *Settings

	Store   *bbolt.Store
	Builder ports.Builder
	Watcher *watch.Service
	Server  *socket.Server
	Tracker *ChangeTracker

	logger   *slog.Logger
	setLevel func(string) error
	inputDir string

	ctx    context.Context // canceled by Stop; aborts a running build
	cancel context.CancelFunc
	kick   chan struct{}
	done   chan struct{}

	mu       sync.Mutex // guards the fields below
	building bool
	builds   int
	last     *ports.BuildRecord
	running  bool
	stopped  bool
}

// Config holds initialization parameters for the App.
type Config struct {
	ProjectRoot string
	Settings    *Settings     // default: loaded from bakewatch.yaml
	DBPath      string        // default: .bakewatch/history.db
	SocketPath  string        // default: socket.SocketPath(ProjectRoot)
	Builder     ports.Builder // default: command.Runner from Settings.Build
	Stdout      io.Writer     // build output, default os.Stdout
	Stderr      io.Writer     // default os.Stderr
	Logger      *slog.Logger
	// SetLogLevel changes Logger's level at runtime, typically
	// logging.(*Logger).SetLevel. Nil leaves the level fixed.
	SetLogLevel func(level string) error
}

// New creates an App with all dependencies wired. Does not start services.
func New(cfg Config) (*App, error) {
	if cfg.ProjectRoot == "" {
		return nil, fmt.Errorf("project root required")
	}
	paths := NewPaths(cfg.ProjectRoot)

	settings := cfg.Settings
	if settings == nil {
		var err error
		if settings, err = LoadSettings(paths.Config); err != nil {
			return nil, err
		}
	} else if err := settings.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.DBPath == "" {
		cfg.DBPath = paths.DB
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = socket.SocketPath(cfg.ProjectRoot)
	}

	builder := cfg.Builder
	if builder == nil {
		runner, err := command.New(command.Config{
			Argv:    settings.Build.Command,
			Dir:     cfg.ProjectRoot,
			Env:     settings.Build.Env,
			Timeout: settings.Build.Timeout.Std(),
			Stdout:  cfg.Stdout,
			Stderr:  cfg.Stderr,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build command: %w", err)
		}
		builder = runner
	}

	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	store, err := bbolt.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	watcher, err := watch.New(watch.Options{
		PollInterval: settings.Watch.PollInterval.Std(),
		Debounce:     settings.Watch.Debounce.Std(),
		Logger:       logger,
		NewSource:    sourceFactory(settings.Watch.Backend, logger),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		ProjectRoot: cfg.ProjectRoot,
		Paths:       paths,
		Settings:    settings,
		Store:       store,
		Builder:     builder,
		Watcher:     watcher,
		Tracker:     NewChangeTracker(settings.SiteConfig, logger.With("component", "tracker")),
		logger:      logger.With("component", "app"),
		setLevel:    cfg.SetLogLevel,
		inputDir:    settings.InputDir(cfg.ProjectRoot),
		ctx:         ctx,
		cancel:      cancel,
		kick:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	a.Server = socket.NewServer(cfg.SocketPath, a, logger)
	return a, nil
}

func sourceFactory(backend string, logger *slog.Logger) ports.SourceFactory {
	l := logger.With("component", "source")
	if backend == BackendNotify {
		return notify.Factory(notify.WithLogger(l))
	}
	return fsw.Factory(fsw.WithLogger(l))
}

// InputDir returns the watched site source directory.
func (a *App) InputDir() string {
	return a.inputDir
}

// Start opens the control socket, watches the input directory and starts the
// rebuild loop, which runs the initial build first.
func (a *App) Start() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return errors.New("app stopped")
	}
	a.mu.Unlock()

	if err := a.Server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	opts := []watch.WatchOption{
		watch.WithRecursive(a.Settings.Watch.Recursive),
		watch.WithSkipHidden(a.Settings.Watch.SkipHidden),
	}
	if _, err := a.Watcher.AddWatch(a.inputDir, a.Tracker, opts...); err != nil {
		a.Server.Stop()
		return fmt.Errorf("watch %s: %w", a.inputDir, err)
	}
	if err := a.Watcher.Start(); err != nil {
		a.Server.Stop()
		return err
	}
	if err := a.Paths.WritePID(); err != nil {
		a.logger.Warn("write pid file", "err", err)
	}

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	go a.rebuildLoop()
	return nil
}

// Done is closed when the rebuild loop exited.
func (a *App) Done() <-chan struct{} {
	return a.done
}

func (a *App) rebuildLoop() {
	defer close(a.done)

	a.runBuild(ports.BuildRequest{Reason: ports.ReasonInitial})
	a.logger.Info("watching for changes", "input", a.inputDir)

	ticker := time.NewTicker(a.Settings.RebuildInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		case <-a.kick:
		}
		if p, ok := a.Tracker.Take(); ok {
			a.logger.Info("refreshing", "changes", p.Changes, "reinit", p.Reinit)
			a.runBuild(p.Request())
		}
	}
}

// BuildOnce runs a single build outside the watch loop and records it.
func (a *App) BuildOnce(ctx context.Context, reinit bool) (ports.BuildRecord, error) {
	rec := a.build(ctx, ports.BuildRequest{Reason: ports.ReasonManual, Reinit: reinit})
	if !rec.OK() {
		return rec, errors.New(rec.Error)
	}
	return rec, nil
}

func (a *App) runBuild(req ports.BuildRequest) {
	a.build(a.ctx, req)
}

func (a *App) build(ctx context.Context, req ports.BuildRequest) ports.BuildRecord {
	a.mu.Lock()
	a.building = true
	a.mu.Unlock()

	rec := ports.BuildRecord{Started: time.Now(), Reason: req.Reason, Reinit: req.Reinit, Changes: req.Changes}
	err := a.Builder.Build(ctx, req)
	rec.Duration = time.Since(rec.Started)
	if err != nil {
		rec.Error = err.Error()
	}

	if seq, herr := a.Store.Append(rec); herr != nil {
		a.logger.Warn("record build", "err", herr)
	} else {
		rec.Seq = seq
	}

	a.mu.Lock()
	a.building = false
	a.builds++
	a.last = &rec
	a.mu.Unlock()
	return rec
}

// Stop shuts down all services. Safe to call more than once.
func (a *App) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	wasRunning := a.running
	a.mu.Unlock()

	a.cancel()
	if wasRunning {
		<-a.done
	}
	a.Watcher.Stop()
	a.Server.Stop()
	a.Paths.CleanEphemeral()
	return a.Store.Close()
}

// Health implements socket.Queries.
func (a *App) Health() socket.HealthResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := socket.HealthResult{
		Input:     a.inputDir,
		Roots:     a.Watcher.Roots(),
		Debounce:  a.Watcher.Debounce().String(),
		Overflows: a.Tracker.Overflows(),
		Dirty:     a.Tracker.Dirty(),
		Building:  a.building,
		Builds:    a.builds,
	}
	if a.last != nil {
		last := *a.last
		h.LastBuild = &last
	}
	return h
}

// RequestRebuild implements socket.Queries. The build starts on the next
// loop iteration.
func (a *App) RequestRebuild(reinit bool) bool {
	a.Tracker.Request(reinit)
	select {
	case a.kick <- struct{}{}:
	default:
	}
	return true
}

// SetLogLevel implements socket.Queries.
func (a *App) SetLogLevel(level string) error {
	if a.setLevel == nil {
		return errors.New("log level is fixed for this process")
	}
	return a.setLevel(level)
}

// History implements socket.Queries.
func (a *App) History(limit int) ([]ports.BuildRecord, error) {
	return a.Store.Recent(limit)
}
