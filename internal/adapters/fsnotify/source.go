// Package fsnotify implements ports.EventSource using github.com/fsnotify/fsnotify.
// inotify and kqueue only watch single directories, so a recursive source walks
// the tree and registers every directory, then registers new directories as
// their create events are drained.
package fsnotify

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"

	"github.com/corey/bakewatch/internal/domain/pathfilter"
	"github.com/corey/bakewatch/internal/ports"
)

const (
	// eventBuffer is the fsnotify channel capacity. The kernel queue sits
	// behind it, so overflow is still reported by the backend.
	eventBuffer = 1024

	// maxDrain bounds the work done by a single Drain call.
	maxDrain = 4096
)

var errNotDir = errors.New("not a directory")

// Source implements ports.EventSource for one root directory.
type Source struct {
	root   string
	opts   ports.SourceOptions
	fw     *fsnotify.Watcher
	logger *slog.Logger

	mu   sync.Mutex
	dirs map[string]struct{} // registered directories

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger used for backend warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New registers root with fsnotify. Any failure is returned as a
// *ports.SetupError and leaves nothing registered.
func New(root string, opts ports.SourceOptions, options ...Option) (*Source, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &ports.SetupError{Path: root, Err: err}
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, &ports.SetupError{Path: absRoot, Err: err}
	}
	if !info.IsDir() {
		return nil, &ports.SetupError{Path: absRoot, Err: errNotDir}
	}

	fw, err := fsnotify.NewBufferedWatcher(eventBuffer)
	if err != nil {
		return nil, &ports.SetupError{Path: absRoot, Err: describeLimit(err)}
	}

	s := &Source{
		root:   absRoot,
		opts:   opts,
		fw:     fw,
		logger: slog.New(slog.DiscardHandler),
		dirs:   make(map[string]struct{}),
	}
	for _, opt := range options {
		opt(s)
	}

	if opts.Recursive {
		err = s.registerTree(absRoot, true)
	} else {
		err = s.register(absRoot)
	}
	if err != nil {
		fw.Close()
		return nil, &ports.SetupError{Path: absRoot, Err: describeLimit(err)}
	}

	s.logger.Debug("source registered", "root", absRoot, "dirs", s.DirCount(), "recursive", opts.Recursive)
	return s, nil
}

// Factory adapts New to ports.SourceFactory.
func Factory(options ...Option) ports.SourceFactory {
	return func(root string, opts ports.SourceOptions) (ports.EventSource, error) {
		s, err := New(root, opts, options...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Root returns the absolute, cleaned root path.
func (s *Source) Root() string {
	return s.root
}

// DirCount returns the number of registered directories.
func (s *Source) DirCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirs)
}

// Drain returns every event fsnotify has buffered, without blocking.
func (s *Source) Drain() ([]ports.RawEvent, error) {
	if s.closed.Load() {
		return nil, ports.ErrClosed
	}

	var out []ports.RawEvent
	for i := 0; i < maxDrain; i++ {
		select {
		case ev, ok := <-s.fw.Events:
			if !ok {
				s.closed.Store(true)
				return out, ports.ErrClosed
			}
			var gone bool
			out, gone = s.classify(ev, out)
			if gone {
				s.Close()
				return out, ports.ErrClosed
			}
		case err, ok := <-s.fw.Errors:
			if !ok {
				s.closed.Store(true)
				return out, ports.ErrClosed
			}
			if ev, ok := s.classifyError(err); ok {
				out = append(out, ev)
			}
		default:
			return out, nil
		}
	}
	return out, nil
}

// Close releases the fsnotify watcher. Idempotent.
func (s *Source) Close() error {
	s.closed.Store(true)
	s.closeOnce.Do(func() {
		s.closeErr = s.fw.Close()
	})
	return s.closeErr
}

// classify appends the RawEvent for ev to out. gone reports that the root
// itself was removed or renamed away.
func (s *Source) classify(ev fsnotify.Event, out []ports.RawEvent) ([]ports.RawEvent, bool) {
	path := filepath.Clean(ev.Name)
	if path == s.root {
		return out, ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
	}
	rel, ok := pathfilter.Rel(s.root, path)
	if !ok {
		return out, false
	}
	if s.opts.SkipHidden && pathfilter.IsHidden(rel) {
		return out, false
	}

	switch {
	case ev.Has(fsnotify.Create):
		if s.opts.Recursive {
			if isDir, exists := pathfilter.IsDir(path); exists && isDir {
				// A directory that vanishes mid-walk is not an error;
				// its delete event follows.
				_ = s.registerTree(path, false)
			}
		}
		return append(out, ports.RawEvent{Kind: ports.EventCreate, Path: rel}), false
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		s.forget(path)
		return append(out, ports.RawEvent{Kind: ports.EventDelete, Path: rel}), false
	case ev.Has(fsnotify.Write):
		isDir, exists := pathfilter.IsDir(path)
		if !exists {
			return out, false
		}
		if isDir {
			s.logger.Debug("skipped directory modify", "path", rel)
			return out, false
		}
		return append(out, ports.RawEvent{Kind: ports.EventModify, Path: rel}), false
	}
	// Chmod only.
	return out, false
}

func (s *Source) classifyError(err error) (ports.RawEvent, bool) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		return ports.RawEvent{Kind: ports.EventOverflow}, true
	}
	s.logger.Warn("fsnotify error", "root", s.root, "error", err)
	return ports.RawEvent{}, false
}

func (s *Source) register(dir string) error {
	if err := s.fw.Add(dir); err != nil {
		return err
	}
	s.mu.Lock()
	s.dirs[dir] = struct{}{}
	s.mu.Unlock()
	return nil
}

// registerTree registers start and every directory below it. During setup
// (strict) any failure aborts; afterwards failures are logged and skipped.
func (s *Source) registerTree(start string, strict bool) error {
	dirs, err := s.collectDirs(start)
	if err != nil {
		if strict {
			return err
		}
		s.logger.Debug("walk failed", "path", start, "error", err)
		return nil
	}
	for _, dir := range dirs {
		if err := s.register(dir); err != nil {
			if strict {
				return err
			}
			if !errors.Is(err, fsnotify.ErrClosed) {
				s.logger.Debug("register failed", "path", dir, "error", err)
			}
		}
	}
	return nil
}

// collectDirs walks start with fastwalk and returns the directories to
// register, parents before children.
func (s *Source) collectDirs(start string) ([]string, error) {
	var mu sync.Mutex
	dirs := []string{start}

	conf := &fastwalk.Config{Follow: false}
	err := fastwalk.Walk(conf, start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == start {
				return err
			}
			return nil // skip inaccessible paths
		}
		if path == start || !d.IsDir() {
			return nil
		}
		if s.opts.SkipHidden {
			if rel, ok := pathfilter.Rel(s.root, path); ok && pathfilter.IsHidden(rel) {
				return fs.SkipDir
			}
		}
		mu.Lock()
		dirs = append(dirs, path)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(dirs)
	return dirs, nil
}

// forget drops path and every registered directory below it.
func (s *Source) forget(path string) {
	prefix := path + string(os.PathSeparator)

	s.mu.Lock()
	var removed []string
	for dir := range s.dirs {
		if dir == path || len(dir) > len(prefix) && dir[:len(prefix)] == prefix {
			delete(s.dirs, dir)
			removed = append(removed, dir)
		}
	}
	s.mu.Unlock()

	for _, dir := range removed {
		// The kernel usually dropped the watch already.
		_ = s.fw.Remove(dir)
	}
}
