// Package notify implements ports.EventSource using github.com/rjeczalik/notify.
// notify watches a whole subtree with one registration ("root/...") using
// FSEvents or ReadDirectoryChangesW where the OS offers it, so a recursive
// source never re-registers new directories itself.
package notify

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rjeczalik/notify"

	"github.com/corey/bakewatch/internal/domain/pathfilter"
	"github.com/corey/bakewatch/internal/ports"
)

// eventBuffer is the capacity of the channel notify delivers into. notify
// drops events instead of blocking when it is full.
const eventBuffer = 4096

var errNotDir = errors.New("not a directory")

// Source implements ports.EventSource for one root directory.
type Source struct {
	root     string
	resolved string // root with symlinks resolved; FSEvents reports real paths
	opts     ports.SourceOptions
	ch       chan notify.EventInfo
	logger   *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBuffer overrides the event channel capacity.
func WithBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.ch = make(chan notify.EventInfo, n)
		}
	}
}

// New registers root with notify. Failures are returned as *ports.SetupError.
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
	resolved, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		resolved = absRoot
	}

	s := &Source{
		root:     absRoot,
		resolved: resolved,
		opts:     opts,
		ch:       make(chan notify.EventInfo, eventBuffer),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range options {
		opt(s)
	}

	target := absRoot
	if opts.Recursive {
		target = filepath.Join(absRoot, "...")
	}
	if err := notify.Watch(target, s.ch, notify.Create, notify.Remove, notify.Write, notify.Rename); err != nil {
		notify.Stop(s.ch)
		return nil, &ports.SetupError{Path: absRoot, Err: err}
	}

	s.logger.Debug("source registered", "root", absRoot, "recursive", opts.Recursive)
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

// Drain returns every buffered event without blocking. A channel found full
// means notify may have dropped events, which is reported as overflow first.
func (s *Source) Drain() ([]ports.RawEvent, error) {
	if s.closed.Load() {
		return nil, ports.ErrClosed
	}

	n := len(s.ch)
	if n == 0 {
		return nil, nil
	}

	out := make([]ports.RawEvent, 0, n+1)
	if n == cap(s.ch) {
		out = append(out, ports.RawEvent{Kind: ports.EventOverflow})
	}
	for i := 0; i < n; i++ {
		var ei notify.EventInfo
		select {
		case ei = <-s.ch:
		default:
			return dropEarlyModifies(out), nil
		}
		var gone bool
		out, gone = s.classify(ei.Event(), ei.Path(), out)
		if gone {
			s.Close()
			return dropEarlyModifies(out), ports.ErrClosed
		}
	}
	return dropEarlyModifies(out), nil
}

// dropEarlyModifies removes a modify that precedes the create of the same
// path within one batch. On Linux notify can report a new file's write before
// its create; the create already implies the content changed. A delete in
// between means the modify belonged to the previous file and is kept.
func dropEarlyModifies(evs []ports.RawEvent) []ports.RawEvent {
	var created map[string]bool
	drop := make([]bool, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		ev := evs[i]
		switch ev.Kind {
		case ports.EventCreate:
			if created == nil {
				created = make(map[string]bool)
			}
			created[ev.Path] = true
		case ports.EventDelete:
			delete(created, ev.Path)
		case ports.EventModify:
			drop[i] = created[ev.Path]
		}
	}
	if created == nil {
		return evs
	}
	out := evs[:0]
	for i, ev := range evs {
		if !drop[i] {
			out = append(out, ev)
		}
	}
	return out
}

// Close stops delivery for this source. Idempotent.
func (s *Source) Close() error {
	s.closed.Store(true)
	s.closeOnce.Do(func() {
		notify.Stop(s.ch)
	})
	return nil
}

func (s *Source) rel(path string) (string, bool) {
	if rel, ok := pathfilter.Rel(s.root, path); ok {
		return rel, true
	}
	if s.resolved != s.root {
		return pathfilter.Rel(s.resolved, path)
	}
	return "", false
}

// classify appends the RawEvent for one notify event. gone reports that the
// root itself disappeared.
func (s *Source) classify(event notify.Event, path string, out []ports.RawEvent) ([]ports.RawEvent, bool) {
	path = filepath.Clean(path)
	if path == s.root || path == s.resolved {
		return out, event&(notify.Remove|notify.Rename) != 0
	}
	rel, ok := s.rel(path)
	if !ok {
		return out, false
	}
	if s.opts.SkipHidden && pathfilter.IsHidden(rel) {
		return out, false
	}

	switch {
	case event&notify.Create != 0:
		return append(out, ports.RawEvent{Kind: ports.EventCreate, Path: rel}), false
	case event&notify.Remove != 0:
		return append(out, ports.RawEvent{Kind: ports.EventDelete, Path: rel}), false
	case event&notify.Rename != 0:
		// Some backends report both ends of a rename the same way.
		if _, exists := pathfilter.IsDir(path); exists {
			return append(out, ports.RawEvent{Kind: ports.EventCreate, Path: rel}), false
		}
		return append(out, ports.RawEvent{Kind: ports.EventDelete, Path: rel}), false
	case event&notify.Write != 0:
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
	return out, false
}
