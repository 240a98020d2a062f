// Package watch owns the set of watched roots and the poll loop that pumps
// their event sources into listeners.
//
// Each tick drains every root in turn. While a root has no refresh pending its
// events reach the listener one by one (direct mode). An overflow schedules a
// refresh; from then on events only push that refresh back (coalesced mode)
// until it has fired.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corey/bakewatch/internal/domain/debounce"
	"github.com/corey/bakewatch/internal/ports"
)

// DefaultPollInterval is how often the poll loop drains every root.
const DefaultPollInterval = 100 * time.Millisecond

// ErrStopped is returned by AddWatch and Start after Stop.
var ErrStopped = errors.New("watch service stopped")

// Handle identifies a registered root.
type Handle uint64

// Options configures a Service.
type Options struct {
	PollInterval time.Duration // default DefaultPollInterval
	Debounce     time.Duration // default debounce.DefaultDelay
	Logger       *slog.Logger
	NewSource    ports.SourceFactory // required
}

// WatchOption configures a single AddWatch call.
type WatchOption func(*ports.SourceOptions)

// WithRecursive controls whether subdirectories are watched. Default true.
func WithRecursive(v bool) WatchOption {
	return func(o *ports.SourceOptions) { o.Recursive = v }
}

// WithSkipHidden controls whether dot-prefixed paths are ignored. Default true.
func WithSkipHidden(v bool) WatchOption {
	return func(o *ports.SourceOptions) { o.SkipHidden = v }
}

// WatchInfo is a status snapshot of one root.
type WatchInfo struct {
	Handle     Handle `json:"handle"`
	Root       string `json:"root"`
	Recursive  bool   `json:"recursive"`
	SkipHidden bool   `json:"skip_hidden"`
	Pending    bool   `json:"pending"`
	Active     bool   `json:"active"`
}

type watchRoot struct {
	handle   Handle
	opts     ports.SourceOptions
	src      ports.EventSource
	listener ports.Listener

	dead    atomic.Bool // source reported ErrClosed
	removed atomic.Bool
}

func (r *watchRoot) key() uint64 { return uint64(r.handle) }

// Service is the watch registry and poller.
type Service struct {
	interval  time.Duration
	logger    *slog.Logger
	newSource ports.SourceFactory
	sched     *debounce.Scheduler

	roots atomic.Pointer[[]*watchRoot] // immutable snapshot, replaced by writers
	next  atomic.Uint64

	mu      sync.Mutex // serializes writers and lifecycle
	running bool
	stopped bool
	quit    chan struct{}
	done    chan struct{}
}

// New creates a stopped Service. Call Start to run the poll loop.
func New(opts Options) (*Service, error) {
	if opts.NewSource == nil {
		return nil, errors.New("watch: no source factory")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Service{
		interval:  opts.PollInterval,
		logger:    logger.With("component", "watch"),
		newSource: opts.NewSource,
		sched:     debounce.New(opts.Debounce, logger),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.roots.Store(&[]*watchRoot{})
	return s, nil
}

// AddWatch registers root and delivers its changes to l. Registration errors
// are returned as *ports.SetupError and leave nothing behind.
func (s *Service) AddWatch(root string, l ports.Listener, options ...WatchOption) (Handle, error) {
	if l == nil {
		return 0, errors.New("watch: nil listener")
	}
	opts := ports.SourceOptions{Recursive: true, SkipHidden: true}
	for _, o := range options {
		o(&opts)
	}

	if s.isStopped() {
		return 0, ErrStopped
	}

	// Registration may walk a large tree; keep it outside the lock.
	src, err := s.newSource(root, opts)
	if err != nil {
		return 0, err
	}

	r := &watchRoot{
		handle:   Handle(s.next.Add(1)),
		opts:     opts,
		src:      src,
		listener: l,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		src.Close()
		return 0, ErrStopped
	}
	cur := *s.roots.Load()
	next := make([]*watchRoot, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, r)
	s.roots.Store(&next)
	s.mu.Unlock()

	s.logger.Info("watching", "root", src.Root(), "handle", r.handle,
		"recursive", opts.Recursive, "skip_hidden", opts.SkipHidden)
	return r.handle, nil
}

// RemoveWatch unregisters h and closes its source. A tick already in flight
// keeps its snapshot but skips the removed root. It reports whether h was
// registered.
func (s *Service) RemoveWatch(h Handle) bool {
	s.mu.Lock()
	cur := *s.roots.Load()
	var found *watchRoot
	next := make([]*watchRoot, 0, len(cur))
	for _, r := range cur {
		if r.handle == h {
			found = r
			continue
		}
		next = append(next, r)
	}
	if found == nil {
		s.mu.Unlock()
		return false
	}
	found.removed.Store(true)
	s.roots.Store(&next)
	s.mu.Unlock()

	s.sched.Cancel(found.key())
	if err := found.src.Close(); err != nil {
		s.logger.Warn("close source", "root", found.src.Root(), "err", err)
	}
	s.logger.Info("unwatched", "root", found.src.Root(), "handle", h)
	return true
}

// Start runs the poll loop in the background. It is a no-op when the loop is
// already running.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.running {
		return nil
	}
	s.running = true
	go s.loop()
	return nil
}

func (s *Service) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.Poll()
		}
	}
}

// Poll drains every registered root once and routes the events.
func (s *Service) Poll() {
	for _, r := range *s.roots.Load() {
		if r.removed.Load() || r.dead.Load() {
			continue
		}
		evs, err := r.src.Drain()
		for _, ev := range evs {
			if r.removed.Load() {
				break
			}
			s.route(r, ev)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, ports.ErrClosed) {
			if !r.removed.Load() && r.dead.CompareAndSwap(false, true) {
				s.logger.Warn("source closed, root no longer watched", "root", r.src.Root(), "handle", r.handle)
			}
			continue
		}
		s.logger.Warn("drain", "root", r.src.Root(), "err", err)
	}
}

func (s *Service) route(r *watchRoot, ev ports.RawEvent) {
	if ev.Kind == ports.EventOverflow {
		s.logger.Debug("overflow", "root", r.src.Root())
		s.sched.ForceQueue(r.key(), r.listener)
		// RemoveWatch sets removed before it cancels; whichever side runs
		// second sees the other's write and drops the refresh.
		if r.removed.Load() {
			s.sched.Cancel(r.key())
		}
		return
	}
	if s.sched.RequeueOrSkip(r.key(), r.listener) {
		return
	}
	s.deliver(r, ev)
}

// deliver calls the listener callback for ev, recovering a panic.
func (s *Service) deliver(r *watchRoot, ev ports.RawEvent) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("listener panicked", "root", r.src.Root(), "event", ev.Kind.String(),
				"path", ev.Path, "panic", fmt.Sprint(p))
		}
	}()

	switch ev.Kind {
	case ports.EventCreate:
		r.listener.OnCreated(ev.Path)
	case ports.EventDelete:
		r.listener.OnDeleted(ev.Path)
	case ports.EventModify:
		r.listener.OnModified(ev.Path)
	}
}

// Stop ends the poll loop, closes every root and shuts the scheduler down.
// When Stop returns no listener callback is running or will run. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	close(s.quit)
	s.mu.Unlock()

	if wasRunning {
		<-s.done
	}

	s.mu.Lock()
	roots := *s.roots.Load()
	s.roots.Store(&[]*watchRoot{})
	s.mu.Unlock()

	for _, r := range roots {
		r.removed.Store(true)
		if err := r.src.Close(); err != nil {
			s.logger.Warn("close source", "root", r.src.Root(), "err", err)
		}
	}
	s.sched.Shutdown()
	s.logger.Info("stopped", "roots", len(roots))
}

// Debounce returns the quiet period of coalesced refreshes.
func (s *Service) Debounce() time.Duration {
	return s.sched.Delay()
}

// Roots returns a snapshot of the registered roots.
func (s *Service) Roots() []WatchInfo {
	cur := *s.roots.Load()
	out := make([]WatchInfo, 0, len(cur))
	for _, r := range cur {
		out = append(out, WatchInfo{
			Handle:     r.handle,
			Root:       r.src.Root(),
			Recursive:  r.opts.Recursive,
			SkipHidden: r.opts.SkipHidden,
			Pending:    s.sched.Pending(r.key()),
			Active:     !r.dead.Load(),
		})
	}
	return out
}

func (s *Service) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
