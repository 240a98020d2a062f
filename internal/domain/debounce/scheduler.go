// Package debounce coalesces bursts of change notifications for a watched root
// into a single deferred refresh.
//
// A Scheduler owns one timer goroutine that runs refresh tasks one at a time
// in deadline order. Each root has at most one task in its slot; the slot is
// the only state shared between the poller and the timer goroutine and is
// updated with compare-and-swap operations, so roots never contend with each
// other.
package debounce

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/corey/bakewatch/internal/ports"
)

// DefaultDelay is the quiet period after the last relevant event.
const DefaultDelay = 400 * time.Millisecond

// Scheduler defers and coalesces refresh callbacks per root key.
type Scheduler struct {
	delay  time.Duration
	logger *slog.Logger

	slots sync.Map // uint64 -> *task

	mu     sync.Mutex // guards queue and closed
	queue  taskQueue
	closed bool

	wake         chan struct{}
	quit         chan struct{}
	stopped      chan struct{}
	shutdownOnce sync.Once
}

// New starts a Scheduler whose timer goroutine runs until Shutdown.
// A non-positive delay selects DefaultDelay.
func New(delay time.Duration, logger *slog.Logger) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Scheduler{
		delay:   delay,
		logger:  logger.With("component", "debounce"),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

// Delay returns the configured quiet period.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// ForceQueue reports an overflow to l and schedules a refresh for key after
// the quiet period. A pending task is cancelled and replaced. When the
// current task is already running, the new task is scheduled in addition so
// a burst arriving during a refresh still gets its own refresh.
func (s *Scheduler) ForceQueue(key uint64, l ports.Listener) {
	safeCall(s.logger, "overflow notice", l.OnOverflowQueued)

	if s.isClosed() {
		return
	}

	t := newTask(key, l, time.Now().Add(s.delay))
	prev, loaded := s.slots.LoadOrStore(key, t)
	if !loaded {
		s.logger.Debug("scheduled refresh", "key", key)
		s.schedule(t)
		return
	}

	old := prev.(*task)
	if s.cancel(old) {
		s.logger.Debug("canceled and rescheduled refresh", "key", key)
	} else {
		s.logger.Debug("additionally scheduled refresh", "key", key)
	}
	if !s.slots.CompareAndSwap(key, old, t) {
		s.slots.Store(key, t)
	}
	s.schedule(t)
}

// RequeueOrSkip restarts the quiet period of the pending refresh for key.
//
// It returns false when no refresh is pending, meaning the caller should
// deliver the event directly. It returns true when the pending refresh was
// pushed back, meaning the event is folded into that refresh. When the
// refresh is already running, RequeueOrSkip blocks until it finished and
// returns false.
func (s *Scheduler) RequeueOrSkip(key uint64, l ports.Listener) bool {
	if s.isClosed() {
		return false
	}

	v, ok := s.slots.Load(key)
	if !ok {
		return false
	}
	old := v.(*task)

	if s.cancel(old) {
		t := newTask(key, l, time.Now().Add(s.delay))
		if !s.slots.CompareAndSwap(key, old, t) {
			s.slots.Store(key, t)
		}
		s.schedule(t)
		s.logger.Debug("requeued refresh", "key", key)
		return true
	}

	s.logger.Debug("awaiting refresh", "key", key)
	old.await()
	s.logger.Debug("awaited refresh", "key", key)
	return false
}

// Cancel drops the pending refresh for key, if any. A refresh that is already
// running is left to finish. It reports whether a pending task was canceled.
func (s *Scheduler) Cancel(key uint64) bool {
	v, ok := s.slots.Load(key)
	if !ok {
		return false
	}
	t := v.(*task)
	if !s.cancel(t) {
		return false
	}
	s.slots.CompareAndDelete(key, t)
	return true
}

// Pending reports whether a refresh task currently occupies the slot for key.
func (s *Scheduler) Pending(key uint64) bool {
	_, ok := s.slots.Load(key)
	return ok
}

// Shutdown disables scheduling, cancels every scheduled task and blocks until
// a refresh that is already running has returned. No refresh starts after
// Shutdown returns. Idempotent.
//
// Shutdown must not be called from a refresh callback.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for _, t := range s.queue {
			if t.state.CompareAndSwap(statePending, stateCanceled) {
				close(t.done)
			}
			t.index = -1
		}
		s.queue = nil
		s.mu.Unlock()
		close(s.quit)
	})
	<-s.stopped
	s.slots.Clear()
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// cancel moves t from pending to canceled and drops it from the timer queue.
// It fails when t already started running or finished.
func (s *Scheduler) cancel(t *task) bool {
	if !t.state.CompareAndSwap(statePending, stateCanceled) {
		return false
	}
	close(t.done)

	s.mu.Lock()
	if t.index >= 0 {
		heap.Remove(&s.queue, t.index)
	}
	s.mu.Unlock()
	return true
}

// schedule hands t to the timer goroutine.
func (s *Scheduler) schedule(t *task) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if t.state.CompareAndSwap(statePending, stateCanceled) {
			close(t.done)
		}
		s.slots.CompareAndDelete(t.key, t)
		return
	}
	heap.Push(&s.queue, t)
	head := s.queue[0] == t
	s.mu.Unlock()

	if head {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// run is the timer goroutine.
func (s *Scheduler) run() {
	defer close(s.stopped)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		var due *task
		wait := time.Duration(-1)
		if len(s.queue) > 0 {
			if d := time.Until(s.queue[0].deadline); d <= 0 {
				due = heap.Pop(&s.queue).(*task)
			} else {
				wait = d
			}
		}
		s.mu.Unlock()

		if due != nil {
			s.execute(due)
			continue
		}

		if wait >= 0 {
			timer.Reset(wait)
		}
		select {
		case <-s.wake:
		case <-timer.C:
		case <-s.quit:
			return
		}
		timer.Stop()
	}
}

// execute runs t's refresh once, unless it was cancelled in the meantime.
func (s *Scheduler) execute(t *task) {
	if !t.state.CompareAndSwap(statePending, stateRunning) {
		return
	}
	defer func() {
		s.slots.CompareAndDelete(t.key, t)
		t.state.Store(stateDone)
		close(t.done)
		s.logger.Debug("refreshed", "key", t.key)
	}()

	s.logger.Debug("refreshing", "key", t.key)
	safeCall(s.logger, "refresh", t.listener.OnRefresh)
}

// safeCall runs a listener callback, recovering and logging a panic.
func safeCall(logger *slog.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("listener panicked", "callback", what, "panic", r)
		}
	}()
	fn()
}
