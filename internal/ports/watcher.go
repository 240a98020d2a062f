package ports

import (
	"errors"
	"fmt"
)

// EventKind classifies a raw filesystem event.
type EventKind int

const (
	EventCreate EventKind = iota
	EventDelete
	EventModify
	// EventOverflow means the backend dropped events; assume anything under
	// the root may have changed. Overflow events carry no path.
	EventOverflow
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventDelete:
		return "delete"
	case EventModify:
		return "modify"
	case EventOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// RawEvent is a single classified change reported by an EventSource.
// Path is relative to the watched root, using the OS path separator.
type RawEvent struct {
	Kind EventKind
	Path string
}

// Listener receives change notifications for one watched root.
//
// Direct-mode callbacks (OnCreated, OnDeleted, OnModified) and
// OnOverflowQueued run on the poller goroutine; OnRefresh runs on the
// debounce scheduler's timer goroutine. Implementations must return promptly
// and must not call back into the watch service's lifecycle methods.
type Listener interface {
	// OnOverflowQueued fires when an overflow was detected and a coalesced
	// refresh has been queued.
	OnOverflowQueued()
	// OnRefresh fires once after a burst of changes settled.
	OnRefresh()
	OnCreated(relPath string)
	OnDeleted(relPath string)
	OnModified(relPath string)
}

// SourceOptions controls how an EventSource registers a root.
type SourceOptions struct {
	Recursive  bool
	SkipHidden bool
}

// EventSource observes one directory subtree.
//
// Drain must never block. Close is idempotent and may be called from any
// goroutine while Drain runs; afterwards Drain returns ErrClosed.
type EventSource interface {
	Root() string
	Drain() ([]RawEvent, error)
	Close() error
}

// SourceFactory creates an EventSource for root. Registration failures are
// reported as *SetupError.
type SourceFactory func(root string, opts SourceOptions) (EventSource, error)

// ErrClosed is returned by EventSource.Drain once the source was closed,
// either explicitly or because the backend shut down underneath it.
var ErrClosed = errors.New("event source closed")

// SetupError reports that a root could not be registered with the
// notification backend.
type SetupError struct {
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("watch setup %s: %v", e.Path, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
