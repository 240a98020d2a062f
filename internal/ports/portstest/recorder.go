// Package portstest provides test doubles for the ports interfaces.
package portstest

import (
	"sync"
	"time"

	"github.com/corey/bakewatch/internal/ports"
)

// Callback names recorded by Recorder.
const (
	CallOverflowQueued = "overflow"
	CallRefresh        = "refresh"
	CallCreated        = "created"
	CallDeleted        = "deleted"
	CallModified       = "modified"
)

// Call is one recorded listener invocation.
type Call struct {
	Name string
	Path string
	At   time.Time
}

// Recorder is a ports.Listener that records every call. RefreshHook, when
// set, runs inside OnRefresh after the call was recorded.
type Recorder struct {
	RefreshHook func()

	mu    sync.Mutex
	calls []Call
	ch    chan Call
}

var _ ports.Listener = (*Recorder)(nil)

// NewRecorder returns a Recorder that also publishes calls on a buffered
// channel for tests that wait on them.
func NewRecorder() *Recorder {
	return &Recorder{ch: make(chan Call, 1024)}
}

func (r *Recorder) record(name, path string) {
	c := Call{Name: name, Path: path, At: time.Now()}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	select {
	case r.ch <- c:
	default:
	}
}

func (r *Recorder) OnOverflowQueued() { r.record(CallOverflowQueued, "") }

func (r *Recorder) OnRefresh() {
	r.record(CallRefresh, "")
	if r.RefreshHook != nil {
		r.RefreshHook()
	}
}

func (r *Recorder) OnCreated(relPath string)  { r.record(CallCreated, relPath) }
func (r *Recorder) OnDeleted(relPath string)  { r.record(CallDeleted, relPath) }
func (r *Recorder) OnModified(relPath string) { r.record(CallModified, relPath) }

// Calls returns a copy of every recorded call.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many calls named name were recorded.
func (r *Recorder) Count(name string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Name == name {
			n++
		}
	}
	return n
}

// Named returns the recorded calls named name, in order.
func (r *Recorder) Named(name string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Wait blocks until a call named name arrives or timeout expires.
func (r *Recorder) Wait(name string, timeout time.Duration) (Call, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case c := <-r.ch:
			if c.Name == name {
				return c, true
			}
		case <-deadline:
			return Call{}, false
		}
	}
}
