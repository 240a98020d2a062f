package debounce

import (
	"sync/atomic"
	"time"

	"github.com/corey/bakewatch/internal/ports"
)

// Task states. Pending moves to Running or Canceled; Running moves to Done.
const (
	statePending int32 = iota
	stateRunning
	stateDone
	stateCanceled
)

// task is one pending-or-running coalesced refresh for a root.
type task struct {
	key      uint64
	listener ports.Listener
	deadline time.Time

	state atomic.Int32
	done  chan struct{} // closed on Done or Canceled
	index int           // position in taskQueue, -1 when not queued
}

func newTask(key uint64, l ports.Listener, deadline time.Time) *task {
	return &task{
		key:      key,
		listener: l,
		deadline: deadline,
		done:     make(chan struct{}),
		index:    -1,
	}
}

// await blocks until the task reached a terminal state.
func (t *task) await() {
	<-t.done
}

// taskQueue is a min-heap of tasks ordered by deadline.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].deadline.Before(q[j].deadline)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
