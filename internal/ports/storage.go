// Package ports defines the interfaces (contracts) that adapters must implement.
// These are the boundaries of the hexagonal architecture. Domain logic depends
// only on these interfaces, never on concrete implementations.
package ports

import "time"

// History persists a log of site builds.
// The backing store (bbolt) keeps records in insertion order. Concurrent reads
// are safe; writes are serialized by the adapter.
//
// Crash safety: Append must be transactional. A crash mid-write must not
// corrupt previously committed records.
type History interface {
	// Append stores a build record and assigns it the next sequence number.
	Append(rec BuildRecord) (uint64, error)

	// Recent returns up to n records, newest first.
	// Returns an empty slice if nothing was recorded yet.
	Recent(n int) ([]BuildRecord, error)

	// Clear removes all records. Idempotent.
	Clear() error
}

// BuildRecord describes one completed build.
type BuildRecord struct {
	Seq      uint64        `json:"seq"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Reason   string        `json:"reason"`
	Reinit   bool          `json:"reinit"`
	Changes  int           `json:"changes"`
	Error    string        `json:"error,omitempty"`
}

// OK reports whether the build succeeded.
func (r BuildRecord) OK() bool {
	return r.Error == ""
}
