// Package bbolt implements ports.History using bbolt (embedded B+ tree).
// Records live in a single "builds" bucket keyed by their big-endian sequence
// number, so a cursor walks them in build order. Writes are transactional: a
// crash mid-write cannot corrupt previously committed records.
package bbolt

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/corey/bakewatch/internal/ports"
)

// DefaultKeep is how many records Append retains.
const DefaultKeep = 500

var bucketBuilds = []byte("builds")

// Store implements ports.History backed by bbolt.
type Store struct {
	db   *bolt.DB
	keep int
}

var _ ports.History = (*Store)(nil)

// NewStore opens (or creates) a bbolt database at the given path.
// The open times out after one second when another process holds the lock.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBuilds)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("bbolt init: %w", err)
	}
	return &Store{db: db, keep: DefaultKeep}, nil
}

// SetKeep changes how many records are retained. n <= 0 keeps everything.
func (s *Store) SetKeep(n int) {
	s.keep = n
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores rec under the next sequence number and prunes the oldest
// records beyond the retention limit.
func (s *Store) Append(rec ports.BuildRecord) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBuilds)
		n, err := b.NextSequence()
		if err != nil {
			return err
		}
		seq = n
		rec.Seq = n

		data, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(n), data); err != nil {
			return err
		}
		return prune(b, n, s.keep)
	})
	if err != nil {
		return 0, fmt.Errorf("append build: %w", err)
	}
	return seq, nil
}

// prune deletes records older than the newest keep, where last is the
// sequence just written. Keys are sequence numbers, so the oldest come first.
func prune(b *bolt.Bucket, last uint64, keep int) error {
	if keep <= 0 || last <= uint64(keep) {
		return nil
	}
	cutoff := last - uint64(keep)
	c := b.Cursor()
	for k, _ := c.First(); k != nil && seqFromKey(k) <= cutoff; k, _ = c.First() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(n int) ([]ports.BuildRecord, error) {
	out := []ports.BuildRecord{}
	if n <= 0 {
		return out, nil
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBuilds).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			// bbolt slices are only valid within the transaction; decode copies.
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("record %d: %w", seqFromKey(k), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Clear removes every record. Sequence numbers restart. Idempotent.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketBuilds); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketBuilds)
		return err
	})
}
