// Package boltlog implements raft.PersistentState on top of go.etcd.io/bbolt, giving a replica
// durable storage for currentTerm, votedFor, and its log across restarts. Log entries are
// serialized with encoding/gob, the same round-trip MIT 6.824-lab-style Raft persistence layers
// use for their on-disk state.
package boltlog

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/quorumkv/raft"
)

var (
	metaBucket = []byte("meta")
	logBucket  = []byte("log")

	currentTermKey = []byte("current_term")
	votedForKey    = []byte("voted_for")
	hasVotedKey    = []byte("has_voted")
)

// Store is a bbolt-backed PersistentState. One bucket holds the (currentTerm, votedFor)
// metadata pair; the other holds log entries keyed by their big-endian-encoded index, so range
// scans stay in index order.
type Store struct {
	db *bbolt.DB
}

// Open creates or reopens a store at path, initializing both buckets if this is the first run.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltlog: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltlog: initialize buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying bbolt database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func indexKey(index uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, index)
	return b
}

func encodeEntry(e raft.LogEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("boltlog: encode entry %d: %w", e.Index, err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (raft.LogEntry, error) {
	var e raft.LogEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return raft.LogEntry{}, fmt.Errorf("boltlog: decode entry: %w", err)
	}
	return e, nil
}

func (s *Store) GetCurrentTerm() uint64 {
	var term uint64
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(metaBucket).Get(currentTermKey); v != nil {
			term = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return term
}

func (s *Store) SetCurrentTerm(term uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, term)
		return tx.Bucket(metaBucket).Put(currentTermKey, b)
	})
}

func (s *Store) GetVotedFor() (uint64, bool) {
	var peer uint64
	var voted bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if v := meta.Get(hasVotedKey); v != nil && v[0] == 1 {
			voted = true
			if pv := meta.Get(votedForKey); pv != nil {
				peer = binary.BigEndian.Uint64(pv)
			}
		}
		return nil
	})
	return peer, voted
}

func (s *Store) SetVotedFor(peer uint64, voted bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if !voted {
			return meta.Put(hasVotedKey, []byte{0})
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, peer)
		if err := meta.Put(votedForKey, b); err != nil {
			return err
		}
		return meta.Put(hasVotedKey, []byte{1})
	})
}

func (s *Store) GetLastLogEntry() raft.LogEntry {
	var entry raft.LogEntry
	_ = s.db.View(func(tx *bbolt.Tx) error {
		k, v := tx.Bucket(logBucket).Cursor().Last()
		if k == nil {
			return nil
		}
		e, err := decodeEntry(v)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	return entry
}

func (s *Store) GetLogEntry(index uint64) (raft.LogEntry, bool) {
	var entry raft.LogEntry
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(logBucket).Get(indexKey(index))
		if v == nil {
			return nil
		}
		e, err := decodeEntry(v)
		if err != nil {
			return err
		}
		entry, found = e, true
		return nil
	})
	return entry, found
}

func (s *Store) GetLogEntriesBetween(fromInclusive, toExclusive uint64) []raft.LogEntry {
	var entries []raft.LogEntry
	_ = s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(logBucket).Cursor()
		for k, v := c.Seek(indexKey(fromInclusive)); k != nil; k, v = c.Next() {
			if binary.BigEndian.Uint64(k) >= toExclusive {
				break
			}
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries
}

func (s *Store) AppendLogEntry(entry raft.LogEntry) error {
	last := s.GetLastLogEntry()
	if entry.Index != last.Index+1 {
		return fmt.Errorf("boltlog: non-contiguous append, want index %d got %d", last.Index+1, entry.Index)
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(logBucket).Put(indexKey(entry.Index), data)
	})
}

// DeleteConflictingAndAppend walks entries in order, truncating the log from the first
// conflicting index onward before appending, and leaving already-matching entries untouched.
func (s *Store) DeleteConflictingAndAppend(entries []raft.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(logBucket)
		for _, e := range entries {
			if v := b.Get(indexKey(e.Index)); v != nil {
				existing, err := decodeEntry(v)
				if err != nil {
					return err
				}
				if existing.Term == e.Term {
					continue
				}
				if err := truncateFrom(b, e.Index); err != nil {
					return err
				}
			}
			data, err := encodeEntry(e)
			if err != nil {
				return err
			}
			if err := b.Put(indexKey(e.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func truncateFrom(b *bbolt.Bucket, fromIndex uint64) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(indexKey(fromIndex)); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// DeleteLogsUpToAndIncluding removes every entry strictly before snapshot.Index, then writes
// (or rewrites) a boundary placeholder entry at snapshot.Index itself so GetLastLogEntry and
// prevLogTerm lookups keep working once the log has been fully drained by a snapshot: the
// boundary entry plays the same role index-0's sentinel plays for a never-snapshotted log. The
// entries it carries are never replicated again (AppendEntries only ever sends entries the
// leader still has in its own log, which no longer include anything at or before the snapshot),
// so overwriting it with an empty-data placeholder is safe.
func (s *Store) DeleteLogsUpToAndIncluding(snapshot raft.Snapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(logBucket)
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if binary.BigEndian.Uint64(k) >= snapshot.Index {
				break
			}
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		if snapshot.Index == 0 {
			return nil
		}
		data, err := encodeEntry(raft.LogEntry{Term: snapshot.Term, Index: snapshot.Index})
		if err != nil {
			return err
		}
		return b.Put(indexKey(snapshot.Index), data)
	})
}

var _ raft.PersistentState = (*Store)(nil)
