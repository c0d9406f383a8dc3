// Package memlog is a process-local, non-durable implementation of raft.PersistentState. It
// backs the raft package's own unit tests and is handy for demos that don't need to survive a
// restart; anything that does should use storage/boltlog instead.
package memlog

import (
	"fmt"
	"sync"

	"github.com/quorumkv/raft"
)

// Store is a goroutine-safe, in-memory PersistentState. The raft package only ever touches one
// instance from its own event-loop goroutine, but tests sometimes inspect a replica's store from
// the test goroutine while the loop is running, so every method takes the lock.
//
// entries[0] always holds the entry at index base (the sentinel (0,0) entry until a snapshot
// truncates the log, after which it holds the snapshot boundary entry); entries[i] holds index
// base+i. Indices are never equal to slice offsets once a truncation has happened, so every
// lookup subtracts base from the index rather than indexing the slice directly.
type Store struct {
	mu sync.Mutex

	currentTerm uint64
	votedFor    uint64
	hasVoted    bool

	base    uint64
	entries []raft.LogEntry
}

// New returns a store seeded with the sentinel entry.
func New() *Store {
	return &Store{entries: []raft.LogEntry{{Term: 0, Index: 0}}}
}

func (s *Store) GetCurrentTerm() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTerm
}

func (s *Store) SetCurrentTerm(term uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTerm = term
	return nil
}

func (s *Store) GetVotedFor() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.votedFor, s.hasVoted
}

func (s *Store) SetVotedFor(peer uint64, voted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasVoted = voted
	if voted {
		s.votedFor = peer
	} else {
		s.votedFor = 0
	}
	return nil
}

func (s *Store) GetLastLogEntry() raft.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[len(s.entries)-1]
}

func (s *Store) GetLogEntry(index uint64) (raft.LogEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(index)
}

func (s *Store) getLocked(index uint64) (raft.LogEntry, bool) {
	if index < s.base || index-s.base >= uint64(len(s.entries)) {
		return raft.LogEntry{}, false
	}
	return s.entries[index-s.base], true
}

func (s *Store) GetLogEntriesBetween(fromInclusive, toExclusive uint64) []raft.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	low := s.base
	if low == 0 {
		low = 1 // index 0 is the sentinel, not a real entry
	}
	if fromInclusive < low {
		fromInclusive = low
	}
	lastIndex := s.base + uint64(len(s.entries)) - 1
	if toExclusive > lastIndex+1 {
		toExclusive = lastIndex + 1
	}
	if fromInclusive >= toExclusive {
		return nil
	}

	from := fromInclusive - s.base
	to := toExclusive - s.base
	out := make([]raft.LogEntry, to-from)
	copy(out, s.entries[from:to])
	return out
}

func (s *Store) AppendLogEntry(entry raft.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.entries[len(s.entries)-1]
	if entry.Index != last.Index+1 {
		return fmt.Errorf("memlog: non-contiguous append, want index %d got %d", last.Index+1, entry.Index)
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *Store) DeleteConflictingAndAppend(entries []raft.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if existing, ok := s.getLocked(e.Index); ok {
			if existing.Term == e.Term {
				continue
			}
			s.entries = s.entries[:e.Index-s.base]
		}
		wantIndex := s.base + uint64(len(s.entries))
		if e.Index != wantIndex {
			return fmt.Errorf("memlog: non-contiguous conflict-append, want index %d got %d", wantIndex, e.Index)
		}
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *Store) DeleteLogsUpToAndIncluding(snapshot raft.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.Index <= s.base {
		return nil
	}
	lastIndex := s.base + uint64(len(s.entries)) - 1
	if snapshot.Index > lastIndex {
		return nil
	}

	offset := snapshot.Index - s.base
	remaining := make([]raft.LogEntry, 0, uint64(len(s.entries))-offset)
	remaining = append(remaining, raft.LogEntry{Term: snapshot.Term, Index: snapshot.Index})
	remaining = append(remaining, s.entries[offset+1:]...)
	s.entries = remaining
	s.base = snapshot.Index
	return nil
}

var _ raft.PersistentState = (*Store)(nil)
