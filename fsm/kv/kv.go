// Package kv is a reference raft.StateMachine: a replicated in-memory string store driven by
// plain-text SET/DEL commands, with periodic gob-encoded snapshots. It exists to give cmd/raftd
// and the scenario tests something concrete to replicate.
package kv

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"
	"sync"

	"github.com/quorumkv/raft"
)

// Store is a goroutine-safe key-value StateMachine. Commands are whitespace-separated text:
//
//	SET key value
//	DEL key
//
// Any other command is rejected, since the core treats ApplyAll errors as fatal and a malformed
// command can only come from a bug in the client layer, not from the network.
type Store struct {
	mu sync.Mutex

	data map[string]string

	lastAppliedIndex uint64
	lastAppliedTerm  uint64

	appliedSinceSnapshot int
	snapshotThreshold    int

	snapshot    raft.Snapshot
	hasSnapshot bool
}

// New returns an empty store that snapshots itself every snapshotThreshold applied entries.
// A threshold of 0 disables automatic snapshotting.
func New(snapshotThreshold int) *Store {
	return &Store{
		data:              make(map[string]string),
		snapshotThreshold: snapshotThreshold,
	}
}

// Get returns the current value for key, for read paths outside the replication protocol (a
// local read served by whichever replica happens to host the call).
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// ApplyAll applies entries in order, tracking the index and term of the last one applied.
func (s *Store) ApplyAll(entries []raft.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if err := s.applyLocked(e); err != nil {
			return err
		}
		s.lastAppliedIndex = e.Index
		s.lastAppliedTerm = e.Term
		s.appliedSinceSnapshot++
	}

	if s.snapshotThreshold > 0 && s.appliedSinceSnapshot >= s.snapshotThreshold {
		if err := s.takeSnapshotLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyLocked(e raft.LogEntry) error {
	if len(e.Data) == 0 {
		return nil // no-op entry, e.g. a boundary/sentinel carried over from a snapshot.
	}

	fields := strings.Fields(string(e.Data))
	if len(fields) == 0 {
		return nil
	}

	switch strings.ToUpper(fields[0]) {
	case "SET":
		if len(fields) < 3 {
			return fmt.Errorf("kv: malformed SET at index %d: %q", e.Index, e.Data)
		}
		s.data[fields[1]] = strings.Join(fields[2:], " ")
	case "DEL":
		if len(fields) != 2 {
			return fmt.Errorf("kv: malformed DEL at index %d: %q", e.Index, e.Data)
		}
		delete(s.data, fields[1])
	default:
		return fmt.Errorf("kv: unknown command at index %d: %q", e.Index, fields[0])
	}
	return nil
}

func (s *Store) takeSnapshotLocked() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.data); err != nil {
		return fmt.Errorf("kv: encode snapshot: %w", err)
	}

	s.snapshot = raft.Snapshot{
		Index: s.lastAppliedIndex,
		Term:  s.lastAppliedTerm,
		Data:  buf.Bytes(),
	}
	s.hasSnapshot = true
	s.appliedSinceSnapshot = 0
	return nil
}

// GetLastAppliedIndex reports the index of the most recently applied entry.
func (s *Store) GetLastAppliedIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAppliedIndex
}

// GetLatestSnapshot returns the most recent snapshot taken, if any.
func (s *Store) GetLatestSnapshot() (raft.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.hasSnapshot
}

// Restore replaces the store's contents with a previously produced snapshot, for bootstrapping a
// replica that joins after the log has already been truncated past index 0.
func (s *Store) Restore(snapshot raft.Snapshot) error {
	data := make(map[string]string)
	if len(snapshot.Data) > 0 {
		if err := gob.NewDecoder(bytes.NewReader(snapshot.Data)).Decode(&data); err != nil {
			return fmt.Errorf("kv: decode snapshot: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.lastAppliedIndex = snapshot.Index
	s.lastAppliedTerm = snapshot.Term
	s.snapshot = snapshot
	s.hasSnapshot = true
	s.appliedSinceSnapshot = 0
	return nil
}

var _ raft.StateMachine = (*Store)(nil)
