package raft

import "github.com/benbjohnson/clock"

// LogEntry is a single, uniquely (Term, Index)-identified record in the replicated log.
// Index 0 is reserved for the sentinel empty entry used as the initial prevLogIndex/prevLogTerm.
type LogEntry struct {
	Term  uint64
	Index uint64
	Data  []byte
}

// Snapshot is a state-machine-produced compact summary of everything up to and including Index.
type Snapshot struct {
	Index uint64
	Term  uint64
	Data  []byte
}

// PersistentState is the durable collaborator holding everything that must survive a restart:
// currentTerm, votedFor, and the log itself. Every mutator must durably persist before returning.
type PersistentState interface {
	GetCurrentTerm() uint64
	SetCurrentTerm(term uint64) error

	GetVotedFor() (peer uint64, voted bool)
	SetVotedFor(peer uint64, voted bool) error

	// GetLastLogEntry returns the sentinel (term 0, index 0) entry for an empty log.
	GetLastLogEntry() LogEntry
	GetLogEntry(index uint64) (LogEntry, bool)
	GetLogEntriesBetween(fromInclusive, toExclusive uint64) []LogEntry

	// AppendLogEntry requires entry.Index == lastLogIndex+1.
	AppendLogEntry(entry LogEntry) error

	// DeleteConflictingAndAppend walks entries in order: any local entry at an incoming
	// index with a different term, together with everything after it, is deleted before
	// the incoming entry (and the rest of the batch) is appended. An incoming entry that
	// already matches the local log at that index is left untouched.
	DeleteConflictingAndAppend(entries []LogEntry) error

	DeleteLogsUpToAndIncluding(snapshot Snapshot) error
}

// StateMachine is the replicated application. The core never inspects command bytes; it only
// applies them in order and asks whether a new snapshot has appeared.
type StateMachine interface {
	ApplyAll(entries []LogEntry) error
	GetLastAppliedIndex() uint64
	GetLatestSnapshot() (Snapshot, bool)
}

// Clock is the timeout/clock collaborator. It is satisfied directly by clock.Clock, so
// production code wires clock.New() and tests wire clock.NewMock() for deterministic timers.
type Clock = clock.Clock
