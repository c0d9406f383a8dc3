package boltlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumkv/raft"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raft.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCurrentTermPersists(t *testing.T) {
	s := openTestStore(t)
	assert.Equal(t, uint64(0), s.GetCurrentTerm())
	require.NoError(t, s.SetCurrentTerm(7))
	assert.Equal(t, uint64(7), s.GetCurrentTerm())
}

func TestVotedForRoundTrip(t *testing.T) {
	s := openTestStore(t)
	_, voted := s.GetVotedFor()
	assert.False(t, voted)

	require.NoError(t, s.SetVotedFor(3, true))
	peer, voted := s.GetVotedFor()
	assert.True(t, voted)
	assert.Equal(t, uint64(3), peer)

	require.NoError(t, s.SetVotedFor(0, false))
	_, voted = s.GetVotedFor()
	assert.False(t, voted)
}

func TestAppendRejectsNonContiguousIndex(t *testing.T) {
	s := openTestStore(t)
	err := s.AppendLogEntry(raft.LogEntry{Term: 1, Index: 2})
	assert.Error(t, err)
}

func TestAppendAndRangeScan(t *testing.T) {
	s := openTestStore(t)
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, s.AppendLogEntry(raft.LogEntry{Term: 1, Index: i}))
	}

	entries := s.GetLogEntriesBetween(2, 4)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[0].Index)
	assert.Equal(t, uint64(3), entries[1].Index)
}

func TestDeleteConflictingAndAppendTruncatesSuffix(t *testing.T) {
	s := openTestStore(t)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.AppendLogEntry(raft.LogEntry{Term: 1, Index: i}))
	}

	require.NoError(t, s.DeleteConflictingAndAppend([]raft.LogEntry{
		{Term: 2, Index: 2},
	}))

	last := s.GetLastLogEntry()
	assert.Equal(t, uint64(2), last.Index)
	assert.Equal(t, uint64(2), last.Term)
}

func TestDeleteLogsUpToAndIncludingLeavesBoundaryEntry(t *testing.T) {
	s := openTestStore(t)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.AppendLogEntry(raft.LogEntry{Term: 1, Index: i}))
	}

	require.NoError(t, s.DeleteLogsUpToAndIncluding(raft.Snapshot{Index: 3, Term: 1}))

	_, ok := s.GetLogEntry(1)
	assert.False(t, ok)
	boundary, ok := s.GetLogEntry(3)
	require.True(t, ok)
	assert.Equal(t, uint64(1), boundary.Term)

	last := s.GetLastLogEntry()
	assert.Equal(t, uint64(5), last.Index, "entries after the boundary survive untouched")
}

func TestDeleteLogsUpToAndIncludingAtZeroIsNoOp(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AppendLogEntry(raft.LogEntry{Term: 1, Index: 1}))
	require.NoError(t, s.DeleteLogsUpToAndIncluding(raft.Snapshot{Index: 0, Term: 0}))

	last := s.GetLastLogEntry()
	assert.Equal(t, uint64(1), last.Index)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetCurrentTerm(4))
	require.NoError(t, s.AppendLogEntry(raft.LogEntry{Term: 4, Index: 1}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(4), reopened.GetCurrentTerm())
	entry, ok := reopened.GetLogEntry(1)
	require.True(t, ok)
	assert.Equal(t, uint64(4), entry.Term)
}
