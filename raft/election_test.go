package raft

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCandidateBumpsTermAndVotesForSelf(t *testing.T) {
	r, disp, _ := newTestRaft(t, 1, []uint64{2, 3})

	r.toCandidate()

	assert.Equal(t, Candidate, r.role)
	assert.Equal(t, uint64(1), r.persist.GetCurrentTerm())
	votedFor, voted := r.persist.GetVotedFor()
	assert.True(t, voted)
	assert.Equal(t, uint64(1), votedFor)
	assert.Contains(t, r.votes, uint64(1))

	reqs := disp.requestsTo(2)
	require.Len(t, reqs, 1)
	rv, ok := reqs[0].(*RequestVoteRequest)
	require.True(t, ok)
	assert.Equal(t, uint64(1), rv.Term)
	assert.Equal(t, uint64(1), rv.Source)
}

func TestRequestVoteRejectsStaleTerm(t *testing.T) {
	r, disp, _ := newTestRaft(t, 1, []uint64{2})
	r.setCurrentTerm(5)

	r.handleRequestVoteRequest(&RequestVoteRequest{
		CorrelationID: uuid.New(), Source: 2, Term: 3,
	})

	reqs := disp.requestsTo(2)
	require.Len(t, reqs, 1)
	resp := reqs[0].(*RequestVoteResponse)
	assert.False(t, resp.VoteGranted)
	assert.Equal(t, uint64(5), resp.Term)
}

func TestRequestVoteDeniesSecondVoteInSameTerm(t *testing.T) {
	r, disp, _ := newTestRaft(t, 1, []uint64{2, 3})
	r.setCurrentTerm(1)
	r.setVotedFor(2, true)

	r.handleRequestVoteRequest(&RequestVoteRequest{
		CorrelationID: uuid.New(), Source: 3, Term: 1,
	})

	resp := disp.requestsTo(3)[0].(*RequestVoteResponse)
	assert.False(t, resp.VoteGranted)
}

func TestRequestVoteDeniesOutOfDateCandidate(t *testing.T) {
	r, disp, _ := newTestRaft(t, 1, []uint64{2})
	require.NoError(t, r.persist.AppendLogEntry(LogEntry{Term: 3, Index: 1}))
	r.setCurrentTerm(3)

	r.handleRequestVoteRequest(&RequestVoteRequest{
		CorrelationID: uuid.New(), Source: 2, Term: 3, LastLogIndex: 0, LastLogTerm: 0,
	})

	resp := disp.requestsTo(2)[0].(*RequestVoteResponse)
	assert.False(t, resp.VoteGranted)
}

func TestRequestVoteGrantsAndResetsElectionDeadline(t *testing.T) {
	r, disp, mock := newTestRaft(t, 1, []uint64{2})
	before := r.nextElectionDeadline
	mock.Add(50)

	r.handleRequestVoteRequest(&RequestVoteRequest{
		CorrelationID: uuid.New(), Source: 2, Term: 1,
	})

	resp := disp.requestsTo(2)[0].(*RequestVoteResponse)
	assert.True(t, resp.VoteGranted)
	assert.True(t, r.nextElectionDeadline.After(before))
	votedFor, voted := r.persist.GetVotedFor()
	assert.True(t, voted)
	assert.Equal(t, uint64(2), votedFor)
}

func TestRequestVoteResponseIgnoredOutsideCandidateRole(t *testing.T) {
	r, disp, _ := newTestRaft(t, 1, []uint64{2, 3})
	// still a follower: a stray response must not be counted toward anything.
	r.handleRequestVoteResponse(&RequestVoteResponse{Source: 2, Term: 0, VoteGranted: true})
	assert.Nil(t, r.votes)
	assert.Empty(t, disp.sent)
}

func TestSplitVoteDoesNotPromote(t *testing.T) {
	r, _, _ := newTestRaft(t, 1, []uint64{2, 3, 4, 5})
	r.toCandidate()
	term := r.persist.GetCurrentTerm()

	r.handleRequestVoteResponse(&RequestVoteResponse{Source: 2, Term: term, VoteGranted: false})
	r.handleRequestVoteResponse(&RequestVoteResponse{Source: 3, Term: term, VoteGranted: false})

	assert.Equal(t, Candidate, r.role)
	// majority of 5 is 3; only self-vote so far, no promotion possible yet.
	assert.Len(t, r.votes, 1)
}

func TestMajorityVotesPromotesToLeader(t *testing.T) {
	r, _, _ := newTestRaft(t, 1, []uint64{2, 3, 4, 5})
	r.toCandidate()
	term := r.persist.GetCurrentTerm()

	r.handleRequestVoteResponse(&RequestVoteResponse{Source: 2, Term: term, VoteGranted: true})
	assert.Equal(t, Candidate, r.role)

	r.handleRequestVoteResponse(&RequestVoteResponse{Source: 3, Term: term, VoteGranted: true})
	assert.Equal(t, Leader, r.role)
	assert.Equal(t, uint64(1), r.currentLeader)
}

func TestStaleCandidateDeniedAfterTermAdvance(t *testing.T) {
	r, disp, _ := newTestRaft(t, 1, []uint64{2})
	r.setCurrentTerm(4)

	// a candidate from an old term reaches out; reconcileTerm would not fire here since
	// the request's term is lower, so the handler's own stale-term branch must reject it.
	r.handleRequestVoteRequest(&RequestVoteRequest{
		CorrelationID: uuid.New(), Source: 2, Term: 2,
	})

	resp := disp.requestsTo(2)[0].(*RequestVoteResponse)
	assert.False(t, resp.VoteGranted)
	assert.Equal(t, uint64(4), resp.Term)
}
