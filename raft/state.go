package raft

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Role is the replica's current position in the Raft state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// pendingAppend records what an in-flight AppendEntriesRequest actually sent, so the response
// can be matched back to it without the dispatcher needing to preserve a request/response link
// itself — the leader keeps the association by correlation id.
type pendingAppend struct {
	peer         uint64
	prevLogIndex uint64
	numEntries   int
}

// raftState holds everything volatile: current role, leader-redirection hint, timers, and the
// role-specific bookkeeping (votes while CANDIDATE; nextIndex/commit tally/pending sends while
// LEADER). Candidate- and leader-only fields stay on one flat struct rather than a sum type,
// zeroed on every role transition so stale state from a previous stint as candidate or leader
// can never leak into a later one.
type raftState struct {
	role Role

	hasLeader     bool
	currentLeader uint64

	commitIndex uint64

	nextElectionDeadline  time.Time
	nextHeartbeatDeadline time.Time

	hasSnapshot     bool
	currentSnapshot Snapshot

	// candidate-only
	votes map[uint64]struct{}

	// leader-only
	nextIndex      map[uint64]uint64
	matchIndex     map[uint64]uint64
	pendingAppends map[uuid.UUID]pendingAppend
}

// toFollower performs the FOLLOWER transition side effects: reset the election deadline and
// clear candidate-only state. It does not touch currentLeader; callers that know the new
// leader's id (the AppendEntries request handler) set it explicitly afterward.
func (r *Raft) toFollower() {
	if r.role != Follower {
		r.logger.Info("role transition", zap.String("from", r.role.String()), zap.String("to", "follower"))
	}
	r.role = Follower
	r.votes = nil
	r.nextIndex = nil
	r.matchIndex = nil
	r.pendingAppends = nil
	r.resetElectionDeadline()
	r.metrics.setRole(Follower)
}

// toCandidate performs the CANDIDATE transition side effects: bump the term, vote for self,
// clear and seed the vote set, and broadcast RequestVote. Valid from FOLLOWER or CANDIDATE.
func (r *Raft) toCandidate() {
	r.logger.Info("role transition", zap.String("from", r.role.String()), zap.String("to", "candidate"))

	term := r.persist.GetCurrentTerm() + 1
	r.setCurrentTerm(term)
	r.setVotedFor(r.id, true)

	r.role = Candidate
	r.hasLeader = false
	r.votes = map[uint64]struct{}{r.id: {}}
	r.nextIndex = nil
	r.matchIndex = nil
	r.pendingAppends = nil
	r.resetElectionDeadline()
	r.metrics.setRole(Candidate)
	r.metrics.incElectionsStarted()

	r.broadcastRequestVote(term)
}

// toLeader performs the LEADER transition side effects: record self as leader, seed nextIndex
// for every peer at lastLogIndex+1, clear the commit tally, and send heartbeats immediately so
// followers don't time out waiting to learn about the new leader.
func (r *Raft) toLeader() {
	r.logger.Info("role transition", zap.String("from", r.role.String()), zap.String("to", "leader"), zap.Uint64("term", r.persist.GetCurrentTerm()))

	r.role = Leader
	r.hasLeader = true
	r.currentLeader = r.id
	r.votes = nil

	last := r.persist.GetLastLogEntry()
	r.nextIndex = make(map[uint64]uint64, len(r.peers))
	r.matchIndex = make(map[uint64]uint64, len(r.peers))
	for _, peer := range r.peers {
		r.nextIndex[peer] = last.Index + 1
		r.matchIndex[peer] = 0
	}
	r.pendingAppends = make(map[uuid.UUID]pendingAppend)

	r.metrics.setRole(Leader)
	r.metrics.incElectionsWon()

	r.sendHeartbeats()
}

// setCurrentTerm persists a term change, failing fast on a collaborator failure.
func (r *Raft) setCurrentTerm(term uint64) {
	if err := r.persist.SetCurrentTerm(term); err != nil {
		r.fatal("persist current term", zap.Error(err), zap.Uint64("term", term))
		return
	}
	r.metrics.setTerm(term)
}

func (r *Raft) setVotedFor(peer uint64, voted bool) {
	if err := r.persist.SetVotedFor(peer, voted); err != nil {
		r.fatal("persist voted for", zap.Error(err), zap.Uint64("peer", peer))
	}
}

// bumpTerm raises currentTerm and clears votedFor in one step. Every term-reconciliation path
// goes through this helper, so a bare term bump can never skip clearing votedFor.
func (r *Raft) bumpTerm(term uint64) {
	r.setCurrentTerm(term)
	r.setVotedFor(0, false)
}

// reconcileTerm steps down to follower whenever an inbound request or response carries a newer
// term than currentTerm. It must run before the kind-specific handler, regardless of the
// message's direction.
func (r *Raft) reconcileTerm(msg termedMessage) {
	if msg.GetTerm() <= r.persist.GetCurrentTerm() {
		return
	}
	r.logger.Info("newer term observed, stepping down to follower",
		zap.Uint64("observedTerm", msg.GetTerm()),
		zap.Uint64("currentTerm", r.persist.GetCurrentTerm()),
		zap.Uint64("from", msg.SourceID()))
	r.bumpTerm(msg.GetTerm())
	if r.role != Follower {
		r.toFollower()
	}
}

func (r *Raft) setCommitIndex(index uint64) {
	if index <= r.commitIndex {
		return
	}
	r.commitIndex = index
	r.metrics.setCommitIndex(index)
}

func (r *Raft) majoritySize() int {
	clusterSize := len(r.peers) + 1
	return clusterSize/2 + 1
}

// prevLogTerm resolves the term of the entry at index, consulting the latest locally observed
// snapshot before falling back to the log: the term of the snapshot boundary index comes from
// the snapshot record directly rather than from the placeholder entry the log keeps there.
func (r *Raft) prevLogTerm(index uint64) (uint64, bool) {
	if index == 0 {
		return 0, true
	}
	if r.hasSnapshot && r.currentSnapshot.Index == index {
		return r.currentSnapshot.Term, true
	}
	entry, ok := r.persist.GetLogEntry(index)
	if !ok {
		return 0, false
	}
	return entry.Term, true
}
