package raft

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// broadcastRequestVote sends a RequestVote RPC to every peer for the given term, as the final
// side effect of the FOLLOWER/CANDIDATE → CANDIDATE transition.
func (r *Raft) broadcastRequestVote(term uint64) {
	last := r.persist.GetLastLogEntry()
	r.logger.Info("broadcasting request vote", zap.Uint64("term", term), zap.Uint64("lastLogIndex", last.Index))

	for _, peer := range r.peers {
		req := &RequestVoteRequest{
			CorrelationID: uuid.New(),
			Source:        r.id,
			Term:          term,
			LastLogIndex:  last.Index,
			LastLogTerm:   last.Term,
		}
		r.dispatcher.SendRequest(peer, req)
	}
}

// handleRequestVoteRequest decides whether to grant a vote to a requesting candidate.
func (r *Raft) handleRequestVoteRequest(req *RequestVoteRequest) {
	currentTerm := r.persist.GetCurrentTerm()

	if req.Term < currentTerm {
		r.logger.Info("rejecting request vote, stale term", zap.Uint64("candidateTerm", req.Term), zap.Uint64("currentTerm", currentTerm))
		r.dispatcher.SendResponse(req.Source, &RequestVoteResponse{
			CorrelationID: req.CorrelationID,
			Source:        r.id,
			Term:          currentTerm,
			VoteGranted:   false,
		})
		return
	}

	votedFor, hasVoted := r.persist.GetVotedFor()
	canVote := !hasVoted || votedFor == req.Source

	last := r.persist.GetLastLogEntry()
	upToDate := req.LastLogTerm > last.Term ||
		(req.LastLogTerm == last.Term && req.LastLogIndex >= last.Index)

	granted := canVote && upToDate
	if granted {
		r.setVotedFor(req.Source, true)
		r.resetElectionDeadline()
		r.logger.Info("granting vote", zap.Uint64("term", currentTerm), zap.Uint64("candidate", req.Source))
	} else {
		r.logger.Info("denying vote",
			zap.Uint64("term", currentTerm),
			zap.Uint64("candidate", req.Source),
			zap.Bool("canVote", canVote),
			zap.Bool("upToDate", upToDate))
	}

	r.dispatcher.SendResponse(req.Source, &RequestVoteResponse{
		CorrelationID: req.CorrelationID,
		Source:        r.id,
		Term:          r.persist.GetCurrentTerm(),
		VoteGranted:   granted,
	})
}

// handleRequestVoteResponse tallies a peer's vote and promotes to leader once a majority is in.
func (r *Raft) handleRequestVoteResponse(resp *RequestVoteResponse) {
	if r.role != Candidate || resp.Term != r.persist.GetCurrentTerm() {
		return
	}
	if !resp.VoteGranted {
		return
	}

	r.votes[resp.Source] = struct{}{}
	r.logger.Info("vote granted", zap.Uint64("from", resp.Source), zap.Int("votes", len(r.votes)))

	if len(r.votes) >= r.majoritySize() {
		r.toLeader()
	}
}
