package raft

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sendHeartbeats broadcasts an AppendEntries to every peer on the heartbeat cadence and resets
// the heartbeat deadline. Each one still carries whatever entries that peer's nextIndex says it
// is missing, so a follower that dropped an earlier AppendEntries (or joined mid-term) catches
// up on the next heartbeat tick rather than waiting for the next client write. Called on
// heartbeat timeout and immediately upon becoming leader.
func (r *Raft) sendHeartbeats() {
	r.resetHeartbeatDeadline()
	for _, peer := range r.peers {
		r.sendAppendEntries(peer)
	}
}

// replicateAll triggers a replication round carrying each peer's outstanding entries, in
// response to a newly accepted client entry.
func (r *Raft) replicateAll() {
	for _, peer := range r.peers {
		r.sendAppendEntries(peer)
	}
}

// sendAppendEntries drives replication toward a single peer, sending whatever entries its
// nextIndex says it is still missing (none, if it is fully caught up).
func (r *Raft) sendAppendEntries(peer uint64) {
	next := r.nextIndex[peer]
	if next < 1 {
		next = 1
	}
	if r.hasSnapshot && next <= r.currentSnapshot.Index {
		// The peer has backed off past a point this replica has already compacted away. Snapshot
		// transmission isn't implemented, so the best this leader can do is stop trying to walk
		// nextIndex any further back and wait for the peer to catch up some other way, rather than
		// treating the missing log entry as an invariant violation.
		next = r.currentSnapshot.Index + 1
		r.nextIndex[peer] = next
		r.logger.Warn("peer nextIndex fell behind local snapshot boundary, clamping",
			zap.Uint64("peer", peer), zap.Uint64("snapshotIndex", r.currentSnapshot.Index))
	}
	prevIndex := next - 1

	prevTerm, ok := r.prevLogTerm(prevIndex)
	if !ok {
		r.fatal("replication driver: missing prevLogTerm for in-flight nextIndex",
			zap.Uint64("peer", peer), zap.Uint64("prevIndex", prevIndex))
		return
	}

	var entries []LogEntry
	last := r.persist.GetLastLogEntry()
	if last.Index >= next {
		entries = r.persist.GetLogEntriesBetween(next, last.Index+1)
	}

	correlationID := uuid.New()
	req := &AppendEntriesRequest{
		CorrelationID: correlationID,
		Source:        r.id,
		Term:          r.persist.GetCurrentTerm(),
		PrevLogIndex:  prevIndex,
		PrevLogTerm:   prevTerm,
		Entries:       entries,
		LeaderCommit:  r.commitIndex,
	}

	r.pendingAppends[correlationID] = pendingAppend{
		peer:         peer,
		prevLogIndex: prevIndex,
		numEntries:   len(entries),
	}
	r.dispatcher.SendRequest(peer, req)
}

// handleAppendEntriesRequest is the receiver side of AppendEntries.
func (r *Raft) handleAppendEntriesRequest(req *AppendEntriesRequest) {
	currentTerm := r.persist.GetCurrentTerm()

	if req.Term < currentTerm {
		r.dispatcher.SendResponse(req.Source, &AppendEntriesResponse{
			CorrelationID: req.CorrelationID, Source: r.id, Term: currentTerm, Success: false,
		})
		return
	}

	r.resetElectionDeadline()
	if r.role != Follower {
		r.toFollower()
	}
	r.currentLeader = req.Source
	r.hasLeader = true

	if req.PrevLogIndex != 0 {
		term, ok := r.prevLogTerm(req.PrevLogIndex)
		if !ok || term != req.PrevLogTerm {
			r.logger.Info("rejecting append entries, log mismatch",
				zap.Uint64("prevLogIndex", req.PrevLogIndex),
				zap.Uint64("prevLogTerm", req.PrevLogTerm),
				zap.Uint64("localTerm", term),
				zap.Bool("found", ok))
			r.dispatcher.SendResponse(req.Source, &AppendEntriesResponse{
				CorrelationID: req.CorrelationID, Source: r.id, Term: r.persist.GetCurrentTerm(), Success: false,
			})
			return
		}
	}

	if len(req.Entries) > 0 {
		if err := r.persist.DeleteConflictingAndAppend(req.Entries); err != nil {
			r.fatal("append entries from leader", zap.Error(err))
			return
		}
		r.logger.Info("appended entries from leader",
			zap.Uint64("leader", req.Source), zap.Int("count", len(req.Entries)))
	}

	if req.LeaderCommit > r.commitIndex {
		// Commit no further than the last entry this request matched against the leader's log.
		lastMatched := req.PrevLogIndex + uint64(len(req.Entries))
		newCommit := req.LeaderCommit
		if lastMatched < newCommit {
			newCommit = lastMatched
		}
		r.setCommitIndex(newCommit)
		r.logger.Info("advanced commit index from leader", zap.Uint64("commitIndex", r.commitIndex))
	}

	r.dispatcher.SendResponse(req.Source, &AppendEntriesResponse{
		CorrelationID: req.CorrelationID, Source: r.id, Term: r.persist.GetCurrentTerm(), Success: true,
	})
}

// handleAppendEntriesResponse is the leader side of AppendEntries.
func (r *Raft) handleAppendEntriesResponse(resp *AppendEntriesResponse) {
	if r.role != Leader || resp.Term != r.persist.GetCurrentTerm() {
		return
	}

	pending, ok := r.pendingAppends[resp.CorrelationID]
	if !ok {
		return
	}
	delete(r.pendingAppends, resp.CorrelationID)

	if !resp.Success {
		next := r.nextIndex[pending.peer]
		if next > 1 {
			next--
		}
		r.nextIndex[pending.peer] = next
		r.metrics.incAppendEntriesRejected()
		r.logger.Info("append entries rejected, backing off nextIndex",
			zap.Uint64("peer", pending.peer), zap.Uint64("nextIndex", next))
		return
	}

	if pending.numEntries == 0 {
		return // peer was already caught up: nothing to advance or tally.
	}

	lastSent := pending.prevLogIndex + uint64(pending.numEntries)
	r.nextIndex[pending.peer] = lastSent + 1
	if lastSent > r.matchIndex[pending.peer] {
		r.matchIndex[pending.peer] = lastSent
	}

	r.tryAdvanceCommit()
}

// tryAdvanceCommit recomputes commitIndex from matchIndex, the per-peer high-water mark of what
// each follower is known to have replicated. Each peer contributes at most once per index no
// matter how many AppendEntries responses it has sent, so this stays accurate even when several
// replication rounds for the same peer are in flight at once. It also applies the commit-only-
// current-term rule: an index only commits once its entry was created in the leader's current
// term, even after a majority already holds it.
func (r *Raft) tryAdvanceCommit() {
	majority := r.majoritySize()
	currentTerm := r.persist.GetCurrentTerm()
	last := r.persist.GetLastLogEntry()

	for i := r.commitIndex + 1; i <= last.Index; i++ {
		count := 1 // the leader always holds its own entries
		for _, peer := range r.peers {
			if r.matchIndex[peer] >= i {
				count++
			}
		}
		if count < majority {
			continue
		}
		entry, ok := r.persist.GetLogEntry(i)
		if !ok || entry.Term != currentTerm {
			continue
		}
		r.setCommitIndex(i)
		r.logger.Info("commit index advanced", zap.Uint64("index", i), zap.Uint64("term", entry.Term))
	}
}

// handleNewEntryRequest accepts a client command, appends it to the leader's own log, and kicks
// off replication toward every peer.
func (r *Raft) handleNewEntryRequest(req *NewEntryRequest) {
	if r.role != Leader {
		r.dispatcher.SendResponse(req.Source, &NewEntryResponse{
			CorrelationID:  req.CorrelationID,
			Success:        false,
			HasLeader:      r.hasLeader,
			LeaderRedirect: r.currentLeader,
		})
		return
	}

	last := r.persist.GetLastLogEntry()
	entry := LogEntry{
		Term:  r.persist.GetCurrentTerm(),
		Index: last.Index + 1,
		Data:  req.Data,
	}

	if err := r.persist.AppendLogEntry(entry); err != nil {
		r.fatal("append new client entry", zap.Error(err))
		return
	}

	r.dispatcher.SendResponse(req.Source, &NewEntryResponse{
		CorrelationID: req.CorrelationID,
		Success:       true,
		Entry:         &entry,
		HasLeader:     true,
	})

	r.replicateAll()
}
