// Package raft implements the per-server state machine of a Raft consensus replica: leader
// election, log replication, and commit advancement across a fixed cluster of peers. The wire
// transport, persistent log storage, and state-machine application are collaborators reached
// only through the interfaces in interfaces.go and message.go; see storage/boltlog,
// transport/memnet, and fsm/kv for concrete implementations.
package raft

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// rpcQueueSize bounds the inbound message FIFO.
const rpcQueueSize = 256

// Raft is a single replica. Every field is touched only from the goroutine running Run; there
// is no locking because the single-threaded event loop makes concurrent access impossible by
// construction, in the same style as a channel-driven runFollower/runCandidate/runLeader
// loop set.
type Raft struct {
	*raftState

	id    uint64
	peers []uint64

	persist      PersistentState
	stateMachine StateMachine
	dispatcher   Dispatcher
	clock        Clock
	config       *Config
	metrics      *Metrics
	logger       *zap.Logger

	rnd *rand.Rand

	rpcCh chan Message
}

// NewRaft constructs a replica. peers must be the ordered ids of every OTHER server in the
// cluster; the replica's own id is id. An even total cluster size only warns rather than
// rejecting construction, since it's an availability recommendation rather than a correctness
// requirement.
func NewRaft(
	id uint64,
	peers []uint64,
	persist PersistentState,
	stateMachine StateMachine,
	dispatcher Dispatcher,
	clk Clock,
	config *Config,
	logger *zap.Logger,
) (*Raft, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger = logger.With(zap.Uint64("id", id))
	if (len(peers)+1)%2 == 0 {
		logger.Warn("even total cluster size, an odd size is preferable for availability",
			zap.Int("clusterSize", len(peers)+1))
	}

	ownPeers := make([]uint64, len(peers))
	copy(ownPeers, peers)

	r := &Raft{
		raftState:    &raftState{role: Follower},
		id:           id,
		peers:        ownPeers,
		persist:      persist,
		stateMachine: stateMachine,
		dispatcher:   dispatcher,
		clock:        clk,
		config:       config,
		logger:       logger,
		rnd:          rand.New(rand.NewSource(int64(id)*2654435761 + clk.Now().UnixNano())),
		rpcCh:        make(chan Message, rpcQueueSize),
	}
	r.resetElectionDeadline()
	return r, nil
}

// SetMetrics wires an optional Metrics collector after construction, so embedders that want
// Prometheus observability can call raft.NewMetrics(reg, id) only when they actually run a
// registry, without NewRaft itself taking on a hard dependency on one.
func (r *Raft) SetMetrics(m *Metrics) {
	r.metrics = m
	r.metrics.setRole(r.role)
	r.metrics.setTerm(r.persist.GetCurrentTerm())
	r.metrics.setCommitIndex(r.commitIndex)
}

// ID returns the replica's own peer id.
func (r *Raft) ID() uint64 { return r.id }

// Role reports the replica's current role. Safe to call from any goroutine once Run has
// returned; while Run is active it should only be called from within a handler or by tests that
// know the loop is parked on its select.
func (r *Raft) Role() Role { return r.role }

// CommitIndex reports the replica's current commit index.
func (r *Raft) CommitIndex() uint64 { return r.commitIndex }

// CurrentLeader reports the last-known leader, for client redirection.
func (r *Raft) CurrentLeader() (uint64, bool) { return r.currentLeader, r.hasLeader }

// Deliver is the dispatcher's inbound entry point: it enqueues msg for the event loop to handle.
// It is the only method on Raft safe to call from a goroutine other than the one running Run.
func (r *Raft) Deliver(msg Message) {
	select {
	case r.rpcCh <- msg:
	default:
		r.logger.Warn("rpc queue full, dropping inbound message")
	}
}

// Run is the event loop. It blocks until ctx is canceled. Each iteration waits for either an
// inbound message or the next timer deadline, handles whichever fired, then runs the commit
// applier.
func (r *Raft) Run(ctx context.Context) {
	r.logger.Info("starting raft",
		zap.Uint64("term", r.persist.GetCurrentTerm()),
		zap.Uint64("commitIndex", r.commitIndex))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("raft stopped")
			return
		default:
		}

		deadline := r.nextElectionDeadline
		if r.role == Leader {
			deadline = r.nextHeartbeatDeadline
		}
		wait := deadline.Sub(r.clock.Now())
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			r.logger.Info("raft stopped")
			return
		case msg := <-r.rpcCh:
			r.handleMessage(msg)
		case <-r.clock.After(wait):
			r.handleTimeout()
		}

		r.applyCommitted()
	}
}

func (r *Raft) handleMessage(msg Message) {
	if tm, ok := msg.(termedMessage); ok {
		r.reconcileTerm(tm)
	}

	switch m := msg.(type) {
	case *RequestVoteRequest:
		r.handleRequestVoteRequest(m)
	case *RequestVoteResponse:
		r.handleRequestVoteResponse(m)
	case *AppendEntriesRequest:
		r.handleAppendEntriesRequest(m)
	case *AppendEntriesResponse:
		r.handleAppendEntriesResponse(m)
	case *NewEntryRequest:
		r.handleNewEntryRequest(m)
	default:
		r.logger.Warn("dropping message of unrecognized kind")
	}
}

// handleTimeout fires when the active deadline passes: a leader sends heartbeats, anyone else
// starts an election.
func (r *Raft) handleTimeout() {
	if r.role == Leader {
		r.sendHeartbeats()
	} else {
		r.toCandidate()
	}
}

func (r *Raft) resetElectionDeadline() {
	span := r.config.ElectionTimeoutMax - r.config.ElectionTimeoutMin
	d := r.config.ElectionTimeoutMin
	if span > 0 {
		d += time.Duration(r.rnd.Int63n(int64(span)))
	}
	r.nextElectionDeadline = r.clock.Now().Add(d)
}

func (r *Raft) resetHeartbeatDeadline() {
	r.nextHeartbeatDeadline = r.clock.Now().Add(r.config.HeartbeatInterval)
}
