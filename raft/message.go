package raft

import "github.com/google/uuid"

// Message is the tagged union of the six RPC payload kinds the core exchanges with its peers
// and with clients. A single type switch over the concrete pointer types below replaces the
// visitor-over-message-kinds pattern that generated protobuf types would otherwise need.
type Message interface {
	message()
	SourceID() uint64
}

// termedMessage is implemented by the four Raft RPC messages that carry a term and therefore
// participate in term reconciliation. NewEntryRequest/Response are client messages and
// deliberately do not implement it.
type termedMessage interface {
	Message
	GetTerm() uint64
}

// RequestVoteRequest is sent by a candidate to every peer when it starts an election.
type RequestVoteRequest struct {
	CorrelationID uuid.UUID
	Source        uint64
	Term          uint64
	LastLogIndex  uint64
	LastLogTerm   uint64
}

func (*RequestVoteRequest) message()          {}
func (m *RequestVoteRequest) SourceID() uint64 { return m.Source }
func (m *RequestVoteRequest) GetTerm() uint64  { return m.Term }

// RequestVoteResponse is a peer's reply to a RequestVoteRequest.
type RequestVoteResponse struct {
	CorrelationID uuid.UUID
	Source        uint64
	Term          uint64
	VoteGranted   bool
}

func (*RequestVoteResponse) message()          {}
func (m *RequestVoteResponse) SourceID() uint64 { return m.Source }
func (m *RequestVoteResponse) GetTerm() uint64  { return m.Term }

// AppendEntriesRequest is sent by the leader on every heartbeat and replication round. Entries
// holds the range of the log the target peer is missing, and is empty when that peer is
// already caught up.
type AppendEntriesRequest struct {
	CorrelationID uuid.UUID
	Source        uint64
	Term          uint64
	PrevLogIndex  uint64
	PrevLogTerm   uint64
	Entries       []LogEntry
	LeaderCommit  uint64
}

func (*AppendEntriesRequest) message()          {}
func (m *AppendEntriesRequest) SourceID() uint64 { return m.Source }
func (m *AppendEntriesRequest) GetTerm() uint64  { return m.Term }

// AppendEntriesResponse is a follower's reply to an AppendEntriesRequest.
type AppendEntriesResponse struct {
	CorrelationID uuid.UUID
	Source        uint64
	Term          uint64
	Success       bool
}

func (*AppendEntriesResponse) message()          {}
func (m *AppendEntriesResponse) SourceID() uint64 { return m.Source }
func (m *AppendEntriesResponse) GetTerm() uint64  { return m.Term }

// NewEntryRequest is a client's request to append a command to the replicated log.
type NewEntryRequest struct {
	CorrelationID uuid.UUID
	Source        uint64
	Data          []byte
}

func (*NewEntryRequest) message()          {}
func (m *NewEntryRequest) SourceID() uint64 { return m.Source }

// NewEntryResponse is the leader's (or redirecting follower's) reply to a NewEntryRequest.
type NewEntryResponse struct {
	CorrelationID  uuid.UUID
	Success        bool
	Entry          *LogEntry
	HasLeader      bool
	LeaderRedirect uint64
}

func (*NewEntryResponse) message()          {}
func (m *NewEntryResponse) SourceID() uint64 { return 0 }

// Dispatcher is the message-transport boundary. Both methods are best-effort and
// non-blocking from the replica's point of view; the replica never waits on a send completing.
// Inbound delivery happens the other way, through the replica's own Deliver method.
type Dispatcher interface {
	SendRequest(to uint64, req Message)
	SendResponse(to uint64, resp Message)
}
