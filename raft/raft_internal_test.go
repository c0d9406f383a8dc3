package raft

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quorumkv/raft/storage/memlog"
)

// sentMessage records one outbound call made through fakeDispatcher, for assertions that don't
// care which method (request vs. response) carried it.
type sentMessage struct {
	to  uint64
	msg Message
}

// fakeDispatcher is a raft.Dispatcher that records every send instead of delivering it anywhere,
// so tests can assert on exactly what a replica tried to say without wiring a real transport.
type fakeDispatcher struct {
	sent []sentMessage
}

func (d *fakeDispatcher) SendRequest(to uint64, req Message)   { d.sent = append(d.sent, sentMessage{to, req}) }
func (d *fakeDispatcher) SendResponse(to uint64, resp Message) { d.sent = append(d.sent, sentMessage{to, resp}) }

func (d *fakeDispatcher) requestsTo(to uint64) []Message {
	var out []Message
	for _, s := range d.sent {
		if s.to == to {
			out = append(out, s.msg)
		}
	}
	return out
}

// testConfig uses tight, nanosecond-scale timeouts. Every test built on newTestRaft drives the
// mock clock directly and never actually waits out a timeout.
func testConfig() *Config {
	return &Config{
		ElectionTimeoutMin: 100,
		ElectionTimeoutMax: 200,
		HeartbeatInterval:  10,
		ApplyBatchSize:     0,
	}
}

func newTestRaft(t *testing.T, id uint64, peers []uint64) (*Raft, *fakeDispatcher, *clock.Mock) {
	t.Helper()

	disp := &fakeDispatcher{}
	mock := clock.NewMock()
	r, err := NewRaft(id, peers, memlog.New(), &noopStateMachine{}, disp, mock, testConfig(), zap.NewNop())
	require.NoError(t, err)
	return r, disp, mock
}

// noopStateMachine satisfies StateMachine for tests that only exercise the protocol layer, not
// application semantics.
type noopStateMachine struct {
	lastApplied uint64
}

func (m *noopStateMachine) ApplyAll(entries []LogEntry) error {
	if len(entries) > 0 {
		m.lastApplied = entries[len(entries)-1].Index
	}
	return nil
}

func (m *noopStateMachine) GetLastAppliedIndex() uint64 { return m.lastApplied }

func (m *noopStateMachine) GetLatestSnapshot() (Snapshot, bool) { return Snapshot{}, false }
