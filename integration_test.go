package quorumkv_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quorumkv/raft"
	"github.com/quorumkv/raft/fsm/kv"
	"github.com/quorumkv/raft/storage/memlog"
	"github.com/quorumkv/raft/transport/memnet"
)

// TestThreeNodeClusterElectsLeaderAndReplicatesEntry drives a full three-replica cluster end to
// end over the in-memory transport: it waits for an election to converge, submits a client entry
// to whichever replica won, and asserts every replica's state machine eventually applies it.
func TestThreeNodeClusterElectsLeaderAndReplicatesEntry(t *testing.T) {
	logger := zap.NewNop()
	net := memnet.New()
	mock := clock.NewMock()
	cfg := raft.DefaultConfig()

	ids := []uint64{1, 2, 3}
	replicas := make(map[uint64]*raft.Raft, len(ids))
	stores := make(map[uint64]*kv.Store, len(ids))

	for _, id := range ids {
		peers := otherIDs(ids, id)
		store := kv.New(0)
		stores[id] = store

		r, err := raft.NewRaft(id, peers, memlog.New(), store, net.Dispatcher(id), mock, cfg, logger)
		require.NoError(t, err)
		net.Register(id, r)
		replicas[id] = r
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, r := range replicas {
		go r.Run(ctx)
	}

	leaderID := awaitLeader(t, replicas, mock, 200)
	require.NotZero(t, leaderID)

	leader := replicas[leaderID]
	leader.Deliver(&raft.NewEntryRequest{
		CorrelationID: uuid.New(),
		Source:        0,
		Data:          []byte("SET foo bar"),
	})

	require.Eventually(t, func() bool {
		mock.Add(cfg.HeartbeatInterval)
		for _, store := range stores {
			if v, ok := store.Get("foo"); !ok || v != "bar" {
				return false
			}
		}
		return true
	}, 2*time.Second, time.Millisecond)

	for id, store := range stores {
		v, ok := store.Get("foo")
		require.True(t, ok, "replica %d has not applied the entry", id)
		require.Equal(t, "bar", v)
	}
}

func otherIDs(ids []uint64, self uint64) []uint64 {
	var out []uint64
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

// awaitLeader advances the mock clock in small steps, giving the scheduler a chance to run each
// replica's goroutine between ticks, until some replica reports itself Leader, and returns that
// replica's id (0 if none did within maxTicks).
func awaitLeader(t *testing.T, replicas map[uint64]*raft.Raft, mock *clock.Mock, maxTicks int) uint64 {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		mock.Add(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
		for id, r := range replicas {
			if r.Role() == raft.Leader {
				return id
			}
		}
	}
	return 0
}
