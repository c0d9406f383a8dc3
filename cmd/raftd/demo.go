package main

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quorumkv/raft"
	"github.com/quorumkv/raft/fsm/kv"
	"github.com/quorumkv/raft/storage/memlog"
	"github.com/quorumkv/raft/transport/memnet"
)

func newDemoCmd() *cobra.Command {
	var (
		size     int
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "run a small in-memory cluster for a fixed duration and report its outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, size, duration)
		},
	}

	cmd.Flags().IntVar(&size, "size", 3, "number of replicas in the demo cluster")
	cmd.Flags().DurationVar(&duration, "duration", 3*time.Second, "how long to run the cluster before reporting")
	return cmd
}

func runDemo(cmd *cobra.Command, size int, duration time.Duration) error {
	if size < 1 {
		return fmt.Errorf("raftd demo: --size must be at least 1")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("raftd demo: build logger: %w", err)
	}
	defer logger.Sync()

	net := memnet.New()
	clk := clock.New()
	cfg := raft.DefaultConfig()

	replicas := make([]*raft.Raft, size)

	for i := 0; i < size; i++ {
		id := uint64(i + 1)
		peers := make([]uint64, 0, size-1)
		for j := 0; j < size; j++ {
			if j != i {
				peers = append(peers, uint64(j+1))
			}
		}

		store := kv.New(0)
		r, err := raft.NewRaft(id, peers, memlog.New(), store, net.Dispatcher(id), clk, cfg, logger)
		if err != nil {
			return fmt.Errorf("raftd demo: build replica %d: %w", id, err)
		}
		net.Register(id, r)
		replicas[i] = r
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	for _, r := range replicas {
		go r.Run(ctx)
	}
	<-ctx.Done()

	for _, r := range replicas {
		leader, hasLeader := r.CurrentLeader()
		logger.Info("replica status",
			zap.Uint64("id", r.ID()),
			zap.String("role", r.Role().String()),
			zap.Uint64("commitIndex", r.CommitIndex()),
			zap.Bool("hasLeader", hasLeader),
			zap.Uint64("leader", leader))
	}
	return nil
}
