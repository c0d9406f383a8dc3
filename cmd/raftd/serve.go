package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quorumkv/raft"
	"github.com/quorumkv/raft/fsm/kv"
	"github.com/quorumkv/raft/storage/boltlog"
)

func newServeCmd() *cobra.Command {
	var (
		id          uint64
		peersCSV    string
		dataDir     string
		cfgPath     string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a single replica; no network transport is wired, so outbound messages are dropped",
		Long: "serve runs one replica of the cluster described by --peers. It is wired with the " +
			"durable bbolt log store and the reference key-value state machine; bring your own " +
			"Dispatcher (see transport/memnet for the in-process one used by demo) to actually " +
			"reach other processes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, id, peersCSV, dataDir, cfgPath, metricsAddr)
		},
	}

	cmd.Flags().Uint64Var(&id, "id", 0, "this replica's peer id (required)")
	cmd.Flags().StringVar(&peersCSV, "peers", "", "comma-separated ids of every other replica (required)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "directory for the bbolt log file")
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to a YAML config file (defaults applied for anything unset)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("peers")

	return cmd
}

func parsePeers(csv string) ([]uint64, error) {
	var peers []uint64
	for _, field := range strings.Split(csv, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		p, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid peer id %q: %w", field, err)
		}
		peers = append(peers, p)
	}
	return peers, nil
}

func runServe(cmd *cobra.Command, id uint64, peersCSV, dataDir, cfgPath, metricsAddr string) error {
	peers, err := parsePeers(peersCSV)
	if err != nil {
		return err
	}

	cfg := raft.DefaultConfig()
	if cfgPath != "" {
		cfg, err = raft.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("raftd: build logger: %w", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("raftd: create data dir %s: %w", dataDir, err)
	}

	logPath := filepath.Join(dataDir, fmt.Sprintf("replica-%d.db", id))
	persist, err := boltlog.Open(logPath)
	if err != nil {
		return err
	}
	defer persist.Close()

	stateMachine := kv.New(1024)

	// No out-of-process Dispatcher ships in this module; cmd/raftd/demo wires transport/memnet
	// instead. A real deployment supplies its own Dispatcher here (gRPC, HTTP, whatever the
	// operator's network allows) and calls r.Deliver on each inbound message it receives.
	dispatcher := &unconfiguredDispatcher{logger: logger}

	r, err := raft.NewRaft(id, peers, persist, stateMachine, dispatcher, clock.New(), cfg, logger)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		r.SetMetrics(raft.NewMetrics(reg, id))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("serving", zap.Uint64("id", id), zap.Uint64s("peers", peers))
	r.Run(ctx)
	return nil
}

type unconfiguredDispatcher struct {
	logger *zap.Logger
}

func (d *unconfiguredDispatcher) SendRequest(to uint64, req raft.Message) {
	d.logger.Warn("no transport configured, dropping outbound request", zap.Uint64("to", to))
}

func (d *unconfiguredDispatcher) SendResponse(to uint64, resp raft.Message) {
	d.logger.Warn("no transport configured, dropping outbound response", zap.Uint64("to", to))
}

var _ raft.Dispatcher = (*unconfiguredDispatcher)(nil)
