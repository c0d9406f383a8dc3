// Command raftd bootstraps a single Raft replica, or, with the demo subcommand, an entire
// in-memory cluster for local experimentation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "raftd",
		Short: "raftd runs a replica of the quorumkv Raft core",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newDemoCmd())
	return root
}
