// Command integration is the minimal operator CLI for the staged sync
// pipeline (spec.md §6): inspect table statistics, dump table contents, and
// seed a scratch database with random blocks for testing. It carries no
// pipeline-execution logic of its own — that lives in kv and stagedsync —
// it only opens an environment and dispatches to the three subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/ledgerwatch/log/v3"
	"github.com/spf13/cobra"

	"github.com/gateway-fm/chainkit/kv"
	"github.com/gateway-fm/chainkit/kv/mdbx"
)

var datadir string

var rootCmd = &cobra.Command{
	Use:   "integration",
	Short: "Database inspection and seeding tool for the staged sync pipeline",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&datadir, "datadir", "./chaindata", "path to the database directory")
	rootCmd.AddCommand(dbstatsCmd, listCmd, seedCmd)
}

func openDB(readOnly bool) (kv.RwDB, error) {
	opts := mdbx.New(datadir, log.Root())
	if readOnly {
		opts = opts.ReadOnly()
	}
	return opts.Open()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
