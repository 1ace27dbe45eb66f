package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/chainkit/kv"
)

var (
	listStart uint64
	listCount int
)

// listCmd dumps raw key/value pairs from a table. Unlike the source tool's
// `list` command — which the design notes call out as hard-panicking on any
// table name besides two hard-coded ones — table names are validated
// against the full kv.TableNames registry, so every table is listable and
// an unknown name is a normal error, not a panic.
var listCmd = &cobra.Command{
	Use:   "list <table>",
	Short: "List a table's contents starting at an offset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		if !isKnownTable(table) {
			return fmt.Errorf("unknown table %q (run dbstats to see registered tables)", table)
		}

		db, err := openDB(true)
		if err != nil {
			return err
		}
		defer db.Close()

		return db.View(context.Background(), func(tx kv.Tx) error {
			c, err := tx.Cursor(table)
			if err != nil {
				return err
			}
			defer c.Close()

			k, v, err := c.First()
			if err != nil {
				return err
			}
			var skipped, printed int
			for k != nil {
				if skipped < int(listStart) {
					skipped++
				} else {
					fmt.Printf("%s -> %s\n", hex.EncodeToString(k), hex.EncodeToString(v))
					printed++
					if printed >= listCount {
						break
					}
				}
				k, v, err = c.Next()
				if err != nil {
					return err
				}
			}
			return nil
		})
	},
}

func isKnownTable(name string) bool {
	for _, n := range kv.TableNames() {
		if n == name {
			return true
		}
	}
	return false
}

func init() {
	listCmd.Flags().Uint64VarP(&listStart, "start", "s", 0, "entry offset to start listing from")
	listCmd.Flags().IntVarP(&listCount, "len", "l", 5, "number of entries to list")
}
