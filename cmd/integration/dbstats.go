package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/chainkit/kv"
)

var dbstatsCmd = &cobra.Command{
	Use:   "dbstats",
	Short: "Report entry count, page count, and byte size for every table",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(true)
		if err != nil {
			return err
		}
		defer db.Close()

		names := kv.TableNames()
		sort.Strings(names)

		return db.View(context.Background(), func(tx kv.Tx) error {
			for _, name := range names {
				stat, err := tableStat(db, tx, name)
				if err != nil {
					return fmt.Errorf("table %s: %w", name, err)
				}
				if stat.Pages() == 0 && stat.Entries == 0 {
					fmt.Printf("%-20s entries=%-10d (no page accounting available)\n", name, stat.Entries)
					continue
				}
				fmt.Printf("%-20s entries=%-10d pages=%-8d bytes=%d\n",
					name, stat.Entries, stat.Pages(), stat.Pages()*db.PageSize())
			}
			return nil
		})
	},
}

// tableStat prefers the store's own native page accounting (kv.TableStater,
// implemented by the mdbx store) and falls back to a full walk that can at
// least report the entry count for stores that lack it (kv/memdb).
func tableStat(db kv.RoDB, tx kv.Tx, table string) (kv.TableStat, error) {
	if stater, ok := db.(kv.TableStater); ok {
		return stater.TableStat(tx, table)
	}
	var entries uint64
	c, err := tx.Cursor(table)
	if err != nil {
		return kv.TableStat{}, err
	}
	defer c.Close()
	if err := kv.Walk(c, nil, func(k, v []byte) (bool, error) {
		entries++
		return true, nil
	}); err != nil {
		return kv.TableStat{}, err
	}
	return kv.TableStat{Entries: entries}, nil
}
