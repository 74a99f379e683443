package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/gaiadb/pkg/dbclient"
	"github.com/cuemby/gaiadb/pkg/types"
)

var (
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "gaiadump",
	Short:   "gaiadump - walk a store's snapshot and print objects",
	Version: Version,
	RunE:    runDump,
}

func init() {
	rootCmd.Flags().String("socket", "/var/run/gaiadb/gaiadb.sock", "Path to the store's session socket")
	rootCmd.Flags().Uint64("start", 1, "First GaiaID in the range to dump")
	rootCmd.Flags().Uint64("end", 0, "Last GaiaID in the range to dump (0 = unbounded)")
	rootCmd.Flags().Bool("references", false, "Print each object's reference list")
	rootCmd.Flags().Bool("payload", false, "Print each object's payload as a hex dump")
	rootCmd.Flags().Uint32("catalog", 0, "Restrict the dump to ids the catalog tracks for this type (0 = disabled, walk --start..--end instead)")
	rootCmd.Flags().Int("line-limit", 0, "Stop after printing this many object lines (0 = unlimited)")
}

func runDump(cmd *cobra.Command, args []string) error {
	socket, _ := cmd.Flags().GetString("socket")
	start, _ := cmd.Flags().GetUint64("start")
	end, _ := cmd.Flags().GetUint64("end")
	showRefs, _ := cmd.Flags().GetBool("references")
	showPayload, _ := cmd.Flags().GetBool("payload")
	catalogType, _ := cmd.Flags().GetUint32("catalog")
	lineLimit, _ := cmd.Flags().GetInt("line-limit")

	client, err := dbclient.Dial(socket)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	txn, err := client.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer client.Rollback(txn)

	ids, err := idsToWalk(client, catalogType, start, end)
	if err != nil {
		return fmt.Errorf("enumerate ids: %w", err)
	}

	printed := 0
	for _, id := range ids {
		if lineLimit > 0 && printed >= lineLimit {
			break
		}
		locator := client.Lookup(id)
		if locator == types.InvalidLocator {
			continue
		}
		hdr, refs, payload, err := txn.Read(locator)
		if err != nil {
			continue
		}
		fmt.Printf("id=%d type=%d payload=%dB references=%d\n", hdr.ID, hdr.Type, len(payload), hdr.NumReferences)
		if showRefs {
			for _, r := range refs {
				fmt.Printf("  -> locator=%d\n", r)
			}
		}
		if showPayload {
			fmt.Print(hex.Dump(payload))
		}
		printed++
	}
	return nil
}

// idsToWalk resolves the id set to dump: a catalog type scan when
// --catalog names one, otherwise a plain [start, end] GaiaID range.
func idsToWalk(client *dbclient.Client, catalogType uint32, start, end uint64) ([]types.GaiaID, error) {
	if catalogType != 0 {
		ids, err := client.Scan(types.TypeID(catalogType))
		if err != nil {
			return nil, err
		}
		if end == 0 {
			return ids, nil
		}
		var filtered []types.GaiaID
		for _, id := range ids {
			if uint64(id) >= start && uint64(id) <= end {
				filtered = append(filtered, id)
			}
		}
		return filtered, nil
	}
	if end == 0 {
		return nil, fmt.Errorf("--end is required unless --catalog is set")
	}
	ids := make([]types.GaiaID, 0, end-start+1)
	for id := start; id <= end; id++ {
		ids = append(ids, types.GaiaID(id))
	}
	return ids, nil
}
