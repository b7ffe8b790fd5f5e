package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ari/usage-history/internal/ui"
)

var (
	rollupFrom string
	rollupTo   string
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Show combined daily usage across all devices",
	Long: `Sums the per-device snapshots for each date at read time. Nothing is
written back, so the rollup can be repeated freely without double counting.`,
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		rows, err := store.Rollup(context.Background(), rollupFrom, rollupTo)
		if err != nil {
			ui.Error(fmt.Sprintf("rollup failed: %v", err))
			os.Exit(1)
		}
		ui.DisplayRollup(rows)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices that have published usage snapshots",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		devices, err := store.Devices(context.Background())
		if err != nil {
			ui.Error(fmt.Sprintf("listing devices: %v", err))
			os.Exit(1)
		}
		ui.DisplayDevices(devices, cfg.Device.ID)
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge [store-file...]",
	Short: "Import device snapshots from other devices' store files",
	Long: `Imports the per-device snapshot rows from the given store files (or
every .db file under the configured sync_dir when no arguments are given).
Rows for this device are skipped; conflicting rows resolve to the highest
revision.`,
	Run: func(cmd *cobra.Command, args []string) {
		paths := args
		if len(paths) == 0 {
			if cfg.SyncDir == "" {
				ui.Error("no store files given and no sync_dir configured")
				os.Exit(1)
			}
			var err error
			paths, err = listSyncStores(cfg.SyncDir)
			if err != nil {
				ui.Error(fmt.Sprintf("listing sync dir: %v", err))
				os.Exit(1)
			}
			if len(paths) == 0 {
				fmt.Printf("No store files found in %s\n", cfg.SyncDir)
				return
			}
		}

		store := openStore()
		defer store.Close()

		ctx := context.Background()
		total := 0
		failed := 0
		for _, path := range paths {
			// One bad replica must not block the rest of the sync set.
			merged, err := store.MergeDeviceStore(ctx, path)
			if err != nil {
				ui.Error(fmt.Sprintf("merging %s: %v", path, err))
				failed++
				continue
			}
			fmt.Printf("Merged %s: %d rows\n", filepath.Base(path), merged)
			total += merged
		}
		fmt.Printf("\nMerge complete: %d rows from %d files", total, len(paths)-failed)
		if failed > 0 {
			fmt.Printf(", %d files failed", failed)
		}
		fmt.Println()
		if failed > 0 {
			os.Exit(1)
		}
	},
}

// listSyncStores finds other devices' store files in the sync directory,
// skipping backups and this device's own live store.
func listSyncStores(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	own := cfg.GetDatabasePath()
	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".db" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if path == own {
			continue
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func init() {
	rollupCmd.Flags().StringVar(&rollupFrom, "from", "", "start date (YYYY-MM-DD)")
	rollupCmd.Flags().StringVar(&rollupTo, "to", "", "end date (YYYY-MM-DD)")

	rootCmd.AddCommand(rollupCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(mergeCmd)
}
