package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ari/usage-history/internal/history"
	"github.com/ari/usage-history/internal/ui"
)

var backupOverwrite bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a verified backup of the store",
	Long: `Copies the store to its backup path and verifies the copy by reopening
it and comparing record counts. An existing backup is never overwritten
unless --overwrite is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		rec, err := store.Backup(context.Background(), backupOverwrite)
		if err != nil {
			if errors.Is(err, history.ErrBackupExists) {
				ui.Error(fmt.Sprintf("%v (use --overwrite to replace it)", err))
			} else {
				ui.Error(fmt.Sprintf("backup failed: %v", err))
			}
			os.Exit(1)
		}
		fmt.Printf("Backup written to %s (%d records, verified)\n", rec.Path, rec.RecordCount)
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List recorded backups",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		backups, err := store.ListBackups(context.Background())
		if err != nil {
			ui.Error(fmt.Sprintf("listing backups: %v", err))
			os.Exit(1)
		}
		ui.DisplayBackups(backups)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [backup-file]",
	Short: "Replace the store with a backup",
	Long: `Verifies the backup, snapshots the current store to a pre-restore
safety file, then copies the backup over the live store. Without an argument
the default backup path is used. One restore can be undone by restoring the
printed safety file.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		backupPath := store.BackupPath()
		if len(args) == 1 {
			backupPath = args[0]
		}

		safety, err := store.Restore(context.Background(), backupPath)
		if err != nil {
			ui.Error(fmt.Sprintf("restore failed: %v", err))
			os.Exit(1)
		}
		fmt.Printf("Restored from %s\n", backupPath)
		fmt.Printf("Previous store saved to %s\n", safety)
	},
}

var destroyForce bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Wipe the store after taking a verified backup",
	Long: `Deletes all persisted history. Refuses to run without --force. A
verified backup is always taken first; if verification fails nothing is
deleted.`,
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()

		rec, err := store.Destroy(context.Background(), destroyForce)
		if err != nil {
			store.Close()
			if errors.Is(err, history.ErrForceRequired) {
				ui.Error("refusing to destroy the store without --force")
			} else {
				ui.Error(fmt.Sprintf("destroy %s: %v", history.OutcomeForError(err), err))
			}
			os.Exit(1)
		}
		fmt.Printf("Store destroyed; backup kept at %s (%d records)\n", rec.Path, rec.RecordCount)
	},
}

func init() {
	backupCmd.Flags().BoolVar(&backupOverwrite, "overwrite", false, "replace an existing backup")
	destroyCmd.Flags().BoolVar(&destroyForce, "force", false, "confirm destruction")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(destroyCmd)
}
