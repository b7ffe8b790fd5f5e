package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ari/usage-history/internal/config"
	"github.com/ari/usage-history/internal/history"
	"github.com/ari/usage-history/internal/jsonl"
	"github.com/ari/usage-history/internal/ui"
)

var (
	cfgPath string
	dbPath  string
	cfg     *config.Config
	logger  *zap.Logger
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "usage-history",
	Short: "Durable usage history for agent session logs",
	Long: `Ingests rolling-window agent session logs into a durable, ever-growing
history of daily usage aggregates. History survives log rotation: once a day's
events age out of the live logs, its aggregate is frozen and kept forever.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help command
		if cmd.Name() == "help" {
			return nil
		}
		var err error
		cfg, err = config.LoadConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath != "" {
			cfg.Database = dbPath
		}
		logger, err = newLogger(debug)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

// newLogger builds a console logger on stderr. Warnings and errors always
// show; --debug opens the level all the way down.
func newLogger(debug bool) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if debug {
		level = zapcore.DebugLevel
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// openStore opens the configured store, creating its directory on demand.
func openStore() *history.Store {
	path := cfg.GetDatabasePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		ui.Error(fmt.Sprintf("creating database directory: %v", err))
		os.Exit(1)
	}

	store, err := history.Open(path, history.DeviceInfo{
		ID:   cfg.Device.ID,
		Name: cfg.Device.Name,
		Type: cfg.Device.Type,
	}, logger)
	if err != nil {
		ui.Error(fmt.Sprintf("opening store: %v", err))
		os.Exit(1)
	}
	return store
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show loaded configuration",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Config loaded:\n")
		fmt.Printf("  Database:    %s\n", cfg.GetDatabasePath())
		fmt.Printf("  Sources dir: %s\n", cfg.SourcesDir)
		fmt.Printf("  Sync dir:    %s\n", cfg.SyncDir)
		fmt.Printf("  Device:      %s (%s, %s)\n", cfg.Device.Name, cfg.Device.ID, cfg.Device.Type)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Ingest changed session logs and update daily aggregates",
	Long: `Scans the sources directory for new or modified .jsonl session logs,
ingests their events, and recomputes the daily aggregates of the affected
dates. Logs that have disappeared are retired; their history is kept.`,
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		listing, err := jsonl.ListSources(cfg.SourcesDir)
		if err != nil {
			ui.Error(fmt.Sprintf("listing sources: %v", err))
			os.Exit(1)
		}

		report, err := store.Refresh(context.Background(), listing, jsonl.NewReader())
		if err != nil {
			ui.Error(fmt.Sprintf("refresh failed: %v", err))
			os.Exit(1)
		}
		ui.DisplayRefreshReport(report)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store-level usage totals",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		stats, err := store.Stats(context.Background())
		if err != nil {
			ui.Error(fmt.Sprintf("reading stats: %v", err))
			os.Exit(1)
		}
		ui.DisplayStats(stats)
	},
}

var (
	snapshotsFrom string
	snapshotsTo   string
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Show daily usage aggregates",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		snaps, err := store.SnapshotsFor(context.Background(), snapshotsFrom, snapshotsTo)
		if err != nil {
			ui.Error(fmt.Sprintf("reading snapshots: %v", err))
			os.Exit(1)
		}
		ui.DisplaySnapshots(snaps)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "store file path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	snapshotsCmd.Flags().StringVar(&snapshotsFrom, "from", "", "start date (YYYY-MM-DD)")
	snapshotsCmd.Flags().StringVar(&snapshotsTo, "to", "", "end date (YYYY-MM-DD)")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(snapshotsCmd)
}
