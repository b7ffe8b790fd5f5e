package history

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// schemaVersion is the layout this binary expects (PRAGMA user_version).
// Version 1 predates device snapshots and the backup log.
const schemaVersion = 2

// DeviceInfo identifies the local device that owns this store.
type DeviceInfo struct {
	ID   string
	Name string
	Type string
}

// Store is an explicit handle to one persisted usage history. All components
// receive it as a parameter; there is no process-wide instance.
type Store struct {
	db     *sql.DB
	path   string
	device DeviceInfo
	log    *zap.Logger
}

// Open opens (or creates) the store at path and brings its schema up to date.
// A store written by a newer version of the layout is rejected with
// ErrSchemaMismatch.
func Open(path string, device DeviceInfo, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Store{db: db, path: path, device: device, log: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the filesystem path of the live store.
func (s *Store) Path() string { return s.path }

const schema = `
CREATE TABLE IF NOT EXISTS source_files (
	path TEXT PRIMARY KEY,
	mtime_ns INTEGER NOT NULL,
	last_parsed TEXT NOT NULL,
	record_count INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS usage_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_path TEXT NOT NULL,
	date TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	session_id TEXT NOT NULL,
	message_uuid TEXT NOT NULL,
	message_type TEXT NOT NULL,
	model TEXT,
	folder TEXT,
	git_branch TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	UNIQUE(session_id, message_uuid)
);

CREATE INDEX IF NOT EXISTS idx_usage_events_date ON usage_events(date);
CREATE INDEX IF NOT EXISTS idx_usage_events_source ON usage_events(source_path);

CREATE TABLE IF NOT EXISTS daily_snapshots (
	date TEXT PRIMARY KEY,
	total_prompts INTEGER NOT NULL DEFAULT 0,
	total_responses INTEGER NOT NULL DEFAULT 0,
	total_sessions INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens INTEGER NOT NULL DEFAULT 0,
	snapshot_timestamp TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS device_snapshots (
	device_id TEXT NOT NULL,
	date TEXT NOT NULL,
	device_name TEXT,
	device_type TEXT,
	revision INTEGER NOT NULL DEFAULT 1,
	total_prompts INTEGER NOT NULL DEFAULT 0,
	total_responses INTEGER NOT NULL DEFAULT 0,
	total_sessions INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens INTEGER NOT NULL DEFAULT 0,
	snapshot_timestamp TEXT NOT NULL,
	PRIMARY KEY (device_id, date)
);

CREATE TABLE IF NOT EXISTS backup_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	backup_path TEXT NOT NULL,
	created_at TEXT NOT NULL,
	record_count INTEGER NOT NULL
);
`

// migrate checks the stored layout version and applies pending migrations.
func (s *Store) migrate() error {
	// WAL keeps readers off the writer's back during a refresh.
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version > schemaVersion {
		return fmt.Errorf("%w: store is version %d, this build understands up to %d",
			ErrSchemaMismatch, version, schemaVersion)
	}

	if version == schemaVersion {
		return nil
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	if version == 1 {
		// v1 stores carry snapshots but no device attribution. Stamp existing
		// rows with the local device so rollups see them.
		if s.device.ID != "" {
			if _, err := s.db.Exec(`
				INSERT OR IGNORE INTO device_snapshots (
					device_id, date, device_name, device_type, revision,
					total_prompts, total_responses, total_sessions, total_tokens,
					input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
					snapshot_timestamp
				)
				SELECT ?, date, ?, ?, 1,
					total_prompts, total_responses, total_sessions, total_tokens,
					input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
					snapshot_timestamp
				FROM daily_snapshots`,
				s.device.ID, s.device.Name, s.device.Type); err != nil {
				return fmt.Errorf("failed to backfill device snapshots: %w", err)
			}
		}
		s.log.Info("migrated store schema",
			zap.Int("from", version), zap.Int("to", schemaVersion))
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// countRecords sums the rows of every logical table. The total is what backup
// verification compares between the live store and a copy.
func countRecords(ctx context.Context, db *sql.DB) (int64, error) {
	var total int64
	for _, table := range []string{"source_files", "usage_events", "daily_snapshots", "device_snapshots"} {
		var n int64
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// RecordCount returns the total row count across all logical tables.
func (s *Store) RecordCount(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, ErrStoreClosed
	}
	return countRecords(ctx, s.db)
}

// ModelTokens is a per-model token total.
type ModelTokens struct {
	Model  string
	Tokens int64
}

// StoreStats summarizes the persisted history.
type StoreStats struct {
	TotalRecords   int64
	TotalDays      int64
	OldestDate     string
	NewestDate     string
	TotalPrompts   int64
	TotalResponses int64
	TotalSessions  int64
	TotalTokens    int64
	TokensByModel  []ModelTokens
}

// Stats reports store-level totals. Token and count sums come from the
// snapshot table so frozen history is included even after its raw events
// rolled out of the live window.
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	stats := &StoreStats{}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM usage_events").Scan(&stats.TotalRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	var oldest, newest sql.NullString
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(date), MAX(date) FROM daily_snapshots").
		Scan(&stats.TotalDays, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot range: %w", err)
	}
	stats.OldestDate = oldest.String
	stats.NewestDate = newest.String

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_prompts), 0), COALESCE(SUM(total_responses), 0),
			COALESCE(SUM(total_sessions), 0), COALESCE(SUM(total_tokens), 0)
		FROM daily_snapshots`).
		Scan(&stats.TotalPrompts, &stats.TotalResponses, &stats.TotalSessions, &stats.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT model, SUM(total_tokens) AS tokens
		FROM usage_events
		WHERE model IS NOT NULL AND model != ''
		GROUP BY model ORDER BY tokens DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens by model: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m ModelTokens
		if err := rows.Scan(&m.Model, &m.Tokens); err != nil {
			return nil, fmt.Errorf("failed to scan model tokens: %w", err)
		}
		stats.TokensByModel = append(stats.TokensByModel, m)
	}
	return stats, rows.Err()
}
