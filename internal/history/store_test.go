package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenRejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion+1)); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	_, err = Open(dbPath, DeviceInfo{ID: "dev-x"}, nil)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("Open() error = %v; want ErrSchemaMismatch", err)
	}
}

func TestMigrateV1BackfillsDeviceSnapshots(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	// Lay down a version 1 store: snapshots but no device attribution.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	v1 := `
	CREATE TABLE daily_snapshots (
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
	);`
	if _, err := db.Exec(v1); err != nil {
		t.Fatalf("failed to create v1 schema: %v", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = db.Exec(`INSERT INTO daily_snapshots VALUES
		('2025-01-01', 5, 5, 2, 1000, 400, 400, 100, 100, ?),
		('2025-01-02', 1, 1, 1, 200, 100, 100, 0, 0, ?)`, stamp, stamp)
	if err != nil {
		t.Fatalf("failed to seed v1 snapshots: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(dbPath, DeviceInfo{ID: "dev-mig", Name: "migrated"}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	snaps, err := s.DeviceSnapshotsFor(ctx, "dev-mig", "", "")
	if err != nil {
		t.Fatalf("DeviceSnapshotsFor() error = %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len(snaps) = %d; want 2 backfilled rows", len(snaps))
	}
	if snaps[0].Date != "2025-01-01" || snaps[0].TotalTokens != 1000 {
		t.Errorf("backfilled row = %+v; want 2025-01-01 with 1000 tokens", snaps[0])
	}

	// The migrated store reopens cleanly at the current version.
	s.Close()
	s, err = Open(dbPath, DeviceInfo{ID: "dev-mig"}, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	s.Close()
}

func TestStatsSurviveFrozenHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	reader := &memReader{events: map[string][]memRecord{
		"/logs/a.jsonl": {
			makeEvent("sess-1", "u1", "user", dayTime(2, 8), TokenUsage{}),
			makeEvent("sess-1", "u2", "assistant", dayTime(2, 8), TokenUsage{Input: 300, Output: 200}),
		},
	}}
	if _, err := s.Refresh(ctx, []SourceInfo{{Path: "/logs/a.jsonl", MtimeNS: 1}}, reader); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	// Retire the source; totals must come from the frozen snapshots.
	if _, err := s.Refresh(ctx, nil, reader); err != nil {
		t.Fatalf("retiring Refresh() error = %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalTokens != 500 {
		t.Errorf("TotalTokens = %d; want 500", stats.TotalTokens)
	}
	if stats.TotalPrompts != 1 || stats.TotalResponses != 1 {
		t.Errorf("prompts/responses = %d/%d; want 1/1", stats.TotalPrompts, stats.TotalResponses)
	}
	if stats.OldestDate != day(2) {
		t.Errorf("OldestDate = %s; want %s", stats.OldestDate, day(2))
	}
	if len(stats.TokensByModel) != 1 || stats.TokensByModel[0].Model != "model-a" {
		t.Errorf("TokensByModel = %+v; want one entry for model-a", stats.TokensByModel)
	}
}

func TestClosedStoreReturnsErrStoreClosed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := s.Stats(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Stats() error = %v; want ErrStoreClosed", err)
	}
	if _, err := s.Refresh(ctx, nil, nil); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Refresh() error = %v; want ErrStoreClosed", err)
	}
	if _, err := s.Backup(ctx, false); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Backup() error = %v; want ErrStoreClosed", err)
	}
}
