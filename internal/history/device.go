package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DeviceSnapshot is one device's independently-owned aggregate for a date.
// Rows for a foreign device arrive only through MergeDeviceStore and are
// never folded into the local daily_snapshots sequence.
type DeviceSnapshot struct {
	DeviceID   string
	DeviceName string
	DeviceType string
	Date       string
	Revision   int64
	SnapshotTotals
}

// RollupRow is a read-time cross-device sum for one date. Rollups are pure
// projections: nothing is persisted, so repeating the query cannot compound
// totals.
type RollupRow struct {
	Date    string
	Devices int64
	SnapshotTotals
}

// DeviceSummary describes one known device.
type DeviceSummary struct {
	DeviceID    string
	DeviceName  string
	DeviceType  string
	Days        int64
	LatestDate  string
	MaxRevision int64
}

// publishDeviceSnapshots mirrors the local daily snapshots for the given
// dates into this device's device_snapshots rows, bumping the per-row
// revision. The revision is the monotonic marker sync conflict resolution
// keys on.
func (s *Store) publishDeviceSnapshots(ctx context.Context, dates []string) (int, error) {
	published := 0
	for _, date := range dates {
		snap, err := s.getSnapshot(ctx, date)
		if err != nil {
			return published, err
		}
		if snap == nil {
			continue
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO device_snapshots (
				device_id, date, device_name, device_type, revision,
				total_prompts, total_responses, total_sessions, total_tokens,
				input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
				snapshot_timestamp
			) VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(device_id, date) DO UPDATE SET
				device_name = excluded.device_name,
				device_type = excluded.device_type,
				revision = device_snapshots.revision + 1,
				total_prompts = excluded.total_prompts,
				total_responses = excluded.total_responses,
				total_sessions = excluded.total_sessions,
				total_tokens = excluded.total_tokens,
				input_tokens = excluded.input_tokens,
				output_tokens = excluded.output_tokens,
				cache_creation_tokens = excluded.cache_creation_tokens,
				cache_read_tokens = excluded.cache_read_tokens,
				snapshot_timestamp = excluded.snapshot_timestamp`,
			s.device.ID, date, s.device.Name, s.device.Type,
			snap.TotalPrompts, snap.TotalResponses, snap.TotalSessions, snap.TotalTokens,
			snap.InputTokens, snap.OutputTokens, snap.CacheCreationTokens, snap.CacheReadTokens,
			time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return published, fmt.Errorf("failed to publish device snapshot for %s: %w", date, err)
		}
		published++
	}
	return published, nil
}

// MergeDeviceStore imports device snapshot rows from another device's
// committed store file. Rows carrying the local device id are skipped: a
// device's own history is authoritative only relative to itself and is never
// patched from another replica. Conflicting rows for the same (device, date)
// resolve by last-revision-wins.
//
// Returns the number of rows inserted or updated.
func (s *Store) MergeDeviceStore(ctx context.Context, path string) (int, error) {
	if s.db == nil {
		return 0, ErrStoreClosed
	}

	other, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, fmt.Errorf("failed to open device store %s: %w", path, err)
	}
	defer other.Close()

	rows, err := other.QueryContext(ctx, `
		SELECT device_id, date, device_name, device_type, revision,
			total_prompts, total_responses, total_sessions, total_tokens,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
			snapshot_timestamp
		FROM device_snapshots`)
	if err != nil {
		return 0, fmt.Errorf("failed to read device snapshots from %s: %w", path, err)
	}
	defer rows.Close()

	merged := 0
	for rows.Next() {
		var d DeviceSnapshot
		var name, dtype sql.NullString
		var stamp string
		err := rows.Scan(&d.DeviceID, &d.Date, &name, &dtype, &d.Revision,
			&d.TotalPrompts, &d.TotalResponses, &d.TotalSessions, &d.TotalTokens,
			&d.InputTokens, &d.OutputTokens, &d.CacheCreationTokens, &d.CacheReadTokens,
			&stamp)
		if err != nil {
			return merged, fmt.Errorf("failed to scan device snapshot: %w", err)
		}
		if d.DeviceID == s.device.ID {
			continue
		}

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO device_snapshots (
				device_id, date, device_name, device_type, revision,
				total_prompts, total_responses, total_sessions, total_tokens,
				input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
				snapshot_timestamp
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(device_id, date) DO UPDATE SET
				device_name = excluded.device_name,
				device_type = excluded.device_type,
				revision = excluded.revision,
				total_prompts = excluded.total_prompts,
				total_responses = excluded.total_responses,
				total_sessions = excluded.total_sessions,
				total_tokens = excluded.total_tokens,
				input_tokens = excluded.input_tokens,
				output_tokens = excluded.output_tokens,
				cache_creation_tokens = excluded.cache_creation_tokens,
				cache_read_tokens = excluded.cache_read_tokens,
				snapshot_timestamp = excluded.snapshot_timestamp
			WHERE excluded.revision > device_snapshots.revision`,
			d.DeviceID, d.Date, name, dtype, d.Revision,
			d.TotalPrompts, d.TotalResponses, d.TotalSessions, d.TotalTokens,
			d.InputTokens, d.OutputTokens, d.CacheCreationTokens, d.CacheReadTokens,
			stamp)
		if err != nil {
			return merged, fmt.Errorf("failed to merge device snapshot: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			merged++
		}
	}
	return merged, rows.Err()
}

// Rollup sums device snapshots across every known device per date in
// [from, to] (either bound may be empty). The result is derived on read and
// never written back, so consecutive rollups over unchanged data are
// identical.
func (s *Store) Rollup(ctx context.Context, from, to string) ([]RollupRow, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	query := `SELECT date, COUNT(DISTINCT device_id),
		COALESCE(SUM(total_prompts), 0), COALESCE(SUM(total_responses), 0),
		COALESCE(SUM(total_sessions), 0), COALESCE(SUM(total_tokens), 0),
		COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		COALESCE(SUM(cache_creation_tokens), 0), COALESCE(SUM(cache_read_tokens), 0)
		FROM device_snapshots WHERE 1=1`
	var args []any
	if from != "" {
		query += " AND date >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND date <= ?"
		args = append(args, to)
	}
	query += " GROUP BY date ORDER BY date"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollup: %w", err)
	}
	defer rows.Close()

	var result []RollupRow
	for rows.Next() {
		var r RollupRow
		err := rows.Scan(&r.Date, &r.Devices,
			&r.TotalPrompts, &r.TotalResponses, &r.TotalSessions, &r.TotalTokens,
			&r.InputTokens, &r.OutputTokens, &r.CacheCreationTokens, &r.CacheReadTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rollup row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// DeviceSnapshotsFor returns one device's snapshot rows in [from, to].
func (s *Store) DeviceSnapshotsFor(ctx context.Context, deviceID, from, to string) ([]DeviceSnapshot, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	query := `SELECT device_id, date, COALESCE(device_name, ''), COALESCE(device_type, ''), revision,
		total_prompts, total_responses, total_sessions, total_tokens,
		input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens
		FROM device_snapshots WHERE device_id = ?`
	args := []any{deviceID}
	if from != "" {
		query += " AND date >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND date <= ?"
		args = append(args, to)
	}
	query += " ORDER BY date"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query device snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []DeviceSnapshot
	for rows.Next() {
		var d DeviceSnapshot
		err := rows.Scan(&d.DeviceID, &d.Date, &d.DeviceName, &d.DeviceType, &d.Revision,
			&d.TotalPrompts, &d.TotalResponses, &d.TotalSessions, &d.TotalTokens,
			&d.InputTokens, &d.OutputTokens, &d.CacheCreationTokens, &d.CacheReadTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device snapshot: %w", err)
		}
		snaps = append(snaps, d)
	}
	return snaps, rows.Err()
}

// Devices lists every device that has published snapshots into this store.
func (s *Store) Devices(ctx context.Context) ([]DeviceSummary, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, COALESCE(MAX(device_name), ''), COALESCE(MAX(device_type), ''),
			COUNT(*), MAX(date), MAX(revision)
		FROM device_snapshots GROUP BY device_id ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []DeviceSummary
	for rows.Next() {
		var d DeviceSummary
		err := rows.Scan(&d.DeviceID, &d.DeviceName, &d.DeviceType,
			&d.Days, &d.LatestDate, &d.MaxRevision)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device summary: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
