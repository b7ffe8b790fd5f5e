package history

import (
	"context"
	"fmt"
	"time"
)

// SnapshotTotals are the aggregated sums and counts for one calendar date.
type SnapshotTotals struct {
	TotalPrompts        int64
	TotalResponses      int64
	TotalSessions       int64
	TotalTokens         int64
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// DailySnapshot is the durable per-date aggregate. A snapshot is only ever
// overwritten while at least one live event exists for its date; once the
// last event ages out it is frozen and survives any number of refreshes.
type DailySnapshot struct {
	Date string
	SnapshotTotals
	SnapshotTime string
}

// recomputeDate rebuilds the snapshot for one touched date inside its own
// transaction. All stored events for the date count, whether their source is
// still active or long retired. Returns frozen=true when no live event
// remains for the date, in which case nothing is written.
func (s *Store) recomputeDate(ctx context.Context, date string) (frozen bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin aggregation for %s: %w", date, err)
	}
	defer tx.Rollback()

	var live int64
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM usage_events WHERE date = ?", date).Scan(&live)
	if err != nil {
		return false, fmt.Errorf("failed to count events for %s: %w", date, err)
	}
	if live == 0 {
		// touched-empty: the prior snapshot, if any, becomes frozen history.
		return true, nil
	}

	var t SnapshotTotals
	err = tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN message_type = 'user' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN message_type = 'assistant' THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT session_id),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cache_creation_tokens), 0),
			COALESCE(SUM(cache_read_tokens), 0)
		FROM usage_events WHERE date = ?`, date).
		Scan(&t.TotalPrompts, &t.TotalResponses, &t.TotalSessions, &t.TotalTokens,
			&t.InputTokens, &t.OutputTokens, &t.CacheCreationTokens, &t.CacheReadTokens)
	if err != nil {
		return false, fmt.Errorf("failed to aggregate events for %s: %w", date, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO daily_snapshots (
			date, total_prompts, total_responses, total_sessions, total_tokens,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
			snapshot_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		date, t.TotalPrompts, t.TotalResponses, t.TotalSessions, t.TotalTokens,
		t.InputTokens, t.OutputTokens, t.CacheCreationTokens, t.CacheReadTokens,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("failed to write snapshot for %s: %w", date, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit snapshot for %s: %w", date, err)
	}
	return false, nil
}

// fillGaps inserts zero-usage snapshots for every date between the earliest
// known snapshot and today that has no row at all. Existing snapshots are
// never modified, so a run with no gaps performs zero writes.
func (s *Store) fillGaps(ctx context.Context, today time.Time) (int, error) {
	existing := make(map[string]bool)
	var earliest string

	rows, err := s.db.QueryContext(ctx, "SELECT date FROM daily_snapshots ORDER BY date")
	if err != nil {
		return 0, fmt.Errorf("failed to query snapshot dates: %w", err)
	}
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan snapshot date: %w", err)
		}
		if earliest == "" {
			earliest = date
		}
		existing[date] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if earliest == "" {
		return 0, nil
	}

	start, err := time.ParseInLocation("2006-01-02", earliest, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("failed to parse earliest snapshot date %q: %w", earliest, err)
	}
	end := today.UTC().Truncate(24 * time.Hour)

	var missing []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		if !existing[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin gap fill: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, date := range missing {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO daily_snapshots (
				date, total_prompts, total_responses, total_sessions, total_tokens,
				input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
				snapshot_timestamp
			) VALUES (?, 0, 0, 0, 0, 0, 0, 0, 0, ?)`, date, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert gap snapshot for %s: %w", date, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit gap fill: %w", err)
	}
	return len(missing), nil
}

// SnapshotsFor returns daily snapshots in [from, to] (either bound may be
// empty for unbounded), ordered by date.
func (s *Store) SnapshotsFor(ctx context.Context, from, to string) ([]DailySnapshot, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	query := `SELECT date, total_prompts, total_responses, total_sessions, total_tokens,
		input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, snapshot_timestamp
		FROM daily_snapshots WHERE 1=1`
	var args []any
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
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []DailySnapshot
	for rows.Next() {
		var d DailySnapshot
		err := rows.Scan(&d.Date, &d.TotalPrompts, &d.TotalResponses, &d.TotalSessions,
			&d.TotalTokens, &d.InputTokens, &d.OutputTokens,
			&d.CacheCreationTokens, &d.CacheReadTokens, &d.SnapshotTime)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, d)
	}
	return snaps, rows.Err()
}

// getSnapshot returns the snapshot for one date, or nil if none exists.
func (s *Store) getSnapshot(ctx context.Context, date string) (*DailySnapshot, error) {
	snaps, err := s.SnapshotsFor(ctx, date, date)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}
