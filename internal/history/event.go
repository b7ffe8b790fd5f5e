package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// TokenUsage is the token quartet attached to assistant responses.
type TokenUsage struct {
	Input         int64
	Output        int64
	CacheCreation int64
	CacheRead     int64
}

// Total returns the sum of all four token counts.
func (t TokenUsage) Total() int64 {
	return t.Input + t.Output + t.CacheCreation + t.CacheRead
}

// UsageEvent is one raw usage record. Identity is (SessionID, MessageUUID);
// an event is immutable once stored, so re-reading a grown file with an
// unchanged prefix upserts into no-ops instead of duplicates.
type UsageEvent struct {
	Timestamp   time.Time
	SessionID   string
	MessageUUID string
	MessageType string // "user" or "assistant"
	Model       string
	Folder      string
	GitBranch   string
	Tokens      TokenUsage
}

// DateKey returns the UTC calendar date bucket for the event.
func (e *UsageEvent) DateKey() string {
	return e.Timestamp.UTC().Format("2006-01-02")
}

// EventIterator yields the events of one source, lazily, in one pass.
// Next returns io.EOF when the source is exhausted. A *ParseError from Next
// flags one malformed record; the iterator stays usable and the caller is
// expected to count it and keep going. Any other error means the source
// itself is unreadable.
type EventIterator interface {
	Next() (*UsageEvent, error)
	Close() error
}

// EventReader is the data-access collaborator: it turns a source path into a
// lazy event sequence. Calling Read again restarts the sequence from the top.
type EventReader interface {
	Read(ctx context.Context, path string) (EventIterator, error)
}

// ingestResult reports what one source's ingestion did.
type ingestResult struct {
	touched  map[string]bool
	ingested int
	skipped  int
}

// ingestSource reads one source and upserts its events. The event upserts and
// the source metadata update commit in a single transaction: a crash can only
// leave the source wholly unprocessed, never half-recorded.
func (s *Store) ingestSource(ctx context.Context, src SourceInfo, reader EventReader) (*ingestResult, error) {
	it, err := reader.Read(ctx, src.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source %s: %w", src.Path, err)
	}
	defer it.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_events (
			source_path, date, timestamp, session_id, message_uuid, message_type,
			model, folder, git_branch,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, total_tokens
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, message_uuid) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	res := &ingestResult{touched: make(map[string]bool)}
	seen := 0

	for {
		ev, err := it.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var pe *ParseError
			if errors.As(err, &pe) {
				res.skipped++
				s.log.Warn("skipping malformed record",
					zap.String("source", pe.Path), zap.Int("line", pe.Line), zap.Error(pe.Err))
				continue
			}
			return nil, fmt.Errorf("failed reading source %s: %w", src.Path, err)
		}

		seen++
		result, err := stmt.ExecContext(ctx,
			src.Path, ev.DateKey(), ev.Timestamp.UTC().Format(time.RFC3339Nano),
			ev.SessionID, ev.MessageUUID, ev.MessageType,
			ev.Model, ev.Folder, ev.GitBranch,
			ev.Tokens.Input, ev.Tokens.Output, ev.Tokens.CacheCreation, ev.Tokens.CacheRead,
			ev.Tokens.Total())
		if err != nil {
			return nil, fmt.Errorf("failed to insert event: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to check insert result: %w", err)
		}
		if n > 0 {
			res.ingested++
			res.touched[ev.DateKey()] = true
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO source_files (path, mtime_ns, last_parsed, record_count, active)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(path) DO UPDATE SET
			mtime_ns = excluded.mtime_ns,
			last_parsed = excluded.last_parsed,
			record_count = excluded.record_count,
			active = 1`,
		src.Path, src.MtimeNS, time.Now().UTC().Format(time.RFC3339Nano), seen)
	if err != nil {
		return nil, fmt.Errorf("failed to update source metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ingest for %s: %w", src.Path, err)
	}
	return res, nil
}
