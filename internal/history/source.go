package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SourceInfo is one entry in the current listing of sources: a path and its
// modification time. Listings come from the data-access layer; the detector
// never stats files itself.
type SourceInfo struct {
	Path    string
	MtimeNS int64
}

// SourceFile is the persisted metadata row for a source. Rows are created on
// first sight and never deleted; a source that vanishes from the listing is
// only marked inactive.
type SourceFile struct {
	Path        string
	MtimeNS     int64
	LastParsed  time.Time
	RecordCount int64
	Active      bool
}

// ChangeSet is the detector's verdict on a listing.
type ChangeSet struct {
	ToProcess []SourceInfo
	ToRetire  []string
}

// DetectChanges compares the current listing against stored source metadata.
// A source is scheduled for processing when it is new or its mtime differs
// from the recorded one; comparison never involves the wall clock, so clock
// skew between machines cannot force or suppress a re-read. Known sources
// absent from the listing are scheduled for retirement.
func (s *Store) DetectChanges(ctx context.Context, listing []SourceInfo) (*ChangeSet, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	known := make(map[string]SourceFile)
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, mtime_ns, record_count, active FROM source_files")
	if err != nil {
		return nil, fmt.Errorf("failed to query source files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sf SourceFile
		if err := rows.Scan(&sf.Path, &sf.MtimeNS, &sf.RecordCount, &sf.Active); err != nil {
			return nil, fmt.Errorf("failed to scan source file: %w", err)
		}
		known[sf.Path] = sf
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cs := &ChangeSet{}
	seen := make(map[string]bool, len(listing))
	for _, src := range listing {
		seen[src.Path] = true
		sf, ok := known[src.Path]
		if !ok || sf.MtimeNS != src.MtimeNS {
			cs.ToProcess = append(cs.ToProcess, src)
		}
	}
	for path, sf := range known {
		if sf.Active && !seen[path] {
			cs.ToRetire = append(cs.ToRetire, path)
		}
	}
	return cs, nil
}

// retireSource marks a source inactive. Its already-ingested events and the
// snapshots they fed stay exactly as they are.
func (s *Store) retireSource(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE source_files SET active = 0 WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("failed to retire source %s: %w", path, err)
	}
	return nil
}

// ListSourceFiles returns all known sources, active and retired.
func (s *Store) ListSourceFiles(ctx context.Context) ([]SourceFile, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, mtime_ns, last_parsed, record_count, active
		FROM source_files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to query source files: %w", err)
	}
	defer rows.Close()

	var sources []SourceFile
	for rows.Next() {
		var sf SourceFile
		var lastParsed string
		if err := rows.Scan(&sf.Path, &sf.MtimeNS, &lastParsed, &sf.RecordCount, &sf.Active); err != nil {
			return nil, fmt.Errorf("failed to scan source file: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, lastParsed); err == nil {
			sf.LastParsed = t
		}
		sources = append(sources, sf)
	}
	return sources, rows.Err()
}

// getSourceFile returns the metadata row for one source, or nil if unknown.
func (s *Store) getSourceFile(ctx context.Context, path string) (*SourceFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, mtime_ns, last_parsed, record_count, active
		FROM source_files WHERE path = ?`, path)

	var sf SourceFile
	var lastParsed string
	err := row.Scan(&sf.Path, &sf.MtimeNS, &lastParsed, &sf.RecordCount, &sf.Active)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get source file: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, lastParsed); err == nil {
		sf.LastParsed = t
	}
	return &sf, nil
}
