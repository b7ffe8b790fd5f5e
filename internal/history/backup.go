package history

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"
)

// BackupRecord describes one verified backup.
type BackupRecord struct {
	Path        string
	CreatedAt   time.Time
	RecordCount int64
}

// BackupPath is the deterministic backup target derived from the live store
// name.
func (s *Store) BackupPath() string { return s.path + ".bak" }

// safetyBackupPath holds the pre-restore snapshot so a restore can itself be
// undone once.
func (s *Store) safetyBackupPath() string { return s.path + ".pre-restore.bak" }

// Backup copies the live store to its backup path and verifies the copy by
// reopening it and comparing record counts. On verification failure the
// partial copy is removed and ErrBackupVerification returned; callers must
// not proceed with a destructive operation.
//
// An existing backup file is never overwritten unless overwrite is set.
func (s *Store) Backup(ctx context.Context, overwrite bool) (*BackupRecord, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	dst := s.BackupPath()
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrBackupExists, dst)
		}
	}

	// Fold the WAL into the main file so the copy is self-contained.
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("failed to checkpoint store: %w", err)
	}

	liveCount, err := countRecords(ctx, s.db)
	if err != nil {
		return nil, err
	}

	if err := copyFile(s.path, dst); err != nil {
		return nil, fmt.Errorf("failed to copy store to %s: %w", dst, err)
	}

	copyCount, err := verifyStoreFile(ctx, dst)
	if err != nil {
		os.Remove(dst)
		return nil, fmt.Errorf("%w: %v", ErrBackupVerification, err)
	}
	if copyCount != liveCount {
		os.Remove(dst)
		return nil, fmt.Errorf("%w: copy has %d records, live store has %d",
			ErrBackupVerification, copyCount, liveCount)
	}

	rec := &BackupRecord{Path: dst, CreatedAt: time.Now().UTC(), RecordCount: liveCount}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO backup_log (backup_path, created_at, record_count) VALUES (?, ?, ?)",
		rec.Path, rec.CreatedAt.Format(time.RFC3339Nano), rec.RecordCount)
	if err != nil {
		return nil, fmt.Errorf("failed to record backup: %w", err)
	}
	return rec, nil
}

// Destroy wipes all persisted state. It requires force and always takes a
// verified backup first; if the backup cannot be verified the live store is
// left untouched. The store handle is unusable afterwards.
func (s *Store) Destroy(ctx context.Context, force bool) (*BackupRecord, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	if !force {
		return nil, ErrForceRequired
	}

	rec, err := s.Backup(ctx, true)
	if err != nil {
		return nil, err
	}

	if err := s.Close(); err != nil {
		return rec, fmt.Errorf("failed to close store: %w", err)
	}
	if err := removeStoreFiles(s.path); err != nil {
		return rec, err
	}
	return rec, nil
}

// Restore replaces the live store with the backup at backupPath. The current
// live store is first snapshotted to the pre-restore safety path (returned to
// the caller), so one restore can be undone by restoring that path. The
// incoming backup is verified readable before anything is touched.
func (s *Store) Restore(ctx context.Context, backupPath string) (string, error) {
	if s.db == nil {
		return "", ErrStoreClosed
	}

	if _, err := os.Stat(backupPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoBackup, backupPath)
	}
	if _, err := verifyStoreFile(ctx, backupPath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackupVerification, err)
	}

	// Stage the incoming backup before anything else so restoring from the
	// safety path itself still works after that path is rewritten below.
	staged := s.path + ".restore-tmp"
	if err := copyFile(backupPath, staged); err != nil {
		return "", fmt.Errorf("failed to stage backup: %w", err)
	}
	defer os.Remove(staged)

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("failed to checkpoint store: %w", err)
	}

	safety := s.safetyBackupPath()
	if err := copyFile(s.path, safety); err != nil {
		return "", fmt.Errorf("failed to write safety backup: %w", err)
	}

	if err := s.db.Close(); err != nil {
		return "", fmt.Errorf("failed to close store: %w", err)
	}
	s.db = nil

	if err := removeStoreFiles(s.path); err != nil {
		return "", err
	}
	if err := copyFile(staged, s.path); err != nil {
		return "", fmt.Errorf("failed to copy backup over live store: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return "", fmt.Errorf("failed to reopen store: %w", err)
	}
	s.db = db
	if err := s.migrate(); err != nil {
		return "", err
	}
	return safety, nil
}

// ListBackups returns the backup log, newest first.
func (s *Store) ListBackups(ctx context.Context) ([]BackupRecord, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT backup_path, created_at, record_count FROM backup_log ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query backup log: %w", err)
	}
	defer rows.Close()

	var backups []BackupRecord
	for rows.Next() {
		var rec BackupRecord
		var created string
		if err := rows.Scan(&rec.Path, &created, &rec.RecordCount); err != nil {
			return nil, fmt.Errorf("failed to scan backup record: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = t
		}
		backups = append(backups, rec)
	}
	return backups, rows.Err()
}

// verifyStoreFile opens a store copy and returns its record count, proving
// the copy is a readable database with the expected tables.
func verifyStoreFile(ctx context.Context, path string) (int64, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return countRecords(ctx, db)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// removeStoreFiles deletes the store file and any WAL sidecars.
func removeStoreFiles(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove store file: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove store sidecar: %w", err)
		}
	}
	return nil
}
