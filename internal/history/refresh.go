package history

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Outcome classifies the result of an exposed operation.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNoOp
	OutcomePartialSuccess
	OutcomeAbortedBackupFailed
	OutcomeAbortedVerificationFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoOp:
		return "no-op"
	case OutcomePartialSuccess:
		return "partial-success"
	case OutcomeAbortedBackupFailed:
		return "aborted-backup-failed"
	case OutcomeAbortedVerificationFailed:
		return "aborted-verification-failed"
	default:
		return "unknown"
	}
}

// OutcomeForError classifies the result of a backup, restore, or destroy
// call for reporting. A verification mismatch is distinguished from any other
// failure of the backup step.
func OutcomeForError(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrBackupVerification):
		return OutcomeAbortedVerificationFailed
	default:
		return OutcomeAbortedBackupFailed
	}
}

// RefreshReport is what a refresh always returns, even on partial failure.
type RefreshReport struct {
	SourcesProcessed int
	SourcesRetired   int
	SourcesFailed    int
	RecordsIngested  int
	RecordsSkipped   int
	DatesTouched     int
	DatesFrozen      int
	DatesFailed      int
	GapsFilled       int
	Outcome          Outcome
}

// Refresh runs one full ingestion pass: detect changed sources, ingest their
// events, recompute the snapshots of touched dates, fill calendar gaps, and
// publish the local device's snapshot rows.
//
// Refresh holds the single writer role for its duration; callers must not run
// it concurrently with another writer against the same store. Cancellation is
// honored between per-date transactions, never inside one.
func (s *Store) Refresh(ctx context.Context, listing []SourceInfo, reader EventReader) (*RefreshReport, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	report := &RefreshReport{}

	changes, err := s.DetectChanges(ctx, listing)
	if err != nil {
		return nil, err
	}

	touched := make(map[string]bool)
	for _, src := range changes.ToProcess {
		res, err := s.ingestSource(ctx, src, reader)
		if err != nil {
			// An unreadable source is isolated: warn and move on. Its old
			// mtime stays recorded, so the next pass retries it.
			report.SourcesFailed++
			s.log.Warn("failed to ingest source", zap.String("source", src.Path), zap.Error(err))
			continue
		}
		report.SourcesProcessed++
		report.RecordsIngested += res.ingested
		report.RecordsSkipped += res.skipped
		for date := range res.touched {
			touched[date] = true
		}
	}

	for _, path := range changes.ToRetire {
		if err := s.retireSource(ctx, path); err != nil {
			return report, err
		}
		report.SourcesRetired++
		s.log.Info("retired source", zap.String("source", path))
	}

	// Only dates whose event set changed are revisited; the whole remaining
	// history is never recomputed from the live window.
	dates := make([]string, 0, len(touched))
	for date := range touched {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		frozen, err := s.recomputeDate(ctx, date)
		if err != nil {
			// The date's transaction rolled back; its prior snapshot stands.
			report.DatesFailed++
			s.log.Warn("aggregation failed for date", zap.String("date", date), zap.Error(err))
			continue
		}
		if frozen {
			report.DatesFrozen++
		} else {
			report.DatesTouched++
		}
	}

	gaps, err := s.fillGaps(ctx, time.Now())
	if err != nil {
		return report, err
	}
	report.GapsFilled = gaps

	if report.DatesTouched > 0 && s.device.ID != "" {
		published, err := s.publishDeviceSnapshots(ctx, dates)
		if err != nil {
			return report, err
		}
		s.log.Debug("published device snapshots", zap.Int("count", published))
	}

	switch {
	case report.RecordsSkipped > 0 || report.SourcesFailed > 0 || report.DatesFailed > 0:
		report.Outcome = OutcomePartialSuccess
	case report.SourcesProcessed == 0 && report.SourcesRetired == 0 && report.GapsFilled == 0:
		report.Outcome = OutcomeNoOp
	default:
		report.Outcome = OutcomeSuccess
	}

	s.log.Info("refresh complete",
		zap.String("outcome", report.Outcome.String()),
		zap.Int("sources_processed", report.SourcesProcessed),
		zap.Int("sources_retired", report.SourcesRetired),
		zap.Int("records_ingested", report.RecordsIngested),
		zap.Int("records_skipped", report.RecordsSkipped),
		zap.Int("dates_touched", report.DatesTouched),
		zap.Int("dates_frozen", report.DatesFrozen),
		zap.Int("gaps_filled", report.GapsFilled))

	return report, nil
}
