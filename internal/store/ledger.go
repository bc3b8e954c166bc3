package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aoki/jgrants-sync/internal/models"
)

// StartRun opens a ledger entry in in_progress state and returns its
// run id.
func (s *Store) StartRun(ctx context.Context) (uuid.UUID, error) {
	runID := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (run_id, status) VALUES ($1, $2)`, runID, models.RunInProgress)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: start run: %v", models.ErrStore, err)
	}
	return runID, nil
}

// CompleteRun closes a ledger entry with its terminal status and final
// counters. errMsg is only stored for failed runs.
func (s *Store) CompleteRun(ctx context.Context, runID uuid.UUID, status models.RunStatus, stats models.RunStats, errMsg string) error {
	var msg *string
	if status == models.RunError && errMsg != "" {
		msg = &errMsg
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_runs
		SET completed_at = NOW(), status = $2,
		    fetched = $3, created = $4, updated = $5, errors = $6, ai_generated = $7,
		    error_message = $8
		WHERE run_id = $1
	`, runID, status, stats.Fetched, stats.Created, stats.Updated, stats.Errors, stats.AIGenerated, msg)
	if err != nil {
		return fmt.Errorf("%w: complete run: %v", models.ErrStore, err)
	}
	return nil
}

// RecentRuns returns ledger entries, most recent first. An empty ledger
// yields an empty slice, never an error.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, started_at, completed_at, status,
		       fetched, created, updated, errors, ai_generated,
		       COALESCE(error_message, '')
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: recent runs: %v", models.ErrStore, err)
	}
	defer rows.Close()

	runs := []models.SyncRun{}
	for rows.Next() {
		var r models.SyncRun
		if err := rows.Scan(
			&r.RunID, &r.StartedAt, &r.CompletedAt, &r.Status,
			&r.Stats.Fetched, &r.Stats.Created, &r.Stats.Updated, &r.Stats.Errors, &r.Stats.AIGenerated,
			&r.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("%w: scan run: %v", models.ErrStore, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Statistics aggregates content and ledger counters for dashboards. An
// empty database reports zeros.
func (s *Store) Statistics(ctx context.Context) (models.LedgerStatistics, error) {
	var stats models.LedgerStatistics
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM content_records),
			(SELECT COUNT(*) FROM content_records WHERE status = $1),
			(SELECT COUNT(*) FROM sync_runs WHERE started_at >= CURRENT_DATE)
	`, models.RecordPublished).Scan(&stats.TotalContent, &stats.ActiveContent, &stats.RunsToday)
	if err != nil {
		return stats, fmt.Errorf("%w: statistics: %v", models.ErrStore, err)
	}
	return stats, nil
}
