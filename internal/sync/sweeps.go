package sync

import (
	"context"
	"log"
	"time"

	"github.com/aoki/jgrants-sync/internal/models"
)

// DeadlineSweep marks published records whose deadline has passed as
// expired. Runs daily from the scheduler.
func (e *Engine) DeadlineSweep(ctx context.Context) (int, error) {
	now := e.now()
	expired, err := e.store.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, rec := range expired {
		if err := e.store.SetStatus(ctx, rec.ID, models.RecordExpired); err != nil {
			log.Printf("[Sync] deadline sweep %s: %v", rec.ExternalID, err)
			continue
		}
		marked++
	}
	if marked > 0 {
		log.Printf("[Sync] deadline sweep marked %d records expired", marked)
	}
	return marked, nil
}

// RetentionSweep deletes expired records untouched for retentionDays.
// Zero or negative values fall back to the 90 day default.
func (e *Engine) RetentionSweep(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	cutoff := e.now().AddDate(0, 0, -retentionDays)
	deleted, err := e.store.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Printf("[Sync] retention sweep deleted %d records older than %s", deleted, cutoff.Format(time.DateOnly))
	}
	return deleted, nil
}
