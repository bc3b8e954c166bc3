package enrich

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/aoki/jgrants-sync/internal/models"
)

// BatchResult summarizes one batch enrichment pass.
type BatchResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// BatchEnrich runs the enricher over records in small batches, pacing
// the work: a delay between records and a longer pause between batches.
// Cancelling the context stops at the next pause; work already done
// stays done.
func (e *Enricher) BatchEnrich(ctx context.Context, recs []models.ContentRecord, batchSize int, delay time.Duration) BatchResult {
	if batchSize <= 0 {
		batchSize = 5
	}

	var res BatchResult
	for i, rec := range recs {
		if i > 0 && delay > 0 {
			pause := delay
			if i%batchSize == 0 {
				pause = 2 * delay
			}
			if !sleepCtx(ctx, pause) {
				log.Printf("[Enrich] batch cancelled at %d/%d records", i, len(recs))
				return res
			}
		}

		out, err := e.EnrichRecord(ctx, &rec, GrantFromRecord(rec))
		switch {
		case err != nil:
			log.Printf("[Enrich] %s: %v", rec.ExternalID, err)
			res.Failed++
		case out.Generated():
			res.Success++
		default:
			if out.SkipReason != "" {
				log.Printf("[Enrich] %s: skipped (%s)", rec.ExternalID, out.SkipReason)
			}
			res.Skipped++
		}
	}
	return res
}

// sleepCtx waits for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// GrantFromRecord rebuilds source material from a stored record's meta
// so re-enrichment works without refetching the source.
func GrantFromRecord(rec models.ContentRecord) models.Grant {
	g := models.Grant{
		ExternalID:   rec.ExternalID,
		Title:        rec.Title,
		Description:  rec.Excerpt,
		Organization: rec.Meta[models.MetaOrganization],
		Purpose:      rec.Meta[models.MetaPurpose],
		Target:       rec.Meta[models.MetaTarget],
		SubsidyRate:  rec.Meta[models.MetaSubsidyRate],
		OfficialURL:  rec.Meta[models.MetaOfficialURL],
		Industry:     rec.Meta[models.MetaIndustry],
		TargetArea:   rec.Meta[models.MetaTargetArea],
	}
	if v := rec.Meta[models.MetaMaxAmount]; v != "" {
		g.MaxAmount, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := rec.Meta[models.MetaMinAmount]; v != "" {
		g.MinAmount, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := rec.Meta[models.MetaDeadline]; v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			g.Deadline = &t
		}
	}
	if v := rec.Meta[models.MetaApplicationStart]; v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			g.ApplicationStart = &t
		}
	}
	return g
}
