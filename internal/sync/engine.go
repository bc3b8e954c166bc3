package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aoki/jgrants-sync/internal/enrich"
	"github.com/aoki/jgrants-sync/internal/jgrants"
	"github.com/aoki/jgrants-sync/internal/models"
)

// Source fetches grants from the upstream portal.
type Source interface {
	Search(ctx context.Context, q jgrants.Query) ([]models.Grant, error)
	GetByID(ctx context.Context, id string) (models.Grant, error)
}

// Store is the persistence surface the engine drives. *store.Store
// satisfies it.
type Store interface {
	AcquireSyncLock(ctx context.Context) (release func(), err error)

	StartRun(ctx context.Context) (uuid.UUID, error)
	CompleteRun(ctx context.Context, runID uuid.UUID, status models.RunStatus, stats models.RunStats, errMsg string) error

	FindByExternalID(ctx context.Context, externalID string) (*models.ContentRecord, error)
	CreateContent(ctx context.Context, rec *models.ContentRecord) error
	UpdateContent(ctx context.Context, rec *models.ContentRecord) error
	SetStatus(ctx context.Context, id uuid.UUID, status models.RecordStatus) error
	ListExpired(ctx context.Context, asOf time.Time) ([]models.ContentRecord, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	GetOrCreateTerm(ctx context.Context, taxonomy, name string) (int64, error)
	LookupTerm(ctx context.Context, taxonomy, name string) (int64, error)
	ReplaceTerms(ctx context.Context, recordID uuid.UUID, taxonomy string, termIDs []int64) error
	ListTerms(ctx context.Context, taxonomy string) ([]models.TaxonomyTerm, error)
}

// Enricher generates content for a record. Nil disables enrichment.
type Enricher interface {
	EnrichRecord(ctx context.Context, rec *models.ContentRecord, grant models.Grant) (enrich.Result, error)
}

// Result is what one finished run reports back to its caller.
type Result struct {
	RunID  uuid.UUID       `json:"run_id"`
	Status models.RunStatus `json:"status"`
	Stats  models.RunStats  `json:"stats"`
}

// Engine drives the fetch, match, write, enrich cycle. One engine per
// process; concurrent runs are excluded by the store's advisory lock.
type Engine struct {
	source   Source
	store    Store
	enricher Enricher
	now      func() time.Time
}

func NewEngine(source Source, store Store, enricher Enricher) *Engine {
	return &Engine{source: source, store: store, enricher: enricher, now: time.Now}
}

// RunSync executes one full sync run. It returns ErrRunInProgress when
// another run holds the lock. Per-grant failures are counted, not
// raised; only a failed fetch or a cancelled context fails the run.
func (e *Engine) RunSync(ctx context.Context, params RunParams) (*Result, error) {
	release, err := e.store.AcquireSyncLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	runID, err := e.store.StartRun(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("[Sync] run %s started keyword=%q max=%d", runID, params.Keyword, params.MaxImportCount)

	var stats models.RunStats
	status := models.RunError
	errMsg := ""
	defer func() {
		if err := e.store.CompleteRun(context.Background(), runID, status, stats, errMsg); err != nil {
			log.Printf("[Sync] run %s: ledger update failed: %v", runID, err)
		}
		log.Printf("[Sync] run %s finished status=%s fetched=%d created=%d updated=%d errors=%d ai=%d",
			runID, status, stats.Fetched, stats.Created, stats.Updated, stats.Errors, stats.AIGenerated)
	}()

	grants, err := e.source.Search(ctx, jgrants.Query{
		Keyword:    params.Keyword,
		Sort:       params.Sort,
		Order:      params.Order,
		Acceptance: params.Acceptance,
	})
	if err != nil {
		errMsg = err.Error()
		return &Result{RunID: runID, Status: status, Stats: stats}, fmt.Errorf("sync run %s: %w", runID, err)
	}

	if len(grants) > params.MaxImportCount {
		grants = grants[:params.MaxImportCount]
	}
	stats.Fetched = len(grants)

	for start := 0; start < len(grants); start += params.BatchSize {
		if start > 0 && params.BatchDelay > 0 {
			if !sleepCtx(ctx, params.BatchDelay) {
				errMsg = ctx.Err().Error()
				return &Result{RunID: runID, Status: status, Stats: stats}, fmt.Errorf("sync run %s: %w", runID, ctx.Err())
			}
		}
		end := start + params.BatchSize
		if end > len(grants) {
			end = len(grants)
		}
		for _, g := range grants[start:end] {
			e.processGrant(ctx, g, params, &stats)
		}
	}

	status = models.RunSuccess
	return &Result{RunID: runID, Status: status, Stats: stats}, nil
}

// ImportByID fetches and upserts a single grant outside the batch
// cycle. It shares the per-grant path with RunSync but keeps no ledger
// entry.
func (e *Engine) ImportByID(ctx context.Context, id string, params RunParams) (*models.ContentRecord, error) {
	g, err := e.source.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec, _, err := e.upsertGrant(ctx, g, params)
	if err != nil {
		return nil, err
	}
	if e.enricher != nil && params.GenerateAI {
		if _, err := e.enricher.EnrichRecord(ctx, rec, g); err != nil {
			log.Printf("[Sync] import %s: enrichment: %v", id, err)
		}
	}
	return rec, nil
}

type action int

const (
	actionCreated action = iota
	actionUpdated
	actionSkipped
)

func (e *Engine) processGrant(ctx context.Context, g models.Grant, params RunParams, stats *models.RunStats) {
	rec, act, err := e.upsertGrant(ctx, g, params)
	if err != nil {
		log.Printf("[Sync] grant %s: %v", g.ExternalID, err)
		stats.Errors++
		return
	}

	switch act {
	case actionCreated:
		stats.Created++
	case actionUpdated:
		stats.Updated++
	case actionSkipped:
		return
	}

	if e.enricher != nil && params.GenerateAI {
		res, err := e.enricher.EnrichRecord(ctx, rec, g)
		if err != nil {
			log.Printf("[Sync] grant %s: enrichment: %v", g.ExternalID, err)
			stats.Errors++
			return
		}
		if res.Generated() {
			stats.AIGenerated++
		}
	}
}

func (e *Engine) upsertGrant(ctx context.Context, g models.Grant, params RunParams) (*models.ContentRecord, action, error) {
	existing, err := e.store.FindByExternalID(ctx, g.ExternalID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		rec := e.recordFromGrant(g, params.AutoPublish)
		if err := e.store.CreateContent(ctx, rec); err != nil {
			return nil, actionSkipped, err
		}
		if err := e.assignTaxonomies(ctx, rec, g); err != nil {
			return nil, actionSkipped, err
		}
		return rec, actionCreated, nil

	case err != nil:
		return nil, actionSkipped, err
	}

	if !params.UpdateExisting {
		return existing, actionSkipped, nil
	}

	e.applyGrant(existing, g, params.ForceUpdate)
	if err := e.store.UpdateContent(ctx, existing); err != nil {
		return nil, actionSkipped, err
	}
	if err := e.assignTaxonomies(ctx, existing, g); err != nil {
		return nil, actionSkipped, err
	}
	return existing, actionUpdated, nil
}

// recordFromGrant builds a fresh record. New records start as drafts
// unless auto publish is on and the grant is open for applications.
func (e *Engine) recordFromGrant(g models.Grant, autoPublish bool) *models.ContentRecord {
	rec := &models.ContentRecord{
		ExternalID: g.ExternalID,
		Title:      g.Title,
		Excerpt:    truncate(g.Description, 200),
		Status:     models.RecordDraft,
		Meta:       map[string]string{},
	}
	e.applyGrant(rec, g, false)
	if autoPublish && rec.Status == models.RecordDraft && g.Status == models.GrantActive {
		rec.Status = models.RecordPublished
	}
	return rec
}

// applyGrant refreshes the source-owned fields of a record. Generated
// body and excerpt are left alone so enrichment survives updates,
// unless force is set.
func (e *Engine) applyGrant(rec *models.ContentRecord, g models.Grant, force bool) {
	if g.Title != "" {
		rec.Title = g.Title
	}
	if rec.Meta == nil {
		rec.Meta = map[string]string{}
	}

	meta := rec.Meta
	meta[models.MetaExternalID] = g.ExternalID
	meta[models.MetaOrganization] = g.Organization
	meta[models.MetaMaxAmount] = strconv.FormatInt(g.MaxAmount, 10)
	meta[models.MetaMinAmount] = strconv.FormatInt(g.MinAmount, 10)
	meta[models.MetaSubsidyRate] = g.SubsidyRate
	meta[models.MetaTarget] = g.Target
	meta[models.MetaPurpose] = g.Purpose
	meta[models.MetaOfficialURL] = g.OfficialURL
	meta[models.MetaGrantStatus] = string(g.Status)
	meta[models.MetaIndustry] = g.Industry
	meta[models.MetaTargetArea] = g.TargetArea
	meta[models.MetaTargetEmployees] = g.TargetEmployees
	meta[models.MetaLastSynced] = e.now().UTC().Format(time.RFC3339)
	if g.Deadline != nil {
		meta[models.MetaDeadline] = g.Deadline.UTC().Format(time.RFC3339)
	} else {
		delete(meta, models.MetaDeadline)
	}
	if g.ApplicationStart != nil {
		meta[models.MetaApplicationStart] = g.ApplicationStart.UTC().Format(time.RFC3339)
	} else {
		delete(meta, models.MetaApplicationStart)
	}

	// A deterministic body is rendered when none exists, or on a forced
	// refresh. Generated bodies otherwise survive source updates.
	if force || strings.TrimSpace(rec.Body) == "" {
		rec.Body = enrich.BuildBody(g, g.Description)
	}

	switch g.Status {
	case models.GrantClosed:
		rec.Status = models.RecordExpired
	case models.GrantUpcoming:
		if rec.Status != models.RecordPublished {
			rec.Status = models.RecordScheduled
		}
	case models.GrantActive:
		if rec.Status == models.RecordExpired || rec.Status == models.RecordScheduled {
			rec.Status = models.RecordPublished
		}
	}
}

// assignTaxonomies stamps the record with category, prefecture, target
// and amount range terms from the source data. The amount range set is
// fixed; an unknown bucket is skipped rather than created.
func (e *Engine) assignTaxonomies(ctx context.Context, rec *models.ContentRecord, g models.Grant) error {
	if g.Category != "" {
		termID, err := e.store.GetOrCreateTerm(ctx, models.TaxonomyCategory, g.Category)
		if err != nil {
			return err
		}
		if err := e.store.ReplaceTerms(ctx, rec.ID, models.TaxonomyCategory, []int64{termID}); err != nil {
			return err
		}
	}

	if len(g.Prefectures) > 0 {
		ids := make([]int64, 0, len(g.Prefectures))
		for _, name := range g.Prefectures {
			termID, err := e.store.GetOrCreateTerm(ctx, models.TaxonomyPrefecture, name)
			if err != nil {
				return err
			}
			ids = append(ids, termID)
		}
		if err := e.store.ReplaceTerms(ctx, rec.ID, models.TaxonomyPrefecture, ids); err != nil {
			return err
		}
	}

	if ids, err := e.targetTerms(ctx, g); err != nil {
		return err
	} else if len(ids) > 0 {
		if err := e.store.ReplaceTerms(ctx, rec.ID, models.TaxonomyTarget, ids); err != nil {
			return err
		}
	}

	if name := jgrants.AmountRange(g.MaxAmount); name != "" {
		termID, err := e.store.LookupTerm(ctx, models.TaxonomyAmountRange, name)
		switch {
		case errors.Is(err, models.ErrNotFound):
			log.Printf("[Sync] amount range %q not seeded, skipping", name)
		case err != nil:
			return err
		default:
			if err := e.store.ReplaceTerms(ctx, rec.ID, models.TaxonomyAmountRange, []int64{termID}); err != nil {
				return err
			}
		}
	}
	return nil
}

// targetTerms derives the target-business terms for a grant. Industry
// names from the source become terms of their own; when the source
// carries no industry, the free-form target text is matched against the
// seeded set instead.
func (e *Engine) targetTerms(ctx context.Context, g models.Grant) ([]int64, error) {
	if industries := splitList(g.Industry); len(industries) > 0 {
		ids := make([]int64, 0, len(industries))
		for _, name := range industries {
			termID, err := e.store.GetOrCreateTerm(ctx, models.TaxonomyTarget, name)
			if err != nil {
				return nil, err
			}
			ids = append(ids, termID)
		}
		return ids, nil
	}

	if g.Target == "" {
		return nil, nil
	}
	terms, err := e.store.ListTerms(ctx, models.TaxonomyTarget)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, t := range terms {
		if strings.Contains(g.Target, t.Name) {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

// splitList breaks a delimiter-separated source field into trimmed,
// non-empty tokens.
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '、' || r == ',' || r == '，' || r == '/' || r == '／'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func truncate(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}

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
