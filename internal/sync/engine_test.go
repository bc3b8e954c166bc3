package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aoki/jgrants-sync/internal/enrich"
	"github.com/aoki/jgrants-sync/internal/jgrants"
	"github.com/aoki/jgrants-sync/internal/models"
)

type fakeSource struct {
	grants    []models.Grant
	err       error
	lastQuery jgrants.Query
}

func (f *fakeSource) Search(ctx context.Context, q jgrants.Query) ([]models.Grant, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return f.grants, nil
}

func (f *fakeSource) GetByID(ctx context.Context, id string) (models.Grant, error) {
	for _, g := range f.grants {
		if g.ExternalID == id {
			return g, nil
		}
	}
	return models.Grant{}, models.ErrNotFound
}

type completedRun struct {
	status models.RunStatus
	stats  models.RunStats
	errMsg string
}

type fakeStore struct {
	locked    bool
	records   map[string]*models.ContentRecord
	completed []completedRun
	terms     map[string]int64
	assigned  map[string][]int64
	expired   []models.ContentRecord
	statusSet map[uuid.UUID]models.RecordStatus
	deleted   int64
	createErr error
	nextTerm  int64
}

func newFakeStore() *fakeStore {
	f := &fakeStore{
		records:   map[string]*models.ContentRecord{},
		terms:     map[string]int64{},
		assigned:  map[string][]int64{},
		statusSet: map[uuid.UUID]models.RecordStatus{},
	}
	for _, name := range jgrants.AmountRanges {
		f.nextTerm++
		f.terms[models.TaxonomyAmountRange+"/"+name] = f.nextTerm
	}
	for _, name := range []string{"中小企業", "小規模事業者", "個人事業主"} {
		f.nextTerm++
		f.terms[models.TaxonomyTarget+"/"+name] = f.nextTerm
	}
	return f
}

func (f *fakeStore) AcquireSyncLock(ctx context.Context) (func(), error) {
	if f.locked {
		return nil, models.ErrRunInProgress
	}
	f.locked = true
	return func() { f.locked = false }, nil
}

func (f *fakeStore) StartRun(ctx context.Context) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (f *fakeStore) CompleteRun(ctx context.Context, runID uuid.UUID, status models.RunStatus, stats models.RunStats, errMsg string) error {
	f.completed = append(f.completed, completedRun{status: status, stats: stats, errMsg: errMsg})
	return nil
}

func (f *fakeStore) FindByExternalID(ctx context.Context, externalID string) (*models.ContentRecord, error) {
	if rec, ok := f.records[externalID]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, fmt.Errorf("content %s: %w", externalID, models.ErrNotFound)
}

func (f *fakeStore) CreateContent(ctx context.Context, rec *models.ContentRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	cp := *rec
	f.records[rec.ExternalID] = &cp
	return nil
}

func (f *fakeStore) UpdateContent(ctx context.Context, rec *models.ContentRecord) error {
	if _, ok := f.records[rec.ExternalID]; !ok {
		return models.ErrNotFound
	}
	cp := *rec
	f.records[rec.ExternalID] = &cp
	return nil
}

func (f *fakeStore) SetStatus(ctx context.Context, id uuid.UUID, status models.RecordStatus) error {
	f.statusSet[id] = status
	return nil
}

func (f *fakeStore) ListExpired(ctx context.Context, asOf time.Time) ([]models.ContentRecord, error) {
	return f.expired, nil
}

func (f *fakeStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f.deleted, nil
}

func (f *fakeStore) GetOrCreateTerm(ctx context.Context, taxonomy, name string) (int64, error) {
	key := taxonomy + "/" + name
	if id, ok := f.terms[key]; ok {
		return id, nil
	}
	f.nextTerm++
	f.terms[key] = f.nextTerm
	return f.nextTerm, nil
}

func (f *fakeStore) LookupTerm(ctx context.Context, taxonomy, name string) (int64, error) {
	if id, ok := f.terms[taxonomy+"/"+name]; ok {
		return id, nil
	}
	return 0, models.ErrNotFound
}

func (f *fakeStore) ReplaceTerms(ctx context.Context, recordID uuid.UUID, taxonomy string, termIDs []int64) error {
	f.assigned[recordID.String()+"/"+taxonomy] = termIDs
	return nil
}

func (f *fakeStore) ListTerms(ctx context.Context, taxonomy string) ([]models.TaxonomyTerm, error) {
	var out []models.TaxonomyTerm
	prefix := taxonomy + "/"
	for key, id := range f.terms {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, models.TaxonomyTerm{ID: id, Taxonomy: taxonomy, Name: key[len(prefix):]})
		}
	}
	return out, nil
}

type fakeEnricher struct {
	generated bool
	err       error
	calls     int
}

func (f *fakeEnricher) EnrichRecord(ctx context.Context, rec *models.ContentRecord, g models.Grant) (enrich.Result, error) {
	f.calls++
	return enrich.Result{Excerpted: f.generated}, f.err
}

func activeGrant(id, title string) models.Grant {
	deadline := time.Now().Add(30 * 24 * time.Hour)
	return models.Grant{
		ExternalID:  id,
		Title:       title,
		Description: "説明",
		MaxAmount:   5_000_000,
		Target:      "中小企業および個人事業主",
		Status:      models.GrantActive,
		Category:    "ものづくり",
		Prefectures: []string{"東京都"},
		Deadline:    &deadline,
	}
}

func defaultParams() RunParams {
	return RunParams{
		Keyword:        "補助金",
		MaxImportCount: 50,
		BatchSize:      10,
		UpdateExisting: true,
		GenerateAI:     true,
	}
}

func TestRunSyncCreatesAndUpdates(t *testing.T) {
	src := &fakeSource{grants: []models.Grant{activeGrant("g1", "補助金A"), activeGrant("g2", "補助金B")}}
	st := newFakeStore()
	enr := &fakeEnricher{generated: true}
	e := NewEngine(src, st, enr)

	// g2 already exists from an earlier run.
	st.records["g2"] = &models.ContentRecord{ID: uuid.New(), ExternalID: "g2", Title: "旧タイトル", Meta: map[string]string{}}

	res, err := e.RunSync(context.Background(), defaultParams())
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	want := models.RunStats{Fetched: 2, Created: 1, Updated: 1, AIGenerated: 2}
	if res.Stats != want {
		t.Fatalf("stats = %+v, want %+v", res.Stats, want)
	}
	if res.Status != models.RunSuccess {
		t.Fatalf("status = %s", res.Status)
	}
	if len(st.completed) != 1 || st.completed[0].status != models.RunSuccess {
		t.Fatalf("ledger not completed: %+v", st.completed)
	}
	if st.records["g2"].Title != "補助金B" {
		t.Errorf("existing record title not refreshed: %q", st.records["g2"].Title)
	}
	if st.records["g1"].Meta[models.MetaMaxAmount] != "5000000" {
		t.Errorf("meta max amount = %q", st.records["g1"].Meta[models.MetaMaxAmount])
	}

	// Amount range and target terms were assigned from the fixed sets.
	key := st.records["g1"].ID.String() + "/" + models.TaxonomyAmountRange
	if len(st.assigned[key]) != 1 {
		t.Errorf("amount range not assigned: %v", st.assigned)
	}
	targetKey := st.records["g1"].ID.String() + "/" + models.TaxonomyTarget
	if len(st.assigned[targetKey]) != 2 {
		t.Errorf("expected 2 target terms, got %v", st.assigned[targetKey])
	}
}

func TestRunSyncIdempotent(t *testing.T) {
	src := &fakeSource{grants: []models.Grant{activeGrant("g1", "補助金A")}}
	st := newFakeStore()
	e := NewEngine(src, st, nil)

	first, err := e.RunSync(context.Background(), defaultParams())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := e.RunSync(context.Background(), defaultParams())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.Stats.Created != 1 || second.Stats.Created != 0 || second.Stats.Updated != 1 {
		t.Fatalf("reimport must update, not duplicate: first=%+v second=%+v", first.Stats, second.Stats)
	}
	if len(st.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(st.records))
	}
}

func TestRunSyncTruncation(t *testing.T) {
	var grants []models.Grant
	for i := 0; i < 10; i++ {
		grants = append(grants, activeGrant(fmt.Sprintf("g%d", i), "補助金"))
	}
	src := &fakeSource{grants: grants}
	st := newFakeStore()
	e := NewEngine(src, st, nil)

	params := defaultParams()
	params.MaxImportCount = 3
	res, err := e.RunSync(context.Background(), params)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if res.Stats.Fetched != 3 || res.Stats.Created != 3 {
		t.Fatalf("truncation not applied: %+v", res.Stats)
	}
}

func TestRunSyncSkipWhenUpdateDisabled(t *testing.T) {
	src := &fakeSource{grants: []models.Grant{activeGrant("g1", "補助金A")}}
	st := newFakeStore()
	st.records["g1"] = &models.ContentRecord{ID: uuid.New(), ExternalID: "g1", Title: "旧タイトル", Meta: map[string]string{}}
	enr := &fakeEnricher{generated: true}
	e := NewEngine(src, st, enr)

	params := defaultParams()
	params.UpdateExisting = false
	res, err := e.RunSync(context.Background(), params)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if res.Stats.Created != 0 || res.Stats.Updated != 0 || res.Stats.Fetched != 1 {
		t.Fatalf("stats = %+v", res.Stats)
	}
	if enr.calls != 0 {
		t.Error("skipped records must not be enriched")
	}
	if st.records["g1"].Title != "旧タイトル" {
		t.Error("skipped record must be untouched")
	}
}

func TestRunSyncBodyRefresh(t *testing.T) {
	src := &fakeSource{grants: []models.Grant{activeGrant("g1", "補助金A")}}
	st := newFakeStore()
	e := NewEngine(src, st, nil)

	st.records["g1"] = &models.ContentRecord{
		ID: uuid.New(), ExternalID: "g1", Title: "旧タイトル",
		Body: "<p>生成済み本文</p>", Meta: map[string]string{},
	}

	if _, err := e.RunSync(context.Background(), defaultParams()); err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if st.records["g1"].Body != "<p>生成済み本文</p>" {
		t.Fatalf("existing body must survive a plain update: %q", st.records["g1"].Body)
	}

	params := defaultParams()
	params.ForceUpdate = true
	if _, err := e.RunSync(context.Background(), params); err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if body := st.records["g1"].Body; !strings.Contains(body, "<h2>概要</h2>") {
		t.Fatalf("forced update must rebuild the body: %q", body)
	}
}

func TestRunSyncAIDisabledPerRun(t *testing.T) {
	src := &fakeSource{grants: []models.Grant{activeGrant("g1", "補助金A")}}
	st := newFakeStore()
	enr := &fakeEnricher{generated: true}
	e := NewEngine(src, st, enr)

	params := defaultParams()
	params.GenerateAI = false
	res, err := e.RunSync(context.Background(), params)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if enr.calls != 0 || res.Stats.AIGenerated != 0 {
		t.Fatalf("enrichment ran with generation disabled: calls=%d stats=%+v", enr.calls, res.Stats)
	}
}

func TestRunSyncGuard(t *testing.T) {
	src := &fakeSource{grants: []models.Grant{activeGrant("g1", "補助金A")}}
	st := newFakeStore()
	st.locked = true
	e := NewEngine(src, st, nil)

	_, err := e.RunSync(context.Background(), defaultParams())
	if !errors.Is(err, models.ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
	if len(st.completed) != 0 {
		t.Fatal("no ledger entry may be written for a refused run")
	}
}

func TestRunSyncFetchFailure(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("%w: timeout", models.ErrSourceUnavailable)}
	st := newFakeStore()
	e := NewEngine(src, st, nil)

	_, err := e.RunSync(context.Background(), defaultParams())
	if !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if len(st.completed) != 1 || st.completed[0].status != models.RunError {
		t.Fatalf("failed run must close its ledger entry: %+v", st.completed)
	}
	if st.completed[0].errMsg == "" {
		t.Error("ledger entry should carry the error message")
	}
	if st.locked {
		t.Error("lock must be released after a failed run")
	}
}

func TestRunSyncPerItemErrorsCounted(t *testing.T) {
	src := &fakeSource{grants: []models.Grant{activeGrant("g1", "補助金A"), activeGrant("g2", "補助金B")}}
	st := newFakeStore()
	st.createErr = errors.New("disk full")
	e := NewEngine(src, st, nil)

	res, err := e.RunSync(context.Background(), defaultParams())
	if err != nil {
		t.Fatalf("per-item failures must not fail the run: %v", err)
	}
	if res.Status != models.RunSuccess || res.Stats.Errors != 2 || res.Stats.Created != 0 {
		t.Fatalf("stats = %+v status = %s", res.Stats, res.Status)
	}
}

func TestRunSyncEnrichmentFailureCounted(t *testing.T) {
	src := &fakeSource{grants: []models.Grant{activeGrant("g1", "補助金A")}}
	st := newFakeStore()
	enr := &fakeEnricher{err: errors.New("backend down")}
	e := NewEngine(src, st, enr)

	res, err := e.RunSync(context.Background(), defaultParams())
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if res.Stats.Created != 1 || res.Stats.Errors != 1 || res.Stats.AIGenerated != 0 {
		t.Fatalf("stats = %+v", res.Stats)
	}
}

func TestRunSyncCancelledDuringDelay(t *testing.T) {
	var grants []models.Grant
	for i := 0; i < 4; i++ {
		grants = append(grants, activeGrant(fmt.Sprintf("g%d", i), "補助金"))
	}
	src := &fakeSource{grants: grants}
	st := newFakeStore()
	e := NewEngine(src, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	params := defaultParams()
	params.BatchSize = 2
	params.BatchDelay = time.Minute
	_, err := e.RunSync(ctx, params)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(st.completed) != 1 || st.completed[0].status != models.RunError {
		t.Fatalf("cancelled run must close as failed: %+v", st.completed)
	}
	// The first batch completed before the cancelled delay.
	if st.completed[0].stats.Created != 2 {
		t.Fatalf("stats = %+v", st.completed[0].stats)
	}
}

func TestImportByID(t *testing.T) {
	src := &fakeSource{grants: []models.Grant{activeGrant("g7", "単発補助金")}}
	st := newFakeStore()
	enr := &fakeEnricher{generated: true}
	e := NewEngine(src, st, enr)

	rec, err := e.ImportByID(context.Background(), "g7", defaultParams())
	if err != nil {
		t.Fatalf("ImportByID: %v", err)
	}
	if rec.ExternalID != "g7" || st.records["g7"] == nil {
		t.Fatalf("record not stored: %+v", rec)
	}
	if enr.calls != 1 {
		t.Error("imported record should be enriched")
	}

	if _, err := e.ImportByID(context.Background(), "nope", defaultParams()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown id: err = %v", err)
	}
}

func TestDeadlineSweep(t *testing.T) {
	st := newFakeStore()
	st.expired = []models.ContentRecord{
		{ID: uuid.New(), ExternalID: "g1"},
		{ID: uuid.New(), ExternalID: "g2"},
	}
	e := NewEngine(&fakeSource{}, st, nil)

	marked, err := e.DeadlineSweep(context.Background())
	if err != nil {
		t.Fatalf("DeadlineSweep: %v", err)
	}
	if marked != 2 {
		t.Fatalf("marked = %d, want 2", marked)
	}
	for _, rec := range st.expired {
		if st.statusSet[rec.ID] != models.RecordExpired {
			t.Errorf("record %s not marked expired", rec.ExternalID)
		}
	}
}

func TestRetentionSweep(t *testing.T) {
	st := newFakeStore()
	st.deleted = 5
	e := NewEngine(&fakeSource{}, st, nil)

	deleted, err := e.RetentionSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("RetentionSweep: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("deleted = %d, want 5", deleted)
	}
}
