package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aoki/jgrants-sync/internal/models"
)

// Store wraps the connection pool with the queries the sync pipeline
// needs.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const contentCols = `id, external_id, status, title, body, excerpt, meta, ai_generated_at, created_at, updated_at`

func scanContent(scan func(dest ...any) error) (models.ContentRecord, error) {
	var rec models.ContentRecord
	var metaRaw []byte

	err := scan(
		&rec.ID, &rec.ExternalID, &rec.Status, &rec.Title, &rec.Body, &rec.Excerpt,
		&metaRaw, &rec.AIGeneratedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}

	rec.Meta = map[string]string{}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &rec.Meta)
	}
	return rec, nil
}

// FindByExternalID is the identity lookup the create-or-update decision
// hangs on. Returns ErrNotFound when no record carries the id.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*models.ContentRecord, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM content_records WHERE external_id = $1`, contentCols), externalID)
	rec, err := scanContent(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("content %s: %w", externalID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find content: %v", models.ErrStore, err)
	}
	return &rec, nil
}

func (s *Store) GetContent(ctx context.Context, id uuid.UUID) (*models.ContentRecord, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM content_records WHERE id = $1`, contentCols), id)
	rec, err := scanContent(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("content %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get content: %v", models.ErrStore, err)
	}
	return &rec, nil
}

// CreateContent inserts a new record and fills in the generated id and
// timestamps.
func (s *Store) CreateContent(ctx context.Context, rec *models.ContentRecord) error {
	metaRaw, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("%w: encode meta: %v", models.ErrStore, err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO content_records (external_id, status, title, body, excerpt, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, rec.ExternalID, rec.Status, rec.Title, rec.Body, rec.Excerpt, metaRaw).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert content: %v", models.ErrStore, err)
	}
	return nil
}

// UpdateContent rewrites the mutable fields of an existing record.
func (s *Store) UpdateContent(ctx context.Context, rec *models.ContentRecord) error {
	metaRaw, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("%w: encode meta: %v", models.ErrStore, err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE content_records
		SET status = $2, title = $3, body = $4, excerpt = $5, meta = $6, updated_at = NOW()
		WHERE id = $1
	`, rec.ID, rec.Status, rec.Title, rec.Body, rec.Excerpt, metaRaw)
	if err != nil {
		return fmt.Errorf("%w: update content: %v", models.ErrStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("content %s: %w", rec.ID, models.ErrNotFound)
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status models.RecordStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE content_records SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("%w: set status: %v", models.ErrStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("content %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) SetAIGeneratedAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE content_records SET ai_generated_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("%w: set ai_generated_at: %v", models.ErrStore, err)
	}
	return nil
}

// ListExpired returns published records whose stored deadline has
// passed as of asOf. Records without a deadline are never expired.
func (s *Store) ListExpired(ctx context.Context, asOf time.Time) ([]models.ContentRecord, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM content_records
		WHERE status = $1
		  AND COALESCE(meta->>$2, '') <> ''
		  AND (meta->>$2)::timestamptz < $3
	`, contentCols), models.RecordPublished, models.MetaDeadline, asOf)
	if err != nil {
		return nil, fmt.Errorf("%w: list expired: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var out []models.ContentRecord
	for rows.Next() {
		rec, err := scanContent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: scan expired: %v", models.ErrStore, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate expired: %v", models.ErrStore, err)
	}
	return out, nil
}

// ListNeedingEnrichment returns non-expired records never enriched or
// last enriched before staleBefore, oldest first.
func (s *Store) ListNeedingEnrichment(ctx context.Context, staleBefore time.Time, limit int) ([]models.ContentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM content_records
		WHERE status <> $1
		  AND (ai_generated_at IS NULL OR ai_generated_at < $2)
		ORDER BY ai_generated_at ASC NULLS FIRST, created_at ASC
		LIMIT $3
	`, contentCols), models.RecordExpired, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list needing enrichment: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var out []models.ContentRecord
	for rows.Next() {
		rec, err := scanContent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", models.ErrStore, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteExpiredBefore removes expired records last touched before
// cutoff. Term assignments go with them via cascade.
func (s *Store) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM content_records WHERE status = $1 AND updated_at < $2`,
		models.RecordExpired, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired: %v", models.ErrStore, err)
	}
	return tag.RowsAffected(), nil
}
