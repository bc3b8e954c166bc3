package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aoki/jgrants-sync/internal/models"
)

// GetOrCreateTerm resolves a term id, creating the term when it does
// not exist yet. Concurrent creators converge on the same row.
func (s *Store) GetOrCreateTerm(ctx context.Context, taxonomy, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: empty term name", models.ErrValidation)
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO taxonomy_terms (taxonomy, name, slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (taxonomy, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, taxonomy, name, Slugify(name)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: get or create term %s/%s: %v", models.ErrStore, taxonomy, name, err)
	}
	return id, nil
}

// LookupTerm resolves a term id without creating anything. Fixed
// taxonomies like amount_range only ever use this path.
func (s *Store) LookupTerm(ctx context.Context, taxonomy, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM taxonomy_terms WHERE taxonomy = $1 AND name = $2`, taxonomy, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("term %s/%s: %w", taxonomy, name, models.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: lookup term: %v", models.ErrStore, err)
	}
	return id, nil
}

// ReplaceTerms swaps a record's assignments within one taxonomy for the
// given term set. Assignments in other taxonomies are untouched.
func (s *Store) ReplaceTerms(ctx context.Context, recordID uuid.UUID, taxonomy string, termIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin replace terms: %v", models.ErrStore, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM term_assignments
		WHERE record_id = $1
		  AND term_id IN (SELECT id FROM taxonomy_terms WHERE taxonomy = $2)
	`, recordID, taxonomy); err != nil {
		return fmt.Errorf("%w: clear terms: %v", models.ErrStore, err)
	}

	for _, termID := range termIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO term_assignments (record_id, term_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, recordID, termID); err != nil {
			return fmt.Errorf("%w: assign term %d: %v", models.ErrStore, termID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit replace terms: %v", models.ErrStore, err)
	}
	return nil
}

// ListTerms returns every term in one taxonomy.
func (s *Store) ListTerms(ctx context.Context, taxonomy string) ([]models.TaxonomyTerm, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, taxonomy, name, slug, parent_id FROM taxonomy_terms WHERE taxonomy = $1 ORDER BY id`, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("%w: list terms: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var terms []models.TaxonomyTerm
	for rows.Next() {
		var t models.TaxonomyTerm
		if err := rows.Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.ParentID); err != nil {
			return nil, fmt.Errorf("%w: scan term: %v", models.ErrStore, err)
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// TermNames lists the names assigned to a record within one taxonomy.
func (s *Store) TermNames(ctx context.Context, recordID uuid.UUID, taxonomy string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.name
		FROM term_assignments a
		JOIN taxonomy_terms t ON t.id = a.term_id
		WHERE a.record_id = $1 AND t.taxonomy = $2
		ORDER BY t.name
	`, recordID, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("%w: term names: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan term name: %v", models.ErrStore, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Slugify derives a stable slug from a term name. ASCII letters and
// digits are lowered, separators collapse to hyphens, and other
// characters (Japanese included) pass through so the slug stays unique.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteRune('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
