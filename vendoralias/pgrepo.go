package vendoralias

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/models"
	"github.com/expensecore/expense-engine/store"
)

// PGRepo is the Postgres-backed Repo implementation for the alias registry.
type PGRepo struct {
	pool store.Pool
}

// NewPGRepo creates an alias repository over a pgx pool.
func NewPGRepo(pool store.Pool) *PGRepo {
	return &PGRepo{pool: pool}
}

// FindByDescription returns every alias visible to userID (system-wide plus
// the user's own), optionally filtered to categories. Substring matching
// against description is applied by the caller (Registry.find), since it
// needs the full candidate set to break confidence/match_count ties.
func (r *PGRepo) FindByDescription(ctx context.Context, userID uuid.UUID, description string, categories []models.VendorCategory) ([]models.VendorAlias, error) {
	query := `
		SELECT id, user_id, canonical_name, alias_pattern, display_name, category,
		       default_gl_code, default_department, gl_confirm_count, dept_confirm_count,
		       match_count, last_matched_at, confidence
		FROM vendor_aliases
		WHERE (user_id IS NULL OR user_id = $1)`
	args := []any{userID}
	if len(categories) > 0 {
		query += ` AND category = ANY($2)`
		args = append(args, categories)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.VendorAlias
	for rows.Next() {
		var a models.VendorAlias
		if err := rows.Scan(&a.ID, &a.UserID, &a.CanonicalName, &a.AliasPattern, &a.DisplayName, &a.Category,
			&a.DefaultGLCode, &a.DefaultDepartment, &a.GLConfirmCount, &a.DeptConfirmCount,
			&a.MatchCount, &a.LastMatchedAt, &a.Confidence); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PGRepo) GetByCanonicalName(ctx context.Context, userID uuid.UUID, name string) (*models.VendorAlias, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, canonical_name, alias_pattern, display_name, category,
		       default_gl_code, default_department, gl_confirm_count, dept_confirm_count,
		       match_count, last_matched_at, confidence
		FROM vendor_aliases
		WHERE canonical_name = $1 AND (user_id IS NULL OR user_id = $2)
		ORDER BY user_id NULLS LAST LIMIT 1`, name, userID)

	var a models.VendorAlias
	if err := row.Scan(&a.ID, &a.UserID, &a.CanonicalName, &a.AliasPattern, &a.DisplayName, &a.Category,
		&a.DefaultGLCode, &a.DefaultDepartment, &a.GLConfirmCount, &a.DeptConfirmCount,
		&a.MatchCount, &a.LastMatchedAt, &a.Confidence); err != nil {
		if err == store.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *PGRepo) Upsert(ctx context.Context, alias *models.VendorAlias) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO vendor_aliases
			(id, user_id, canonical_name, alias_pattern, display_name, category,
			 default_gl_code, default_department, gl_confirm_count, dept_confirm_count,
			 match_count, last_matched_at, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (canonical_name, alias_pattern) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			category = EXCLUDED.category,
			default_gl_code = EXCLUDED.default_gl_code,
			default_department = EXCLUDED.default_department,
			gl_confirm_count = EXCLUDED.gl_confirm_count,
			dept_confirm_count = EXCLUDED.dept_confirm_count,
			match_count = EXCLUDED.match_count,
			last_matched_at = EXCLUDED.last_matched_at,
			confidence = EXCLUDED.confidence`,
		alias.ID, alias.UserID, alias.CanonicalName, alias.AliasPattern, alias.DisplayName, alias.Category,
		alias.DefaultGLCode, alias.DefaultDepartment, alias.GLConfirmCount, alias.DeptConfirmCount,
		alias.MatchCount, alias.LastMatchedAt, alias.Confidence)
	return err
}

func (r *PGRepo) RecordMatch(ctx context.Context, aliasID uuid.UUID, matchedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE vendor_aliases
		SET match_count = match_count + 1, last_matched_at = $2
		WHERE id = $1`, aliasID, matchedAt)
	return err
}
