package fingerprint

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/models"
	"github.com/expensecore/expense-engine/store"
)

// PGRepo is the Postgres-backed Repo implementation for the fingerprint
// resolver.
type PGRepo struct {
	pool store.Pool
}

// NewPGRepo creates a fingerprint repository over a pgx pool.
func NewPGRepo(pool store.Pool) *PGRepo {
	return &PGRepo{pool: pool}
}

// Lookup prefers a user-specific fingerprint over the system-wide fallback
// for the same header hash.
func (r *PGRepo) Lookup(ctx context.Context, userID uuid.UUID, headerHash string) (*models.StatementFingerprint, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, header_hash, source_name, column_mapping, date_format,
		       amount_sign, hit_count, last_used_at
		FROM statement_fingerprints
		WHERE header_hash = $1 AND (user_id IS NULL OR user_id = $2)
		ORDER BY user_id NULLS LAST LIMIT 1`, headerHash, userID)

	var fp models.StatementFingerprint
	if err := row.Scan(&fp.ID, &fp.UserID, &fp.HeaderHash, &fp.SourceName, &fp.ColumnMapping,
		&fp.DateFormat, &fp.AmountSign, &fp.HitCount, &fp.LastUsedAt); err != nil {
		if err == store.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &fp, nil
}

func (r *PGRepo) TouchHit(ctx context.Context, fingerprintID uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE statement_fingerprints
		SET hit_count = hit_count + 1, last_used_at = $2
		WHERE id = $1`, fingerprintID, now)
	return err
}

func (r *PGRepo) Insert(ctx context.Context, fp *models.StatementFingerprint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO statement_fingerprints
			(id, user_id, header_hash, source_name, column_mapping, date_format,
			 amount_sign, hit_count, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (header_hash, user_id) DO UPDATE SET
			column_mapping = EXCLUDED.column_mapping,
			date_format = EXCLUDED.date_format,
			amount_sign = EXCLUDED.amount_sign,
			hit_count = EXCLUDED.hit_count,
			last_used_at = EXCLUDED.last_used_at`,
		fp.ID, fp.UserID, fp.HeaderHash, fp.SourceName, fp.ColumnMapping,
		fp.DateFormat, fp.AmountSign, fp.HitCount, fp.LastUsedAt)
	return err
}
