package hashindex

import (
	"context"
	"time"

	"github.com/expensecore/expense-engine/models"
	"github.com/expensecore/expense-engine/store"
)

// PGRepo is the Postgres-backed Repo implementation for the hash index.
type PGRepo struct {
	pool store.Pool
}

// NewPGRepo creates a hash index repository over a pgx pool.
func NewPGRepo(pool store.Pool) *PGRepo {
	return &PGRepo{pool: pool}
}

func (r *PGRepo) Lookup(ctx context.Context, hash string) (*models.NormalizedTextCache, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT hash, raw_text, canonical_text, hit_count, last_accessed_at
		FROM normalized_text_cache WHERE hash = $1`, hash)

	var rec models.NormalizedTextCache
	if err := row.Scan(&rec.Hash, &rec.RawText, &rec.CanonicalText, &rec.HitCount, &rec.LastAccessedAt); err != nil {
		if err == store.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *PGRepo) Upsert(ctx context.Context, hash, rawText, canonicalText string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO normalized_text_cache (hash, raw_text, canonical_text, hit_count, last_accessed_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (hash) DO UPDATE
		SET canonical_text = EXCLUDED.canonical_text`,
		hash, rawText, canonicalText, time.Now().UTC())
	return err
}

func (r *PGRepo) TouchHit(ctx context.Context, hash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE normalized_text_cache
		SET hit_count = hit_count + 1, last_accessed_at = $2
		WHERE hash = $1`, hash, time.Now().UTC())
	return err
}
