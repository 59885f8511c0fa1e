package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/store"
)

// PGRepo is the Postgres-backed Repo implementation for API key resolution.
type PGRepo struct {
	pool store.Pool
}

// NewPGRepo creates an auth repository over a pgx pool.
func NewPGRepo(pool store.Pool) *PGRepo {
	return &PGRepo{pool: pool}
}

// UserIDForKeyHash looks up the user owning an active API key by its hash.
func (r *PGRepo) UserIDForKeyHash(ctx context.Context, keyHash string) (*uuid.UUID, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT user_id FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL`, keyHash)

	var userID uuid.UUID
	if err := row.Scan(&userID); err != nil {
		if err == store.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &userID, nil
}
