package vectorindex

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/expensecore/expense-engine/models"
	"github.com/expensecore/expense-engine/store"
)

// PGRepo is the Postgres-backed Repo implementation for the vector index.
// The similarity ranking is pushed into SQL via pgvector's <=> (cosine
// distance) operator rather than pulled into process memory, unlike the
// gateway's in-memory cache scan it is grounded on.
type PGRepo struct {
	pool store.Pool
}

// NewPGRepo creates a vector index repository over a pgx pool.
func NewPGRepo(pool store.Pool) *PGRepo {
	return &PGRepo{pool: pool}
}

func (r *PGRepo) TopK(ctx context.Context, userID uuid.UUID, vec []float32, k int, threshold float64, requireGLOrDept bool) ([]Entry, error) {
	query := `
		SELECT id, user_id, transaction_id, description_text, vendor_normalized,
		       embedding, gl_code, department, verified, expires_at,
		       1 - (embedding <=> $1) AS similarity
		FROM expense_embeddings
		WHERE user_id = $2
		  AND 1 - (embedding <=> $1) >= $3`
	if requireGLOrDept {
		query += ` AND (gl_code IS NOT NULL OR department IS NOT NULL)`
	}
	query += ` ORDER BY embedding <=> $1 LIMIT $4`

	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(vec), userID, threshold, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e models.ExpenseEmbedding
		var sim float64
		if err := rows.Scan(&e.ID, &e.UserID, &e.TransactionID, &e.DescriptionText, &e.VendorNormalized,
			&e.Embedding, &e.GLCode, &e.Department, &e.Verified, &e.ExpiresAt, &sim); err != nil {
			return nil, err
		}
		out = append(out, Entry{Embedding: e, Similarity: sim})
	}
	return out, rows.Err()
}

func (r *PGRepo) InsertVerified(ctx context.Context, e *models.ExpenseEmbedding) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO expense_embeddings
			(id, user_id, transaction_id, description_text, vendor_normalized,
			 embedding, gl_code, department, verified, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, NULL)`,
		e.ID, e.UserID, e.TransactionID, e.DescriptionText, e.VendorNormalized,
		e.Embedding, e.GLCode, e.Department)
	return err
}

func (r *PGRepo) PurgeStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM expense_embeddings
		WHERE verified = false AND expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
