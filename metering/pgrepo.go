package metering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/models"
	"github.com/expensecore/expense-engine/store"
)

// PGRepo is the Postgres-backed Repo implementation for tier usage logging
// and aggregation.
type PGRepo struct {
	pool store.Pool
}

// NewPGRepo creates a metering repository over a pgx pool.
func NewPGRepo(pool store.Pool) *PGRepo {
	return &PGRepo{pool: pool}
}

func (r *PGRepo) InsertUsageLogBatch(ctx context.Context, entries []models.TierUsageLog) error {
	if len(entries) == 0 {
		return nil
	}

	var query strings.Builder
	query.WriteString(`INSERT INTO tier_usage_logs
		(user_id, transaction_id, operation_type, tier, confidence, response_time_ms, cache_hit, created_at) VALUES `)
	args := make([]any, 0, len(entries)*8)
	for i, e := range entries {
		if i > 0 {
			query.WriteString(", ")
		}
		base := i * 8
		fmt.Fprintf(&query, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, e.UserID, e.TransactionID, e.OperationType, e.Tier, e.Confidence, e.ResponseTimeMs, e.CacheHit, e.CreatedAt)
	}

	_, err := r.pool.Exec(ctx, query.String(), args...)
	return err
}

func (r *PGRepo) Aggregate(ctx context.Context, userID uuid.UUID, from, to time.Time, operation *models.OperationType) (Aggregate, error) {
	query := `
		SELECT operation_type, tier, count(*)
		FROM tier_usage_logs
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3`
	args := []any{userID, from, to}
	if operation != nil {
		query += ` AND operation_type = $4`
		args = append(args, *operation)
	}
	query += ` GROUP BY operation_type, tier`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return Aggregate{}, err
	}
	defer rows.Close()

	agg := Aggregate{ByOperation: map[models.OperationType]int64{}}
	for rows.Next() {
		var op models.OperationType
		var tier models.Tier
		var count int64
		if err := rows.Scan(&op, &tier, &count); err != nil {
			return Aggregate{}, err
		}
		agg.Total += count
		agg.ByOperation[op] += count
		switch tier {
		case models.Tier1:
			agg.Tier1Count += count
		case models.Tier2:
			agg.Tier2Count += count
		case models.Tier3:
			agg.Tier3Count += count
		}
	}
	return agg, rows.Err()
}

func (r *PGRepo) VendorCandidates(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]VendorCandidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.description, count(*) AS tier3_count
		FROM tier_usage_logs l
		JOIN transactions t ON t.id = l.transaction_id
		WHERE l.user_id = $1 AND l.tier = 3 AND l.created_at >= $2 AND l.created_at < $3
		GROUP BY t.description
		ORDER BY tier3_count DESC`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VendorCandidate
	for rows.Next() {
		var c VendorCandidate
		if err := rows.Scan(&c.Description, &c.Tier3Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
