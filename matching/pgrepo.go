package matching

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/models"
	"github.com/expensecore/expense-engine/store"
)

// PGRepo is the Postgres-backed Store implementation for the matching engine.
type PGRepo struct {
	pool store.Pool
}

// NewPGRepo creates a matching repository over a pgx pool.
func NewPGRepo(pool store.Pool) *PGRepo {
	return &PGRepo{pool: pool}
}

func (r *PGRepo) UnmatchedTransactions(ctx context.Context, userID uuid.UUID, dateFrom, dateTo time.Time) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, description, original_description, transaction_date, amount,
		       match_status, group_id, matched_receipt_id
		FROM transactions
		WHERE user_id = $1 AND match_status = $2 AND group_id IS NULL
		  AND transaction_date BETWEEN $3 AND $4`,
		userID, models.StatusUnmatched, dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Description, &t.OriginalDescription, &t.TransactionDate,
			&t.Amount, &t.MatchStatus, &t.GroupID, &t.MatchedReceiptID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PGRepo) UnmatchedGroups(ctx context.Context, userID uuid.UUID, dateFrom, dateTo time.Time) ([]models.TransactionGroup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, combined_amount, display_date, transaction_count,
		       match_status, matched_receipt_id
		FROM transaction_groups
		WHERE user_id = $1 AND match_status = $2 AND display_date BETWEEN $3 AND $4`,
		userID, models.StatusUnmatched, dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TransactionGroup
	for rows.Next() {
		var g models.TransactionGroup
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &g.CombinedAmount, &g.DisplayDate,
			&g.TransactionCount, &g.MatchStatus, &g.MatchedReceiptID); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *PGRepo) UnmatchedReceipts(ctx context.Context, userID uuid.UUID) ([]models.Receipt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, vendor_extracted, date_extracted, amount_extracted,
		       match_status, matched_transaction_id
		FROM receipts
		WHERE user_id = $1 AND match_status = $2`, userID, models.StatusUnmatched)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Receipt
	for rows.Next() {
		var rc models.Receipt
		if err := rows.Scan(&rc.ID, &rc.UserID, &rc.VendorExtracted, &rc.DateExtracted, &rc.AmountExtracted,
			&rc.MatchStatus, &rc.MatchedTransactionID); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *PGRepo) CreateMatch(ctx context.Context, m *models.ReceiptTransactionMatch) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO receipt_transaction_matches
			(id, user_id, receipt_id, transaction_id, transaction_group_id, status,
			 confidence_score, amount_score, date_score, vendor_score, match_reason,
			 matched_vendor_alias_id, is_manual_match, confirmed_at, confirmed_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.UserID, m.ReceiptID, m.TransactionID, m.TransactionGroupID, m.Status,
		m.ConfidenceScore, m.AmountScore, m.DateScore, m.VendorScore, m.MatchReason,
		m.MatchedVendorAliasID, m.IsManualMatch, m.ConfirmedAt, m.ConfirmedByUserID)
	return err
}

func (r *PGRepo) GetMatch(ctx context.Context, matchID uuid.UUID) (*models.ReceiptTransactionMatch, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, receipt_id, transaction_id, transaction_group_id, status,
		       confidence_score, amount_score, date_score, vendor_score, match_reason,
		       matched_vendor_alias_id, is_manual_match, confirmed_at, confirmed_by_user_id
		FROM receipt_transaction_matches WHERE id = $1`, matchID)
	return scanMatch(row)
}

func (r *PGRepo) ProposedMatches(ctx context.Context, userID uuid.UUID, minConfidence *float64, explicitIDs []uuid.UUID) ([]models.ReceiptTransactionMatch, error) {
	query := `
		SELECT id, user_id, receipt_id, transaction_id, transaction_group_id, status,
		       confidence_score, amount_score, date_score, vendor_score, match_reason,
		       matched_vendor_alias_id, is_manual_match, confirmed_at, confirmed_by_user_id
		FROM receipt_transaction_matches
		WHERE user_id = $1 AND status = $2`
	args := []any{userID, models.StatusProposed}

	if len(explicitIDs) > 0 {
		query += ` AND id = ANY($3)`
		args = append(args, explicitIDs)
	} else if minConfidence != nil {
		query += ` AND confidence_score >= $3`
		args = append(args, *minConfidence)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ReceiptTransactionMatch
	for rows.Next() {
		m, err := scanMatchRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *PGRepo) UpdateMatchStatus(ctx context.Context, matchID uuid.UUID, status models.MatchStatus, confirmedAt *time.Time, confirmedBy *uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE receipt_transaction_matches
		SET status = $2, confirmed_at = $3, confirmed_by_user_id = $4
		WHERE id = $1`, matchID, status, confirmedAt, confirmedBy)
	return err
}

func (r *PGRepo) UpdateReceiptStatus(ctx context.Context, receiptID uuid.UUID, status models.MatchStatus, matchedTransactionID *uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE receipts SET match_status = $2, matched_transaction_id = $3 WHERE id = $1`,
		receiptID, status, matchedTransactionID)
	return err
}

func (r *PGRepo) UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status models.MatchStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE transactions SET match_status = $2 WHERE id = $1`, transactionID, status)
	return err
}

func (r *PGRepo) UpdateGroupStatus(ctx context.Context, groupID uuid.UUID, status models.MatchStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE transaction_groups SET match_status = $2 WHERE id = $1`, groupID, status)
	return err
}

func (r *PGRepo) GetReceipt(ctx context.Context, receiptID uuid.UUID) (*models.Receipt, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, vendor_extracted, date_extracted, amount_extracted,
		       match_status, matched_transaction_id
		FROM receipts WHERE id = $1`, receiptID)

	var rc models.Receipt
	if err := row.Scan(&rc.ID, &rc.UserID, &rc.VendorExtracted, &rc.DateExtracted, &rc.AmountExtracted,
		&rc.MatchStatus, &rc.MatchedTransactionID); err != nil {
		if err == store.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rc, nil
}

func (r *PGRepo) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, description, original_description, transaction_date, amount,
		       match_status, group_id, matched_receipt_id
		FROM transactions WHERE id = $1`, transactionID)

	var t models.Transaction
	if err := row.Scan(&t.ID, &t.UserID, &t.Description, &t.OriginalDescription, &t.TransactionDate,
		&t.Amount, &t.MatchStatus, &t.GroupID, &t.MatchedReceiptID); err != nil {
		if err == store.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *PGRepo) GetGroup(ctx context.Context, groupID uuid.UUID) (*models.TransactionGroup, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, combined_amount, display_date, transaction_count,
		       match_status, matched_receipt_id
		FROM transaction_groups WHERE id = $1`, groupID)

	var g models.TransactionGroup
	if err := row.Scan(&g.ID, &g.UserID, &g.Name, &g.CombinedAmount, &g.DisplayDate,
		&g.TransactionCount, &g.MatchStatus, &g.MatchedReceiptID); err != nil {
		if err == store.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*models.ReceiptTransactionMatch, error) {
	m, err := scanMatchRow(row)
	if err != nil {
		if err == store.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func scanMatchRow(row rowScanner) (*models.ReceiptTransactionMatch, error) {
	var m models.ReceiptTransactionMatch
	if err := row.Scan(&m.ID, &m.UserID, &m.ReceiptID, &m.TransactionID, &m.TransactionGroupID, &m.Status,
		&m.ConfidenceScore, &m.AmountScore, &m.DateScore, &m.VendorScore, &m.MatchReason,
		&m.MatchedVendorAliasID, &m.IsManualMatch, &m.ConfirmedAt, &m.ConfirmedByUserID); err != nil {
		return nil, err
	}
	return &m, nil
}
