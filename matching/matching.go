package matching

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/expensecore/expense-engine/apperr"
	"github.com/expensecore/expense-engine/fuzzyvendor"
	"github.com/expensecore/expense-engine/models"
)

// Store is the durable collaborator for C8: candidate fetch plus the
// status/linkage writes a confirm/reject/manual-match/batch-approve call
// makes. One DB session per request (§5) means every method here is
// expected to run against that same session, sequenced by the caller.
type Store interface {
	UnmatchedTransactions(ctx context.Context, userID uuid.UUID, dateFrom, dateTo time.Time) ([]models.Transaction, error)
	UnmatchedGroups(ctx context.Context, userID uuid.UUID, dateFrom, dateTo time.Time) ([]models.TransactionGroup, error)
	UnmatchedReceipts(ctx context.Context, userID uuid.UUID) ([]models.Receipt, error)

	CreateMatch(ctx context.Context, m *models.ReceiptTransactionMatch) error
	GetMatch(ctx context.Context, matchID uuid.UUID) (*models.ReceiptTransactionMatch, error)
	ProposedMatches(ctx context.Context, userID uuid.UUID, minConfidence *float64, explicitIDs []uuid.UUID) ([]models.ReceiptTransactionMatch, error)
	UpdateMatchStatus(ctx context.Context, matchID uuid.UUID, status models.MatchStatus, confirmedAt *time.Time, confirmedBy *uuid.UUID) error

	UpdateReceiptStatus(ctx context.Context, receiptID uuid.UUID, status models.MatchStatus, matchedTransactionID *uuid.UUID) error
	UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status models.MatchStatus) error
	UpdateGroupStatus(ctx context.Context, groupID uuid.UUID, status models.MatchStatus) error

	GetReceipt(ctx context.Context, receiptID uuid.UUID) (*models.Receipt, error)
	GetTransaction(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error)
	GetGroup(ctx context.Context, groupID uuid.UUID) (*models.TransactionGroup, error)
}

// AliasFinder is the C5 collaborator for the vendor score's alias lookup.
type AliasFinder interface {
	Find(ctx context.Context, userID uuid.UUID, description string) (*models.VendorAlias, error)
}

// Learner is the C6 collaborator notified on confirmation. Its failures
// are logged by the caller, never by Engine, and never block the
// user-visible write (§4.6). overrideDisplayName/overrideGL/overrideDept
// carry confirm's optional alias overrides (§4.8); all three are nil for
// a confirmation with no overrides (e.g. an auto-match batch approval).
type Learner interface {
	OnMatchConfirmed(ctx context.Context, userID uuid.UUID, match *models.ReceiptTransactionMatch, vendorDescription string, overrideDisplayName, overrideGL, overrideDept *string)
}

// Config bundles the matching thresholds of §6.
type Config struct {
	MinConfidence  float64 // MIN_CONFIDENCE, e.g. 70
	AmbiguousGap   float64 // AMBIGUOUS_GAP, e.g. 5
	AmountExact    decimal.Decimal
	AmountNear     decimal.Decimal
	FuzzyThreshold float64
	DateWindowDays int
}

// Engine is C8.
type Engine struct {
	store   Store
	aliases AliasFinder
	learner Learner
	locks   *PassLock
	cfg     Config
}

// New creates a matching engine.
func New(store Store, aliases AliasFinder, learner Learner, cfg Config) *Engine {
	return &Engine{store: store, aliases: aliases, learner: learner, locks: NewPassLock(), cfg: cfg}
}

// proposal is one scored candidate surviving the MIN_CONFIDENCE filter.
type proposal struct {
	transactionID *uuid.UUID
	groupID       *uuid.UUID
	score         Score
}

// PassResult is the outcome of one AutoMatchPass call (§6's run_auto_match).
type PassResult struct {
	Matches    []models.ReceiptTransactionMatch
	Processed  int
	Ambiguous  int
	DurationMs int64
}

// AutoMatchPass scores every unmatched receipt for userID against its
// candidate pool and emits Proposed matches for unambiguous winners. It is
// a single-writer critical section per user (§5): concurrent passes for
// the same user are serialized; passes for different users run in
// parallel.
func (e *Engine) AutoMatchPass(ctx context.Context, userID uuid.UUID) (PassResult, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	start := time.Now()
	result := PassResult{}

	receipts, err := e.store.UnmatchedReceipts(ctx, userID)
	if err != nil {
		return result, apperr.TransientFault("fetch_unmatched_receipts_failed", "could not fetch unmatched receipts").WithCause(err)
	}

	consumedTx := map[uuid.UUID]bool{}
	consumedGroup := map[uuid.UUID]bool{}

	for i := range receipts {
		receipt := &receipts[i]
		if receipt.AmountExtracted == nil || receipt.DateExtracted == nil {
			continue
		}
		result.Processed++

		winner, ambiguous, err := e.scoreOneReceipt(ctx, userID, receipt, consumedTx, consumedGroup)
		if err != nil {
			result.DurationMs = time.Since(start).Milliseconds()
			return result, err
		}
		if ambiguous {
			result.Ambiguous++
		}
		if winner == nil {
			continue
		}

		match, err := e.proposeMatch(ctx, userID, receipt, winner)
		if err != nil {
			result.DurationMs = time.Since(start).Milliseconds()
			return result, err
		}
		result.Matches = append(result.Matches, *match)

		if winner.transactionID != nil {
			consumedTx[*winner.transactionID] = true
		}
		if winner.groupID != nil {
			consumedGroup[*winner.groupID] = true
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// scoreOneReceipt returns the winning candidate for receipt, if any, plus
// whether the best and runner-up were within AMBIGUOUS_GAP of each other
// (in which case winner is nil: an ambiguous receipt gets no proposal).
func (e *Engine) scoreOneReceipt(ctx context.Context, userID uuid.UUID, receipt *models.Receipt, consumedTx, consumedGroup map[uuid.UUID]bool) (*proposal, bool, error) {
	dateFrom := receipt.DateExtracted.AddDate(0, 0, -e.cfg.DateWindowDays)
	dateTo := receipt.DateExtracted.AddDate(0, 0, e.cfg.DateWindowDays)

	txs, err := e.store.UnmatchedTransactions(ctx, userID, dateFrom, dateTo)
	if err != nil {
		return nil, false, apperr.TransientFault("fetch_unmatched_transactions_failed", "could not fetch unmatched transactions").WithCause(err)
	}
	groups, err := e.store.UnmatchedGroups(ctx, userID, dateFrom, dateTo)
	if err != nil {
		return nil, false, apperr.TransientFault("fetch_unmatched_groups_failed", "could not fetch unmatched groups").WithCause(err)
	}

	receiptIn := ScoreInput{Amount: *receipt.AmountExtracted, Date: *receipt.DateExtracted}
	if receipt.VendorExtracted != nil {
		receiptIn.Vendor = *receipt.VendorExtracted
	}

	var best, runnerUp *proposal

	considerCandidate := func(score Score, txID, groupID *uuid.UUID) {
		p := &proposal{transactionID: txID, groupID: groupID, score: score}
		if best == nil || p.score.Total() > best.score.Total() {
			runnerUp = best
			best = p
		} else if runnerUp == nil || p.score.Total() > runnerUp.score.Total() {
			runnerUp = p
		}
	}

	for i := range txs {
		tx := &txs[i]
		if consumedTx[tx.ID] {
			continue
		}
		if !withinNearTolerance(receiptIn.Amount, tx.Amount, e.cfg.AmountNear) {
			continue
		}
		score := e.scoreAgainst(ctx, userID, receiptIn, tx.Description, tx.Amount, tx.TransactionDate, fuzzyvendor.CanonicalPattern(tx.Description))
		if score.Total() < int(e.cfg.MinConfidence) {
			continue
		}
		id := tx.ID
		considerCandidate(score, &id, nil)
	}

	for i := range groups {
		g := &groups[i]
		if consumedGroup[g.ID] {
			continue
		}
		if !withinNearTolerance(receiptIn.Amount, g.CombinedAmount, e.cfg.AmountNear) {
			continue
		}
		score := e.scoreAgainst(ctx, userID, receiptIn, g.Name, g.CombinedAmount, g.DisplayDate, fuzzyvendor.CanonicalGroupPattern(g.Name))
		if score.Total() < int(e.cfg.MinConfidence) {
			continue
		}
		id := g.ID
		considerCandidate(score, nil, &id)
	}

	if best == nil {
		return nil, false, nil
	}
	if runnerUp != nil && float64(best.score.Total()-runnerUp.score.Total()) <= e.cfg.AmbiguousGap {
		return nil, true, nil
	}
	return best, false, nil
}

func (e *Engine) scoreAgainst(ctx context.Context, userID uuid.UUID, receiptIn ScoreInput, candidateDescription string, candidateAmount decimal.Decimal, candidateDate time.Time, candidatePattern string) Score {
	amountScore := AmountScore(receiptIn.Amount, candidateAmount, e.cfg.AmountExact, e.cfg.AmountNear)
	dateScore := DateScore(receiptIn.Date, candidateDate)

	aliasCanonicalName := ""
	if e.aliases != nil {
		if alias, err := e.aliases.Find(ctx, userID, candidateDescription); err == nil && alias != nil {
			aliasCanonicalName = alias.CanonicalName
		}
	}
	vendorScore := VendorScore(receiptIn.Vendor, aliasCanonicalName, candidatePattern, e.cfg.FuzzyThreshold)

	return Score{Amount: amountScore, Date: dateScore, Vendor: vendorScore}
}

func withinNearTolerance(receiptAmount, candidateAmount, nearTolerance decimal.Decimal) bool {
	return receiptAmount.Sub(candidateAmount.Abs()).Abs().LessThanOrEqual(nearTolerance)
}

func (e *Engine) proposeMatch(ctx context.Context, userID uuid.UUID, receipt *models.Receipt, winner *proposal) (*models.ReceiptTransactionMatch, error) {
	match := &models.ReceiptTransactionMatch{
		ID:                 uuid.New(),
		UserID:             userID,
		ReceiptID:          receipt.ID,
		TransactionID:      winner.transactionID,
		TransactionGroupID: winner.groupID,
		Status:             models.StatusProposed,
		ConfidenceScore:    float64(winner.score.Total()),
		AmountScore:        float64(winner.score.Amount),
		DateScore:          float64(winner.score.Date),
		VendorScore:        float64(winner.score.Vendor),
	}
	if err := e.store.CreateMatch(ctx, match); err != nil {
		return nil, apperr.TransientFault("create_match_failed", "could not create proposed match").WithCause(err)
	}
	if err := e.store.UpdateReceiptStatus(ctx, receipt.ID, models.StatusProposed, nil); err != nil {
		return nil, apperr.TransientFault("update_receipt_status_failed", "could not mark receipt proposed").WithCause(err)
	}
	if winner.groupID != nil {
		if err := e.store.UpdateGroupStatus(ctx, *winner.groupID, models.StatusProposed); err != nil {
			return nil, apperr.TransientFault("update_group_status_failed", "could not mark group proposed").WithCause(err)
		}
	}
	return match, nil
}

// Confirm implements §4.8's confirm operation: only a Proposed match may
// be confirmed. Overrides apply to the created/updated alias, not the
// match record itself.
func (e *Engine) Confirm(ctx context.Context, matchID, userID uuid.UUID, overrideDisplayName, overrideGL, overrideDept *string) (*models.ReceiptTransactionMatch, error) {
	match, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, apperr.TransientFault("get_match_failed", "could not load match").WithCause(err)
	}
	if match == nil {
		return nil, apperr.NotFound("match_not_found", "match does not exist")
	}
	if match.Status != models.StatusProposed {
		return nil, apperr.InvalidState("match_not_proposed", "only a Proposed match can be confirmed")
	}

	now := time.Now().UTC()
	if err := e.store.UpdateMatchStatus(ctx, matchID, models.StatusConfirmed, &now, &userID); err != nil {
		return nil, apperr.TransientFault("confirm_match_failed", "could not confirm match").WithCause(err)
	}
	if err := e.store.UpdateReceiptStatus(ctx, match.ReceiptID, models.StatusMatched, targetID(match)); err != nil {
		return nil, apperr.TransientFault("update_receipt_status_failed", "could not mark receipt matched").WithCause(err)
	}
	if match.TransactionID != nil {
		if err := e.store.UpdateTransactionStatus(ctx, *match.TransactionID, models.StatusMatched); err != nil {
			return nil, apperr.TransientFault("update_transaction_status_failed", "could not mark transaction matched").WithCause(err)
		}
	}
	if match.TransactionGroupID != nil {
		if err := e.store.UpdateGroupStatus(ctx, *match.TransactionGroupID, models.StatusMatched); err != nil {
			return nil, apperr.TransientFault("update_group_status_failed", "could not mark group matched").WithCause(err)
		}
	}

	match.Status = models.StatusConfirmed
	match.ConfirmedAt = &now
	match.ConfirmedByUserID = &userID

	if e.learner != nil {
		description, derr := e.descriptionFor(ctx, match)
		if derr == nil {
			e.learner.OnMatchConfirmed(ctx, userID, match, description, overrideDisplayName, overrideGL, overrideDept)
		}
	}

	return match, nil
}

func (e *Engine) descriptionFor(ctx context.Context, match *models.ReceiptTransactionMatch) (string, error) {
	if match.TransactionID != nil {
		tx, err := e.store.GetTransaction(ctx, *match.TransactionID)
		if err != nil || tx == nil {
			return "", err
		}
		return tx.Description, nil
	}
	if match.TransactionGroupID != nil {
		g, err := e.store.GetGroup(ctx, *match.TransactionGroupID)
		if err != nil || g == nil {
			return "", err
		}
		return g.Name, nil
	}
	return "", nil
}

func targetID(match *models.ReceiptTransactionMatch) *uuid.UUID {
	if match.TransactionID != nil {
		return match.TransactionID
	}
	return match.TransactionGroupID
}

// Reject implements §4.8's reject operation.
func (e *Engine) Reject(ctx context.Context, matchID, userID uuid.UUID) error {
	match, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return apperr.TransientFault("get_match_failed", "could not load match").WithCause(err)
	}
	if match == nil {
		return apperr.NotFound("match_not_found", "match does not exist")
	}
	if match.Status != models.StatusProposed {
		return apperr.InvalidState("match_not_proposed", "only a Proposed match can be rejected")
	}

	if err := e.store.UpdateMatchStatus(ctx, matchID, models.StatusRejected, nil, nil); err != nil {
		return apperr.TransientFault("reject_match_failed", "could not reject match").WithCause(err)
	}
	if err := e.store.UpdateReceiptStatus(ctx, match.ReceiptID, models.StatusUnmatched, nil); err != nil {
		return apperr.TransientFault("update_receipt_status_failed", "could not mark receipt unmatched").WithCause(err)
	}
	if match.TransactionGroupID != nil {
		if err := e.store.UpdateGroupStatus(ctx, *match.TransactionGroupID, models.StatusUnmatched); err != nil {
			return apperr.TransientFault("update_group_status_failed", "could not mark group unmatched").WithCause(err)
		}
	}
	return nil
}

// ManualMatch implements §4.8's manual_match operation: allowed only when
// both sides are Unmatched, and always 100% confidence with zero
// component scores.
func (e *Engine) ManualMatch(ctx context.Context, userID, receiptID uuid.UUID, transactionID, groupID *uuid.UUID) (*models.ReceiptTransactionMatch, error) {
	receipt, err := e.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, apperr.TransientFault("get_receipt_failed", "could not load receipt").WithCause(err)
	}
	if receipt == nil {
		return nil, apperr.NotFound("receipt_not_found", "receipt does not exist")
	}
	if receipt.MatchStatus != models.StatusUnmatched {
		return nil, apperr.InvalidState("receipt_not_unmatched", "receipt is not Unmatched")
	}

	if transactionID != nil {
		tx, err := e.store.GetTransaction(ctx, *transactionID)
		if err != nil {
			return nil, apperr.TransientFault("get_transaction_failed", "could not load transaction").WithCause(err)
		}
		if tx == nil || tx.MatchStatus != models.StatusUnmatched {
			return nil, apperr.InvalidState("transaction_not_unmatched", "transaction is not Unmatched")
		}
	} else if groupID != nil {
		g, err := e.store.GetGroup(ctx, *groupID)
		if err != nil {
			return nil, apperr.TransientFault("get_group_failed", "could not load group").WithCause(err)
		}
		if g == nil || g.MatchStatus != models.StatusUnmatched {
			return nil, apperr.InvalidState("group_not_unmatched", "group is not Unmatched")
		}
	} else {
		return nil, apperr.Validation("manual_match_target_required", "either a transaction or a group is required")
	}

	now := time.Now().UTC()
	match := &models.ReceiptTransactionMatch{
		ID:                 uuid.New(),
		UserID:             userID,
		ReceiptID:          receiptID,
		TransactionID:      transactionID,
		TransactionGroupID: groupID,
		Status:             models.StatusConfirmed,
		ConfidenceScore:    100,
		IsManualMatch:      true,
		ConfirmedAt:        &now,
		ConfirmedByUserID:  &userID,
	}
	if err := e.store.CreateMatch(ctx, match); err != nil {
		return nil, apperr.TransientFault("create_match_failed", "could not create manual match").WithCause(err)
	}
	if err := e.store.UpdateReceiptStatus(ctx, receiptID, models.StatusMatched, targetID(match)); err != nil {
		return nil, apperr.TransientFault("update_receipt_status_failed", "could not mark receipt matched").WithCause(err)
	}
	if transactionID != nil {
		if err := e.store.UpdateTransactionStatus(ctx, *transactionID, models.StatusMatched); err != nil {
			return nil, apperr.TransientFault("update_transaction_status_failed", "could not mark transaction matched").WithCause(err)
		}
	}
	if groupID != nil {
		if err := e.store.UpdateGroupStatus(ctx, *groupID, models.StatusMatched); err != nil {
			return nil, apperr.TransientFault("update_group_status_failed", "could not mark group matched").WithCause(err)
		}
	}

	if e.learner != nil {
		description, derr := e.descriptionFor(ctx, match)
		if derr == nil {
			e.learner.OnMatchConfirmed(ctx, userID, match, description, nil, nil, nil)
		}
	}

	return match, nil
}

// Candidate is one ranked match candidate for a receipt, surfaced for
// manual review rather than auto-proposed (list_candidates, §6).
type Candidate struct {
	TransactionID *uuid.UUID
	GroupID       *uuid.UUID
	Score         Score
}

// Candidates returns up to limit candidates for receiptID ranked by total
// score descending, without creating a match or applying the MIN_CONFIDENCE
// / ambiguous-gap filters AutoMatchPass applies — the caller picks.
func (e *Engine) Candidates(ctx context.Context, userID, receiptID uuid.UUID, limit int) ([]Candidate, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	receipt, err := e.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, apperr.TransientFault("get_receipt_failed", "could not load receipt").WithCause(err)
	}
	if receipt == nil {
		return nil, apperr.NotFound("receipt_not_found", "receipt does not exist")
	}
	if receipt.AmountExtracted == nil || receipt.DateExtracted == nil {
		return nil, apperr.Validation("receipt_missing_extraction", "receipt has no extracted amount or date").WithField("receipt_id")
	}

	dateFrom := receipt.DateExtracted.AddDate(0, 0, -e.cfg.DateWindowDays)
	dateTo := receipt.DateExtracted.AddDate(0, 0, e.cfg.DateWindowDays)

	txs, err := e.store.UnmatchedTransactions(ctx, userID, dateFrom, dateTo)
	if err != nil {
		return nil, apperr.TransientFault("fetch_unmatched_transactions_failed", "could not fetch unmatched transactions").WithCause(err)
	}
	groups, err := e.store.UnmatchedGroups(ctx, userID, dateFrom, dateTo)
	if err != nil {
		return nil, apperr.TransientFault("fetch_unmatched_groups_failed", "could not fetch unmatched groups").WithCause(err)
	}

	receiptIn := ScoreInput{Amount: *receipt.AmountExtracted, Date: *receipt.DateExtracted}
	if receipt.VendorExtracted != nil {
		receiptIn.Vendor = *receipt.VendorExtracted
	}

	var candidates []Candidate
	for i := range txs {
		tx := &txs[i]
		if !withinNearTolerance(receiptIn.Amount, tx.Amount, e.cfg.AmountNear) {
			continue
		}
		score := e.scoreAgainst(ctx, userID, receiptIn, tx.Description, tx.Amount, tx.TransactionDate, fuzzyvendor.CanonicalPattern(tx.Description))
		id := tx.ID
		candidates = append(candidates, Candidate{TransactionID: &id, Score: score})
	}
	for i := range groups {
		g := &groups[i]
		if !withinNearTolerance(receiptIn.Amount, g.CombinedAmount, e.cfg.AmountNear) {
			continue
		}
		score := e.scoreAgainst(ctx, userID, receiptIn, g.Name, g.CombinedAmount, g.DisplayDate, fuzzyvendor.CanonicalGroupPattern(g.Name))
		id := g.ID
		candidates = append(candidates, Candidate{GroupID: &id, Score: score})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score.Total() > candidates[j].Score.Total() })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// BatchApprove implements §4.8's batch_approve operation: partial
// failures are counted and skipped, successful confirmations commit.
func (e *Engine) BatchApprove(ctx context.Context, userID uuid.UUID, minConfidence *float64, explicitIDs []uuid.UUID) (approved int, failed int, err error) {
	candidates, err := e.store.ProposedMatches(ctx, userID, minConfidence, explicitIDs)
	if err != nil {
		return 0, 0, apperr.TransientFault("fetch_proposed_matches_failed", "could not fetch proposed matches").WithCause(err)
	}

	for i := range candidates {
		if _, err := e.Confirm(ctx, candidates[i].ID, userID, nil, nil, nil); err != nil {
			failed++
			continue
		}
		approved++
	}
	return approved, failed, nil
}
