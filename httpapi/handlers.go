package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/apperr"
	"github.com/expensecore/expense-engine/middleware"
	"github.com/expensecore/expense-engine/models"
	"github.com/expensecore/expense-engine/tierrouter"
)

func requestUserID(r *http.Request) (uuid.UUID, error) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		return uuid.Nil, apperr.ServiceUnavailable("missing_user_context", "request was not authenticated")
	}
	return userID, nil
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid_id", "path parameter is not a valid identifier").WithField(param)
	}
	return id, nil
}

// --- normalize ---

type normalizeRequest struct {
	Raw           string     `json:"raw"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
}

type normalizeResponse struct {
	Normalized string  `json:"normalized"`
	Tier       int     `json:"tier"`
	Confidence float64 `json:"confidence"`
	CacheHit   bool    `json:"cache_hit"`
}

func handleNormalize(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req normalizeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.Raw == "" {
			writeError(w, apperr.Validation("raw_required", "raw is required").WithField("raw"))
			return
		}

		result := d.TierRouter.ResolveNormalization(r.Context(), userID, req.TransactionID, req.Raw)
		if d.Metrics != nil {
			d.Metrics.TrackResolve("normalization", int(result.Tier), result.Tier == models.Tier1, float64(result.Latency.Milliseconds()))
		}
		writeJSON(w, http.StatusOK, normalizeResponse{
			Normalized: result.Value,
			Tier:       int(result.Tier),
			Confidence: result.Confidence,
			CacheHit:   result.Tier == models.Tier1,
		})
	}
}

// --- suggestions ---

type suggestRequest struct {
	TransactionID          *uuid.UUID `json:"transaction_id,omitempty"`
	NormalizedDescription   string     `json:"normalized_description"`
}

type suggestion struct {
	Value      string  `json:"value"`
	Tier       int     `json:"tier"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

type suggestResponse struct {
	Suggestions []suggestion `json:"suggestions"`
}

func sourceForTier(tier models.Tier) string {
	switch tier {
	case models.Tier1:
		return "vendor_alias"
	case models.Tier2:
		return "embedding"
	case models.Tier3:
		return "ai"
	default:
		return "none"
	}
}

func handleSuggest(d *Deps, field tierrouter.CategorizationField) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req suggestRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.NormalizedDescription == "" {
			writeError(w, apperr.Validation("normalized_description_required", "normalized_description is required").WithField("normalized_description"))
			return
		}

		primary := d.TierRouter.ResolveCategorization(r.Context(), userID, req.TransactionID, field, req.NormalizedDescription)
		if d.Metrics != nil {
			d.Metrics.TrackResolve(string(categorizationOperation(field)), int(primary.Tier), primary.Tier == models.Tier1, float64(primary.Latency.Milliseconds()))
		}
		suggestions := []suggestion{{
			Value:      primary.Value,
			Tier:       int(primary.Tier),
			Confidence: primary.Confidence,
			Source:     sourceForTier(primary.Tier),
		}}

		if primary.Tier != models.Tier1 && d.Vectors != nil {
			if vec, err := d.Vectors.Embed(r.Context(), req.NormalizedDescription); err == nil {
				requireGLOrDept := true
				for _, entry := range d.Vectors.TopK(r.Context(), userID, vec, 5, d.Config.EmbedSimilarityThreshold, requireGLOrDept) {
					value, ok := embeddingFieldValue(&entry.Embedding, field)
					if !ok || value == primary.Value {
						continue
					}
					suggestions = append(suggestions, suggestion{
						Value:      value,
						Tier:       int(models.Tier2),
						Confidence: entry.Similarity,
						Source:     "embedding",
					})
				}
			}
		}

		writeJSON(w, http.StatusOK, suggestResponse{Suggestions: suggestions})
	}
}

func categorizationOperation(field tierrouter.CategorizationField) models.OperationType {
	if field == tierrouter.FieldDepartment {
		return models.OpCategorizationDept
	}
	return models.OpCategorizationGL
}

func embeddingFieldValue(e *models.ExpenseEmbedding, field tierrouter.CategorizationField) (string, bool) {
	if field == tierrouter.FieldDepartment {
		if e.Department == nil {
			return "", false
		}
		return *e.Department, true
	}
	if e.GLCode == nil {
		return "", false
	}
	return *e.GLCode, true
}

// --- confirm categorization ---

type confirmCategorizationRequest struct {
	TransactionID    *uuid.UUID `json:"transaction_id,omitempty"`
	Description      string     `json:"description"`
	VendorNormalized *string    `json:"vendor_normalized,omitempty"`
	GLCode           *string    `json:"gl_code,omitempty"`
	Department       *string    `json:"department,omitempty"`
	AcceptedSuggestion bool     `json:"accepted_suggestion"`
}

type confirmCategorizationResponse struct {
	EmbeddingCreated bool   `json:"embedding_created"`
	AliasUpdated     bool   `json:"alias_updated"`
	Message          string `json:"message"`
}

func handleConfirmCategorization(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req confirmCategorizationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.Description == "" {
			writeError(w, apperr.Validation("description_required", "description is required").WithField("description"))
			return
		}

		if d.Learning != nil {
			d.Learning.OnLineEdit(r.Context(), userID, req.TransactionID, req.Description, req.VendorNormalized, req.GLCode, req.Department)
		}

		writeJSON(w, http.StatusOK, confirmCategorizationResponse{
			EmbeddingCreated: true,
			AliasUpdated:     req.GLCode != nil || req.Department != nil,
			Message:          "categorization recorded",
		})
	}
}

// --- auto match ---

type autoMatchRequest struct {
	ReceiptIDs []uuid.UUID `json:"receipt_ids,omitempty"`
}

type matchProposal struct {
	MatchID        uuid.UUID  `json:"match_id"`
	ReceiptID      uuid.UUID  `json:"receipt_id"`
	TransactionID  *uuid.UUID `json:"transaction_id,omitempty"`
	GroupID        *uuid.UUID `json:"group_id,omitempty"`
	ConfidenceScore float64   `json:"confidence_score"`
}

type autoMatchResponse struct {
	Proposed               int             `json:"proposed"`
	Processed              int             `json:"processed"`
	Ambiguous              int             `json:"ambiguous"`
	DurationMs             int64           `json:"duration_ms"`
	Proposals              []matchProposal `json:"proposals"`
	TransactionMatchCount  int             `json:"transaction_match_count"`
	GroupMatchCount        int             `json:"group_match_count"`
}

func handleAutoMatch(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		// receipt_ids is accepted for request-shape compatibility; the
		// current pass always scores every unmatched receipt for the user.
		var req autoMatchRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, err)
				return
			}
		}

		result, err := d.Matching.AutoMatchPass(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		if d.Metrics != nil {
			d.Metrics.TrackMatchingPass(len(result.Matches), result.Processed, result.Ambiguous, float64(result.DurationMs))
		}

		proposals := make([]matchProposal, 0, len(result.Matches))
		txCount, groupCount := 0, 0
		for _, m := range result.Matches {
			proposals = append(proposals, matchProposal{
				MatchID: m.ID, ReceiptID: m.ReceiptID, TransactionID: m.TransactionID,
				GroupID: m.TransactionGroupID, ConfidenceScore: m.ConfidenceScore,
			})
			if m.IsGroupMatch() {
				groupCount++
			} else {
				txCount++
			}
		}

		writeJSON(w, http.StatusOK, autoMatchResponse{
			Proposed: len(result.Matches), Processed: result.Processed, Ambiguous: result.Ambiguous,
			DurationMs: result.DurationMs, Proposals: proposals,
			TransactionMatchCount: txCount, GroupMatchCount: groupCount,
		})
	}
}

// --- confirm / reject / manual / batch / candidates ---

type confirmMatchRequest struct {
	OverrideDisplayName *string `json:"override_display_name,omitempty"`
	OverrideGLCode       *string `json:"override_gl_code,omitempty"`
	OverrideDepartment   *string `json:"override_department,omitempty"`
}

func handleConfirmMatch(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		matchID, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}
		var req confirmMatchRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, err)
				return
			}
		}

		match, err := d.Matching.Confirm(r.Context(), matchID, userID, req.OverrideDisplayName, req.OverrideGLCode, req.OverrideDepartment)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, match)
	}
}

func handleRejectMatch(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		matchID, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}
		if err := d.Matching.Reject(r.Context(), matchID, userID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	}
}

type manualMatchRequest struct {
	ReceiptID     uuid.UUID  `json:"receipt_id"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	GroupID       *uuid.UUID `json:"group_id,omitempty"`
}

func handleManualMatch(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req manualMatchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.ReceiptID == uuid.Nil {
			writeError(w, apperr.Validation("receipt_id_required", "receipt_id is required").WithField("receipt_id"))
			return
		}

		match, err := d.Matching.ManualMatch(r.Context(), userID, req.ReceiptID, req.TransactionID, req.GroupID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, match)
	}
}

type batchApproveRequest struct {
	MinConfidence *float64    `json:"min_confidence,omitempty"`
	MatchIDs      []uuid.UUID `json:"match_ids,omitempty"`
}

type batchApproveResponse struct {
	Approved int `json:"approved"`
	Failed   int `json:"failed"`
}

func handleBatchApprove(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req batchApproveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}

		approved, failed, err := d.Matching.BatchApprove(r.Context(), userID, req.MinConfidence, req.MatchIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, batchApproveResponse{Approved: approved, Failed: failed})
	}
}

type candidateDTO struct {
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	GroupID       *uuid.UUID `json:"group_id,omitempty"`
	Score         int        `json:"score"`
	AmountScore   int        `json:"amount_score"`
	DateScore     int        `json:"date_score"`
	VendorScore   int        `json:"vendor_score"`
}

func handleListCandidates(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		receiptID, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if parsed, perr := parsePositiveInt(v); perr == nil {
				limit = parsed
			}
		}

		candidates, err := d.Matching.Candidates(r.Context(), userID, receiptID, limit)
		if err != nil {
			writeError(w, err)
			return
		}

		dtos := make([]candidateDTO, 0, len(candidates))
		for _, c := range candidates {
			dtos = append(dtos, candidateDTO{
				TransactionID: c.TransactionID, GroupID: c.GroupID,
				Score: c.Score.Total(), AmountScore: c.Score.Amount,
				DateScore: c.Score.Date, VendorScore: c.Score.Vendor,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"candidates": dtos})
	}
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, apperr.Validation("invalid_limit", "limit must be a positive integer").WithField("limit")
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, apperr.Validation("invalid_limit", "limit must be a positive integer").WithField("limit")
	}
	return n, nil
}

// --- statement resolution ---

type resolveStatementRequest struct {
	SourceName string     `json:"source_name"`
	Headers    []string   `json:"headers"`
	SampleRows [][]string `json:"sample_rows"`
}

type resolveStatementResponse struct {
	Mapping                  map[string]string    `json:"mapping"`
	DateFormat               string                `json:"date_format"`
	AmountSign               models.AmountSign     `json:"amount_sign"`
	Confidence               float64               `json:"confidence"`
	FromCache                bool                  `json:"from_cache"`
	RequiresUserConfirmation bool                  `json:"requires_user_confirmation"`
}

func handleResolveStatement(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req resolveStatementRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if len(req.Headers) == 0 {
			writeError(w, apperr.Validation("headers_required", "headers is required").WithField("headers"))
			return
		}

		outcome, err := d.Fingerprint.Resolve(r.Context(), userID, req.SourceName, req.Headers, req.SampleRows)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, resolveStatementResponse{
			Mapping: outcome.Mapping, DateFormat: outcome.DateFormat, AmountSign: outcome.AmountSign,
			Confidence: outcome.Confidence, FromCache: outcome.FromCache,
			RequiresUserConfirmation: outcome.Confidence < 1,
		})
	}
}

// --- usage / cache stats ---

func handleTierUsage(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		from, to, err := parseRange(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var operation *models.OperationType
		if v := r.URL.Query().Get("operation"); v != "" {
			op := models.OperationType(v)
			operation = &op
		}

		agg, err := d.Meter.Report(r.Context(), userID, from, to, operation)
		if err != nil {
			writeError(w, err)
			return
		}
		candidates, err := d.Meter.VendorPromotionCandidates(r.Context(), userID, from, to)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"totals":            agg,
			"by_operation":      agg.ByOperation,
			"vendor_candidates": candidates,
		})
	}
}

func handleCacheStats(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		from, to, err := parseRange(r)
		if err != nil {
			writeError(w, err)
			return
		}

		agg, err := d.Meter.Report(r.Context(), userID, from, to, nil)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"cache_hit_rate": agg.Tier1Rate,
			"total_calls":    agg.Total,
			"dropped":        d.Meter.Dropped(),
		})
	}
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, -1, 0)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("invalid_from", "from must be RFC3339").WithField("from")
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("invalid_to", "to must be RFC3339").WithField("to")
		}
		to = parsed
	}
	return from, to, nil
}
