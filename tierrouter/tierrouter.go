// Package tierrouter implements C4: the tiered fallthrough engine that
// tries the hash index, then the vector index or alias registry, then the
// AI adapter, recording exactly one usage row per call. The Engine shape
// (struct holding its collaborators plus a logger, single evaluation
// entrypoint, monotonic-clock latency measurement) is adapted from the
// gateway's routing.Engine; the rule-list/priority machinery there is
// replaced by the fixed, operation-specific tier order §4.4 specifies.
package tierrouter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/expensecore/expense-engine/apperr"
	"github.com/expensecore/expense-engine/hashindex"
	"github.com/expensecore/expense-engine/models"
	"github.com/expensecore/expense-engine/vectorindex"
)

// HashLookup is the tier-1/tier-3 backing store for normalization.
type HashLookup interface {
	Lookup(ctx context.Context, hash string) (*string, error)
	Insert(ctx context.Context, hash, rawText, canonicalText string) error
}

// AliasFinder is the tier-1 backing store for categorization.
type AliasFinder interface {
	Find(ctx context.Context, description string) (*models.VendorAlias, error)
}

// SimilarityIndex is the tier-2 backing store for categorization.
type SimilarityIndex interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	TopK(ctx context.Context, userID uuid.UUID, vec []float32, k int, threshold float64, requireGLOrDept bool) []vectorindex.Entry
}

// AIInvoker is the tier-3 backing service, shared by every operation.
type AIInvoker interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// UsageLogger records one TierUsageLog row per resolve call (C9). Failures
// are logged but never propagate — metering must never block a resolve.
type UsageLogger interface {
	Log(ctx context.Context, entry models.TierUsageLog)
}

// Engine is C4.
type Engine struct {
	hashes   HashLookup
	aliases  AliasFinder
	similar  SimilarityIndex
	ai       AIInvoker
	usage    UsageLogger
	simTopK  float64
	logger   zerolog.Logger
}

// New creates a tier router. similarityThreshold is EMBED_SIMILARITY_THRESHOLD.
func New(hashes HashLookup, aliases AliasFinder, similar SimilarityIndex, ai AIInvoker, usage UsageLogger, similarityThreshold float64, logger zerolog.Logger) *Engine {
	return &Engine{
		hashes:  hashes,
		aliases: aliases,
		similar: similar,
		ai:      ai,
		usage:   usage,
		simTopK: similarityThreshold,
		logger:  logger.With().Str("component", "tier_router").Logger(),
	}
}

// Result is the outcome of one resolve call.
type Result struct {
	Value      string
	Tier       models.Tier
	Confidence float64
	Latency    time.Duration
}

// ResolveNormalization implements the Normalization operation of §4.4:
// tier 1 hash lookup, tier 3 AI invoke + insert. There is no tier 2.
func (e *Engine) ResolveNormalization(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, raw string) Result {
	start := time.Now()
	hash := hashindex.Hash(raw)

	if canonical, err := e.hashes.Lookup(ctx, hash); err == nil && canonical != nil {
		return e.finish(ctx, userID, transactionID, models.OpNormalization, Result{
			Value: *canonical, Tier: models.Tier1, Confidence: 1.0, Latency: time.Since(start),
		})
	} else if err != nil {
		e.logger.Warn().Err(err).Msg("tier 1 normalization lookup failed, falling through")
	}

	text, err := e.ai.Invoke(ctx, normalizerSystemPrompt, raw, 256, 0.1)
	if err != nil {
		e.logger.Warn().Err(err).Msg("tier 3 normalization invoke failed")
		return e.finish(ctx, userID, transactionID, models.OpNormalization, Result{
			Tier: models.TierDegraded, Confidence: 0, Latency: time.Since(start),
		})
	}

	if insertErr := e.hashes.Insert(ctx, hash, raw, text); insertErr != nil {
		e.logger.Warn().Err(insertErr).Msg("failed to persist tier 3 normalization result")
	}

	return e.finish(ctx, userID, transactionID, models.OpNormalization, Result{
		Value: text, Tier: models.Tier3, Confidence: 0.85, Latency: time.Since(start),
	})
}

const normalizerSystemPrompt = `You normalize noisy bank/card statement descriptions into a clean, ` +
	`human-readable merchant name. Respond with only the normalized name, no explanation.`

// CategorizationField selects which field of a VendorAlias/embedding the
// categorization resolve call is filling in.
type CategorizationField int

const (
	FieldGLCode CategorizationField = iota
	FieldDepartment
)

// ResolveCategorization implements the Categorization operation of §4.4.
func (e *Engine) ResolveCategorization(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, field CategorizationField, normalizedDescription string) Result {
	start := time.Now()
	op := models.OpCategorizationGL
	if field == FieldDepartment {
		op = models.OpCategorizationDept
	}

	if alias, err := e.aliases.Find(ctx, normalizedDescription); err == nil && alias != nil {
		value, ok := aliasFieldValue(alias, field)
		if ok {
			return e.finish(ctx, userID, transactionID, op, Result{
				Value: value, Tier: models.Tier1, Confidence: 0.95, Latency: time.Since(start),
			})
		}
	} else if err != nil {
		e.logger.Warn().Err(err).Msg("tier 1 categorization lookup failed, falling through")
	}

	if e.similar != nil {
		if vec, err := e.similar.Embed(ctx, normalizedDescription); err == nil {
			entries := e.similar.TopK(ctx, userID, vec, 1, e.simTopK, true)
			if len(entries) > 0 {
				value, ok := embeddingFieldValue(&entries[0].Embedding, field)
				if ok {
					confidence := 0.80
					if entries[0].Embedding.Verified {
						confidence = 0.90
					}
					return e.finish(ctx, userID, transactionID, op, Result{
						Value: value, Tier: models.Tier2, Confidence: confidence, Latency: time.Since(start),
					})
				}
			}
		} else {
			e.logger.Warn().Err(err).Msg("tier 2 embed failed, falling through")
		}
	}

	text, err := e.ai.Invoke(ctx, categorizationSystemPrompt(field), normalizedDescription, 128, 0.1)
	if err != nil || text == "" {
		if err != nil {
			e.logger.Warn().Err(err).Msg("tier 3 categorization invoke failed")
		}
		return e.finish(ctx, userID, transactionID, op, Result{
			Tier: models.TierDegraded, Confidence: 0, Latency: time.Since(start),
		})
	}

	return e.finish(ctx, userID, transactionID, op, Result{
		Value: text, Tier: models.Tier3, Confidence: 0.70, Latency: time.Since(start),
	})
}

func categorizationSystemPrompt(field CategorizationField) string {
	if field == FieldDepartment {
		return `You assign an expense department code for a normalized transaction description. ` +
			`Respond with only the department code.`
	}
	return `You assign a general-ledger code for a normalized transaction description. ` +
		`Respond with only the GL code.`
}

func aliasFieldValue(alias *models.VendorAlias, field CategorizationField) (string, bool) {
	if field == FieldDepartment {
		if alias.DefaultDepartment != nil {
			return *alias.DefaultDepartment, true
		}
		return "", false
	}
	if alias.DefaultGLCode != nil {
		return *alias.DefaultGLCode, true
	}
	return "", false
}

func embeddingFieldValue(e *models.ExpenseEmbedding, field CategorizationField) (string, bool) {
	if field == FieldDepartment {
		if e.Department != nil {
			return *e.Department, true
		}
		return "", false
	}
	if e.GLCode != nil {
		return *e.GLCode, true
	}
	return "", false
}

// finish stamps cache_hit (true iff tier 1) and emits the usage row.
func (e *Engine) finish(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, op models.OperationType, r Result) Result {
	var confidence *float64
	if r.Tier != models.TierDegraded {
		c := r.Confidence
		confidence = &c
	}
	if e.usage != nil {
		e.usage.Log(ctx, models.TierUsageLog{
			UserID:         userID,
			TransactionID:  transactionID,
			OperationType:  op,
			Tier:           r.Tier,
			Confidence:     confidence,
			ResponseTimeMs: r.Latency.Milliseconds(),
			CacheHit:       r.Tier == models.Tier1,
			CreatedAt:      time.Now().UTC(),
		})
	}
	return r
}

// ErrAllTiersFailed is returned by callers that choose to treat a
// TierDegraded result as an error rather than an empty-but-successful one.
var ErrAllTiersFailed = apperr.ServiceUnavailable("all_tiers_failed", "normalization/categorization failed at every tier")
