// Package fingerprint implements C7: recognizing a statement's column
// layout from its header row, learning new layouts via the AI adapter, and
// persisting what was learned so the next statement with the same header
// shape skips the AI call entirely. The hash/lookup/learn shape mirrors C1
// (hashindex.Index): a deterministic content address, a user-then-system
// lookup, and an AI-assisted fallback on miss.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/expensecore/expense-engine/apperr"
	"github.com/expensecore/expense-engine/models"
)

// knownFieldTypes is the closed set of column roles the AI may assign.
var knownFieldTypes = map[string]bool{
	"date": true, "post_date": true, "description": true, "amount": true,
	"category": true, "memo": true, "reference": true, "ignore": true,
}

// requiredFieldTypes must all be mapped for a full-confidence inference.
var requiredFieldTypes = []string{"date", "amount", "description"}

// Repo is the durable store behind the fingerprint resolver.
type Repo interface {
	Lookup(ctx context.Context, userID uuid.UUID, headerHash string) (*models.StatementFingerprint, error)
	TouchHit(ctx context.Context, fingerprintID uuid.UUID, now time.Time) error
	Insert(ctx context.Context, fp *models.StatementFingerprint) error
}

// AIInvoker is the C3 collaborator used on a miss.
type AIInvoker interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// Resolver is C7.
type Resolver struct {
	repo   Repo
	ai     AIInvoker
	logger zerolog.Logger
}

// New creates a fingerprint resolver.
func New(repo Repo, ai AIInvoker, logger zerolog.Logger) *Resolver {
	return &Resolver{repo: repo, ai: ai, logger: logger.With().Str("component", "fingerprint").Logger()}
}

// HeaderHash computes the content address of a header row: lowercase hex
// SHA-256 of the headers lowercased, trimmed, sorted, and joined with ",".
// Sorting makes the hash independent of column order, matching columns
// reshuffled across exports from the same source.
func HeaderHash(headers []string) string {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}
	sort.Strings(normalized)
	sum := sha256.Sum256([]byte(strings.Join(normalized, ",")))
	return hex.EncodeToString(sum[:])
}

// Outcome is the resolved column mapping plus the confidence it carries.
type Outcome struct {
	Mapping    map[string]string // original header casing -> field type
	DateFormat string
	AmountSign models.AmountSign
	Confidence float64
	FromCache  bool
}

// Resolve looks up a learned fingerprint for headers, preferring a
// user-specific one over a system-wide one; on a miss it infers one via the
// AI adapter from headers and up to 3 sample rows, and persists what it
// learned.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, sourceName string, headers []string, sampleRows [][]string) (Outcome, error) {
	hash := HeaderHash(headers)

	fp, err := r.repo.Lookup(ctx, userID, hash)
	if err != nil {
		return Outcome{}, apperr.TransientFault("fingerprint_lookup_failed", "fingerprint lookup failed").WithCause(err)
	}
	if fp != nil {
		if err := r.repo.TouchHit(ctx, fp.ID, time.Now().UTC()); err != nil {
			r.logger.Warn().Err(err).Str("fingerprint_id", fp.ID.String()).Msg("failed to record fingerprint hit")
		}
		return Outcome{
			Mapping:    restoreCasing(fp.ColumnMapping, headers),
			DateFormat: fp.DateFormat,
			AmountSign: fp.AmountSign,
			Confidence: 1,
			FromCache:  true,
		}, nil
	}

	if r.ai == nil {
		return Outcome{}, apperr.ServiceUnavailable("fingerprint_ai_unavailable", "no AI adapter configured to infer a statement layout")
	}

	inferred, err := r.infer(ctx, headers, sampleRows)
	if err != nil {
		return Outcome{}, err
	}

	toPersist := &models.StatementFingerprint{
		ID:            uuid.New(),
		UserID:        &userID,
		HeaderHash:    hash,
		SourceName:    sourceName,
		ColumnMapping: lowercaseKeys(inferred.Mapping),
		DateFormat:    inferred.DateFormat,
		AmountSign:    inferred.AmountSign,
		HitCount:      1,
		LastUsedAt:    time.Now().UTC(),
	}
	if err := r.repo.Insert(ctx, toPersist); err != nil {
		r.logger.Warn().Err(err).Str("header_hash", hash).Msg("failed to persist inferred fingerprint")
	}

	return inferred, nil
}

type inferenceResponse struct {
	ColumnMapping map[string]string `json:"columnMapping"`
	DateFormat    string            `json:"dateFormat"`
	AmountSign    string            `json:"amountSign"`
	Confidence    float64           `json:"confidence"`
}

func (r *Resolver) infer(ctx context.Context, headers []string, sampleRows [][]string) (Outcome, error) {
	prompt := inferencePrompt(headers, sampleRows)
	text, err := r.ai.Invoke(ctx, inferenceSystemPrompt, prompt, 512, 0.1)
	if err != nil {
		return Outcome{}, err
	}

	var parsed inferenceResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return Outcome{}, apperr.ParseError("fingerprint_inference_parse_failed", "could not parse column mapping response").WithCause(err)
	}

	mapping := make(map[string]string, len(headers))
	seen := map[string]bool{}
	for header, fieldType := range parsed.ColumnMapping {
		fieldType = strings.ToLower(strings.TrimSpace(fieldType))
		if !knownFieldTypes[fieldType] {
			continue
		}
		for _, h := range headers {
			if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(header)) {
				mapping[h] = fieldType
				seen[fieldType] = true
				break
			}
		}
	}

	confidence := parsed.Confidence
	for _, required := range requiredFieldTypes {
		if !seen[required] && confidence > 0.5 {
			confidence = 0.5
		}
	}

	return Outcome{
		Mapping:    mapping,
		DateFormat: parsed.DateFormat,
		AmountSign: models.AmountSign(parsed.AmountSign),
		Confidence: confidence,
	}, nil
}

func lowercaseKeys(mapping map[string]string) map[string]string {
	out := make(map[string]string, len(mapping))
	for header, fieldType := range mapping {
		out[strings.ToLower(strings.TrimSpace(header))] = fieldType
	}
	return out
}

// restoreCasing re-keys a persisted (lowercased-header -> field type)
// mapping onto the caller's original header casing, since a later upload of
// the same source may capitalize headers differently.
func restoreCasing(stored map[string]string, headers []string) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		if fieldType, ok := stored[strings.ToLower(strings.TrimSpace(h))]; ok {
			out[h] = fieldType
		}
	}
	return out
}

const inferenceSystemPrompt = `You map bank/card statement column headers to a fixed set of field types: date, post_date, description, amount, category, memo, reference, ignore. Respond with a single JSON object: {"columnMapping": {<header>: <field type>, ...}, "dateFormat": <a Go reference-time layout such as "2006-01-02">, "amountSign": "negative_charges" or "positive_charges", "confidence": <0 to 1>}. Map every header you recognize; omit headers you cannot classify. Respond with JSON only, no commentary.`

func inferencePrompt(headers []string, sampleRows [][]string) string {
	var b strings.Builder
	b.WriteString("Headers: ")
	b.WriteString(strings.Join(headers, " | "))
	limit := len(sampleRows)
	if limit > 3 {
		limit = 3
	}
	for i := 0; i < limit; i++ {
		b.WriteString("\nSample row ")
		b.WriteString(strings.Join(sampleRows[i], " | "))
	}
	return b.String()
}
