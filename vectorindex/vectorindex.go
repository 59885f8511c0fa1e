// Package vectorindex implements C2: embedding generation plus a top-k
// cosine-similarity lookup scoped to one user. The similarity-search loop
// and cosineSimilarity helper are adapted from the gateway's semantic
// cache (caching.Engine.Lookup / cosineSimilarity); ranking now runs in SQL
// through a pgvector-backed repository, and cosineSimilarity is kept only
// for in-memory repositories such as the one in this package's tests.
package vectorindex

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/expensecore/expense-engine/apperr"
	"github.com/expensecore/expense-engine/models"
)

// Embedder is the external collaborator (§6) that turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Repo is the durable store behind the vector index.
type Repo interface {
	TopK(ctx context.Context, userID uuid.UUID, vec []float32, k int, threshold float64, requireGLOrDept bool) ([]Entry, error)
	InsertVerified(ctx context.Context, e *models.ExpenseEmbedding) error
	PurgeStale(ctx context.Context, now time.Time) (int64, error)
}

// Entry is one candidate returned by TopK, paired with its similarity.
type Entry struct {
	Embedding  models.ExpenseEmbedding
	Similarity float64
}

// Index is C2.
type Index struct {
	repo     Repo
	embedder Embedder
	maxChars int
	logger   zerolog.Logger
}

// New creates a vector index. maxChars truncates embed() input (§4.2).
func New(repo Repo, embedder Embedder, maxChars int, logger zerolog.Logger) *Index {
	if maxChars <= 0 {
		maxChars = 500
	}
	return &Index{
		repo:     repo,
		embedder: embedder,
		maxChars: maxChars,
		logger:   logger.With().Str("component", "vector_index").Logger(),
	}
}

// Embed truncates text to maxChars and asks the embedder for a vector. A
// missing embedder surfaces ServiceUnavailable (§4.2).
func (idx *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	if idx.embedder == nil {
		return nil, apperr.ServiceUnavailable("embedder_unavailable", "embedding service is not configured")
	}
	truncated := text
	if runes := []rune(truncated); len(runes) > idx.maxChars {
		truncated = string(runes[:idx.maxChars])
	}
	vec, err := idx.embedder.Embed(ctx, truncated)
	if err != nil {
		return nil, apperr.ServiceUnavailable("embed_failed", "embedding request failed").WithCause(err)
	}
	return vec, nil
}

// TopK returns entries with cosine_similarity >= threshold, ordered
// descending. A failure here is non-fatal for the caller: C4 treats it as
// "no hit" (§4.2), so TopK logs a backend failure and returns a nil slice,
// not an error.
func (idx *Index) TopK(ctx context.Context, userID uuid.UUID, vec []float32, k int, threshold float64, requireGLOrDept bool) []Entry {
	entries, err := idx.repo.TopK(ctx, userID, vec, k, threshold, requireGLOrDept)
	if err != nil {
		idx.logger.Warn().Err(err).Msg("vector top-k failed, treating as no hit")
		return nil
	}
	return entries
}

// InsertVerified persists a verified example: verified=true, expires_at=nil.
func (idx *Index) InsertVerified(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, description string, vendorNormalized *string, glCode, department *string) error {
	vec, err := idx.Embed(ctx, description)
	if err != nil {
		return err
	}

	e := &models.ExpenseEmbedding{
		ID:               uuid.New(),
		UserID:           userID,
		TransactionID:    transactionID,
		DescriptionText:  description,
		VendorNormalized: vendorNormalized,
		Embedding:        pgvector.NewVector(vec),
		GLCode:           glCode,
		Department:       department,
		Verified:         true,
		ExpiresAt:        nil,
	}
	if err := idx.repo.InsertVerified(ctx, e); err != nil {
		return apperr.TransientFault("vector_index_insert_failed", "vector index insert failed").WithCause(err)
	}
	return nil
}

// PurgeStale deletes unverified entries whose expires_at has passed.
// Verified rows are never purged (§3: "verified rows never expire").
func (idx *Index) PurgeStale(ctx context.Context, now time.Time) (int64, error) {
	n, err := idx.repo.PurgeStale(ctx, now)
	if err != nil {
		return 0, apperr.TransientFault("vector_index_purge_failed", "vector index purge failed").WithCause(err)
	}
	return n, nil
}

// cosineSimilarity is the in-process comparator for in-memory repo
// implementations (the package tests' fake repo) that don't push the
// computation into pgvector's native cosine operator.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
