// Package hashindex implements C1: the content-addressed cache of
// (raw text -> canonical text) that backs tier 1 of the tier router. The
// exact-match index shape is adapted from the gateway's semantic cache
// (caching.Engine.exactIndex), generalized from an in-process map to a
// durable row behind a Redis read-through layer.
package hashindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/expensecore/expense-engine/apperr"
	"github.com/expensecore/expense-engine/models"
)

// Repo is the durable store behind the hash index.
type Repo interface {
	Lookup(ctx context.Context, hash string) (*models.NormalizedTextCache, error)
	Upsert(ctx context.Context, hash, rawText, canonicalText string) error
	TouchHit(ctx context.Context, hash string) error
}

// Index is C1: lookup/insert over the (hash -> canonical text) cache.
type Index struct {
	repo   Repo
	redis  *redis.Client
	logger zerolog.Logger
}

// New creates a hash index. redisClient may be nil, in which case every
// lookup goes straight to the repository.
func New(repo Repo, redisClient *redis.Client, logger zerolog.Logger) *Index {
	return &Index{
		repo:   repo,
		redis:  redisClient,
		logger: logger.With().Str("component", "hash_index").Logger(),
	}
}

// Hash computes the content address of raw text: lowercase hex SHA-256 of
// lower(trim(raw)). Equal after lower+trim implies equal hash (§8 invariant 1).
func Hash(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the canonical text for hash, or nil if absent. On a hit it
// increments hit_count and stamps last_accessed_at in the repo.
func (idx *Index) Lookup(ctx context.Context, hash string) (*string, error) {
	if idx.redis != nil {
		if val, err := idx.redis.Get(ctx, redisKey(hash)).Result(); err == nil {
			go idx.touchHit(hash)
			return &val, nil
		}
	}

	row, err := idx.repo.Lookup(ctx, hash)
	if err != nil {
		return nil, apperr.TransientFault("hash_index_lookup_failed", "hash index lookup failed").WithCause(err)
	}
	if row == nil {
		return nil, nil
	}

	if err := idx.repo.TouchHit(ctx, hash); err != nil {
		idx.logger.Warn().Err(err).Str("hash", hash).Msg("failed to record hash index hit")
	}

	if idx.redis != nil {
		idx.redis.Set(ctx, redisKey(hash), row.CanonicalText, 24*time.Hour)
	}

	return &row.CanonicalText, nil
}

// Insert upserts (hash, rawText, canonicalText). If a row already exists for
// hash, its earlier raw_text is preserved and only canonical_text is
// replaced, matching §4.1.
func (idx *Index) Insert(ctx context.Context, hash, rawText, canonicalText string) error {
	if err := idx.repo.Upsert(ctx, hash, rawText, canonicalText); err != nil {
		return apperr.TransientFault("hash_index_insert_failed", "hash index insert failed").WithCause(err)
	}
	if idx.redis != nil {
		idx.redis.Set(ctx, redisKey(hash), canonicalText, 24*time.Hour)
	}
	return nil
}

func (idx *Index) touchHit(hash string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := idx.repo.TouchHit(ctx, hash); err != nil {
		idx.logger.Debug().Err(err).Str("hash", hash).Msg("redis-path hit touch failed")
	}
}

func redisKey(hash string) string {
	return "hashidx:" + hash
}
