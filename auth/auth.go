// Package auth resolves the caller identity every operation needs: an API
// key presented on the Authorization header maps to the user_id every
// component call is scoped by. Keys are never stored in the clear; only
// their SHA-256 hash is persisted and compared, the same content-addressing
// idea the hash index uses for normalized text.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/apperr"
)

// Repo is the durable store behind API key resolution.
type Repo interface {
	UserIDForKeyHash(ctx context.Context, keyHash string) (*uuid.UUID, error)
}

// Resolver implements middleware.UserResolver against a Repo.
type Resolver struct {
	repo Repo
}

// New creates an API key resolver.
func New(repo Repo) *Resolver {
	return &Resolver{repo: repo}
}

// HashKey computes the content address of an API key: lowercase hex
// SHA-256. Keys are compared exclusively on this hash.
func HashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// ResolveAPIKey maps apiKey to the user ID it authenticates as.
func (r *Resolver) ResolveAPIKey(ctx context.Context, apiKey string) (uuid.UUID, error) {
	userID, err := r.repo.UserIDForKeyHash(ctx, HashKey(apiKey))
	if err != nil {
		return uuid.Nil, apperr.TransientFault("api_key_lookup_failed", "API key lookup failed").WithCause(err)
	}
	if userID == nil {
		return uuid.Nil, apperr.NotFound("api_key_not_found", "API key is not recognized")
	}
	return *userID, nil
}
