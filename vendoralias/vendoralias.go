// Package vendoralias implements C5: the registry of learned vendor
// patterns, their canonical identity and default GL/department, and the
// promotion rule that turns repeated tier-3 confirmations into tier-1
// hits. The registry shape (RWMutex-guarded map, Register/Get accessors)
// follows the gateway's provider.Registry; selection here ranks by
// confidence/match_count instead of by provider name.
package vendoralias

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/apperr"
	"github.com/expensecore/expense-engine/models"
)

// Repo is the durable store behind the alias registry.
type Repo interface {
	FindByDescription(ctx context.Context, userID uuid.UUID, description string, categories []models.VendorCategory) ([]models.VendorAlias, error)
	GetByCanonicalName(ctx context.Context, userID uuid.UUID, name string) (*models.VendorAlias, error)
	Upsert(ctx context.Context, alias *models.VendorAlias) error
	RecordMatch(ctx context.Context, aliasID uuid.UUID, matchedAt time.Time) error
}

// Registry is C5.
type Registry struct {
	repo               Repo
	confirmThreshold   int
}

// New creates an alias registry. confirmThreshold is VENDOR_CONFIRM_THRESHOLD.
func New(repo Repo, confirmThreshold int) *Registry {
	if confirmThreshold <= 0 {
		confirmThreshold = 3
	}
	return &Registry{repo: repo, confirmThreshold: confirmThreshold}
}

// Find returns the best case-insensitive substring match across all
// aliases visible to userID, or nil. Selection order: highest confidence,
// ties broken by highest match_count (§4.5).
func (r *Registry) Find(ctx context.Context, userID uuid.UUID, description string) (*models.VendorAlias, error) {
	return r.find(ctx, userID, description, nil)
}

// FindInCategories is Find restricted to the given vendor categories.
func (r *Registry) FindInCategories(ctx context.Context, userID uuid.UUID, description string, categories []models.VendorCategory) (*models.VendorAlias, error) {
	return r.find(ctx, userID, description, categories)
}

func (r *Registry) find(ctx context.Context, userID uuid.UUID, description string, categories []models.VendorCategory) (*models.VendorAlias, error) {
	candidates, err := r.repo.FindByDescription(ctx, userID, description, categories)
	if err != nil {
		return nil, apperr.TransientFault("alias_lookup_failed", "vendor alias lookup failed").WithCause(err)
	}

	best := selectBest(candidates, description)
	if best == nil {
		return nil, nil
	}

	if err := r.repo.RecordMatch(ctx, best.ID, time.Now().UTC()); err != nil {
		return best, nil
	}
	best.MatchCount++
	return best, nil
}

// selectBest keeps only aliases whose pattern is actually a case-insensitive
// substring of description, then picks highest confidence, tie-broken by
// highest match_count, tie-broken by longest pattern (§3).
func selectBest(candidates []models.VendorAlias, description string) *models.VendorAlias {
	lowerDesc := strings.ToLower(description)
	var best *models.VendorAlias
	for i := range candidates {
		c := &candidates[i]
		if !strings.Contains(lowerDesc, strings.ToLower(c.AliasPattern)) {
			continue
		}
		if best == nil || isBetter(c, best) {
			best = c
		}
	}
	return best
}

func isBetter(candidate, current *models.VendorAlias) bool {
	if candidate.Confidence != current.Confidence {
		return candidate.Confidence > current.Confidence
	}
	if candidate.MatchCount != current.MatchCount {
		return candidate.MatchCount > current.MatchCount
	}
	return len(candidate.AliasPattern) > len(current.AliasPattern)
}

// GetByCanonicalName is an exact lookup by canonical_name.
func (r *Registry) GetByCanonicalName(ctx context.Context, userID uuid.UUID, name string) (*models.VendorAlias, error) {
	alias, err := r.repo.GetByCanonicalName(ctx, userID, name)
	if err != nil {
		return nil, apperr.TransientFault("alias_lookup_failed", "vendor alias lookup failed").WithCause(err)
	}
	return alias, nil
}

// GetByVendorName is an exact lookup by canonical_name, falling back to
// Find(name) when no exact match exists (§4.5).
func (r *Registry) GetByVendorName(ctx context.Context, userID uuid.UUID, name string) (*models.VendorAlias, error) {
	exact, err := r.GetByCanonicalName(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if exact != nil {
		return exact, nil
	}
	return r.Find(ctx, userID, name)
}

// AddOrUpdate upserts an alias definition.
func (r *Registry) AddOrUpdate(ctx context.Context, alias *models.VendorAlias) error {
	if alias.ID == uuid.Nil {
		alias.ID = uuid.New()
	}
	if err := r.repo.Upsert(ctx, alias); err != nil {
		return apperr.TransientFault("alias_upsert_failed", "vendor alias upsert failed").WithCause(err)
	}
	return nil
}

// ConfirmGLCode applies the promotion rule (§4.5) for a confirmed GL code
// on the transaction matched by alias. The counter increments on every
// confirmation, whether or not it agrees with the current default, and
// stops at the threshold; once it
// reaches the threshold on a confirmation that disagrees with the current
// default, that confirmed code becomes the new default.
func (r *Registry) ConfirmGLCode(ctx context.Context, alias *models.VendorAlias, confirmedGLCode string) error {
	matchesDefault := alias.DefaultGLCode != nil && confirmedGLCode == *alias.DefaultGLCode
	if alias.GLConfirmCount < r.confirmThreshold {
		alias.GLConfirmCount++
	}
	if !matchesDefault && alias.GLConfirmCount >= r.confirmThreshold {
		code := confirmedGLCode
		alias.DefaultGLCode = &code
		alias.GLConfirmCount = r.confirmThreshold
	}
	return r.AddOrUpdate(ctx, alias)
}

// ConfirmDepartment applies the promotion rule (§4.5) for a confirmed
// department on the transaction matched by alias.
func (r *Registry) ConfirmDepartment(ctx context.Context, alias *models.VendorAlias, confirmedDepartment string) error {
	matchesDefault := alias.DefaultDepartment != nil && confirmedDepartment == *alias.DefaultDepartment
	if alias.DeptConfirmCount < r.confirmThreshold {
		alias.DeptConfirmCount++
	}
	if !matchesDefault && alias.DeptConfirmCount >= r.confirmThreshold {
		dept := confirmedDepartment
		alias.DefaultDepartment = &dept
		alias.DeptConfirmCount = r.confirmThreshold
	}
	return r.AddOrUpdate(ctx, alias)
}
