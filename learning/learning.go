// Package learning implements C6: the feedback loop that turns a
// user-confirmed match or a corrected report line into durable tier-1/2
// knowledge, so the next request of the same shape resolves without an AI
// call. Both entry points are best-effort: a write here never blocks or
// fails the user-visible operation that triggered it (§4.6), mirroring how
// the gateway's metering.AsyncLogger fire-and-forgets cost records off the
// request path.
package learning

import (
	"context"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/fuzzyvendor"
	"github.com/expensecore/expense-engine/models"
)

// Logger is the narrow logging seam learning reports its own failures to.
// Satisfied by *slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

// AliasRegistry is the C5 collaborator learning writes through.
type AliasRegistry interface {
	GetByCanonicalName(ctx context.Context, userID uuid.UUID, name string) (*models.VendorAlias, error)
	AddOrUpdate(ctx context.Context, alias *models.VendorAlias) error
	ConfirmGLCode(ctx context.Context, alias *models.VendorAlias, confirmedGLCode string) error
	ConfirmDepartment(ctx context.Context, alias *models.VendorAlias, confirmedDepartment string) error
}

// EmbeddingIndex is the C2 collaborator learning writes verified examples
// through.
type EmbeddingIndex interface {
	InsertVerified(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, description string, vendorNormalized *string, glCode, department *string) error
}

// Loop is C6.
type Loop struct {
	aliases    AliasRegistry
	embeddings EmbeddingIndex
	logger     Logger
}

// New creates a learning loop.
func New(aliases AliasRegistry, embeddings EmbeddingIndex, logger Logger) *Loop {
	return &Loop{aliases: aliases, embeddings: embeddings, logger: logger}
}

// OnMatchConfirmed implements matching.Learner: derives a vendor pattern
// from the confirmed candidate's description (or group name), upserts an
// alias for it, and records the match. overrideDisplayName, overrideGL and
// overrideDept carry confirm's optional overrides (§4.8): a display-name
// override replaces the alias's display name outright, while GL/department
// overrides go through the same promotion-rule calls OnLineEdit uses,
// since a manual confirm is itself a confirmed categorization event per
// §4.5. Failures are logged, never returned, per §4.6.
func (l *Loop) OnMatchConfirmed(ctx context.Context, userID uuid.UUID, match *models.ReceiptTransactionMatch, vendorDescription string, overrideDisplayName, overrideGL, overrideDept *string) {
	if vendorDescription == "" {
		return
	}

	var pattern string
	if match.IsGroupMatch() {
		pattern = fuzzyvendor.CanonicalGroupPattern(vendorDescription)
	} else {
		pattern = fuzzyvendor.CanonicalPattern(vendorDescription)
	}
	if pattern == "" {
		return
	}

	alias, err := l.aliases.GetByCanonicalName(ctx, userID, pattern)
	if err != nil {
		l.warn("learning_lookup_failed", err)
		return
	}
	if alias == nil {
		alias = &models.VendorAlias{
			UserID:        &userID,
			CanonicalName: pattern,
			AliasPattern:  pattern,
			DisplayName:   pattern,
			Category:      models.CategoryGeneric,
		}
	}
	alias.MatchCount++
	if overrideDisplayName != nil {
		alias.DisplayName = *overrideDisplayName
	}

	if err := l.aliases.AddOrUpdate(ctx, alias); err != nil {
		l.warn("learning_upsert_failed", err)
		return
	}

	if overrideGL != nil {
		if err := l.aliases.ConfirmGLCode(ctx, alias, *overrideGL); err != nil {
			l.warn("learning_confirm_gl_failed", err)
		}
	}
	if overrideDept != nil {
		if err := l.aliases.ConfirmDepartment(ctx, alias, *overrideDept); err != nil {
			l.warn("learning_confirm_department_failed", err)
		}
	}
}

// OnLineEdit implements §4.6's second trigger: a user-corrected GL or
// department on a report line. It updates the matching alias's default
// (subject to C5's promotion rule) and inserts a verified embedding of the
// corrected (description, vendor, gl, department) example, so a
// tier-2 lookup finds it on the next occurrence of the same shape.
func (l *Loop) OnLineEdit(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, description string, vendorNormalized *string, correctedGLCode, correctedDepartment *string) {
	pattern := fuzzyvendor.CanonicalPattern(description)
	if pattern != "" {
		alias, err := l.aliases.GetByCanonicalName(ctx, userID, pattern)
		if err != nil {
			l.warn("learning_lookup_failed", err)
		} else if alias != nil {
			if correctedGLCode != nil {
				if err := l.aliases.ConfirmGLCode(ctx, alias, *correctedGLCode); err != nil {
					l.warn("learning_confirm_gl_failed", err)
				}
			}
			if correctedDepartment != nil {
				if err := l.aliases.ConfirmDepartment(ctx, alias, *correctedDepartment); err != nil {
					l.warn("learning_confirm_department_failed", err)
				}
			}
		}
	}

	if err := l.embeddings.InsertVerified(ctx, userID, transactionID, description, vendorNormalized, correctedGLCode, correctedDepartment); err != nil {
		l.warn("learning_insert_embedding_failed", err)
	}
}

func (l *Loop) warn(code string, err error) {
	if l.logger == nil {
		return
	}
	l.logger.Warn("learning loop failure", "code", code, "error", err)
}
