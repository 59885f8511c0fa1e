package learning

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/models"
)

type fakeAliases struct {
	byCanonical map[string]*models.VendorAlias
	upserts     int
	glConfirms  int
	deptConfirms int
}

func newFakeAliases() *fakeAliases {
	return &fakeAliases{byCanonical: map[string]*models.VendorAlias{}}
}

func (f *fakeAliases) GetByCanonicalName(ctx context.Context, userID uuid.UUID, name string) (*models.VendorAlias, error) {
	return f.byCanonical[name], nil
}

func (f *fakeAliases) AddOrUpdate(ctx context.Context, alias *models.VendorAlias) error {
	if alias.ID == uuid.Nil {
		alias.ID = uuid.New()
	}
	f.byCanonical[alias.CanonicalName] = alias
	f.upserts++
	return nil
}

func (f *fakeAliases) ConfirmGLCode(ctx context.Context, alias *models.VendorAlias, confirmedGLCode string) error {
	f.glConfirms++
	alias.DefaultGLCode = &confirmedGLCode
	return f.AddOrUpdate(ctx, alias)
}

func (f *fakeAliases) ConfirmDepartment(ctx context.Context, alias *models.VendorAlias, confirmedDepartment string) error {
	f.deptConfirms++
	alias.DefaultDepartment = &confirmedDepartment
	return f.AddOrUpdate(ctx, alias)
}

type fakeEmbeddings struct {
	inserted int
}

func (f *fakeEmbeddings) InsertVerified(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, description string, vendorNormalized *string, glCode, department *string) error {
	f.inserted++
	return nil
}

func TestOnMatchConfirmedCreatesAliasFromTransactionDescription(t *testing.T) {
	aliases := newFakeAliases()
	embeddings := &fakeEmbeddings{}
	loop := New(aliases, embeddings, nil)

	match := &models.ReceiptTransactionMatch{ID: uuid.New()}
	loop.OnMatchConfirmed(context.Background(), uuid.New(), match, "ACME COFFEE #0123", nil, nil, nil)

	alias := aliases.byCanonical["ACME COFFEE"]
	if alias == nil {
		t.Fatalf("expected alias created for canonical pattern ACME COFFEE")
	}
	if alias.MatchCount != 1 {
		t.Fatalf("expected match count 1, got %d", alias.MatchCount)
	}
}

func TestOnMatchConfirmedUsesGroupPatternForGroupMatches(t *testing.T) {
	aliases := newFakeAliases()
	embeddings := &fakeEmbeddings{}
	loop := New(aliases, embeddings, nil)

	groupID := uuid.New()
	match := &models.ReceiptTransactionMatch{ID: uuid.New(), TransactionGroupID: &groupID}
	loop.OnMatchConfirmed(context.Background(), uuid.New(), match, "TWILIO (3 charges)", nil, nil, nil)

	if aliases.byCanonical["TWILIO"] == nil {
		t.Fatalf("expected alias created for canonical group pattern TWILIO")
	}
}

func TestOnMatchConfirmedIncrementsExistingAlias(t *testing.T) {
	aliases := newFakeAliases()
	aliases.byCanonical["ACME COFFEE"] = &models.VendorAlias{ID: uuid.New(), CanonicalName: "ACME COFFEE", MatchCount: 5}
	loop := New(aliases, &fakeEmbeddings{}, nil)

	match := &models.ReceiptTransactionMatch{ID: uuid.New()}
	loop.OnMatchConfirmed(context.Background(), uuid.New(), match, "ACME COFFEE #0123", nil, nil, nil)

	if aliases.byCanonical["ACME COFFEE"].MatchCount != 6 {
		t.Fatalf("expected match count incremented to 6, got %d", aliases.byCanonical["ACME COFFEE"].MatchCount)
	}
}

func TestOnMatchConfirmedSkipsEmptyDescription(t *testing.T) {
	aliases := newFakeAliases()
	loop := New(aliases, &fakeEmbeddings{}, nil)
	loop.OnMatchConfirmed(context.Background(), uuid.New(), &models.ReceiptTransactionMatch{}, "", nil, nil, nil)
	if len(aliases.byCanonical) != 0 {
		t.Fatalf("expected no alias for empty description")
	}
}

func TestOnMatchConfirmedAppliesDisplayNameOverride(t *testing.T) {
	aliases := newFakeAliases()
	loop := New(aliases, &fakeEmbeddings{}, nil)

	display := "Acme Coffee Roasters"
	match := &models.ReceiptTransactionMatch{ID: uuid.New()}
	loop.OnMatchConfirmed(context.Background(), uuid.New(), match, "ACME COFFEE #0123", &display, nil, nil)

	alias := aliases.byCanonical["ACME COFFEE"]
	if alias == nil {
		t.Fatalf("expected alias created for canonical pattern ACME COFFEE")
	}
	if alias.DisplayName != display {
		t.Fatalf("expected display name override applied, got %q", alias.DisplayName)
	}
}

func TestOnMatchConfirmedAppliesGLAndDepartmentOverrides(t *testing.T) {
	aliases := newFakeAliases()
	loop := New(aliases, &fakeEmbeddings{}, nil)

	gl := "6000"
	dept := "Engineering"
	match := &models.ReceiptTransactionMatch{ID: uuid.New()}
	loop.OnMatchConfirmed(context.Background(), uuid.New(), match, "ACME COFFEE #0123", nil, &gl, &dept)

	alias := aliases.byCanonical["ACME COFFEE"]
	if alias == nil {
		t.Fatalf("expected alias created for canonical pattern ACME COFFEE")
	}
	if aliases.glConfirms != 1 {
		t.Fatalf("expected one GL confirmation call, got %d", aliases.glConfirms)
	}
	if aliases.deptConfirms != 1 {
		t.Fatalf("expected one department confirmation call, got %d", aliases.deptConfirms)
	}
	if alias.DefaultGLCode == nil || *alias.DefaultGLCode != gl {
		t.Fatalf("expected default GL code confirmed to %q, got %v", gl, alias.DefaultGLCode)
	}
	if alias.DefaultDepartment == nil || *alias.DefaultDepartment != dept {
		t.Fatalf("expected default department confirmed to %q, got %v", dept, alias.DefaultDepartment)
	}
}

func TestOnLineEditAppliesPromotionRuleAndInsertsEmbedding(t *testing.T) {
	aliases := newFakeAliases()
	aliases.byCanonical["ACME COFFEE"] = &models.VendorAlias{ID: uuid.New(), CanonicalName: "ACME COFFEE"}
	embeddings := &fakeEmbeddings{}
	loop := New(aliases, embeddings, nil)

	gl := "6000"
	dept := "Engineering"
	loop.OnLineEdit(context.Background(), uuid.New(), nil, "ACME COFFEE #0123", nil, &gl, &dept)

	if aliases.glConfirms != 1 {
		t.Fatalf("expected one GL confirmation call, got %d", aliases.glConfirms)
	}
	if aliases.deptConfirms != 1 {
		t.Fatalf("expected one department confirmation call, got %d", aliases.deptConfirms)
	}
	if embeddings.inserted != 1 {
		t.Fatalf("expected one verified embedding insert, got %d", embeddings.inserted)
	}
}

func TestOnLineEditStillInsertsEmbeddingWhenNoAliasExists(t *testing.T) {
	aliases := newFakeAliases()
	embeddings := &fakeEmbeddings{}
	loop := New(aliases, embeddings, nil)

	gl := "6000"
	loop.OnLineEdit(context.Background(), uuid.New(), nil, "UNKNOWN VENDOR 42", nil, &gl, nil)

	if embeddings.inserted != 1 {
		t.Fatalf("expected embedding insert even without a matching alias, got %d", embeddings.inserted)
	}
}
