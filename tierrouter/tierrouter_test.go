package tierrouter

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/expensecore/expense-engine/hashindex"
	"github.com/expensecore/expense-engine/models"
	"github.com/expensecore/expense-engine/vectorindex"
)

type fakeHashes struct {
	canonical map[string]string
	inserted  map[string]string
}

func (f *fakeHashes) Lookup(ctx context.Context, hash string) (*string, error) {
	if v, ok := f.canonical[hash]; ok {
		return &v, nil
	}
	return nil, nil
}

func (f *fakeHashes) Insert(ctx context.Context, hash, rawText, canonicalText string) error {
	if f.inserted == nil {
		f.inserted = map[string]string{}
	}
	f.inserted[hash] = canonicalText
	return nil
}

type fakeAliases struct {
	alias *models.VendorAlias
}

func (f *fakeAliases) Find(ctx context.Context, description string) (*models.VendorAlias, error) {
	return f.alias, nil
}

type fakeSimilarity struct {
	entries []vectorindex.Entry
}

func (f *fakeSimilarity) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakeSimilarity) TopK(ctx context.Context, userID uuid.UUID, vec []float32, k int, threshold float64, requireGLOrDept bool) []vectorindex.Entry {
	return f.entries
}

type fakeAI struct {
	text string
	err  error
}

func (f *fakeAI) Invoke(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	return f.text, f.err
}

type fakeUsage struct {
	logged []models.TierUsageLog
}

func (f *fakeUsage) Log(ctx context.Context, entry models.TierUsageLog) {
	f.logged = append(f.logged, entry)
}

func TestResolveNormalizationTier1Hit(t *testing.T) {
	hash := hashindex.Hash("ACME COFFEE")
	hashes := &fakeHashes{canonical: map[string]string{hash: "ACME COFFEE"}}
	usage := &fakeUsage{}
	e := New(hashes, &fakeAliases{}, nil, &fakeAI{}, usage, 0.92, zerolog.Nop())

	result := e.ResolveNormalization(context.Background(), uuid.New(), nil, "ACME COFFEE")
	_ = hash
	if result.Tier != models.Tier1 || result.Confidence != 1.0 {
		t.Fatalf("expected tier1/1.0, got %+v", result)
	}
	if len(usage.logged) != 1 || !usage.logged[0].CacheHit {
		t.Fatalf("expected one cache_hit usage row, got %+v", usage.logged)
	}
}

func TestResolveNormalizationFallsThroughToTier3(t *testing.T) {
	hashes := &fakeHashes{canonical: map[string]string{}}
	ai := &fakeAI{text: "Acme Coffee Co"}
	usage := &fakeUsage{}
	e := New(hashes, &fakeAliases{}, nil, ai, usage, 0.92, zerolog.Nop())

	result := e.ResolveNormalization(context.Background(), uuid.New(), nil, "ACME COFFEE #4471")
	if result.Tier != models.Tier3 || result.Confidence != 0.85 {
		t.Fatalf("expected tier3/0.85, got %+v", result)
	}
	if len(hashes.inserted) != 1 {
		t.Fatalf("expected tier3 result persisted to hash index")
	}
	if usage.logged[0].CacheHit {
		t.Fatalf("tier3 result must not be recorded as cache_hit")
	}
}

func TestResolveNormalizationDegradedWhenAllTiersFail(t *testing.T) {
	hashes := &fakeHashes{canonical: map[string]string{}}
	ai := &fakeAI{err: context.DeadlineExceeded}
	usage := &fakeUsage{}
	e := New(hashes, &fakeAliases{}, nil, ai, usage, 0.92, zerolog.Nop())

	result := e.ResolveNormalization(context.Background(), uuid.New(), nil, "???")
	if result.Tier != models.TierDegraded || result.Confidence != 0 {
		t.Fatalf("expected degraded result, got %+v", result)
	}
	if usage.logged[0].Confidence != nil {
		t.Fatalf("expected nil confidence on degraded result")
	}
}

func TestResolveCategorizationTier1AliasWins(t *testing.T) {
	gl := "6000"
	alias := &models.VendorAlias{DefaultGLCode: &gl}
	e := New(&fakeHashes{}, &fakeAliases{alias: alias}, &fakeSimilarity{}, &fakeAI{}, &fakeUsage{}, 0.92, zerolog.Nop())

	result := e.ResolveCategorization(context.Background(), uuid.New(), nil, FieldGLCode, "acme coffee")
	if result.Tier != models.Tier1 || result.Value != "6000" || result.Confidence != 0.95 {
		t.Fatalf("expected tier1 GL 6000/0.95, got %+v", result)
	}
}

func TestResolveCategorizationTier2VerifiedConfidence(t *testing.T) {
	gl := "6100"
	entries := []vectorindex.Entry{{Embedding: models.ExpenseEmbedding{GLCode: &gl, Verified: true}}}
	e := New(&fakeHashes{}, &fakeAliases{}, &fakeSimilarity{entries: entries}, &fakeAI{}, &fakeUsage{}, 0.92, zerolog.Nop())

	result := e.ResolveCategorization(context.Background(), uuid.New(), nil, FieldGLCode, "acme coffee")
	if result.Tier != models.Tier2 || result.Confidence != 0.90 {
		t.Fatalf("expected tier2/0.90 for verified embedding, got %+v", result)
	}
}

func TestResolveCategorizationTier2UnverifiedConfidence(t *testing.T) {
	gl := "6100"
	entries := []vectorindex.Entry{{Embedding: models.ExpenseEmbedding{GLCode: &gl, Verified: false}}}
	e := New(&fakeHashes{}, &fakeAliases{}, &fakeSimilarity{entries: entries}, &fakeAI{}, &fakeUsage{}, 0.92, zerolog.Nop())

	result := e.ResolveCategorization(context.Background(), uuid.New(), nil, FieldGLCode, "acme coffee")
	if result.Tier != models.Tier2 || result.Confidence != 0.80 {
		t.Fatalf("expected tier2/0.80 for unverified embedding, got %+v", result)
	}
}

func TestResolveCategorizationTier3Fallback(t *testing.T) {
	e := New(&fakeHashes{}, &fakeAliases{}, &fakeSimilarity{}, &fakeAI{text: "6200"}, &fakeUsage{}, 0.92, zerolog.Nop())

	result := e.ResolveCategorization(context.Background(), uuid.New(), nil, FieldGLCode, "unknown vendor")
	if result.Tier != models.Tier3 || result.Value != "6200" || result.Confidence != 0.70 {
		t.Fatalf("expected tier3/0.70, got %+v", result)
	}
}
