package fingerprint

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/expensecore/expense-engine/apperr"
	"github.com/expensecore/expense-engine/models"
)

type fakeRepo struct {
	byHash  map[string]*models.StatementFingerprint
	touched []uuid.UUID
	inserts []*models.StatementFingerprint
	lookupErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byHash: map[string]*models.StatementFingerprint{}}
}

func (f *fakeRepo) Lookup(ctx context.Context, userID uuid.UUID, headerHash string) (*models.StatementFingerprint, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.byHash[headerHash], nil
}

func (f *fakeRepo) TouchHit(ctx context.Context, fingerprintID uuid.UUID, now time.Time) error {
	f.touched = append(f.touched, fingerprintID)
	return nil
}

func (f *fakeRepo) Insert(ctx context.Context, fp *models.StatementFingerprint) error {
	f.inserts = append(f.inserts, fp)
	f.byHash[fp.HeaderHash] = fp
	return nil
}

type fakeAI struct {
	response string
	err      error
}

func (f *fakeAI) Invoke(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestHeaderHashIsOrderIndependent(t *testing.T) {
	a := HeaderHash([]string{"Date", "Description", "Amount"})
	b := HeaderHash([]string{"amount", "date", "DESCRIPTION"})
	if a != b {
		t.Fatalf("expected order/case independent hash, got %q vs %q", a, b)
	}
}

func TestHeaderHashDiffersForDifferentHeaders(t *testing.T) {
	a := HeaderHash([]string{"Date", "Amount"})
	b := HeaderHash([]string{"Date", "Amount", "Memo"})
	if a == b {
		t.Fatalf("expected different hash for different header sets")
	}
}

func TestResolveHitsCacheAndTouches(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	hash := HeaderHash([]string{"Date", "Description", "Amount"})
	fpID := uuid.New()
	repo.byHash[hash] = &models.StatementFingerprint{
		ID: fpID, HeaderHash: hash,
		ColumnMapping: map[string]string{"date": "date", "description": "description", "amount": "amount"},
		DateFormat:    "2006-01-02",
		AmountSign:    models.AmountSignNegativeCharges,
	}

	resolver := New(repo, nil, zerolog.Nop())
	outcome, err := resolver.Resolve(context.Background(), userID, "chase", []string{"Date", "Description", "Amount"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.FromCache || outcome.Confidence != 1 {
		t.Fatalf("expected a full-confidence cache hit, got %+v", outcome)
	}
	if outcome.Mapping["Date"] != "date" {
		t.Fatalf("expected original header casing preserved, got %+v", outcome.Mapping)
	}
	if len(repo.touched) != 1 || repo.touched[0] != fpID {
		t.Fatalf("expected hit to be touched, got %v", repo.touched)
	}
}

func TestResolveInfersAndPersistsOnMiss(t *testing.T) {
	repo := newFakeRepo()
	ai := &fakeAI{response: `{"columnMapping":{"Date":"date","Description":"description","Amount":"amount","Memo":"memo"},"dateFormat":"01/02/2006","amountSign":"negative_charges","confidence":0.92}`}
	resolver := New(repo, ai, zerolog.Nop())

	outcome, err := resolver.Resolve(context.Background(), uuid.New(), "amex", []string{"Date", "Description", "Amount", "Memo"}, [][]string{{"01/02/2024", "ACME", "-10.00", "note"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Confidence != 0.92 {
		t.Fatalf("expected confidence 0.92 passthrough, got %f", outcome.Confidence)
	}
	if outcome.Mapping["Memo"] != "memo" {
		t.Fatalf("expected memo mapped, got %+v", outcome.Mapping)
	}
	if len(repo.inserts) != 1 {
		t.Fatalf("expected one fingerprint persisted, got %d", len(repo.inserts))
	}
}

func TestResolveClampsConfidenceWhenRequiredFieldUnmapped(t *testing.T) {
	repo := newFakeRepo()
	ai := &fakeAI{response: `{"columnMapping":{"Date":"date","Memo":"memo"},"dateFormat":"2006-01-02","amountSign":"negative_charges","confidence":0.95}`}
	resolver := New(repo, ai, zerolog.Nop())

	outcome, err := resolver.Resolve(context.Background(), uuid.New(), "unknown", []string{"Date", "Memo"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Confidence > 0.5 {
		t.Fatalf("expected confidence clamped to <= 0.5 when amount/description unmapped, got %f", outcome.Confidence)
	}
}

func TestResolveDropsUnrecognizedFieldTypes(t *testing.T) {
	repo := newFakeRepo()
	ai := &fakeAI{response: `{"columnMapping":{"Date":"date","Description":"description","Amount":"amount","Weird":"not_a_real_type"},"dateFormat":"2006-01-02","amountSign":"negative_charges","confidence":0.9}`}
	resolver := New(repo, ai, zerolog.Nop())

	outcome, err := resolver.Resolve(context.Background(), uuid.New(), "src", []string{"Date", "Description", "Amount", "Weird"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := outcome.Mapping["Weird"]; ok {
		t.Fatalf("expected unrecognized field type dropped, got %+v", outcome.Mapping)
	}
}

func TestResolveWithoutAIAdapterIsServiceUnavailable(t *testing.T) {
	repo := newFakeRepo()
	resolver := New(repo, nil, zerolog.Nop())
	_, err := resolver.Resolve(context.Background(), uuid.New(), "src", []string{"Date", "Amount", "Description"}, nil)
	if !apperr.Is(err, apperr.KindServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable without an AI adapter, got %v", err)
	}
}

func TestResolveMalformedAIResponseIsParseError(t *testing.T) {
	repo := newFakeRepo()
	ai := &fakeAI{response: "not json"}
	resolver := New(repo, ai, zerolog.Nop())
	_, err := resolver.Resolve(context.Background(), uuid.New(), "src", []string{"Date", "Amount", "Description"}, nil)
	if !apperr.Is(err, apperr.KindParseError) {
		t.Fatalf("expected ParseError for malformed AI response, got %v", err)
	}
}
