package metering

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/models"
)

type fakeRepo struct {
	mu       sync.Mutex
	inserted []models.TierUsageLog
	agg      Aggregate
	candidates []VendorCandidate
}

func (f *fakeRepo) InsertUsageLogBatch(ctx context.Context, entries []models.TierUsageLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, entries...)
	return nil
}

func (f *fakeRepo) Aggregate(ctx context.Context, userID uuid.UUID, from, to time.Time, operation *models.OperationType) (Aggregate, error) {
	return f.agg, nil
}

func (f *fakeRepo) VendorCandidates(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]VendorCandidate, error) {
	return f.candidates, nil
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

func TestCostEngineTier1IsFree(t *testing.T) {
	ce := NewCostEngine(DefaultCostRates())
	if got := ce.Estimate(100, 0, 0); got != 0 {
		t.Fatalf("expected tier 1 calls to cost 0, got %f", got)
	}
}

func TestCostEngineTier2AndTier3Pricing(t *testing.T) {
	ce := NewCostEngine(CostRates{Tier2UnitCost: 0.00002, Tier3UnitCost: 0.0004})
	got := ce.Estimate(0, 10, 5)
	want := 10*0.00002 + 5*0.0004
	if got != want {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestPriorityForBuckets(t *testing.T) {
	cases := []struct {
		count int64
		want  VendorCandidatePriority
	}{{10, PriorityHigh}, {15, PriorityHigh}, {5, PriorityMedium}, {9, PriorityMedium}, {4, PriorityLow}, {0, PriorityLow}}
	for _, c := range cases {
		if got := PriorityFor(c.count); got != c.want {
			t.Fatalf("count %d: expected %s, got %s", c.count, c.want, got)
		}
	}
}

func TestMeterLogFlushesOnClose(t *testing.T) {
	repo := &fakeRepo{}
	m := New(repo, NewCostEngine(DefaultCostRates()), 100)
	for i := 0; i < 5; i++ {
		m.Log(context.Background(), models.TierUsageLog{UserID: uuid.New(), OperationType: models.OpNormalization, Tier: models.Tier1})
	}
	m.Close()

	if repo.count() != 5 {
		t.Fatalf("expected 5 entries flushed on close, got %d", repo.count())
	}
}

func TestMeterReportComputesRatesAndCost(t *testing.T) {
	repo := &fakeRepo{agg: Aggregate{Total: 100, Tier1Count: 80, Tier2Count: 15, Tier3Count: 5, ByOperation: map[models.OperationType]int64{}}}
	m := New(repo, NewCostEngine(DefaultCostRates()), 10)
	defer m.Close()

	agg, err := m.Report(context.Background(), uuid.New(), time.Now().Add(-time.Hour), time.Now(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.Tier1Rate != 0.8 {
		t.Fatalf("expected tier1 rate 0.8, got %f", agg.Tier1Rate)
	}
	wantCost := 15*0.00002 + 5*0.0004
	if agg.EstimatedCostUSD != wantCost {
		t.Fatalf("expected cost %f, got %f", wantCost, agg.EstimatedCostUSD)
	}
}

func TestMeterVendorPromotionCandidatesAssignsPriority(t *testing.T) {
	repo := &fakeRepo{candidates: []VendorCandidate{
		{Description: "UNKNOWN VENDOR A", Tier3Count: 12},
		{Description: "UNKNOWN VENDOR B", Tier3Count: 3},
	}}
	m := New(repo, NewCostEngine(DefaultCostRates()), 10)
	defer m.Close()

	candidates, err := m.VendorPromotionCandidates(context.Background(), uuid.New(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if candidates[0].Priority != PriorityHigh {
		t.Fatalf("expected high priority for count 12, got %s", candidates[0].Priority)
	}
	if candidates[1].Priority != PriorityLow {
		t.Fatalf("expected low priority for count 3, got %s", candidates[1].Priority)
	}
}
