// Package metering implements C9: recording every C4 resolve call and
// aggregating tier usage into rate/cost/promotion reports. The write-path
// shape (a buffered channel drained in timed batches by a background
// goroutine) and the cost-table lookup are adapted from the gateway's
// request metering (AsyncLogger, CostEngine), narrowed from per-token LLM
// billing to per-tier resolve-call accounting.
package metering

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/models"
)

// Repo is the durable store behind tier usage logging and aggregation.
type Repo interface {
	InsertUsageLogBatch(ctx context.Context, entries []models.TierUsageLog) error
	Aggregate(ctx context.Context, userID uuid.UUID, from, to time.Time, operation *models.OperationType) (Aggregate, error)
	VendorCandidates(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]VendorCandidate, error)
}

// CostRates holds the per-call unit cost for tiers 2 and 3; tier 1 is
// always free. Defaults per §4.9: 0.00002 and 0.0004 per call.
type CostRates struct {
	Tier2UnitCost float64
	Tier3UnitCost float64
}

// DefaultCostRates returns §4.9's default unit costs.
func DefaultCostRates() CostRates {
	return CostRates{Tier2UnitCost: 0.00002, Tier3UnitCost: 0.0004}
}

// CostEngine prices a tier breakdown. Rates are overridable by
// configuration (§4.9); reads are lock-protected so an operator can update
// pricing live without restarting the process.
type CostEngine struct {
	mu    sync.RWMutex
	rates CostRates
}

// NewCostEngine creates a cost engine with the given rates.
func NewCostEngine(rates CostRates) *CostEngine {
	return &CostEngine{rates: rates}
}

// UpdateRates replaces the unit costs live.
func (ce *CostEngine) UpdateRates(rates CostRates) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.rates = rates
}

// Estimate computes total cost for a tier breakdown: tier 1 is free, tier 2
// and tier 3 are priced per call.
func (ce *CostEngine) Estimate(tier1Count, tier2Count, tier3Count int64) float64 {
	ce.mu.RLock()
	defer ce.mu.RUnlock()
	return float64(tier2Count)*ce.rates.Tier2UnitCost + float64(tier3Count)*ce.rates.Tier3UnitCost
}

// Aggregate is one operation/date-range rollup of tier usage (§4.9).
type Aggregate struct {
	Total            int64
	Tier1Count       int64
	Tier2Count       int64
	Tier3Count       int64
	Tier1Rate        float64
	Tier2Rate        float64
	Tier3Rate        float64
	ByOperation      map[models.OperationType]int64
	EstimatedCostUSD float64
}

// VendorCandidatePriority buckets a vendor description by how often it fell
// through to tier 3 within the report window.
type VendorCandidatePriority string

const (
	PriorityHigh   VendorCandidatePriority = "high"
	PriorityMedium VendorCandidatePriority = "medium"
	PriorityLow    VendorCandidatePriority = "low"
)

// VendorCandidate is one "promote to alias" suggestion (§4.9).
type VendorCandidate struct {
	Description string
	Tier3Count  int64
	Priority    VendorCandidatePriority
}

// PriorityFor buckets a tier-3 hit count per §4.9's thresholds.
func PriorityFor(tier3Count int64) VendorCandidatePriority {
	switch {
	case tier3Count >= 10:
		return PriorityHigh
	case tier3Count >= 5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Meter is C9: the async tier-usage writer plus aggregation reads. It
// satisfies tierrouter.UsageLogger.
type Meter struct {
	repo       Repo
	costEngine *CostEngine
	ch         chan models.TierUsageLog
	wg         sync.WaitGroup
	mu         sync.Mutex
	dropped    int64
}

// New creates a meter with a buffered async write path. bufferSize
// defaults to 10000 entries if non-positive.
func New(repo Repo, costEngine *CostEngine, bufferSize int) *Meter {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	m := &Meter{
		repo:       repo,
		costEngine: costEngine,
		ch:         make(chan models.TierUsageLog, bufferSize),
	}
	m.wg.Add(1)
	go m.drain()
	return m
}

// Log queues one TierUsageLog row for async persistence. It never blocks
// the caller: §4.9 requires exactly one row per C4 call, but that write
// must never slow the resolve path. A full buffer drops the entry and
// counts it.
func (m *Meter) Log(ctx context.Context, entry models.TierUsageLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case m.ch <- entry:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
}

// Dropped returns how many log entries were discarded because the async
// buffer was full.
func (m *Meter) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Close flushes pending entries and stops the background writer.
func (m *Meter) Close() {
	close(m.ch)
	m.wg.Wait()
}

func (m *Meter) drain() {
	defer m.wg.Done()

	batch := make([]models.TierUsageLog, 0, 100)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-m.ch:
			if !ok {
				if len(batch) > 0 {
					m.flush(batch)
				}
				return
			}
			batch = append(batch, entry)
			if len(batch) >= 100 {
				m.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				m.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (m *Meter) flush(batch []models.TierUsageLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cp := make([]models.TierUsageLog, len(batch))
	copy(cp, batch)
	_ = m.repo.InsertUsageLogBatch(ctx, cp)
}

// Report aggregates tier usage over [from, to), optionally filtered to one
// operation, and prices the result with the meter's cost engine.
func (m *Meter) Report(ctx context.Context, userID uuid.UUID, from, to time.Time, operation *models.OperationType) (Aggregate, error) {
	agg, err := m.repo.Aggregate(ctx, userID, from, to, operation)
	if err != nil {
		return Aggregate{}, err
	}
	if agg.Total > 0 {
		agg.Tier1Rate = float64(agg.Tier1Count) / float64(agg.Total)
		agg.Tier2Rate = float64(agg.Tier2Count) / float64(agg.Total)
		agg.Tier3Rate = float64(agg.Tier3Count) / float64(agg.Total)
	}
	if m.costEngine != nil {
		agg.EstimatedCostUSD = m.costEngine.Estimate(agg.Tier1Count, agg.Tier2Count, agg.Tier3Count)
	}
	return agg, nil
}

// VendorPromotionCandidates surfaces every description with at least one
// tier-3 fallback in [from, to), each bucketed by priority.
func (m *Meter) VendorPromotionCandidates(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]VendorCandidate, error) {
	candidates, err := m.repo.VendorCandidates(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].Priority = PriorityFor(candidates[i].Tier3Count)
	}
	return candidates, nil
}
