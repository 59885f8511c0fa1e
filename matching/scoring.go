// Package matching implements C8: the deterministic, ambiguity-aware
// receipt-to-transaction(-or-group) matching engine. Scoring itself has no
// teacher analogue; the concurrency shape (per-key serialization of an
// auto-match pass) is adapted from the gateway's KeyedMutex
// (middleware/concurrency.go), renamed and narrowed to a single purpose.
package matching

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/expensecore/expense-engine/fuzzyvendor"
)

// ScoreInput is the receipt side of one scoring comparison.
type ScoreInput struct {
	Amount decimal.Decimal
	Date   time.Time
	Vendor string // vendor_extracted, possibly empty
}

// Score holds the three component scores and their sum, per §4.8.
type Score struct {
	Amount int
	Date   int
	Vendor int
}

// Total is the sum of the three component scores.
func (s Score) Total() int { return s.Amount + s.Date + s.Vendor }

// AmountScore implements §4.8's amount scoring band.
func AmountScore(receiptAmount, candidateAmount decimal.Decimal, exactTolerance, nearTolerance decimal.Decimal) int {
	diff := receiptAmount.Sub(candidateAmount.Abs()).Abs()
	switch {
	case diff.LessThanOrEqual(exactTolerance):
		return 40
	case diff.LessThanOrEqual(nearTolerance):
		return 20
	default:
		return 0
	}
}

// DateScore implements §4.8's date scoring band over the absolute
// difference in whole days between the receipt and candidate dates.
func DateScore(receiptDate, candidateDate time.Time) int {
	d := dayDistance(receiptDate, candidateDate)
	switch {
	case d == 0:
		return 35
	case d == 1:
		return 30
	case d >= 2 && d <= 3:
		return 25
	case d >= 4 && d <= 7:
		return 10
	default:
		return 0
	}
}

func dayDistance(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Abs(ad.Sub(bd).Hours() / 24))
}

// VendorScore implements §4.8's vendor scoring band. aliasCanonicalName is
// the canonical name of the best alias match for the candidate's
// description, if any ("" if no alias matched). candidatePattern is C10's
// canonical pattern for the candidate's own description.
func VendorScore(receiptVendor, aliasCanonicalName, candidatePattern string, fuzzyThreshold float64) int {
	if receiptVendor == "" {
		return 0
	}
	if aliasCanonicalName != "" && fuzzyvendor.Similarity(aliasCanonicalName, receiptVendor) >= fuzzyThreshold {
		return 25
	}
	if candidatePattern != "" && fuzzyvendor.Similarity(candidatePattern, receiptVendor) >= fuzzyThreshold {
		return 15
	}
	return 0
}
