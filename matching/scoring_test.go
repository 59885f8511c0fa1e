package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestAmountScoreExactBand(t *testing.T) {
	if got := AmountScore(d("42.50"), d("42.55"), d("0.10"), d("1.00")); got != 40 {
		t.Fatalf("expected 40, got %d", got)
	}
}

func TestAmountScoreNearBand(t *testing.T) {
	if got := AmountScore(d("42.50"), d("43.20"), d("0.10"), d("1.00")); got != 20 {
		t.Fatalf("expected 20, got %d", got)
	}
}

func TestAmountScoreNoMatch(t *testing.T) {
	if got := AmountScore(d("42.50"), d("50.00"), d("0.10"), d("1.00")); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestAmountScoreUsesAbsoluteCandidateAmount(t *testing.T) {
	if got := AmountScore(d("42.50"), d("-42.50"), d("0.10"), d("1.00")); got != 40 {
		t.Fatalf("expected 40 for sign-insensitive match, got %d", got)
	}
}

func TestDateScoreSameDay(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := DateScore(day, day); got != 35 {
		t.Fatalf("expected 35, got %d", got)
	}
}

func TestDateScoreBands(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		days int
		want int
	}{{0, 35}, {1, 30}, {2, 25}, {3, 25}, {4, 10}, {7, 10}, {8, 0}}
	for _, c := range cases {
		got := DateScore(base, base.AddDate(0, 0, c.days))
		if got != c.want {
			t.Fatalf("day distance %d: expected %d, got %d", c.days, c.want, got)
		}
	}
}

func TestVendorScoreEmptyReceiptVendor(t *testing.T) {
	if got := VendorScore("", "ACME", "ACME COFFEE", 0.70); got != 0 {
		t.Fatalf("expected 0 for empty receipt vendor, got %d", got)
	}
}

func TestVendorScoreAliasHit(t *testing.T) {
	if got := VendorScore("ACME COFFEE", "ACME", "", 0.70); got != 25 {
		t.Fatalf("expected 25 for alias hit, got %d", got)
	}
}

func TestVendorScoreFuzzyCandidateHit(t *testing.T) {
	if got := VendorScore("ACME COFFEE", "", "ACME COFEE", 0.70); got != 15 {
		t.Fatalf("expected 15 for fuzzy candidate hit, got %d", got)
	}
}

func TestVendorScoreNoHit(t *testing.T) {
	if got := VendorScore("ACME COFFEE", "", "ZZZZZZZZZZ", 0.70); got != 0 {
		t.Fatalf("expected 0 for no hit, got %d", got)
	}
}

func TestScoreTotal(t *testing.T) {
	s := Score{Amount: 40, Date: 35, Vendor: 25}
	if s.Total() != 100 {
		t.Fatalf("expected 100, got %d", s.Total())
	}
}
