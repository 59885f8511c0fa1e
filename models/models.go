// Package models holds the plain-record entity shapes of §3. Entities carry
// no behavior; repository types in sibling packages own persistence, and
// component packages own the operations that act on them.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/shopspring/decimal"
)

// VendorCategory classifies a vendor alias by merchant shape. It carries no
// weight in match scoring; it is a filter `find(description, categories[])`
// narrows a vendor-alias lookup by (spec.md:90).
type VendorCategory string

const (
	CategoryGeneric VendorCategory = "generic"
	CategoryAirline VendorCategory = "airline"
	CategoryHotel   VendorCategory = "hotel"
	CategoryRideShare VendorCategory = "ride_share"
	CategoryRestaurant VendorCategory = "restaurant"
)

// MatchStatus is the lifecycle state shared by Receipt, Transaction,
// TransactionGroup and ReceiptTransactionMatch.
type MatchStatus string

const (
	StatusUnmatched MatchStatus = "unmatched"
	StatusProposed  MatchStatus = "proposed"
	StatusMatched   MatchStatus = "matched"
	StatusConfirmed MatchStatus = "confirmed"
	StatusRejected  MatchStatus = "rejected"
)

// AmountSign records how a statement's source encodes the sign of a charge,
// so amount comparisons never depend on a raw signed number in the store.
type AmountSign string

const (
	AmountSignNegativeCharges AmountSign = "negative_charges"
	AmountSignPositiveCharges AmountSign = "positive_charges"
)

// OperationType names a C4 tier-router operation; it is also the
// operation_type column on TierUsageLog and the grouping key for C9
// aggregations.
type OperationType string

const (
	OpNormalization       OperationType = "normalization"
	OpCategorizationGL    OperationType = "categorization_gl"
	OpCategorizationDept  OperationType = "categorization_department"
	OpColumnMapping       OperationType = "column_mapping"
)

// Tier is the tier that answered a C4 resolve call. Tier 0 is the degraded
// "all tiers failed" outcome of §7.
type Tier int

const (
	TierDegraded Tier = 0
	Tier1        Tier = 1
	Tier2        Tier = 2
	Tier3        Tier = 3
)

// NormalizedTextCache is the content-addressed (raw text -> canonical text)
// store backing C1. Identity is Hash; HitCount is monotonically
// non-decreasing.
type NormalizedTextCache struct {
	Hash           string
	RawText        string
	CanonicalText  string
	HitCount       int64
	LastAccessedAt time.Time
}

// VendorAlias maps a transaction-description substring pattern to a
// canonical vendor identity and its preferred GL code / department (C5).
// Uniqueness is (CanonicalName, AliasPattern); a confidence tie goes to the
// higher MatchCount, and only then to the longer pattern.
type VendorAlias struct {
	ID                uuid.UUID
	UserID            *uuid.UUID // nil = system-wide alias
	CanonicalName     string
	AliasPattern      string
	DisplayName       string
	Category          VendorCategory
	DefaultGLCode     *string
	DefaultDepartment *string
	GLConfirmCount    int
	DeptConfirmCount  int
	MatchCount        int64
	LastMatchedAt     *time.Time
	Confidence        float64
}

// ExpenseEmbedding is a stored (description, vendor, gl/department) example
// with its embedding vector, used by C2's top-k similarity search. Verified
// rows never expire; unverified rows are pruned once ExpiresAt passes.
type ExpenseEmbedding struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	TransactionID     *uuid.UUID
	DescriptionText   string
	VendorNormalized  *string
	Embedding         pgvector.Vector
	GLCode            *string
	Department        *string
	Verified          bool
	ExpiresAt         *time.Time
}

// StatementFingerprint is a learned column mapping for a statement header
// shape (C7). UserID nil means a system-wide fallback; a non-nil UserID is
// a higher-priority per-user override.
type StatementFingerprint struct {
	ID             uuid.UUID
	UserID         *uuid.UUID
	HeaderHash     string
	SourceName     string
	ColumnMapping  map[string]string
	DateFormat     string
	AmountSign     AmountSign
	HitCount       int64
	LastUsedAt     time.Time
}

// TierUsageLog is an append-only record of one C4 resolve call, never
// mutated after insert (C9).
type TierUsageLog struct {
	UserID          uuid.UUID
	TransactionID   *uuid.UUID
	OperationType   OperationType
	Tier            Tier
	Confidence      *float64
	ResponseTimeMs  int64
	CacheHit        bool
	CreatedAt       time.Time
}

// Receipt is an uploaded, already-extracted receipt (extraction itself is
// external; only its result shape is consumed here).
type Receipt struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	VendorExtracted      *string
	DateExtracted        *time.Time
	AmountExtracted      *decimal.Decimal
	MatchStatus          MatchStatus
	MatchedTransactionID *uuid.UUID
}

// Transaction is one ingested statement line.
type Transaction struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	Description         string
	OriginalDescription string
	TransactionDate     time.Time
	Amount              decimal.Decimal
	MatchStatus         MatchStatus
	GroupID             *uuid.UUID
	MatchedReceiptID    *uuid.UUID
}

// TransactionGroup bundles related transactions (e.g. recurring charges)
// into one atomic matching candidate; member transactions are hidden from
// the candidate pool while grouped.
type TransactionGroup struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Name              string
	CombinedAmount    decimal.Decimal
	DisplayDate       time.Time
	TransactionCount  int
	MatchStatus       MatchStatus
	MatchedReceiptID  *uuid.UUID
}

// ReceiptTransactionMatch links a receipt to exactly one of a transaction or
// a transaction group (C8). Two Confirmed matches may never share a receipt
// or a transaction/group.
type ReceiptTransactionMatch struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	ReceiptID             uuid.UUID
	TransactionID         *uuid.UUID
	TransactionGroupID    *uuid.UUID
	Status                MatchStatus
	ConfidenceScore       float64
	AmountScore           float64
	DateScore             float64
	VendorScore           float64
	MatchReason           string
	MatchedVendorAliasID  *uuid.UUID
	IsManualMatch         bool
	ConfirmedAt           *time.Time
	ConfirmedByUserID     *uuid.UUID
}

// IsGroupMatch reports whether this match targets a transaction group
// rather than a single transaction.
func (m *ReceiptTransactionMatch) IsGroupMatch() bool {
	return m.TransactionGroupID != nil
}
