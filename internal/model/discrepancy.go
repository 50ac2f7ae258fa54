package model

import (
	"math"
	"time"
)

// Severity classifies how serious a rule violation is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Strategy names a deterministic correction method.
type Strategy string

const (
	StrategyReplaceWithReference Strategy = "replace_with_reference"
	StrategyClampToBounds        Strategy = "clamp_to_bounds"
	// StrategyReject declares that no safe automatic correction exists;
	// every discrepancy carrying it goes to manual review.
	StrategyReject Strategy = "reject"
)

// Discrepancy is one rule violation on one field of one record. Rules
// flagging the same field each produce their own Discrepancy; they are
// never merged.
type Discrepancy struct {
	Key        SectorKey `json:"key"`
	Date       time.Time `json:"date"`
	Field      string    `json:"field"`
	Rule       string    `json:"rule"`
	Severity   Severity  `json:"severity"`
	Confidence float64   `json:"confidence"`
	Strategy   Strategy  `json:"strategy"`
	// Observed is the record's current value for Field. Zero for
	// referential findings, whose offending value is the key itself
	// (carried in Detail).
	Observed float64 `json:"observed"`
	// Reference is the matching site's value for Field, when one exists.
	Reference *float64 `json:"reference,omitempty"`
	// Proposed is the correction target under Strategy; nil when the
	// strategy is reject.
	Proposed *float64 `json:"proposed,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

// SameValue reports whether two field values are equal within the
// tolerance used when comparing proposed corrections.
func SameValue(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}

// Float returns a pointer to v. Shorthand for building optional values.
func Float(v float64) *float64 {
	return &v
}
