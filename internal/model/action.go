package model

import (
	"time"
)

// Decision is the outcome chosen for one Discrepancy.
type Decision string

const (
	DecisionAutoCorrected      Decision = "auto_corrected"
	DecisionFlaggedForReview   Decision = "flagged_for_review"
	DecisionUnresolvedConflict Decision = "unresolved_conflict"
)

// CorrectionAction records the processing outcome of one Discrepancy.
// Every Discrepancy yields exactly one CorrectionAction.
type CorrectionAction struct {
	Discrepancy Discrepancy `json:"discrepancy"`
	Decision    Decision    `json:"decision"`
	OldValue    float64     `json:"old_value"`
	// NewValue is set only when the decision is auto_corrected.
	NewValue *float64 `json:"new_value,omitempty"`
	// Applied is the strategy that produced NewValue; empty otherwise.
	Applied   Strategy  `json:"applied,omitempty"`
	User      string    `json:"user,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// Note explains a downgrade (failed re-validation, record review gate).
	Note string `json:"note,omitempty"`
}

// Corrected reports whether the action committed a new value.
func (a *CorrectionAction) Corrected() bool {
	return a.Decision == DecisionAutoCorrected && a.NewValue != nil
}

// NeedsReview reports whether the action requires human adjudication.
func (a *CorrectionAction) NeedsReview() bool {
	return a.Decision == DecisionFlaggedForReview || a.Decision == DecisionUnresolvedConflict
}
