package engine

import (
	"time"

	"github.com/towerline/rfrecon-cli/internal/audit"
	"github.com/towerline/rfrecon-cli/internal/consensus"
	"github.com/towerline/rfrecon-cli/internal/model"
	"github.com/towerline/rfrecon-cli/internal/rules"
)

// SkippedRecord ties a structural error to the input position of the
// observation it excluded from the run.
type SkippedRecord struct {
	Index int                   `json:"index"`
	Err   model.StructuralError `json:"error"`
}

// Stats are the headline counts for one reconciliation run.
type Stats struct {
	Observations  int `json:"observations"`
	Processed     int `json:"processed"`
	Skipped       int `json:"skipped"`
	Discrepancies int `json:"discrepancies"`
	AutoCorrected int `json:"auto_corrected"`
	Flagged       int `json:"flagged_for_review"`
	Conflicts     int `json:"unresolved_conflicts"`
	RuleErrors    int `json:"rule_errors"`
	ExtendedCells int `json:"extended_cells"`
}

// Result is the complete outcome of one run.
//
// Corrected mirrors the input observation slice position for position:
// processed records carry any committed corrections, skipped records are
// untouched copies. The trail is finalized and immutable.
type Result struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Corrected  []model.Observation     `json:"-"`
	Trail      *audit.Trail            `json:"-"`
	Skipped    []SkippedRecord         `json:"skipped,omitempty"`
	SiteErrors []model.StructuralError `json:"site_errors,omitempty"`
	RuleErrors []rules.EvaluationError `json:"-"`
	Extended   []consensus.ExtendedCell `json:"extended_cells,omitempty"`

	Stats Stats `json:"stats"`
}

// Duration reports the wall-clock time the run took.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
