// Package store persists reconciliation runs and their audit trails.
// SQLite backs single-operator use; Postgres backs shared deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/towerline/rfrecon-cli/internal/audit"
	"github.com/towerline/rfrecon-cli/internal/engine"
	"github.com/towerline/rfrecon-cli/internal/model"
)

// ErrNotFound reports a run id with no row. Both backends wrap it, so
// callers branch with errors.Is.
var ErrNotFound = eris.New("run not found")

// Run is one persisted reconciliation run. A row is written when the run
// starts and completed by FinishRun, so an aborted run stays visible as an
// unfinished row.
type Run struct {
	ID             string         `json:"id"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	ParamsFile     string         `json:"params_file,omitempty"`
	MonitoringFile string         `json:"monitoring_file,omitempty"`
	SnapshotDate   *time.Time     `json:"snapshot_date,omitempty"`
	Stats          engine.Stats   `json:"stats"`
	Summary        *audit.Summary `json:"summary,omitempty"`
}

// Finished reports whether the run completed.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// RunFilter narrows ListRuns. Zero values mean no constraint.
type RunFilter struct {
	// Limit caps returned rows; zero means the default of 100.
	Limit  int
	Offset int
}

// ActionFilter narrows ListActions within a run.
type ActionFilter struct {
	// Decision keeps only actions with this outcome when non-empty.
	Decision model.Decision
	// Limit caps returned rows; zero means no cap.
	Limit int
}

// Store is the persistence contract shared by the SQLite and Postgres
// backends.
type Store interface {
	// Migrate creates or upgrades the schema. Safe to call repeatedly.
	Migrate(ctx context.Context) error
	// SaveRun inserts the run row, typically before the engine starts.
	SaveRun(ctx context.Context, run *Run) error
	// FinishRun records completion time, stats and the trail summary.
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, stats engine.Stats, summary *audit.Summary) error
	// SaveActions appends the run's audit trail. Actions are stored in
	// the order given, which is the trail's finalized order.
	SaveActions(ctx context.Context, runID string, actions []model.CorrectionAction) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	ListActions(ctx context.Context, runID string, filter ActionFilter) ([]model.CorrectionAction, error)
	Close() error
}

const defaultRunLimit = 100

// runColumns is the select list shared by both backends, in scanRun order.
const runColumns = `id, started_at, finished_at, params_file, monitoring_file,
	snapshot_date, observations, processed, skipped, discrepancies,
	auto_corrected, flagged, conflicts, rule_errors, extended_cells, summary`

// nullableTime converts an optional time into a driver value.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// actionColumns is the insert column order shared by both backends.
var actionColumns = []string{
	"run_id", "site_id", "sector_id", "date", "field", "rule",
	"severity", "confidence", "decision", "old_value", "new_value",
	"strategy", "acted_by", "note", "detail", "created_at",
}

// actionRow flattens an action into the actionColumns order. Nullable
// cells are nil.
func actionRow(runID string, a model.CorrectionAction) []any {
	d := a.Discrepancy
	var date any
	if !d.Date.IsZero() {
		date = d.Date
	}
	var newValue any
	if a.NewValue != nil {
		newValue = *a.NewValue
	}
	return []any{
		runID, d.Key.SiteID, d.Key.SectorID, date, d.Field, d.Rule,
		string(d.Severity), d.Confidence, string(a.Decision), a.OldValue,
		newValue, string(d.Strategy), a.User, a.Note, d.Detail, a.Timestamp,
	}
}

// rebuildAction reverses actionRow for rows coming back from a backend.
// Reference values are not persisted, so the rebuilt discrepancy carries
// key, dates, rule metadata and observed value only.
func rebuildAction(siteID, sectorID string, date *time.Time, field, rule, severity string,
	confidence float64, decision string, oldValue float64, newValue *float64,
	strategy, actedBy, note, detail string, createdAt time.Time) model.CorrectionAction {
	a := model.CorrectionAction{
		Discrepancy: model.Discrepancy{
			Key:        model.SectorKey{SiteID: siteID, SectorID: sectorID},
			Field:      field,
			Rule:       rule,
			Severity:   model.Severity(severity),
			Confidence: confidence,
			Strategy:   model.Strategy(strategy),
			Observed:   oldValue,
			Detail:     detail,
		},
		Decision:  model.Decision(decision),
		OldValue:  oldValue,
		User:      actedBy,
		Note:      note,
		Timestamp: createdAt,
	}
	if date != nil {
		a.Discrepancy.Date = *date
	}
	if newValue != nil {
		v := *newValue
		a.NewValue = &v
		a.Discrepancy.Proposed = &v
	}
	if a.Decision == model.DecisionAutoCorrected {
		a.Applied = a.Discrepancy.Strategy
	}
	return a
}

// FromResult builds the Run row for a completed engine result.
func FromResult(res *engine.Result, paramsFile, monitoringFile string, snapshotDate time.Time) *Run {
	run := &Run{
		ID:             res.RunID,
		StartedAt:      res.StartedAt,
		ParamsFile:     paramsFile,
		MonitoringFile: monitoringFile,
		Stats:          res.Stats,
	}
	finished := res.FinishedAt
	run.FinishedAt = &finished
	if !snapshotDate.IsZero() {
		run.SnapshotDate = &snapshotDate
	}
	if res.Trail != nil {
		summary := res.Trail.Summarize()
		run.Summary = &summary
	}
	return run
}
