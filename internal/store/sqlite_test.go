package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/towerline/rfrecon-cli/internal/audit"
	"github.com/towerline/rfrecon-cli/internal/engine"
	"github.com/towerline/rfrecon-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "rfrecon.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testRun(id string, started time.Time) *Run {
	snapshot := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	return &Run{
		ID:             id,
		StartedAt:      started,
		ParamsFile:     "params.xlsx",
		MonitoringFile: "monitoring_2026-03-13.xlsx",
		SnapshotDate:   &snapshot,
	}
}

func testStats() engine.Stats {
	return engine.Stats{
		Observations:  40,
		Processed:     38,
		Skipped:       2,
		Discrepancies: 7,
		AutoCorrected: 4,
		Flagged:       2,
		Conflicts:     1,
		RuleErrors:    1,
		ExtendedCells: 3,
	}
}

func testSummary(runID string) *audit.Summary {
	return &audit.Summary{
		RunID: runID,
		Total: 7,
		ByDecision: map[model.Decision]int{
			model.DecisionAutoCorrected:      4,
			model.DecisionFlaggedForReview:   2,
			model.DecisionUnresolvedConflict: 1,
		},
		ByRule: map[string]int{
			"azimuth_drift":   5,
			"latitude_bounds": 2,
		},
		BySeverity: map[model.Severity]int{
			model.SeverityMedium: 7,
		},
	}
}

func testActions() []model.CorrectionAction {
	date := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2026, 3, 14, 10, 0, 5, 0, time.UTC)
	clamped := 120.0
	return []model.CorrectionAction{
		{
			Discrepancy: model.Discrepancy{
				Key:        model.SectorKey{SiteID: "S1", SectorID: "A"},
				Date:       date,
				Field:      model.FieldHeight,
				Rule:       "height_range",
				Severity:   model.SeverityMedium,
				Confidence: 0.9,
				Strategy:   model.StrategyClampToBounds,
				Observed:   150,
				Detail:     "height 150 above bound 120",
			},
			Decision:  model.DecisionAutoCorrected,
			OldValue:  150,
			NewValue:  &clamped,
			Applied:   model.StrategyClampToBounds,
			User:      "system",
			Timestamp: ts,
		},
		{
			Discrepancy: model.Discrepancy{
				Key:        model.SectorKey{SiteID: "S1", SectorID: "B"},
				Date:       date,
				Field:      model.FieldAzimuth,
				Rule:       "azimuth_drift",
				Severity:   model.SeverityMedium,
				Confidence: 0.6,
				Strategy:   model.StrategyReplaceWithReference,
				Observed:   250,
			},
			Decision:  model.DecisionFlaggedForReview,
			OldValue:  250,
			Note:      "confidence 0.60 below threshold 0.80",
			Timestamp: ts,
		},
		{
			Discrepancy: model.Discrepancy{
				Key:        model.SectorKey{SiteID: "S2", SectorID: "A"},
				Field:      model.FieldSiteID,
				Rule:       "site_reference",
				Severity:   model.SeverityHigh,
				Confidence: 1,
				Strategy:   model.StrategyReject,
				Detail:     "no master row for S2/A",
			},
			Decision:  model.DecisionUnresolvedConflict,
			Note:      "conflicting proposals for azimuth",
			Timestamp: ts,
		},
	}
}

func TestSQLiteRunLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	run := testRun("run-1", started)
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, got.Finished())
	assert.Equal(t, "params.xlsx", got.ParamsFile)
	assert.Equal(t, "monitoring_2026-03-13.xlsx", got.MonitoringFile)
	assert.True(t, got.StartedAt.Equal(started))
	require.NotNil(t, got.SnapshotDate)
	assert.True(t, got.SnapshotDate.Equal(*run.SnapshotDate))
	assert.Nil(t, got.Summary)

	finished := started.Add(90 * time.Second)
	require.NoError(t, s.FinishRun(ctx, "run-1", finished, testStats(), testSummary("run-1")))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.Finished())
	assert.True(t, got.FinishedAt.Equal(finished))
	assert.Equal(t, testStats(), got.Stats)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 7, got.Summary.Total)
	assert.Equal(t, 4, got.Summary.ByDecision[model.DecisionAutoCorrected])
	assert.Equal(t, 5, got.Summary.ByRule["azimuth_drift"])
}

func TestSQLiteGetRunMissing(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)

	_, err := s.GetRun(context.Background(), "no-such-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteFinishRunMissing(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)

	err := s.FinishRun(context.Background(), "no-such-run", time.Now().UTC(), engine.Stats{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteListRunsOrdersAndPages(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, s.SaveRun(ctx, testRun(id, base.AddDate(0, 0, i))))
	}

	runs, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-a", runs[2].ID)

	page, err := s.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "run-b", page[0].ID)
}

func TestSQLiteActionsRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)
	ctx := context.Background()

	run := testRun("run-2", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveRun(ctx, run))
	require.NoError(t, s.SaveActions(ctx, "run-2", testActions()))

	got, err := s.ListActions(ctx, "run-2", ActionFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	auto := got[0]
	assert.Equal(t, model.SectorKey{SiteID: "S1", SectorID: "A"}, auto.Discrepancy.Key)
	assert.Equal(t, model.DecisionAutoCorrected, auto.Decision)
	assert.Equal(t, model.StrategyClampToBounds, auto.Applied)
	assert.Equal(t, 150.0, auto.OldValue)
	require.NotNil(t, auto.NewValue)
	assert.Equal(t, 120.0, *auto.NewValue)
	require.NotNil(t, auto.Discrepancy.Proposed)
	assert.Equal(t, "system", auto.User)
	assert.True(t, auto.Discrepancy.Date.Equal(time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "height 150 above bound 120", auto.Discrepancy.Detail)

	flagged := got[1]
	assert.Equal(t, model.DecisionFlaggedForReview, flagged.Decision)
	assert.Empty(t, flagged.Applied)
	assert.Nil(t, flagged.NewValue)
	assert.Equal(t, "confidence 0.60 below threshold 0.80", flagged.Note)

	conflict := got[2]
	assert.Equal(t, model.DecisionUnresolvedConflict, conflict.Decision)
	assert.True(t, conflict.Discrepancy.Date.IsZero())
}

func TestSQLiteListActionsFilters(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun("run-3", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))))
	require.NoError(t, s.SaveActions(ctx, "run-3", testActions()))

	flagged, err := s.ListActions(ctx, "run-3", ActionFilter{Decision: model.DecisionFlaggedForReview})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "azimuth_drift", flagged[0].Discrepancy.Rule)

	limited, err := s.ListActions(ctx, "run-3", ActionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	other, err := s.ListActions(ctx, "other-run", ActionFilter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteSaveActionsEmpty(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)
	require.NoError(t, s.SaveActions(context.Background(), "run-4", nil))
}

func TestSQLiteMigrateIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}
