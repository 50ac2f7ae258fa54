package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/towerline/rfrecon-cli/internal/audit"
	"github.com/towerline/rfrecon-cli/internal/engine"
	"github.com/towerline/rfrecon-cli/internal/model"
)

func TestFromResult(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC)
	trail := audit.New("run-1")
	require.NoError(t, trail.Append(model.CorrectionAction{
		Discrepancy: model.Discrepancy{
			Key:      model.SectorKey{SiteID: "BCN001", SectorID: "S1"},
			Field:    "height",
			Rule:     "height_range",
			Severity: model.SeverityMedium,
		},
		Decision: model.DecisionAutoCorrected,
	}))
	trail.Finalize()

	res := &engine.Result{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Trail:      trail,
		Stats:      engine.Stats{Observations: 5, Processed: 5, Discrepancies: 1, AutoCorrected: 1},
	}
	snapshot := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)

	run := FromResult(res, "params.xlsx", "monitoring_2026-03-13.xlsx", snapshot)

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, started, run.StartedAt)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, started.Add(3*time.Second), *run.FinishedAt)
	assert.True(t, run.Finished())
	assert.Equal(t, "params.xlsx", run.ParamsFile)
	assert.Equal(t, "monitoring_2026-03-13.xlsx", run.MonitoringFile)
	require.NotNil(t, run.SnapshotDate)
	assert.Equal(t, snapshot, *run.SnapshotDate)
	assert.Equal(t, res.Stats, run.Stats)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 1, run.Summary.Total)
	assert.Equal(t, 1, run.Summary.ByDecision[model.DecisionAutoCorrected])
}

func TestFromResultOptionalFields(t *testing.T) {
	t.Parallel()

	res := &engine.Result{
		RunID:      "run-2",
		StartedAt:  time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 3, 13, 8, 0, 1, 0, time.UTC),
	}

	run := FromResult(res, "params.xlsx", "monitoring.xlsx", time.Time{})

	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.Finished())
	assert.Nil(t, run.SnapshotDate)
	assert.Nil(t, run.Summary)
}
