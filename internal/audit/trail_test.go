package audit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/towerline/rfrecon-cli/internal/model"
)

func action(siteID, sectorID, field, rule string, decision model.Decision) model.CorrectionAction {
	return model.CorrectionAction{
		Discrepancy: model.Discrepancy{
			Key:   model.SectorKey{SiteID: siteID, SectorID: sectorID},
			Field: field,
			Rule:  rule,
		},
		Decision: decision,
	}
}

func TestTrailAppendAndLen(t *testing.T) {
	t.Parallel()

	tr := New("run-1")
	assert.Equal(t, "run-1", tr.RunID())
	assert.Equal(t, 0, tr.Len())

	require.NoError(t, tr.Append(
		action("S1", "A", "latitude", "latitude_bounds", model.DecisionAutoCorrected),
		action("S1", "A", "azimuth", "azimuth_drift", model.DecisionFlaggedForReview),
	))
	assert.Equal(t, 2, tr.Len())
}

func TestTrailFinalizeSeals(t *testing.T) {
	t.Parallel()

	tr := New("run-1")
	require.NoError(t, tr.Append(action("S1", "A", "latitude", "r", model.DecisionAutoCorrected)))

	tr.Finalize()
	assert.True(t, tr.Finalized())

	err := tr.Append(action("S2", "A", "latitude", "r", model.DecisionAutoCorrected))
	assert.Error(t, err)
	assert.Equal(t, 1, tr.Len())

	tr.Finalize() // second call is a no-op
	assert.Equal(t, 1, tr.Len())
}

func TestTrailFinalOrderIndependentOfAppendOrder(t *testing.T) {
	t.Parallel()

	shuffled := []model.CorrectionAction{
		action("S2", "A", "latitude", "latitude_bounds", model.DecisionAutoCorrected),
		action("S1", "B", "azimuth", "azimuth_drift", model.DecisionAutoCorrected),
		action("S1", "A", "longitude", "longitude_bounds", model.DecisionAutoCorrected),
		action("S1", "A", "azimuth", "azimuth_drift", model.DecisionAutoCorrected),
		action("S1", "A", "azimuth", "azimuth_bounds", model.DecisionAutoCorrected),
	}

	a := New("run-a")
	require.NoError(t, a.Append(shuffled...))
	a.Finalize()

	b := New("run-b")
	for i := len(shuffled) - 1; i >= 0; i-- {
		require.NoError(t, b.Append(shuffled[i]))
	}
	b.Finalize()

	order := func(tr *Trail) []string {
		var out []string
		for _, x := range tr.Actions() {
			d := x.Discrepancy
			out = append(out, d.Key.String()+":"+d.Field+":"+d.Rule)
		}
		return out
	}

	want := []string{
		"S1/A:azimuth:azimuth_bounds",
		"S1/A:azimuth:azimuth_drift",
		"S1/A:longitude:longitude_bounds",
		"S1/B:azimuth:azimuth_drift",
		"S2/A:latitude:latitude_bounds",
	}
	assert.Equal(t, want, order(a))
	assert.Equal(t, want, order(b))
}

func TestTrailConcurrentAppends(t *testing.T) {
	t.Parallel()

	tr := New("run-1")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = tr.Append(action("S1", "A", "azimuth", "azimuth_drift", model.DecisionAutoCorrected))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 400, tr.Len())
}

func TestTrailQueries(t *testing.T) {
	t.Parallel()

	tr := New("run-1")
	require.NoError(t, tr.Append(
		action("S1", "A", "latitude", "latitude_bounds", model.DecisionAutoCorrected),
		action("S1", "B", "azimuth", "azimuth_drift", model.DecisionFlaggedForReview),
		action("S2", "A", "structure_height", "height_range", model.DecisionUnresolvedConflict),
		action("S2", "B", "latitude", "latitude_bounds", model.DecisionAutoCorrected),
	))
	tr.Finalize()

	assert.Len(t, tr.ByDecision(model.DecisionAutoCorrected), 2)
	assert.Len(t, tr.ByDecision(model.DecisionFlaggedForReview), 1)
	assert.Len(t, tr.BySite("S1"), 2)
	assert.Len(t, tr.BySite("S3"), 0)
	assert.Len(t, tr.ByRule("latitude_bounds"), 2)

	review := tr.ManualReview()
	require.Len(t, review, 2)
	for _, a := range review {
		assert.True(t, a.NeedsReview())
	}
}

func TestTrailSummarize(t *testing.T) {
	t.Parallel()

	tr := New("run-1")
	high := action("S1", "A", "site_id", "site_reference", model.DecisionFlaggedForReview)
	high.Discrepancy.Severity = model.SeverityHigh
	med := action("S1", "B", "azimuth", "azimuth_drift", model.DecisionAutoCorrected)
	med.Discrepancy.Severity = model.SeverityMedium
	require.NoError(t, tr.Append(high, med))
	tr.Finalize()

	s := tr.Summarize()
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.ByDecision[model.DecisionAutoCorrected])
	assert.Equal(t, 1, s.ByDecision[model.DecisionFlaggedForReview])
	assert.Equal(t, 1, s.ByRule["site_reference"])
	assert.Equal(t, 1, s.BySeverity[model.SeverityHigh])
	assert.Equal(t, 1, s.BySeverity[model.SeverityMedium])
}

func TestTrailActionsReturnsCopy(t *testing.T) {
	t.Parallel()

	tr := New("run-1")
	require.NoError(t, tr.Append(action("S1", "A", "latitude", "r", model.DecisionAutoCorrected)))
	tr.Finalize()

	got := tr.Actions()
	got[0].Decision = model.DecisionUnresolvedConflict

	assert.Equal(t, model.DecisionAutoCorrected, tr.Actions()[0].Decision)
}
