package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/towerline/rfrecon-cli/internal/model"
	"github.com/towerline/rfrecon-cli/internal/rules"
)

var keyS1 = model.SectorKey{SiteID: "S1", SectorID: "A"}

func testSetup(t *testing.T) (*model.SiteIndex, *rules.Registry) {
	t.Helper()

	sites, dups := model.NewSiteIndex([]model.Site{
		{Key: keyS1, Latitude: -20, Longitude: -70, Azimuth: model.Float(120), Height: model.Float(35)},
	})
	require.Empty(t, dups)

	reg, err := rules.NewRegistry(&rules.Config{
		Definitions: []rules.RuleConfig{
			{Name: "latitude_bounds", Kind: rules.KindBounds, Field: model.FieldLatitude,
				Min: model.Float(-33), Max: model.Float(-17), Confidence: 0.95},
			{Name: "azimuth_drift", Kind: rules.KindDrift, Field: model.FieldAzimuth,
				Threshold: 5, Confidence: 0.85},
			{Name: "site_reference", Kind: rules.KindReferential, Confidence: 1},
			{Name: "height_range", Kind: rules.KindRange, Field: model.FieldHeight,
				Min: model.Float(0), Max: model.Float(120), Confidence: 0.8},
		},
	}, nil)
	require.NoError(t, err)

	return sites, reg
}

func evalOne(t *testing.T, sites *model.SiteIndex, reg *rules.Registry, obs *model.Observation) []model.Discrepancy {
	t.Helper()
	discs, errs := reg.Evaluate(sites, obs)
	require.Empty(t, errs)
	return discs
}

func TestClassifyAutoCorrectAboveThreshold(t *testing.T) {
	t.Parallel()

	sites, reg := testSetup(t)
	c := New(reg, 0.8, 0)

	obs := &model.Observation{Key: keyS1, Fields: map[string]float64{
		model.FieldLatitude: 45, model.FieldAzimuth: 121, model.FieldHeight: 35,
	}}
	discs := evalOne(t, sites, reg, obs)
	require.Len(t, discs, 1) // only latitude out of range

	out := c.Classify(sites, obs, discs)
	require.Len(t, out, 1)
	assert.Equal(t, PolicyAutoCorrect, out[0].Policy)
	assert.Empty(t, out[0].Note)
}

func TestClassifyBelowThresholdGoesToReview(t *testing.T) {
	t.Parallel()

	sites, reg := testSetup(t)
	c := New(reg, 0.99, 0) // nothing clears this bar

	obs := &model.Observation{Key: keyS1, Fields: map[string]float64{model.FieldLatitude: 45}}
	discs := evalOne(t, sites, reg, obs)
	require.Len(t, discs, 1)

	out := c.Classify(sites, obs, discs)
	require.Len(t, out, 1)
	assert.Equal(t, PolicyManualReview, out[0].Policy)
	assert.Contains(t, out[0].Note, "below auto-correct threshold")
}

func TestClassifyRejectStrategyAlwaysReview(t *testing.T) {
	t.Parallel()

	sites, reg := testSetup(t)
	c := New(reg, 0.1, 0) // threshold low enough for anything

	orphan := &model.Observation{Key: model.SectorKey{SiteID: "S9", SectorID: "C"}}
	discs := evalOne(t, sites, reg, orphan)
	require.Len(t, discs, 1)
	assert.Equal(t, "site_reference", discs[0].Rule)

	out := c.Classify(sites, orphan, discs)
	require.Len(t, out, 1)
	assert.Equal(t, PolicyManualReview, out[0].Policy)
}

func TestClassifyConflictingProposalsEscalate(t *testing.T) {
	t.Parallel()

	sites, reg := testSetup(t)
	c := New(reg, 0.5, 0)

	obs := &model.Observation{Key: keyS1, Fields: map[string]float64{model.FieldHeight: 300}}
	discs := []model.Discrepancy{
		{Key: keyS1, Field: model.FieldHeight, Rule: "height_range",
			Severity: model.SeverityMedium, Confidence: 0.9,
			Strategy: model.StrategyClampToBounds, Observed: 300, Proposed: model.Float(120)},
		{Key: keyS1, Field: model.FieldHeight, Rule: "height_drift",
			Severity: model.SeverityMedium, Confidence: 0.9,
			Strategy: model.StrategyReplaceWithReference, Observed: 300, Proposed: model.Float(35)},
	}

	out := c.Classify(sites, obs, discs)
	require.Len(t, out, 2)
	for _, cl := range out {
		assert.Equal(t, PolicyUnresolvedConflict, cl.Policy)
		assert.Contains(t, cl.Note, "disagree")
	}
}

func TestClassifyCorroboratingProposalsCombineConfidence(t *testing.T) {
	t.Parallel()

	sites, reg := testSetup(t)
	c := New(reg, 0.8, 0)

	obs := &model.Observation{Key: keyS1, Fields: map[string]float64{model.FieldLatitude: 45}}
	discs := []model.Discrepancy{
		{Key: keyS1, Field: model.FieldLatitude, Rule: "latitude_bounds",
			Severity: model.SeverityMedium, Confidence: 0.95,
			Strategy: model.StrategyReplaceWithReference, Observed: 45,
			Reference: model.Float(-20), Proposed: model.Float(-20)},
		{Key: keyS1, Field: model.FieldLatitude, Rule: "latitude_drift",
			Severity: model.SeverityMedium, Confidence: 0.6, // alone, below threshold
			Strategy: model.StrategyReplaceWithReference, Observed: 45,
			Reference: model.Float(-20), Proposed: model.Float(-20)},
	}

	out := c.Classify(sites, obs, discs)
	require.Len(t, out, 2)
	for _, cl := range out {
		assert.Equal(t, PolicyAutoCorrect, cl.Policy)
		assert.Equal(t, 0.95, cl.Discrepancy.Confidence) // group maximum
	}
}

func TestClassifyProposalFailingOwnRuleGoesToReview(t *testing.T) {
	t.Parallel()

	sites, reg := testSetup(t)
	c := New(reg, 0.5, 0)

	// A reference value outside the configured range cannot be committed.
	obs := &model.Observation{Key: keyS1, Fields: map[string]float64{model.FieldLatitude: 45}}
	discs := []model.Discrepancy{
		{Key: keyS1, Field: model.FieldLatitude, Rule: "latitude_bounds",
			Severity: model.SeverityMedium, Confidence: 0.95,
			Strategy: model.StrategyReplaceWithReference, Observed: 45,
			Reference: model.Float(10), Proposed: model.Float(10)},
	}

	out := c.Classify(sites, obs, discs)
	require.Len(t, out, 1)
	assert.Equal(t, PolicyManualReview, out[0].Policy)
	assert.Contains(t, out[0].Note, "would not pass latitude_bounds")
}

func TestClassifyRecordGateDowngradesMessyRecords(t *testing.T) {
	t.Parallel()

	sites, reg := testSetup(t)
	c := New(reg, 0.5, 0.5)

	// Two of three monitored fields have findings: score 0.67 > 0.5.
	obs := &model.Observation{Key: keyS1, Fields: map[string]float64{
		model.FieldLatitude: 45, model.FieldAzimuth: 200, model.FieldHeight: 35,
	}}
	discs := evalOne(t, sites, reg, obs)
	require.Len(t, discs, 2)

	out := c.Classify(sites, obs, discs)
	for _, cl := range out {
		assert.Equal(t, PolicyManualReview, cl.Policy)
		assert.Contains(t, cl.Note, "record review score")
	}
}

func TestClassifyRecordGateDisabled(t *testing.T) {
	t.Parallel()

	sites, reg := testSetup(t)
	c := New(reg, 0.5, 0)

	obs := &model.Observation{Key: keyS1, Fields: map[string]float64{
		model.FieldLatitude: 45, model.FieldAzimuth: 200,
	}}
	discs := evalOne(t, sites, reg, obs)
	require.Len(t, discs, 2)

	out := c.Classify(sites, obs, discs)
	for _, cl := range out {
		assert.Equal(t, PolicyAutoCorrect, cl.Policy)
	}
}

func TestClassifyEmptyInput(t *testing.T) {
	t.Parallel()

	sites, reg := testSetup(t)
	c := New(reg, 0.8, 0.5)

	assert.Nil(t, c.Classify(sites, &model.Observation{Key: keyS1}, nil))
}
