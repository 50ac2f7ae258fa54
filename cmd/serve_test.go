package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/towerline/rfrecon-cli/internal/engine"
	"github.com/towerline/rfrecon-cli/internal/model"
	"github.com/towerline/rfrecon-cli/internal/store"
)

// newServeStore seeds a SQLite store with one finished run and a
// two-action trail.
func newServeStore(t *testing.T) (store.Store, string) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	runID := "11111111-2222-3333-4444-555555555555"
	started := time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC)
	snapshot := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveRun(ctx, &store.Run{
		ID:             runID,
		StartedAt:      started,
		ParamsFile:     "params.xlsx",
		MonitoringFile: "monitoring_2026-03-13.xlsx",
		SnapshotDate:   &snapshot,
	}))

	stats := engine.Stats{Observations: 10, Processed: 9, Skipped: 1, Discrepancies: 2, AutoCorrected: 1, Flagged: 1}
	require.NoError(t, st.FinishRun(ctx, runID, started.Add(2*time.Second), stats, nil))

	actions := []model.CorrectionAction{
		{
			Discrepancy: model.Discrepancy{
				Key: model.SectorKey{SiteID: "BCN001", SectorID: "S1"}, Date: snapshot,
				Field: model.FieldHeight, Rule: "height_range",
				Severity: model.SeverityMedium, Confidence: 0.8,
				Strategy: model.StrategyClampToBounds, Observed: 150,
			},
			Decision: model.DecisionAutoCorrected, OldValue: 150,
			NewValue: model.Float(120), Applied: model.StrategyClampToBounds,
			User: "system", Timestamp: started.Add(time.Second),
		},
		{
			Discrepancy: model.Discrepancy{
				Key: model.SectorKey{SiteID: "BCN002", SectorID: "S1"}, Date: snapshot,
				Field: model.FieldAzimuth, Rule: "azimuth_drift",
				Severity: model.SeverityMedium, Confidence: 0.6,
				Strategy: model.StrategyReplaceWithReference, Observed: 270,
			},
			Decision: model.DecisionFlaggedForReview, OldValue: 270,
			User: "system", Timestamp: started.Add(time.Second),
			Note: "confidence 0.60 below threshold 0.80",
		},
	}
	require.NoError(t, st.SaveActions(ctx, runID, actions))
	return st, runID
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestReviewMuxHealth(t *testing.T) {
	st, _ := newServeStore(t)

	rr := get(t, reviewMux(st), "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestReviewMuxListRuns(t *testing.T) {
	st, runID := newServeStore(t)

	rr := get(t, reviewMux(st), "/api/runs")
	assert.Equal(t, http.StatusOK, rr.Code)

	var runs []store.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.True(t, runs[0].Finished())
	assert.Equal(t, 9, runs[0].Stats.Processed)
}

func TestReviewMuxGetRun(t *testing.T) {
	st, runID := newServeStore(t)
	mux := reviewMux(st)

	rr := get(t, mux, "/api/runs/"+runID)
	assert.Equal(t, http.StatusOK, rr.Code)

	var run store.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, "monitoring_2026-03-13.xlsx", run.MonitoringFile)
	assert.Equal(t, 1, run.Stats.AutoCorrected)
}

func TestReviewMuxGetRunMissing(t *testing.T) {
	st, _ := newServeStore(t)

	rr := get(t, reviewMux(st), "/api/runs/no-such-run")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "error")
}

func TestReviewMuxActions(t *testing.T) {
	st, runID := newServeStore(t)
	mux := reviewMux(st)

	rr := get(t, mux, "/api/runs/"+runID+"/actions")
	assert.Equal(t, http.StatusOK, rr.Code)

	var actions []model.CorrectionAction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &actions))
	require.Len(t, actions, 2)

	rr = get(t, mux, "/api/runs/"+runID+"/actions?decision=auto_corrected")
	actions = nil
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, model.DecisionAutoCorrected, actions[0].Decision)
	assert.Equal(t, "height_range", actions[0].Discrepancy.Rule)
}

func TestReviewMuxActionsMissingRun(t *testing.T) {
	st, _ := newServeStore(t)

	rr := get(t, reviewMux(st), "/api/runs/no-such-run/actions")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLogRequestsPassesThrough(t *testing.T) {
	st, _ := newServeStore(t)

	rr := get(t, logRequests(reviewMux(st)), "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=5&offset=junk", nil)
	assert.Equal(t, 5, queryInt(req, "limit"))
	assert.Equal(t, 0, queryInt(req, "offset"))
	assert.Equal(t, 0, queryInt(req, "missing"))
}
