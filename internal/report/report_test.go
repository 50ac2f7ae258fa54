package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/towerline/rfrecon-cli/internal/engine"
	"github.com/towerline/rfrecon-cli/internal/fill"
	"github.com/towerline/rfrecon-cli/internal/geo"
	"github.com/towerline/rfrecon-cli/internal/model"
	"github.com/towerline/rfrecon-cli/internal/rules"
)

func buildResult(t *testing.T) *engine.Result {
	t.Helper()

	sites := []model.Site{
		{Key: model.SectorKey{SiteID: "S1", SectorID: "A"}, Name: "Cerro Moreno",
			Latitude: -20, Longitude: -70},
		{Key: model.SectorKey{SiteID: "S1", SectorID: "B"}, Name: "Cerro Moreno",
			Latitude: -20, Longitude: -70},
	}
	reg, err := rules.NewRegistry(&rules.Config{
		Definitions: []rules.RuleConfig{
			{Name: "latitude_bounds", Kind: rules.KindBounds, Field: model.FieldLatitude,
				Min: model.Float(-33), Max: model.Float(-17), Confidence: 0.95},
			{Name: "height_range", Kind: rules.KindRange, Field: model.FieldHeight,
				Min: model.Float(0), Max: model.Float(120), Confidence: 0.7},
		},
	}, nil)
	require.NoError(t, err)

	date := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	observations := []model.Observation{
		{Key: model.SectorKey{SiteID: "S1", SectorID: "A"}, CellName: "S1L1", Technology: "LTE",
			Date: date, Fields: map[string]float64{model.FieldLatitude: 45}},
		{Key: model.SectorKey{SiteID: "S1", SectorID: "B"}, CellName: "S1L2", Technology: "LTE",
			Date: date, Fields: map[string]float64{model.FieldHeight: 150}},
	}

	res, err := engine.New(reg, engine.Config{Workers: 1, AutoCorrectThreshold: 0.8}).
		Run(context.Background(), sites, observations)
	require.NoError(t, err)
	require.Equal(t, 1, res.Stats.AutoCorrected)
	require.Equal(t, 1, res.Stats.Flagged)
	return res
}

func cellValue(t *testing.T, sheet *xlsx.Sheet, row, col int) string {
	t.Helper()
	require.Greater(t, len(sheet.Rows), row)
	if col >= len(sheet.Rows[row].Cells) {
		return ""
	}
	return sheet.Rows[row].Cells[col].String()
}

func TestWriteRunWorkbook(t *testing.T) {
	t.Parallel()

	res := buildResult(t)
	path := filepath.Join(t.TempDir(), "run.xlsx")
	require.NoError(t, WriteRunWorkbook(path, res))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	for _, name := range []string{
		"summary", "corrected_observations", "corrections",
		"manual_review_required", "parameter_statistics", "extended_cells",
	} {
		_, ok := f.Sheet[name]
		assert.True(t, ok, "missing sheet %s", name)
	}

	corrected := f.Sheet["corrected_observations"]
	// header: site_id sector_id cell_name technology date latitude structure_height cell_type modified_by modified_at
	assert.Equal(t, "site_id", cellValue(t, corrected, 0, 0))
	assert.Equal(t, "latitude", cellValue(t, corrected, 0, 5))
	assert.Equal(t, "structure_height", cellValue(t, corrected, 0, 6))

	// the auto-corrected record shows the new value and the system user
	assert.Equal(t, "S1L1", cellValue(t, corrected, 1, 2))
	assert.Equal(t, "2026-03-14", cellValue(t, corrected, 1, 4))
	assert.Equal(t, "-20", cellValue(t, corrected, 1, 5))
	assert.Equal(t, "system", cellValue(t, corrected, 1, 8))

	// the flagged record keeps its observed value and no modified_by
	assert.Equal(t, "150", cellValue(t, corrected, 2, 6))
	assert.Equal(t, "", cellValue(t, corrected, 2, 8))

	corrections := f.Sheet["corrections"]
	require.Len(t, corrections.Rows, 3, "header plus one row per action")
	assert.Equal(t, "auto_corrected", cellValue(t, corrections, 1, 7))
	assert.Equal(t, "flagged_for_review", cellValue(t, corrections, 2, 7))

	review := f.Sheet["manual_review_required"]
	require.Len(t, review.Rows, 2, "header plus the flagged action")
	assert.Equal(t, "height_range", cellValue(t, review, 1, 4))

	stats := f.Sheet["parameter_statistics"]
	// rows: header, latitude, structure_height
	require.Len(t, stats.Rows, 3)
	assert.Equal(t, "latitude", cellValue(t, stats, 1, 0))
	assert.Equal(t, "1", cellValue(t, stats, 1, 3), "latitude auto_corrected count")
}

func TestMarkdownSummary(t *testing.T) {
	t.Parallel()

	md := Markdown(buildResult(t))

	assert.Contains(t, md, "# Reconciliation Run:")
	assert.Contains(t, md, "- Observations: 2")
	assert.Contains(t, md, "- Auto-corrected: 1")
	assert.Contains(t, md, "- Flagged for review: 1")
	assert.Contains(t, md, "- latitude_bounds: 1")
	assert.Contains(t, md, "- height_range: 1")
	assert.NotContains(t, md, "## Skipped Records")
}

func TestWriteFilledWorkbook(t *testing.T) {
	t.Parallel()

	res := &fill.Result{
		Sites: []model.Site{
			{Key: model.SectorKey{SiteID: "S1", SectorID: "A"}, Name: "Cerro Moreno", Technology: "LTE",
				Latitude: -20.1, Longitude: -70.2, Azimuth: model.Float(120),
				Labels: map[string]string{model.LabelStructureOwner: "TorreCo"},
				Extra:  map[string]float64{"power": 40}},
		},
		Changes: []fill.Change{
			{Key: model.SectorKey{SiteID: "S1", SectorID: "A"}, Field: model.LabelStructureOwner,
				Value: "TorreCo", Source: fill.SourceTemplate, Score: 0.92},
		},
		Blanks: []fill.Blank{
			{Key: model.SectorKey{SiteID: "S1", SectorID: "A"}, Field: model.LabelTxType},
		},
	}

	path := filepath.Join(t.TempDir(), "filled.xlsx")
	require.NoError(t, WriteFilledWorkbook(path, res))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	sites := f.Sheet["sites"]
	require.NotNil(t, sites)
	assert.Equal(t, "site_id", cellValue(t, sites, 0, 0))
	assert.Equal(t, "power", cellValue(t, sites, 0, 11), "extra columns follow the canonical ones")
	assert.Equal(t, "-20.1", cellValue(t, sites, 1, 4))
	assert.Equal(t, "120", cellValue(t, sites, 1, 6))
	assert.Equal(t, "", cellValue(t, sites, 1, 7), "nil height stays blank")
	assert.Equal(t, "TorreCo", cellValue(t, sites, 1, 8))
	assert.Equal(t, "40", cellValue(t, sites, 1, 11))

	fillReport := f.Sheet["fill_report"]
	require.Len(t, fillReport.Rows, 2)
	assert.Equal(t, "template", cellValue(t, fillReport, 1, 4))
	assert.Equal(t, "0.92", cellValue(t, fillReport, 1, 5))

	blank := f.Sheet["still_blank"]
	require.Len(t, blank.Rows, 2)
	assert.Equal(t, model.LabelTxType, cellValue(t, blank, 1, 2))
}

func TestCompareCountsViolations(t *testing.T) {
	t.Parallel()

	dup := model.SectorKey{SiteID: "S1", SectorID: "A"}
	before := []model.Site{
		{Key: dup, Latitude: 95, Longitude: -70, Height: model.Float(600)},
		{Key: dup, Latitude: -20, Longitude: -70},
		{Key: model.SectorKey{SiteID: "S2", SectorID: "A"}, Latitude: -21, Longitude: -70,
			Labels: map[string]string{
				model.LabelStructureOwner: "TorreCo",
				model.LabelStructureType:  "Tower",
				model.LabelTxType:         "Fiber",
			}},
	}
	after := []model.Site{
		{Key: dup, Latitude: -20, Longitude: -70, Height: model.Float(45),
			Labels: map[string]string{
				model.LabelStructureOwner: "TorreCo",
				model.LabelStructureType:  "Tower",
				model.LabelTxType:         "Fiber",
			}},
		{Key: model.SectorKey{SiteID: "S2", SectorID: "A"}, Latitude: -21, Longitude: -70,
			Labels: map[string]string{
				model.LabelStructureOwner: "TorreCo",
				model.LabelStructureType:  "Tower",
				model.LabelTxType:         "Fiber",
			}},
	}

	v := Compare(before, after, DefaultCompareConfig())
	assert.Equal(t, 3, v.BeforeRows)
	assert.Equal(t, 2, v.AfterRows)

	byName := make(map[string]Check)
	for _, c := range v.Checks {
		byName[c.Name] = c
	}

	assert.Equal(t, Check{Name: "duplicate_keys", Before: 1, After: 0}, byName["duplicate_keys"])
	assert.Equal(t, 1, byName["coordinates_out_of_bounds"].Before)
	assert.Equal(t, 0, byName["coordinates_out_of_bounds"].After)
	assert.Equal(t, 1, byName["heights_out_of_range"].Before)
	assert.Equal(t, 0, byName["heights_out_of_range"].After)
	assert.Equal(t, 2, byName["blank_structure_attributes"].Before)
	assert.Equal(t, 0, byName["blank_structure_attributes"].After)
	assert.Equal(t, -1, byName["duplicate_keys"].Delta())

	md := ValidationMarkdown(v)
	assert.Contains(t, md, "# Validation Report")
	assert.Contains(t, md, "duplicate_keys: 1 -> 0 (-1)")
}

func TestCompareWithBoundary(t *testing.T) {
	t.Parallel()

	boundary := geo.NewBoundary([][]float64{{
		-71, -21, -69, -21, -69, -19, -71, -19, -71, -21,
	}})
	cfg := DefaultCompareConfig()
	cfg.Boundary = boundary

	inside := model.Site{Key: model.SectorKey{SiteID: "S1", SectorID: "A"}, Latitude: -20, Longitude: -70}
	outside := model.Site{Key: model.SectorKey{SiteID: "S2", SectorID: "A"}, Latitude: -25, Longitude: -70}

	v := Compare([]model.Site{inside, outside}, []model.Site{inside}, cfg)

	var boundaryCheck *Check
	for i := range v.Checks {
		if v.Checks[i].Name == "coordinates_outside_boundary" {
			boundaryCheck = &v.Checks[i]
		}
	}
	require.NotNil(t, boundaryCheck)
	assert.Equal(t, 1, boundaryCheck.Before)
	assert.Equal(t, 0, boundaryCheck.After)
}

func TestWriteValidationWorkbook(t *testing.T) {
	t.Parallel()

	v := Compare(nil, nil, DefaultCompareConfig())
	path := filepath.Join(t.TempDir(), "validation.xlsx")
	require.NoError(t, WriteValidationWorkbook(path, v))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet := f.Sheet["validation"]
	require.NotNil(t, sheet)
	assert.Len(t, sheet.Rows, len(v.Checks)+1)
	assert.Equal(t, "check", cellValue(t, sheet, 0, 0))
}
