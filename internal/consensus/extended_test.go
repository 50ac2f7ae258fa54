package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/towerline/rfrecon-cli/internal/model"
)

func detectorIndex(t *testing.T) *model.SiteIndex {
	t.Helper()
	ix, dups := model.NewSiteIndex([]model.Site{
		{Key: model.SectorKey{SiteID: "04BL0223", SectorID: "A"}, Latitude: -20.1000, Longitude: -70.2000},
		{Key: model.SectorKey{SiteID: "04BL0223", SectorID: "B"}, Latitude: -20.1000, Longitude: -70.2000},
		{Key: model.SectorKey{SiteID: "04BL0223", SectorID: "C"}, Latitude: -20.3000, Longitude: -70.4000},
	})
	require.Empty(t, dups)
	return ix
}

func TestIsExtendedName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		siteID   string
		cellName string
		want     bool
	}{
		{"plain repeater", "04BL0223", "04BL0223R1", true},
		{"lower case", "04BL0223", "04bl0223r2", true},
		{"multi digit", "04BL0223", "04BL0223R12", true},
		{"ordinary sector name", "04BL0223", "04BL0223A", false},
		{"missing digits", "04BL0223", "04BL0223R", false},
		{"trailing letters", "04BL0223", "04BL0223R1X", false},
		{"different site", "04BL0223", "04BL9999R1", false},
		{"empty", "", "R1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isExtendedName(tt.siteID, tt.cellName))
		})
	}
}

func TestModalCoordinatePicksLargestCluster(t *testing.T) {
	t.Parallel()

	ix := detectorIndex(t)
	lat, lon, ok := ModalCoordinate(ix.Station("04BL0223"))
	require.True(t, ok)
	// Two sectors agree at (-20.1, -70.2); the stray third does not move it.
	assert.InDelta(t, -20.1, lat, 1e-9)
	assert.InDelta(t, -70.2, lon, 1e-9)

	_, _, ok = ModalCoordinate(nil)
	assert.False(t, ok)
}

func TestDetectorExamine(t *testing.T) {
	t.Parallel()

	d := NewDetector(detectorIndex(t), 0.01)
	key := model.SectorKey{SiteID: "04BL0223", SectorID: "R1"}

	t.Run("far repeater is extended", func(t *testing.T) {
		t.Parallel()
		obs := &model.Observation{Key: key, CellName: "04BL0223R1",
			Fields: map[string]float64{model.FieldLatitude: -20.5, model.FieldLongitude: -70.2}}

		ec, ok := d.Examine(obs)
		require.True(t, ok)
		assert.Equal(t, "04BL0223R1", ec.CellName)
		assert.Greater(t, ec.Distance, 0.01)
	})

	t.Run("near repeater is not extended", func(t *testing.T) {
		t.Parallel()
		obs := &model.Observation{Key: key, CellName: "04BL0223R1",
			Fields: map[string]float64{model.FieldLatitude: -20.1001, model.FieldLongitude: -70.2001}}

		_, ok := d.Examine(obs)
		assert.False(t, ok)
	})

	t.Run("ordinary cell name", func(t *testing.T) {
		t.Parallel()
		obs := &model.Observation{Key: key, CellName: "04BL0223A",
			Fields: map[string]float64{model.FieldLatitude: -20.5, model.FieldLongitude: -70.2}}

		_, ok := d.Examine(obs)
		assert.False(t, ok)
	})

	t.Run("no coordinates", func(t *testing.T) {
		t.Parallel()
		obs := &model.Observation{Key: key, CellName: "04BL0223R1"}

		_, ok := d.Examine(obs)
		assert.False(t, ok)
	})

	t.Run("unknown station", func(t *testing.T) {
		t.Parallel()
		obs := &model.Observation{
			Key:      model.SectorKey{SiteID: "ZZ9", SectorID: "R1"},
			CellName: "ZZ9R1",
			Fields:   map[string]float64{model.FieldLatitude: -20.5, model.FieldLongitude: -70.2},
		}

		_, ok := d.Examine(obs)
		assert.False(t, ok)
	})
}
