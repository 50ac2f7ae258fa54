package consensus

import (
	"fmt"
	"math"
	"strings"

	"github.com/towerline/rfrecon-cli/internal/geo"
	"github.com/towerline/rfrecon-cli/internal/model"
)

// ExtendedCell describes an observation identified as an extended cell:
// named like a repeater of its station and broadcasting far from the
// station's coordinate cluster.
type ExtendedCell struct {
	Key       model.SectorKey `json:"key"`
	CellName  string          `json:"cell_name"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	// Distance is the degree distance from the station's modal coordinate.
	Distance float64 `json:"distance"`
}

func (e ExtendedCell) String() string {
	return fmt.Sprintf("%s (%s) %.4f deg from station", e.CellName, e.Key, e.Distance)
}

// Detector identifies extended cells against the master table.
type Detector struct {
	sites     *model.SiteIndex
	threshold float64
}

// NewDetector creates a Detector. threshold is the degree distance beyond
// which a repeater-named cell counts as extended.
func NewDetector(sites *model.SiteIndex, threshold float64) *Detector {
	return &Detector{sites: sites, threshold: threshold}
}

// Examine reports whether the observation is an extended cell. The cell
// name must read as "<site id>R<n>" and the observed coordinates must sit
// further than the threshold from the station's modal coordinate.
func (d *Detector) Examine(obs *model.Observation) (ExtendedCell, bool) {
	if !isExtendedName(obs.Key.SiteID, obs.CellName) {
		return ExtendedCell{}, false
	}
	lat, latOK := obs.Value(model.FieldLatitude)
	lon, lonOK := obs.Value(model.FieldLongitude)
	if !latOK || !lonOK {
		return ExtendedCell{}, false
	}

	stationLat, stationLon, ok := ModalCoordinate(d.sites.Station(obs.Key.SiteID))
	if !ok {
		return ExtendedCell{}, false
	}

	dist := geo.DegreeDistance(lat, lon, stationLat, stationLon)
	if dist <= d.threshold {
		return ExtendedCell{}, false
	}

	return ExtendedCell{
		Key:       obs.Key,
		CellName:  obs.CellName,
		Latitude:  lat,
		Longitude: lon,
		Distance:  dist,
	}, true
}

// isExtendedName matches "<site id>R<digits>", case-insensitively.
func isExtendedName(siteID, cellName string) bool {
	if siteID == "" || len(cellName) < len(siteID)+2 {
		return false
	}
	if !strings.EqualFold(cellName[:len(siteID)], siteID) {
		return false
	}
	rest := cellName[len(siteID):]
	if rest[0] != 'R' && rest[0] != 'r' {
		return false
	}
	for _, c := range rest[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ModalCoordinate returns the centroid of the largest cluster of the
// rows' coordinates, clustering at four decimal places (around 11 m).
// Ties go to the cluster seen first.
func ModalCoordinate(rows []*model.Site) (lat, lon float64, ok bool) {
	if len(rows) == 0 {
		return 0, 0, false
	}

	type cell struct{ lat, lon float64 }
	clusters := make(map[cell][]int)
	var order []cell
	for i, s := range rows {
		key := cell{roundTo(s.Latitude, 4), roundTo(s.Longitude, 4)}
		if _, seen := clusters[key]; !seen {
			order = append(order, key)
		}
		clusters[key] = append(clusters[key], i)
	}

	var best cell
	bestSize := 0
	for _, key := range order {
		if len(clusters[key]) > bestSize {
			best, bestSize = key, len(clusters[key])
		}
	}

	var sumLat, sumLon float64
	for _, i := range clusters[best] {
		sumLat += rows[i].Latitude
		sumLon += rows[i].Longitude
	}
	n := float64(bestSize)
	return sumLat / n, sumLon / n, true
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
