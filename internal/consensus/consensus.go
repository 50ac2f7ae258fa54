package consensus

import (
	"sort"

	"github.com/towerline/rfrecon-cli/internal/geo"
	"github.com/towerline/rfrecon-cli/internal/match"
	"github.com/towerline/rfrecon-cli/internal/model"
)

// Options bound which values may take part in a station consensus.
type Options struct {
	LatBounds    geo.Range
	LonBounds    geo.Range
	HeightBounds geo.Range
	// TypePriority ranks structure types best-first. A type present on any
	// sector wins over every type ranked after it.
	TypePriority []string
}

// DefaultOptions returns physical coordinate bounds, the plausible height
// range, and the standard structure-type ranking.
func DefaultOptions() Options {
	return Options{
		LatBounds:    geo.Range{Min: -90, Max: 90},
		LonBounds:    geo.Range{Min: -180, Max: 180},
		HeightBounds: geo.Range{Min: 0, Max: 200},
		TypePriority: []string{"TOWER", "GREENFIELD", "MONOPOLE", "ROOFTOP", "MAST", "INDOOR"},
	}
}

// StationConsensus holds the values agreed across every sector row of one
// station. Fill passes and extended-cell detection treat these as the
// station's best-known attributes.
type StationConsensus struct {
	SiteID         string
	Latitude       float64
	Longitude      float64
	HasCoordinates bool
	// MaxHeight is the tallest in-bounds height on any sector, nil when no
	// sector carries one.
	MaxHeight      *float64
	StructureOwner string
	StructureType  string
	TxType         string
	Name           string
}

// ForStation derives the consensus over one station's sector rows:
// median in-bounds coordinates, maximum in-bounds height, most frequent
// owner and transmission type, priority-ranked structure type, and the
// longest name.
func ForStation(rows []*model.Site, opts Options) StationConsensus {
	c := StationConsensus{}
	if len(rows) == 0 {
		return c
	}
	c.SiteID = rows[0].Key.SiteID

	var lats, lons []float64
	var owners, types, txs []string
	for _, s := range rows {
		if opts.LatBounds.Contains(s.Latitude) && opts.LonBounds.Contains(s.Longitude) {
			lats = append(lats, s.Latitude)
			lons = append(lons, s.Longitude)
		}
		if s.Height != nil && opts.HeightBounds.Contains(*s.Height) {
			if c.MaxHeight == nil || *s.Height > *c.MaxHeight {
				c.MaxHeight = model.Float(*s.Height)
			}
		}
		if v := s.Label(model.LabelStructureOwner); v != "" {
			owners = append(owners, v)
		}
		if v := s.Label(model.LabelStructureType); v != "" {
			types = append(types, v)
		}
		if v := s.Label(model.LabelTxType); v != "" {
			txs = append(txs, v)
		}
		if len(s.Name) > len(c.Name) {
			c.Name = s.Name
		}
	}

	if len(lats) > 0 {
		c.Latitude = median(lats)
		c.Longitude = median(lons)
		c.HasCoordinates = true
	}
	c.StructureOwner = mostCommon(owners)
	c.StructureType = byPriority(types, opts.TypePriority)
	c.TxType = mostCommon(txs)

	return c
}

// median returns the middle value, averaging the two central values for
// even-sized input.
func median(xs []float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mostCommon returns the most frequent value, comparing normalized forms
// but reporting the original spelling of the winner. Ties go to the value
// seen first.
func mostCommon(values []string) string {
	if len(values) == 0 {
		return ""
	}
	counts := make(map[string]int, len(values))
	first := make(map[string]string, len(values))
	order := make([]string, 0, len(values))
	for _, v := range values {
		norm := match.NormalizeName(v)
		if norm == "" {
			continue
		}
		if _, seen := counts[norm]; !seen {
			first[norm] = v
			order = append(order, norm)
		}
		counts[norm]++
	}

	best, bestCount := "", 0
	for _, norm := range order {
		if counts[norm] > bestCount {
			best, bestCount = norm, counts[norm]
		}
	}
	return first[best]
}

// byPriority returns the present value ranked highest in priority,
// falling back to the most frequent value when none is ranked.
func byPriority(values, priority []string) string {
	if len(values) == 0 {
		return ""
	}
	for _, want := range priority {
		wantNorm := match.NormalizeName(want)
		for _, v := range values {
			if match.NormalizeName(v) == wantNorm {
				return v
			}
		}
	}
	return mostCommon(values)
}
