// Package geo provides coordinate math and service-boundary checks for
// cell-site positions.
package geo

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Clamp returns v limited to the nearest boundary of the range.
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// AngularDiff returns the smallest absolute difference between two bearings
// in degrees, accounting for wraparound at 360.
func AngularDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// DegreeDistance returns the planar distance in coordinate degrees between
// two latitude/longitude pairs. Extended-cell detection compares it against
// the configured coordinate threshold, which is expressed in degrees.
func DegreeDistance(lat1, lon1, lat2, lon2 float64) float64 {
	return xy.Distance(geom.Coord{lon1, lat1}, geom.Coord{lon2, lat2})
}
