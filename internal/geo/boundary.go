package geo

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// Boundary is a service-region polygon loaded from a shapefile. Coordinates
// inside the configured rectangle can still fall outside the region (over
// water, across a border); the boundary catches those.
type Boundary struct {
	rings [][]float64
}

// NewBoundary builds a Boundary from rings of flat X,Y (lon,lat) pairs.
// Open rings are closed.
func NewBoundary(rings [][]float64) *Boundary {
	b := &Boundary{}
	for _, ring := range rings {
		if len(ring) < 6 {
			continue
		}
		n := len(ring)
		if ring[0] != ring[n-2] || ring[1] != ring[n-1] {
			ring = append(append([]float64{}, ring...), ring[0], ring[1])
		}
		b.rings = append(b.rings, ring)
	}
	return b
}

// LoadBoundary reads every polygon ring from a shapefile into a Boundary.
func LoadBoundary(path string) (*Boundary, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open boundary shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	b := &Boundary{}
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly.NumParts == 0 || len(poly.Points) == 0 {
			skipped++
			continue
		}

		for i := int32(0); i < poly.NumParts; i++ {
			start := poly.Parts[i]
			var end int32
			if i+1 < poly.NumParts {
				end = poly.Parts[i+1]
			} else {
				end = int32(len(poly.Points))
			}
			if end-start < 3 {
				skipped++
				continue
			}

			ring := make([]float64, 0, 2*(end-start+1))
			for j := start; j < end; j++ {
				ring = append(ring, poly.Points[j].X, poly.Points[j].Y)
			}
			// Close the ring if the source left it open.
			n := len(ring)
			if ring[0] != ring[n-2] || ring[1] != ring[n-1] {
				ring = append(ring, ring[0], ring[1])
			}
			b.rings = append(b.rings, ring)
		}
	}

	if skipped > 0 {
		zap.L().Debug("geo: skipped boundary shapes",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if len(b.rings) == 0 {
		return nil, eris.Errorf("geo: boundary shapefile %s contains no polygon rings", path)
	}

	return b, nil
}

// Contains reports whether the coordinate lies inside the boundary.
// Containment is even-odd across rings, so hole rings subtract.
func (b *Boundary) Contains(lat, lon float64) bool {
	p := geom.Coord{lon, lat}
	inside := 0
	for _, ring := range b.rings {
		if xy.IsPointInRing(geom.XY, p, ring) {
			inside++
		}
	}
	return inside%2 == 1
}

// Rings returns the number of loaded rings.
func (b *Boundary) Rings() int {
	return len(b.rings)
}
