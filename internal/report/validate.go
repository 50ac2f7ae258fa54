package report

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/towerline/rfrecon-cli/internal/geo"
	"github.com/towerline/rfrecon-cli/internal/model"
)

// CompareConfig sets the bounds the validation checks test against.
type CompareConfig struct {
	LatBounds    geo.Range
	LonBounds    geo.Range
	HeightBounds geo.Range
	// Boundary optionally restricts coordinates to a region polygon.
	Boundary *geo.Boundary
	// MaxSectors flags stations carrying more sectors than a physical
	// structure plausibly holds.
	MaxSectors int
}

// DefaultCompareConfig checks physical coordinate bounds, a 0-500 m
// height envelope, and a six-sector station limit.
func DefaultCompareConfig() CompareConfig {
	return CompareConfig{
		LatBounds:    geo.Range{Min: -90, Max: 90},
		LonBounds:    geo.Range{Min: -180, Max: 180},
		HeightBounds: geo.Range{Min: 0, Max: 500},
		MaxSectors:   6,
	}
}

// Check is one validation measure counted before and after.
type Check struct {
	Name   string `json:"name"`
	Before int    `json:"before"`
	After  int    `json:"after"`
}

// Delta reports the change; negative means fewer violations after.
func (c Check) Delta() int {
	return c.After - c.Before
}

// Validation is a before/after comparison of two master tables.
type Validation struct {
	BeforeRows int     `json:"before_rows"`
	AfterRows  int     `json:"after_rows"`
	Checks     []Check `json:"checks"`
}

// Compare counts violations in both tables, check by check.
func Compare(before, after []model.Site, cfg CompareConfig) *Validation {
	v := &Validation{BeforeRows: len(before), AfterRows: len(after)}

	measures := []struct {
		name  string
		count func([]model.Site) int
	}{
		{"duplicate_keys", countDuplicateKeys},
		{"oversectored_stations", func(sites []model.Site) int { return countOversectored(sites, cfg.MaxSectors) }},
		{"coordinates_out_of_bounds", func(sites []model.Site) int { return countOutOfBounds(sites, cfg) }},
		{"heights_out_of_range", func(sites []model.Site) int { return countBadHeights(sites, cfg.HeightBounds) }},
		{"blank_structure_attributes", countBlankAttributes},
	}
	if cfg.Boundary != nil {
		measures = append(measures, struct {
			name  string
			count func([]model.Site) int
		}{"coordinates_outside_boundary", func(sites []model.Site) int { return countOutsideBoundary(sites, cfg.Boundary) }})
	}

	for _, m := range measures {
		v.Checks = append(v.Checks, Check{Name: m.name, Before: m.count(before), After: m.count(after)})
	}
	return v
}

// ValidationMarkdown renders the comparison for the terminal.
func ValidationMarkdown(v *Validation) string {
	var b strings.Builder

	b.WriteString("# Validation Report\n")
	fmt.Fprintf(&b, "Rows: %d before, %d after\n\n", v.BeforeRows, v.AfterRows)

	b.WriteString("## Checks\n")
	for _, c := range v.Checks {
		fmt.Fprintf(&b, "- %s: %d -> %d (%+d)\n", c.Name, c.Before, c.After, c.Delta())
	}
	return b.String()
}

// WriteValidationWorkbook writes the comparison as a single-sheet
// workbook.
func WriteValidationWorkbook(path string, v *Validation) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("validation")
	if err != nil {
		return eris.Wrap(err, "report: add validation sheet")
	}

	addRow(sheet, "check", "before", "after", "delta")
	for _, c := range v.Checks {
		addRow(sheet, c.Name,
			fmt.Sprintf("%d", c.Before), fmt.Sprintf("%d", c.After), fmt.Sprintf("%+d", c.Delta()))
	}

	return eris.Wrap(f.Save(path), "report: save validation workbook")
}

func countDuplicateKeys(sites []model.Site) int {
	seen := make(map[model.SectorKey]int, len(sites))
	for i := range sites {
		seen[sites[i].Key]++
	}
	dups := 0
	for _, n := range seen {
		if n > 1 {
			dups += n - 1
		}
	}
	return dups
}

func countOversectored(sites []model.Site, maxSectors int) int {
	if maxSectors <= 0 {
		return 0
	}
	sectors := make(map[string]map[string]bool)
	for i := range sites {
		k := sites[i].Key
		if sectors[k.SiteID] == nil {
			sectors[k.SiteID] = make(map[string]bool)
		}
		sectors[k.SiteID][k.SectorID] = true
	}
	over := 0
	for _, secs := range sectors {
		if len(secs) > maxSectors {
			over++
		}
	}
	return over
}

func countOutOfBounds(sites []model.Site, cfg CompareConfig) int {
	n := 0
	for i := range sites {
		s := &sites[i]
		if !cfg.LatBounds.Contains(s.Latitude) || !cfg.LonBounds.Contains(s.Longitude) {
			n++
		}
	}
	return n
}

func countOutsideBoundary(sites []model.Site, boundary *geo.Boundary) int {
	n := 0
	for i := range sites {
		if !boundary.Contains(sites[i].Latitude, sites[i].Longitude) {
			n++
		}
	}
	return n
}

func countBadHeights(sites []model.Site, bounds geo.Range) int {
	n := 0
	for i := range sites {
		if h := sites[i].Height; h != nil && !bounds.Contains(*h) {
			n++
		}
	}
	return n
}

func countBlankAttributes(sites []model.Site) int {
	n := 0
	for i := range sites {
		s := &sites[i]
		if s.Label(model.LabelStructureOwner) == "" ||
			s.Label(model.LabelStructureType) == "" ||
			s.Label(model.LabelTxType) == "" {
			n++
		}
	}
	return n
}
