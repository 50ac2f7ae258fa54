// Package loader reads master site tables and cell-monitoring snapshots
// from XLSX workbooks into canonical records. One sheet per technology;
// headers resolve through an alias table, numbers tolerate decimal commas
// and thousands separators. Rows that cannot enter a run are excluded and
// reported, never silently dropped.
package loader

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/towerline/rfrecon-cli/internal/model"
)

// LoadSites reads a master physical-parameters workbook. Every sheet is
// read; the sheet name supplies the technology unless a technology column
// overrides it. Rows missing identity or coordinates are excluded and
// returned as structural errors.
func LoadSites(path string) ([]model.Site, []model.StructuralError, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "loader: open master workbook")
	}

	var sites []model.Site
	var broken []model.StructuralError

	for _, sheet := range f.Sheets {
		hdr, start := sheetHeader(sheet)
		if len(hdr.cols) == 0 {
			zap.L().Debug("skipping empty sheet", zap.String("sheet", sheet.Name))
			continue
		}
		if !hdr.has(colSiteID) {
			zap.L().Warn("sheet has no site identifier column, skipping",
				zap.String("sheet", sheet.Name))
			continue
		}

		for i := start; i < len(sheet.Rows); i++ {
			cells := rowToStrings(sheet.Rows[i])
			if rowEmpty(cells) {
				continue
			}
			site, serr := siteFromRow(hdr, cells, sheet.Name, i+1)
			if serr != nil {
				broken = append(broken, *serr)
				continue
			}
			sites = append(sites, site)
		}
	}

	if len(sites) == 0 {
		return nil, broken, eris.Errorf("loader: no site rows found in %s", filepath.Base(path))
	}

	zap.L().Info("master table loaded",
		zap.String("file", filepath.Base(path)),
		zap.Int("sites", len(sites)),
		zap.Int("excluded", len(broken)),
	)
	return sites, broken, nil
}

// LoadObservations reads a cell-monitoring snapshot workbook. A zero date
// falls back to the capture date embedded in the filename.
func LoadObservations(path string, date time.Time) ([]model.Observation, []model.StructuralError, error) {
	if date.IsZero() {
		d, ok := DateFromFilename(path)
		if !ok {
			return nil, nil, eris.Errorf("loader: snapshot date not given and not derivable from %q", filepath.Base(path))
		}
		date = d
	}

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "loader: open snapshot workbook")
	}

	var observations []model.Observation
	var broken []model.StructuralError

	for _, sheet := range f.Sheets {
		hdr, start := sheetHeader(sheet)
		if len(hdr.cols) == 0 {
			zap.L().Debug("skipping empty sheet", zap.String("sheet", sheet.Name))
			continue
		}
		if !hdr.has(colSiteID) {
			zap.L().Warn("sheet has no site identifier column, skipping",
				zap.String("sheet", sheet.Name))
			continue
		}

		for i := start; i < len(sheet.Rows); i++ {
			cells := rowToStrings(sheet.Rows[i])
			if rowEmpty(cells) {
				continue
			}
			obs, serr := observationFromRow(hdr, cells, sheet.Name, i+1, date)
			if serr != nil {
				broken = append(broken, *serr)
				continue
			}
			observations = append(observations, obs)
		}
	}

	zap.L().Info("snapshot loaded",
		zap.String("file", filepath.Base(path)),
		zap.Time("date", date),
		zap.Int("observations", len(observations)),
		zap.Int("excluded", len(broken)),
	)
	return observations, broken, nil
}

func siteFromRow(hdr header, cells []string, sheet string, rownum int) (model.Site, *model.StructuralError) {
	site := model.Site{Technology: sheet}
	var hasLat, hasLon bool

	for _, b := range hdr.cols {
		raw := strings.TrimSpace(cellAt(cells, b.index))
		if raw == "" {
			continue
		}
		switch {
		case b.canonical == colSiteID:
			site.Key.SiteID = raw
		case b.canonical == colSectorID:
			site.Key.SectorID = raw
		case b.canonical == colName:
			site.Name = raw
		case b.canonical == colTechnology:
			site.Technology = raw
		case b.canonical == colCellName:
			// master rows carry no cell name
		case labelColumns[b.canonical]:
			site.SetLabel(b.canonical, raw)
		default:
			v, err := parseNumber(raw)
			if err != nil {
				return model.Site{}, &model.StructuralError{
					Key: site.Key, Sheet: sheet, Row: rownum,
					Reason: "unparseable number " + strconv.Quote(raw) + " in column " + b.canonical,
				}
			}
			switch b.canonical {
			case model.FieldLatitude:
				site.Latitude = v
				hasLat = true
			case model.FieldLongitude:
				site.Longitude = v
				hasLon = true
			case model.FieldAzimuth:
				site.Azimuth = model.Float(v)
			case model.FieldHeight:
				site.Height = model.Float(v)
			default:
				site.SetExtra(b.canonical, v)
			}
		}
	}

	if reason := siteRowReason(site, hasLat, hasLon); reason != "" {
		return model.Site{}, &model.StructuralError{Key: site.Key, Sheet: sheet, Row: rownum, Reason: reason}
	}
	return site, nil
}

func siteRowReason(site model.Site, hasLat, hasLon bool) string {
	switch {
	case site.Key.SiteID == "":
		return "missing site identifier"
	case site.Key.SectorID == "":
		return "missing sector identifier"
	case !hasLat || !hasLon:
		return "missing reference coordinates"
	default:
		return ""
	}
}

func observationFromRow(hdr header, cells []string, sheet string, rownum int, date time.Time) (model.Observation, *model.StructuralError) {
	obs := model.Observation{Technology: sheet, Date: date}

	for _, b := range hdr.cols {
		raw := strings.TrimSpace(cellAt(cells, b.index))
		if raw == "" {
			continue
		}
		switch {
		case b.canonical == colSiteID:
			obs.Key.SiteID = raw
		case b.canonical == colSectorID:
			obs.Key.SectorID = raw
		case b.canonical == colCellName:
			obs.CellName = raw
		case b.canonical == colTechnology:
			obs.Technology = raw
		case b.canonical == colName:
			// snapshots repeat the site name; identity comes from the key
		case labelColumns[b.canonical]:
			obs.SetLabel(b.canonical, raw)
		default:
			v, err := parseNumber(raw)
			if err != nil {
				return model.Observation{}, &model.StructuralError{
					Key: obs.Key, Sheet: sheet, Row: rownum,
					Reason: "unparseable number " + strconv.Quote(raw) + " in column " + b.canonical,
				}
			}
			obs.Set(b.canonical, v)
		}
	}

	switch {
	case obs.Key.SiteID == "":
		return model.Observation{}, &model.StructuralError{Key: obs.Key, Sheet: sheet, Row: rownum, Reason: "missing site identifier"}
	case obs.Key.SectorID == "":
		return model.Observation{}, &model.StructuralError{Key: obs.Key, Sheet: sheet, Row: rownum, Reason: "missing sector identifier"}
	}
	return obs, nil
}

// sheetHeader finds the first non-empty row, parses it as the header, and
// returns the index of the first data row.
func sheetHeader(sheet *xlsx.Sheet) (header, int) {
	for i, row := range sheet.Rows {
		cells := rowToStrings(row)
		if rowEmpty(cells) {
			continue
		}
		return parseHeader(cells), i + 1
	}
	return header{}, len(sheet.Rows)
}

var (
	isoDateRe     = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	compactDateRe = regexp.MustCompile(`\d{8}`)
)

// DateFromFilename extracts a capture date embedded in a snapshot
// filename, accepting 2006-01-02 and 20060102 forms.
func DateFromFilename(path string) (time.Time, bool) {
	base := filepath.Base(path)

	if m := isoDateRe.FindString(base); m != "" {
		if d, err := time.Parse("2006-01-02", m); err == nil && plausibleDate(d) {
			return d, true
		}
	}
	if m := compactDateRe.FindString(base); m != "" {
		if d, err := time.Parse("20060102", m); err == nil && plausibleDate(d) {
			return d, true
		}
	}
	return time.Time{}, false
}

func plausibleDate(d time.Time) bool {
	return d.Year() >= 2000 && d.Year() <= 2100
}

// parseNumber reads a float from export spellings: decimal commas,
// dotted thousands groups, and stray spaces.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	if strings.Contains(s, ",") {
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			// 1,234.56 groups thousands with commas
			s = strings.ReplaceAll(s, ",", "")
		} else {
			// 1.234,56 and 20,5 use the decimal comma
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	}
	return strconv.ParseFloat(s, 64)
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func rowEmpty(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cellAt(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}
