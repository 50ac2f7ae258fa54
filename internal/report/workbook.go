// Package report renders run results, fill results, and validation
// comparisons as xlsx workbooks and markdown summaries.
package report

import (
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/towerline/rfrecon-cli/internal/engine"
	"github.com/towerline/rfrecon-cli/internal/fill"
	"github.com/towerline/rfrecon-cli/internal/model"
)

const dateLayout = "2006-01-02"

// WriteRunWorkbook writes the full run report: the corrected observation
// table, every action, the review queue, per-parameter statistics, and
// the extended-cell list.
func WriteRunWorkbook(path string, res *engine.Result) error {
	f := xlsx.NewFile()

	if err := summarySheet(f, res); err != nil {
		return err
	}
	if err := correctedSheet(f, res); err != nil {
		return err
	}
	if err := correctionsSheet(f, res); err != nil {
		return err
	}
	if err := reviewSheet(f, res); err != nil {
		return err
	}
	if err := statisticsSheet(f, res); err != nil {
		return err
	}
	if err := extendedSheet(f, res); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "report: save run workbook")
	}
	zap.L().Info("run report written", zap.String("file", path), zap.String("run_id", res.RunID))
	return nil
}

func summarySheet(f *xlsx.File, res *engine.Result) error {
	sheet, err := f.AddSheet("summary")
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}

	rows := [][]string{
		{"run_id", res.RunID},
		{"started_at", res.StartedAt.Format(time.RFC3339)},
		{"finished_at", res.FinishedAt.Format(time.RFC3339)},
		{"observations", strconv.Itoa(res.Stats.Observations)},
		{"processed", strconv.Itoa(res.Stats.Processed)},
		{"skipped", strconv.Itoa(res.Stats.Skipped)},
		{"discrepancies", strconv.Itoa(res.Stats.Discrepancies)},
		{"auto_corrected", strconv.Itoa(res.Stats.AutoCorrected)},
		{"flagged_for_review", strconv.Itoa(res.Stats.Flagged)},
		{"unresolved_conflicts", strconv.Itoa(res.Stats.Conflicts)},
		{"rule_errors", strconv.Itoa(res.Stats.RuleErrors)},
		{"extended_cells", strconv.Itoa(res.Stats.ExtendedCells)},
	}
	for _, r := range rows {
		addRow(sheet, r...)
	}
	return nil
}

func correctedSheet(f *xlsx.File, res *engine.Result) error {
	sheet, err := f.AddSheet("corrected_observations")
	if err != nil {
		return eris.Wrap(err, "report: add corrected sheet")
	}

	fields := observedFields(res.Corrected)
	header := append([]string{"site_id", "sector_id", "cell_name", "technology", "date"}, fields...)
	header = append(header, "cell_type", "modified_by", "modified_at")
	addRow(sheet, header...)

	modified := modifiedIndex(res)
	for i := range res.Corrected {
		obs := &res.Corrected[i]
		row := []string{obs.Key.SiteID, obs.Key.SectorID, obs.CellName, obs.Technology, fmtDate(obs.Date)}
		for _, field := range fields {
			if v, ok := obs.Value(field); ok {
				row = append(row, fmtFloat(v))
			} else {
				row = append(row, "")
			}
		}
		row = append(row, obs.Label(model.LabelCellType))
		if m, ok := modified[recordRef(obs.Key, obs.Date)]; ok {
			row = append(row, m.User, m.Timestamp.Format(time.RFC3339))
		} else {
			row = append(row, "", "")
		}
		addRow(sheet, row...)
	}
	return nil
}

func correctionsSheet(f *xlsx.File, res *engine.Result) error {
	sheet, err := f.AddSheet("corrections")
	if err != nil {
		return eris.Wrap(err, "report: add corrections sheet")
	}

	addRow(sheet, "site_id", "sector_id", "date", "field", "rule", "severity", "confidence",
		"decision", "old_value", "new_value", "strategy", "user", "timestamp", "note", "detail")
	for _, a := range res.Trail.Actions() {
		d := a.Discrepancy
		addRow(sheet,
			d.Key.SiteID, d.Key.SectorID, fmtDate(d.Date), d.Field, d.Rule,
			string(d.Severity), fmtFloat(d.Confidence), string(a.Decision),
			fmtFloat(a.OldValue), fmtFloatPtr(a.NewValue), string(a.Applied),
			a.User, a.Timestamp.Format(time.RFC3339), a.Note, d.Detail,
		)
	}
	return nil
}

func reviewSheet(f *xlsx.File, res *engine.Result) error {
	sheet, err := f.AddSheet("manual_review_required")
	if err != nil {
		return eris.Wrap(err, "report: add review sheet")
	}

	addRow(sheet, "site_id", "sector_id", "date", "field", "rule", "severity", "confidence",
		"decision", "observed", "reference", "proposed", "note", "detail")
	for _, a := range res.Trail.ManualReview() {
		d := a.Discrepancy
		addRow(sheet,
			d.Key.SiteID, d.Key.SectorID, fmtDate(d.Date), d.Field, d.Rule,
			string(d.Severity), fmtFloat(d.Confidence), string(a.Decision),
			fmtFloat(d.Observed), fmtFloatPtr(d.Reference), fmtFloatPtr(d.Proposed),
			a.Note, d.Detail,
		)
	}
	return nil
}

func statisticsSheet(f *xlsx.File, res *engine.Result) error {
	sheet, err := f.AddSheet("parameter_statistics")
	if err != nil {
		return eris.Wrap(err, "report: add statistics sheet")
	}

	type stat struct {
		observations int
		discrepant   int
		corrected    int
		flagged      int
		conflicts    int
	}
	stats := make(map[string]*stat)
	at := func(field string) *stat {
		s, ok := stats[field]
		if !ok {
			s = &stat{}
			stats[field] = s
		}
		return s
	}

	for i := range res.Corrected {
		for field := range res.Corrected[i].Fields {
			at(field).observations++
		}
	}
	for _, a := range res.Trail.Actions() {
		s := at(a.Discrepancy.Field)
		s.discrepant++
		switch a.Decision {
		case model.DecisionAutoCorrected:
			s.corrected++
		case model.DecisionFlaggedForReview:
			s.flagged++
		case model.DecisionUnresolvedConflict:
			s.conflicts++
		}
	}

	fields := make([]string, 0, len(stats))
	for field := range stats {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	addRow(sheet, "field", "observations", "discrepancies", "auto_corrected", "flagged_for_review", "unresolved_conflicts")
	for _, field := range fields {
		s := stats[field]
		addRow(sheet, field,
			strconv.Itoa(s.observations), strconv.Itoa(s.discrepant),
			strconv.Itoa(s.corrected), strconv.Itoa(s.flagged), strconv.Itoa(s.conflicts))
	}
	return nil
}

func extendedSheet(f *xlsx.File, res *engine.Result) error {
	sheet, err := f.AddSheet("extended_cells")
	if err != nil {
		return eris.Wrap(err, "report: add extended sheet")
	}

	addRow(sheet, "site_id", "sector_id", "cell_name", "latitude", "longitude", "distance_deg")
	for _, ec := range res.Extended {
		addRow(sheet, ec.Key.SiteID, ec.Key.SectorID, ec.CellName,
			fmtFloat(ec.Latitude), fmtFloat(ec.Longitude), fmtFloat(ec.Distance))
	}
	return nil
}

// masterColumns is the canonical column order for written master tables.
var masterColumns = []string{
	"site_id", "sector_id", "name", "technology",
	model.FieldLatitude, model.FieldLongitude, model.FieldAzimuth, model.FieldHeight,
	model.LabelStructureOwner, model.LabelStructureType, model.LabelTxType,
}

// WriteFilledWorkbook writes the filled master table plus the fill report
// and the still-blank list. The sites sheet round-trips through the
// loader.
func WriteFilledWorkbook(path string, res *fill.Result) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("sites")
	if err != nil {
		return eris.Wrap(err, "report: add sites sheet")
	}

	extras := extraFields(res.Sites)
	addRow(sheet, append(append([]string{}, masterColumns...), extras...)...)
	for i := range res.Sites {
		s := &res.Sites[i]
		row := []string{
			s.Key.SiteID, s.Key.SectorID, s.Name, s.Technology,
			fmtFloat(s.Latitude), fmtFloat(s.Longitude),
			fmtFloatPtr(s.Azimuth), fmtFloatPtr(s.Height),
			s.Label(model.LabelStructureOwner), s.Label(model.LabelStructureType), s.Label(model.LabelTxType),
		}
		for _, field := range extras {
			if v, ok := s.Extra[field]; ok {
				row = append(row, fmtFloat(v))
			} else {
				row = append(row, "")
			}
		}
		addRow(sheet, row...)
	}

	reportSheet, err := f.AddSheet("fill_report")
	if err != nil {
		return eris.Wrap(err, "report: add fill report sheet")
	}
	addRow(reportSheet, "site_id", "sector_id", "field", "value", "source", "score")
	for _, c := range res.Changes {
		score := ""
		if c.Score > 0 {
			score = fmtFloat(c.Score)
		}
		addRow(reportSheet, c.Key.SiteID, c.Key.SectorID, c.Field, c.Value, string(c.Source), score)
	}

	blankSheet, err := f.AddSheet("still_blank")
	if err != nil {
		return eris.Wrap(err, "report: add still blank sheet")
	}
	addRow(blankSheet, "site_id", "sector_id", "field")
	for _, b := range res.Blanks {
		addRow(blankSheet, b.Key.SiteID, b.Key.SectorID, b.Field)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "report: save filled workbook")
	}
	zap.L().Info("filled workbook written",
		zap.String("file", path),
		zap.Int("filled", len(res.Changes)),
		zap.Int("still_blank", len(res.Blanks)),
	)
	return nil
}

type obsRef struct {
	site, sector, date string
}

func recordRef(key model.SectorKey, date time.Time) obsRef {
	return obsRef{site: key.SiteID, sector: key.SectorID, date: fmtDate(date)}
}

// modifiedIndex maps records to the auto-correction that touched them
// last, for the modified_by/modified_at columns.
func modifiedIndex(res *engine.Result) map[obsRef]model.CorrectionAction {
	out := make(map[obsRef]model.CorrectionAction)
	for _, a := range res.Trail.ByDecision(model.DecisionAutoCorrected) {
		out[recordRef(a.Discrepancy.Key, a.Discrepancy.Date)] = a
	}
	return out
}

func observedFields(observations []model.Observation) []string {
	seen := make(map[string]bool)
	for i := range observations {
		for field := range observations[i].Fields {
			seen[field] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func extraFields(sites []model.Site) []string {
	seen := make(map[string]bool)
	for i := range sites {
		for field := range sites[i].Extra {
			seen[field] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fmtFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return fmtFloat(*v)
}

func fmtDate(d time.Time) string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}
