// Package fill completes blank structure attributes on master rows.
// Values come from station consensus within the same file first, then
// from the template catalog; what remains blank is reported, never
// guessed.
package fill

import (
	"go.uber.org/zap"

	"github.com/towerline/rfrecon-cli/internal/consensus"
	"github.com/towerline/rfrecon-cli/internal/model"
	"github.com/towerline/rfrecon-cli/internal/template"
)

// Source identifies where a filled value came from.
type Source string

const (
	SourceConsensus Source = "consensus"
	SourceTemplate  Source = "template"
)

// Change records one filled field.
type Change struct {
	Key    model.SectorKey `json:"key"`
	Field  string          `json:"field"`
	Value  string          `json:"value"`
	Source Source          `json:"source"`
	// Score is the template similarity; zero for consensus fills.
	Score float64 `json:"score,omitempty"`
}

// Blank records a field that stayed blank after both passes.
type Blank struct {
	Key   model.SectorKey `json:"key"`
	Field string          `json:"field"`
}

// Result carries the filled copy of the master table plus the report
// rows for every change and every remaining blank.
type Result struct {
	Sites   []model.Site
	Changes []Change
	Blanks  []Blank
}

// fillFields are the attributes subject to filling.
var fillFields = []string{
	model.LabelStructureOwner,
	model.LabelStructureType,
	model.LabelTxType,
}

// Fill completes blank structure attributes on a copy of sites. The
// input is never mutated. tpl may be nil when no template is configured;
// the template pass is then skipped.
func Fill(sites []model.Site, tpl *template.Index) *Result {
	out := &Result{Sites: make([]model.Site, len(sites))}
	for i := range sites {
		out.Sites[i] = *sites[i].Clone()
	}

	byStation := make(map[string][]*model.Site)
	var order []string
	for i := range out.Sites {
		s := &out.Sites[i]
		if _, seen := byStation[s.Key.SiteID]; !seen {
			order = append(order, s.Key.SiteID)
		}
		byStation[s.Key.SiteID] = append(byStation[s.Key.SiteID], s)
	}

	for _, siteID := range order {
		rows := byStation[siteID]
		cons := consensus.ForStation(rows, consensus.DefaultOptions())

		var entry template.Entry
		var score float64
		var matched bool
		if tpl != nil {
			name := cons.Name
			if name == "" {
				name = rows[0].Name
			}
			if name != "" {
				entry, score, matched = tpl.Match(name)
			}
		}

		for _, row := range rows {
			for _, field := range fillFields {
				if row.Label(field) != "" {
					continue
				}
				if v := consensusValue(cons, field); v != "" {
					row.SetLabel(field, v)
					out.Changes = append(out.Changes, Change{
						Key: row.Key, Field: field, Value: v, Source: SourceConsensus,
					})
					continue
				}
				if matched {
					if v := entry.Label(field); v != "" {
						row.SetLabel(field, v)
						out.Changes = append(out.Changes, Change{
							Key: row.Key, Field: field, Value: v, Source: SourceTemplate, Score: score,
						})
						continue
					}
				}
				out.Blanks = append(out.Blanks, Blank{Key: row.Key, Field: field})
			}
		}
	}

	zap.L().Info("fill complete",
		zap.Int("sites", len(out.Sites)),
		zap.Int("filled", len(out.Changes)),
		zap.Int("still_blank", len(out.Blanks)),
	)
	return out
}

// BySource counts the changes per fill source.
func (r *Result) BySource() map[Source]int {
	counts := make(map[Source]int, 2)
	for _, c := range r.Changes {
		counts[c.Source]++
	}
	return counts
}

func consensusValue(c consensus.StationConsensus, field string) string {
	switch field {
	case model.LabelStructureOwner:
		return c.StructureOwner
	case model.LabelStructureType:
		return c.StructureType
	case model.LabelTxType:
		return c.TxType
	default:
		return ""
	}
}
