// Package template looks up canonical station names and structure
// attributes from a reference workbook. Matching is fuzzy: names are
// normalized and compared by trigram similarity, so export spellings
// ("CERRO MORENO 2", "Cerro Moreno S.A.") still resolve to their
// canonical entry.
package template

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/towerline/rfrecon-cli/internal/match"
	"github.com/towerline/rfrecon-cli/internal/model"
)

// Entry is one canonical station record.
type Entry struct {
	Name           string
	StructureOwner string
	StructureType  string
	TxType         string
}

// Label returns the entry's value for a model label key, or "".
func (e Entry) Label(key string) string {
	switch key {
	case model.LabelStructureOwner:
		return e.StructureOwner
	case model.LabelStructureType:
		return e.StructureType
	case model.LabelTxType:
		return e.TxType
	default:
		return ""
	}
}

// Index holds template entries with precomputed normalized names.
type Index struct {
	entries    []Entry
	normalized []string
	threshold  float64
}

// New builds an index over entries. Matches scoring below threshold are
// rejected.
func New(entries []Entry, threshold float64) *Index {
	ix := &Index{
		entries:    entries,
		normalized: make([]string, len(entries)),
		threshold:  threshold,
	}
	for i, e := range entries {
		ix.normalized[i] = match.NormalizeName(e.Name)
	}
	return ix
}

// Load reads a template workbook. The template is a flat catalog: a name
// column plus structure attribute columns, single header row, any sheet.
func Load(path string, threshold float64) (*Index, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "template: open workbook")
	}

	var entries []Entry
	for _, sheet := range f.Sheets {
		entries = append(entries, sheetEntries(sheet)...)
	}
	if len(entries) == 0 {
		return nil, eris.Errorf("template: no usable entries in %s", path)
	}

	zap.L().Info("template loaded", zap.String("file", path), zap.Int("entries", len(entries)))
	return New(entries, threshold), nil
}

// Match returns the best-scoring entry for name, with its similarity.
// ok is false when nothing reaches the threshold.
func (ix *Index) Match(name string) (Entry, float64, bool) {
	norm := match.NormalizeName(name)
	if norm == "" {
		return Entry{}, 0, false
	}

	best, bestScore := -1, 0.0
	for i, cand := range ix.normalized {
		score := match.Similarity(norm, cand)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < ix.threshold {
		return Entry{}, bestScore, false
	}
	return ix.entries[best], bestScore, true
}

// Len reports the number of indexed entries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// templateColumns maps normalized template headers to entry fields. The
// template is a small fixed catalog; it does not need the loader's full
// alias machinery.
var templateColumns = map[string]string{
	"name":            "name",
	"nombre":          "name",
	"site name":       "name",
	"station":         "name",
	"estacion":        "name",
	"owner":           model.LabelStructureOwner,
	"structure owner": model.LabelStructureOwner,
	"propietario":     model.LabelStructureOwner,
	"structure type":  model.LabelStructureType,
	"tipo estructura": model.LabelStructureType,
	"tx type":         model.LabelTxType,
	"tipo tx":         model.LabelTxType,
}

func sheetEntries(sheet *xlsx.Sheet) []Entry {
	if len(sheet.Rows) < 2 {
		return nil
	}

	cols := make(map[int]string)
	for i, cell := range sheet.Rows[0].Cells {
		norm := normalizeHeader(cell.String())
		if field, ok := templateColumns[norm]; ok {
			cols[i] = field
		}
	}
	if len(cols) == 0 {
		return nil
	}

	var entries []Entry
	for _, row := range sheet.Rows[1:] {
		var e Entry
		for i, cell := range row.Cells {
			field, ok := cols[i]
			if !ok {
				continue
			}
			v := strings.TrimSpace(cell.String())
			switch field {
			case "name":
				e.Name = v
			case model.LabelStructureOwner:
				e.StructureOwner = v
			case model.LabelStructureType:
				e.StructureType = v
			case model.LabelTxType:
				e.TxType = v
			}
		}
		if e.Name != "" {
			entries = append(entries, e)
		}
	}
	return entries
}

func normalizeHeader(h string) string {
	h = match.Fold(strings.TrimSpace(h))
	h = strings.ToLower(h)
	h = strings.NewReplacer("_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}
