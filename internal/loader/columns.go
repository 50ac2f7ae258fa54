package loader

import (
	"strings"

	"github.com/towerline/rfrecon-cli/internal/match"
	"github.com/towerline/rfrecon-cli/internal/model"
)

// Canonical identity and descriptive column names. Numeric parameter and
// label columns use the model's field and label constants directly.
const (
	colSiteID     = "site_id"
	colSectorID   = "sector_id"
	colCellName   = "cell_name"
	colName       = "name"
	colTechnology = "technology"
)

// aliasTable maps normalized header spellings to canonical column names.
// Export headers arrive in English and Spanish, with and without accents.
var aliasTable = map[string]string{
	"site":              colSiteID,
	"site id":           colSiteID,
	"siteid":            colSiteID,
	"codigo sitio":      colSiteID,
	"sector":            colSectorID,
	"sector id":         colSectorID,
	"sectorid":          colSectorID,
	"cell":              colCellName,
	"cell name":         colCellName,
	"cellname":          colCellName,
	"celda":             colCellName,
	"nombre celda":      colCellName,
	"name":              colName,
	"site name":         colName,
	"nombre":            colName,
	"nombre sitio":      colName,
	"technology":        colTechnology,
	"tecnologia":        colTechnology,
	"tech":              colTechnology,
	"lat":               model.FieldLatitude,
	"latitude":          model.FieldLatitude,
	"latitud":           model.FieldLatitude,
	"lon":               model.FieldLongitude,
	"long":              model.FieldLongitude,
	"longitude":         model.FieldLongitude,
	"longitud":          model.FieldLongitude,
	"azimuth":           model.FieldAzimuth,
	"azimut":            model.FieldAzimuth,
	"bearing":           model.FieldAzimuth,
	"height":            model.FieldHeight,
	"structure height":  model.FieldHeight,
	"altura":            model.FieldHeight,
	"altura estructura": model.FieldHeight,
	"owner":             model.LabelStructureOwner,
	"structure owner":   model.LabelStructureOwner,
	"propietario":       model.LabelStructureOwner,
	"structure type":    model.LabelStructureType,
	"tipo estructura":   model.LabelStructureType,
	"tx type":           model.LabelTxType,
	"tipo tx":           model.LabelTxType,
	"cell type":         model.LabelCellType,
	"tipo celda":        model.LabelCellType,
}

// labelColumns holds the canonical columns carrying categorical strings
// rather than numbers.
var labelColumns = map[string]bool{
	model.LabelStructureOwner: true,
	model.LabelStructureType:  true,
	model.LabelTxType:         true,
	model.LabelCellType:       true,
}

// binding ties a workbook column position to its canonical name.
type binding struct {
	index     int
	canonical string
}

// header is the resolved column layout of one sheet, in column order. An
// unrecognized header becomes a numeric monitored parameter under its
// normalized spelling.
type header struct {
	cols []binding
}

// normalizeHeader lowercases, folds diacritics, and collapses separator
// runs so "Structure_Height", "structure-height", and "ALTURA" all
// resolve through one alias table.
func normalizeHeader(h string) string {
	h = match.Fold(strings.TrimSpace(h))
	h = strings.ToLower(h)
	h = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.', '/':
			return ' '
		}
		return r
	}, h)
	return strings.Join(strings.Fields(h), " ")
}

// parseHeader resolves a raw header row. Blank headers are ignored; their
// cells are skipped entirely.
func parseHeader(cells []string) header {
	h := header{cols: make([]binding, 0, len(cells))}
	for i, raw := range cells {
		norm := normalizeHeader(raw)
		if norm == "" {
			continue
		}
		canonical, ok := aliasTable[norm]
		if !ok {
			canonical = strings.ReplaceAll(norm, " ", "_")
		}
		h.cols = append(h.cols, binding{index: i, canonical: canonical})
	}
	return h
}

// has reports whether any column resolved to the canonical name.
func (h header) has(canonical string) bool {
	for _, b := range h.cols {
		if b.canonical == canonical {
			return true
		}
	}
	return false
}
