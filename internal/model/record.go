package model

import (
	"time"
)

// Canonical numeric field names produced by the loader. Rules, corrections,
// and reports refer to fields by these names regardless of which source
// column headers they came from.
const (
	FieldLatitude  = "latitude"
	FieldLongitude = "longitude"
	FieldAzimuth   = "azimuth"
	FieldHeight    = "structure_height"

	// FieldSiteID names the key fields for referential-integrity findings,
	// which violate the record's identity rather than a numeric attribute.
	FieldSiteID = "site_id"
)

// Canonical label keys for categorical attributes.
const (
	LabelCellType       = "cell_type"
	LabelStructureOwner = "structure_owner"
	LabelStructureType  = "structure_type"
	LabelTxType         = "tx_type"
)

// CellTypeExtended marks an observation identified as an extended cell:
// a cell legitimately broadcasting far from its parent station. Coordinate
// rules skip observations carrying this label.
const CellTypeExtended = "Extended Cell"

// SectorKey identifies one sector of one site. The pair is unique across
// the master physical-parameters table.
type SectorKey struct {
	SiteID   string `json:"site_id"`
	SectorID string `json:"sector_id"`
}

func (k SectorKey) String() string {
	return k.SiteID + "/" + k.SectorID
}

// IsZero reports whether both components are empty.
func (k SectorKey) IsZero() bool {
	return k.SiteID == "" && k.SectorID == ""
}

// Site is one master physical-parameters row. Sites are reference data:
// the engine reads them and never writes them.
type Site struct {
	Key        SectorKey `json:"key"`
	Name       string    `json:"name,omitempty"`
	Technology string    `json:"technology,omitempty"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Azimuth    *float64  `json:"azimuth,omitempty"`
	Height     *float64  `json:"structure_height,omitempty"`
	// Extra holds additional configured numeric attributes by canonical name.
	Extra map[string]float64 `json:"extra,omitempty"`
	// Labels holds categorical attributes (structure_owner, structure_type, ...).
	Labels map[string]string `json:"labels,omitempty"`
}

// Numeric returns the site's value for a canonical field name.
func (s *Site) Numeric(field string) (float64, bool) {
	switch field {
	case FieldLatitude:
		return s.Latitude, true
	case FieldLongitude:
		return s.Longitude, true
	case FieldAzimuth:
		if s.Azimuth != nil {
			return *s.Azimuth, true
		}
		return 0, false
	case FieldHeight:
		if s.Height != nil {
			return *s.Height, true
		}
		return 0, false
	default:
		v, ok := s.Extra[field]
		return v, ok
	}
}

// Label returns the site's value for a label key, or "".
func (s *Site) Label(key string) string {
	return s.Labels[key]
}

// SetLabel writes a label, allocating the map on first use.
func (s *Site) SetLabel(key, value string) {
	if s.Labels == nil {
		s.Labels = make(map[string]string, 4)
	}
	s.Labels[key] = value
}

// SetExtra writes a non-core numeric attribute, allocating the map on
// first use.
func (s *Site) SetExtra(field string, v float64) {
	if s.Extra == nil {
		s.Extra = make(map[string]float64, 4)
	}
	s.Extra[field] = v
}

// Clone returns a copy whose maps and pointers are independent of the
// original.
func (s *Site) Clone() *Site {
	c := *s
	if s.Azimuth != nil {
		c.Azimuth = Float(*s.Azimuth)
	}
	if s.Height != nil {
		c.Height = Float(*s.Height)
	}
	if s.Extra != nil {
		c.Extra = make(map[string]float64, len(s.Extra))
		for k, v := range s.Extra {
			c.Extra[k] = v
		}
	}
	if s.Labels != nil {
		c.Labels = make(map[string]string, len(s.Labels))
		for k, v := range s.Labels {
			c.Labels[k] = v
		}
	}
	return &c
}

// Observation is one cell-monitoring row for a capture date. Observed
// numeric fields live in Fields under canonical names; a missing key means
// the value was not observed in the snapshot.
type Observation struct {
	Key        SectorKey          `json:"key"`
	CellName   string             `json:"cell_name,omitempty"`
	Technology string             `json:"technology,omitempty"`
	Date       time.Time          `json:"date"`
	Fields     map[string]float64 `json:"fields,omitempty"`
	Labels     map[string]string  `json:"labels,omitempty"`
}

// Value returns the observed value for a canonical field name.
func (o *Observation) Value(field string) (float64, bool) {
	v, ok := o.Fields[field]
	return v, ok
}

// Set writes a field value, allocating the map on first use.
func (o *Observation) Set(field string, v float64) {
	if o.Fields == nil {
		o.Fields = make(map[string]float64, 4)
	}
	o.Fields[field] = v
}

// Label returns the observation's value for a label key, or "".
func (o *Observation) Label(key string) string {
	return o.Labels[key]
}

// SetLabel writes a label, allocating the map on first use.
func (o *Observation) SetLabel(key, value string) {
	if o.Labels == nil {
		o.Labels = make(map[string]string, 4)
	}
	o.Labels[key] = value
}

// IsExtendedCell reports whether the observation was marked an extended cell.
func (o *Observation) IsExtendedCell() bool {
	return o.Labels[LabelCellType] == CellTypeExtended
}

// Clone deep-copies the observation. The engine works on clones so the
// caller's input slice is never mutated.
func (o *Observation) Clone() *Observation {
	c := *o
	if o.Fields != nil {
		c.Fields = make(map[string]float64, len(o.Fields))
		for k, v := range o.Fields {
			c.Fields[k] = v
		}
	}
	if o.Labels != nil {
		c.Labels = make(map[string]string, len(o.Labels))
		for k, v := range o.Labels {
			c.Labels[k] = v
		}
	}
	return &c
}

// SiteIndex is the read-only lookup over the master table used during a run.
type SiteIndex struct {
	sites     []Site
	byKey     map[SectorKey]int
	byStation map[string][]int
}

// NewSiteIndex indexes sites by sector key and by station. A row whose key
// duplicates an earlier row violates the table's uniqueness invariant; the
// later row is excluded and reported as a structural error.
func NewSiteIndex(sites []Site) (*SiteIndex, []StructuralError) {
	ix := &SiteIndex{
		byKey:     make(map[SectorKey]int, len(sites)),
		byStation: make(map[string][]int, len(sites)),
	}
	var dups []StructuralError
	for _, s := range sites {
		if _, exists := ix.byKey[s.Key]; exists {
			dups = append(dups, StructuralError{
				Key:    s.Key,
				Reason: "duplicate site/sector key in master table",
			})
			continue
		}
		ix.sites = append(ix.sites, s)
		i := len(ix.sites) - 1
		ix.byKey[s.Key] = i
		ix.byStation[s.Key.SiteID] = append(ix.byStation[s.Key.SiteID], i)
	}
	return ix, dups
}

// Get returns the site for a sector key.
func (ix *SiteIndex) Get(k SectorKey) (*Site, bool) {
	i, ok := ix.byKey[k]
	if !ok {
		return nil, false
	}
	return &ix.sites[i], true
}

// Station returns every site row sharing the given site id, in input order.
func (ix *SiteIndex) Station(siteID string) []*Site {
	idxs := ix.byStation[siteID]
	out := make([]*Site, len(idxs))
	for i, n := range idxs {
		out[i] = &ix.sites[n]
	}
	return out
}

// Len returns the number of indexed sites.
func (ix *SiteIndex) Len() int {
	return len(ix.sites)
}

// Sites returns the indexed site rows in input order.
func (ix *SiteIndex) Sites() []Site {
	return ix.sites
}
