package rules

import (
	"fmt"
	"math"

	"github.com/towerline/rfrecon-cli/internal/geo"
	"github.com/towerline/rfrecon-cli/internal/model"
)

// Rule is one validation rule. Evaluate inspects a single observation
// against the master table and returns the violations it finds. Rules are
// pure: inputs are never mutated and business violations are returned as
// data. A non-nil error means the rule itself could not compute, which is
// a configuration defect, not a data finding.
type Rule interface {
	Name() string
	Field() string
	Kind() Kind
	Evaluate(sites *model.SiteIndex, obs *model.Observation) ([]model.Discrepancy, error)
}

// EvaluationError records a rule whose computation failed for one record.
type EvaluationError struct {
	Rule string
	Key  model.SectorKey
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %s failed for %s: %v", e.Rule, e.Key, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// physicalBounds returns the hard physical range for a canonical field.
// Azimuth is declared as whole degrees 0-359 in the master table.
func physicalBounds(field string) *geo.Range {
	switch field {
	case model.FieldLatitude:
		return &geo.Range{Min: -90, Max: 90}
	case model.FieldLongitude:
		return &geo.Range{Min: -180, Max: 180}
	case model.FieldAzimuth:
		return &geo.Range{Min: 0, Max: 359}
	case model.FieldHeight:
		return &geo.Range{Min: 0, Max: 500}
	default:
		return nil
	}
}

func isCoordinateField(field string) bool {
	return field == model.FieldLatitude || field == model.FieldLongitude
}

// propose computes the correction target for a bad value under the
// configured strategy. Replace falls back to clamp when the site carries no
// reference value; clamp falls back to reject when no range is available.
// The returned strategy is the one that actually produced the target.
func propose(strategy model.Strategy, ref *float64, bounds *geo.Range, v float64) (model.Strategy, *float64) {
	switch strategy {
	case model.StrategyReplaceWithReference:
		if ref != nil {
			return model.StrategyReplaceWithReference, model.Float(*ref)
		}
		if bounds != nil {
			return model.StrategyClampToBounds, model.Float(bounds.Clamp(v))
		}
	case model.StrategyClampToBounds:
		if bounds != nil {
			return model.StrategyClampToBounds, model.Float(bounds.Clamp(v))
		}
	}
	return model.StrategyReject, nil
}

// siteReference looks up the observation's site value for a field.
func siteReference(sites *model.SiteIndex, obs *model.Observation, field string) *float64 {
	site, ok := sites.Get(obs.Key)
	if !ok {
		return nil
	}
	v, ok := site.Numeric(field)
	if !ok {
		return nil
	}
	return model.Float(v)
}

// BoundsRule flags a field outside its valid range: high severity outside
// the physical limits, configured severity outside the regional range or
// the region boundary polygon.
type BoundsRule struct {
	name       string
	field      string
	regional   *geo.Range
	boundary   *geo.Boundary
	severity   model.Severity
	confidence float64
	strategy   model.Strategy
}

func (r *BoundsRule) Name() string  { return r.name }
func (r *BoundsRule) Field() string { return r.field }
func (r *BoundsRule) Kind() Kind    { return KindBounds }

func (r *BoundsRule) Evaluate(sites *model.SiteIndex, obs *model.Observation) ([]model.Discrepancy, error) {
	if obs.IsExtendedCell() && isCoordinateField(r.field) {
		return nil, nil
	}
	v, ok := obs.Value(r.field)
	if !ok {
		return nil, nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%s value is not finite", r.field)
	}

	physical := physicalBounds(r.field)
	clampRange := r.regional
	if clampRange == nil {
		clampRange = physical
	}
	ref := siteReference(sites, obs, r.field)

	d := model.Discrepancy{
		Key:        obs.Key,
		Date:       obs.Date,
		Field:      r.field,
		Rule:       r.name,
		Confidence: r.confidence,
		Observed:   v,
		Reference:  ref,
	}

	switch {
	case physical != nil && !physical.Contains(v):
		d.Severity = model.SeverityHigh
		d.Detail = fmt.Sprintf("%s %v outside physical bounds [%v, %v]",
			r.field, v, physical.Min, physical.Max)
	case r.regional != nil && !r.regional.Contains(v):
		d.Severity = r.severity
		d.Detail = fmt.Sprintf("%s %v outside configured bounds [%v, %v]",
			r.field, v, r.regional.Min, r.regional.Max)
	case r.boundary != nil && isCoordinateField(r.field):
		lat, latOK := obs.Value(model.FieldLatitude)
		lon, lonOK := obs.Value(model.FieldLongitude)
		if !latOK || !lonOK || r.boundary.Contains(lat, lon) {
			return nil, nil
		}
		d.Severity = r.severity
		d.Detail = fmt.Sprintf("coordinate (%v, %v) outside region boundary", lat, lon)
		// Clamping cannot move a point into a polygon.
		clampRange = nil
	default:
		return nil, nil
	}

	d.Strategy, d.Proposed = propose(r.strategy, ref, clampRange, v)
	return []model.Discrepancy{d}, nil
}

// DriftRule compares an observed field against the matching site value and
// flags differences beyond the threshold. Azimuth differences are circular.
type DriftRule struct {
	name       string
	field      string
	threshold  float64
	relative   bool
	severity   model.Severity
	confidence float64
	strategy   model.Strategy
}

func (r *DriftRule) Name() string  { return r.name }
func (r *DriftRule) Field() string { return r.field }
func (r *DriftRule) Kind() Kind    { return KindDrift }

func (r *DriftRule) Evaluate(sites *model.SiteIndex, obs *model.Observation) ([]model.Discrepancy, error) {
	if obs.IsExtendedCell() && isCoordinateField(r.field) {
		return nil, nil
	}
	v, ok := obs.Value(r.field)
	if !ok {
		return nil, nil
	}
	ref := siteReference(sites, obs, r.field)
	if ref == nil {
		// Missing site rows are the referential rule's finding.
		return nil, nil
	}

	limit := r.threshold
	if r.relative {
		if *ref == 0 {
			return nil, fmt.Errorf("relative threshold against zero reference value for %s", r.field)
		}
		limit = r.threshold * math.Abs(*ref)
	}

	var diff float64
	if r.field == model.FieldAzimuth {
		diff = geo.AngularDiff(v, *ref)
	} else {
		diff = math.Abs(v - *ref)
	}
	if diff <= limit {
		return nil, nil
	}

	window := &geo.Range{Min: *ref - limit, Max: *ref + limit}
	strategy, proposed := propose(r.strategy, ref, window, v)

	return []model.Discrepancy{{
		Key:        obs.Key,
		Date:       obs.Date,
		Field:      r.field,
		Rule:       r.name,
		Severity:   r.severity,
		Confidence: r.confidence,
		Strategy:   strategy,
		Observed:   v,
		Reference:  ref,
		Proposed:   proposed,
		Detail: fmt.Sprintf("%s %v differs from site value %v by %v (allowed %v)",
			r.field, v, *ref, diff, limit),
	}}, nil
}

// ReferentialRule flags observations whose site/sector key has no master
// row. There is no safe automatic correction for a broken reference.
type ReferentialRule struct {
	name       string
	confidence float64
}

func (r *ReferentialRule) Name() string  { return r.name }
func (r *ReferentialRule) Field() string { return model.FieldSiteID }
func (r *ReferentialRule) Kind() Kind    { return KindReferential }

func (r *ReferentialRule) Evaluate(sites *model.SiteIndex, obs *model.Observation) ([]model.Discrepancy, error) {
	if _, ok := sites.Get(obs.Key); ok {
		return nil, nil
	}
	detail := fmt.Sprintf("no master row for %s", obs.Key)
	if obs.CellName != "" {
		detail = fmt.Sprintf("cell %s references no master row for %s", obs.CellName, obs.Key)
	}
	return []model.Discrepancy{{
		Key:        obs.Key,
		Date:       obs.Date,
		Field:      model.FieldSiteID,
		Rule:       r.name,
		Severity:   model.SeverityHigh,
		Confidence: r.confidence,
		Strategy:   model.StrategyReject,
		Detail:     detail,
	}}, nil
}

// RangeRule flags a numeric field outside a configured domain range
// unrelated to geography, such as an implausible antenna height.
type RangeRule struct {
	name       string
	field      string
	bounds     geo.Range
	severity   model.Severity
	confidence float64
	strategy   model.Strategy
}

func (r *RangeRule) Name() string  { return r.name }
func (r *RangeRule) Field() string { return r.field }
func (r *RangeRule) Kind() Kind    { return KindRange }

func (r *RangeRule) Evaluate(sites *model.SiteIndex, obs *model.Observation) ([]model.Discrepancy, error) {
	v, ok := obs.Value(r.field)
	if !ok {
		return nil, nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%s value is not finite", r.field)
	}
	if r.bounds.Contains(v) {
		return nil, nil
	}

	ref := siteReference(sites, obs, r.field)
	strategy, proposed := propose(r.strategy, ref, &r.bounds, v)

	return []model.Discrepancy{{
		Key:        obs.Key,
		Date:       obs.Date,
		Field:      r.field,
		Rule:       r.name,
		Severity:   r.severity,
		Confidence: r.confidence,
		Strategy:   strategy,
		Observed:   v,
		Reference:  ref,
		Proposed:   proposed,
		Detail: fmt.Sprintf("%s %v outside allowed range [%v, %v]",
			r.field, v, r.bounds.Min, r.bounds.Max),
	}}, nil
}
