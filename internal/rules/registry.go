package rules

import (
	"github.com/rotisserie/eris"

	"github.com/towerline/rfrecon-cli/internal/geo"
	"github.com/towerline/rfrecon-cli/internal/model"
)

// Registry holds the enabled rule instances for a run, built once from
// configuration at startup.
type Registry struct {
	rules   []Rule
	byName  map[string]Rule
	byField map[string][]Rule
}

// NewRegistry validates the configuration and constructs the enabled rules
// in definition order. The boundary is optional and only consulted by
// bounds rules on coordinate fields.
func NewRegistry(cfg *Config, boundary *geo.Boundary) (*Registry, error) {
	if cfg == nil {
		cfg = DefaultRules()
	}
	cfg.applyDefaults()

	reg := &Registry{
		byName:  make(map[string]Rule),
		byField: make(map[string][]Rule),
	}

	for _, rc := range cfg.Definitions {
		if rc.Enabled != nil && !*rc.Enabled {
			continue
		}
		if rc.Name == "" {
			return nil, eris.New("rules: definition missing name")
		}
		if _, dup := reg.byName[rc.Name]; dup {
			return nil, eris.Errorf("rules: duplicate rule name %q", rc.Name)
		}
		if rc.Confidence <= 0 || rc.Confidence > 1 {
			return nil, eris.Errorf("rules: rule %q: confidence %v outside (0, 1]", rc.Name, rc.Confidence)
		}
		switch rc.Strategy {
		case model.StrategyReplaceWithReference, model.StrategyClampToBounds, model.StrategyReject:
		default:
			return nil, eris.Errorf("rules: rule %q: unknown strategy %q", rc.Name, rc.Strategy)
		}

		rule, err := build(rc, boundary)
		if err != nil {
			return nil, err
		}
		reg.rules = append(reg.rules, rule)
		reg.byName[rule.Name()] = rule
		reg.byField[rule.Field()] = append(reg.byField[rule.Field()], rule)
	}

	if len(reg.rules) == 0 {
		return nil, eris.New("rules: no enabled rules")
	}
	return reg, nil
}

func build(rc RuleConfig, boundary *geo.Boundary) (Rule, error) {
	switch rc.Kind {
	case KindBounds:
		if rc.Field == "" {
			return nil, eris.Errorf("rules: rule %q: bounds rule needs a field", rc.Name)
		}
		regional := rc.regionalRange()
		if regional != nil && regional.Min > regional.Max {
			return nil, eris.Errorf("rules: rule %q: min %v above max %v", rc.Name, regional.Min, regional.Max)
		}
		return &BoundsRule{
			name:       rc.Name,
			field:      rc.Field,
			regional:   regional,
			boundary:   boundary,
			severity:   rc.Severity,
			confidence: rc.Confidence,
			strategy:   rc.Strategy,
		}, nil

	case KindDrift:
		if rc.Field == "" {
			return nil, eris.Errorf("rules: rule %q: drift rule needs a field", rc.Name)
		}
		if rc.Threshold <= 0 {
			return nil, eris.Errorf("rules: rule %q: drift threshold must be positive", rc.Name)
		}
		return &DriftRule{
			name:       rc.Name,
			field:      rc.Field,
			threshold:  rc.Threshold,
			relative:   rc.Relative,
			severity:   rc.Severity,
			confidence: rc.Confidence,
			strategy:   rc.Strategy,
		}, nil

	case KindReferential:
		return &ReferentialRule{name: rc.Name, confidence: rc.Confidence}, nil

	case KindRange:
		if rc.Field == "" {
			return nil, eris.Errorf("rules: rule %q: range rule needs a field", rc.Name)
		}
		bounds := rc.regionalRange()
		if bounds == nil {
			return nil, eris.Errorf("rules: rule %q: range rule needs min or max", rc.Name)
		}
		if bounds.Min > bounds.Max {
			return nil, eris.Errorf("rules: rule %q: min %v above max %v", rc.Name, bounds.Min, bounds.Max)
		}
		return &RangeRule{
			name:       rc.Name,
			field:      rc.Field,
			bounds:     *bounds,
			severity:   rc.Severity,
			confidence: rc.Confidence,
			strategy:   rc.Strategy,
		}, nil

	default:
		return nil, eris.Errorf("rules: rule %q: unknown kind %q", rc.Name, rc.Kind)
	}
}

// Rules returns the enabled rules in definition order.
func (r *Registry) Rules() []Rule {
	return r.rules
}

// ByName returns the rule with the given name.
func (r *Registry) ByName(name string) (Rule, bool) {
	rule, ok := r.byName[name]
	return rule, ok
}

// ForField returns every rule governing the given field, in definition order.
func (r *Registry) ForField(field string) []Rule {
	return r.byField[field]
}

// Evaluate runs every enabled rule against one observation. Rules are
// independent and additive; a rule that fails to compute is recorded as an
// EvaluationError and the remaining rules still run.
func (r *Registry) Evaluate(sites *model.SiteIndex, obs *model.Observation) ([]model.Discrepancy, []EvaluationError) {
	var discs []model.Discrepancy
	var errs []EvaluationError

	for _, rule := range r.rules {
		found, err := rule.Evaluate(sites, obs)
		if err != nil {
			errs = append(errs, EvaluationError{Rule: rule.Name(), Key: obs.Key, Err: err})
			continue
		}
		discs = append(discs, found...)
	}
	return discs, errs
}
