package rules

import (
	"math"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/towerline/rfrecon-cli/internal/geo"
	"github.com/towerline/rfrecon-cli/internal/model"
)

// Kind selects one of the supported rule behaviors. The set is closed:
// rules are configured, never injected.
type Kind string

const (
	KindBounds      Kind = "bounds"
	KindDrift       Kind = "drift"
	KindReferential Kind = "referential"
	KindRange       Kind = "range"
)

// Config is the top-level rules configuration.
type Config struct {
	Defaults    DefaultConfig `yaml:"defaults"`
	Definitions []RuleConfig  `yaml:"definitions"`
}

// DefaultConfig holds values applied to definitions that omit them.
type DefaultConfig struct {
	Confidence float64        `yaml:"confidence"`
	Severity   model.Severity `yaml:"severity"`
}

// RuleConfig configures a single rule instance.
type RuleConfig struct {
	Name  string `yaml:"name"`
	Kind  Kind   `yaml:"kind"`
	Field string `yaml:"field"`
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Min/Max configure the regional range for bounds rules and the domain
	// range for range rules. Bounds rules always additionally enforce the
	// field's physical limits.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// Threshold is the allowed difference for drift rules; Relative makes
	// it a fraction of the reference value instead of an absolute amount.
	Threshold float64 `yaml:"threshold,omitempty"`
	Relative  bool    `yaml:"relative,omitempty"`

	Severity   model.Severity `yaml:"severity,omitempty"`
	Confidence float64        `yaml:"confidence,omitempty"`
	Strategy   model.Strategy `yaml:"strategy,omitempty"`
}

// LoadConfig reads a rules file. The YAML has a top-level "rules" key.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read config %s", path)
	}

	var wrapper struct {
		Rules Config `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "rules: parse config")
	}

	cfg := &wrapper.Rules
	cfg.applyDefaults()
	return cfg, nil
}

// DefaultRules returns the shipped rule set: physical bounds on the
// coordinate fields, cross-table drift on coordinates and azimuth,
// referential integrity, and a plausibility range on structure height.
// Regional coordinate bounds are deployment-specific and ship unset.
func DefaultRules() *Config {
	cfg := &Config{
		Defaults: DefaultConfig{Confidence: 0.9, Severity: model.SeverityMedium},
		Definitions: []RuleConfig{
			{Name: "site_reference", Kind: KindReferential, Confidence: 1},
			{Name: "latitude_bounds", Kind: KindBounds, Field: model.FieldLatitude, Confidence: 0.95},
			{Name: "longitude_bounds", Kind: KindBounds, Field: model.FieldLongitude, Confidence: 0.95},
			{Name: "azimuth_bounds", Kind: KindBounds, Field: model.FieldAzimuth},
			{Name: "latitude_drift", Kind: KindDrift, Field: model.FieldLatitude, Threshold: 0.01},
			{Name: "longitude_drift", Kind: KindDrift, Field: model.FieldLongitude, Threshold: 0.01},
			{Name: "azimuth_drift", Kind: KindDrift, Field: model.FieldAzimuth, Threshold: 5, Confidence: 0.85},
			{Name: "height_range", Kind: KindRange, Field: model.FieldHeight,
				Min: model.Float(0), Max: model.Float(120), Confidence: 0.8},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Defaults.Confidence == 0 {
		c.Defaults.Confidence = 0.9
	}
	if c.Defaults.Severity == "" {
		c.Defaults.Severity = model.SeverityMedium
	}
	for i, rc := range c.Definitions {
		if rc.Confidence == 0 {
			rc.Confidence = c.Defaults.Confidence
		}
		if rc.Severity == "" {
			rc.Severity = c.Defaults.Severity
		}
		if rc.Strategy == "" {
			rc.Strategy = defaultStrategy(rc.Kind)
		}
		c.Definitions[i] = rc
	}
}

func defaultStrategy(k Kind) model.Strategy {
	switch k {
	case KindDrift, KindBounds:
		return model.StrategyReplaceWithReference
	case KindRange:
		return model.StrategyClampToBounds
	default:
		return model.StrategyReject
	}
}

// regionalRange returns the configured min/max as a range, or nil when the
// definition sets neither.
func (rc RuleConfig) regionalRange() *geo.Range {
	if rc.Min == nil && rc.Max == nil {
		return nil
	}
	r := geo.Range{Min: -math.MaxFloat64, Max: math.MaxFloat64}
	if rc.Min != nil {
		r.Min = *rc.Min
	}
	if rc.Max != nil {
		r.Max = *rc.Max
	}
	return &r
}
