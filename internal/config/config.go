package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Rules    RulesConfig    `yaml:"rules" mapstructure:"rules"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Geo      GeoConfig      `yaml:"geo" mapstructure:"geo"`
	Template TemplateConfig `yaml:"template" mapstructure:"template"`
	Backup   BackupConfig   `yaml:"backup" mapstructure:"backup"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RulesConfig points at the rule definitions file. When the file does not
// exist the built-in rule set is used.
type RulesConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// EngineConfig holds the reconciliation tunables.
type EngineConfig struct {
	Workers               int     `yaml:"workers" mapstructure:"workers"`
	AutoCorrectThreshold  float64 `yaml:"auto_correct_threshold" mapstructure:"auto_correct_threshold"`
	RecordReviewThreshold float64 `yaml:"record_review_threshold" mapstructure:"record_review_threshold"`
	DetectExtendedCells   bool    `yaml:"detect_extended_cells" mapstructure:"detect_extended_cells"`
	CoordinateThreshold   float64 `yaml:"coordinate_threshold" mapstructure:"coordinate_threshold"`
	SystemUser            string  `yaml:"system_user" mapstructure:"system_user"`
}

// GeoConfig configures the optional region boundary used by bounds rules.
type GeoConfig struct {
	BoundaryShapefile string `yaml:"boundary_shapefile" mapstructure:"boundary_shapefile"`
}

// TemplateConfig configures template-driven column mapping.
type TemplateConfig struct {
	File                string  `yaml:"file" mapstructure:"file"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// BackupConfig configures pre-run input backups.
type BackupConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

// StoreConfig configures run persistence. Backend "none" disables it.
type StoreConfig struct {
	Backend     string `yaml:"backend" mapstructure:"backend"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url" mapstructure:"postgres_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FetchConfig configures snapshot downloads.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	User        string  `yaml:"user" mapstructure:"user"`
	Password    string  `yaml:"password" mapstructure:"password"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// NotifyConfig configures post-run webhook alerts. An empty webhook URL
// disables them.
type NotifyConfig struct {
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ReviewRateThreshold float64 `yaml:"review_rate_threshold" mapstructure:"review_rate_threshold"`
	ConflictThreshold   int     `yaml:"conflict_threshold" mapstructure:"conflict_threshold"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RFRECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Optional keys get zero values so RFRECON_* environment
	// variables bind for them during unmarshal.
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("rules.file", "rules.yaml")
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.auto_correct_threshold", 0.8)
	v.SetDefault("engine.record_review_threshold", 0.5)
	v.SetDefault("engine.detect_extended_cells", true)
	v.SetDefault("engine.coordinate_threshold", 0.01)
	v.SetDefault("engine.system_user", "system")
	v.SetDefault("geo.boundary_shapefile", "")
	v.SetDefault("template.file", "")
	v.SetDefault("template.similarity_threshold", 0.7)
	v.SetDefault("backup.enabled", true)
	v.SetDefault("backup.dir", "backups")
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite_path", "rfrecon.db")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.user", "")
	v.SetDefault("fetch.password", "")
	v.SetDefault("fetch.rate_limit", 10)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.review_rate_threshold", 0.25)
	v.SetDefault("notify.conflict_threshold", 5)
	v.SetDefault("server.addr", ":8080")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode. Modes map
// to CLI commands; each checks only the options it actually uses.
func (c *Config) Validate(mode string) error {
	var problems []string

	fraction := func(key string, val float64) {
		if val < 0 || val > 1 {
			problems = append(problems, fmt.Sprintf("%s must be between 0 and 1", key))
		}
	}

	switch mode {
	case "run":
		fraction("engine.auto_correct_threshold", c.Engine.AutoCorrectThreshold)
		fraction("engine.record_review_threshold", c.Engine.RecordReviewThreshold)
		fraction("template.similarity_threshold", c.Template.SimilarityThreshold)
		fraction("notify.review_rate_threshold", c.Notify.ReviewRateThreshold)
		if c.Engine.CoordinateThreshold <= 0 {
			problems = append(problems, "engine.coordinate_threshold must be > 0")
		}
		problems = append(problems, c.storeProblems(false)...)
	case "fill", "validate":
		fraction("template.similarity_threshold", c.Template.SimilarityThreshold)
	case "fetch":
		if c.Fetch.TimeoutSecs <= 0 {
			problems = append(problems, "fetch.timeout_secs must be > 0")
		}
		if c.Fetch.RateLimit <= 0 {
			problems = append(problems, "fetch.rate_limit must be > 0")
		}
		if c.Fetch.MaxRetries < 0 {
			problems = append(problems, "fetch.max_retries must be >= 0")
		}
	case "runs":
		problems = append(problems, c.storeProblems(true)...)
	case "serve":
		if c.Server.Addr == "" {
			problems = append(problems, "server.addr is required")
		}
		problems = append(problems, c.storeProblems(true)...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// storeProblems validates the store block. Commands that only read runs
// back require a backend; the run command treats persistence as optional.
func (c *Config) storeProblems(required bool) []string {
	var problems []string
	switch c.Store.Backend {
	case "", "none":
		if required {
			problems = append(problems, "store.backend is required")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required")
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			problems = append(problems, "store.postgres_url is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.backend %q is not supported", c.Store.Backend))
	}
	return problems
}
