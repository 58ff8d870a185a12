package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is constructed once at
// startup and passed down by reference; nothing reads process-wide mutable
// state after that.
type Config struct {
	Overpass OverpassConfig `yaml:"overpass" mapstructure:"overpass"`
	OSMAPI   OSMAPIConfig   `yaml:"osmapi" mapstructure:"osmapi"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	Pace     PaceConfig     `yaml:"pace" mapstructure:"pace"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Input    InputConfig    `yaml:"input" mapstructure:"input"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// OverpassConfig locates the Overpass API endpoint.
type OverpassConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// OSMAPIConfig locates the OSM editing API used for version histories.
type OSMAPIConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// HTTPConfig configures transport behavior shared by both clients.
type HTTPConfig struct {
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries       int    `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffInitialMs int    `yaml:"backoff_initial_ms" mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
}

// Timeout returns the per-request timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// PaceConfig holds the fixed inter-call delays that stand in for adaptive
// rate limiting against the rate-sensitive upstreams.
type PaceConfig struct {
	OverpassMs int `yaml:"overpass_ms" mapstructure:"overpass_ms"`
	HistoryMs  int `yaml:"history_ms" mapstructure:"history_ms"`
}

// Overpass returns the delay enforced before each Overpass call.
func (c PaceConfig) Overpass() time.Duration {
	return time.Duration(c.OverpassMs) * time.Millisecond
}

// History returns the delay enforced before each history fetch.
func (c PaceConfig) History() time.Duration {
	return time.Duration(c.HistoryMs) * time.Millisecond
}

// SearchConfig configures the radius cascade.
type SearchConfig struct {
	RadiusSteps   string `yaml:"radius_steps" mapstructure:"radius_steps"`
	GenericAllow  string `yaml:"generic_allow" mapstructure:"generic_allow"`
	RequireSignal bool   `yaml:"require_signal_for_generic" mapstructure:"require_signal_for_generic"`
}

// Steps parses the comma-separated radius list, skipping malformed entries.
// An empty or fully malformed list falls back to the default sequence.
func (c SearchConfig) Steps() []int {
	var steps []int
	for _, part := range strings.Split(c.RadiusSteps, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			steps = append(steps, n)
		}
	}
	if len(steps) == 0 {
		return []int{50, 100, 200}
	}
	return steps
}

// AllowSet parses the comma-separated generic allow-list into lower-cased
// building values. Defaults to the single value "yes".
func (c SearchConfig) AllowSet() map[string]bool {
	allow := map[string]bool{}
	for _, part := range strings.Split(c.GenericAllow, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			allow[part] = true
		}
	}
	if len(allow) == 0 {
		allow["yes"] = true
	}
	return allow
}

// InputConfig names the coordinate columns of the input CSV.
type InputConfig struct {
	LatColumn string `yaml:"lat_column" mapstructure:"lat_column"`
	LonColumn string `yaml:"lon_column" mapstructure:"lon_column"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. Every option has a
// safe default; a missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OSMDC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("overpass.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("osmapi.base_url", "https://api.openstreetmap.org/api/0.6")
	v.SetDefault("http.timeout_secs", 90)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial_ms", 1200)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.user_agent", "osm-dc-analyzer/1.0")
	v.SetDefault("pace.overpass_ms", 500)
	v.SetDefault("pace.history_ms", 1000)
	v.SetDefault("search.radius_steps", "50,100,200")
	v.SetDefault("search.generic_allow", "yes")
	v.SetDefault("search.require_signal_for_generic", false)
	v.SetDefault("input.lat_column", "best_latitude")
	v.SetDefault("input.lon_column", "best_longitude")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
