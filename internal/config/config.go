// Package config loads runtime settings from TDM_* environment variables and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TDM"

// Config holds application configuration
type Config struct {
	DrugPath        string        `mapstructure:"DRUG_PATH"`
	TranslationPath string        `mapstructure:"TRANSLATION_PATH"`
	OutputPath      string        `mapstructure:"OUTPUT_PATH"`
	EngineURL       string        `mapstructure:"ENGINE_URL"`
	EngineTimeout   time.Duration `mapstructure:"ENGINE_TIMEOUT"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	KafkaBrokers    []string      `mapstructure:"KAFKA_BROKERS"`
	APIKeys         []string      `mapstructure:"API_KEYS"`
	Port            string        `mapstructure:"PORT"`
	OTLPEndpoint    string        `mapstructure:"OTLP_ENDPOINT"`
	MetricsFile     string        `mapstructure:"METRICS_FILE"`
	Workers         int           `mapstructure:"WORKERS"`
	Debug           bool          `mapstructure:"DEBUG"`
}

var keys = []string{
	"DRUG_PATH",
	"TRANSLATION_PATH",
	"OUTPUT_PATH",
	"ENGINE_URL",
	"ENGINE_TIMEOUT",
	"DATABASE_URL",
	"KAFKA_BROKERS",
	"API_KEYS",
	"PORT",
	"OTLP_ENDPOINT",
	"METRICS_FILE",
	"WORKERS",
	"DEBUG",
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)

	v.SetDefault("DRUG_PATH", "drugs")
	v.SetDefault("TRANSLATION_PATH", "translations")
	v.SetDefault("OUTPUT_PATH", "output")
	v.SetDefault("ENGINE_TIMEOUT", 30*time.Second)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("PORT", "8080")
	v.SetDefault("WORKERS", 4)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}
	return v
}

// BindFlags makes the flags in fs override the environment. names maps flag
// names to configuration keys.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, names map[string]string) error {
	for flag, key := range names {
		f := fs.Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", flag, err)
		}
	}
	return nil
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return FromViper(New())
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers))
	}
	if c.EngineTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ENGINE_TIMEOUT must be positive, got %s", c.EngineTimeout))
	}
	return errors.Join(errs...)
}

// UsesEngine reports whether an external computation engine is configured.
func (c *Config) UsesEngine() bool {
	return c.EngineURL != ""
}

// APIClients maps each configured API key to a client name. An empty map
// disables authentication.
func (c *Config) APIClients() map[string]string {
	clients := make(map[string]string, len(c.APIKeys))
	for i, k := range c.APIKeys {
		if k != "" {
			clients[k] = fmt.Sprintf("client-%d", i+1)
		}
	}
	return clients
}

// UsesDatabase reports whether results are persisted.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}
