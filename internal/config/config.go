// Package config loads workbench configuration from file, environment and .env.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WORKBENCH_SERVER_PORT.
const EnvPrefix = "WORKBENCH"

// Config is the complete workbench configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Port           int      `mapstructure:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// GeminiConfig holds credentials and model overrides.
type GeminiConfig struct {
	APIKey       string `mapstructure:"api_key"`
	FastModel    string `mapstructure:"fast_model"`
	DeepModel    string `mapstructure:"deep_model"`
	SummaryModel string `mapstructure:"summary_model"`
}

// PipelineConfig controls resolution behaviour.
type PipelineConfig struct {
	Mode           string         `mapstructure:"mode" validate:"oneof=fast_only deep_only both"`
	InterItemDelay time.Duration  `mapstructure:"inter_item_delay" validate:"min=0"`
	Timeouts       TimeoutsConfig `mapstructure:"timeouts"`
}

// TimeoutsConfig bounds every remote call.
type TimeoutsConfig struct {
	Fast      time.Duration `mapstructure:"fast" validate:"gt=0"`
	Deep      time.Duration `mapstructure:"deep" validate:"gt=0"`
	Synthesis time.Duration `mapstructure:"synthesis" validate:"gt=0"`
	Summary   time.Duration `mapstructure:"summary" validate:"gt=0"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend       string `mapstructure:"backend" validate:"oneof=memory redis sqlite postgres"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"min=0"`
	SQLitePath    string `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	DatabaseURL   string `mapstructure:"database_url" validate:"required_if=Backend postgres"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// RateLimitConfig configures the per-client API limiter.
type RateLimitConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	RequestsPerMinute int      `mapstructure:"requests_per_minute" validate:"min=0"`
	Burst             int      `mapstructure:"burst" validate:"min=0"`
	Whitelist         []string `mapstructure:"whitelist"`
	Blacklist         []string `mapstructure:"blacklist"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.fast_model", "")
	v.SetDefault("gemini.deep_model", "")
	v.SetDefault("gemini.summary_model", "")

	v.SetDefault("pipeline.mode", "both")
	v.SetDefault("pipeline.inter_item_delay", 1500*time.Millisecond)
	v.SetDefault("pipeline.timeouts.fast", 60*time.Second)
	v.SetDefault("pipeline.timeouts.deep", 180*time.Second)
	v.SetDefault("pipeline.timeouts.synthesis", 90*time.Second)
	v.SetDefault("pipeline.timeouts.summary", 20*time.Second)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.sqlite_path", "workbench.db")
	v.SetDefault("storage.database_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 600)
	v.SetDefault("rate_limit.burst", 60)
	v.SetDefault("rate_limit.whitelist", []string{})
	v.SetDefault("rate_limit.blacklist", []string{})
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration. When path is empty, workbench.yaml is searched in
// the working directory and ./configs; a missing file is not an error.
// Environment variables (WORKBENCH_ prefix) override the file, and a .env file
// is loaded first when present.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("workbench")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// GEMINI_API_KEY is the conventional name and wins only when nothing else is set
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
