// Package config provides configuration parsing for the imputer.
//
// It layers three sources, in order of precedence:
//  1. Command-line flags
//  2. Environment variables
//  3. An optional YAML file given via --config
//
// with built-in defaults underneath. Source-specific parameters (CSV path,
// HTTP endpoint and JSON paths) are passed through a generic string map
// populated from SOURCE_* environment variables or the YAML file, so new
// source backends do not need new flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all imputer configuration.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	RunID        string
	Source       string
	SourceConfig map[string]string
	Input        string
	Output       string
	ReportPath   string

	BatchSize           int
	Workers             int
	EnforceMonotonicity bool
	ClampObserved       bool

	ConfigFile string
}

// fileConfig mirrors Config for YAML decoding. Pointer fields distinguish
// absent keys from zero values, so the file never clobbers a flag or
// environment setting with a default.
type fileConfig struct {
	Listen    *string `yaml:"listen"`
	LogFormat *string `yaml:"log_format"`
	LogLevel  *string `yaml:"log_level"`

	Storage       *string `yaml:"storage"`
	RedisAddr     *string `yaml:"redis_addr"`
	RedisPassword *string `yaml:"redis_password"`
	RedisDB       *int    `yaml:"redis_db"`
	RedisTTL      *string `yaml:"redis_ttl"`

	RunID        *string           `yaml:"run_id"`
	Source       *string           `yaml:"source"`
	SourceConfig map[string]string `yaml:"source_config"`
	Input        *string           `yaml:"input"`
	Output       *string           `yaml:"output"`
	ReportPath   *string           `yaml:"report"`

	BatchSize           *int  `yaml:"batch_size"`
	Workers             *int  `yaml:"workers"`
	EnforceMonotonicity *bool `yaml:"enforce_monotonicity"`
	ClampObserved       *bool `yaml:"clamp_observed"`
}

// Load parses flags, environment variables and the optional YAML file into
// a validated Config.
func Load() (*Config, error) {
	cfg := parseFlags()

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8085"), "HTTP listen address")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Progress store backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 24*time.Hour), "Redis snapshot TTL")

	flag.StringVar(&cfg.RunID, "run-id", getEnv("RUN_ID", ""), "Run identifier (defaults to a random UUID)")
	flag.StringVar(&cfg.Source, "source", getEnv("SOURCE", "csv"), "Source type: csv or http")
	flag.StringVar(&cfg.Input, "input", getEnv("INPUT", ""), "Input CSV file (shorthand for SOURCE_PATH)")
	flag.StringVar(&cfg.Output, "output", getEnv("OUTPUT", ""), "Output CSV file (required)")
	flag.StringVar(&cfg.ReportPath, "report", getEnv("REPORT", ""), "Write the run report JSON to this file")

	flag.IntVar(&cfg.BatchSize, "batch-size", getEnvInt("BATCH_SIZE", 10000), "Entities per chunk")
	flag.IntVar(&cfg.Workers, "workers", getEnvInt("WORKERS", 0), "Worker pool size (0 = one per core)")
	flag.BoolVar(&cfg.EnforceMonotonicity, "enforce-monotonicity", getEnvBool("ENFORCE_MONOTONICITY", true), "Clamp decreasing cumulative values")
	flag.BoolVar(&cfg.ClampObserved, "clamp-observed", getEnvBool("CLAMP_OBSERVED", true), "Allow clamping of observed values, not just imputed ones")

	flag.StringVar(&cfg.ConfigFile, "config", getEnv("CONFIG_FILE", ""), "YAML configuration file")

	flag.Parse()

	cfg.SourceConfig = parseSourceConfig()
	if cfg.Input != "" {
		cfg.SourceConfig["path"] = cfg.Input
	}

	return cfg
}

// parseSourceConfig collects SOURCE_* environment variables into the generic
// source parameter map. SOURCE_PATH becomes "path", SOURCE_COLUMNS_PATH
// becomes "columns_path". Header and template-variable entries use the dot
// forms the source factory expects: SOURCE_HEADER_AUTHORIZATION becomes
// "header.authorization" (header names are case-insensitive on the wire).
func parseSourceConfig() map[string]string {
	config := make(map[string]string)

	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, "SOURCE_") {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, "SOURCE_"))
		if key == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(key, "header_"); ok {
			key = "header." + rest
		} else if rest, ok := strings.CutPrefix(key, "var_"); ok {
			key = "var." + rest
		}
		config[key] = value
	}

	return config
}

// applyFile merges the YAML file underneath flags and environment: a file
// value wins only when neither the flag nor its environment variable was
// set.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	set := make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	overridden := func(flagName, envKey string) bool {
		return set[flagName] || os.Getenv(envKey) != ""
	}

	applyString := func(dst *string, src *string, flagName, envKey string) {
		if src != nil && !overridden(flagName, envKey) {
			*dst = *src
		}
	}
	applyInt := func(dst *int, src *int, flagName, envKey string) {
		if src != nil && !overridden(flagName, envKey) {
			*dst = *src
		}
	}
	applyBool := func(dst *bool, src *bool, flagName, envKey string) {
		if src != nil && !overridden(flagName, envKey) {
			*dst = *src
		}
	}

	applyString(&c.Listen, f.Listen, "listen", "LISTEN")
	applyString(&c.LogFormat, f.LogFormat, "log-format", "LOG_FORMAT")
	applyString(&c.LogLevel, f.LogLevel, "log-level", "LOG_LEVEL")
	applyString(&c.Storage, f.Storage, "storage", "STORAGE")
	applyString(&c.RedisAddr, f.RedisAddr, "redis-addr", "REDIS_ADDR")
	applyString(&c.RedisPassword, f.RedisPassword, "redis-password", "REDIS_PASSWORD")
	applyInt(&c.RedisDB, f.RedisDB, "redis-db", "REDIS_DB")
	applyString(&c.RunID, f.RunID, "run-id", "RUN_ID")
	applyString(&c.Source, f.Source, "source", "SOURCE")
	applyString(&c.Input, f.Input, "input", "INPUT")
	applyString(&c.Output, f.Output, "output", "OUTPUT")
	applyString(&c.ReportPath, f.ReportPath, "report", "REPORT")
	applyInt(&c.BatchSize, f.BatchSize, "batch-size", "BATCH_SIZE")
	applyInt(&c.Workers, f.Workers, "workers", "WORKERS")
	applyBool(&c.EnforceMonotonicity, f.EnforceMonotonicity, "enforce-monotonicity", "ENFORCE_MONOTONICITY")
	applyBool(&c.ClampObserved, f.ClampObserved, "clamp-observed", "CLAMP_OBSERVED")

	if f.RedisTTL != nil && !overridden("redis-ttl", "REDIS_TTL") {
		d, err := time.ParseDuration(*f.RedisTTL)
		if err != nil {
			return fmt.Errorf("config file redis_ttl: %w", err)
		}
		c.RedisTTL = d
	}

	// File-level source parameters sit under environment ones.
	for k, v := range f.SourceConfig {
		if _, exists := c.SourceConfig[k]; !exists {
			c.SourceConfig[k] = v
		}
	}
	if f.Input != nil && c.SourceConfig["path"] == "" {
		c.SourceConfig["path"] = c.Input
	}

	return nil
}

func (c *Config) validate() error {
	if c.Source != "csv" && c.Source != "http" {
		return fmt.Errorf("invalid source %q: must be csv or http", c.Source)
	}
	if c.Source == "csv" && c.SourceConfig["path"] == "" {
		return fmt.Errorf("csv source requires --input or SOURCE_PATH")
	}
	if c.Output == "" {
		return fmt.Errorf("--output is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.Storage != "memory" && c.Storage != "redis" {
		return fmt.Errorf("invalid storage %q: must be memory or redis", c.Storage)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
