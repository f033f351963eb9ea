package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mproxy/pkg/message"
	"mproxy/pkg/worker"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	envConfigPath = "MPROXY_CONFIG"
	envDotEnvPath = "MPROXY_ENV_FILE"
)

// Config is the root runtime configuration.
type Config struct {
	Server   ServerConfig             `json:"server"`
	Logging  LoggingConfig            `json:"logging,omitempty"`
	Channels map[string]ChannelConfig `json:"channels" validate:"required,min=1"`
}

type ServerConfig struct {
	Host                   string `json:"host" env:"MPROXY_HOST"`
	Port                   int    `json:"port" env:"MPROXY_PORT" validate:"gte=0,lte=65535"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" env:"MPROXY_SHUTDOWN_TIMEOUT" validate:"gte=0"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" env:"MPROXY_LOG_FORMAT" validate:"omitempty,oneof=text json"`
	Level     string `json:"level,omitempty" env:"MPROXY_LOG_LEVEL" validate:"omitempty,oneof=debug info warn warning error"`
	AddSource bool   `json:"add_source,omitempty" env:"MPROXY_LOG_ADD_SOURCE"`
}

// ChannelConfig selects the worker type of one channel and carries its parameters.
type ChannelConfig struct {
	Worker    string           `json:"worker"`
	Params    json.RawMessage  `json:"params,omitempty"`
	RateLimit *RateLimitConfig `json:"rate_limit,omitempty"`
}

type RateLimitConfig struct {
	PerSecond float64 `json:"per_second"`
	Burst     int     `json:"burst"`
}

// LoadConfig resolves the config file, decodes it, and applies .env and environment overrides.
//
// path wins over MPROXY_CONFIG and the working-directory candidates when not empty.
func LoadConfig(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	configPath, err := findConfigPath(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(configPath, content)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes a JSON or YAML document (chosen by extension), applies env overrides, and validates.
func Parse(path string, content []byte) (*Config, error) {
	data, format, err := coerceToJSONBytes(path, content)
	if err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var cfg Config
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s config file: %w", format, err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks structural constraints. Channel-level checks happen when workers are built.
func (c *Config) Validate() error {
	err := message.Validator().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("invalid config: %w", err)
	}

	field := fieldErrs[0]
	path := strings.TrimPrefix(field.Namespace(), "Config.")
	if field.Tag() == "required" || field.Tag() == "min" {
		return fmt.Errorf("invalid config: %s must not be empty", path)
	}

	return fmt.Errorf("invalid config: %s has unsupported value %v", path, field.Value())
}

// ChannelSpecs converts channel entries into worker build specs.
func (c *Config) ChannelSpecs() map[string]worker.ChannelSpec {
	specs := make(map[string]worker.ChannelSpec, len(c.Channels))
	for name, channel := range c.Channels {
		spec := worker.ChannelSpec{Worker: channel.Worker, Params: channel.Params}
		if channel.RateLimit != nil {
			spec.RateLimit = &worker.RateLimit{PerSecond: channel.RateLimit.PerSecond, Burst: channel.RateLimit.Burst}
		}
		specs[name] = spec
	}

	return specs
}

// applyEnvOverrides injects env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(&cfg.Server); err != nil {
		return fmt.Errorf("apply server env overrides: %w", err)
	}
	if err := env.Parse(&cfg.Logging); err != nil {
		return fmt.Errorf("apply logging env overrides: %w", err)
	}

	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	return nil
}

// loadDotEnv reads MPROXY_ENV_FILE or ./.env into the process environment.
//
// Variables already set in the environment are not overwritten. A missing ./.env is not an error.
func loadDotEnv() error {
	if value := strings.TrimSpace(os.Getenv(envDotEnvPath)); value != "" {
		if err := godotenv.Load(value); err != nil {
			return fmt.Errorf("load env file %s: %w", value, err)
		}
		return nil
	}

	if info, err := os.Stat(".env"); err != nil || info.IsDir() {
		return nil
	}

	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

// findConfigPath resolves the active config file location.
//
// Precedence is the explicit path, then MPROXY_CONFIG, then cwd-local fallback paths.
func findConfigPath(explicit string) (string, error) {
	if value := strings.TrimSpace(explicit); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("config path does not point to a file: %s", value)
	}

	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := make([]string, 0, 6)
	for _, dir := range []string{cwd, filepath.Join(cwd, "config")} {
		for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config file not found (checked %s)", strings.Join(candidates, ", "))
}
