// Package config loads codebook settings from a YAML file and CODEBOOK_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CODEBOOK_"

const maxConfigFileSize = 1024 * 1024

// sections are the nested blocks; other keys are top level
var sections = []string{"log", "classifier", "server"}

// Config is the full application configuration
type Config struct {
	DBPath     string           `koanf:"db_path"`
	Theme      string           `koanf:"theme"`
	Log        LogConfig        `koanf:"log"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Server     ServerConfig     `koanf:"server"`
}

// LogConfig selects the logger level and encoding
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ClassifierConfig configures the classification service client
type ClassifierConfig struct {
	APIKey    string        `koanf:"api_key"`
	Model     string        `koanf:"model"`
	Endpoint  string        `koanf:"endpoint"`
	MaxTokens int           `koanf:"max_tokens"`
	Timeout   time.Duration `koanf:"timeout"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// Load reads configuration with precedence env > file > defaults. A missing
// file at path is not an error; an empty path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s is larger than %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

// envKey maps CODEBOOK_CLASSIFIER_API_KEY to classifier.api_key and
// CODEBOOK_DB_PATH to db_path.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if field, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + field
		}
	}
	return key
}

func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "codebook.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Classifier.APIKey == "" {
		cfg.Classifier.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Classifier.Endpoint == "" {
		cfg.Classifier.Endpoint = "https://api.anthropic.com/v1/messages"
	}
	if cfg.Classifier.MaxTokens == 0 {
		cfg.Classifier.MaxTokens = 8192
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 2 * time.Minute
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format %q: want console or json", c.Log.Format)
	}
	if c.Classifier.MaxTokens < 0 {
		return fmt.Errorf("classifier.max_tokens must be positive, got %d", c.Classifier.MaxTokens)
	}
	if c.Classifier.Timeout < 0 {
		return fmt.Errorf("classifier.timeout must be positive, got %s", c.Classifier.Timeout)
	}
	return nil
}
