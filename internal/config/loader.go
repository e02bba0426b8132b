package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file, applies defaults and
// validates the result. ${ENV_VAR} references in string values are expanded
// from the process environment.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", configPath, err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", configPath, err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Service.Channel == "" {
		cfg.Service.Channel = def.Service.Channel
	}
	if cfg.State.Path == "" {
		cfg.State.Path = def.State.Path
	}
	if cfg.Ingest.Listen == "" {
		cfg.Ingest.Listen = def.Ingest.Listen
	}
	if cfg.Ingest.Path == "" {
		cfg.Ingest.Path = def.Ingest.Path
	}
	if cfg.Ingest.MaxBodySize <= 0 {
		cfg.Ingest.MaxBodySize = def.Ingest.MaxBodySize
	}
	if cfg.Lock.Mode == "" {
		cfg.Lock.Mode = def.Lock.Mode
	}
	if cfg.Lock.TTL <= 0 {
		cfg.Lock.TTL = def.Lock.TTL
	}
	if cfg.Engine.Timeout <= 0 {
		cfg.Engine.Timeout = 30 * time.Second
	}
	if cfg.Git.Timeout <= 0 {
		cfg.Git.Timeout = def.Git.Timeout
	}
	if cfg.Registry.Timeout <= 0 {
		cfg.Registry.Timeout = 10 * time.Second
	}
}

func validate(cfg *Config) error {
	switch cfg.Lock.Mode {
	case "memory":
	case "redis":
		if cfg.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required when lock.mode is redis")
		}
	default:
		return fmt.Errorf("lock.mode must be memory or redis, got %q", cfg.Lock.Mode)
	}
	if cfg.Engine.BaseURL == "" {
		return fmt.Errorf("engine.base_url is required")
	}
	if cfg.Git.BaseURL == "" {
		return fmt.Errorf("git.base_url is required")
	}
	return nil
}
