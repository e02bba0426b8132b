package config

import "time"

// Config represents the complete streamci service configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Lock     LockConfig     `yaml:"lock"`
	Engine   EngineConfig   `yaml:"engine"`
	Git      GitConfig      `yaml:"git"`
	Registry RegistryConfig `yaml:"registry,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Channel   string `yaml:"channel"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig defines the webhook ingestion server settings.
type IngestConfig struct {
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	Secret      string `yaml:"secret,omitempty"`
	TokenHeader string `yaml:"token_header,omitempty"`
	MaxBodySize int64  `yaml:"max_body_size,omitempty"`
}

// LockConfig defines the trigger lock backend.
// Mode "memory" is single-node; mode "redis" coordinates across instances.
type LockConfig struct {
	Mode      string        `yaml:"mode"`
	RedisAddr string        `yaml:"redis_addr,omitempty"`
	TTL       time.Duration `yaml:"ttl"`
}

// EngineConfig defines how to reach the external pipeline engine.
type EngineConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// GitConfig defines how to reach the source-control service used for
// OAuth tokens, manifest listing and commit checks.
type GitConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// RegistryConfig defines the marketplace/plugin registry endpoint.
type RegistryConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "streamci",
			LogLevel:  "info",
			LogFormat: "json",
			Channel:   "GIT",
		},
		State: StateConfig{
			Path: "./data/streamci.db",
		},
		Ingest: IngestConfig{
			Listen:      "127.0.0.1:8080",
			Path:        "/webhook/trigger",
			TokenHeader: "X-Gitlab-Token",
			MaxBodySize: 1 << 20,
		},
		Lock: LockConfig{
			Mode: "memory",
			TTL:  60 * time.Second,
		},
		Engine: EngineConfig{
			Timeout: 30 * time.Second,
		},
		Git: GitConfig{
			Timeout: 15 * time.Second,
		},
		Registry: RegistryConfig{
			Timeout: 10 * time.Second,
		},
	}
}
