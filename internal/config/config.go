package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server        ServerConfig   `json:"server"`
	Gateway       GatewayConfig  `json:"gateway"`
	Agent         AgentConfig    `json:"agent"`
	Database      DatabaseConfig `json:"database"`
	Research      ResearchConfig `json:"research"`
	MigrationsDir string         `json:"migrations_dir"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// GatewayConfig points at the OpenAI-compatible chat completion gateway.
type GatewayConfig struct {
	Endpoint       string `json:"endpoint"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type AgentConfig struct {
	MaxIterations         int     `json:"max_iterations"`
	ImplicitCompletionLen int     `json:"implicit_completion_len"`
	WriteThrottle         int     `json:"write_throttle"`
	RunTimeoutSeconds     int     `json:"run_timeout_seconds"`
	Temperature           float64 `json:"temperature"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// ResearchConfig holds the collaborator services the tools call out to.
type ResearchConfig struct {
	AdLibrary AdLibraryConfig `json:"ad_library"`
	Vision    VisionConfig    `json:"vision"`
	Search    SearchConfig    `json:"search"`
	Blob      BlobConfig      `json:"blob"`
}

type AdLibraryConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	MaxAds   int    `json:"max_ads"`
}

type VisionConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
}

type SearchConfig struct {
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"api_key"`
	MaxResults int    `json:"max_results"`
}

type BlobConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Bucket   string `json:"bucket"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 120
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.RunTimeoutSeconds == 0 {
		c.Agent.RunTimeoutSeconds = 600
	}
	if c.Research.Blob.Bucket == "" {
		c.Research.Blob.Bucket = "competitor-videos"
	}
	if c.MigrationsDir == "" {
		c.MigrationsDir = "migrations"
	}
}
