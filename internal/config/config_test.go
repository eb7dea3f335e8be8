package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("ADSCOUT_TEST_DSN", "postgres://real/db")
	path := writeConfig(t, `{
		"server": {"port": 9090},
		"database": {
			"postgres": {"dsn": "${ADSCOUT_TEST_DSN}"},
			"redis": {"url": "${ADSCOUT_TEST_REDIS:redis://localhost:6379}"}
		},
		"gateway": {"endpoint": "https://gw.example.com/v1", "model": "gpt-4o"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port %d", cfg.Server.Port)
	}
	if cfg.Database.Postgres.DSN != "postgres://real/db" {
		t.Fatalf("dsn %q", cfg.Database.Postgres.DSN)
	}
	// Unset var falls back to the inline default.
	if cfg.Database.Redis.URL != "redis://localhost:6379" {
		t.Fatalf("redis url %q", cfg.Database.Redis.URL)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"gateway": {"endpoint": "https://gw.example.com/v1"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.LogLevel != "info" {
		t.Fatalf("server defaults %+v", cfg.Server)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Fatalf("max iterations %d", cfg.Agent.MaxIterations)
	}
	if cfg.Gateway.TimeoutSeconds != 120 {
		t.Fatalf("gateway timeout %d", cfg.Gateway.TimeoutSeconds)
	}
	if cfg.Research.Blob.Bucket != "competitor-videos" {
		t.Fatalf("bucket %q", cfg.Research.Blob.Bucket)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := writeConfig(t, `{"server": `)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
