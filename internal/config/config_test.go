package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if errWrite := os.WriteFile(path, []byte(content), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	return path
}

func TestLoadDefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9100
database:
  dsn: "gateway.db"
admin:
  password: "hunter2"
  jwt-secret: "secret"
upstream:
  base-url: "https://upstream.example/v1"
usage:
  retention-days: 90
`)

	cfg, errLoad := Load(path)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9100 {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Admin.Username != "admin" || cfg.Admin.JWTExpiryHours != 24 {
		t.Fatalf("admin defaults lost: %+v", cfg.Admin)
	}
	if cfg.Upstream.RequestTimeoutSeconds != 300 {
		t.Fatalf("upstream timeout default lost: %+v", cfg.Upstream)
	}
	if cfg.Usage.RetentionDays != 90 {
		t.Fatalf("retention not read: %+v", cfg.Usage)
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9100\n")
	if _, errLoad := Load(path); errLoad == nil {
		t.Fatal("expected error without dsn")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: \"file.db\"\n")
	t.Setenv("DATABASE_URL", "postgres://gw:pw@db:5432/gw")
	t.Setenv("SERVER_PORT", "9200")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, errLoad := Load(path)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Database.DSN != "postgres://gw:pw@db:5432/gw" {
		t.Fatalf("DATABASE_URL not applied: %q", cfg.Database.DSN)
	}
	if cfg.Server.Port != 9200 || cfg.Log.Level != "debug" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	t.Setenv("DATABASE_URL", "gateway.db")
	cfg, errLoad := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Database.DSN != "gateway.db" {
		t.Fatalf("env-only deployment broken: %+v", cfg.Database)
	}
}
