package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Reconnect.MaxAttempts = 5
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Reconnect.MaxAttempts != 5 || loaded.Reconnect.Delay != 30*time.Second {
		t.Errorf("Reconnect = %+v", loaded.Reconnect)
	}
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Credentials.Backend != BackendSQL {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[reconnect]
delay = "5s"
max_attempts = 3

[send]
per_minute = 10
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Reconnect.Delay != 5*time.Second || cfg.Reconnect.MaxAttempts != 3 {
		t.Errorf("Reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Send.PerMinute != 10 || cfg.Send.Burst != 5 {
		t.Errorf("Send = %+v", cfg.Send)
	}
	if cfg.HTTP.Addr == "" {
		t.Error("http.addr default lost")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("default_session = ["), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for malformed file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"WPPCRM_DATABASE_DSN":   "postgres://u:p@db/crm",
		"WPPCRM_REDIS_PASSWORD": "s3cret",
		"WPPCRM_HTTP_ADDR":      "",
	}
	cfg := Default()
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Database.DSN != "postgres://u:p@db/crm" || cfg.Credentials.Redis.Password != "s3cret" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.HTTP.Addr != Default().HTTP.Addr {
		t.Error("empty env value should not override")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.dsn"},
		{"s3 without bucket", func(c *Config) { c.Credentials.Backend = BackendS3 }, "bucket"},
		{"redis without addr", func(c *Config) { c.Credentials.Backend = BackendRedis }, "redis.addr"},
		{"unknown backend", func(c *Config) { c.Credentials.Backend = "etcd" }, "credentials.backend"},
		{"negative attempts", func(c *Config) { c.Reconnect.MaxAttempts = -1 }, "max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
