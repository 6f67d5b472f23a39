package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
)

// Credential backends.
const (
	BackendSQL    = "sql"
	BackendS3     = "s3"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Config represents ~/.wppcrm/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	LogLevel       string `toml:"log_level"`
	// AutoStart connects (or begins pairing) as soon as the daemon is up.
	AutoStart bool `toml:"auto_start"`

	HTTP        HTTPConfig        `toml:"http"`
	Database    DatabaseConfig    `toml:"database"`
	Credentials CredentialsConfig `toml:"credentials"`
	Reconnect   ReconnectConfig   `toml:"reconnect"`
	Send        SendConfig        `toml:"send"`
	Pairing     PairingConfig     `toml:"pairing"`
	Ingest      IngestConfig      `toml:"ingest"`
}

// HTTPConfig configures the control API. A non-empty Token is required as a
// bearer token on every request.
type HTTPConfig struct {
	Addr           string   `toml:"addr"`
	Token          string   `toml:"token"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// DatabaseConfig selects the app database. An empty DSN with the sqlite3
// driver means the session's own database file.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type CredentialsConfig struct {
	Backend string      `toml:"backend"`
	Prefix  string      `toml:"prefix"`
	S3      S3Config    `toml:"s3"`
	Redis   RedisConfig `toml:"redis"`
}

type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type ReconnectConfig struct {
	Delay       time.Duration `toml:"delay"`
	MaxDelay    time.Duration `toml:"max_delay"`
	Multiplier  float64       `toml:"multiplier"`
	MaxAttempts int           `toml:"max_attempts"`
}

// SendConfig throttles outbound messages. PerMinute 0 disables throttling.
type SendConfig struct {
	PerMinute int `toml:"per_minute"`
	Burst     int `toml:"burst"`
}

type PairingConfig struct {
	PrintTerminal bool `toml:"print_terminal"`
	QRSize        int  `toml:"qr_size"`
}

type IngestConfig struct {
	DedupCacheSize int `toml:"dedup_cache_size"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		LogLevel:       "info",
		AutoStart:      true,
		HTTP:           HTTPConfig{Addr: "127.0.0.1:8088"},
		Database:       DatabaseConfig{Driver: DriverSQLite},
		Credentials:    CredentialsConfig{Backend: BackendSQL},
		Reconnect:      ReconnectConfig{Delay: 30 * time.Second, Multiplier: 1},
		Send:           SendConfig{PerMinute: 30, Burst: 5},
		Pairing:        PairingConfig{PrintTerminal: true, QRSize: 256},
		Ingest:         IngestConfig{DedupCacheSize: 4096},
	}
}

// Load reads config from path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secrets and deployment-specific values.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("WPPCRM_HTTP_ADDR", &c.HTTP.Addr)
	set("WPPCRM_HTTP_TOKEN", &c.HTTP.Token)
	set("WPPCRM_DATABASE_DRIVER", &c.Database.Driver)
	set("WPPCRM_DATABASE_DSN", &c.Database.DSN)
	set("WPPCRM_CREDENTIALS_BACKEND", &c.Credentials.Backend)
	set("WPPCRM_S3_ACCESS_KEY_ID", &c.Credentials.S3.AccessKeyID)
	set("WPPCRM_S3_SECRET_ACCESS_KEY", &c.Credentials.S3.SecretAccessKey)
	set("WPPCRM_REDIS_ADDR", &c.Credentials.Redis.Addr)
	set("WPPCRM_REDIS_PASSWORD", &c.Credentials.Redis.Password)
	set("WPPCRM_LOG_LEVEL", &c.LogLevel)
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if !slices.Contains([]string{DriverSQLite, DriverPostgres}, c.Database.Driver) {
		return fmt.Errorf("database.driver %q: want %s or %s", c.Database.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Database.Driver == DriverPostgres && c.Database.DSN == "" {
		return errors.New("database.dsn is required for the pgx driver")
	}
	switch c.Credentials.Backend {
	case BackendSQL, BackendMemory:
	case BackendS3:
		if c.Credentials.S3.Bucket == "" {
			return errors.New("credentials.s3.bucket is required for the s3 backend")
		}
	case BackendRedis:
		if c.Credentials.Redis.Addr == "" {
			return errors.New("credentials.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("credentials.backend %q: want sql, s3, redis or memory", c.Credentials.Backend)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must not be negative")
	}
	if c.Send.PerMinute < 0 || c.Send.Burst < 0 {
		return errors.New("send limits must not be negative")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
