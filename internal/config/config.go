// Package config loads hs2pool settings from a YAML or JSON file and
// HS2POOL_* environment variables.
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/hs2pool/internal/logging"
	"github.com/aretw0/hs2pool/pkg/session"
	"github.com/joeshaw/envdecode"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendFile   = "file"
	BackendBolt   = "bolt"
)

// Config is the full runtime configuration.
type Config struct {
	Pool   session.Policy `yaml:"pool" mapstructure:"pool"`
	Store  StoreConfig    `yaml:"store" mapstructure:"store"`
	Log    LogConfig      `yaml:"log" mapstructure:"log"`
	Server ServerConfig   `yaml:"server" mapstructure:"server"`
}

// StoreConfig selects and configures the session store.
type StoreConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend" env:"HS2POOL_STORE_BACKEND"`

	// SecretKey is a hex encoded AES-256 key. When set, session secrets are
	// sealed before they reach the backend.
	SecretKey    string   `yaml:"secret_key,omitempty" mapstructure:"secret_key" env:"HS2POOL_STORE_SECRET_KEY"`
	FallbackKeys []string `yaml:"fallback_keys,omitempty" mapstructure:"fallback_keys"`

	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
	File  FileConfig  `yaml:"file" mapstructure:"file"`
	Bolt  BoltConfig  `yaml:"bolt" mapstructure:"bolt"`
	Lock  LockConfig  `yaml:"lock" mapstructure:"lock"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr" env:"HS2POOL_REDIS_ADDR"`
	Password string        `yaml:"password,omitempty" mapstructure:"password" env:"HS2POOL_REDIS_PASSWORD"`
	DB       int           `yaml:"db" mapstructure:"db" env:"HS2POOL_REDIS_DB"`
	Prefix   string        `yaml:"prefix" mapstructure:"prefix" env:"HS2POOL_REDIS_PREFIX"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl" env:"HS2POOL_REDIS_TTL"`
}

type FileConfig struct {
	Path string `yaml:"path" mapstructure:"path" env:"HS2POOL_FILE_PATH"`
}

type BoltConfig struct {
	Path    string        `yaml:"path" mapstructure:"path" env:"HS2POOL_BOLT_PATH"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" env:"HS2POOL_BOLT_TIMEOUT"`
}

// LockConfig enables the distributed pool lock. Only the redis backend has one.
type LockConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled" env:"HS2POOL_LOCK_ENABLED"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl" env:"HS2POOL_LOCK_TTL"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" env:"HS2POOL_LOG_LEVEL"`
	Format string `yaml:"format" mapstructure:"format" env:"HS2POOL_LOG_FORMAT"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr" env:"HS2POOL_SERVER_ADDR"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Pool: session.DefaultPolicy(),
		Store: StoreConfig{
			Backend: BackendMemory,
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "hs2pool:", TTL: 24 * time.Hour},
			File:    FileConfig{Path: filepath.Join(".hs2pool", "sessions")},
			Bolt:    BoltConfig{Path: filepath.Join(".hs2pool", "sessions.db"), Timeout: time.Second},
			Lock:    LockConfig{TTL: session.DefaultLockTTL},
		},
		Log:    LogConfig{Level: "info", Format: string(logging.FormatText)},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads path (YAML, or JSON by extension) over the defaults, applies
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := Decode(data, strings.ToLower(filepath.Ext(path)) == ".json", cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges a YAML or JSON document into cfg. Durations accept Go
// syntax ("30s") and scalars are weakly typed ("4" is a valid max_sessions).
func Decode(data []byte, isJSON bool, cfg *Config) error {
	raw := map[string]any{}
	var err error
	if isJSON {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return err
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Validate checks values that cannot be fixed by defaults.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory, BackendRedis, BackendFile, BackendBolt:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.Lock.Enabled && c.Store.Backend != BackendRedis {
		errs = append(errs, errors.New("store.lock.enabled requires the redis backend"))
	}
	if c.Store.Lock.TTL <= 0 {
		errs = append(errs, errors.New("store.lock.ttl must be positive"))
	}
	if c.Store.SecretKey != "" {
		if _, err := c.Store.Keys(); err != nil {
			errs = append(errs, err)
		}
		if _, err := c.Store.Fallbacks(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	return errors.Join(errs...)
}

// Keys decodes the active encryption key.
func (s StoreConfig) Keys() ([]byte, error) {
	active, err := hex.DecodeString(s.SecretKey)
	if err != nil || len(active) != 32 {
		return nil, errors.New("store.secret_key must be 64 hex characters")
	}
	return active, nil
}

// Fallbacks decodes the keys still accepted for records sealed before a rotation.
func (s StoreConfig) Fallbacks() ([][]byte, error) {
	out := make([][]byte, 0, len(s.FallbackKeys))
	for i, k := range s.FallbackKeys {
		key, err := hex.DecodeString(k)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("store.fallback_keys[%d] must be 64 hex characters", i)
		}
		out = append(out, key)
	}
	return out, nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Store.SecretKey != "" {
		cp.Store.SecretKey = "***"
	}
	if len(cp.Store.FallbackKeys) > 0 {
		cp.Store.FallbackKeys = []string{"***"}
	}
	if cp.Store.Redis.Password != "" {
		cp.Store.Redis.Password = "***"
	}
	return &cp
}
