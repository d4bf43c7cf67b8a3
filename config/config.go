// Package config loads connection settings and opens the matching backend.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/andreyvit/kvtab"
	"github.com/andreyvit/kvtab/boltstore"
	"github.com/andreyvit/kvtab/fdbstore"
	"github.com/andreyvit/kvtab/memstore"
	"github.com/andreyvit/kvtab/pebblestore"
)

// EnvPrefix prefixes environment overrides, e.g. KVTAB_DATABASE_URL.
const EnvPrefix = "KVTAB"

type Config struct {
	// DatabaseURL selects the backend, see DetectBackend.
	DatabaseURL string `mapstructure:"database_url"`
	Keyspace    string `mapstructure:"keyspace"`

	// RetryAttempts is the pebble backend's total attempts per transaction.
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffCap time.Duration `mapstructure:"retry_backoff_cap"`
	// RetryLimit is FoundationDB's internal retry limit.
	RetryLimit int `mapstructure:"retry_limit"`
	// Timeout bounds FoundationDB transactions and bbolt lock waits.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxConns caps concurrent transactions; 0 means no pool.
	MaxConns    int           `mapstructure:"max_conns"`
	ConnTimeout time.Duration `mapstructure:"conn_timeout"`

	Verbose bool `mapstructure:"verbose"`
	Strict  bool `mapstructure:"strict"`
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL:     "data",
		Keyspace:        "kvtab",
		RetryAttempts:   10,
		RetryBackoff:    time.Millisecond,
		RetryBackoffCap: 100 * time.Millisecond,
		RetryLimit:      100,
		Timeout:         5 * time.Second,
		MaxConns:        0,
		ConnTimeout:     30 * time.Second,
	}
}

// Load reads path (any format viper understands) over the defaults, then
// applies KVTAB_* environment overrides. An empty path looks for an optional
// kvtab.{yaml,toml,json} in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("database_url", def.DatabaseURL)
	v.SetDefault("keyspace", def.Keyspace)
	v.SetDefault("retry_attempts", def.RetryAttempts)
	v.SetDefault("retry_backoff", def.RetryBackoff)
	v.SetDefault("retry_backoff_cap", def.RetryBackoffCap)
	v.SetDefault("retry_limit", def.RetryLimit)
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("max_conns", def.MaxConns)
	v.SetDefault("conn_timeout", def.ConnTimeout)
	v.SetDefault("verbose", def.Verbose)
	v.SetDefault("strict", def.Strict)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", kvtab.ErrInvalidConfig, path, err)
		}
	} else {
		v.SetConfigName("kvtab")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("%w: %v", kvtab.ErrInvalidConfig, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", kvtab.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) Validate() error {
	switch {
	case cfg.DatabaseURL == "":
		return fmt.Errorf("%w: database_url is empty", kvtab.ErrInvalidConfig)
	case cfg.Keyspace == "":
		return fmt.Errorf("%w: keyspace is empty", kvtab.ErrInvalidConfig)
	case bytes.IndexByte([]byte(cfg.Keyspace), kvtab.Sep) >= 0:
		return fmt.Errorf("%w: keyspace contains the separator byte", kvtab.ErrInvalidConfig)
	case cfg.RetryAttempts < 1:
		return fmt.Errorf("%w: retry_attempts must be at least 1, got %d", kvtab.ErrInvalidConfig, cfg.RetryAttempts)
	case cfg.RetryBackoff <= 0:
		return fmt.Errorf("%w: retry_backoff must be positive", kvtab.ErrInvalidConfig)
	case cfg.RetryLimit < -1:
		return fmt.Errorf("%w: retry_limit must be -1 or more, got %d", kvtab.ErrInvalidConfig, cfg.RetryLimit)
	case cfg.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", kvtab.ErrInvalidConfig)
	case cfg.MaxConns < 0:
		return fmt.Errorf("%w: max_conns must not be negative", kvtab.ErrInvalidConfig)
	}
	return nil
}

type Backend string

const (
	BackendMem    Backend = "mem"
	BackendPebble Backend = "pebble"
	BackendFDB    Backend = "fdb"
	BackendBolt   Backend = "bolt"
)

// DetectBackend picks a backend for a database URL:
//
//	mem:                     in-memory store
//	mysql:..., postgres:...  recognized, but not supported
//	an existing directory    pebble
//	*.cluster                FoundationDB cluster file
//	*.bolt, *.db             bbolt file
//
// It returns the backend and the filesystem path it should use.
func DetectBackend(url string) (Backend, string, error) {
	lower := strings.ToLower(url)
	switch {
	case lower == "mem:" || lower == "mem":
		return BackendMem, "", nil
	case strings.HasPrefix(lower, "mysql:"), strings.HasPrefix(lower, "postgres:"), strings.HasPrefix(lower, "postgresql:"):
		scheme, _, _ := strings.Cut(lower, ":")
		return "", "", fmt.Errorf("%s: %w", scheme, kvtab.ErrBackendDisabled)
	}

	if st, err := os.Stat(url); err == nil && st.IsDir() {
		return BackendPebble, url, nil
	}
	switch strings.ToLower(filepath.Ext(url)) {
	case ".cluster":
		return BackendFDB, url, nil
	case ".bolt", ".db":
		return BackendBolt, url, nil
	}
	return "", "", fmt.Errorf("%q is neither a directory nor a known database file: %w", url, kvtab.ErrBackendDisabled)
}

// NewClient returns the driver client the backend needs. Only FoundationDB has a real one.
func NewClient(backend Backend, logger *zap.Logger) *kvtab.Client {
	if backend == BackendFDB {
		return fdbstore.NewClient(logger)
	}
	return kvtab.NewClient(string(backend), kvtab.ClientOptions{Logger: logger})
}

// Open establishes a connection to the configured backend. client must be
// started. The result is wrapped in a kvtab.Pool when MaxConns is set.
func Open(ctx context.Context, cfg *Config, client *kvtab.Client, logger *zap.Logger) (kvtab.Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	backend, path, err := DetectBackend(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	var conn kvtab.Connection
	switch backend {
	case BackendMem:
		if err := client.Check(); err != nil {
			return nil, err
		}
		conn = memstore.New(memstore.Options{Keyspace: cfg.Keyspace, Logger: logger})
	case BackendPebble:
		conn, err = pebblestore.Open(ctx, client, pebblestore.Config{
			Dir:             path,
			Keyspace:        cfg.Keyspace,
			RetryAttempts:   cfg.RetryAttempts,
			RetryBackoff:    cfg.RetryBackoff,
			RetryBackoffCap: cfg.RetryBackoffCap,
			Logger:          logger,
		})
	case BackendFDB:
		conn, err = fdbstore.Open(ctx, client, fdbstore.Config{
			ClusterFile: path,
			Keyspace:    cfg.Keyspace,
			RetryLimit:  cfg.RetryLimit,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		})
	case BackendBolt:
		conn, err = boltstore.Open(ctx, client, boltstore.Config{
			Path:     path,
			Keyspace: cfg.Keyspace,
			Timeout:  cfg.Timeout,
			Logger:   logger,
		})
	}
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", zap.String("backend", string(backend)), zap.String("url", cfg.DatabaseURL))

	if cfg.MaxConns > 0 {
		return kvtab.NewPool(conn, cfg.MaxConns, cfg.ConnTimeout), nil
	}
	return conn, nil
}
