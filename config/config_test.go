package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/andreyvit/kvtab"
)

func TestDetectBackend(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		url     string
		backend Backend
		err     error
	}{
		{"mem:", BackendMem, nil},
		{dir, BackendPebble, nil},
		{filepath.Join(dir, "fdb.cluster"), BackendFDB, nil},
		{filepath.Join(dir, "data.bolt"), BackendBolt, nil},
		{filepath.Join(dir, "data.DB"), BackendBolt, nil},
		{"mysql://user@host/db", "", kvtab.ErrBackendDisabled},
		{"postgres://host/db", "", kvtab.ErrBackendDisabled},
		{"postgresql://host/db", "", kvtab.ErrBackendDisabled},
		{filepath.Join(dir, "data.sqlite"), "", kvtab.ErrBackendDisabled},
		{filepath.Join(dir, "missing-dir"), "", kvtab.ErrBackendDisabled},
	}
	for _, tt := range tests {
		backend, _, err := DetectBackend(tt.url)
		if tt.err != nil {
			require.ErrorIs(t, err, tt.err, tt.url)
			continue
		}
		require.NoError(t, err, tt.url)
		require.Equal(t, tt.backend, backend, tt.url)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), *cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvtab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: "mem:"
keyspace: app
retry_attempts: 3
retry_backoff: 5ms
max_conns: 4
verbose: true
`), 0666))
	t.Setenv("KVTAB_KEYSPACE", "fromenv")
	t.Setenv("KVTAB_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "mem:", cfg.DatabaseURL)
	require.Equal(t, "fromenv", cfg.Keyspace)
	require.Equal(t, 3, cfg.RetryAttempts)
	require.Equal(t, 5*time.Millisecond, cfg.RetryBackoff)
	require.Equal(t, 2*time.Second, cfg.Timeout)
	require.Equal(t, 4, cfg.MaxConns)
	require.True(t, cfg.Verbose)
	require.Equal(t, DefaultConfig().RetryLimit, cfg.RetryLimit)
}

func TestLoadFailures(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, kvtab.ErrInvalidConfig)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry_attempts: 0\n"), 0666))
	_, err = Load(path)
	require.ErrorIs(t, err, kvtab.ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	mutations := map[string]func(*Config){
		"empty url":          func(c *Config) { c.DatabaseURL = "" },
		"empty keyspace":     func(c *Config) { c.Keyspace = "" },
		"separator":          func(c *Config) { c.Keyspace = "a\x1fb" },
		"zero attempts":      func(c *Config) { c.RetryAttempts = 0 },
		"zero backoff":       func(c *Config) { c.RetryBackoff = 0 },
		"bad retry limit":    func(c *Config) { c.RetryLimit = -5 },
		"zero timeout":       func(c *Config) { c.Timeout = 0 },
		"negative max conns": func(c *Config) { c.MaxConns = -1 },
	}
	for name, mutate := range mutations {
		cfg := DefaultConfig()
		mutate(&cfg)
		require.ErrorIs(t, cfg.Validate(), kvtab.ErrInvalidConfig, name)
	}
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("pebble with pool", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DatabaseURL = t.TempDir()
		cfg.MaxConns = 2
		client := NewClient(BackendPebble, logger)
		require.NoError(t, client.Start())
		defer client.Stop()

		conn, err := Open(ctx, &cfg, client, logger)
		require.NoError(t, err)
		defer conn.Close()
		pool, ok := conn.(*kvtab.Pool)
		require.True(t, ok)
		require.Equal(t, 2, pool.MaxSize())
		require.True(t, conn.Keyspace().Equal(kvtab.BaseKeyspace("kvtab")))

		k := conn.Keyspace().Pack([]byte("k"))
		require.NoError(t, kvtab.Update(ctx, conn, func(tx kvtab.Transaction) error {
			return tx.Set(ctx, k, []byte("v"))
		}))
	})

	t.Run("bolt", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DatabaseURL = filepath.Join(t.TempDir(), "x.bolt")
		client := NewClient(BackendBolt, logger)
		require.NoError(t, client.Start())
		defer client.Stop()

		conn, err := Open(ctx, &cfg, client, logger)
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	})

	t.Run("client not started", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DatabaseURL = "mem:"
		_, err := Open(ctx, &cfg, NewClient(BackendMem, logger), logger)
		require.ErrorIs(t, err, kvtab.ErrClientNotStarted)
	})

	t.Run("disabled backend", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DatabaseURL = "mysql://localhost/db"
		_, err := Open(ctx, &cfg, nil, logger)
		require.ErrorIs(t, err, kvtab.ErrBackendDisabled)
	})
}
