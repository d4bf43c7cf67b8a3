// Package pebblestore is a kvtab backend on top of an embedded Pebble database.
//
// Pebble has no transactions of its own, so this package provides optimistic
// ones: each transaction reads a snapshot, buffers its writes, and is
// validated against concurrent commits when it commits. A transaction that
// lost a race is re-run up to Config.RetryAttempts times.
package pebblestore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/andreyvit/kvtab"
)

const backendName = "pebble"

type Config struct {
	// Dir is the database directory. It must exist unless InMemory is set.
	Dir      string
	Keyspace string
	// RetryAttempts is the total number of times a conflicting transaction is run. Must be >= 1.
	RetryAttempts int
	// RetryBackoff is the initial delay between attempts; it doubles up to RetryBackoffCap.
	RetryBackoff    time.Duration
	RetryBackoffCap time.Duration
	// NoSync skips fsync on commit.
	NoSync bool
	// InMemory keeps the database in memory; for tests.
	InMemory bool
	Logger   *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		Keyspace:        "kvtab",
		RetryAttempts:   10,
		RetryBackoff:    time.Millisecond,
		RetryBackoffCap: 100 * time.Millisecond,
	}
}

func (cfg *Config) Validate() error {
	if cfg.Dir == "" && !cfg.InMemory {
		return fmt.Errorf("%s: %w: empty dir", backendName, kvtab.ErrInvalidConfig)
	}
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("%s: %w: retry attempts must be at least 1, got %d", backendName, kvtab.ErrInvalidConfig, cfg.RetryAttempts)
	}
	if cfg.RetryBackoff <= 0 {
		return fmt.Errorf("%s: %w: retry backoff must be positive", backendName, kvtab.ErrInvalidConfig)
	}
	return nil
}

type Conn struct {
	db        *pebble.DB
	client    *kvtab.Client
	keyspace  kvtab.Keyspace
	policy    retryPolicy
	writeOpts *pebble.WriteOptions
	oracle    *oracle
	logger    *zap.Logger

	// Transactions hold a read lock for their lifetime; Close takes the write
	// lock, so it waits for in-flight transactions.
	closed atomic.Bool
	mu     sync.RWMutex
}

// Open opens the database directory. client may be nil.
func Open(ctx context.Context, client *kvtab.Client, cfg Config) (*Conn, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = "kvtab"
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := client.Check(); err != nil {
		return nil, err
	}
	logger := cfg.Logger.Named(backendName)

	popts := &pebble.Options{
		Logger: logger.Sugar(),
	}
	dir := cfg.Dir
	if cfg.InMemory {
		popts.FS = vfs.NewMem()
		if dir == "" {
			dir = "mem"
		}
	} else {
		st, err := os.Stat(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", backendName, kvtab.ErrEstablishFail, err)
		}
		if !st.IsDir() {
			return nil, fmt.Errorf("%s: %w: %s is not a directory", backendName, kvtab.ErrEstablishFail, cfg.Dir)
		}
		logger = logger.With(zap.String("dir", cfg.Dir))
	}

	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", backendName, kvtab.ErrEstablishFail, err)
	}

	writeOpts := pebble.Sync
	if cfg.NoSync {
		writeOpts = pebble.NoSync
	}

	c := &Conn{
		db:       db,
		client:   client,
		keyspace: kvtab.BaseKeyspace(cfg.Keyspace),
		policy: retryPolicy{
			attempts: cfg.RetryAttempts,
			base:     cfg.RetryBackoff,
			cap:      cfg.RetryBackoffCap,
		},
		writeOpts: writeOpts,
		oracle:    newOracle(),
		logger:    logger,
	}
	logger.Debug("opened", zap.Int("retry_attempts", cfg.RetryAttempts))
	return c, nil
}

func (c *Conn) Keyspace() kvtab.Keyspace {
	return c.keyspace
}

func (c *Conn) enter() error {
	c.mu.RLock()
	if c.closed.Load() {
		c.mu.RUnlock()
		return kvtab.ErrClosed
	}
	return nil
}

func (c *Conn) leave() {
	c.mu.RUnlock()
}

func (c *Conn) Transact(ctx context.Context, fn func(tx kvtab.Transaction) (any, error)) (any, error) {
	if err := c.client.Check(); err != nil {
		return nil, err
	}
	return runWithRetry(ctx, c.policy, c.logger, c.begin, fn)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return kvtab.ErrClosed
	}
	c.closed.Store(true)
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("%s: close failed: %w", backendName, err)
	}
	c.logger.Debug("closed")
	return nil
}

var _ kvtab.Connection = (*Conn)(nil)
