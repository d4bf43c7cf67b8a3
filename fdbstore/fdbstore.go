// Package fdbstore is a kvtab backend on top of FoundationDB.
//
// FoundationDB retries conflicting transactions itself; this package only
// configures the limits and translates its errors.
package fdbstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"go.uber.org/zap"

	"github.com/andreyvit/kvtab"
)

const backendName = "fdb"

// APIVersion is the FoundationDB client API version this package is written against.
const APIVersion = 710

// FoundationDB error codes we classify.
const (
	codeTransactionTooOld   = 1007
	codeFutureVersion       = 1009
	codeNotCommitted        = 1020
	codeCommitUnknownResult = 1021
	codeTimedOut            = 1031
	codeProcessBehind       = 1037
	codeTagThrottled        = 1213
)

// NewClient returns the process-wide FoundationDB client. Start selects the
// API version, which the binding only allows once per process; the binding's
// network thread then lives until the process exits, which is why a stopped
// client cannot be restarted.
func NewClient(logger *zap.Logger) *kvtab.Client {
	return kvtab.NewClient(backendName, kvtab.ClientOptions{
		Start: func() error {
			return fdb.APIVersion(APIVersion)
		},
		Logger: logger,
	})
}

type Config struct {
	// ClusterFile is the cluster descriptor path; empty means the default cluster file.
	ClusterFile string
	Keyspace    string
	// RetryLimit caps FoundationDB's internal retries; -1 means unlimited.
	RetryLimit int
	// Timeout bounds each transaction including its retries.
	Timeout time.Duration
	// ProbeTimeout bounds the connectivity check done by Open.
	ProbeTimeout time.Duration
	Logger       *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		Keyspace:     "kvtab",
		RetryLimit:   100,
		Timeout:      5 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

func (cfg *Config) Validate() error {
	if cfg.Timeout <= 0 {
		return fmt.Errorf("%s: %w: transaction timeout must be positive", backendName, kvtab.ErrInvalidConfig)
	}
	if cfg.RetryLimit < -1 {
		return fmt.Errorf("%s: %w: invalid retry limit %d", backendName, kvtab.ErrInvalidConfig, cfg.RetryLimit)
	}
	return nil
}

type Conn struct {
	db       fdb.Database
	client   *kvtab.Client
	keyspace kvtab.Keyspace
	logger   *zap.Logger
}

// Open connects to the cluster and checks that it answers. The client must be started.
func Open(ctx context.Context, client *kvtab.Client, cfg Config) (*Conn, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = "kvtab"
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%s: %w: no client", backendName, kvtab.ErrEstablishFail)
	}
	if err := client.Check(); err != nil {
		return nil, err
	}
	if cfg.ClusterFile != "" {
		if _, err := os.Stat(cfg.ClusterFile); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", backendName, kvtab.ErrEstablishFail, err)
		}
	}

	db, err := fdb.OpenDatabase(cfg.ClusterFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", backendName, kvtab.ErrEstablishFail, err)
	}
	if err := db.Options().SetTransactionTimeout(cfg.Timeout.Milliseconds()); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", backendName, kvtab.ErrEstablishFail, err)
	}
	if err := db.Options().SetTransactionRetryLimit(int64(cfg.RetryLimit)); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", backendName, kvtab.ErrEstablishFail, err)
	}

	_, err = db.Transact(func(tr fdb.Transaction) (any, error) {
		if err := tr.Options().SetTimeout(cfg.ProbeTimeout.Milliseconds()); err != nil {
			return nil, err
		}
		return tr.GetReadVersion().Get()
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: cluster unreachable: %v", backendName, kvtab.ErrEstablishFail, err)
	}

	c := &Conn{
		db:       db,
		client:   client,
		keyspace: kvtab.BaseKeyspace(cfg.Keyspace),
		logger:   cfg.Logger.Named(backendName).With(zap.String("cluster_file", cfg.ClusterFile)),
	}
	c.logger.Debug("opened", zap.Int("retry_limit", cfg.RetryLimit), zap.Duration("timeout", cfg.Timeout))
	return c, nil
}

func (c *Conn) Keyspace() kvtab.Keyspace {
	return c.keyspace
}

func (c *Conn) Transact(ctx context.Context, fn func(tx kvtab.Transaction) (any, error)) (any, error) {
	if err := c.client.Check(); err != nil {
		return nil, err
	}
	var attempts int
	result, err := c.db.Transact(func(tr fdb.Transaction) (any, error) {
		attempts++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tx := &fdbTx{conn: c, tr: tr}
		res, err := kvtab.CallSafely(fn, tx)
		tx.done = true
		return res, err
	})
	if err == nil {
		return result, nil
	}
	var fe fdb.Error
	if errors.As(err, &fe) {
		c.logger.Debug("transaction failed", zap.Int("code", fe.Code), zap.Int("attempts", attempts))
		return nil, &kvtab.TransactionError{Backend: backendName, Attempts: attempts, Err: classify(fe)}
	}
	return nil, err
}

// classify maps a FoundationDB error onto ErrTimeout, ErrConflict or ErrStore.
func classify(fe fdb.Error) error {
	switch fe.Code {
	case codeTimedOut:
		return fmt.Errorf("%w: %w", kvtab.ErrTimeout, fe)
	case codeNotCommitted, codeTransactionTooOld, codeFutureVersion, codeCommitUnknownResult, codeProcessBehind, codeTagThrottled:
		return fmt.Errorf("%w: %w", kvtab.ErrConflict, fe)
	default:
		return fmt.Errorf("%w: %w", kvtab.ErrStore, fe)
	}
}

// Wipe clears the connection's whole keyspace.
func (c *Conn) Wipe(ctx context.Context) error {
	return kvtab.Update(ctx, c, func(tx kvtab.Transaction) error {
		return tx.ClearSpace(ctx, c.keyspace)
	})
}

// Close does nothing; the binding keeps database handles for the life of the process.
func (c *Conn) Close() error {
	return nil
}

// fdbTx passes binding errors through unwrapped, so Database.Transact can recognize and retry them.
type fdbTx struct {
	conn *Conn
	tr   fdb.Transaction
	done bool
}

func (tx *fdbTx) check() {
	if tx.done {
		panic("fdbstore: transaction used after its closure returned")
	}
}

func (tx *fdbTx) Keyspace() kvtab.Keyspace {
	return tx.conn.keyspace
}

func (tx *fdbTx) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	tx.check()
	v, err := tx.tr.Get(fdb.Key(key)).Get()
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func (tx *fdbTx) GetRange(ctx context.Context, from, to []byte) ([]kvtab.KeyValue, error) {
	tx.check()
	kvs, err := tx.tr.GetRange(fdb.KeyRange{Begin: fdb.Key(from), End: fdb.Key(to)}, fdb.RangeOptions{}).GetSliceWithError()
	if err != nil {
		return nil, err
	}
	result := make([]kvtab.KeyValue, len(kvs))
	for i, kv := range kvs {
		result[i] = kvtab.KeyValue{Key: kv.Key, Value: kv.Value}
	}
	return result, nil
}

func (tx *fdbTx) GetSpace(ctx context.Context, ks kvtab.Keyspace) ([]kvtab.KeyValue, error) {
	begin, end := ks.Range()
	return tx.GetRange(ctx, begin, end)
}

func (tx *fdbTx) Set(ctx context.Context, key, value []byte) error {
	tx.check()
	tx.tr.Set(fdb.Key(key), value)
	return nil
}

func (tx *fdbTx) Clear(ctx context.Context, key []byte) error {
	tx.check()
	tx.tr.Clear(fdb.Key(key))
	return nil
}

func (tx *fdbTx) ClearSpace(ctx context.Context, ks kvtab.Keyspace) error {
	tx.check()
	begin, end := ks.Range()
	tx.tr.ClearRange(fdb.KeyRange{Begin: fdb.Key(begin), End: fdb.Key(end)})
	return nil
}

var _ kvtab.Connection = (*Conn)(nil)
