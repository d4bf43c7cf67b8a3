// Package boltstore is a kvtab backend on top of a bbolt file.
//
// bbolt runs one writer at a time, so transactions never conflict and are
// never retried.
package boltstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/andreyvit/kvtab"
)

const backendName = "bolt"

var dataBucket = []byte("kvtab")

type Config struct {
	Path     string
	Keyspace string
	// Timeout bounds the wait for the file lock on open.
	Timeout time.Duration
	// NoSync skips fsync on commit; for tests only.
	NoSync bool
	Logger *zap.Logger
}

type Conn struct {
	bdb      *bbolt.DB
	client   *kvtab.Client
	keyspace kvtab.Keyspace
	logger   *zap.Logger
}

// Open opens or creates the database file. client may be nil.
func Open(ctx context.Context, client *kvtab.Client, cfg Config) (*Conn, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = "kvtab"
	}
	if err := client.Check(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%s: %w: empty path", backendName, kvtab.ErrEstablishFail)
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return nil, fmt.Errorf("%s: %w: directory %s does not exist", backendName, kvtab.ErrEstablishFail, dir)
		}
	}

	bopt := *bbolt.DefaultOptions
	bopt.Timeout = cfg.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	bopt.NoSync = cfg.NoSync
	bopt.FreelistType = bbolt.FreelistMapType

	bdb, err := bbolt.Open(cfg.Path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", backendName, kvtab.ErrEstablishFail, err)
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(dataBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("%s: %w: %v", backendName, kvtab.ErrEstablishFail, err)
	}

	c := &Conn{
		bdb:      bdb,
		client:   client,
		keyspace: kvtab.BaseKeyspace(cfg.Keyspace),
		logger:   cfg.Logger.Named(backendName).With(zap.String("path", cfg.Path)),
	}
	c.logger.Debug("opened")
	return c, nil
}

func (c *Conn) Keyspace() kvtab.Keyspace {
	return c.keyspace
}

func (c *Conn) Transact(ctx context.Context, fn func(tx kvtab.Transaction) (any, error)) (any, error) {
	if err := c.client.Check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result any
	var fnErr error
	err := c.bdb.Update(func(btx *bbolt.Tx) error {
		tx := &boltTx{conn: c, b: btx.Bucket(dataBucket)}
		result, fnErr = kvtab.CallSafely(fn, tx)
		tx.done = true
		return fnErr
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
			err = kvtab.ErrClosed
		}
		return nil, &kvtab.TransactionError{Backend: backendName, Attempts: 1, Err: fmt.Errorf("%w: %w", kvtab.ErrStore, err)}
	}
	return result, nil
}

func (c *Conn) Close() error {
	return c.bdb.Close()
}

type boltTx struct {
	conn *Conn
	b    *bbolt.Bucket
	done bool
}

func (tx *boltTx) check() {
	if tx.done {
		panic("boltstore: transaction used after its closure returned")
	}
}

func (tx *boltTx) Keyspace() kvtab.Keyspace {
	return tx.conn.keyspace
}

// Bolt's slices are only valid for the life of the transaction, so everything returned is copied.
func (tx *boltTx) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	tx.check()
	v := tx.b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (tx *boltTx) GetRange(ctx context.Context, from, to []byte) ([]kvtab.KeyValue, error) {
	tx.check()
	var result []kvtab.KeyValue
	c := tx.b.Cursor()
	for k, v := c.Seek(from); k != nil && bytes.Compare(k, to) < 0; k, v = c.Next() {
		result = append(result, kvtab.KeyValue{Key: bytes.Clone(k), Value: bytes.Clone(v)})
	}
	return result, nil
}

func (tx *boltTx) GetSpace(ctx context.Context, ks kvtab.Keyspace) ([]kvtab.KeyValue, error) {
	begin, end := ks.Range()
	return tx.GetRange(ctx, begin, end)
}

func (tx *boltTx) Set(ctx context.Context, key, value []byte) error {
	tx.check()
	if value == nil {
		value = []byte{}
	}
	return tx.b.Put(bytes.Clone(key), bytes.Clone(value))
}

func (tx *boltTx) Clear(ctx context.Context, key []byte) error {
	tx.check()
	return tx.b.Delete(key)
}

func (tx *boltTx) ClearSpace(ctx context.Context, ks kvtab.Keyspace) error {
	tx.check()
	begin, end := ks.Range()
	var doomed [][]byte
	c := tx.b.Cursor()
	for k, _ := c.Seek(begin); k != nil && bytes.Compare(k, end) < 0; k, _ = c.Next() {
		doomed = append(doomed, bytes.Clone(k))
	}
	for _, k := range doomed {
		if err := tx.b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

var _ kvtab.Connection = (*Conn)(nil)
