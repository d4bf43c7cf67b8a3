// Package memstore is a transient in-memory kvtab backend intended for tests.
//
// Each transaction works on a copy-on-write clone of the whole tree and
// writers are serialized, so transactions never conflict.
package memstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/andreyvit/kvtab"
)

const backendName = "mem"

type item struct {
	key   []byte
	value []byte
}

func lessItem(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type Options struct {
	// Keyspace names the base keyspace; defaults to "kvtab".
	Keyspace string
	Logger   *zap.Logger
}

type Store struct {
	keyspace kvtab.Keyspace
	logger   *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	data   *btree.BTreeG[item]
	writer bool
	closed bool
}

func New(opt Options) *Store {
	if opt.Keyspace == "" {
		opt.Keyspace = "kvtab"
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	s := &Store{
		keyspace: kvtab.BaseKeyspace(opt.Keyspace),
		logger:   opt.Logger.Named(backendName),
		data:     btree.NewG(32, lessItem),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Store) Keyspace() kvtab.Keyspace {
	return s.keyspace
}

func (s *Store) begin(ctx context.Context) (*btree.BTreeG[item], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.writer && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil, kvtab.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writer = true
	return s.data.Clone(), nil
}

func (s *Store) end(snap *btree.BTreeG[item]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = false
	s.cond.Broadcast()
	if snap == nil {
		return nil
	}
	if s.closed {
		return kvtab.ErrClosed
	}
	s.data = snap
	return nil
}

func (s *Store) Transact(ctx context.Context, fn func(tx kvtab.Transaction) (any, error)) (any, error) {
	snap, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	tx := &memTx{store: s, data: snap}
	result, err := kvtab.CallSafely(fn, tx)
	tx.done = true
	if err != nil {
		s.end(nil)
		return nil, err
	}
	if err := s.end(snap); err != nil {
		return nil, &kvtab.TransactionError{Backend: backendName, Attempts: 1, Err: err}
	}
	return result, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	s.cond.Broadcast()
	return nil
}

// Len returns the number of stored keys, for tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return 0
	}
	return s.data.Len()
}

type memTx struct {
	store *Store
	data  *btree.BTreeG[item]
	done  bool
}

func (tx *memTx) check() {
	if tx.done {
		panic("memstore: transaction used after its closure returned")
	}
}

func (tx *memTx) Keyspace() kvtab.Keyspace {
	return tx.store.keyspace
}

func (tx *memTx) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	tx.check()
	it, ok := tx.data.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(it.value), true, nil
}

func (tx *memTx) GetRange(ctx context.Context, from, to []byte) ([]kvtab.KeyValue, error) {
	tx.check()
	var result []kvtab.KeyValue
	if bytes.Compare(from, to) >= 0 {
		return result, nil
	}
	tx.data.AscendRange(item{key: from}, item{key: to}, func(it item) bool {
		result = append(result, kvtab.KeyValue{Key: bytes.Clone(it.key), Value: bytes.Clone(it.value)})
		return true
	})
	return result, nil
}

func (tx *memTx) GetSpace(ctx context.Context, ks kvtab.Keyspace) ([]kvtab.KeyValue, error) {
	begin, end := ks.Range()
	return tx.GetRange(ctx, begin, end)
}

func (tx *memTx) Set(ctx context.Context, key, value []byte) error {
	tx.check()
	tx.data.ReplaceOrInsert(item{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (tx *memTx) Clear(ctx context.Context, key []byte) error {
	tx.check()
	tx.data.Delete(item{key: key})
	return nil
}

func (tx *memTx) ClearSpace(ctx context.Context, ks kvtab.Keyspace) error {
	tx.check()
	begin, end := ks.Range()
	var doomed []item
	tx.data.AscendRange(item{key: begin}, item{key: end}, func(it item) bool {
		doomed = append(doomed, it)
		return true
	})
	for _, it := range doomed {
		tx.data.Delete(it)
	}
	return nil
}

var _ kvtab.Connection = (*Store)(nil)
