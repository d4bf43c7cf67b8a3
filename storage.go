package kvtab

import (
	"context"
)

// SchemaVersion is appended to every connection's configured keyspace.
const SchemaVersion = "v2"

// BaseKeyspace returns the keyspace a connection configured with name stores its data under.
func BaseKeyspace(name string) Keyspace {
	return NewKeyspace([]byte(name)).Keyspace([]byte(SchemaVersion))
}

type KeyValue struct {
	Key   []byte
	Value []byte
}

// Transaction is a single unit of work against a backend. It is owned by one
// Transact closure invocation and must not be retained or shared after it returns.
//
// Reads observe a snapshot taken when the transaction began, plus the
// transaction's own writes. Writes are buffered and applied atomically on commit.
type Transaction interface {
	// Keyspace returns the connection's base keyspace.
	Keyspace() Keyspace

	// Get returns the value stored at key. The second result is false if the key is absent.
	Get(ctx context.Context, key []byte) ([]byte, bool, error)

	// GetRange returns all pairs with from <= key < to in ascending key order.
	GetRange(ctx context.Context, from, to []byte) ([]KeyValue, error)

	// GetSpace returns all pairs under ks in ascending key order.
	GetSpace(ctx context.Context, ks Keyspace) ([]KeyValue, error)

	// Set upserts key.
	Set(ctx context.Context, key, value []byte) error

	// Clear removes key. Clearing an absent key is not an error.
	Clear(ctx context.Context, key []byte) error

	// ClearSpace removes every key under ks.
	ClearSpace(ctx context.Context, ks Keyspace) error
}

// Connection is an established store handle. It is safe for concurrent use.
type Connection interface {
	// Keyspace returns the base keyspace handed to every transaction.
	Keyspace() Keyspace

	// Transact runs fn in a fresh transaction and commits it, retrying on
	// store-reported conflicts as the backend dictates. An error returned by fn
	// rolls the transaction back and is returned as is.
	Transact(ctx context.Context, fn func(tx Transaction) (any, error)) (any, error)

	// Close releases the store handle.
	Close() error
}

// Transact is a typed wrapper over Connection.Transact.
func Transact[T any](ctx context.Context, conn Connection, fn func(tx Transaction) (T, error)) (T, error) {
	v, err := conn.Transact(ctx, func(tx Transaction) (any, error) {
		return fn(tx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	res, _ := v.(T)
	return res, nil
}

// Update is Transact for closures without a result.
func Update(ctx context.Context, conn Connection, fn func(tx Transaction) error) error {
	_, err := conn.Transact(ctx, func(tx Transaction) (any, error) {
		return nil, fn(tx)
	})
	return err
}
