package kvtab

import (
	"bytes"
	"context"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"go.uber.org/zap"
)

// rowIndex is maintained by Table.Set, Table.Delete and Column.Set.
type rowIndex[R any] interface {
	IndexInfo
	column() AnyColumn[R]
	plan(ctx context.Context, tx Transaction, idxKS Keyspace, pkPacked, oldCell []byte, hasOld bool, newElem tuple.TupleElement) (indexUpdate, error)
	planRemove(ctx context.Context, tx Transaction, idxKS Keyspace, pkPacked, oldCell []byte) (indexUpdate, error)
}

// index maps values of one column to primary keys. A unique index stores
//
//	idx_ks ++ pack(tag, value) => pack(pk...)
//
// and a multi index appends the packed primary key to the same key, so rows
// sharing a value get distinct entries. Nil values are not indexed.
type index[R, V any] struct {
	col    *Column[R, V]
	name   string
	unique bool
}

func newIndex[R, V any](col *Column[R, V], name string, unique bool) *index[R, V] {
	if name == "" {
		name = col.name
	}
	return &index[R, V]{col: col, name: name, unique: unique}
}

func (idx *index[R, V]) Name() string { return idx.name }
func (idx *index[R, V]) Column() ColumnInfo { return idx.col }
func (idx *index[R, V]) IsUnique() bool { return idx.unique }
func (idx *index[R, V]) column() AnyColumn[R] { return idx.col }

func (idx *index[R, V]) String() string {
	return idx.col.table.name + "." + idx.name
}

func (idx *index[R, V]) valueTuple(elem tuple.TupleElement) tuple.Tuple {
	return tuple.Tuple{tagElem(idx.col.tag), elem}
}

func (idx *index[R, V]) entryKey(idxKS Keyspace, elem tuple.TupleElement, pkPacked []byte) []byte {
	k := idxKS.PackTuple(idx.valueTuple(elem))
	if !idx.unique {
		k = append(k, pkPacked...)
	}
	return k
}

func (idx *index[R, V]) err(key []byte, err error, format string, args ...any) error {
	return tableErrf(idx.col.table.name, idx.name, key, err, format, args...)
}

// indexUpdate moves one index entry. It is computed by plan, which only
// reads, so a failed check leaves the transaction untouched.
type indexUpdate struct {
	oldKey   []byte
	newKey   []byte
	pkPacked []byte
}

func (u indexUpdate) apply(ctx context.Context, tx Transaction) error {
	if bytes.Equal(u.oldKey, u.newKey) {
		return nil
	}
	if u.oldKey != nil {
		if err := tx.Clear(ctx, u.oldKey); err != nil {
			return err
		}
	}
	if u.newKey == nil {
		return nil
	}
	return tx.Set(ctx, u.newKey, u.pkPacked)
}

func applyIndexUpdates(ctx context.Context, tx Transaction, updates []indexUpdate) error {
	for _, u := range updates {
		if err := u.apply(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (idx *index[R, V]) plan(ctx context.Context, tx Transaction, idxKS Keyspace, pkPacked, oldCell []byte, hasOld bool, newElem tuple.TupleElement) (indexUpdate, error) {
	u := indexUpdate{pkPacked: pkPacked}
	if hasOld {
		oldElem, err := idx.col.elemFromCell(oldCell)
		if err != nil {
			return u, idx.err(pkPacked, err, "cannot decode stored value")
		}
		if oldElem != nil {
			u.oldKey = idx.entryKey(idxKS, oldElem, pkPacked)
			ptr, found, err := tx.Get(ctx, u.oldKey)
			if err != nil {
				return u, err
			}
			if found && !bytes.Equal(ptr, pkPacked) {
				return u, idx.err(u.oldKey, ErrIndexMismatch, "entry points to %s instead of %s", printableKey(ptr), printableKey(pkPacked))
			}
		}
	}

	if newElem != nil {
		u.newKey = idx.entryKey(idxKS, newElem, pkPacked)
	}
	if u.newKey == nil || bytes.Equal(u.oldKey, u.newKey) || !idx.unique {
		return u, nil
	}
	ptr, found, err := tx.Get(ctx, u.newKey)
	if err != nil {
		return u, err
	}
	if found && !bytes.Equal(ptr, pkPacked) {
		return u, idx.err(u.newKey, ErrIndexAlreadyExists, "value owned by %s", printableKey(ptr))
	}
	return u, nil
}

// planRemove checks the entry a row owns and returns the update that clears it.
func (idx *index[R, V]) planRemove(ctx context.Context, tx Transaction, idxKS Keyspace, pkPacked, oldCell []byte) (indexUpdate, error) {
	u := indexUpdate{pkPacked: pkPacked}
	oldElem, err := idx.col.elemFromCell(oldCell)
	if err != nil {
		return u, idx.err(pkPacked, err, "cannot decode stored value")
	}
	if oldElem == nil {
		return u, nil
	}
	key := idx.entryKey(idxKS, oldElem, pkPacked)
	ptr, found, err := tx.Get(ctx, key)
	if err != nil {
		return u, err
	}
	if !found {
		if idx.unique {
			idx.col.table.schema.logger.Warn("missing unique index entry", zap.Stringer("index", idx), zap.String("key", printableKey(key)))
			return u, nil
		}
		return u, idx.err(key, ErrIndexEntryNotFound, "")
	}
	if !bytes.Equal(ptr, pkPacked) {
		return u, idx.err(key, ErrIndexMismatch, "entry points to %s instead of %s", printableKey(ptr), printableKey(pkPacked))
	}
	u.oldKey = key
	return u, nil
}

func (idx *index[R, V]) valueElem(v V) (tuple.TupleElement, error) {
	elem, err := TupleElement(v)
	if err != nil {
		return nil, idx.err(nil, err, "")
	}
	if elem == nil {
		return nil, idx.err(nil, nil, "cannot look up a nil value")
	}
	return elem, nil
}

// resolve loads the row an index entry points to, checking that it still holds the value.
func (idx *index[R, V]) resolve(ctx context.Context, tx Transaction, tableKS Keyspace, entryKey, pkPacked []byte, elem tuple.TupleElement) (*R, error) {
	tbl := idx.col.table
	row, err := tbl.getPacked(ctx, tx, tableKS, pkPacked)
	if err != nil {
		return nil, err
	}
	if row == nil {
		if tbl.schema.strict {
			return nil, idx.err(entryKey, ErrIndexMismatch, "entry points to missing row %s", printableKey(pkPacked))
		}
		tbl.schema.logger.Warn("dangling index entry", zap.Stringer("index", idx), zap.String("key", printableKey(entryKey)))
		return nil, nil
	}
	actual, err := idx.col.elemFromRow(row)
	if err != nil {
		return nil, idx.err(entryKey, err, "")
	}
	if !bytes.Equal(tuple.Tuple{actual}.Pack(), tuple.Tuple{elem}.Pack()) {
		return nil, idx.err(entryKey, ErrIndexMismatch, "row %s holds a different value", printableKey(pkPacked))
	}
	return row, nil
}

// UniqueIndex allows at most one row per value.
type UniqueIndex[R, V any] struct {
	*index[R, V]
}

// AddUniqueIndex declares a unique index over col, named after the column.
func AddUniqueIndex[R, V any](col *Column[R, V]) *UniqueIndex[R, V] {
	idx := &UniqueIndex[R, V]{newIndex(col, col.name, true)}
	col.table.addIndex(idx)
	return idx
}

// Get returns the row holding v, or nil.
func (idx *UniqueIndex[R, V]) Get(ctx context.Context, tx Transaction, v V) (*R, error) {
	pkPacked, err := idx.GetKey(ctx, tx, v)
	if err != nil || pkPacked == nil {
		return nil, err
	}
	elem, _ := idx.valueElem(v)
	tableKS := idx.col.table.Keyspace(tx.Keyspace())
	return idx.resolve(ctx, tx, tableKS, idx.entryKey(idx.col.table.indexKeyspace(tableKS), elem, nil), pkPacked, elem)
}

// GetKey returns the packed primary key of the row holding v, or nil.
func (idx *UniqueIndex[R, V]) GetKey(ctx context.Context, tx Transaction, v V) ([]byte, error) {
	elem, err := idx.valueElem(v)
	if err != nil {
		return nil, err
	}
	tableKS := idx.col.table.Keyspace(tx.Keyspace())
	ptr, found, err := tx.Get(ctx, idx.entryKey(idx.col.table.indexKeyspace(tableKS), elem, nil))
	if err != nil || !found {
		return nil, err
	}
	return ptr, nil
}

// MultiIndex allows any number of rows per value.
type MultiIndex[R, V any] struct {
	*index[R, V]
}

// AddMultiIndex declares a multi index over col, named after the column.
func AddMultiIndex[R, V any](col *Column[R, V]) *MultiIndex[R, V] {
	idx := &MultiIndex[R, V]{newIndex(col, col.name, false)}
	col.table.addIndex(idx)
	return idx
}

// Keys returns the primary keys of all rows holding v, in primary key order.
func (idx *MultiIndex[R, V]) Keys(ctx context.Context, tx Transaction, v V) ([]tuple.Tuple, error) {
	_, kvs, err := idx.entries(ctx, tx, v)
	if err != nil {
		return nil, err
	}
	keys := make([]tuple.Tuple, 0, len(kvs))
	for _, kv := range kvs {
		t, err := tuple.Unpack(kv.Value)
		if err != nil {
			return nil, idx.err(kv.Key, dataErrf(kv.Value, 0, err, "invalid primary key"), "")
		}
		keys = append(keys, t)
	}
	return keys, nil
}

// GetAll returns all rows holding v, in primary key order.
func (idx *MultiIndex[R, V]) GetAll(ctx context.Context, tx Transaction, v V) ([]*R, error) {
	elem, kvs, err := idx.entries(ctx, tx, v)
	if err != nil {
		return nil, err
	}
	tableKS := idx.col.table.Keyspace(tx.Keyspace())
	rows := make([]*R, 0, len(kvs))
	for _, kv := range kvs {
		row, err := idx.resolve(ctx, tx, tableKS, kv.Key, kv.Value, elem)
		if err != nil {
			return nil, err
		}
		if row != nil {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (idx *MultiIndex[R, V]) entries(ctx context.Context, tx Transaction, v V) (tuple.TupleElement, []KeyValue, error) {
	elem, err := idx.valueElem(v)
	if err != nil {
		return nil, nil, err
	}
	tableKS := idx.col.table.Keyspace(tx.Keyspace())
	kvs, err := tx.GetSpace(ctx, idx.col.table.indexKeyspace(tableKS).Sub(idx.valueTuple(elem)))
	if err != nil {
		return nil, nil, err
	}
	return elem, kvs, nil
}
