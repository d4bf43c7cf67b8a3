package kvtab

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"go.uber.org/zap"
)

var indexKeyspaceName = []byte("idx")

// Table maps rows of type R onto column cells:
//
//	table_ks ++ pack(pk...) ++ pack(tag) => msgpack(value)
//
// and keeps the table's indices under table_ks ++ "idx" ++ Sep.
type Table[R any] struct {
	schema    *Schema
	name      string
	nameBytes []byte
	cols      []AnyColumn[R]
	colsByTag map[uint16]AnyColumn[R]
	pk        []AnyColumn[R]
	indices   []rowIndex[R]
}

// AddTable declares a table. Declare its columns with AddColumn, then call SetPrimaryKey.
func AddTable[R any](scm *Schema, name string) *Table[R] {
	tbl := &Table[R]{
		schema:    scm,
		name:      name,
		nameBytes: []byte(name),
		colsByTag: make(map[uint16]AnyColumn[R]),
	}
	NewKeyspace(tbl.nameBytes) // validates the name
	scm.addTable(tbl)
	return tbl
}

func (tbl *Table[R]) Name() string {
	return tbl.name
}

func (tbl *Table[R]) Schema() *Schema {
	return tbl.schema
}

func (tbl *Table[R]) Columns() []ColumnInfo {
	result := make([]ColumnInfo, len(tbl.cols))
	for i, c := range tbl.cols {
		result[i] = c
	}
	return result
}

func (tbl *Table[R]) PrimaryKey() []ColumnInfo {
	result := make([]ColumnInfo, len(tbl.pk))
	for i, c := range tbl.pk {
		result[i] = c
	}
	return result
}

func (tbl *Table[R]) Indices() []IndexInfo {
	result := make([]IndexInfo, len(tbl.indices))
	for i, idx := range tbl.indices {
		result[i] = idx
	}
	return result
}

func (tbl *Table[R]) Keyspace(base Keyspace) Keyspace {
	return base.Keyspace(tbl.nameBytes)
}

func (tbl *Table[R]) indexKeyspace(tableKS Keyspace) Keyspace {
	return tableKS.Keyspace(indexKeyspaceName)
}

// SetPrimaryKey declares the ordered primary key. It must be called exactly once.
func (tbl *Table[R]) SetPrimaryKey(cols ...AnyColumn[R]) *Table[R] {
	if len(tbl.pk) > 0 {
		panic(fmt.Errorf("%s: primary key already set", tbl.name))
	}
	if len(cols) == 0 {
		panic(fmt.Errorf("%s: primary key needs at least one column", tbl.name))
	}
	for _, col := range cols {
		if tbl.colsByTag[col.Tag()] != col {
			panic(fmt.Errorf("%s: primary key column %s does not belong to this table", tbl.name, col.Name()))
		}
		col.markKey()
	}
	tbl.pk = cols
	return tbl
}

func (tbl *Table[R]) addColumn(col AnyColumn[R]) {
	if tbl.colsByTag[col.Tag()] != nil {
		panic(fmt.Errorf("%s: column tag %d used by both %s and %s", tbl.name, col.Tag(), tbl.colsByTag[col.Tag()].Name(), col.Name()))
	}
	for _, c := range tbl.cols {
		if c.Name() == col.Name() {
			panic(fmt.Errorf("%s: duplicate column %s", tbl.name, col.Name()))
		}
	}
	tbl.cols = append(tbl.cols, col)
	tbl.colsByTag[col.Tag()] = col
}

func (tbl *Table[R]) addIndex(idx rowIndex[R]) {
	for _, other := range tbl.indices {
		if other.Name() == idx.Name() {
			panic(fmt.Errorf("%s: duplicate index %s", tbl.name, idx.Name()))
		}
	}
	tbl.indices = append(tbl.indices, idx)
}

func (tbl *Table[R]) requirePrimaryKey() {
	if len(tbl.pk) == 0 {
		panic(fmt.Errorf("%s: primary key not set", tbl.name))
	}
}

// New returns a new unsaved row.
func (tbl *Table[R]) New() *R {
	return new(R)
}

// KeyOf returns the primary key tuple of row.
func (tbl *Table[R]) KeyOf(row *R) (tuple.Tuple, error) {
	tbl.requirePrimaryKey()
	t := make(tuple.Tuple, len(tbl.pk))
	for i, col := range tbl.pk {
		e, err := col.elemFromRow(row)
		if err != nil {
			return nil, tableErrf(tbl.name, "", nil, err, "invalid key column %s", col.Name())
		}
		if e == nil {
			return nil, tableErrf(tbl.name, "", nil, nil, "key column %s is nil", col.Name())
		}
		t[i] = e
	}
	return t, nil
}

func (tbl *Table[R]) keyTuple(key []any, allowPrefix bool) (tuple.Tuple, error) {
	tbl.requirePrimaryKey()
	if len(key) > len(tbl.pk) || (!allowPrefix && len(key) != len(tbl.pk)) {
		return nil, tableErrf(tbl.name, "", nil, nil, "got %d key values, primary key has %d columns", len(key), len(tbl.pk))
	}
	t := make(tuple.Tuple, len(key))
	for i, v := range key {
		e, err := tbl.pk[i].keyArg(v)
		if err != nil {
			return nil, tableErrf(tbl.name, "", nil, err, "invalid value for key column %s", tbl.pk[i].Name())
		}
		t[i] = e
	}
	return t, nil
}

func rowKeyspace(tableKS Keyspace, pkPacked []byte) Keyspace {
	return Keyspace{appendBytes(nil, tableKS.prefix, pkPacked)}
}

func cellKey(rowKS Keyspace, tag uint16) []byte {
	return rowKS.PackTuple(tuple.Tuple{tagElem(tag)})
}

// Get returns the row with the given primary key, or nil if no cell of it exists.
func (tbl *Table[R]) Get(ctx context.Context, tx Transaction, key ...any) (*R, error) {
	pk, err := tbl.keyTuple(key, false)
	if err != nil {
		return nil, err
	}
	return tbl.getPacked(ctx, tx, tbl.Keyspace(tx.Keyspace()), pk.Pack())
}

func (tbl *Table[R]) getPacked(ctx context.Context, tx Transaction, tableKS Keyspace, pkPacked []byte) (*R, error) {
	rowKS := rowKeyspace(tableKS, pkPacked)
	kvs, err := tx.GetSpace(ctx, rowKS)
	if err != nil {
		return nil, err
	}
	if len(kvs) == 0 {
		return nil, nil
	}
	return tbl.decodeRow(rowKS, kvs)
}

// Exists reports whether any cell of the row exists.
func (tbl *Table[R]) Exists(ctx context.Context, tx Transaction, key ...any) (bool, error) {
	pk, err := tbl.keyTuple(key, false)
	if err != nil {
		return false, err
	}
	kvs, err := tx.GetSpace(ctx, rowKeyspace(tbl.Keyspace(tx.Keyspace()), pk.Pack()))
	if err != nil {
		return false, err
	}
	return len(kvs) > 0, nil
}

func (tbl *Table[R]) decodeRow(rowKS Keyspace, kvs []KeyValue) (*R, error) {
	row := new(R)
	seen := 0
	for _, kv := range kvs {
		rest, _ := rowKS.Unpack(kv.Key)
		tag, err := unpackTag(rest)
		if err != nil {
			return nil, tableErrf(tbl.name, "", kv.Key, err, "invalid cell key")
		}
		col := tbl.colsByTag[tag]
		if col == nil {
			tbl.schema.logger.Debug("ignoring unknown column", zap.String("table", tbl.name), zap.Uint16("tag", tag))
			continue
		}
		if err := col.decodeInto(row, kv.Value); err != nil {
			return nil, tableErrf(tbl.name, "", kv.Key, err, "column %s", col.Name())
		}
		seen++
	}
	if seen < len(tbl.cols) {
		if tbl.schema.strict {
			return nil, tableErrf(tbl.name, "", rowKS.prefix, ErrPartialRow, "%d of %d columns present", seen, len(tbl.cols))
		}
		tbl.schema.logger.Warn("partial row", zap.String("table", tbl.name), zap.Stringer("row", rowKS), zap.Int("present", seen), zap.Int("columns", len(tbl.cols)))
	}
	return row, nil
}

// Set writes every column of row. All index checks run before anything is
// written, so a failed Set leaves the transaction unchanged.
func (tbl *Table[R]) Set(ctx context.Context, tx Transaction, row *R) error {
	pk, err := tbl.KeyOf(row)
	if err != nil {
		return err
	}
	pkPacked := pk.Pack()
	tableKS := tbl.Keyspace(tx.Keyspace())
	rowKS := rowKeyspace(tableKS, pkPacked)
	idxKS := tbl.indexKeyspace(tableKS)

	updates := make([]indexUpdate, 0, len(tbl.indices))
	for _, idx := range tbl.indices {
		col := idx.column()
		oldCell, hasOld, err := tx.Get(ctx, cellKey(rowKS, col.Tag()))
		if err != nil {
			return err
		}
		newElem, err := col.elemFromRow(row)
		if err != nil {
			return tableErrf(tbl.name, idx.Name(), pkPacked, err, "")
		}
		u, err := idx.plan(ctx, tx, idxKS, pkPacked, oldCell, hasOld, newElem)
		if err != nil {
			return err
		}
		updates = append(updates, u)
	}

	data := make([][]byte, len(tbl.cols))
	for i, col := range tbl.cols {
		data[i], err = col.encodeFrom(row)
		if err != nil {
			return tableErrf(tbl.name, "", pkPacked, err, "column %s", col.Name())
		}
	}

	if err := applyIndexUpdates(ctx, tx, updates); err != nil {
		return err
	}

	for i, col := range tbl.cols {
		if err := tx.Set(ctx, cellKey(rowKS, col.Tag()), data[i]); err != nil {
			return err
		}
	}

	if tbl.schema.verbose {
		tbl.schema.logger.Debug("PUT", zap.String("table", tbl.name), zap.String("key", printableKey(pkPacked)))
	}
	return nil
}

// Delete removes the row and every index entry it owns. It reports whether the row existed.
func (tbl *Table[R]) Delete(ctx context.Context, tx Transaction, key ...any) (bool, error) {
	pk, err := tbl.keyTuple(key, false)
	if err != nil {
		return false, err
	}
	pkPacked := pk.Pack()
	tableKS := tbl.Keyspace(tx.Keyspace())
	rowKS := rowKeyspace(tableKS, pkPacked)

	kvs, err := tx.GetSpace(ctx, rowKS)
	if err != nil {
		return false, err
	}
	if len(kvs) == 0 {
		return false, nil
	}

	if len(tbl.indices) > 0 {
		idxKS := tbl.indexKeyspace(tableKS)
		updates := make([]indexUpdate, 0, len(tbl.indices))
		for _, idx := range tbl.indices {
			oldCell := findCell(kvs, cellKey(rowKS, idx.column().Tag()))
			if oldCell == nil {
				continue
			}
			u, err := idx.planRemove(ctx, tx, idxKS, pkPacked, oldCell)
			if err != nil {
				return false, err
			}
			updates = append(updates, u)
		}
		if err := applyIndexUpdates(ctx, tx, updates); err != nil {
			return false, err
		}
	}

	if err := tx.ClearSpace(ctx, rowKS); err != nil {
		return false, err
	}
	if tbl.schema.verbose {
		tbl.schema.logger.Debug("DELETE", zap.String("table", tbl.name), zap.String("key", printableKey(pkPacked)))
	}
	return true, nil
}

func findCell(kvs []KeyValue, key []byte) []byte {
	for _, kv := range kvs {
		if bytes.Equal(kv.Key, key) {
			return kv.Value
		}
	}
	return nil
}

// Scan calls fn for every row in primary key order. Returning an error from fn stops the scan.
func (tbl *Table[R]) Scan(ctx context.Context, tx Transaction, fn func(row *R) error) error {
	tableKS := tbl.Keyspace(tx.Keyspace())
	return tbl.scanSpace(ctx, tx, tableKS, tableKS, fn)
}

// ScanPrefix calls fn for every row whose primary key starts with keyPrefix.
func (tbl *Table[R]) ScanPrefix(ctx context.Context, tx Transaction, fn func(row *R) error, keyPrefix ...any) error {
	prefix, err := tbl.keyTuple(keyPrefix, true)
	if err != nil {
		return err
	}
	tableKS := tbl.Keyspace(tx.Keyspace())
	return tbl.scanSpace(ctx, tx, tableKS, tableKS.Sub(prefix), fn)
}

// All returns every row in primary key order.
func (tbl *Table[R]) All(ctx context.Context, tx Transaction) ([]*R, error) {
	var rows []*R
	err := tbl.Scan(ctx, tx, func(row *R) error {
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

func (tbl *Table[R]) scanSpace(ctx context.Context, tx Transaction, tableKS, ks Keyspace, fn func(row *R) error) error {
	kvs, err := tx.GetSpace(ctx, ks)
	if err != nil {
		return err
	}
	idxKS := tbl.indexKeyspace(tableKS)

	var curPK []byte
	var group []KeyValue
	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		row, err := tbl.decodeRow(rowKeyspace(tableKS, curPK), group)
		group = group[:0]
		if err != nil {
			return err
		}
		return fn(row)
	}

	for _, kv := range kvs {
		if idxKS.Contains(kv.Key) {
			continue
		}
		rest, _ := tableKS.Unpack(kv.Key)
		pkPacked, err := splitCellKey(rest)
		if err != nil {
			return tableErrf(tbl.name, "", kv.Key, err, "invalid cell key")
		}
		if !bytes.Equal(pkPacked, curPK) {
			if err := flush(); err != nil {
				return err
			}
			curPK = pkPacked
		}
		group = append(group, kv)
	}
	return flush()
}

// splitCellKey returns the packed primary key part of pack(pk...) ++ pack(tag).
func splitCellKey(rest []byte) ([]byte, error) {
	t, err := tuple.Unpack(rest)
	if err != nil {
		return nil, dataErrf(rest, 0, err, "cannot unpack cell key")
	}
	if len(t) < 2 {
		return nil, dataErrf(rest, 0, nil, "cell key has %d elements", len(t))
	}
	tagLen := len(tuple.Tuple{t[len(t)-1]}.Pack())
	return rest[:len(rest)-tagLen], nil
}
