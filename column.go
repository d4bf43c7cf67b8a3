package kvtab

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
)

// AnyColumn is a column of a table with row type R, regardless of its value type.
type AnyColumn[R any] interface {
	ColumnInfo
	encodeFrom(row *R) ([]byte, error)
	decodeInto(row *R, data []byte) error
	elemFromRow(row *R) (tuple.TupleElement, error)
	keyArg(v any) (tuple.TupleElement, error)
	markKey()
}

// Column is a value of type V stored in field of every row, under a stable tag.
type Column[R, V any] struct {
	table *Table[R]
	name  string
	tag   uint16
	field func(row *R) *V
	isKey bool
}

// AddColumn declares a column. Tags are the on-disk identity of a column and
// must never be reused for a different column.
func AddColumn[R, V any](tbl *Table[R], name string, tag uint16, field func(row *R) *V) *Column[R, V] {
	col := &Column[R, V]{
		table: tbl,
		name:  name,
		tag:   tag,
		field: field,
	}
	tbl.addColumn(col)
	return col
}

func (col *Column[R, V]) Name() string { return col.name }
func (col *Column[R, V]) Tag() uint16 { return col.tag }
func (col *Column[R, V]) IsKey() bool { return col.isKey }
func (col *Column[R, V]) markKey() { col.isKey = true }
func (col *Column[R, V]) Table() *Table[R] { return col.table }

func (col *Column[R, V]) String() string {
	return col.table.name + "." + col.name
}

func (col *Column[R, V]) encodeFrom(row *R) ([]byte, error) {
	return encodeValue(col.field(row))
}

func (col *Column[R, V]) decodeInto(row *R, data []byte) error {
	return decodeValue(data, col.field(row))
}

func (col *Column[R, V]) elemFromRow(row *R) (tuple.TupleElement, error) {
	return TupleElement(*col.field(row))
}

func (col *Column[R, V]) elemFromCell(data []byte) (tuple.TupleElement, error) {
	var v V
	if err := decodeValue(data, &v); err != nil {
		return nil, err
	}
	return TupleElement(v)
}

func (col *Column[R, V]) keyArg(v any) (tuple.TupleElement, error) {
	tv, ok := v.(V)
	if !ok {
		tv, ok = convertKeyArg[V](v)
	}
	if !ok {
		return nil, &ConversionError{From: fmt.Sprintf("%T", v), To: reflect.TypeFor[V]().String(), Value: fmt.Sprintf("%v", v)}
	}
	return TupleElement(tv)
}

// convertKeyArg converts v to V when both are integers, strings, floats or
// byte arrays of one length, and the value fits. This admits untyped constants
// and the elements returned by MultiIndex.Keys.
func convertKeyArg[V any](v any) (V, bool) {
	var zero V
	to := reflect.TypeFor[V]()
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return zero, false
	}
	target := reflect.New(to).Elem()
	from := rv.Kind()
	switch {
	case isIntKind(from) && isIntKind(to.Kind()):
		if target.OverflowInt(rv.Int()) {
			return zero, false
		}
	case isUintKind(from) && isUintKind(to.Kind()):
		if target.OverflowUint(rv.Uint()) {
			return zero, false
		}
	case isIntKind(from) && isUintKind(to.Kind()):
		if rv.Int() < 0 || target.OverflowUint(uint64(rv.Int())) {
			return zero, false
		}
	case isUintKind(from) && isIntKind(to.Kind()):
		if rv.Uint() > math.MaxInt64 || target.OverflowInt(int64(rv.Uint())) {
			return zero, false
		}
	case from == reflect.String && to.Kind() == reflect.String:
	case (from == reflect.Float32 || from == reflect.Float64) && (to.Kind() == reflect.Float32 || to.Kind() == reflect.Float64):
	case from == reflect.Array && to.Kind() == reflect.Array:
		if rv.Type().Elem().Kind() != reflect.Uint8 || to.Elem().Kind() != reflect.Uint8 || rv.Len() != to.Len() {
			return zero, false
		}
	default:
		return zero, false
	}
	if !rv.Type().ConvertibleTo(to) {
		return zero, false
	}
	return rv.Convert(to).Interface().(V), true
}

func isIntKind(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUintKind(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func (col *Column[R, V]) cellKeyIn(tx Transaction, key []any) (Keyspace, []byte, error) {
	pk, err := col.table.keyTuple(key, false)
	if err != nil {
		return Keyspace{}, nil, err
	}
	rowKS := rowKeyspace(col.table.Keyspace(tx.Keyspace()), pk.Pack())
	return rowKS, cellKey(rowKS, col.tag), nil
}

// Get reads this column of one row without materializing the row.
func (col *Column[R, V]) Get(ctx context.Context, tx Transaction, key ...any) (V, bool, error) {
	var v V
	_, k, err := col.cellKeyIn(tx, key)
	if err != nil {
		return v, false, err
	}
	data, ok, err := tx.Get(ctx, k)
	if err != nil || !ok {
		return v, false, err
	}
	if err := decodeValue(data, &v); err != nil {
		return v, false, tableErrf(col.table.name, "", k, err, "column %s", col.name)
	}
	return v, true, nil
}

// Set writes this column of an existing row, maintaining the column's indices.
// Primary key columns cannot be set; the row must already exist.
func (col *Column[R, V]) Set(ctx context.Context, tx Transaction, v V, key ...any) error {
	if col.isKey {
		return tableErrf(col.table.name, "", nil, ErrOpProhibited, "cannot set primary key column %s", col.name)
	}
	rowKS, k, err := col.cellKeyIn(tx, key)
	if err != nil {
		return err
	}
	kvs, err := tx.GetSpace(ctx, rowKS)
	if err != nil {
		return err
	}
	if len(kvs) == 0 {
		return tableErrf(col.table.name, "", rowKS.prefix, ErrNotFound, "cannot set %s of missing row", col.name)
	}

	tableKS := col.table.Keyspace(tx.Keyspace())
	pkPacked := rowKS.prefix[tableKS.Len():]
	oldCell := findCell(kvs, k)
	var updates []indexUpdate
	for _, idx := range col.table.indices {
		if idx.column().Tag() != col.tag {
			continue
		}
		newElem, err := TupleElement(v)
		if err != nil {
			return tableErrf(col.table.name, idx.Name(), pkPacked, err, "")
		}
		u, err := idx.plan(ctx, tx, col.table.indexKeyspace(tableKS), pkPacked, oldCell, oldCell != nil, newElem)
		if err != nil {
			return err
		}
		updates = append(updates, u)
	}

	data, err := encodeValue(&v)
	if err != nil {
		return tableErrf(col.table.name, "", k, err, "column %s", col.name)
	}
	if err := applyIndexUpdates(ctx, tx, updates); err != nil {
		return err
	}
	return tx.Set(ctx, k, data)
}
