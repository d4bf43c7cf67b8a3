package kvtab

import (
	"fmt"
	"reflect"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"github.com/google/uuid"
)

// TupleElement converts a Go key value into an element the tuple layer can
// pack. Pointers are dereferenced; a nil pointer becomes nil. Named types are
// converted by their underlying kind. A time.Time becomes the nested tuple
// (unix seconds, nanoseconds), which sorts chronologically for any year.
func TupleElement(v any) (tuple.TupleElement, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string, []byte, bool, float32, float64, int64, uint64, tuple.UUID:
		return v, nil
	case int:
		return int64(v), nil
	case uuid.UUID:
		return tuple.UUID(v), nil
	case time.Time:
		return tuple.Tuple{v.Unix(), int64(v.Nanosecond())}, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Type() != reflect.TypeOf(v) {
		return TupleElement(rv.Interface())
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Len() == 16 {
			var u tuple.UUID
			reflect.Copy(reflect.ValueOf(u[:]), rv)
			return u, nil
		}
	}
	return nil, &ConversionError{From: fmt.Sprintf("%T", v), To: "tuple element", Value: fmt.Sprintf("%v", v)}
}

// KeyTuple converts key values into a tuple.
func KeyTuple(vals ...any) (tuple.Tuple, error) {
	t := make(tuple.Tuple, len(vals))
	for i, v := range vals {
		e, err := TupleElement(v)
		if err != nil {
			return nil, err
		}
		t[i] = e
	}
	return t, nil
}

func tagElem(tag uint16) tuple.TupleElement {
	return int64(tag)
}

// unpackTag decodes a packed single-element column tag tuple.
func unpackTag(b []byte) (uint16, error) {
	t, err := tuple.Unpack(b)
	if err != nil {
		return 0, dataErrf(b, 0, err, "invalid column tag")
	}
	if len(t) != 1 {
		return 0, dataErrf(b, 0, nil, "column tag tuple has %d elements", len(t))
	}
	v, ok := t[0].(int64)
	if !ok || v < 0 || v > 0xFFFF {
		return 0, convErrFromBytes(b, "uint16")
	}
	return uint16(v), nil
}
