package kvtab

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeValue serializes a column value as msgpack. Map keys are written in
// the order of their encoded bytes, for maps at any depth except inside
// structs, so such values always encode to the same bytes.
func encodeValue(v any) ([]byte, error) {
	bb := bytesBuilder{}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := encodeSorted(enc, &bb, reflect.ValueOf(v))
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return bb.Buf, nil
}

var (
	customEncoderType = reflect.TypeFor[msgpack.CustomEncoder]()
	marshalerType     = reflect.TypeFor[msgpack.Marshaler]()
)

func hasCustomEncoding(t reflect.Type) bool {
	if t.Implements(customEncoderType) || t.Implements(marshalerType) {
		return true
	}
	pt := reflect.PointerTo(t)
	return pt.Implements(customEncoderType) || pt.Implements(marshalerType)
}

// encodeSorted writes rv to bb through enc, which must write to bb directly.
func encodeSorted(enc *msgpack.Encoder, bb *bytesBuilder, rv reflect.Value) error {
	if !rv.IsValid() {
		return enc.EncodeNil()
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return enc.EncodeNil()
		}
		if rv.Kind() == reflect.Pointer && hasCustomEncoding(rv.Type()) {
			return enc.EncodeValue(rv)
		}
		return encodeSorted(enc, bb, rv.Elem())

	case reflect.Map:
		if hasCustomEncoding(rv.Type()) {
			return enc.EncodeValue(rv)
		}
		if rv.IsNil() {
			return enc.EncodeNil()
		}
		type entry struct {
			key []byte
			val reflect.Value
		}
		entries := make([]entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := encodeValue(iter.Key().Interface())
			if err != nil {
				return err
			}
			entries = append(entries, entry{k, iter.Value()})
		}
		sort.Slice(entries, func(i, j int) bool {
			return bytes.Compare(entries[i].key, entries[j].key) < 0
		})
		if err := enc.EncodeMapLen(len(entries)); err != nil {
			return err
		}
		for _, e := range entries {
			if _, err := bb.Write(e.key); err != nil {
				return err
			}
			if err := encodeSorted(enc, bb, e.val); err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 || hasCustomEncoding(rv.Type()) {
			return enc.EncodeValue(rv)
		}
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return enc.EncodeNil()
		}
		if err := enc.EncodeArrayLen(rv.Len()); err != nil {
			return err
		}
		for i := 0; i < rv.Len(); i++ {
			if err := encodeSorted(enc, bb, rv.Index(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return enc.EncodeValue(rv)
}

func decodeValue(buf []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}
