package kvtab

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"github.com/google/uuid"
)

type colorName string

func TestTupleElement(t *testing.T) {
	u := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	s := "ptr"
	var nilStr *string
	ts := time.Unix(100, 5)

	tests := []struct {
		in   any
		want tuple.TupleElement
	}{
		{nil, nil},
		{"x", "x"},
		{[]byte{1}, []byte{1}},
		{true, true},
		{int(-3), int64(-3)},
		{int32(7), int64(7)},
		{uint8(9), uint64(9)},
		{int64(1) << 40, int64(1) << 40},
		{1.5, 1.5},
		{u, tuple.UUID(u)},
		{[16]byte(u), tuple.UUID(u)},
		{ts, tuple.Tuple{int64(100), int64(5)}},
		{&s, "ptr"},
		{nilStr, nil},
		{colorName("red"), "red"},
	}
	for _, tt := range tests {
		got, err := TupleElement(tt.in)
		if err != nil {
			t.Errorf("TupleElement(%#v) failed: %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("TupleElement(%#v) = %#v, wanted %#v", tt.in, got, tt.want)
		}
	}
}

func TestTupleElement_Unsupported(t *testing.T) {
	for _, v := range []any{struct{}{}, map[string]int{}, []string{"a"}} {
		_, err := TupleElement(v)
		var ce *ConversionError
		if !errors.As(err, &ce) {
			t.Errorf("TupleElement(%#v) err = %v, wanted *ConversionError", v, err)
		}
	}
}

func TestKeyTuple_PreservesOrder(t *testing.T) {
	a, err := KeyTuple("u1", 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := KeyTuple("u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	c, err := KeyTuple("u2", -1)
	if err != nil {
		t.Fatal(err)
	}
	if !(string(a.Pack()) < string(b.Pack()) && string(b.Pack()) < string(c.Pack())) {
		t.Fatalf("packed keys are not ordered: %x %x %x", a.Pack(), b.Pack(), c.Pack())
	}
}

func TestUnpackTag(t *testing.T) {
	tag, err := unpackTag(tuple.Tuple{tagElem(30)}.Pack())
	if err != nil || tag != 30 {
		t.Fatalf("unpackTag = %d, %v, wanted 30", tag, err)
	}
	if _, err := unpackTag(tuple.Tuple{"x"}.Pack()); err == nil {
		t.Fatalf("unpackTag(string) succeeded")
	}
	if _, err := unpackTag(tuple.Tuple{int64(70000)}.Pack()); err == nil {
		t.Fatalf("unpackTag(70000) succeeded")
	}
	if _, err := unpackTag([]byte{0xff, 0xff}); err == nil {
		t.Fatalf("unpackTag(garbage) succeeded")
	}
}

func TestTupleElement_TimeOrder(t *testing.T) {
	times := []time.Time{
		time.Date(1200, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1969, 12, 31, 23, 59, 59, 999, time.UTC),
		time.Unix(0, 0),
		time.Unix(0, 1),
		time.Date(2262, 4, 12, 0, 0, 0, 0, time.UTC),
		time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	var prev []byte
	for _, ts := range times {
		k, err := KeyTuple(ts)
		if err != nil {
			t.Fatal(err)
		}
		packed := k.Pack()
		if prev != nil && string(prev) >= string(packed) {
			t.Fatalf("key for %v (%x) does not sort after the previous one (%x)", ts, packed, prev)
		}
		prev = packed
	}
}
