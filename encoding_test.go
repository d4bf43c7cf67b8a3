package kvtab

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestEncodeValue_Deterministic(t *testing.T) {
	values := []any{
		map[string]int{"b": 2, "a": 1, "c": 3, "d": 4, "e": 5},
		map[int64]string{3: "c", 1: "a", 2: "b", 4: "d"},
		&map[string][]map[string]int{"x": {{"q": 1, "p": 2, "r": 3}}, "w": nil},
		[]map[string]bool{{"y": true, "x": false, "z": true}},
	}
	for _, v := range values {
		first, err := encodeValue(v)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 50; i++ {
			again, err := encodeValue(v)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(first, again) {
				t.Fatalf("encodeValue(%v) is not deterministic: %x vs %x", v, first, again)
			}
		}
	}
}

func TestEncodeValue_SortedMapRoundTrip(t *testing.T) {
	m := map[string]int{"b": 2, "a": 1}
	data, err := encodeValue(&m)
	if err != nil {
		t.Fatal(err)
	}
	// fixmap(2) "a" 1 "b" 2
	if want := []byte{0x82, 0xa1, 'a', 0x01, 0xa1, 'b', 0x02}; !bytes.Equal(data, want) {
		t.Fatalf("encodeValue = %x, wanted %x", data, want)
	}
	var got map[string]int
	if err := decodeValue(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["a"] != 1 || got["b"] != 2 {
		t.Fatalf("decoded %v, wanted %v", got, m)
	}

	var nilMap map[string]int
	data, err = encodeValue(&nilMap)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{0xc0}) {
		t.Fatalf("encodeValue(nil map) = %x, wanted c0", data)
	}
}

func TestDecodeValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := encodeValue(&ts)
	if err != nil {
		t.Fatal(err)
	}
	var got time.Time
	if err := decodeValue(data, &got); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ts) {
		t.Fatalf("decoded %v, wanted %v", got, ts)
	}

	var n int64
	err = decodeValue([]byte{0xc1}, &n)
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("decodeValue(garbage) err = %v, wanted *DataError", err)
	}
}
