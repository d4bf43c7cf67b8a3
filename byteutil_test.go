package kvtab

import (
	"reflect"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	_, _ = bb.Write([]byte{1, 2})
	_ = bb.WriteByte(3)
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 3}) {
		t.Fatalf("bb.Buf = %x, wanted 010203", bb.Buf)
	}
	if cap(bb.Buf) < 16 {
		t.Fatalf("cap(bb.Buf) = %d, wanted >= 16", cap(bb.Buf))
	}
}

func TestByteUtil_Grow(t *testing.T) {
	buf := make([]byte, 3, 4)
	copy(buf, []byte{1, 2, 3})
	off, buf := grow(buf, 10)
	if off != 3 || len(buf) != 13 || cap(buf) < 13 {
		t.Fatalf("grow = (off=%d, len=%d, cap=%d), wanted (3, 13, >=13)", off, len(buf), cap(buf))
	}
	if !reflect.DeepEqual(buf[:3], []byte{1, 2, 3}) {
		t.Fatalf("grow lost data: %x", buf[:3])
	}

	src := []byte{0xAA, 0xBB, 0xCC}
	if got := appendRaw(nil, src); !reflect.DeepEqual(got, src) {
		t.Fatalf("appendRaw = %x, wanted %x", got, src)
	}
	if got := appendBytes([]byte{1}, []byte{2}, nil, []byte{3, 4}); !reflect.DeepEqual(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("appendBytes = %x, wanted 01020304", got)
	}
}
