package kvtab

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
)

// Sep terminates every named keyspace prefix.
const Sep byte = 0x1F

// Keyspace is an immutable byte prefix naming a region of an ordered key-value store.
// Derived keyspaces never alias the parent's buffer.
type Keyspace struct {
	prefix []byte
}

// UniversalKeyspace returns the keyspace with an empty prefix, spanning every key
// except the 0xFF system region.
func UniversalKeyspace() Keyspace {
	return Keyspace{}
}

// NewKeyspace returns a keyspace whose prefix is name followed by Sep.
func NewKeyspace(name []byte) Keyspace {
	if bytes.IndexByte(name, Sep) >= 0 {
		panic(fmt.Errorf("keyspace name %q contains separator byte 0x%02x", name, Sep))
	}
	return Keyspace{appendBytes(nil, name, []byte{Sep})}
}

// Keyspace derives a named child keyspace.
func (ks Keyspace) Keyspace(child []byte) Keyspace {
	if bytes.IndexByte(child, Sep) >= 0 {
		panic(fmt.Errorf("keyspace name %q contains separator byte 0x%02x", child, Sep))
	}
	return Keyspace{appendBytes(nil, ks.prefix, child, []byte{Sep})}
}

// Sub derives a child keyspace from a packed tuple. Tuple encoding is
// self-delimiting, so no separator is appended.
func (ks Keyspace) Sub(t tuple.Tuple) Keyspace {
	return Keyspace{appendBytes(nil, ks.prefix, t.Pack())}
}

// Pack returns the literal key prefix+b.
func (ks Keyspace) Pack(b []byte) []byte {
	return appendBytes(nil, ks.prefix, b)
}

// PackTuple is a shortcut for Pack(t.Pack()).
func (ks Keyspace) PackTuple(t tuple.Tuple) []byte {
	return ks.Pack(t.Pack())
}

// Unpack strips the prefix. The returned slice aliases key.
func (ks Keyspace) Unpack(key []byte) ([]byte, bool) {
	if !bytes.HasPrefix(key, ks.prefix) {
		return nil, false
	}
	return key[len(ks.prefix):], true
}

func (ks Keyspace) Contains(key []byte) bool {
	return bytes.HasPrefix(key, ks.prefix)
}

// Range returns the half-open interval [prefix+0x00, prefix+0xFF).
func (ks Keyspace) Range() (begin, end []byte) {
	return appendBytes(nil, ks.prefix, []byte{0x00}), appendBytes(nil, ks.prefix, []byte{0xFF})
}

func (ks Keyspace) Bytes() []byte {
	return append([]byte(nil), ks.prefix...)
}

func (ks Keyspace) Len() int {
	return len(ks.prefix)
}

func (ks Keyspace) Equal(other Keyspace) bool {
	return bytes.Equal(ks.prefix, other.prefix)
}

func (ks Keyspace) String() string {
	return printableKey(ks.prefix)
}

func appendBytes(buf []byte, chunks ...[]byte) []byte {
	n := len(buf)
	for _, c := range chunks {
		n += len(c)
	}
	buf = ensureCapacity(buf, n)
	for _, c := range chunks {
		buf = append(buf, c...)
	}
	return buf
}

// printableKey renders printable ASCII as is and escapes everything else,
// the way FoundationDB's tooling prints keys.
func printableKey(b []byte) string {
	var buf bytes.Buffer
	for _, c := range b {
		if c >= 0x20 && c < 0x7F && c != '\\' {
			buf.WriteByte(c)
		} else {
			buf.WriteString(`\x`)
			s := strconv.FormatUint(uint64(c), 16)
			if len(s) == 1 {
				buf.WriteByte('0')
			}
			buf.WriteString(s)
		}
	}
	return buf.String()
}
