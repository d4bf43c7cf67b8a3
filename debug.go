package kvtab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"github.com/vmihailenco/msgpack/v5"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpIndices

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the raw contents of every table for debugging. Cells are
// decoded without the row type, so it works on data written by older schemas.
func (scm *Schema) Dump(ctx context.Context, tx Transaction, f DumpFlags) (string, error) {
	var buf strings.Builder
	for _, tbl := range scm.tables {
		if err := dumpTable(ctx, tx, &buf, f, tbl); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func dumpTable(ctx context.Context, tx Transaction, w *strings.Builder, f DumpFlags, tbl TableInfo) error {
	tableKS := tbl.Keyspace(tx.Keyspace())
	idxKS := tableKS.Keyspace(indexKeyspaceName)
	kvs, err := tx.GetSpace(ctx, tableKS)
	if err != nil {
		return err
	}

	colNames := make(map[uint16]string)
	for _, col := range tbl.Columns() {
		colNames[col.Tag()] = col.Name()
	}

	var rows, entries int
	var lastPK []byte
	var rowLines, indexLines strings.Builder
	for _, kv := range kvs {
		if rest, ok := idxKS.Unpack(kv.Key); ok {
			entries++
			fmt.Fprintf(&indexLines, "%s.idx %s => %s\n", tbl.Name(), printableKey(rest), tupleString(kv.Value))
			continue
		}
		rest, _ := tableKS.Unpack(kv.Key)
		pk, err := splitCellKey(rest)
		if err != nil {
			fmt.Fprintf(&rowLines, "%s ** ERROR: %v\n", printableKey(kv.Key), err)
			continue
		}
		if string(pk) != string(lastPK) {
			rows++
			lastPK = pk
			fmt.Fprintf(&rowLines, "%s%s\n", tbl.Name(), tupleString(pk))
		}
		tag, err := unpackTag(rest[len(pk):])
		if err != nil {
			fmt.Fprintf(&rowLines, "  ** ERROR: %v\n", err)
			continue
		}
		name := colNames[tag]
		if name == "" {
			name = "?"
		}
		var v any
		if err := msgpack.Unmarshal(kv.Value, &v); err != nil {
			fmt.Fprintf(&rowLines, "  %d %s = ** ERROR: %v\n", tag, name, err)
			continue
		}
		fmt.Fprintf(&rowLines, "  %d %s = %s\n", tag, name, jsonish(v))
	}

	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d rows, %d index entries)\n", tbl.Name(), rows, entries)
	}
	if f.Contains(DumpRows) {
		w.WriteString(rowLines.String())
	}
	if f.Contains(DumpIndices) && entries > 0 {
		fmt.Fprintln(w, dumpSep2)
		w.WriteString(indexLines.String())
	}
	return nil
}

func tupleString(packed []byte) string {
	t, err := tuple.Unpack(packed)
	if err != nil {
		return printableKey(packed)
	}
	parts := make([]string, len(t))
	for i, e := range t {
		switch e := e.(type) {
		case tuple.UUID:
			parts[i] = fmt.Sprintf("%x-%x-%x-%x-%x", e[0:4], e[4:6], e[6:8], e[8:10], e[10:16])
		case []byte:
			parts[i] = printableKey(e)
		default:
			parts[i] = jsonish(e)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func jsonish(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
