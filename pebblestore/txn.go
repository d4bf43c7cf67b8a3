package pebblestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/google/btree"

	"github.com/andreyvit/kvtab"
)

// errBusy is the commit outcome of a transaction that lost a race.
var errBusy = fmt.Errorf("%s: %w: busy, try again", backendName, kvtab.ErrConflict)

// optimisticTxn is what the retry executor drives.
type optimisticTxn interface {
	kvtab.Transaction
	commit() error
	rollback()
}

type write struct {
	key     []byte
	value   []byte
	deleted bool
}

func lessWrite(a, b write) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type keyRange struct {
	begin, end []byte
}

// txn reads from a pebble snapshot overlaid with its own buffered writes,
// and records what it read so the oracle can validate it at commit.
type txn struct {
	conn    *Conn
	snap    *pebble.Snapshot
	readSeq uint64
	writes  *btree.BTreeG[write]
	reads   map[string]struct{}
	ranges  []keyRange
	done    bool
}

func (c *Conn) begin() (optimisticTxn, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	snap, seq := c.oracle.begin(c.db)
	return &txn{
		conn:    c,
		snap:    snap,
		readSeq: seq,
		writes:  btree.NewG(16, lessWrite),
		reads:   make(map[string]struct{}),
	}, nil
}

func (t *txn) check() {
	if t.done {
		panic("pebblestore: transaction used after its closure returned")
	}
}

func (t *txn) dependsOn(key []byte) bool {
	if _, ok := t.reads[string(key)]; ok {
		return true
	}
	if _, ok := t.writes.Get(write{key: key}); ok {
		return true
	}
	for _, r := range t.ranges {
		if bytes.Compare(key, r.begin) >= 0 && bytes.Compare(key, r.end) < 0 {
			return true
		}
	}
	return false
}

func (t *txn) Keyspace() kvtab.Keyspace {
	return t.conn.keyspace
}

func (t *txn) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	t.check()
	if w, ok := t.writes.Get(write{key: key}); ok {
		if w.deleted {
			return nil, false, nil
		}
		return bytes.Clone(w.value), true, nil
	}
	t.reads[string(key)] = struct{}{}

	v, closer, err := t.snap.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, storeErr(err)
	}
	// pebble owns v until closer is closed
	result := bytes.Clone(v)
	if err := closer.Close(); err != nil {
		return nil, false, storeErr(err)
	}
	return result, true, nil
}

func (t *txn) GetRange(ctx context.Context, from, to []byte) ([]kvtab.KeyValue, error) {
	t.check()
	if bytes.Compare(from, to) >= 0 {
		return nil, nil
	}
	t.ranges = append(t.ranges, keyRange{bytes.Clone(from), bytes.Clone(to)})

	iter, err := t.snap.NewIter(&pebble.IterOptions{
		LowerBound: from,
		UpperBound: to,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	var base []kvtab.KeyValue
	for valid := iter.First(); valid; valid = iter.Next() {
		base = append(base, kvtab.KeyValue{Key: bytes.Clone(iter.Key()), Value: bytes.Clone(iter.Value())})
	}
	if err := iter.Close(); err != nil {
		return nil, storeErr(err)
	}

	var overlay []write
	t.writes.AscendRange(write{key: from}, write{key: to}, func(w write) bool {
		overlay = append(overlay, w)
		return true
	})
	return mergeOverlay(base, overlay), nil
}

// mergeOverlay merges two ascending sequences; buffered writes shadow snapshot values.
func mergeOverlay(base []kvtab.KeyValue, overlay []write) []kvtab.KeyValue {
	if len(overlay) == 0 {
		return base
	}
	result := make([]kvtab.KeyValue, 0, len(base)+len(overlay))
	i, j := 0, 0
	for i < len(base) || j < len(overlay) {
		var c int
		switch {
		case i == len(base):
			c = 1
		case j == len(overlay):
			c = -1
		default:
			c = bytes.Compare(base[i].Key, overlay[j].key)
		}
		if c < 0 {
			result = append(result, base[i])
			i++
			continue
		}
		if c == 0 {
			i++
		}
		w := overlay[j]
		j++
		if !w.deleted {
			result = append(result, kvtab.KeyValue{Key: bytes.Clone(w.key), Value: bytes.Clone(w.value)})
		}
	}
	return result
}

func (t *txn) GetSpace(ctx context.Context, ks kvtab.Keyspace) ([]kvtab.KeyValue, error) {
	begin, end := ks.Range()
	return t.GetRange(ctx, begin, end)
}

func (t *txn) Set(ctx context.Context, key, value []byte) error {
	t.check()
	t.writes.ReplaceOrInsert(write{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (t *txn) Clear(ctx context.Context, key []byte) error {
	t.check()
	t.writes.ReplaceOrInsert(write{key: bytes.Clone(key), deleted: true})
	return nil
}

func (t *txn) ClearSpace(ctx context.Context, ks kvtab.Keyspace) error {
	kvs, err := t.GetSpace(ctx, ks)
	if err != nil {
		return err
	}
	for _, kv := range kvs {
		t.writes.ReplaceOrInsert(write{key: kv.Key, deleted: true})
	}
	return nil
}

func (t *txn) commit() error {
	t.check()
	defer t.finish()
	writeKeys := make([][]byte, 0, t.writes.Len())
	t.writes.Ascend(func(w write) bool {
		writeKeys = append(writeKeys, w.key)
		return true
	})
	return t.conn.oracle.commit(t, writeKeys, func() error {
		b := t.conn.db.NewBatch()
		defer b.Close()
		var err error
		t.writes.Ascend(func(w write) bool {
			if w.deleted {
				err = b.Delete(w.key, nil)
			} else {
				err = b.Set(w.key, w.value, nil)
			}
			return err == nil
		})
		if err != nil {
			return storeErr(err)
		}
		if err := b.Commit(t.conn.writeOpts); err != nil {
			return storeErr(err)
		}
		return nil
	})
}

func (t *txn) rollback() {
	if !t.done {
		t.finish()
	}
}

func (t *txn) finish() {
	t.done = true
	t.snap.Close()
	t.conn.oracle.release(t.readSeq)
	t.conn.leave()
}

func storeErr(err error) error {
	return fmt.Errorf("%s: %w: %w", backendName, kvtab.ErrStore, err)
}
