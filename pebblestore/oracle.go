package pebblestore

import (
	"bytes"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
)

// oracle orders commits and detects conflicts between optimistic transactions.
//
// Every transaction reads from a snapshot tagged with the sequence number of
// the last commit it can see. At commit it fails if any transaction that
// committed after that sequence wrote a key it has read, scanned or written.
// Commits are applied while holding mu, so sequence order is apply order.
type oracle struct {
	mu        sync.Mutex
	seq       uint64
	committed []commitRecord
	active    map[uint64]int
}

type commitRecord struct {
	seq  uint64
	keys [][]byte // sorted
}

func newOracle() *oracle {
	return &oracle{active: make(map[uint64]int)}
}

// begin registers a new reader and takes its snapshot atomically with respect to commits.
func (o *oracle) begin(db *pebble.DB) (*pebble.Snapshot, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := db.NewSnapshot()
	o.active[o.seq]++
	return snap, o.seq
}

func (o *oracle) release(readSeq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[readSeq]--; o.active[readSeq] <= 0 {
		delete(o.active, readSeq)
	}
	o.pruneLocked()
}

// pruneLocked drops commit records no active transaction can conflict with.
func (o *oracle) pruneLocked() {
	oldest := o.seq
	for s := range o.active {
		if s < oldest {
			oldest = s
		}
	}
	n := 0
	for n < len(o.committed) && o.committed[n].seq <= oldest {
		n++
	}
	if n > 0 {
		o.committed = append(o.committed[:0], o.committed[n:]...)
	}
}

// conflictsLocked reports whether any commit after readSeq touched a key the transaction depends on.
func (o *oracle) conflictsLocked(readSeq uint64, t *txn) bool {
	i := sort.Search(len(o.committed), func(i int) bool {
		return o.committed[i].seq > readSeq
	})
	for _, rec := range o.committed[i:] {
		for _, k := range rec.keys {
			if t.dependsOn(k) {
				return true
			}
		}
	}
	return false
}

// commit validates t and, if it does not conflict, applies apply() and records its writes.
// Read-only transactions always succeed since their snapshot is consistent.
func (o *oracle) commit(t *txn, writeKeys [][]byte, apply func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(writeKeys) == 0 {
		return nil
	}
	if o.conflictsLocked(t.readSeq, t) {
		return errBusy
	}
	if err := apply(); err != nil {
		return err
	}
	sort.Slice(writeKeys, func(i, j int) bool {
		return bytes.Compare(writeKeys[i], writeKeys[j]) < 0
	})
	o.seq++
	o.committed = append(o.committed, commitRecord{seq: o.seq, keys: writeKeys})
	return nil
}
