package kvtabtest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/kvtab"
)

// Opener returns an empty connection for one subtest. It registers its own cleanup.
type Opener func(t *testing.T) kvtab.Connection

// RunAll runs the whole suite against connections produced by open.
func RunAll(t *testing.T, open Opener) {
	t.Run("transaction basics", func(t *testing.T) {
		testTransactionBasics(t, open(t))
	})
	t.Run("ranges", func(t *testing.T) {
		testRanges(t, open(t))
	})
	t.Run("clear space", func(t *testing.T) {
		testClearSpace(t, open(t))
	})
	t.Run("rollback on error", func(t *testing.T) {
		testRollbackOnError(t, open(t))
	})
	t.Run("rollback on panic", func(t *testing.T) {
		testRollbackOnPanic(t, open(t))
	})
	t.Run("row round trip", func(t *testing.T) {
		testRowRoundTrip(t, open(t))
	})
	t.Run("columns", func(t *testing.T) {
		testColumns(t, open(t))
	})
	t.Run("unique index", func(t *testing.T) {
		testUniqueIndex(t, open(t))
	})
	t.Run("multi index", func(t *testing.T) {
		testMultiIndex(t, open(t))
	})
	t.Run("failed write keeps index", func(t *testing.T) {
		testFailedWriteKeepsIndex(t, open(t))
	})
	t.Run("index mismatch on write", func(t *testing.T) {
		testIndexMismatchOnWrite(t, open(t))
	})
	t.Run("scan", func(t *testing.T) {
		testScan(t, open(t))
	})
	t.Run("partial row", func(t *testing.T) {
		testPartialRow(t, open(t))
	})
	t.Run("dangling index entry", func(t *testing.T) {
		testDanglingIndexEntry(t, open(t))
	})
	t.Run("concurrent increments", func(t *testing.T) {
		testConcurrentIncrements(t, open(t))
	})
}

func update(t *testing.T, conn kvtab.Connection, fn func(ctx context.Context, tx kvtab.Transaction) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, kvtab.Update(ctx, conn, func(tx kvtab.Transaction) error {
		return fn(ctx, tx)
	}))
}

func get(t *testing.T, conn kvtab.Connection, key []byte) ([]byte, bool) {
	t.Helper()
	type result struct {
		v  []byte
		ok bool
	}
	ctx := context.Background()
	r, err := kvtab.Transact(ctx, conn, func(tx kvtab.Transaction) (result, error) {
		v, ok, err := tx.Get(ctx, key)
		return result{v, ok}, err
	})
	require.NoError(t, err)
	return r.v, r.ok
}

func testTransactionBasics(t *testing.T, conn kvtab.Connection) {
	ks := conn.Keyspace().Keyspace([]byte("basics"))
	k1, k2 := ks.Pack([]byte("k1")), ks.Pack([]byte("k2"))

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		_, ok, err := tx.Get(ctx, k1)
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, tx.Set(ctx, k1, []byte("v1")))
		require.NoError(t, tx.Set(ctx, k2, []byte("v2")))

		// Reads see the transaction's own writes.
		v, ok, err := tx.Get(ctx, k1)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("v1"), v)

		require.NoError(t, tx.Clear(ctx, k2))
		_, ok, err = tx.Get(ctx, k2)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})

	v, ok := get(t, conn, k1)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)
	_, ok = get(t, conn, k2)
	require.False(t, ok)

	// An empty value is still a value.
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		return tx.Set(ctx, k2, []byte{})
	})
	v, ok = get(t, conn, k2)
	require.True(t, ok)
	require.Empty(t, v)

	require.True(t, conn.Keyspace().Contains(k1))
}

func testRanges(t *testing.T, conn kvtab.Connection) {
	ks := conn.Keyspace().Keyspace([]byte("ranges"))
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		for _, k := range []string{"d", "a", "c", "b", "e"} {
			require.NoError(t, tx.Set(ctx, ks.Pack([]byte(k)), []byte("v"+k)))
		}
		return nil
	})

	ctx := context.Background()
	kvs, err := kvtab.Transact(ctx, conn, func(tx kvtab.Transaction) ([]kvtab.KeyValue, error) {
		return tx.GetRange(ctx, ks.Pack([]byte("b")), ks.Pack([]byte("e")))
	})
	require.NoError(t, err)
	require.Len(t, kvs, 3)
	for i, k := range []string{"b", "c", "d"} {
		require.Equal(t, ks.Pack([]byte(k)), kvs[i].Key)
		require.Equal(t, []byte("v"+k), kvs[i].Value)
	}

	// Range reads merge uncommitted writes in key order.
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		require.NoError(t, tx.Set(ctx, ks.Pack([]byte("bb")), []byte("new")))
		require.NoError(t, tx.Clear(ctx, ks.Pack([]byte("c"))))
		kvs, err := tx.GetSpace(ctx, ks)
		require.NoError(t, err)
		var keys []string
		for _, kv := range kvs {
			rest, ok := ks.Unpack(kv.Key)
			require.True(t, ok)
			keys = append(keys, string(rest))
		}
		require.Equal(t, []string{"a", "b", "bb", "d", "e"}, keys)
		return nil
	})

	kvs, err = kvtab.Transact(ctx, conn, func(tx kvtab.Transaction) ([]kvtab.KeyValue, error) {
		return tx.GetRange(ctx, ks.Pack([]byte("x")), ks.Pack([]byte("a")))
	})
	require.NoError(t, err)
	require.Empty(t, kvs)
}

func testClearSpace(t *testing.T, conn kvtab.Connection) {
	a := conn.Keyspace().Keyspace([]byte("a"))
	ab := conn.Keyspace().Keyspace([]byte("ab"))
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		for i := 0; i < 5; i++ {
			require.NoError(t, tx.Set(ctx, a.Pack([]byte{byte('0' + i)}), []byte("x")))
			require.NoError(t, tx.Set(ctx, ab.Pack([]byte{byte('0' + i)}), []byte("y")))
		}
		return nil
	})
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		return tx.ClearSpace(ctx, a)
	})

	ctx := context.Background()
	counts, err := kvtab.Transact(ctx, conn, func(tx kvtab.Transaction) ([2]int, error) {
		kvsA, err := tx.GetSpace(ctx, a)
		if err != nil {
			return [2]int{}, err
		}
		kvsAB, err := tx.GetSpace(ctx, ab)
		return [2]int{len(kvsA), len(kvsAB)}, err
	})
	require.NoError(t, err)
	require.Equal(t, [2]int{0, 5}, counts)
}

var errTestAbort = errors.New("abort")

func testRollbackOnError(t *testing.T, conn kvtab.Connection) {
	ctx := context.Background()
	k := conn.Keyspace().Pack([]byte("rollback"))

	err := kvtab.Update(ctx, conn, func(tx kvtab.Transaction) error {
		if err := tx.Set(ctx, k, []byte("v")); err != nil {
			return err
		}
		return fmt.Errorf("wrapped: %w", errTestAbort)
	})
	require.ErrorIs(t, err, errTestAbort)
	require.False(t, kvtab.IsRetryable(err))

	_, ok := get(t, conn, k)
	require.False(t, ok)
}

func testRollbackOnPanic(t *testing.T, conn kvtab.Connection) {
	ctx := context.Background()
	k := conn.Keyspace().Pack([]byte("panic"))

	err := kvtab.Update(ctx, conn, func(tx kvtab.Transaction) error {
		if err := tx.Set(ctx, k, []byte("v")); err != nil {
			return err
		}
		panic("boom")
	})
	var p kvtab.Panicked
	require.ErrorAs(t, err, &p)
	require.Equal(t, "boom", p.Reason)

	_, ok := get(t, conn, k)
	require.False(t, ok)
}

func testRowRoundTrip(t *testing.T, conn kvtab.Connection) {
	f := NewFixture(t)
	want := &Account{
		ID:    "a1",
		Email: ptr("a1@example.com"),
		Group: "admins",
		Score: -42,
		Tags:  []string{"x", "y"},
	}
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		return f.Accounts.Set(ctx, tx, want)
	})
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		got, err := f.Accounts.Get(ctx, tx, "a1")
		require.NoError(t, err)
		require.Equal(t, want, got)

		ok, err := f.Accounts.Exists(ctx, tx, "a1")
		require.NoError(t, err)
		require.True(t, ok)

		missing, err := f.Accounts.Get(ctx, tx, "nope")
		require.NoError(t, err)
		require.Nil(t, missing)

		ok, err = f.Accounts.Exists(ctx, tx, "nope")
		require.NoError(t, err)
		require.False(t, ok)

		// Wrong key arity and type are rejected.
		_, err = f.Accounts.Get(ctx, tx, "a1", "extra")
		require.Error(t, err)
		_, err = f.Accounts.Get(ctx, tx, 1)
		var convErr *kvtab.ConversionError
		require.ErrorAs(t, err, &convErr)
		return nil
	})

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		deleted, err := f.Accounts.Delete(ctx, tx, "a1")
		require.NoError(t, err)
		require.True(t, deleted)

		deleted, err = f.Accounts.Delete(ctx, tx, "a1")
		require.NoError(t, err)
		require.False(t, deleted)

		got, err := f.Accounts.Get(ctx, tx, "a1")
		require.NoError(t, err)
		require.Nil(t, got)

		byEmail, err := f.AccountsByEmail.Get(ctx, tx, ptr("a1@example.com"))
		require.NoError(t, err)
		require.Nil(t, byEmail)
		return nil
	})
}

func testColumns(t *testing.T, conn kvtab.Connection) {
	f := NewFixture(t)
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		return f.Accounts.Set(ctx, tx, &Account{ID: "a1", Group: "g", Score: 1})
	})
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		require.NoError(t, f.AccountScore.Set(ctx, tx, 10, "a1"))

		score, ok, err := f.AccountScore.Get(ctx, tx, "a1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(10), score)

		_, ok, err = f.AccountScore.Get(ctx, tx, "nope")
		require.NoError(t, err)
		require.False(t, ok)

		err = f.AccountID.Set(ctx, tx, "a2", "a1")
		require.ErrorIs(t, err, kvtab.ErrOpProhibited)

		err = f.AccountScore.Set(ctx, tx, 5, "nope")
		require.ErrorIs(t, err, kvtab.ErrNotFound)
		return nil
	})

	// Column writes do not disturb other columns.
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		got, err := f.Accounts.Get(ctx, tx, "a1")
		require.NoError(t, err)
		require.Equal(t, &Account{ID: "a1", Group: "g", Score: 10}, got)
		return nil
	})
}

func testUniqueIndex(t *testing.T, conn kvtab.Connection) {
	f := NewFixture(t)
	ctx := context.Background()
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		return f.Accounts.Set(ctx, tx, &Account{ID: "a1", Email: ptr("shared@example.com")})
	})

	err := kvtab.Update(ctx, conn, func(tx kvtab.Transaction) error {
		return f.Accounts.Set(ctx, tx, &Account{ID: "a2", Email: ptr("shared@example.com")})
	})
	require.ErrorIs(t, err, kvtab.ErrIndexAlreadyExists)
	var tblErr *kvtab.TableError
	require.ErrorAs(t, err, &tblErr)
	require.Equal(t, "accounts", tblErr.Table)
	require.Equal(t, "email", tblErr.Index)

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		got, err := f.Accounts.Get(ctx, tx, "a2")
		require.NoError(t, err)
		require.Nil(t, got, "failed write must not leave a row behind")

		owner, err := f.AccountsByEmail.Get(ctx, tx, ptr("shared@example.com"))
		require.NoError(t, err)
		require.NotNil(t, owner)
		require.Equal(t, "a1", owner.ID)

		// Rewriting the owner with the same value is fine.
		return f.Accounts.Set(ctx, tx, owner)
	})

	// Changing the value through a column write frees the old one.
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		return f.AccountEmail.Set(ctx, tx, ptr("moved@example.com"), "a1")
	})
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		old, err := f.AccountsByEmail.Get(ctx, tx, ptr("shared@example.com"))
		require.NoError(t, err)
		require.Nil(t, old)

		moved, err := f.AccountsByEmail.Get(ctx, tx, ptr("moved@example.com"))
		require.NoError(t, err)
		require.NotNil(t, moved)
		require.Equal(t, "a1", moved.ID)

		return f.Accounts.Set(ctx, tx, &Account{ID: "a2", Email: ptr("shared@example.com")})
	})

	// Nil values are not indexed, so any number of rows may have them.
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		require.NoError(t, f.Accounts.Set(ctx, tx, &Account{ID: "n1"}))
		require.NoError(t, f.Accounts.Set(ctx, tx, &Account{ID: "n2"}))
		require.NoError(t, f.AccountEmail.Set(ctx, tx, nil, "a1"))
		_, err := f.AccountsByEmail.Get(ctx, tx, nil)
		require.Error(t, err)
		return nil
	})
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		gone, err := f.AccountsByEmail.Get(ctx, tx, ptr("moved@example.com"))
		require.NoError(t, err)
		require.Nil(t, gone)

		key, err := f.AccountsByEmail.GetKey(ctx, tx, ptr("shared@example.com"))
		require.NoError(t, err)
		want, err := kvtab.KeyTuple("a2")
		require.NoError(t, err)
		require.Equal(t, want.Pack(), key)
		return nil
	})
}

func testMultiIndex(t *testing.T, conn kvtab.Connection) {
	f := NewFixture(t)
	const n = 5
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		for i := n - 1; i >= 0; i-- {
			require.NoError(t, f.Accounts.Set(ctx, tx, &Account{ID: fmt.Sprintf("m%d", i), Group: "team"}))
		}
		return f.Accounts.Set(ctx, tx, &Account{ID: "other", Group: "solo"})
	})

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		rows, err := f.AccountsByGroup.GetAll(ctx, tx, "team")
		require.NoError(t, err)
		require.Len(t, rows, n)
		for i, row := range rows {
			require.Equal(t, fmt.Sprintf("m%d", i), row.ID)
		}

		keys, err := f.AccountsByGroup.Keys(ctx, tx, "solo")
		require.NoError(t, err)
		require.Len(t, keys, 1)
		require.Equal(t, "other", keys[0][0])

		none, err := f.AccountsByGroup.GetAll(ctx, tx, "nobody")
		require.NoError(t, err)
		require.Empty(t, none)

		deleted, err := f.Accounts.Delete(ctx, tx, "m2")
		require.NoError(t, err)
		require.True(t, deleted)
		return f.AccountGroup.Set(ctx, tx, "solo", "m4")
	})

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		rows, err := f.AccountsByGroup.GetAll(ctx, tx, "team")
		require.NoError(t, err)
		var ids []string
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		require.Equal(t, []string{"m0", "m1", "m3"}, ids)

		rows, err = f.AccountsByGroup.GetAll(ctx, tx, "solo")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		return nil
	})
}

// A write rejected by an index check must not touch anything, even when the
// caller handles the error and commits.
func testFailedWriteKeepsIndex(t *testing.T, conn kvtab.Connection) {
	f := NewFixture(t)
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		require.NoError(t, f.Accounts.Set(ctx, tx, &Account{ID: "a1", Email: ptr("one@example.com"), Group: "g1"}))
		return f.Accounts.Set(ctx, tx, &Account{ID: "a2", Email: ptr("two@example.com"), Group: "g2"})
	})

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		err := f.Accounts.Set(ctx, tx, &Account{ID: "a1", Email: ptr("two@example.com"), Group: "g3"})
		require.ErrorIs(t, err, kvtab.ErrIndexAlreadyExists)
		err = f.AccountEmail.Set(ctx, tx, ptr("two@example.com"), "a1")
		require.ErrorIs(t, err, kvtab.ErrIndexAlreadyExists)
		return nil
	})

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		a1, err := f.AccountsByEmail.Get(ctx, tx, ptr("one@example.com"))
		require.NoError(t, err)
		require.NotNil(t, a1)
		require.Equal(t, &Account{ID: "a1", Email: ptr("one@example.com"), Group: "g1"}, a1)

		a2, err := f.AccountsByEmail.Get(ctx, tx, ptr("two@example.com"))
		require.NoError(t, err)
		require.NotNil(t, a2)
		require.Equal(t, "a2", a2.ID)

		rows, err := f.AccountsByGroup.GetAll(ctx, tx, "g1")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		rows, err = f.AccountsByGroup.GetAll(ctx, tx, "g3")
		require.NoError(t, err)
		require.Empty(t, rows)
		return nil
	})
}

// Rewriting a row whose old index entry points at another row fails with
// ErrIndexMismatch from both Table.Set and Column.Set, for either index kind.
func testIndexMismatchOnWrite(t *testing.T, conn kvtab.Connection) {
	f := NewFixture(t)
	pk := func(id string) []byte { return tuple.Tuple{id}.Pack() }
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		require.NoError(t, f.Accounts.Set(ctx, tx, &Account{ID: "u", Email: ptr("u@example.com"), Group: "gu"}))
		require.NoError(t, f.Accounts.Set(ctx, tx, &Account{ID: "m", Email: ptr("m@example.com"), Group: "gm"}))
		require.NoError(t, f.Accounts.Set(ctx, tx, &Account{ID: "other"}))

		idxKS := IndexKeyspace(tx, f.Accounts)
		uniqueKey := idxKS.PackTuple(tuple.Tuple{int64(f.AccountEmail.Tag()), "u@example.com"})
		require.NoError(t, tx.Set(ctx, uniqueKey, pk("other")))
		multiKey := append(idxKS.PackTuple(tuple.Tuple{int64(f.AccountGroup.Tag()), "gm"}), pk("m")...)
		return tx.Set(ctx, multiKey, pk("other"))
	})

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		err := f.Accounts.Set(ctx, tx, &Account{ID: "u", Email: ptr("u2@example.com"), Group: "gu"})
		require.ErrorIs(t, err, kvtab.ErrIndexMismatch)
		err = f.AccountEmail.Set(ctx, tx, ptr("u2@example.com"), "u")
		require.ErrorIs(t, err, kvtab.ErrIndexMismatch)

		// The email index is checked first and passes; the group check fails.
		err = f.Accounts.Set(ctx, tx, &Account{ID: "m", Email: ptr("m2@example.com"), Group: "gm2"})
		require.ErrorIs(t, err, kvtab.ErrIndexMismatch)
		var tblErr *kvtab.TableError
		require.ErrorAs(t, err, &tblErr)
		require.Equal(t, "group", tblErr.Index)
		err = f.AccountGroup.Set(ctx, tx, "gm2", "m")
		require.ErrorIs(t, err, kvtab.ErrIndexMismatch)
		return nil
	})

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		m, err := f.AccountsByEmail.Get(ctx, tx, ptr("m@example.com"))
		require.NoError(t, err)
		require.NotNil(t, m)
		require.Equal(t, "gm", m.Group)

		gone, err := f.AccountsByEmail.GetKey(ctx, tx, ptr("m2@example.com"))
		require.NoError(t, err)
		require.Nil(t, gone)
		gone, err = f.AccountsByEmail.GetKey(ctx, tx, ptr("u2@example.com"))
		require.NoError(t, err)
		require.Nil(t, gone)

		u, ok, err := f.AccountEmail.Get(ctx, tx, "u")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "u@example.com", *u)
		return nil
	})
}

func testScan(t *testing.T, conn kvtab.Connection) {
	f := NewFixture(t)
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		for _, m := range []Membership{
			{Group: "g2", Member: 1, Role: "owner"},
			{Group: "g1", Member: 3, Role: "reader"},
			{Group: "g1", Member: -1, Role: "writer"},
			{Group: "g10", Member: 7, Role: "owner"},
		} {
			require.NoError(t, f.Memberships.Set(ctx, tx, &m))
		}
		// Rows of another table must not show up.
		return f.Accounts.Set(ctx, tx, &Account{ID: "g1"})
	})

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		all, err := f.Memberships.All(ctx, tx)
		require.NoError(t, err)
		require.Len(t, all, 4)
		require.Equal(t, Membership{Group: "g1", Member: -1, Role: "writer"}, *all[0])
		require.Equal(t, Membership{Group: "g1", Member: 3, Role: "reader"}, *all[1])
		require.Equal(t, "g10", all[2].Group)
		require.Equal(t, "g2", all[3].Group)

		var prefixed []Membership
		err = f.Memberships.ScanPrefix(ctx, tx, func(m *Membership) error {
			prefixed = append(prefixed, *m)
			return nil
		}, "g1")
		require.NoError(t, err)
		require.Len(t, prefixed, 2, "g10 must not match the g1 prefix")

		var visited int
		err = f.Memberships.Scan(ctx, tx, func(m *Membership) error {
			visited++
			return errTestAbort
		})
		require.ErrorIs(t, err, errTestAbort)
		require.Equal(t, 1, visited)

		m, err := f.Memberships.Get(ctx, tx, "g1", int64(3))
		require.NoError(t, err)
		require.Equal(t, "reader", m.Role)

		role, ok, err := f.MembershipRole.Get(ctx, tx, "g2", int64(1))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "owner", role)
		return nil
	})
}

func testPartialRow(t *testing.T, conn kvtab.Connection) {
	f := NewFixture(t)
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		require.NoError(t, f.Accounts.Set(ctx, tx, &Account{ID: "p1", Group: "g", Score: 7}))
		return tx.Clear(ctx, CellKey(tx, f.Accounts, f.AccountScore.Tag(), "p1"))
	})

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		got, err := f.Accounts.Get(ctx, tx, "p1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, "g", got.Group)
		require.Zero(t, got.Score)
		return nil
	})

	f.Schema.SetStrict(true)
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		_, err := f.Accounts.Get(ctx, tx, "p1")
		require.ErrorIs(t, err, kvtab.ErrPartialRow)
		return nil
	})
}

func testDanglingIndexEntry(t *testing.T, conn kvtab.Connection) {
	f := NewFixture(t)
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		require.NoError(t, f.Accounts.Set(ctx, tx, &Account{ID: "d1", Email: ptr("d1@example.com")}))
		return tx.ClearSpace(ctx, RowKeyspace(tx, f.Accounts, "d1"))
	})

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		got, err := f.AccountsByEmail.Get(ctx, tx, ptr("d1@example.com"))
		require.NoError(t, err)
		require.Nil(t, got)
		return nil
	})

	f.Schema.SetStrict(true)
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		_, err := f.AccountsByEmail.Get(ctx, tx, ptr("d1@example.com"))
		require.ErrorIs(t, err, kvtab.ErrIndexMismatch)
		return nil
	})
}

func testConcurrentIncrements(t *testing.T, conn kvtab.Connection) {
	f := NewFixture(t)
	ctx := context.Background()
	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		return f.Accounts.Set(ctx, tx, &Account{ID: "counter"})
	})

	const workers, perWorker = 4, 5
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				err := kvtab.Update(ctx, conn, func(tx kvtab.Transaction) error {
					v, _, err := f.AccountScore.Get(ctx, tx, "counter")
					if err != nil {
						return err
					}
					return f.AccountScore.Set(ctx, tx, v+1, "counter")
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	update(t, conn, func(ctx context.Context, tx kvtab.Transaction) error {
		v, ok, err := f.AccountScore.Get(ctx, tx, "counter")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(workers*perWorker), v)
		return nil
	})
}
