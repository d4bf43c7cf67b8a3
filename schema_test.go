package kvtab_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/andreyvit/kvtab"
	"github.com/andreyvit/kvtab/kvtabtest"
	"github.com/andreyvit/kvtab/memstore"
)

type note struct {
	ID   string
	Body string
}

func expectPanic(t *testing.T, substr string, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q", substr)
		}
		if err, ok := r.(error); !ok || !strings.Contains(err.Error(), substr) {
			t.Fatalf("panic = %v, wanted one containing %q", r, substr)
		}
	}()
	f()
}

func TestSchema_DeclarationMistakesPanic(t *testing.T) {
	scm := kvtab.NewSchema(kvtab.SchemaOpts{})
	notes := kvtab.AddTable[note](scm, "notes")
	id := kvtab.AddColumn(notes, "id", 0, func(r *note) *string { return &r.ID })

	expectPanic(t, "duplicate table", func() {
		kvtab.AddTable[note](scm, "Notes")
	})
	expectPanic(t, "column tag 0", func() {
		kvtab.AddColumn(notes, "body", 0, func(r *note) *string { return &r.Body })
	})
	expectPanic(t, "duplicate column", func() {
		kvtab.AddColumn(notes, "id", 5, func(r *note) *string { return &r.ID })
	})
	expectPanic(t, "primary key not set", func() {
		notes.KeyOf(&note{ID: "x"})
	})
	expectPanic(t, "at least one column", func() {
		notes.SetPrimaryKey()
	})

	other := kvtab.AddTable[note](scm, "other")
	expectPanic(t, "does not belong", func() {
		other.SetPrimaryKey(id)
	})

	notes.SetPrimaryKey(id)
	expectPanic(t, "already set", func() {
		notes.SetPrimaryKey(id)
	})

	kvtab.AddUniqueIndex(id)
	expectPanic(t, "duplicate index", func() {
		kvtab.AddUniqueIndex(id)
	})

	expectPanic(t, "separator", func() {
		kvtab.AddTable[note](scm, "bad\x1fname")
	})
}

func TestSchema_Introspection(t *testing.T) {
	f := kvtabtest.NewFixture(t)
	if n := len(f.Schema.Tables()); n != 2 {
		t.Fatalf("len(Tables) = %d, wanted 2", n)
	}
	tbl := f.Schema.TableNamed("ACCOUNTS")
	if tbl == nil || tbl.Name() != "accounts" {
		t.Fatalf("TableNamed(ACCOUNTS) = %v", tbl)
	}
	if f.Schema.TableNamed("missing") != nil {
		t.Fatalf("TableNamed(missing) != nil")
	}

	pk := tbl.PrimaryKey()
	if len(pk) != 1 || pk[0].Name() != "id" || !pk[0].IsKey() {
		t.Fatalf("PrimaryKey = %v", pk)
	}
	if len(tbl.Columns()) != 5 {
		t.Fatalf("len(Columns) = %d, wanted 5", len(tbl.Columns()))
	}
	idx := tbl.Indices()
	if len(idx) != 2 || !idx[0].IsUnique() || idx[1].IsUnique() || idx[0].Column().Tag() != 1 {
		t.Fatalf("Indices = %v", idx)
	}
	if f.AccountScore.IsKey() {
		t.Fatalf("score.IsKey() = true")
	}
	if f.AccountScore.String() != "accounts.score" {
		t.Fatalf("String() = %q", f.AccountScore.String())
	}

	mk := f.Memberships.PrimaryKey()
	if len(mk) != 2 || mk[0].Name() != "group" || mk[1].Name() != "member" {
		t.Fatalf("composite PrimaryKey = %v", mk)
	}
}

func TestTable_KeyOf(t *testing.T) {
	f := kvtabtest.NewFixture(t)
	key, err := f.Memberships.KeyOf(&kvtabtest.Membership{Group: "g", Member: 7})
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != 2 || key[0] != "g" || key[1] != int64(7) {
		t.Fatalf("KeyOf = %v, wanted (g, 7)", key)
	}
	if row := f.Accounts.New(); row == nil || row.ID != "" {
		t.Fatalf("New() = %v", row)
	}
}

func TestTable_MultiIndexMissingEntry(t *testing.T) {
	ctx := context.Background()
	f := kvtabtest.NewFixture(t)
	s := memstore.New(memstore.Options{})

	err := kvtab.Update(ctx, s, func(tx kvtab.Transaction) error {
		if err := f.Accounts.Set(ctx, tx, &kvtabtest.Account{ID: "a", Group: "g"}); err != nil {
			return err
		}
		idxKS := f.Accounts.Keyspace(tx.Keyspace()).Keyspace([]byte("idx"))
		return tx.ClearSpace(ctx, idxKS)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = kvtab.Update(ctx, s, func(tx kvtab.Transaction) error {
		_, err := f.Accounts.Delete(ctx, tx, "a")
		return err
	})
	if !errors.Is(err, kvtab.ErrIndexEntryNotFound) {
		t.Fatalf("Delete err = %v, wanted ErrIndexEntryNotFound", err)
	}
}

func TestTable_IndexPointerMismatch(t *testing.T) {
	ctx := context.Background()
	f := kvtabtest.NewFixture(t)
	s := memstore.New(memstore.Options{})
	email := "x@example.com"

	err := kvtab.Update(ctx, s, func(tx kvtab.Transaction) error {
		if err := f.Accounts.Set(ctx, tx, &kvtabtest.Account{ID: "a", Email: &email}); err != nil {
			return err
		}
		key, err := f.AccountsByEmail.GetKey(ctx, tx, &email)
		if err != nil || key == nil {
			t.Fatalf("GetKey = %x, %v", key, err)
		}
		// Point the email entry at some other row. Entries sort by column
		// tag, so it precedes the group entry.
		other, _ := kvtab.KeyTuple("b")
		idxKS := f.Accounts.Keyspace(tx.Keyspace()).Keyspace([]byte("idx"))
		kvs, err := tx.GetSpace(ctx, idxKS)
		if err != nil || len(kvs) != 2 {
			t.Fatalf("index entries = %v, %v", kvs, err)
		}
		return tx.Set(ctx, kvs[0].Key, other.Pack())
	})
	if err != nil {
		t.Fatal(err)
	}

	err = kvtab.Update(ctx, s, func(tx kvtab.Transaction) error {
		_, err := f.Accounts.Delete(ctx, tx, "a")
		return err
	})
	if !errors.Is(err, kvtab.ErrIndexMismatch) {
		t.Fatalf("Delete err = %v, wanted ErrIndexMismatch", err)
	}
}

func TestTable_KeyArgConversion(t *testing.T) {
	ctx := context.Background()
	f := kvtabtest.NewFixture(t)
	s := memstore.New(memstore.Options{})

	err := kvtab.Update(ctx, s, func(tx kvtab.Transaction) error {
		return f.Memberships.Set(ctx, tx, &kvtabtest.Membership{Group: "g1", Member: 3, Role: "admin"})
	})
	if err != nil {
		t.Fatal(err)
	}

	type groupName string
	err = kvtab.Update(ctx, s, func(tx kvtab.Transaction) error {
		for _, key := range [][]any{
			{"g1", int64(3)},
			{"g1", 3},
			{"g1", int32(3)},
			{"g1", uint8(3)},
			{groupName("g1"), 3},
		} {
			row, err := f.Memberships.Get(ctx, tx, key...)
			if err != nil {
				t.Fatalf("Get(%v) err = %v", key, err)
			}
			if row == nil || row.Role != "admin" {
				t.Fatalf("Get(%v) = %v, wanted the admin row", key, row)
			}
		}

		role, ok, err := f.MembershipRole.Get(ctx, tx, "g1", 3)
		if err != nil || !ok || role != "admin" {
			t.Fatalf("MembershipRole.Get = %q, %v, %v", role, ok, err)
		}

		for _, key := range [][]any{
			{"g1", "3"},
			{"g1", 3.0},
			{3, 3},
			{"g1", uint64(1 << 63)},
		} {
			_, err := f.Memberships.Get(ctx, tx, key...)
			var convErr *kvtab.ConversionError
			if !errors.As(err, &convErr) {
				t.Fatalf("Get(%v) err = %v, wanted *ConversionError", key, err)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
