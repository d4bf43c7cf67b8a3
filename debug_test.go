package kvtab_test

import (
	"context"
	"strings"
	"testing"

	"github.com/andreyvit/kvtab"
	"github.com/andreyvit/kvtab/kvtabtest"
	"github.com/andreyvit/kvtab/memstore"
)

func TestSchema_Dump(t *testing.T) {
	ctx := context.Background()
	f := kvtabtest.NewFixture(t)
	s := memstore.New(memstore.Options{})
	email := "a@example.com"

	err := kvtab.Update(ctx, s, func(tx kvtab.Transaction) error {
		if err := f.Accounts.Set(ctx, tx, &kvtabtest.Account{ID: "a1", Email: &email, Group: "g", Score: 5}); err != nil {
			return err
		}
		return f.Memberships.Set(ctx, tx, &kvtabtest.Membership{Group: "g", Member: 1, Role: "owner"})
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := kvtab.Transact(ctx, s, func(tx kvtab.Transaction) (string, error) {
		return f.Schema.Dump(ctx, tx, kvtab.DumpAll)
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`accounts (1 rows, 2 index entries)`,
		`accounts("a1")`,
		`  1 email = "a@example.com"`,
		`  3 score = 5`,
		`memberships (1 rows, 0 index entries)`,
		`memberships("g", 1)`,
		`  2 role = "owner"`,
		`=> ("a1")`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump output lacks %q:\n%s", want, out)
		}
	}

	out, err = kvtab.Transact(ctx, s, func(tx kvtab.Transaction) (string, error) {
		return f.Schema.Dump(ctx, tx, kvtab.DumpTableHeaders)
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "score") {
		t.Errorf("headers-only Dump contains rows:\n%s", out)
	}
}
