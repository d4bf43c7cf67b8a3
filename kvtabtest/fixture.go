// Package kvtabtest is a conformance suite every kvtab backend must pass.
package kvtabtest

import (
	"testing"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"go.uber.org/zap/zaptest"

	"github.com/andreyvit/kvtab"
)

type Account struct {
	ID    string
	Email *string
	Group string
	Score int64
	Tags  []string
}

type Membership struct {
	Group  string
	Member int64
	Role   string
}

// Fixture is a small schema exercising unique and multi indices and a composite primary key.
type Fixture struct {
	Schema *kvtab.Schema

	Accounts        *kvtab.Table[Account]
	AccountID       *kvtab.Column[Account, string]
	AccountEmail    *kvtab.Column[Account, *string]
	AccountGroup    *kvtab.Column[Account, string]
	AccountScore    *kvtab.Column[Account, int64]
	AccountTags     *kvtab.Column[Account, []string]
	AccountsByEmail *kvtab.UniqueIndex[Account, *string]
	AccountsByGroup *kvtab.MultiIndex[Account, string]

	Memberships      *kvtab.Table[Membership]
	MembershipGroup  *kvtab.Column[Membership, string]
	MembershipMember *kvtab.Column[Membership, int64]
	MembershipRole   *kvtab.Column[Membership, string]
}

func NewFixture(t testing.TB) *Fixture {
	f := &Fixture{
		Schema: kvtab.NewSchema(kvtab.SchemaOpts{Logger: zaptest.NewLogger(t), Verbose: true}),
	}

	f.Accounts = kvtab.AddTable[Account](f.Schema, "accounts")
	f.AccountID = kvtab.AddColumn(f.Accounts, "id", 0, func(r *Account) *string { return &r.ID })
	f.AccountEmail = kvtab.AddColumn(f.Accounts, "email", 1, func(r *Account) **string { return &r.Email })
	f.AccountGroup = kvtab.AddColumn(f.Accounts, "group", 2, func(r *Account) *string { return &r.Group })
	f.AccountScore = kvtab.AddColumn(f.Accounts, "score", 3, func(r *Account) *int64 { return &r.Score })
	f.AccountTags = kvtab.AddColumn(f.Accounts, "tags", 4, func(r *Account) *[]string { return &r.Tags })
	f.Accounts.SetPrimaryKey(f.AccountID)
	f.AccountsByEmail = kvtab.AddUniqueIndex(f.AccountEmail)
	f.AccountsByGroup = kvtab.AddMultiIndex(f.AccountGroup)

	f.Memberships = kvtab.AddTable[Membership](f.Schema, "memberships")
	f.MembershipGroup = kvtab.AddColumn(f.Memberships, "group", 0, func(r *Membership) *string { return &r.Group })
	f.MembershipMember = kvtab.AddColumn(f.Memberships, "member", 1, func(r *Membership) *int64 { return &r.Member })
	f.MembershipRole = kvtab.AddColumn(f.Memberships, "role", 2, func(r *Membership) *string { return &r.Role })
	f.Memberships.SetPrimaryKey(f.MembershipGroup, f.MembershipMember)
	return f
}

// CellKey is the raw key of one cell, for tests that damage rows behind the table layer's back.
func CellKey(tx kvtab.Transaction, tbl kvtab.TableInfo, tag uint16, pk ...tuple.TupleElement) []byte {
	return tbl.Keyspace(tx.Keyspace()).Sub(tuple.Tuple(pk)).PackTuple(tuple.Tuple{int64(tag)})
}

// RowKeyspace is the raw keyspace holding all cells of one row.
func RowKeyspace(tx kvtab.Transaction, tbl kvtab.TableInfo, pk ...tuple.TupleElement) kvtab.Keyspace {
	return tbl.Keyspace(tx.Keyspace()).Sub(tuple.Tuple(pk))
}

// IndexKeyspace is the raw keyspace holding all index entries of a table.
func IndexKeyspace(tx kvtab.Transaction, tbl kvtab.TableInfo) kvtab.Keyspace {
	return tbl.Keyspace(tx.Keyspace()).Keyspace([]byte("idx"))
}

func ptr[T any](v T) *T {
	return &v
}
