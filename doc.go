/*
Package kvtab implements tables, columns and secondary indices on top of
ordered transactional key-value stores.

We implement:

1. Keyspaces, immutable byte-prefix namespaces that keep tables, rows and
indices from colliding.

2. A Transaction/Connection abstraction every backend implements: point
reads, range and prefix reads, writes and deletes, run inside a closure that
the backend retries on write conflicts.

3. Tables, a generic row codec declared at init time from a list of numbered
columns and an ordered primary key.

4. Unique and multi indices maintained as a side effect of row writes.

Backends live in subpackages: fdbstore (FoundationDB), pebblestore (Pebble
with optimistic concurrency), boltstore (bbolt) and memstore (tests).

# Technical Details

**Keyspaces.**
A named keyspace is its parent's prefix, the name and a 0x1F separator. Names
may not contain the separator, so sibling keyspaces never overlap. Tuple
subspaces (rows, index values) append the packed tuple without a separator,
since the tuple encoding is self-delimiting.

**Connection keyspace.**
Each connection stores everything under name ++ 0x1F ++ "v2" ++ 0x1F.

**Column tags.**
Each column has a small integer tag. Tags are the on-disk identity of a
column and are never reused, even if the column is removed.

## Binary encoding

**Key encoding.**
Keys use the FoundationDB tuple encoding, which sorts the same way the
values do.

**Cell:**

	table_ks ++ pack(pk...) ++ pack(tag) => msgpack(value)

A row exists if any of its cells does.

**Unique index entry:**

	table_ks ++ "idx" ++ 0x1F ++ pack(tag, value) => pack(pk...)

**Multi index entry:**

	table_ks ++ "idx" ++ 0x1F ++ pack(tag, value) ++ pack(pk...) => pack(pk...)

**Values** are msgpack, so adding an optional column needs no migration.

**Time keys** pack as the nested tuple (unix seconds, nanoseconds).

# Building

The tuple layer is part of the FoundationDB Go bindings, which use cgo. Every
build of this module, including ones that only use pebblestore, boltstore or
memstore, needs the FoundationDB client headers and libfdb_c (the
foundationdb-clients package) and CGO_ENABLED=1. Version 7.1 or later
matches fdbstore.APIVersion.

# Concurrency

Only store-reported write conflicts are retried. Errors returned by the
transaction closure, including index violations, abort the transaction and
are returned untouched.
*/
package kvtab
