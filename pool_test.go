package kvtab_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andreyvit/kvtab"
	"github.com/andreyvit/kvtab/memstore"
)

func TestPool_TimesOutWhenFull(t *testing.T) {
	ctx := context.Background()
	pool := kvtab.NewPool(memstore.New(memstore.Options{}), 1, 20*time.Millisecond)
	if pool.MaxSize() != 1 {
		t.Fatalf("MaxSize = %d, wanted 1", pool.MaxSize())
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- kvtab.Update(ctx, pool, func(tx kvtab.Transaction) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := kvtab.Update(ctx, pool, func(tx kvtab.Transaction) error { return nil })
	if !errors.Is(err, kvtab.ErrPoolTimeout) {
		t.Fatalf("err = %v, wanted ErrPoolTimeout", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := kvtab.Update(ctx, pool, func(tx kvtab.Transaction) error { return nil }); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestPool_CallerCancellation(t *testing.T) {
	pool := kvtab.NewPool(memstore.New(memstore.Options{}), 1, time.Hour)
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		kvtab.Update(context.Background(), pool, func(tx kvtab.Transaction) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := kvtab.Update(ctx, pool, func(tx kvtab.Transaction) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, kvtab.ErrPoolTimeout) {
		t.Fatalf("err = %v, wanted the caller's deadline", err)
	}
}

func TestPool_Unbounded(t *testing.T) {
	s := memstore.New(memstore.Options{Keyspace: "pooled"})
	pool := kvtab.NewPool(s, 0, 0)
	if pool.MaxSize() != 0 {
		t.Fatalf("MaxSize = %d, wanted 0", pool.MaxSize())
	}
	if !pool.Keyspace().Equal(kvtab.BaseKeyspace("pooled")) {
		t.Fatalf("Keyspace = %v", pool.Keyspace())
	}
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}
	err := kvtab.Update(context.Background(), pool, func(tx kvtab.Transaction) error { return nil })
	if !errors.Is(err, kvtab.ErrClosed) {
		t.Fatalf("err after Close = %v, wanted ErrClosed", err)
	}
}
