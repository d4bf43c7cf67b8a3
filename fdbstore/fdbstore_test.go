package fdbstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/andreyvit/kvtab"
	"github.com/andreyvit/kvtab/kvtabtest"
)

// The binding's network can only be started once per process.
var (
	sharedClientOnce sync.Once
	sharedClient     *kvtab.Client
	sharedClientErr  error
)

func startedClient(t *testing.T) *kvtab.Client {
	sharedClientOnce.Do(func() {
		sharedClient = NewClient(nil)
		sharedClientErr = sharedClient.Start()
	})
	require.NoError(t, sharedClientErr)
	return sharedClient
}

func clusterFile(t *testing.T) string {
	path := os.Getenv("KVTAB_FDB_CLUSTER_FILE")
	if path == "" {
		t.Skip("KVTAB_FDB_CLUSTER_FILE not set")
	}
	return path
}

func TestFDBStore(t *testing.T) {
	path := clusterFile(t)
	client := startedClient(t)
	kvtabtest.RunAll(t, func(t *testing.T) kvtab.Connection {
		cfg := DefaultConfig()
		cfg.ClusterFile = path
		cfg.Keyspace = "kvtab-test"
		cfg.Logger = zaptest.NewLogger(t)
		conn, err := Open(context.Background(), client, cfg)
		require.NoError(t, err)
		require.NoError(t, conn.Wipe(context.Background()))
		t.Cleanup(func() {
			conn.Wipe(context.Background())
			conn.Close()
		})
		return conn
	})
}

func TestFDBStoreOpenFailures(t *testing.T) {
	ctx := context.Background()

	client := NewClient(zaptest.NewLogger(t))
	_, err := Open(ctx, client, DefaultConfig())
	require.ErrorIs(t, err, kvtab.ErrClientNotStarted)

	_, err = Open(ctx, nil, DefaultConfig())
	require.ErrorIs(t, err, kvtab.ErrEstablishFail)

	cfg := DefaultConfig()
	cfg.Timeout = 0
	_, err = Open(ctx, client, cfg)
	require.ErrorIs(t, err, kvtab.ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.RetryLimit = -2
	_, err = Open(ctx, client, cfg)
	require.ErrorIs(t, err, kvtab.ErrInvalidConfig)
}

func TestFDBStoreMissingClusterFile(t *testing.T) {
	clusterFile(t)
	client := startedClient(t)
	cfg := DefaultConfig()
	cfg.ClusterFile = filepath.Join(t.TempDir(), "missing.cluster")
	_, err := Open(context.Background(), client, cfg)
	require.ErrorIs(t, err, kvtab.ErrEstablishFail)
}

func TestFDBStoreTimeout(t *testing.T) {
	path := clusterFile(t)
	client := startedClient(t)
	cfg := DefaultConfig()
	cfg.ClusterFile = path
	cfg.Timeout = 50 * time.Millisecond
	conn, err := Open(context.Background(), client, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = conn.Transact(ctx, func(tx kvtab.Transaction) (any, error) {
		time.Sleep(200 * time.Millisecond)
		_, _, err := tx.Get(ctx, conn.Keyspace().Pack([]byte("k")))
		return nil, err
	})
	require.ErrorIs(t, err, kvtab.ErrTimeout)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{1031, kvtab.ErrTimeout},
		{1020, kvtab.ErrConflict},
		{1007, kvtab.ErrConflict},
		{1009, kvtab.ErrConflict},
		{1021, kvtab.ErrConflict},
		{2000, kvtab.ErrStore},
	}
	for _, tt := range tests {
		err := classify(fdb.Error{Code: tt.code})
		require.ErrorIs(t, err, tt.want, "code %d", tt.code)
		var fe fdb.Error
		require.ErrorAs(t, err, &fe)
		require.Equal(t, tt.code, fe.Code)
	}
	require.True(t, kvtab.IsRetryable(classify(fdb.Error{Code: 1020})))
	require.False(t, kvtab.IsRetryable(classify(fdb.Error{Code: 1031})))
}
