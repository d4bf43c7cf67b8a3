package kvtab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of transactions running concurrently on a shared
// Connection. Store connections are safe to share, so the pool hands out
// slots rather than separate handles.
type Pool struct {
	conn    Connection
	sem     *semaphore.Weighted
	max     int64
	timeout time.Duration
}

// NewPool wraps conn. maxConns <= 0 means unbounded; timeout <= 0 waits as long as ctx allows.
func NewPool(conn Connection, maxConns int, timeout time.Duration) *Pool {
	p := &Pool{conn: conn, timeout: timeout}
	if maxConns > 0 {
		p.max = int64(maxConns)
		p.sem = semaphore.NewWeighted(p.max)
	}
	return p
}

func (p *Pool) MaxSize() int {
	return int(p.max)
}

func (p *Pool) Keyspace() Keyspace {
	return p.conn.Keyspace()
}

func (p *Pool) Transact(ctx context.Context, fn func(tx Transaction) (any, error)) (any, error) {
	if p.sem != nil {
		actx := ctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		if err := p.sem.Acquire(actx, 1); err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %v", ErrPoolTimeout, p.timeout)
			}
			return nil, err
		}
		defer p.sem.Release(1)
	}
	return p.conn.Transact(ctx, fn)
}

// Close closes the underlying connection.
func (p *Pool) Close() error {
	return p.conn.Close()
}

var _ Connection = (*Pool)(nil)
