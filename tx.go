package kvtab

import (
	"fmt"
	"runtime/debug"
)

// Body is the closure run by Connection.Transact.
type Body = func(tx Transaction) (any, error)

// Panicked is returned by CallSafely when the transaction body panics.
type Panicked struct {
	Reason any
	Stack  string
}

func (p Panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.Reason, p.Stack)
}

func (p Panicked) Unwrap() error {
	if err, ok := p.Reason.(error); ok {
		return err
	}
	return nil
}

// CallSafely invokes fn, converting a panic into a Panicked error so that
// backends can roll back and release locks on the way out.
func CallSafely(fn Body, tx Transaction) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, Panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}
