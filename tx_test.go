package kvtab

import (
	"errors"
	"strings"
	"testing"
)

func TestCallSafely(t *testing.T) {
	t.Run("returns result", func(t *testing.T) {
		res, err := CallSafely(func(tx Transaction) (any, error) {
			return 42, nil
		}, nil)
		if err != nil || res != 42 {
			t.Fatalf("CallSafely = (%v, %v), wanted (42, nil)", res, err)
		}
	})

	t.Run("converts panic", func(t *testing.T) {
		res, err := CallSafely(func(tx Transaction) (any, error) {
			panic("boom")
		}, nil)
		var p Panicked
		if res != nil || !errors.As(err, &p) {
			t.Fatalf("CallSafely = (%v, %v), wanted Panicked", res, err)
		}
		if p.Reason != "boom" || !strings.Contains(p.Stack, "TestCallSafely") {
			t.Fatalf("Panicked = %q with stack %q", p.Reason, p.Stack)
		}
		if errors.Unwrap(err) != nil {
			t.Fatalf("Unwrap of non-error panic = %v, wanted nil", errors.Unwrap(err))
		}
	})

	t.Run("panic with error unwraps", func(t *testing.T) {
		_, err := CallSafely(func(tx Transaction) (any, error) {
			panic(ErrIndexMismatch)
		}, nil)
		if !errors.Is(err, ErrIndexMismatch) {
			t.Fatalf("err = %v, wanted ErrIndexMismatch inside", err)
		}
	})
}
