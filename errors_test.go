package kvtab

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("err = %T, wanted *DataError", err)
		}
		if !errors.Is(err, inner) {
			t.Fatalf("errors.Is(err, inner) = false, wanted true")
		}
		s := err.Error()
		if !strings.Contains(s, "oops") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2)") {
			t.Fatalf("err.Error() = %q, wanted message with oops/inner/(2)", s)
		}
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		err := dataErrf(data, 0, nil, "oops")
		s := err.Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted message with (200) and ...", s)
		}
	})
}

func TestTableError_ErrorAndUnwrap(t *testing.T) {
	err := tableErrf("users", "email", []byte("k\x00"), ErrIndexAlreadyExists, "value owned by %s", "x")
	if !errors.Is(err, ErrIndexAlreadyExists) {
		t.Fatalf("errors.Is(err, ErrIndexAlreadyExists) = false, wanted true")
	}
	if got, want := err.Error(), `users.email/k\x00: value owned by x: index value already exists`; got != want {
		t.Fatalf("err.Error() = %q, wanted %q", got, want)
	}

	if got, want := (&TableError{Table: "T", Err: ErrNotFound}).Error(), "T: not found"; got != want {
		t.Fatalf("TableError.Error() = %q, wanted %q", got, want)
	}
}

func TestTransactionError(t *testing.T) {
	err := error(&TransactionError{Backend: "pebble", Attempts: 3, Err: fmt.Errorf("%w: busy", ErrConflict)})
	if !IsRetryable(err) {
		t.Fatalf("IsRetryable = false, wanted true")
	}
	if got, want := err.Error(), "pebble: transaction failed after 3 attempts: transaction conflict: busy"; got != want {
		t.Fatalf("Error() = %q, wanted %q", got, want)
	}

	err = &TransactionError{Backend: "fdb", Attempts: 1, Err: ErrTimeout}
	if IsRetryable(err) {
		t.Fatalf("IsRetryable(timeout) = true, wanted false")
	}
	if got, want := err.Error(), "fdb: transaction failed: transaction timed out"; got != want {
		t.Fatalf("Error() = %q, wanted %q", got, want)
	}

	for _, e := range []error{ErrIndexAlreadyExists, ErrIndexMismatch, ErrPartialRow, ErrStore} {
		if IsRetryable(e) {
			t.Errorf("IsRetryable(%v) = true, wanted false", e)
		}
	}
}

func TestDescribeBytes(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{nil, "empty byte slice"},
		{[]byte{0x7f}, "1 byte [0x7f]"},
		{[]byte{0x00, 0xff}, "2 bytes [0x00, 0xff]"},
		{[]byte{1, 2, 3}, "3 bytes [0x01, 0x02, 0x03]"},
		{[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, "12 bytes [0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, ...]"},
	}
	for _, tt := range tests {
		if got := describeBytes(tt.in); got != tt.want {
			t.Errorf("describeBytes(%x) = %q, wanted %q", tt.in, got, tt.want)
		}
	}
}

func TestConversionError(t *testing.T) {
	err := convErrFromBytes([]byte{1, 2}, "uint16")
	if got, want := err.Error(), "failed to convert from []byte (value: 2 bytes [0x01, 0x02]) to uint16"; got != want {
		t.Fatalf("Error() = %q, wanted %q", got, want)
	}
}
