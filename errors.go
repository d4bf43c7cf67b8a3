package kvtab

import (
	"errors"
	"fmt"
	"strings"
)

// Connection errors.
var (
	ErrEstablishFail    = errors.New("couldn't establish connection")
	ErrClientStopped    = errors.New("client stopped")
	ErrClientNotStarted = errors.New("client not started")
	ErrClosed           = errors.New("connection closed")
	ErrBackendDisabled  = errors.New("database backend not enabled")
	ErrInvalidConfig    = errors.New("invalid config")
	ErrPoolTimeout      = errors.New("timed out waiting for a connection slot")
)

// Transaction and store errors. ErrConflict is the only retryable one.
var (
	ErrConflict = errors.New("transaction conflict")
	ErrTimeout  = errors.New("transaction timed out")
	ErrStore    = errors.New("store failure")
)

// Data errors. These are never retried.
var (
	ErrIndexAlreadyExists = errors.New("index value already exists")
	ErrIndexMismatch      = errors.New("index does not match data")
	ErrIndexEntryNotFound = errors.New("index entry not found")
	ErrOpProhibited       = errors.New("operation prohibited")
	ErrNotFound           = errors.New("not found")
	ErrPartialRow         = errors.New("row is missing some columns")
)

// TransactionError reports a transaction that the store failed or gave up on.
type TransactionError struct {
	Backend  string
	Attempts int
	Err      error
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func (e *TransactionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: transaction failed after %d attempts: %v", e.Backend, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: transaction failed: %v", e.Backend, e.Err)
}

// IsRetryable reports whether err is a store-classified write conflict.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// TableError reports a data error tied to a particular table, index and key.
type TableError struct {
	Table string
	Index string
	Key   []byte
	Msg   string
	Err   error
}

func tableErrf(tbl string, idx string, key []byte, err error, format string, args ...any) error {
	return &TableError{tbl, idx, key, fmt.Sprintf(format, args...), err}
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (e *TableError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Table)
	if e.Index != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Index)
	}
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(printableKey(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// ConversionError reports a value that cannot be converted between a Go type
// and its stored representation.
type ConversionError struct {
	From  string
	To    string
	Value string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("failed to convert from %s (value: %s) to %s", e.From, e.Value, e.To)
}

func convErrFromBytes(data []byte, to string) error {
	return &ConversionError{From: "[]byte", To: to, Value: describeBytes(data)}
}

// describeBytes renders at most 10 leading bytes, e.g. "3 bytes [0x01, 0x02, 0x03]".
func describeBytes(b []byte) string {
	const max = 10
	switch len(b) {
	case 0:
		return "empty byte slice"
	case 1:
		return fmt.Sprintf("1 byte [0x%02x]", b[0])
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d bytes [0x%02x", len(b), b[0])
	n := min(len(b), max)
	for _, c := range b[1:n] {
		fmt.Fprintf(&buf, ", 0x%02x", c)
	}
	if len(b) > max {
		buf.WriteString(", ...")
	}
	buf.WriteByte(']')
	return buf.String()
}
