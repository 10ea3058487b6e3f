package tcp

import "errors"

// Sentinel errors mirroring the errno values the shim surfaces back across
// the libc boundary to a caller of connect/send/recv/close.
var (
	ErrIsConn      = errors.New("socket already connected")
	ErrNotConn     = errors.New("socket not connected")
	ErrPipe        = errors.New("broken pipe")
	ErrInval       = errors.New("invalid argument")
	ErrConnRefused = errors.New("connection refused")
	ErrTimedOut    = errors.New("connection timed out")
	ErrNoMem       = errors.New("out of memory")
)

// SockError wraps one of the sentinel errors above with call-site context,
// while still exposing the raw errno value the cgo shim must return.
type SockError struct {
	Op  string
	Err error
}

func (e *SockError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *SockError) Unwrap() error { return e.Err }

// Errno returns the POSIX errno value a cgo shim should return for this
// error, or 0 if Err is not one of the recognized sentinels.
func (e *SockError) Errno() int {
	switch {
	case errors.Is(e.Err, ErrIsConn):
		return 106 // EISCONN
	case errors.Is(e.Err, ErrNotConn):
		return 107 // ENOTCONN
	case errors.Is(e.Err, ErrPipe):
		return 32 // EPIPE
	case errors.Is(e.Err, ErrInval):
		return 22 // EINVAL
	case errors.Is(e.Err, ErrConnRefused):
		return 111 // ECONNREFUSED
	case errors.Is(e.Err, ErrTimedOut):
		return 110 // ETIMEDOUT
	case errors.Is(e.Err, ErrNoMem):
		return 12 // ENOMEM
	default:
		return 0
	}
}

// NewSockError wraps err, captured at operation op, as a *SockError.
func NewSockError(op string, err error) *SockError {
	return &SockError{Op: op, Err: err}
}
