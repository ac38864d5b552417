package seriallink

import (
	"errors"
	"fmt"
	"syscall"
)

// Error kinds. Every error returned by Start, Send and the port openers
// matches exactly one of these with errors.Is.
var (
	ErrPathInvalid         = errors.New("device path not set")
	ErrBaudRateUnset       = errors.New("baud rate not set")
	ErrBaudRateUnknown     = errors.New("unknown baud rate")
	ErrOpenFailed          = errors.New("open failed")
	ErrConfigurationFailed = errors.New("line configuration failed")
	ErrWriteFailed         = errors.New("write failed")
	ErrReadTransient       = errors.New("transient read failure")
)

// Lifecycle errors.
var (
	ErrReceiverMissing = errors.New("framer or message sink not attached")
	ErrNotOpen         = errors.New("connection not open")
	ErrStopped         = errors.New("connection stopped")
	ErrPortClosed      = errors.New("port closed")
)

// OpError describes a failed connection or port operation. Code carries the
// OS error number when the failure came from a system call; it is turned
// into text only by Error.
type OpError struct {
	Op   string
	Path string
	Kind error
	Code int
	Err  error
}

func newOpError(op, path string, kind, err error) *OpError {
	e := &OpError{Op: op, Path: path, Kind: kind, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Code = int(errno)
	}
	return e
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (errno %d)", e.Code)
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
