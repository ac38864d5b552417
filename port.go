package seriallink

import "io"

// SerialPort is an open, configured serial line. Read blocks until at least
// one byte arrives. Close must be safe to call while another goroutine is
// blocked in Read, and must make that Read return.
type SerialPort interface {
	io.Reader
	io.Writer
	io.Closer
}

// Opener opens path and applies cfg, returning a ready port. On failure it
// must not leave a handle open, and the error must match ErrOpenFailed or
// ErrConfigurationFailed.
type Opener func(path string, cfg LineConfig) (SerialPort, error)
