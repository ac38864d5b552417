package seriallink

import (
	"errors"
	"sync"

	"go.bug.st/serial"
)

// portablePort adapts a go.bug.st/serial port. It is the Windows backend
// (CreateFile + DCB) and is selectable on every platform.
type portablePort struct {
	port      serial.Port
	closeOnce sync.Once
	closeErr  error
}

// OpenPortable opens path through go.bug.st/serial with the fixed 8N1 raw
// line setup and no read timeout. The library validates the rate itself, so
// cfg.BaudRate is passed through unchanged.
func OpenPortable(path string, cfg LineConfig) (SerialPort, error) {
	if path == "" {
		return nil, newOpError("open", path, ErrPathInvalid, nil)
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, newOpError("open", path, portableErrorKind(err), err)
	}
	return &portablePort{port: port}, nil
}

// portableErrorKind sorts library errors into open and configuration failures.
func portableErrorKind(err error) error {
	var perr *serial.PortError
	if errors.As(err, &perr) {
		return portableCodeKind(perr.Code())
	}
	return ErrOpenFailed
}

func portableCodeKind(code serial.PortErrorCode) error {
	switch code {
	case serial.InvalidSpeed:
		return ErrBaudRateUnknown
	case serial.InvalidDataBits, serial.InvalidParity, serial.InvalidStopBits,
		serial.InvalidTimeoutValue:
		return ErrConfigurationFailed
	}
	return ErrOpenFailed
}

func (p *portablePort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if err != nil && isPortClosed(err) {
		return n, ErrPortClosed
	}
	return n, err
}

func (p *portablePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *portablePort) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.port.Close()
	})
	return p.closeErr
}

func isPortClosed(err error) bool {
	var perr *serial.PortError
	return errors.As(err, &perr) && perr.Code() == serial.PortClosed
}
