package seriallink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultBufferSize is enough for one MTU-sized chunk.
	DefaultBufferSize = 2048

	// DefaultErrorBackoff is the pause after a failed read.
	DefaultErrorBackoff = 50 * time.Millisecond
)

// Framer turns a byte stream into messages and messages into bytes.
//
// Feed must copy what it keeps: the chunk is only valid for the duration of
// the call. Feed and Next are only ever called from the receive goroutine;
// Serialize is called from Send and must not touch the parsing state.
type Framer[M any] interface {
	Feed(chunk []byte)
	Next() (M, bool)
	Serialize(msg M) ([]byte, error)
}

// MaxFrameSizer is implemented by framers that know their largest frame. It
// sizes the receive buffer when Config.BufferSize is zero.
type MaxFrameSizer interface {
	MaxFrameSize() int
}

// MessageSink receives each framed message, in arrival order, on the receive
// goroutine. It must not block indefinitely and must not call Stop.
type MessageSink[M any] func(msg M)

// Config describes a connection. Device and BaudRate are validated by Start
// and Send, not by New.
type Config struct {
	Device   string
	BaudRate int

	// BufferSize is the receive buffer capacity. Zero means the framer's
	// MaxFrameSize if it has one, else DefaultBufferSize.
	BufferSize int

	// ErrorBackoff is how long the receive loop waits after a read error.
	// Zero means DefaultErrorBackoff.
	ErrorBackoff time.Duration

	// Logger defaults to slog.Default() tagged with the device.
	Logger *slog.Logger

	// Registerer receives the connection metrics; nil disables them.
	Registerer prometheus.Registerer

	// Opener opens the device. Nil selects the platform default: OpenPosix
	// on Linux and Darwin, OpenPortable elsewhere.
	Opener Opener
}

// State is the connection lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateOpen
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpen:
		return "open"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Connection is a framed-message transport over one serial line. It owns the
// port and a single receive goroutine.
type Connection[M any] struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	// mu guards lifecycle transitions and the fields below it.
	mu     sync.RWMutex
	state  State
	port   SerialPort
	framer Framer[M]
	sink   MessageSink[M]
	quit   chan struct{}
	done   chan struct{}

	// wmu serializes Send callers.
	wmu sync.Mutex

	exit    atomic.Bool
	running atomic.Bool
}

// New creates a connection. No I/O happens until Start.
func New[M any](cfg Config, framer Framer[M], sink MessageSink[M]) *Connection[M] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "seriallink", "device", cfg.Device)
	}
	metrics, err := newMetrics(cfg.Registerer, cfg.Device)
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}
	return &Connection[M]{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		framer:  framer,
		sink:    sink,
	}
}

// State returns the current lifecycle state.
func (c *Connection[M]) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Running reports whether the receive goroutine is alive.
func (c *Connection[M]) Running() bool {
	return c.running.Load()
}

// Start validates the configuration, opens and configures the port, and
// launches the receive goroutine. It does not wait for the first read.
// The baud rate is resolved before any open is attempted, and a failed open
// leaves no goroutine and no handle behind.
func (c *Connection[M]) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateOpen:
		return nil
	case StateStopped:
		return newOpError("start", c.cfg.Device, ErrStopped, nil)
	}

	if c.framer == nil || c.sink == nil {
		return newOpError("start", c.cfg.Device, ErrReceiverMissing, nil)
	}
	if c.cfg.Device == "" {
		return newOpError("start", c.cfg.Device, ErrPathInvalid, nil)
	}
	line, err := NewLineConfig(c.cfg.BaudRate)
	if err != nil {
		c.logger.Error("Unsupported baud rate", "baud", c.cfg.BaudRate)
		return newOpError("start", c.cfg.Device, kindOf(err), fmt.Errorf("baud %d", c.cfg.BaudRate))
	}

	open := c.cfg.Opener
	if open == nil {
		open = defaultOpener
	}
	port, err := open(c.cfg.Device, line)
	if err != nil {
		c.logger.Error("Failed to open serial port", "baud", c.cfg.BaudRate, "error", err)
		var opErr *OpError
		if errors.As(err, &opErr) {
			return opErr
		}
		return newOpError("start", c.cfg.Device, ErrOpenFailed, err)
	}

	size := c.bufferSize()
	c.port = port
	c.quit = make(chan struct{})
	c.done = make(chan struct{})
	c.state = StateOpen
	c.running.Store(true)
	c.metrics.setReceiving(true)

	go c.receive(port, c.framer, c.sink, make([]byte, size), c.quit, c.done)

	c.logger.Info("Serial connection started", "baud", c.cfg.BaudRate, "buffer_size", size)
	return nil
}

func (c *Connection[M]) bufferSize() int {
	if c.cfg.BufferSize > 0 {
		return c.cfg.BufferSize
	}
	if s, ok := c.framer.(MaxFrameSizer); ok && s.MaxFrameSize() > 0 {
		return s.MaxFrameSize()
	}
	return DefaultBufferSize
}

// Send serializes msg and writes it with a single write call. A short write
// fails with ErrWriteFailed and is not retried.
func (c *Connection[M]) Send(msg M) error {
	if c.cfg.Device == "" {
		return newOpError("send", c.cfg.Device, ErrPathInvalid, nil)
	}
	if c.cfg.BaudRate == 0 {
		return newOpError("send", c.cfg.Device, ErrBaudRateUnset, nil)
	}

	c.mu.RLock()
	port, framer, state := c.port, c.framer, c.state
	c.mu.RUnlock()
	if state != StateOpen || port == nil {
		return newOpError("send", c.cfg.Device, ErrNotOpen, nil)
	}

	buf, err := framer.Serialize(msg)
	if err != nil {
		return newOpError("send", c.cfg.Device, ErrWriteFailed, fmt.Errorf("serialize: %w", err))
	}

	c.wmu.Lock()
	n, err := port.Write(buf)
	c.wmu.Unlock()

	if err != nil {
		c.metrics.writeError()
		c.logger.Error("Write failure", "error", err)
		return newOpError("send", c.cfg.Device, ErrWriteFailed, err)
	}
	if n != len(buf) {
		c.metrics.writeError()
		c.logger.Error("Short write", "written", n, "expected", len(buf))
		return newOpError("send", c.cfg.Device, ErrWriteFailed,
			fmt.Errorf("short write: %d of %d bytes", n, len(buf)))
	}

	c.metrics.sent(n)
	return nil
}

// Stop marks termination, closes the port to wake the receive goroutine,
// waits for it to exit and drops the framer and sink. It always returns nil
// and may be called any number of times, before or after Start. No message
// is delivered after Stop returns. A Send waiting for the line to drain is
// woken with ErrPortClosed; one already inside write(2) is waited for.
func (c *Connection[M]) Stop() error {
	c.mu.Lock()
	prev := c.state
	c.state = StateStopped
	port, quit, done := c.port, c.quit, c.done
	c.port = nil
	if prev == StateOpen {
		c.exit.Store(true)
		close(quit)
	}
	c.mu.Unlock()

	if prev == StateOpen {
		if err := port.Close(); err != nil {
			c.logger.Debug("Close returned error", "error", err)
		}
	}
	if done != nil {
		<-done
	}
	if prev != StateOpen {
		return nil
	}

	c.mu.Lock()
	if r, ok := c.framer.(interface{ Reset() }); ok {
		r.Reset()
	}
	c.framer = nil
	c.sink = nil
	c.mu.Unlock()

	c.logger.Info("Serial connection stopped")
	return nil
}

// receive reads until the termination flag is set. Read failures are
// reported through the log and metrics and never end the loop by themselves.
func (c *Connection[M]) receive(port SerialPort, framer Framer[M], sink MessageSink[M], buf []byte, quit, done chan struct{}) {
	defer close(done)
	defer func() {
		c.running.Store(false)
		c.metrics.setReceiving(false)
	}()

	for !c.exit.Load() {
		n, err := port.Read(buf)
		if c.exit.Load() {
			return
		}
		if err != nil {
			c.metrics.readError()
			c.logger.Warn("Read failure", "error", newOpError("read", c.cfg.Device, ErrReadTransient, err))
			select {
			case <-quit:
				return
			case <-time.After(c.errorBackoff()):
			}
			continue
		}
		if n == 0 || n > len(buf) {
			c.metrics.discarded()
			if n > len(buf) {
				c.logger.Warn("Read returned more than buffer capacity", "n", n, "capacity", len(buf))
			}
			continue
		}

		c.metrics.received(n)
		framer.Feed(buf[:n])
		for {
			msg, ok := framer.Next()
			if !ok {
				break
			}
			c.metrics.delivered()
			sink(msg)
		}
	}
}

func (c *Connection[M]) errorBackoff() time.Duration {
	if c.cfg.ErrorBackoff > 0 {
		return c.cfg.ErrorBackoff
	}
	return DefaultErrorBackoff
}

// kindOf returns the sentinel kind err matches.
func kindOf(err error) error {
	for _, kind := range []error{
		ErrPathInvalid, ErrBaudRateUnset, ErrBaudRateUnknown, ErrOpenFailed,
		ErrConfigurationFailed, ErrWriteFailed, ErrReadTransient,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return err
}
