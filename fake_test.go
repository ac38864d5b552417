package seriallink

import (
	"bytes"
	"sync"
	"sync/atomic"
)

type readResult struct {
	data     []byte
	overflow bool
	err      error
}

// fakePort replays scripted reads and records writes.
type fakePort struct {
	reads  chan readResult
	closed chan struct{}

	closeOnce  sync.Once
	closeCount atomic.Int32
	readSizes  chan int

	mu       sync.Mutex
	written  bytes.Buffer
	writes   int
	shortBy  int
	writeErr error
}

func newFakePort() *fakePort {
	return &fakePort{
		reads:     make(chan readResult, 64),
		closed:    make(chan struct{}),
		readSizes: make(chan int, 1),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case p.readSizes <- len(b):
	default:
	}
	select {
	case r := <-p.reads:
		if r.err != nil {
			return 0, r.err
		}
		if r.overflow {
			return len(b) + 1, nil
		}
		return copy(b, r.data), nil
	case <-p.closed:
		return 0, ErrPortClosed
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	n := len(b) - p.shortBy
	p.written.Write(b[:n])
	p.writes++
	return n, nil
}

func (p *fakePort) Close() error {
	p.closeCount.Add(1)
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// fakeOpener hands out one fakePort and counts open attempts.
type fakeOpener struct {
	port  *fakePort
	err   error
	calls atomic.Int32
	last  LineConfig
}

func (o *fakeOpener) Open(path string, cfg LineConfig) (SerialPort, error) {
	o.calls.Add(1)
	o.last = cfg
	if o.err != nil {
		return nil, o.err
	}
	return o.port, nil
}
