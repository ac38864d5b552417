//go:build linux || darwin

package seriallink

import (
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// posixPort is a termios serial device. Reads wait in poll(2) on both the
// device and a self-pipe, so Close wakes a blocked reader deterministically
// instead of racing the read against close(2).
type posixPort struct {
	fd     int
	pipeR  int
	pipeW  int
	closed atomic.Bool

	// mu is held shared by Read and Write and exclusively by Close, so the
	// descriptor is never released under an in-flight system call.
	mu        sync.RWMutex
	closeOnce sync.Once
	closeErr  error
}

// OpenPosix opens path as a raw-mode serial line configured by cfg.
// The device is opened non-blocking so open(2) cannot hang waiting for
// carrier, then switched back to blocking once configured.
func OpenPosix(path string, cfg LineConfig) (SerialPort, error) {
	if path == "" {
		return nil, newOpError("open", path, ErrPathInvalid, nil)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, newOpError("open", path, ErrOpenFailed, err)
	}
	port, err := setupPosix(fd, path, cfg)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return port, nil
}

func setupPosix(fd int, path string, cfg LineConfig) (*posixPort, error) {
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, newOpError("get termios", path, ErrConfigurationFailed, err)
	}

	// Refuse further opens of the device while we hold it.
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		return nil, newOpError("open", path, ErrOpenFailed, err)
	}

	// Raw mode
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.ICRNL | unix.INLCR | unix.IGNCR |
		unix.PARMRK | unix.INPCK | unix.ISTRIP | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OCRNL | unix.ONLCR | unix.ONLRET | unix.ONOCR | unix.OFILL | unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.IEXTEN | unix.ISIG | unix.TOSTOP
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	t.Cflag |= unix.CS8 | unix.CREAD

	// Without CLOCAL a write blocks waiting for carrier detect.
	t.Cflag |= unix.CLOCAL

	// Return as soon as one byte is available, never time out.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	applySpeed(t, cfg.Speed)

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, t); err != nil {
		return nil, newOpError("set termios", path, ErrConfigurationFailed, err)
	}

	if err := unix.SetNonblock(fd, false); err != nil {
		return nil, newOpError("set blocking", path, ErrConfigurationFailed, err)
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		return nil, newOpError("pipe", path, ErrOpenFailed, err)
	}

	return &posixPort{fd: fd, pipeR: pipeFds[0], pipeW: pipeFds[1]}, nil
}

// Read blocks until data arrives or Close is called. After Close it returns
// ErrPortClosed.
func (p *posixPort) Read(b []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return 0, ErrPortClosed
	}

	if err := p.wait(unix.POLLIN); err != nil {
		return 0, err
	}

	n, err := unix.Read(p.fd, b)
	if err == unix.EINTR || err == unix.EAGAIN {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	// With VMIN=1 a zero-length read means the line hung up.
	if n == 0 && err == nil && len(b) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// Write waits until the device accepts output, then issues a single
// write(2); a short count is returned as is. Close wakes a writer stalled on
// a line nobody drains. A write(2) already in progress is not interrupted,
// so Close waits for it.
func (p *posixPort) Write(b []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return 0, ErrPortClosed
	}

	if err := p.wait(unix.POLLOUT); err != nil {
		return 0, err
	}

	for {
		n, err := unix.Write(p.fd, b)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// wait polls the device for events and the self-pipe for Close.
func (p *posixPort) wait(events int16) error {
	pfd := []unix.PollFd{
		{Fd: int32(p.fd), Events: events},
		{Fd: int32(p.pipeR), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(pfd, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		break
	}
	if pfd[1].Revents != 0 || pfd[0].Revents&unix.POLLNVAL != 0 {
		return ErrPortClosed
	}
	return nil
}

// Close wakes any blocked Read, then releases the device and the pipe.
// Safe to call multiple times; later calls are no-ops.
func (p *posixPort) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		unix.Write(p.pipeW, []byte{1})

		p.mu.Lock()
		defer p.mu.Unlock()
		p.closeErr = unix.Close(p.fd)
		unix.Close(p.pipeR)
		unix.Close(p.pipeW)
	})
	return p.closeErr
}
