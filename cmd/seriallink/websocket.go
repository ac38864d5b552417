package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	seriallink "github.com/luhtfiimanal/go-serial-link"
)

// wsPort carries the serial byte stream in binary WebSocket messages, for
// devices bridged to the network. Close unblocks a pending ReadMessage.
type wsPort struct {
	conn *websocket.Conn

	// Read state, owned by the receive goroutine. A failed connection must
	// not be read again, so readErr is returned from then on.
	buf       []byte
	bufOffset int
	readErr   error

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func (w *wsPort) Read(p []byte) (int, error) {
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	select {
	case <-w.closed:
		return 0, seriallink.ErrPortClosed
	default:
	}
	if w.readErr != nil {
		return 0, w.readErr
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.closed:
				w.readErr = seriallink.ErrPortClosed
			default:
				w.readErr = err
			}
			return 0, w.readErr
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *wsPort) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsPort) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		err = w.conn.Close()
	})
	return err
}

// webSocketOpener dials the URL given as the device path. The line
// configuration has no meaning on a WebSocket and is ignored.
func webSocketOpener(username, password string, skipSSLVerify bool) seriallink.Opener {
	return func(path string, _ seriallink.LineConfig) (seriallink.SerialPort, error) {
		port, err := dialWebSocket(path, username, password, skipSSLVerify)
		if err != nil {
			return nil, &seriallink.OpError{Op: "dial", Path: path, Kind: seriallink.ErrOpenFailed, Err: err}
		}
		return port, nil
	}
}

func dialWebSocket(wsURL, username, password string, skipSSLVerify bool) (*wsPort, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return &wsPort{conn: conn, closed: make(chan struct{})}, nil
}

// getPassword reads the password from SERIALLINK_PASSWORD or prompts
// without echo.
func getPassword() (string, error) {
	if pw := os.Getenv("SERIALLINK_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}
	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}
