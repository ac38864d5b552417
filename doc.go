// Package seriallink is a point-to-point framed-message transport over a
// serial line.
//
// A Connection owns one serial device. Start opens it in raw mode (8N1, no
// flow control, no echo, reads return after one byte with no timeout) and
// runs a receive goroutine that feeds every chunk read to a Framer and hands
// each complete message to a MessageSink, in arrival order. Send serializes
// a message and writes it with one write call; a short write is an error.
// Stop is idempotent: it wakes the blocked read, waits for the receive
// goroutine to exit and only then returns.
//
// Features:
//   - termios backend on Linux and Darwin, with a self-pipe so Stop never
//     depends on close(2) waking a concurrent read(2)
//   - go.bug.st/serial backend on Windows and elsewhere (OpenPortable)
//   - typed errors (OpError) carrying the OS error number
//   - optional Prometheus metrics and slog logging
//
// Baud rates are resolved before the device is opened. On Linux only the
// rates listed by SupportedBaudRates are accepted.
//
// Example usage:
//
//	conn := seriallink.New(seriallink.Config{
//	    Device:   "/dev/ttyUSB0",
//	    BaudRate: 115200,
//	}, frame.NewLines("\r\n", 0), func(line string) {
//	    fmt.Println("Received:", line)
//	})
//	if err := conn.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Stop()
//
//	if err := conn.Send("C,START"); err != nil {
//	    log.Println("Write failed:", err)
//	}
package seriallink
