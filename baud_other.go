//go:build !linux

package seriallink

// Darwin and the go.bug.st/serial backends take the integer rate directly.
func platformSpeed(baud int) (LineSpeed, bool) {
	return LineSpeed(baud), baud > 0
}
