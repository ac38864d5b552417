package seriallink

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
)

// Darwin stores the integer rate directly in the speed fields.
func applySpeed(t *unix.Termios, speed LineSpeed) {
	t.Ispeed = uint64(speed)
	t.Ospeed = uint64(speed)
}
