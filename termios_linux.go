package seriallink

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)

func applySpeed(t *unix.Termios, speed LineSpeed) {
	t.Cflag &^= unix.CBAUD
	t.Cflag |= uint32(speed)
	t.Ispeed = uint32(speed)
	t.Ospeed = uint32(speed)
}
