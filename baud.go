package seriallink

import "fmt"

// LineSpeed is the platform encoding of a baud rate: a termios B* constant
// on Linux, the plain integer rate everywhere else.
type LineSpeed uint64

// supportedBaudRates is the enumerated set accepted on platforms that need a
// speed constant. Order is ascending.
var supportedBaudRates = []int{
	9600, 19200, 38400, 57600, 115200, 230400, 460800, 500000, 576000,
	921600, 1000000, 1152000, 1500000, 2000000, 2500000, 3000000, 3500000,
	4000000,
}

// SupportedBaudRates returns a copy of the enumerated baud rate table.
func SupportedBaudRates() []int {
	out := make([]int, len(supportedBaudRates))
	copy(out, supportedBaudRates)
	return out
}

// ResolveBaudRate maps a requested baud rate to the platform line speed.
// Unmapped rates always fail with ErrBaudRateUnknown; there is no fallback.
func ResolveBaudRate(baud int) (LineSpeed, error) {
	if baud == 0 {
		return 0, ErrBaudRateUnset
	}
	if baud < 0 {
		return 0, fmt.Errorf("%w: %d", ErrBaudRateUnknown, baud)
	}
	speed, ok := platformSpeed(baud)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrBaudRateUnknown, baud)
	}
	return speed, nil
}

// LineConfig is the fixed raw-mode line setup applied at open: 8 data bits,
// no parity, 1 stop bit, no flow control, VMIN=1 and no read timeout. Only
// the speed varies.
type LineConfig struct {
	BaudRate int
	Speed    LineSpeed
}

// NewLineConfig resolves baud into a LineConfig.
func NewLineConfig(baud int) (LineConfig, error) {
	speed, err := ResolveBaudRate(baud)
	if err != nil {
		return LineConfig{}, err
	}
	return LineConfig{BaudRate: baud, Speed: speed}, nil
}
