package serialmux

import (
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the bridge board's factory speed.
const DefaultBaudRate = 115200

// PortOptions describes the serial connection to the bridge board.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// ParsePortOptions reads the "115200/8N1" form used on the command line. An
// empty string gives the defaults.
func ParsePortOptions(s string) (PortOptions, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PortOptions{}.Normalize()
	}
	baud, frame, hasFrame := strings.Cut(s, "/")
	var opts PortOptions
	b, err := strconv.Atoi(baud)
	if err != nil {
		return opts, fmt.Errorf("invalid baud rate %q: %w", baud, err)
	}
	opts.BaudRate = b
	if hasFrame {
		if len(frame) != 3 {
			return opts, fmt.Errorf("invalid frame %q: expected e.g. 8N1", frame)
		}
		opts.DataBits = int(frame[0] - '0')
		opts.Parity = frame[1:2]
		opts.StopBits = int(frame[2] - '0')
	}
	return opts.Normalize()
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch parity := strings.TrimSpace(strings.ToUpper(opts.Parity)); parity {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

func (o PortOptions) String() string {
	n, err := o.Normalize()
	if err != nil {
		return fmt.Sprintf("invalid(%d/%d%s%d)", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
	}
	return fmt.Sprintf("%d/%d%s%d", n.BaudRate, n.DataBits, n.Parity, n.StopBits)
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}
