package serialmux

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/rover/internal/indicator"
	"github.com/banshee-data/rover/internal/line"
)

// Host to board commands.
const (
	CmdTrigger       = "T"
	CmdLineStreamOn  = "S 1"
	CmdLineStreamOff = "S 0"
)

// FrameType is the kind of a line received from the bridge board.
type FrameType uint8

const (
	FrameUnknown FrameType = iota
	FrameDistance
	FrameLine
	FrameFault
	FrameAck
)

var frameTypeNames = [...]string{
	FrameUnknown:  "unknown",
	FrameDistance: "distance",
	FrameLine:     "line",
	FrameFault:    "fault",
	FrameAck:      "ack",
}

func (t FrameType) String() string {
	if int(t) < len(frameTypeNames) {
		return frameTypeNames[t]
	}
	return fmt.Sprintf("FrameType(%d)", uint8(t))
}

// Frame is one parsed board line.
type Frame struct {
	Type FrameType
	// Cm and Echo are set for FrameDistance. Echo is false for "D -".
	Cm   float64
	Echo bool
	// Line is set for FrameLine.
	Line line.Triplet
	// Text carries the message of FrameFault and FrameAck.
	Text string
	Raw  string
}

// ParseFrame decodes one line from the board. Unrecognised lines come back as
// FrameUnknown with no error; malformed known frames return an error.
func ParseFrame(raw string) (Frame, error) {
	s := strings.TrimSpace(raw)
	f := Frame{Raw: s}
	head, rest, _ := strings.Cut(s, " ")
	rest = strings.TrimSpace(rest)

	switch head {
	case "D":
		f.Type = FrameDistance
		if rest == "-" {
			return f, nil
		}
		cm, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return f, fmt.Errorf("bad distance frame %q: %w", s, err)
		}
		f.Cm, f.Echo = cm, true
	case "L":
		f.Type = FrameLine
		t, err := line.ParseTriplet(rest)
		if err != nil {
			return f, fmt.Errorf("bad line frame %q: %w", s, err)
		}
		f.Line = t
	case "F":
		f.Type, f.Text = FrameFault, rest
	case "OK":
		f.Type, f.Text = FrameAck, rest
	default:
		f.Type = FrameUnknown
	}
	return f, nil
}

// FormatMotor encodes wheel speeds.
func FormatMotor(left, right int) string {
	return fmt.Sprintf("M %d %d", left, right)
}

// FormatIndicator encodes an indicator state.
func FormatIndicator(s indicator.State) string {
	return "I " + s.String()
}

// FormatPattern encodes an indicator pattern with its colour and interval.
func FormatPattern(p indicator.Pattern, params indicator.Params) string {
	c := params.Color
	return fmt.Sprintf("P %s %d %d %d %d", p, c.R, c.G, c.B, params.Interval.Milliseconds())
}
