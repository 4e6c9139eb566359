// Package drive converts arbiter commands into differential wheel speeds.
package drive

import (
	"math"

	"github.com/banshee-data/rover/internal/arbiter"
	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/fault"
)

// MaxWheelSpeed bounds each wheel in both directions.
const MaxWheelSpeed = 100

// Wheels is a pair of signed wheel speeds in [-100, 100]. Positive drives
// forward.
type Wheels struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Stopped reports whether both wheels are at rest.
func (w Wheels) Stopped() bool { return w.Left == 0 && w.Right == 0 }

// Mixer holds the mixing parameters.
type Mixer struct {
	innerRatio float64
}

// NewMixer returns a Mixer. innerRatio is the inner wheel's share of the
// command speed while arcing and is clamped to [0, 1].
func NewMixer(innerRatio float64) *Mixer {
	return &Mixer{innerRatio: math.Max(0, math.Min(1, innerRatio))}
}

// MixerFromRobot builds a Mixer from the robot configuration.
func MixerFromRobot(c *config.RobotConfig) *Mixer { return NewMixer(c.GetInnerWheelRatio()) }

// Mix maps a command to wheel speeds. For turning actions the heading rotates
// toward cmd.Turn, including while reversing.
func (m *Mixer) Mix(cmd arbiter.Command) (Wheels, error) {
	s := float64(cmd.Speed)
	in := s * m.innerRatio
	var l, r float64

	switch cmd.Action {
	case arbiter.Stop:
	case arbiter.Forward:
		l, r = s, s
	case arbiter.Reverse:
		l, r = -s, -s
	case arbiter.Arc:
		l, r = split(cmd.Turn, s, in)
	case arbiter.Pivot, arbiter.Search:
		l, r = split(cmd.Turn, s, -s)
	case arbiter.ReverseArc:
		// Reversing with the left wheel faster swings the nose left.
		switch cmd.Turn {
		case arbiter.Left:
			l, r = -s, -in
		case arbiter.Right:
			l, r = -in, -s
		default:
			l, r = -s, -s
		}
	default:
		return Wheels{}, fault.Newf(fault.KindInvariantViolation, "mix", "unknown action %d", cmd.Action)
	}

	w := Wheels{Left: int(math.Round(l)), Right: int(math.Round(r))}
	if abs(w.Left) > MaxWheelSpeed || abs(w.Right) > MaxWheelSpeed {
		return Wheels{}, fault.Newf(fault.KindInvariantViolation, "mix", "wheel speeds %+v out of range", w)
	}
	return w, nil
}

// split puts outer on the wheel away from the turn and inner on the wheel
// toward it. Straight drives both at outer.
func split(t arbiter.Turn, outer, inner float64) (l, r float64) {
	switch t {
	case arbiter.Left:
		return inner, outer
	case arbiter.Right:
		return outer, inner
	case arbiter.Straight:
		return outer, outer
	}
	return outer, outer
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
