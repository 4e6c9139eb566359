// Package line classifies the three-element line sensor into a discrete track
// position and stabilizes it over consecutive ticks.
package line

import (
	"fmt"
	"strings"

	"github.com/banshee-data/rover/internal/config"
)

// Triplet is one reading of the left, center and right line sensors. True
// means the sensor sees the line.
type Triplet struct {
	Left, Center, Right bool
}

// ParseTriplet accepts "101"-style strings.
func ParseTriplet(s string) (Triplet, error) {
	s = strings.TrimSpace(s)
	if len(s) != 3 {
		return Triplet{}, fmt.Errorf("line triplet must be 3 digits, got %q", s)
	}
	var bits [3]bool
	for i, c := range s {
		switch c {
		case '0':
		case '1':
			bits[i] = true
		default:
			return Triplet{}, fmt.Errorf("line triplet digit %q is not 0 or 1", c)
		}
	}
	return Triplet{bits[0], bits[1], bits[2]}, nil
}

func (t Triplet) String() string {
	b := []byte("000")
	if t.Left {
		b[0] = '1'
	}
	if t.Center {
		b[1] = '1'
	}
	if t.Right {
		b[2] = '1'
	}
	return string(b)
}

func (t Triplet) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Triplet) UnmarshalText(b []byte) error {
	p, err := ParseTriplet(string(b))
	if err != nil {
		return err
	}
	*t = p
	return nil
}

// Majority votes each channel independently over an odd number of readings.
func Majority(readings []Triplet) Triplet {
	var l, c, r int
	for _, t := range readings {
		if t.Left {
			l++
		}
		if t.Center {
			c++
		}
		if t.Right {
			r++
		}
	}
	half := len(readings) / 2
	return Triplet{Left: l > half, Center: c > half, Right: r > half}
}

// Kind is the closed set of line positions.
type Kind uint8

const (
	Lost Kind = iota
	Center
	Left
	Right
	// Multiple is the 101 pattern. It has no offset and is left for the
	// rotary disambiguator to resolve.
	Multiple
)

var kindNames = [...]string{Lost: "LOST", Center: "CENTER", Left: "LEFT", Right: "RIGHT", Multiple: "MULTIPLE"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Position is a Kind with its offset in [-1, 1]. Negative is left of center.
// Offset is zero and meaningless for Lost and Multiple.
type Position struct {
	Kind   Kind    `json:"kind"`
	Offset float64 `json:"offset"`
}

// Steerable reports whether the position carries a usable offset.
func (p Position) Steerable() bool {
	switch p.Kind {
	case Center, Left, Right:
		return true
	case Lost, Multiple:
		return false
	}
	return false
}

func (p Position) String() string {
	if !p.Steerable() {
		return p.Kind.String()
	}
	return fmt.Sprintf("%s(%+.1f)", p.Kind, p.Offset)
}

// Classification is a position with the classifier's confidence in it.
type Classification struct {
	Position   Position `json:"position"`
	Confidence float64  `json:"confidence"`
	Triplet    Triplet  `json:"triplet"`
}

// Ambiguous reports the 101 pattern.
func (c Classification) Ambiguous() bool { return c.Position.Kind == Multiple }

// Classify applies the fixed truth table.
func Classify(t Triplet) Classification {
	c := Classification{Triplet: t}
	switch t {
	case Triplet{false, false, false}:
		c.Position = Position{Kind: Lost}
	case Triplet{false, false, true}:
		c.Position, c.Confidence = Position{Right, 1.0}, 0.9
	case Triplet{false, true, false}:
		c.Position, c.Confidence = Position{Center, 0}, 1.0
	case Triplet{false, true, true}:
		c.Position, c.Confidence = Position{Right, 0.5}, 0.8
	case Triplet{true, false, false}:
		c.Position, c.Confidence = Position{Left, -1.0}, 0.9
	case Triplet{true, true, false}:
		c.Position, c.Confidence = Position{Left, -0.5}, 0.8
	case Triplet{true, true, true}:
		c.Position, c.Confidence = Position{Center, 0}, 0.7
	case Triplet{true, false, true}:
		c.Position, c.Confidence = Position{Kind: Multiple}, 0.5
	}
	return c
}

// Stabilizer holds back a changed classification until it has repeated for
// StableCount consecutive ticks.
type Stabilizer struct {
	stableCount int

	reported     Classification
	haveReported bool

	candidate Classification
	count     int
}

// NewStabilizer returns a Stabilizer. stableCount below 1 is treated as 1.
func NewStabilizer(stableCount int) *Stabilizer {
	return &Stabilizer{stableCount: max(stableCount, 1)}
}

// StableCountFromRobot reads the stabilization window from the robot config.
func StableCountFromRobot(c *config.RobotConfig) int { return c.GetStableCount() }

// Update feeds one raw classification and returns the reported one.
func (s *Stabilizer) Update(c Classification) Classification {
	switch {
	case !s.haveReported:
		s.reported, s.haveReported = c, true
		s.count = 0
	case c.Position == s.reported.Position:
		s.reported = c
		s.count = 0
	default:
		if s.count > 0 && c.Position == s.candidate.Position {
			s.count++
		} else {
			s.candidate, s.count = c, 1
		}
		if s.count >= s.stableCount {
			s.reported = c
			s.count = 0
		}
	}
	return s.reported
}

// Reported returns the current reported classification.
func (s *Stabilizer) Reported() (Classification, bool) {
	return s.reported, s.haveReported
}

// Reset forgets all history.
func (s *Stabilizer) Reset() {
	*s = Stabilizer{stableCount: s.stableCount}
}
