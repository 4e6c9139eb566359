// Package obstacle classifies filtered distance into a risk level and picks
// an avoidance maneuver for it.
package obstacle

import (
	"fmt"

	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/distance"
)

// Level is the closed set of obstacle risk levels.
type Level uint8

const (
	Safe Level = iota
	Caution
	Warning
	Danger
	// Error means the distance cannot be trusted this tick.
	Error
)

var levelNames = [...]string{Safe: "SAFE", Caution: "CAUTION", Warning: "WARNING", Danger: "DANGER", Error: "ERROR"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("Level(%d)", uint8(l))
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Severity orders levels for comparison. Error ranks above Warning and below
// Danger; an escalated Error is handled as Danger by the selector.
func (l Level) Severity() int {
	switch l {
	case Safe:
		return 0
	case Caution:
		return 1
	case Warning:
		return 2
	case Error:
		return 3
	case Danger:
		return 4
	}
	return 4
}

// Bands are the upper edges of the risk bands in cm. A distance exactly on an
// edge falls in the more severe band.
type Bands struct {
	Danger  float64
	Warning float64
	Caution float64
}

// BandsFromRobot reads the band edges from the robot configuration.
func BandsFromRobot(c *config.RobotConfig) Bands {
	return Bands{
		Danger:  c.GetDangerDistanceCm(),
		Warning: c.GetWarningDistanceCm(),
		Caution: c.GetCautionDistanceCm(),
	}
}

// Assessment is the risk classifier's output.
type Assessment struct {
	Level      Level   `json:"level"`
	DistanceCm float64 `json:"distance_cm"`
	// Escalated marks an Error caused by sustained sensor failure. It must be
	// handled as conservatively as Danger.
	Escalated bool `json:"escalated"`
}

// Classify is a pure function of the reading and the sensor health.
func Classify(r distance.Reading, h distance.Health, b Bands) Assessment {
	if h.Degraded {
		return Assessment{Level: Error, DistanceCm: r.ValueCm, Escalated: true}
	}
	if !r.Valid {
		return Assessment{Level: Error}
	}
	a := Assessment{DistanceCm: r.ValueCm}
	switch d := r.ValueCm; {
	case d <= b.Danger:
		a.Level = Danger
	case d <= b.Warning:
		a.Level = Warning
	case d <= b.Caution:
		a.Level = Caution
	default:
		a.Level = Safe
	}
	return a
}

// CautionDepth reports how far d sits into the caution band: 0 at its outer
// edge, approaching 1 at the warning edge.
func (b Bands) CautionDepth(d float64) float64 {
	span := b.Caution - b.Warning
	if span <= 0 {
		return 1
	}
	depth := (b.Caution - d) / span
	switch {
	case depth < 0:
		return 0
	case depth > 1:
		return 1
	}
	return depth
}
