// Package arbiter turns one tick's sensor interpretation into exactly one
// robot command by strict priority.
package arbiter

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/rover/internal/fault"
)

// Action is the closed set of motion primitives.
type Action uint8

const (
	Stop Action = iota
	Forward
	Reverse
	Arc        // forward while turning
	Pivot      // rotate in place
	ReverseArc // reverse while turning
	Search     // pivot at search speed toward the last seen line
)

var actionNames = [...]string{
	Stop: "STOP", Forward: "FORWARD", Reverse: "REVERSE", Arc: "ARC",
	Pivot: "PIVOT", ReverseArc: "REVERSE_ARC", Search: "SEARCH",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// Turn is the steering side of an Arc, Pivot, ReverseArc or Search.
type Turn uint8

const (
	Straight Turn = iota
	Left
	Right
)

func (t Turn) String() string {
	switch t {
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	case Straight:
		return "STRAIGHT"
	}
	return fmt.Sprintf("Turn(%d)", uint8(t))
}

func (t Turn) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Priority is totally ordered; a larger value wins.
type Priority uint8

const (
	Idle Priority = iota
	PrioritySearch
	LineFollowing
	Rotary
	ObstacleAvoidance
	Emergency
)

var priorityNames = [...]string{
	Idle: "IDLE", PrioritySearch: "SEARCH", LineFollowing: "LINE_FOLLOWING",
	Rotary: "ROTARY", ObstacleAvoidance: "OBSTACLE_AVOIDANCE", Emergency: "EMERGENCY",
}

func (p Priority) String() string {
	if int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return fmt.Sprintf("Priority(%d)", uint8(p))
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Priorities lists every priority from highest to lowest.
func Priorities() []Priority {
	return []Priority{Emergency, ObstacleAvoidance, Rotary, LineFollowing, PrioritySearch, Idle}
}

// Source names the component that produced a command.
type Source string

const (
	SourceControl  Source = "control"
	SourceObstacle Source = "obstacle"
	SourceRotary   Source = "rotary"
	SourceLine     Source = "line"
	SourceSearch   Source = "search"
	SourceOperator Source = "operator"
)

// Command is produced fresh every tick and never reused.
type Command struct {
	Action     Action    `json:"action"`
	Turn       Turn      `json:"turn"`
	Speed      int       `json:"speed"`
	Priority   Priority  `json:"priority"`
	Source     Source    `json:"source"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason,omitempty"`
}

func (c Command) String() string {
	if c.Action == Stop {
		return fmt.Sprintf("STOP [%s/%s] %s", c.Priority, c.Source, c.Reason)
	}
	return fmt.Sprintf("%s %s @%d [%s/%s] conf=%.2f %s",
		c.Action, c.Turn, c.Speed, c.Priority, c.Source, c.Confidence, c.Reason)
}

// StopCommand is a full stop at the given priority.
func StopCommand(p Priority, src Source, reason string, at time.Time) Command {
	return Command{Action: Stop, Priority: p, Source: src, Confidence: 1, Timestamp: at, Reason: reason}
}

// Validate checks the command invariants. A violation is never corrected
// silently; the caller must abort the tick and stop.
func Validate(c Command) error {
	switch {
	case c.Speed < 0 || c.Speed > 100:
		return fault.Newf(fault.KindInvariantViolation, "validate command", "speed %d outside [0,100]", c.Speed)
	case c.Confidence < 0 || c.Confidence > 1 || math.IsNaN(c.Confidence):
		return fault.Newf(fault.KindInvariantViolation, "validate command", "confidence %v outside [0,1]", c.Confidence)
	case int(c.Action) >= len(actionNames):
		return fault.Newf(fault.KindInvariantViolation, "validate command", "unknown action %d", c.Action)
	case int(c.Priority) >= len(priorityNames):
		return fault.Newf(fault.KindInvariantViolation, "validate command", "unknown priority %d", c.Priority)
	case c.Action == Stop && c.Speed != 0:
		return fault.Newf(fault.KindInvariantViolation, "validate command", "stop with speed %d", c.Speed)
	case c.Timestamp.IsZero():
		return fault.Newf(fault.KindInvariantViolation, "validate command", "missing timestamp")
	}
	return nil
}
