package obstacle

import (
	"fmt"
	"math"

	"github.com/banshee-data/rover/internal/config"
)

// Strategy is the closed set of avoidance maneuvers.
type Strategy uint8

const (
	ResumeNormal Strategy = iota
	ImmediateStop
	ReverseAndTurn
	SlowAndSteer
	RouteAround
)

var strategyNames = [...]string{
	ResumeNormal:   "RESUME_NORMAL",
	ImmediateStop:  "IMMEDIATE_STOP",
	ReverseAndTurn: "REVERSE_AND_TURN",
	SlowAndSteer:   "SLOW_AND_STEER",
	RouteAround:    "ROUTE_AROUND",
}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("Strategy(%d)", uint8(s))
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Strategies lists every strategy, for stats and metrics.
func Strategies() []Strategy {
	return []Strategy{ResumeNormal, ImmediateStop, ReverseAndTurn, SlowAndSteer, RouteAround}
}

// Side is a turn direction.
type Side uint8

const (
	NoSide Side = iota
	TurnLeft
	TurnRight
)

func (s Side) String() string {
	switch s {
	case TurnLeft:
		return "LEFT"
	case TurnRight:
		return "RIGHT"
	case NoSide:
		return "NONE"
	}
	return fmt.Sprintf("Side(%d)", uint8(s))
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Context is the line and rotary situation the selector needs.
type Context struct {
	LineOffset    float64 // stabilized offset, negative = line on the left
	LineSteerable bool
	InRotary      bool // any rotary state other than NORMAL
	Trend         Trend
}

// Plan is the selector's output. Speed is a percentage for the reversing and
// routing maneuvers; SpeedFactor scales the line-following speed for
// SLOW_AND_STEER.
type Plan struct {
	Strategy    Strategy `json:"strategy"`
	Turn        Side     `json:"turn"`
	Speed       int      `json:"speed"`
	SpeedFactor float64  `json:"speed_factor"`
}

// SelectorConfig tunes the selector.
type SelectorConfig struct {
	Bands            Bands
	ReverseSpeed     int
	RouteAroundSpeed int
	CautionMinFactor float64
	DefaultTurn      Side
}

// SelectorConfigFromRobot builds a SelectorConfig from the robot configuration.
func SelectorConfigFromRobot(c *config.RobotConfig) SelectorConfig {
	turn := TurnRight
	if c.GetDefaultAvoidTurn() == "left" {
		turn = TurnLeft
	}
	return SelectorConfig{
		Bands:            BandsFromRobot(c),
		ReverseSpeed:     c.GetReverseSpeed(),
		RouteAroundSpeed: c.GetRouteAroundSpeed(),
		CautionMinFactor: c.GetCautionMinFactor(),
		DefaultTurn:      turn,
	}
}

// DefaultSelectorConfig returns the built-in tuning.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfigFromRobot(config.EmptyRobotConfig())
}

// Select maps an assessment and its context to a maneuver.
func Select(a Assessment, ctx Context, cfg SelectorConfig) Plan {
	switch a.Level {
	case Danger:
		return Plan{Strategy: ImmediateStop}
	case Error:
		if a.Escalated {
			return Plan{Strategy: ImmediateStop}
		}
		return Plan{Strategy: ResumeNormal, SpeedFactor: 1}
	case Warning:
		turn := awayFromBias(ctx, cfg.DefaultTurn)
		if ctx.InRotary {
			return Plan{Strategy: RouteAround, Turn: turn, Speed: cfg.RouteAroundSpeed}
		}
		speed := cfg.ReverseSpeed
		if ctx.Trend != Approaching {
			speed = int(math.Round(float64(speed) * 0.75))
		}
		return Plan{Strategy: ReverseAndTurn, Turn: turn, Speed: speed}
	case Caution:
		depth := cfg.Bands.CautionDepth(a.DistanceCm)
		return Plan{Strategy: SlowAndSteer, SpeedFactor: 1 - depth*(1-cfg.CautionMinFactor)}
	case Safe:
		return Plan{Strategy: ResumeNormal, SpeedFactor: 1}
	}
	return Plan{Strategy: ImmediateStop}
}

func awayFromBias(ctx Context, fallback Side) Side {
	if !ctx.LineSteerable || ctx.LineOffset == 0 {
		return fallback
	}
	if ctx.LineOffset < 0 {
		return TurnRight
	}
	return TurnLeft
}
