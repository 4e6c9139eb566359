package arbiter

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/line"
	"github.com/banshee-data/rover/internal/obstacle"
	"github.com/banshee-data/rover/internal/rotary"
)

// Config tunes command speeds.
type Config struct {
	NominalSpeed       int
	SearchSpeed        int
	TurnSlowdown       float64 // fraction of nominal speed shed at |offset| = 1
	SharpTurnOffset    float64 // |offset| at or above which line following pivots
	CautionAttenuation float64 // speed cap as a fraction of nominal under CAUTION
	WarningAttenuation float64 // same for WARNING and transient ERROR
}

// ConfigFromRobot builds an arbiter Config from the robot configuration.
func ConfigFromRobot(c *config.RobotConfig) Config {
	return Config{
		NominalSpeed:       c.GetNominalSpeed(),
		SearchSpeed:        c.GetSearchSpeed(),
		TurnSlowdown:       c.GetTurnSlowdown(),
		SharpTurnOffset:    c.GetSharpTurnOffset(),
		CautionAttenuation: c.GetCautionAttenuation(),
		WarningAttenuation: c.GetWarningAttenuation(),
	}
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config { return ConfigFromRobot(config.EmptyRobotConfig()) }

func (c Config) speedCap(att float64) int { return int(math.Round(float64(c.NominalSpeed) * att)) }

// Inputs is everything the arbiter looks at for one tick.
type Inputs struct {
	Emergency bool
	Running   bool
	Risk      obstacle.Assessment
	Plan      obstacle.Plan
	Rotary    rotary.Decision
	Line      line.Classification // stabilized
	// LastTurn is the steering side of the most recent off-center line
	// reading; SEARCH pivots that way.
	LastTurn Turn
	Now      time.Time
}

// Decide returns exactly one command. The first matching rule wins.
func Decide(in Inputs, cfg Config) Command {
	if in.Emergency {
		return StopCommand(Emergency, SourceControl, "emergency stop latched", in.Now)
	}
	if !in.Running {
		return StopCommand(Idle, SourceControl, "stopped", in.Now)
	}

	switch {
	case in.Risk.Level == obstacle.Danger:
		return StopCommand(Emergency, SourceObstacle,
			fmt.Sprintf("obstacle at %.1fcm", in.Risk.DistanceCm), in.Now)
	case in.Risk.Level == obstacle.Error && in.Risk.Escalated:
		return StopCommand(Emergency, SourceObstacle, "distance sensor degraded", in.Now)
	case in.Risk.Level == obstacle.Warning || in.Risk.Level == obstacle.Caution:
		return avoid(in, cfg)
	case in.Risk.Level == obstacle.Error:
		cmd := motion(in, cfg)
		cmd.Speed = min(cmd.Speed, cfg.speedCap(cfg.WarningAttenuation))
		cmd.Priority, cmd.Source = ObstacleAvoidance, SourceObstacle
		cmd.Reason = "distance unavailable, " + cmd.Reason
		return cmd
	}
	return motion(in, cfg)
}

func avoid(in Inputs, cfg Config) Command {
	turn := fromSide(in.Plan.Turn)
	cmd := Command{
		Priority:   ObstacleAvoidance,
		Source:     SourceObstacle,
		Confidence: 1,
		Timestamp:  in.Now,
		Reason:     fmt.Sprintf("%s at %.1fcm", in.Plan.Strategy, in.Risk.DistanceCm),
	}
	warnCap := cfg.speedCap(cfg.WarningAttenuation)

	switch in.Plan.Strategy {
	case obstacle.ReverseAndTurn:
		cmd.Action, cmd.Turn, cmd.Speed = ReverseArc, turn, min(in.Plan.Speed, warnCap)
	case obstacle.RouteAround:
		cmd.Action, cmd.Turn, cmd.Speed = Arc, turn, min(in.Plan.Speed, warnCap)
	case obstacle.SlowAndSteer:
		base := motion(in, cfg)
		speed := int(math.Round(float64(base.Speed) * in.Plan.SpeedFactor))
		cmd.Action, cmd.Turn = base.Action, base.Turn
		cmd.Speed = min(speed, cfg.speedCap(cfg.CautionAttenuation))
		cmd.Confidence = base.Confidence
	default:
		// RESUME_NORMAL under WARNING/CAUTION does not come out of the
		// selector; treat anything else as a stop.
		return StopCommand(Emergency, SourceObstacle, "unexpected plan "+in.Plan.Strategy.String(), in.Now)
	}
	if cmd.Turn == Straight && cmd.Action == Arc {
		cmd.Action = Forward
	}
	return cmd
}

// motion is rules 4 to 6: rotary steering, line following, search.
func motion(in Inputs, cfg Config) Command {
	if in.Rotary.State.Active() {
		turn := steerToward(in.Rotary.Direction)
		cmd := Command{
			Action:     Arc,
			Turn:       turn,
			Speed:      in.Rotary.Speed,
			Priority:   Rotary,
			Source:     SourceRotary,
			Confidence: in.Rotary.Confidence,
			Timestamp:  in.Now,
			Reason:     fmt.Sprintf("%s %s", in.Rotary.State, in.Rotary.Direction),
		}
		if turn == Straight {
			cmd.Action = Forward
		}
		return cmd
	}

	if pos := in.Line.Position; pos.Steerable() {
		return follow(pos, in.Line.Confidence, in.Now, cfg)
	}

	turn := in.LastTurn
	if turn == Straight {
		turn = Right
	}
	return Command{
		Action:     Search,
		Turn:       turn,
		Speed:      cfg.SearchSpeed,
		Priority:   PrioritySearch,
		Source:     SourceSearch,
		Confidence: 0.5,
		Timestamp:  in.Now,
		Reason:     "line " + in.Line.Position.Kind.String(),
	}
}

func follow(pos line.Position, conf float64, now time.Time, cfg Config) Command {
	mag := math.Abs(pos.Offset)
	cmd := Command{
		Action:     Forward,
		Turn:       SteerFor(pos),
		Speed:      int(math.Round(float64(cfg.NominalSpeed) * (1 - cfg.TurnSlowdown*mag))),
		Priority:   LineFollowing,
		Source:     SourceLine,
		Confidence: conf,
		Timestamp:  now,
		Reason:     pos.String(),
	}
	switch {
	case cmd.Turn == Straight:
	case mag >= cfg.SharpTurnOffset:
		cmd.Action = Pivot
	default:
		cmd.Action = Arc
	}
	return cmd
}

// SteerFor maps a line position to a steering side. The sensor bar reads the
// line on the side opposite the drift, so a LEFT reading steers right.
func SteerFor(pos line.Position) Turn {
	switch {
	case !pos.Steerable() || pos.Offset == 0:
		return Straight
	case pos.Offset < 0:
		return Right
	default:
		return Left
	}
}

func steerToward(d rotary.Direction) Turn {
	switch d {
	case rotary.Left:
		return Right
	case rotary.Right:
		return Left
	case rotary.Straight:
		return Straight
	}
	return Straight
}

func fromSide(s obstacle.Side) Turn {
	switch s {
	case obstacle.TurnLeft:
		return Left
	case obstacle.TurnRight:
		return Right
	case obstacle.NoSide:
		return Straight
	}
	return Straight
}
