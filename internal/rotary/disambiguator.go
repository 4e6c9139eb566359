// Package rotary detects rotary (loop) segments from rapidly alternating line
// readings and resolves them with a frequency-weighted vote.
//
// The disambiguator only ever sees the line classifier's raw output. It never
// looks at distance.
package rotary

import (
	"fmt"
	"time"

	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/line"
)

// entryWindow is how many observations must alternate to suspect a rotary.
const entryWindow = 6

// State is the closed set of rotary states.
type State uint8

const (
	Normal State = iota
	Entering
	InRotary
	Exiting
)

var stateNames = [...]string{Normal: "NORMAL", Entering: "ENTERING_ROTARY", InRotary: "IN_ROTARY", Exiting: "EXITING_ROTARY"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Active reports any state other than Normal.
func (s State) Active() bool {
	switch s {
	case Entering, InRotary, Exiting:
		return true
	case Normal:
		return false
	}
	return false
}

// Direction is the side the line is on, as decided by the vote.
type Direction uint8

const (
	Straight Direction = iota
	Left
	Right
)

var directionNames = [...]string{Straight: "STRAIGHT", Left: "LEFT", Right: "RIGHT"}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Decision is the disambiguator's per-tick output.
type Decision struct {
	State      State     `json:"state"`
	Direction  Direction `json:"direction"`
	Committed  bool      `json:"committed"` // the vote cleared the threshold
	Confidence float64   `json:"confidence"`
	Speed      int       `json:"speed"`
	LeftScore  float64   `json:"left_score"`
	RightScore float64   `json:"right_score"`
}

// Config tunes the disambiguator.
type Config struct {
	Window            int
	Threshold         float64
	RunBonus          float64
	RunBonusMin       int
	ExitStableCount   int
	ExitCooldown      int
	ExitMinConfidence float64
	EnterAbortCount   int
	MaxObservations   int

	EnterSpeed    int
	CommitSpeed   int
	FallbackSpeed int
	ExitSpeed     int
}

// ConfigFromRobot builds a rotary Config from the robot configuration.
func ConfigFromRobot(c *config.RobotConfig) Config {
	return Config{
		Window:            c.GetRotaryWindow(),
		Threshold:         c.GetRotaryThreshold(),
		RunBonus:          c.GetRotaryRunBonus(),
		RunBonusMin:       c.GetRotaryRunBonusMin(),
		ExitStableCount:   c.GetExitStableCount(),
		ExitCooldown:      c.GetExitCooldown(),
		ExitMinConfidence: c.GetExitMinConfidence(),
		EnterAbortCount:   c.GetEnterAbortCount(),
		MaxObservations:   c.GetRotaryMaxObservations(),
		EnterSpeed:        c.GetRotaryEnterSpeed(),
		CommitSpeed:       c.GetRotaryCommitSpeed(),
		FallbackSpeed:     c.GetRotaryFallbackSpeed(),
		ExitSpeed:         c.GetRotaryExitSpeed(),
	}
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config { return ConfigFromRobot(config.EmptyRobotConfig()) }

// Disambiguator owns the observation history and the rotary state machine.
// It is confined to the control loop goroutine.
type Disambiguator struct {
	cfg  Config
	hist *History

	state State

	sinceNormal  int // observations since last entering Normal
	enterMisses  int
	rotaryTicks  int
	centerStreak int
	cooldown     int
	exitSide     Direction
	exitSideSeen bool
}

// New returns a Disambiguator in Normal.
func New(cfg Config) *Disambiguator {
	return &Disambiguator{cfg: cfg, hist: NewHistory(cfg.Window)}
}

// State returns the current state.
func (d *Disambiguator) State() State { return d.state }

// History exposes the observation ring, oldest first.
func (d *Disambiguator) History() []Observation { return d.hist.All() }

// Reset returns to Normal with an empty history.
func (d *Disambiguator) Reset() {
	*d = Disambiguator{cfg: d.cfg, hist: d.hist}
	d.hist.Reset()
}

// Observe records one raw classification, advances the state machine and
// returns this tick's decision.
func (d *Disambiguator) Observe(c line.Classification, at time.Time) Decision {
	obs := Observation{Position: c.Position, Confidence: c.Confidence, Triplet: c.Triplet, At: at}
	d.hist.Push(obs)
	d.sinceNormal++
	d.advance(obs)
	return d.decide(obs)
}

func (d *Disambiguator) advance(obs Observation) {
	switch d.state {
	case Normal:
		if d.sinceNormal >= entryWindow && Alternating(d.hist.Last(entryWindow)) {
			d.enter(Entering)
		}

	case Entering:
		if obs.Position.Kind == line.Multiple || Alternating(d.hist.Last(entryWindow)) {
			d.enter(InRotary)
			return
		}
		d.enterMisses++
		if d.enterMisses >= d.cfg.EnterAbortCount {
			d.enter(Normal)
		}

	case InRotary:
		d.rotaryTicks++
		if obs.Position.Kind == line.Center && obs.Confidence >= d.cfg.ExitMinConfidence {
			d.centerStreak++
		} else {
			d.centerStreak = 0
		}
		if d.centerStreak >= d.cfg.ExitStableCount || d.rotaryTicks >= d.cfg.MaxObservations {
			d.enter(Exiting)
		}

	case Exiting:
		side, ok := obs.side()
		switch {
		case obs.Position.Kind == line.Multiple:
			d.cooldown = 0
		case ok && side != Straight && d.exitSideSeen && side != d.exitSide:
			d.enter(InRotary)
		default:
			if ok && side != Straight {
				d.exitSide, d.exitSideSeen = side, true
			}
			d.cooldown++
			if d.cooldown >= d.cfg.ExitCooldown {
				d.enter(Normal)
			}
		}
	}
}

func (d *Disambiguator) enter(s State) {
	d.state = s
	d.enterMisses = 0
	d.rotaryTicks = 0
	d.centerStreak = 0
	d.cooldown = 0
	d.exitSideSeen = false
	if s == Normal {
		d.sinceNormal = 0
	}
}

func (d *Disambiguator) decide(obs Observation) Decision {
	dec := Decision{State: d.state}
	switch d.state {
	case Normal:
		dec.Direction, _ = obs.side()
		dec.Confidence = obs.Confidence
	case Entering, InRotary:
		v := Vote(d.hist.Last(d.cfg.Window), d.cfg)
		dec.Direction, dec.Committed = v.Direction, v.Committed
		dec.LeftScore, dec.RightScore = v.Left, v.Right
		if v.Committed {
			dec.Confidence = min(max(v.Left, v.Right), 1)
			dec.Speed = d.cfg.CommitSpeed
		} else {
			dec.Confidence = 0.5
			dec.Speed = d.cfg.FallbackSpeed
		}
		if d.state == Entering {
			dec.Speed = min(dec.Speed, d.cfg.EnterSpeed)
		}
	case Exiting:
		dec.Direction, _ = obs.side()
		dec.Confidence = obs.Confidence
		dec.Speed = d.cfg.ExitSpeed
	}
	// The current input is unresolved; whatever the window says, trust it less.
	if obs.Position.Kind == line.Multiple && d.state.Active() {
		dec.Confidence = 0.5
	}
	return dec
}

// Alternating reports whether obs is made only of LEFT/RIGHT readings with at
// most one repeat between neighbours.
func Alternating(obs []Observation) bool {
	if len(obs) < 2 {
		return false
	}
	repeats := 0
	for i, o := range obs {
		if o.Position.Kind != line.Left && o.Position.Kind != line.Right {
			return false
		}
		if i > 0 && o.Position.Kind == obs[i-1].Position.Kind {
			repeats++
		}
	}
	return repeats <= 1
}

// VoteResult is the outcome of a window vote.
type VoteResult struct {
	Direction Direction
	Committed bool
	Left      float64 // weighted share
	Right     float64
}

// Vote computes LEFT and RIGHT shares over window, adds the run bonus to the
// direction of the trailing run, and commits when a weighted share exceeds
// the threshold. Otherwise it falls back to the most recent directional
// observation. The shares depend only on counts, so reordering entries can
// change the bonus but not the base vote.
func Vote(window []Observation, cfg Config) VoteResult {
	var res VoteResult
	if len(window) == 0 {
		return res
	}
	var left, right int
	for _, o := range window {
		switch o.Position.Kind {
		case line.Left:
			left++
		case line.Right:
			right++
		}
	}
	n := float64(len(window))
	res.Left, res.Right = float64(left)/n, float64(right)/n

	if run, dir := trailingRun(window); run >= cfg.RunBonusMin {
		switch dir {
		case Left:
			res.Left += cfg.RunBonus
		case Right:
			res.Right += cfg.RunBonus
		}
	}

	switch {
	case res.Left > cfg.Threshold && res.Left >= res.Right:
		res.Direction, res.Committed = Left, true
	case res.Right > cfg.Threshold:
		res.Direction, res.Committed = Right, true
	default:
		res.Direction = lastSide(window)
	}
	return res
}

func trailingRun(window []Observation) (int, Direction) {
	last := window[len(window)-1].Position.Kind
	if last != line.Left && last != line.Right {
		return 0, Straight
	}
	run := 0
	for i := len(window) - 1; i >= 0 && window[i].Position.Kind == last; i-- {
		run++
	}
	if last == line.Left {
		return run, Left
	}
	return run, Right
}

func lastSide(window []Observation) Direction {
	for i := len(window) - 1; i >= 0; i-- {
		if side, ok := window[i].side(); ok {
			return side
		}
	}
	return Straight
}
