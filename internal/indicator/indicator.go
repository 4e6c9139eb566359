// Package indicator drives the status light from a goroutine fed by the
// control loop through a bounded channel.
package indicator

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/rover/internal/monitoring"
)

// State is the robot condition shown on the indicator.
type State uint8

const (
	Idle State = iota
	Moving
	LineFollowing
	Rotary
	Obstacle
	Lost
	Error
	Shutdown
)

var stateNames = [...]string{
	Idle: "IDLE", Moving: "MOVING", LineFollowing: "LINE_FOLLOWING", Rotary: "ROTARY",
	Obstacle: "OBSTACLE", Lost: "LOST", Error: "ERROR", Shutdown: "SHUTDOWN",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseState is the inverse of String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown indicator state %q", name)
}

// Pattern is an animation the display can run.
type Pattern uint8

const (
	Solid Pattern = iota
	Blink
	Breathing
	Rainbow
)

var patternNames = [...]string{Solid: "solid", Blink: "blink", Breathing: "breathing", Rainbow: "rainbow"}

func (p Pattern) String() string {
	if int(p) < len(patternNames) {
		return patternNames[p]
	}
	return fmt.Sprintf("Pattern(%d)", uint8(p))
}

// ParsePattern is the inverse of String.
func ParsePattern(name string) (Pattern, error) {
	for i, n := range patternNames {
		if n == name {
			return Pattern(i), nil
		}
	}
	return 0, fmt.Errorf("unknown indicator pattern %q", name)
}

// Color is an RGB triple.
type Color struct {
	R, G, B uint8
}

// Params parameterize a pattern. Interval is the blink or breathing period.
type Params struct {
	Color    Color
	Interval time.Duration
}

// Display is the status light collaborator.
type Display interface {
	SetStatusIndicator(s State) error
	StartIndicatorPattern(p Pattern, params Params) error
}

// Colors for each state.
var stateColors = map[State]Color{
	Idle:          {0, 0, 50},
	Moving:        {0, 255, 0},
	LineFollowing: {0, 255, 255},
	Rotary:        {0, 80, 255},
	Obstacle:      {255, 255, 0},
	Lost:          {255, 100, 0},
	Error:         {255, 0, 0},
	Shutdown:      {100, 0, 100},
}

// Style is the pattern shown for a state.
func Style(s State) (Pattern, Params) {
	c := stateColors[s]
	switch s {
	case Error:
		return Blink, Params{Color: c, Interval: 200 * time.Millisecond}
	case Lost:
		return Blink, Params{Color: c, Interval: 500 * time.Millisecond}
	case Rotary:
		return Breathing, Params{Color: c, Interval: time.Second}
	}
	return Solid, Params{Color: c}
}

// ObstacleStyle is the distance-coded warning pattern.
func ObstacleStyle(distanceCm float64) (Pattern, Params) {
	switch {
	case distanceCm <= 10:
		return Blink, Params{Color: Color{255, 0, 0}, Interval: 200 * time.Millisecond}
	case distanceCm <= 20:
		return Breathing, Params{Color: Color{255, 100, 0}, Interval: 600 * time.Millisecond}
	case distanceCm <= 40:
		return Solid, Params{Color: Color{255, 255, 0}}
	}
	return Solid, Params{Color: Color{0, 255, 0}}
}

// Update is one message from the control loop.
type Update struct {
	State State
	// DistanceCm selects the obstacle warning pattern when State is
	// Obstacle.
	DistanceCm float64
}

// Updater owns the Display. Post never blocks; when the buffer is full the
// oldest pending update is discarded.
type Updater struct {
	display Display
	ch      chan Update
}

// NewUpdater returns an Updater with the given buffer size (at least 1).
func NewUpdater(d Display, buffer int) *Updater {
	return &Updater{display: d, ch: make(chan Update, max(buffer, 1))}
}

// Post queues an update. It reports false if an older update was dropped to
// make room.
func (u *Updater) Post(up Update) bool {
	select {
	case u.ch <- up:
		return true
	default:
	}
	select {
	case <-u.ch:
	default:
	}
	select {
	case u.ch <- up:
	default:
	}
	return false
}

// Run applies updates until ctx is done, then shows Shutdown. Updates that
// would not change the display are skipped.
func (u *Updater) Run(ctx context.Context) {
	u.apply(Rainbow, Params{Interval: 100 * time.Millisecond}, "startup")

	type shown struct {
		state   State
		pattern Pattern
		params  Params
	}
	var last shown
	have := false
	for {
		select {
		case <-ctx.Done():
			if err := u.display.SetStatusIndicator(Shutdown); err != nil {
				monitoring.Logf("[indicator] shutdown: %v", err)
			}
			p, params := Style(Shutdown)
			u.apply(p, params, Shutdown.String())
			return
		case up := <-u.ch:
			p, params := Style(up.State)
			if up.State == Obstacle {
				p, params = ObstacleStyle(up.DistanceCm)
			}
			next := shown{up.State, p, params}
			if have && next == last {
				continue
			}
			if !have || next.state != last.state {
				if err := u.display.SetStatusIndicator(up.State); err != nil {
					monitoring.Logf("[indicator] set %s: %v", up.State, err)
					continue
				}
			}
			last, have = next, true
			u.apply(p, params, up.State.String())
		}
	}
}

func (u *Updater) apply(p Pattern, params Params, what string) {
	if err := u.display.StartIndicatorPattern(p, params); err != nil {
		monitoring.Logf("[indicator] pattern %s for %s: %v", p, what, err)
	}
}
