package control

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// RunState is the engine's control state.
type RunState uint8

const (
	Stopped RunState = iota
	Running
	Emergency
)

var runStateNames = [...]string{Stopped: "STOPPED", Running: "RUNNING", Emergency: "EMERGENCY"}

func (s RunState) String() string {
	if int(s) < len(runStateNames) {
		return runStateNames[s]
	}
	return fmt.Sprintf("RunState(%d)", uint8(s))
}

func (s RunState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ErrEmergencyLatched is returned by Start while EMERGENCY is set.
var ErrEmergencyLatched = errors.New("emergency stop latched: restart first")

// StateView is a consistent copy of the StateCell.
type StateView struct {
	State  RunState  `json:"state"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since"`
	// Generation increments on every transition.
	Generation uint64 `json:"generation"`
}

// StateCell is the only writer of the run state. All transitions go through
// its methods, which are safe for concurrent use.
type StateCell struct {
	mu   sync.Mutex
	view StateView
	now  func() time.Time
}

func newStateCell(now func() time.Time) *StateCell {
	return &StateCell{view: StateView{State: Stopped, Since: now()}, now: now}
}

// Load returns the current view.
func (c *StateCell) Load() StateView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *StateCell) set(s RunState, reason string) StateView {
	prev := c.view
	c.view = StateView{State: s, Reason: reason, Since: c.now(), Generation: prev.Generation + 1}
	return prev
}

// start moves STOPPED to RUNNING. It reports whether a transition happened.
func (c *StateCell) start(reason string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.view.State {
	case Emergency:
		return false, ErrEmergencyLatched
	case Running:
		return false, nil
	}
	c.set(Running, reason)
	return true, nil
}

// stop moves RUNNING to STOPPED. EMERGENCY is left in place.
func (c *StateCell) stop(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view.State != Running {
		return false
	}
	c.set(Stopped, reason)
	return true
}

// trip latches EMERGENCY from any state. The first reason is kept.
func (c *StateCell) trip(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view.State == Emergency {
		return false
	}
	c.set(Emergency, reason)
	return true
}

// clear moves any state to STOPPED.
func (c *StateCell) clear(reason string) RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.set(Stopped, reason)
	return prev.State
}
