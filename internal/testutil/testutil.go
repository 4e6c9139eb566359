// Package testutil provides shared test fakes and helpers.
//
// The fakes stand in for the hardware collaborators so the control loop,
// bridge and API can be exercised without a robot.
package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/banshee-data/rover/internal/indicator"
	"github.com/banshee-data/rover/internal/line"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Probe is one scripted distance probe. OK false is a missing echo.
type Probe struct {
	Cm float64
	OK bool
}

// Echo is a successful probe.
func Echo(cm float64) Probe { return Probe{Cm: cm, OK: true} }

// NoEcho is a missing probe.
var NoEcho = Probe{}

// ScriptedDistance replays probes in order and then repeats the last one.
// Set Block to make every read wait for ctx.
type ScriptedDistance struct {
	mu     sync.Mutex
	probes []Probe
	next   int
	calls  int
	Block  bool
}

// NewScriptedDistance returns a sensor that replays probes.
func NewScriptedDistance(probes ...Probe) *ScriptedDistance {
	return &ScriptedDistance{probes: probes}
}

// Constant is a sensor that always reads cm.
func Constant(cm float64) *ScriptedDistance { return NewScriptedDistance(Echo(cm)) }

// Set replaces the script.
func (s *ScriptedDistance) Set(probes ...Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes, s.next = probes, 0
}

// SetBlocking toggles whether reads hang until their context ends.
func (s *ScriptedDistance) SetBlocking(b bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Block = b
}

// Calls reports how many reads were made.
func (s *ScriptedDistance) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *ScriptedDistance) ReadDistanceSample(ctx context.Context) (float64, bool) {
	s.mu.Lock()
	s.calls++
	block := s.Block
	var p Probe
	if len(s.probes) > 0 {
		p = s.probes[min(s.next, len(s.probes)-1)]
		s.next++
	}
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return 0, false
	}
	return p.Cm, p.OK
}

// ErrLineRead is returned by a ScriptedLine with Fail set.
var ErrLineRead = errors.New("line sensor read failed")

// ScriptedLine returns each triplet in order for PerTick reads (the majority
// window), then repeats the last one.
type ScriptedLine struct {
	mu       sync.Mutex
	triplets []line.Triplet
	PerTick  int
	reads    int
	Fail     bool
}

// NewScriptedLine returns a sensor whose nth tick sees triplets[n] on every
// one of its perTick reads.
func NewScriptedLine(perTick int, triplets ...line.Triplet) *ScriptedLine {
	return &ScriptedLine{triplets: triplets, PerTick: max(perTick, 1)}
}

// Set replaces the script and restarts it.
func (s *ScriptedLine) Set(triplets ...line.Triplet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triplets, s.reads = triplets, 0
}

// SetFail toggles read failures.
func (s *ScriptedLine) SetFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail = fail
}

func (s *ScriptedLine) ReadLineTriplet(ctx context.Context) (line.Triplet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return line.Triplet{}, ErrLineRead
	}
	if len(s.triplets) == 0 {
		return line.Triplet{}, nil
	}
	i := min(s.reads/s.PerTick, len(s.triplets)-1)
	s.reads++
	return s.triplets[i], nil
}

// WheelCommand is one ApplyMotorCommand call.
type WheelCommand struct {
	Left, Right int
}

// RecordingMotors records every command. Set FailWith to make calls fail.
type RecordingMotors struct {
	mu       sync.Mutex
	commands []WheelCommand
	FailWith error
	// FailOnlyMoving fails only non-zero commands, so the STOP that follows
	// an actuator fault succeeds.
	FailOnlyMoving bool
}

func (m *RecordingMotors) ApplyMotorCommand(left, right int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, WheelCommand{left, right})
	if m.FailWith != nil && (!m.FailOnlyMoving || left != 0 || right != 0) {
		return m.FailWith
	}
	return nil
}

// SetFail sets or clears the failure.
func (m *RecordingMotors) SetFail(err error, onlyMoving bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWith, m.FailOnlyMoving = err, onlyMoving
}

// Commands returns a copy of everything applied so far.
func (m *RecordingMotors) Commands() []WheelCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WheelCommand(nil), m.commands...)
}

// Last returns the most recent command.
func (m *RecordingMotors) Last() (WheelCommand, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.commands) == 0 {
		return WheelCommand{}, false
	}
	return m.commands[len(m.commands)-1], true
}

// RecordingDisplay records indicator calls.
type RecordingDisplay struct {
	mu       sync.Mutex
	states   []indicator.State
	patterns []indicator.Pattern
}

func (d *RecordingDisplay) SetStatusIndicator(s indicator.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = append(d.states, s)
	return nil
}

func (d *RecordingDisplay) StartIndicatorPattern(p indicator.Pattern, _ indicator.Params) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = append(d.patterns, p)
	return nil
}

// States returns the states shown so far.
func (d *RecordingDisplay) States() []indicator.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]indicator.State(nil), d.states...)
}

// Patterns returns the patterns started so far.
func (d *RecordingDisplay) Patterns() []indicator.Pattern {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]indicator.Pattern(nil), d.patterns...)
}
