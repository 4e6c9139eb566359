// Package control runs the fixed-period control loop: it samples the sensors,
// runs the fusion pipeline, arbitrates one command and applies it.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/rover/internal/arbiter"
	"github.com/banshee-data/rover/internal/command"
	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/distance"
	"github.com/banshee-data/rover/internal/drive"
	"github.com/banshee-data/rover/internal/fault"
	"github.com/banshee-data/rover/internal/indicator"
	"github.com/banshee-data/rover/internal/line"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/obstacle"
	"github.com/banshee-data/rover/internal/rotary"
	"github.com/banshee-data/rover/internal/timeutil"
)

var (
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("control loop already running")
	// ErrBusy is returned by Submit when the request queue is full.
	ErrBusy = errors.New("control request queue full")
)

const (
	requestQueueSize   = 8
	indicatorQueueSize = 4
	// sampleBudget is the share of the tick period distance probing may use.
	sampleBudget = 0.6
)

// Options wires an Engine. Distance, Line and Motors are required.
type Options struct {
	Config    *config.RobotConfig
	Distance  DistanceSensor
	Line      LineSensor
	Motors    MotorDriver
	Display   indicator.Display
	Clock     timeutil.Clock
	Observers []Observer
}

// Engine is the control loop and its operator surface.
type Engine struct {
	clock     timeutil.Clock
	dist      DistanceSensor
	lineIn    LineSensor
	motors    MotorDriver
	updater   *indicator.Updater
	observers []Observer

	period        time.Duration
	sampleTimeout time.Duration
	sampleCount   int
	lineSamples   int

	filter  *distance.Filter
	stab    *line.Stabilizer
	rot     *rotary.Disambiguator
	tracker *obstacle.Tracker
	bands   obstacle.Bands
	selCfg  obstacle.SelectorConfig
	arbCfg  arbiter.Config
	mixer   *drive.Mixer

	state          *StateCell
	requests       chan command.Op
	wake           chan struct{}
	recoverPending atomic.Bool
	looping        atomic.Bool
	droppedReqs    atomic.Uint64
	published      atomic.Pointer[loopStats]

	// Owned by the loop goroutine.
	seq        uint64
	lastTurn   arbiter.Turn
	lastRotary rotary.State
	degraded   bool
	started    time.Time
	perf       PerfStats
	faults     map[fault.Kind]uint64
	samples    []distance.Sample
}

// New validates the configuration and builds an Engine in STOPPED.
func New(opts Options) (*Engine, error) {
	if opts.Distance == nil || opts.Line == nil || opts.Motors == nil {
		return nil, errors.New("control: distance sensor, line sensor and motor driver are required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.EmptyRobotConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("control: invalid config: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	e := &Engine{
		clock:         clock,
		dist:          opts.Distance,
		lineIn:        opts.Line,
		motors:        opts.Motors,
		observers:     opts.Observers,
		period:        cfg.GetTickPeriod(),
		sampleTimeout: cfg.GetSampleTimeout(),
		sampleCount:   cfg.GetSampleCount(),
		lineSamples:   cfg.GetLineSampleCount(),
		filter:        distance.NewFilter(distance.ConfigFromRobot(cfg)),
		stab:          line.NewStabilizer(line.StableCountFromRobot(cfg)),
		rot:           rotary.New(rotary.ConfigFromRobot(cfg)),
		tracker:       obstacle.TrackerFromRobot(cfg),
		bands:         obstacle.BandsFromRobot(cfg),
		selCfg:        obstacle.SelectorConfigFromRobot(cfg),
		arbCfg:        arbiter.ConfigFromRobot(cfg),
		mixer:         drive.MixerFromRobot(cfg),
		state:         newStateCell(clock.Now),
		requests:      make(chan command.Op, requestQueueSize),
		wake:          make(chan struct{}, 1),
		faults:        make(map[fault.Kind]uint64),
	}
	if opts.Display != nil {
		e.updater = indicator.NewUpdater(opts.Display, indicatorQueueSize)
	}
	return e, nil
}

// Period is the configured tick period.
func (e *Engine) Period() time.Duration { return e.period }

// Start moves STOPPED to RUNNING. It fails while EMERGENCY is latched.
func (e *Engine) Start() error {
	changed, err := e.state.start("operator start")
	if err != nil {
		return err
	}
	if changed {
		monitoring.Opsf("[control] RUNNING")
		e.emit(Event{Kind: EventState, Message: "STOPPED -> RUNNING"})
		e.poke()
	}
	return nil
}

// Stop moves RUNNING to STOPPED. The next tick issues STOP.
func (e *Engine) Stop() {
	if e.state.stop("operator stop") {
		monitoring.Opsf("[control] STOPPED")
		e.emit(Event{Kind: EventState, Message: "RUNNING -> STOPPED"})
		e.poke()
	}
}

// EmergencyStop latches EMERGENCY and wakes the loop so STOP is applied
// without waiting for the next period. Safe from any goroutine.
func (e *Engine) EmergencyStop(reason string) {
	if reason == "" {
		reason = "emergency stop"
	}
	if e.state.trip(reason) {
		monitoring.Opsf("[control] EMERGENCY: %s", reason)
		e.emit(Event{Kind: EventState, Message: "EMERGENCY: " + reason})
	}
	e.poke()
}

// Restart clears EMERGENCY to STOPPED and schedules sensor recovery: health
// back to full, line and rotary history cleared. Recovery runs on the loop
// goroutine before the next tick's reads.
func (e *Engine) Restart() error {
	prev := e.state.clear("restart")
	e.recoverPending.Store(true)
	monitoring.Opsf("[control] restart from %s", prev)
	e.emit(Event{Kind: EventState, Message: prev.String() + " -> STOPPED (restart)"})
	e.poke()
	return nil
}

// Submit queues an operator request for the loop without blocking.
// Emergency requests bypass the queue.
func (e *Engine) Submit(op command.Op) error {
	switch op {
	case command.OpEmergency:
		e.EmergencyStop("operator emergency stop")
		return nil
	case command.OpStart:
		if e.state.Load().State == Emergency {
			return ErrEmergencyLatched
		}
	case command.OpStop, command.OpRestart:
	case command.OpNone, command.OpStatus, command.OpHelp, command.OpQuit:
		return nil
	default:
		return fmt.Errorf("unsupported operation %s", op)
	}
	select {
	case e.requests <- op:
		e.poke()
		return nil
	default:
		e.droppedReqs.Add(1)
		return ErrBusy
	}
}

// StatusLine implements command.Controller.
func (e *Engine) StatusLine() string { return e.StatusSnapshot().StatusLine() }

// StatusSnapshot is safe from any goroutine.
func (e *Engine) StatusSnapshot() Snapshot {
	s := Snapshot{StateView: e.state.Load(), Health: e.filter.Health()}
	if ls := e.published.Load(); ls != nil {
		s.Last = ls.last
		s.Perf = ls.perf
		s.Avoidance = ls.avoidance
		s.Faults = ls.faults
	}
	s.Perf.DroppedReqs = e.droppedReqs.Load()
	if s.Faults == nil {
		s.Faults = map[string]uint64{}
	}
	return s
}

// Run owns the control loop until ctx is done. The indicator goroutine lives
// exactly as long as Run, and a final STOP reaches the motors before it is
// torn down.
func (e *Engine) Run(ctx context.Context) error {
	if !e.looping.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.looping.Store(false)

	auxCtx, cancelAux := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if e.updater != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.updater.Run(auxCtx)
		}()
	}
	defer func() {
		e.finalStop()
		cancelAux()
		wg.Wait()
	}()

	e.started = e.clock.Now()
	monitoring.Opsf("[control] loop started: period=%s samples=%d probe_timeout=%s",
		e.period, e.sampleCount, e.sampleTimeout)

	timer := e.clock.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			monitoring.Opsf("[control] loop stopping: %v", ctx.Err())
			return nil
		case <-timer.C():
		case <-e.wake:
		}

		rep := e.Step(ctx)
		if rep.Overrun {
			timer.Reset(0)
			continue
		}
		timer.Reset(e.period - rep.Duration)
	}
}

// poke wakes the loop without blocking.
func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.clock.Now()
	}
	for _, o := range e.observers {
		o.ObserveEvent(ev)
	}
}

func (e *Engine) drainRequests() {
	for {
		select {
		case op := <-e.requests:
			e.emit(Event{Kind: EventOperator, Message: op.String()})
			switch op {
			case command.OpStart:
				if err := e.Start(); err != nil {
					monitoring.Opsf("[control] start rejected: %v", err)
				}
			case command.OpStop:
				e.Stop()
			case command.OpRestart:
				_ = e.Restart()
			}
		default:
			return
		}
	}
}

func (e *Engine) finalStop() {
	e.state.stop("shutdown")
	if err := e.motors.ApplyMotorCommand(0, 0); err != nil {
		monitoring.Opsf("[control] final stop failed: %v", err)
		e.emit(Event{Kind: EventFault, Fault: fault.KindActuatorFault.String(), Message: "final stop: " + err.Error()})
		return
	}
	monitoring.Opsf("[control] final stop issued")
	e.emit(Event{Kind: EventState, Message: "shutdown"})
}
