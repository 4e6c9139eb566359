package control

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/banshee-data/rover/internal/arbiter"
	"github.com/banshee-data/rover/internal/distance"
	"github.com/banshee-data/rover/internal/drive"
	"github.com/banshee-data/rover/internal/fault"
	"github.com/banshee-data/rover/internal/indicator"
	"github.com/banshee-data/rover/internal/line"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/obstacle"
)

// Step runs exactly one tick: apply queued requests, read, decide, actuate,
// publish. It must only be called from one goroutine at a time; Run does so.
// Every return path has applied a command or a forced STOP.
func (e *Engine) Step(ctx context.Context) (rep *TickReport) {
	start := e.clock.Now()
	e.seq++
	rep = &TickReport{Seq: e.seq, At: start}

	defer func() {
		if r := recover(); r != nil {
			err := fault.Newf(fault.KindInvariantViolation, "tick", "panic: %v", r)
			monitoring.Opsf("[control] tick %d: %v\n%s", rep.Seq, err, debug.Stack())
			rep.Fault = err.Error()
			e.recordFault(err, start)
			rep.Command = arbiter.StopCommand(arbiter.Emergency, arbiter.SourceControl, "tick aborted", start)
			rep.Wheels = drive.Wheels{}
			if err := e.motors.ApplyMotorCommand(0, 0); err != nil {
				monitoring.Opsf("[control] forced stop after panic failed: %v", err)
			}
		}
		e.finish(rep, start)
	}()

	e.drainRequests()
	if e.recoverPending.CompareAndSwap(true, false) {
		e.resetPipeline()
	}

	res := e.filter.Process(e.sampleDistance(ctx, start), start)
	rep.Distance, rep.Health = res.Reading, res.Health
	e.countSamples(res.Reading)
	e.trackDegraded(res, start)

	tri, err := e.readLine(ctx)
	if err != nil {
		e.recordFault(err, start)
	}
	rep.RawLine = line.Classify(tri)
	rep.Line = e.stab.Update(rep.RawLine)
	if t := arbiter.SteerFor(rep.Line.Position); t != arbiter.Straight {
		e.lastTurn = t
	}

	rep.Rotary = e.rot.Observe(rep.RawLine, start)
	if rep.Rotary.State != e.lastRotary {
		msg := e.lastRotary.String() + " -> " + rep.Rotary.State.String()
		monitoring.Diagf("[rotary] %s", msg)
		e.emit(Event{At: start, Kind: EventRotary, Message: msg})
		e.lastRotary = rep.Rotary.State
	}

	rep.Risk = obstacle.Classify(res.Reading, res.Health, e.bands)
	rep.Outlook = e.tracker.Observe(rep.Risk)
	rep.Plan = obstacle.Select(rep.Risk, obstacle.Context{
		LineOffset:    rep.Line.Position.Offset,
		LineSteerable: rep.Line.Position.Steerable(),
		InRotary:      rep.Rotary.State.Active(),
		Trend:         rep.Outlook.Trend,
	}, e.selCfg)

	view := e.state.Load()
	rep.RunState = view.State
	rep.Command = arbiter.Decide(arbiter.Inputs{
		Emergency: view.State == Emergency,
		Running:   view.State == Running,
		Risk:      rep.Risk,
		Plan:      rep.Plan,
		Rotary:    rep.Rotary,
		Line:      rep.Line,
		LastTurn:  e.lastTurn,
		Now:       start,
	}, e.arbCfg)
	if view.State == Running {
		e.tracker.Record(rep.Plan)
	}

	if err := arbiter.Validate(rep.Command); err != nil {
		e.abort(rep, err, start)
	}
	e.actuate(rep, start)
	return rep
}

// abort replaces the tick's command with STOP and surfaces err.
func (e *Engine) abort(rep *TickReport, err error, at time.Time) {
	monitoring.Opsf("[control] tick %d aborted: %v", rep.Seq, err)
	rep.Fault = err.Error()
	e.recordFault(err, at)
	rep.Command = arbiter.StopCommand(arbiter.Emergency, arbiter.SourceControl, "tick aborted", at)
}

func (e *Engine) actuate(rep *TickReport, at time.Time) {
	// An emergency raised while this tick was deciding still wins.
	if rep.Command.Action != arbiter.Stop && e.state.Load().State == Emergency {
		rep.Command = arbiter.StopCommand(arbiter.Emergency, arbiter.SourceControl, "emergency stop latched", at)
	}

	w, err := e.mixer.Mix(rep.Command)
	if err != nil {
		e.abort(rep, err, at)
		w = drive.Wheels{}
	}
	rep.Wheels = w

	if err := e.motors.ApplyMotorCommand(w.Left, w.Right); err != nil {
		ferr := fault.New(fault.KindActuatorFault, "apply motor command", err)
		rep.Fault = ferr.Error()
		e.recordFault(ferr, at)
		e.EmergencyStop("actuator fault: " + err.Error())
		rep.Command = arbiter.StopCommand(arbiter.Emergency, arbiter.SourceControl, "actuator fault", at)
		rep.Wheels = drive.Wheels{}
		if !w.Stopped() {
			if err := e.motors.ApplyMotorCommand(0, 0); err != nil {
				monitoring.Opsf("[control] stop after actuator fault failed: %v", err)
			}
		}
	}
}

func (e *Engine) finish(rep *TickReport, start time.Time) {
	rep.Duration = e.clock.Since(start)
	rep.Overrun = rep.Duration > e.period

	e.perf.Ticks++
	e.perf.LastTick = rep.Duration
	e.perf.MaxTick = max(e.perf.MaxTick, rep.Duration)
	if rep.Overrun {
		e.perf.Overruns++
		monitoring.Opsf("[control] tick %d overran: %s > %s", rep.Seq, rep.Duration, e.period)
		e.emit(Event{At: start, Kind: EventOverrun, Message: rep.Duration.String()})
	}
	if !e.started.IsZero() {
		e.perf.Uptime = e.clock.Since(e.started)
		if s := e.perf.Uptime.Seconds(); s > 0 {
			e.perf.AvgHz = float64(e.perf.Ticks) / s
		}
	}

	faults := make(map[string]uint64, len(e.faults))
	for k, n := range e.faults {
		faults[k.String()] = n
	}
	e.published.Store(&loopStats{
		last:      rep,
		perf:      e.perf,
		avoidance: e.tracker.Stats(),
		faults:    faults,
	})

	if e.updater != nil {
		e.updater.Post(indicatorFor(rep))
	}
	monitoring.Tracef("[tick %d] %s dist=%.1f/%v risk=%s line=%s rotary=%s cmd=%s wheels=%d/%d",
		rep.Seq, rep.RunState, rep.Distance.ValueCm, rep.Distance.Valid, rep.Risk.Level,
		rep.Line.Position, rep.Rotary.State, rep.Command, rep.Wheels.Left, rep.Wheels.Right)
	for _, o := range e.observers {
		o.ObserveTick(rep)
	}
}

func (e *Engine) resetPipeline() {
	e.filter.Recover()
	e.stab.Reset()
	e.rot.Reset()
	e.tracker.Reset()
	e.lastTurn = arbiter.Straight
	e.lastRotary = e.rot.State()
	e.degraded = false
	monitoring.Opsf("[control] sensor state recovered")
}

func (e *Engine) recordFault(err error, at time.Time) {
	k := fault.KindOf(err)
	e.faults[k]++
	e.emit(Event{At: at, Kind: EventFault, Fault: k.String(), Message: err.Error()})
}

// countSamples tallies per-sample faults without emitting an event for each.
func (e *Engine) countSamples(r distance.Reading) {
	if r.Timeouts > 0 {
		e.faults[fault.KindSensorTimeout] += uint64(r.Timeouts)
	}
	if r.OutOfRange > 0 {
		e.faults[fault.KindSensorOutOfRange] += uint64(r.OutOfRange)
	}
}

// trackDegraded reports health crossing the floor in either direction.
func (e *Engine) trackDegraded(res distance.Result, at time.Time) {
	switch {
	case res.Err != nil && !e.degraded:
		e.degraded = true
		monitoring.Opsf("[control] distance sensor degraded: %v", res.Err)
		e.recordFault(res.Err, at)
	case res.Err == nil && e.degraded:
		e.degraded = false
		monitoring.Opsf("[control] distance sensor healthy again (reliability %.0f)", res.Health.Reliability)
		e.emit(Event{At: at, Kind: EventState, Message: "distance sensor recovered"})
	}
}

// sampleDistance takes up to sampleCount probes within the tick's sampling
// budget. Probes that time out or do not fit are recorded as missing.
func (e *Engine) sampleDistance(ctx context.Context, start time.Time) []distance.Sample {
	deadline := start.Add(time.Duration(float64(e.period) * sampleBudget))
	e.samples = e.samples[:0]
	for i := 0; i < e.sampleCount; i++ {
		now := e.clock.Now()
		left := deadline.Sub(now)
		if left <= 0 || ctx.Err() != nil {
			e.samples = append(e.samples, distance.Missing(now))
			continue
		}
		cm, err := bounded(ctx, min(e.sampleTimeout, left), e.probe)
		at := e.clock.Now()
		if err != nil {
			e.samples = append(e.samples, distance.Missing(at))
			continue
		}
		e.samples = append(e.samples, distance.Sample{Cm: cm, OK: true, At: at})
	}
	return e.samples
}

// readLine majority-votes lineSamples reads. If every read fails the line is
// reported lost.
func (e *Engine) readLine(ctx context.Context) (line.Triplet, error) {
	reads := make([]line.Triplet, 0, e.lineSamples)
	var firstErr error
	for i := 0; i < e.lineSamples; i++ {
		t, err := bounded(ctx, e.sampleTimeout, e.lineIn.ReadLineTriplet)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reads = append(reads, t)
	}
	if len(reads) == 0 {
		return line.Triplet{}, fault.New(fault.KindSensorTimeout, "read line", firstErr)
	}
	return line.Majority(reads), nil
}

// errNoEcho marks a probe that completed without a range.
var errNoEcho = fault.New(fault.KindSensorTimeout, "distance probe", nil)

func (e *Engine) probe(ctx context.Context) (float64, error) {
	cm, ok := e.dist.ReadDistanceSample(ctx)
	if !ok {
		return 0, errNoEcho
	}
	return cm, nil
}

// bounded runs read with a deadline and gives up when it passes, even if the
// read itself ignores ctx.
func bounded[T any](ctx context.Context, timeout time.Duration, read func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fault.Newf(fault.KindSensorTimeout, "bounded read", "sensor panic: %v", r)}
			}
		}()
		v, err := read(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fault.New(fault.KindSensorTimeout, "bounded read", ctx.Err())
	}
}

// indicatorFor maps a tick to the status light.
func indicatorFor(rep *TickReport) indicator.Update {
	switch rep.RunState {
	case Emergency:
		return indicator.Update{State: indicator.Error}
	case Stopped:
		return indicator.Update{State: indicator.Idle}
	}
	switch {
	case rep.Risk.Level == obstacle.Error && rep.Risk.Escalated:
		return indicator.Update{State: indicator.Error}
	case rep.Risk.Level == obstacle.Danger || rep.Risk.Level == obstacle.Warning || rep.Risk.Level == obstacle.Caution:
		return indicator.Update{State: indicator.Obstacle, DistanceCm: rep.Risk.DistanceCm}
	case rep.Rotary.State.Active():
		return indicator.Update{State: indicator.Rotary}
	case rep.Command.Action == arbiter.Search:
		return indicator.Update{State: indicator.Lost}
	case rep.Command.Priority == arbiter.LineFollowing:
		return indicator.Update{State: indicator.LineFollowing}
	}
	return indicator.Update{State: indicator.Moving}
}
