// Package bridge drives the robot's bridge board over a serialmux link. A
// Board implements the engine's distance sensor, line sensor, motor driver
// and status display.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/rover/internal/fault"
	"github.com/banshee-data/rover/internal/indicator"
	"github.com/banshee-data/rover/internal/line"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/serialmux"
	"github.com/banshee-data/rover/internal/timeutil"
)

// ErrNoLine is returned by ReadLineTriplet before the first line frame or
// when the stream has gone quiet.
var ErrNoLine = errors.New("no recent line frame from bridge")

// DefaultLineStaleAfter is how old the last streamed line frame may be.
const DefaultLineStaleAfter = 250 * time.Millisecond

// Options configure a Board.
type Options struct {
	Clock          timeutil.Clock
	LineStaleAfter time.Duration
}

// Stats counts frames received by type.
type Stats struct {
	Distance uint64 `json:"distance"`
	Line     uint64 `json:"line"`
	Fault    uint64 `json:"fault"`
	Ack      uint64 `json:"ack"`
	Unknown  uint64 `json:"unknown"`
	Bad      uint64 `json:"bad"`
}

type echo struct {
	cm float64
	ok bool
}

// Board is the host side of the bridge protocol.
type Board struct {
	mux        serialmux.SerialMuxInterface
	clock      timeutil.Clock
	staleAfter time.Duration

	subID string
	lines chan string

	// probeMu allows one outstanding distance probe.
	probeMu sync.Mutex
	echoes  chan echo

	mu       sync.Mutex
	lastLine line.Triplet
	lineAt   time.Time
	haveLine bool
	// motorFault is the latest unreported F frame.
	motorFault string

	distance, lineN, faults, acks, unknown, bad atomic.Uint64
}

// New subscribes to mux straight away so no frame sent after New returns is
// missed. Run must be called to consume them.
func New(mux serialmux.SerialMuxInterface, opts Options) *Board {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.LineStaleAfter <= 0 {
		opts.LineStaleAfter = DefaultLineStaleAfter
	}
	id, ch := mux.Subscribe()
	return &Board{
		mux:        mux,
		clock:      opts.Clock,
		staleAfter: opts.LineStaleAfter,
		subID:      id,
		lines:      ch,
		echoes:     make(chan echo, 1),
	}
}

// Run dispatches incoming frames until ctx is done or the subscription
// closes.
func (b *Board) Run(ctx context.Context) error {
	defer b.mux.Unsubscribe(b.subID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-b.lines:
			if !ok {
				return nil
			}
			b.handle(raw)
		}
	}
}

func (b *Board) handle(raw string) {
	f, err := serialmux.ParseFrame(raw)
	if err != nil {
		b.bad.Add(1)
		monitoring.Diagf("[bridge] %v", err)
		return
	}
	switch f.Type {
	case serialmux.FrameDistance:
		b.distance.Add(1)
		// Keep only the newest echo; a late one replaces a stale one.
		select {
		case <-b.echoes:
		default:
		}
		b.echoes <- echo{f.Cm, f.Echo}
	case serialmux.FrameLine:
		b.lineN.Add(1)
		b.mu.Lock()
		b.lastLine, b.lineAt, b.haveLine = f.Line, b.clock.Now(), true
		b.mu.Unlock()
	case serialmux.FrameFault:
		b.faults.Add(1)
		monitoring.Opsf("[bridge] board fault: %s", f.Text)
		b.mu.Lock()
		b.motorFault = f.Text
		b.mu.Unlock()
	case serialmux.FrameAck:
		b.acks.Add(1)
		monitoring.Tracef("[bridge] ack %s", f.Text)
	default:
		b.unknown.Add(1)
		monitoring.Diagf("[bridge] unknown frame %q", f.Raw)
	}
}

// ReadDistanceSample triggers one probe and waits for its echo. A "D -"
// frame, a failed trigger or ctx ending all report no echo.
func (b *Board) ReadDistanceSample(ctx context.Context) (float64, bool) {
	b.probeMu.Lock()
	defer b.probeMu.Unlock()

	// Discard an echo left over from a probe that timed out.
	select {
	case <-b.echoes:
	default:
	}
	if err := b.mux.SendCommand(serialmux.CmdTrigger); err != nil {
		monitoring.Diagf("[bridge] trigger failed: %v", err)
		return 0, false
	}
	select {
	case e := <-b.echoes:
		return e.cm, e.ok
	case <-ctx.Done():
		return 0, false
	}
}

// ReadLineTriplet returns the most recent streamed line frame.
func (b *Board) ReadLineTriplet(ctx context.Context) (line.Triplet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.haveLine {
		return line.Triplet{}, fault.New(fault.KindSensorTimeout, "read line", ErrNoLine)
	}
	if age := b.clock.Since(b.lineAt); age > b.staleAfter {
		return line.Triplet{}, fault.New(fault.KindSensorTimeout, "read line",
			fmt.Errorf("%w: last frame %s ago", ErrNoLine, age))
	}
	return b.lastLine, nil
}

// ApplyMotorCommand sends wheel speeds. A fault reported by the board since
// the previous command fails this one.
func (b *Board) ApplyMotorCommand(left, right int) error {
	b.mu.Lock()
	pending := b.motorFault
	b.motorFault = ""
	b.mu.Unlock()

	if err := b.mux.SendCommand(serialmux.FormatMotor(left, right)); err != nil {
		return fmt.Errorf("send motor command: %w", err)
	}
	if pending != "" {
		return fmt.Errorf("board reported fault: %s", pending)
	}
	return nil
}

func (b *Board) SetStatusIndicator(s indicator.State) error {
	return b.mux.SendCommand(serialmux.FormatIndicator(s))
}

func (b *Board) StartIndicatorPattern(p indicator.Pattern, params indicator.Params) error {
	return b.mux.SendCommand(serialmux.FormatPattern(p, params))
}

// Stats returns frame counters.
func (b *Board) Stats() Stats {
	return Stats{
		Distance: b.distance.Load(),
		Line:     b.lineN.Load(),
		Fault:    b.faults.Load(),
		Ack:      b.acks.Load(),
		Unknown:  b.unknown.Load(),
		Bad:      b.bad.Load(),
	}
}
