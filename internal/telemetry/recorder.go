// Package telemetry moves engine output off the control loop: a Recorder
// persists ticks and events, a retention job prunes them, and a NATS link
// publishes status and accepts remote commands.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rover/internal/control"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/monitoring"
)

// Store is the subset of *db.DB the recorder writes to.
type Store interface {
	InsertRun(ctx context.Context, r db.Run) error
	FinishRun(ctx context.Context, id string, at time.Time, reason string) error
	InsertTicks(ctx context.Context, ticks []db.TickRow) error
	InsertEvents(ctx context.Context, events []db.Event) error
}

const (
	DefaultQueueSize     = 256
	DefaultBatchSize     = 50
	DefaultFlushInterval = time.Second
)

// Options configure a Recorder. Store is required.
type Options struct {
	Store Store
	// Mode names the collaborator set, "sim" or "bridge".
	Mode string
	// Config is stored with the run as JSON.
	Config        any
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Now           func() time.Time
}

var errClosed = errors.New("recorder closed")

// Recorder is a control.Observer that writes to a Store from its own
// goroutine. When the queue is full new items are dropped and counted; the
// control loop never waits on the database.
type Recorder struct {
	store    Store
	runID    string
	now      func() time.Time
	batch    int
	interval time.Duration

	queue   chan any
	dropped atomic.Uint64
	written atomic.Uint64

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
	mu        sync.RWMutex // guards sends against close of queue
	closed    bool
}

// NewRecorder registers a new run and starts the writer.
func NewRecorder(ctx context.Context, opts Options) (*Recorder, error) {
	if opts.Store == nil {
		return nil, errors.New("telemetry: store is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mode == "" {
		opts.Mode = "unknown"
	}

	cfgJSON := "{}"
	if opts.Config != nil {
		b, err := json.Marshal(opts.Config)
		if err != nil {
			return nil, err
		}
		cfgJSON = string(b)
	}
	r := &Recorder{
		store:    opts.Store,
		runID:    uuid.NewString(),
		now:      opts.Now,
		batch:    opts.BatchSize,
		interval: opts.FlushInterval,
		queue:    make(chan any, opts.QueueSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := r.store.InsertRun(ctx, db.Run{
		ID: r.runID, Mode: opts.Mode, StartedAt: r.now(), ConfigJSON: cfgJSON,
	}); err != nil {
		return nil, err
	}
	monitoring.Logf("[telemetry] recording run %s (%s)", r.runID, opts.Mode)
	go r.loop()
	return r, nil
}

// RunID identifies this recording.
func (r *Recorder) RunID() string { return r.runID }

// Dropped counts items discarded because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written counts ticks and events committed to the store.
func (r *Recorder) Written() uint64 { return r.written.Load() }

func (r *Recorder) ObserveTick(rep *control.TickReport) { r.enqueue(TickRow(r.runID, rep)) }

func (r *Recorder) ObserveEvent(ev control.Event) {
	r.enqueue(db.Event{RunID: r.runID, At: ev.At, Kind: ev.Kind, FaultKind: ev.Fault, Message: ev.Message})
}

func (r *Recorder) enqueue(item any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- item:
	default:
		if r.dropped.Add(1) == 1 {
			monitoring.Opsf("[telemetry] queue full, dropping records")
		}
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var (
		ticks  []db.TickRow
		events []db.Event
	)
	flush := func() {
		// Writes outlive shutdown of the caller's context.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if len(ticks) > 0 {
			if err := r.store.InsertTicks(ctx, ticks); err != nil {
				monitoring.Logf("[telemetry] lost %d ticks: %v", len(ticks), err)
			} else {
				r.written.Add(uint64(len(ticks)))
			}
			ticks = ticks[:0]
		}
		if len(events) > 0 {
			if err := r.store.InsertEvents(ctx, events); err != nil {
				monitoring.Logf("[telemetry] lost %d events: %v", len(events), err)
			} else {
				r.written.Add(uint64(len(events)))
			}
			events = events[:0]
		}
	}

	for {
		select {
		case item, ok := <-r.queue:
			if !ok {
				flush()
				return
			}
			switch v := item.(type) {
			case db.TickRow:
				ticks = append(ticks, v)
			case db.Event:
				events = append(events, v)
			}
			if len(ticks)+len(events) >= r.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close drains the queue, writes what is left and marks the run finished.
func (r *Recorder) Close(ctx context.Context, reason string) error {
	err := errClosed
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()

		select {
		case <-r.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		err = r.store.FinishRun(ctx, r.runID, r.now(), reason)
		if n := r.dropped.Load(); n > 0 {
			monitoring.Logf("[telemetry] run %s finished, %d records dropped", r.runID, n)
		}
	})
	return err
}

// TickRow flattens a report for storage.
func TickRow(runID string, rep *control.TickReport) db.TickRow {
	row := db.TickRow{
		RunID:        runID,
		Seq:          rep.Seq,
		At:           rep.At,
		Duration:     rep.Duration,
		Overrun:      rep.Overrun,
		RunState:     rep.RunState.String(),
		Reliability:  rep.Health.Reliability,
		Degraded:     rep.Health.Degraded,
		Risk:         rep.Risk.Level.String(),
		Trend:        rep.Outlook.Trend.String(),
		LinePosition: rep.Line.Position.String(),
		RotaryState:  rep.Rotary.State.String(),
		Action:       rep.Command.Action.String(),
		Turn:         rep.Command.Turn.String(),
		Speed:        rep.Command.Speed,
		Priority:     rep.Command.Priority.String(),
		WheelLeft:    rep.Wheels.Left,
		WheelRight:   rep.Wheels.Right,
		Fault:        rep.Fault,
	}
	if rep.Distance.Valid {
		v := rep.Distance.ValueCm
		row.DistanceCm = &v
	}
	return row
}
