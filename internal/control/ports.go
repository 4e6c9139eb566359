package control

import (
	"context"
	"time"

	"github.com/banshee-data/rover/internal/line"
)

// DistanceSensor takes one ultrasonic range probe. ok is false when no echo
// arrived. Implementations should honour ctx; the engine abandons the call
// when its per-probe deadline passes regardless.
type DistanceSensor interface {
	ReadDistanceSample(ctx context.Context) (cm float64, ok bool)
}

// LineSensor reads the three reflectance channels once.
type LineSensor interface {
	ReadLineTriplet(ctx context.Context) (line.Triplet, error)
}

// MotorDriver applies signed wheel speeds in [-100, 100].
type MotorDriver interface {
	ApplyMotorCommand(left, right int) error
}

// Observer receives every tick report and engine event. Implementations
// must be safe for concurrent use and must not block: events can arrive from
// any goroutine that calls an engine operation.
type Observer interface {
	ObserveTick(r *TickReport)
	ObserveEvent(ev Event)
}

// Event kinds.
const (
	EventState    = "state"
	EventFault    = "fault"
	EventRotary   = "rotary"
	EventOverrun  = "overrun"
	EventOperator = "operator"
)

// Event is a discrete occurrence worth recording outside the tick stream.
type Event struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Fault   string    `json:"fault,omitempty"` // fault.Kind name for EventFault
	Message string    `json:"message"`
}
