// Package fault holds the engine's error taxonomy. Components return these
// as values; nothing in a control tick is allowed to panic its way out.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindSensorTimeout: a bounded read expired. Recovered as a missing sample.
	KindSensorTimeout
	// KindSensorOutOfRange: a reading outside the valid band. Discarded.
	KindSensorOutOfRange
	// KindSensorDegraded: health below floor. Forces conservative classification.
	KindSensorDegraded
	// KindActuatorFault: the motor collaborator reported a failure.
	KindActuatorFault
	// KindInvariantViolation: a produced value broke its contract. Aborts the tick.
	KindInvariantViolation
)

var kindNames = [...]string{
	KindUnknown:            "unknown",
	KindSensorTimeout:      "sensor_timeout",
	KindSensorOutOfRange:   "sensor_out_of_range",
	KindSensorDegraded:     "sensor_degraded",
	KindActuatorFault:      "actuator_fault",
	KindInvariantViolation: "invariant_violation",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kinds lists every classified kind, for counters and metrics labels.
func Kinds() []Kind {
	return []Kind{KindSensorTimeout, KindSensorOutOfRange, KindSensorDegraded, KindActuatorFault, KindInvariantViolation}
}

// Sentinels for errors.Is.
var (
	ErrSensorTimeout      = errors.New("sensor timeout")
	ErrSensorOutOfRange   = errors.New("sensor reading out of range")
	ErrSensorDegraded     = errors.New("sensor degraded")
	ErrActuatorFault      = errors.New("actuator fault")
	ErrInvariantViolation = errors.New("invariant violation")
)

var sentinels = map[Kind]error{
	KindSensorTimeout:      ErrSensorTimeout,
	KindSensorOutOfRange:   ErrSensorOutOfRange,
	KindSensorDegraded:     ErrSensorDegraded,
	KindActuatorFault:      ErrActuatorFault,
	KindInvariantViolation: ErrInvariantViolation,
}

// Error ties a Kind to the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New builds an Error for op. err may be nil, in which case the kind's
// sentinel is used.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		err = sentinels[kind]
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf formats a message and wraps the kind's sentinel.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	base := sentinels[kind]
	if base == nil {
		base = errors.New(kind.String())
	}
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrActuatorFault) match any Error of that kind even
// when the wrapped cause is a driver error.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && target == s
}

// KindOf walks the chain and reports the first classified kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindUnknown
}
