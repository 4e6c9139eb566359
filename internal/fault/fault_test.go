package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	driverErr := errors.New("i2c nack")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"typed", New(KindActuatorFault, "apply", driverErr), KindActuatorFault},
		{"wrapped typed", fmt.Errorf("tick 4: %w", New(KindInvariantViolation, "command", nil)), KindInvariantViolation},
		{"bare sentinel", fmt.Errorf("probe: %w", ErrSensorTimeout), KindSensorTimeout},
		{"formatted", Newf(KindSensorDegraded, "filter", "reliability %.0f", 12.0), KindSensorDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMatchesSentinelAndCause(t *testing.T) {
	driverErr := errors.New("stall detected")
	err := New(KindActuatorFault, "motors", driverErr)

	assert.ErrorIs(t, err, ErrActuatorFault)
	assert.ErrorIs(t, err, driverErr)
	assert.NotErrorIs(t, err, ErrSensorTimeout)
	assert.Equal(t, "motors: stall detected", err.Error())

	f := Newf(KindInvariantViolation, "", "speed %d outside [0,100]", 140)
	assert.Equal(t, "invariant violation: speed 140 outside [0,100]", f.Error())
	assert.ErrorIs(t, f, ErrInvariantViolation)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "actuator_fault", KindActuatorFault.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
	assert.Len(t, Kinds(), 5)
}
