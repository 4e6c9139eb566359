package arbiter

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/distance"
	"github.com/banshee-data/rover/internal/fault"
	"github.com/banshee-data/rover/internal/line"
	"github.com/banshee-data/rover/internal/obstacle"
	"github.com/banshee-data/rover/internal/rotary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// inputsAt builds running inputs for a valid distance and a line triplet.
func inputsAt(cm float64, tri line.Triplet) Inputs {
	bands := obstacle.BandsFromRobot(config.EmptyRobotConfig())
	risk := obstacle.Classify(distance.Reading{ValueCm: cm, Valid: true}, distance.Health{Reliability: 100}, bands)
	c := line.Classify(tri)
	ctx := obstacle.Context{LineOffset: c.Position.Offset, LineSteerable: c.Position.Steerable()}
	return Inputs{
		Running: true,
		Risk:    risk,
		Plan:    obstacle.Select(risk, ctx, obstacle.DefaultSelectorConfig()),
		Line:    c,
		Now:     now,
	}
}

var center = line.Triplet{Center: true}

func TestDecide_EmergencyAlwaysWins(t *testing.T) {
	cfg := DefaultConfig()
	for _, cm := range []float64{5, 15, 30, 100} {
		for _, tri := range []line.Triplet{{}, center, {Left: true}, {Left: true, Right: true}} {
			in := inputsAt(cm, tri)
			in.Emergency = true
			in.Rotary = rotary.Decision{State: rotary.InRotary, Direction: rotary.Left, Speed: 55, Confidence: 0.9}
			cmd := Decide(in, cfg)
			assert.Equal(t, Stop, cmd.Action)
			assert.Equal(t, Emergency, cmd.Priority)
			assert.Equal(t, 1.0, cmd.Confidence)
			assert.Equal(t, SourceControl, cmd.Source)
		}
	}
}

func TestDecide_NotRunningStops(t *testing.T) {
	in := inputsAt(100, center)
	in.Running = false
	cmd := Decide(in, DefaultConfig())
	assert.Equal(t, Stop, cmd.Action)
	assert.Equal(t, Idle, cmd.Priority)
}

func TestDecide_DangerStops(t *testing.T) {
	cmd := Decide(inputsAt(8, center), DefaultConfig())
	assert.Equal(t, Stop, cmd.Action)
	assert.Equal(t, Emergency, cmd.Priority)
	assert.Equal(t, SourceObstacle, cmd.Source)
	assert.Zero(t, cmd.Speed)
}

func TestDecide_DegradedSensorIsConservative(t *testing.T) {
	in := inputsAt(100, center)
	in.Risk = obstacle.Classify(distance.Reading{}, distance.Health{Reliability: 15, ConsecutiveInvalid: 5, Degraded: true},
		obstacle.BandsFromRobot(config.EmptyRobotConfig()))
	in.Plan = obstacle.Select(in.Risk, obstacle.Context{}, obstacle.DefaultSelectorConfig())

	cmd := Decide(in, DefaultConfig())
	assert.Equal(t, Stop, cmd.Action)
	assert.Equal(t, Emergency, cmd.Priority)
}

func TestDecide_TransientErrorAttenuates(t *testing.T) {
	cfg := DefaultConfig()
	in := inputsAt(100, center)
	in.Risk = obstacle.Assessment{Level: obstacle.Error}
	in.Plan = obstacle.Select(in.Risk, obstacle.Context{}, obstacle.DefaultSelectorConfig())

	cmd := Decide(in, cfg)
	assert.Equal(t, Forward, cmd.Action)
	assert.Equal(t, ObstacleAvoidance, cmd.Priority)
	assert.Equal(t, 36, cmd.Speed)
}

func TestDecide_WarningReversesAwayFromLine(t *testing.T) {
	cmd := Decide(inputsAt(15, line.Triplet{Left: true, Center: true}), DefaultConfig())
	assert.Equal(t, ReverseArc, cmd.Action)
	assert.Equal(t, Right, cmd.Turn)
	assert.Equal(t, ObstacleAvoidance, cmd.Priority)
	assert.Equal(t, 30, cmd.Speed)
}

func TestDecide_CautionSlowsLineFollowing(t *testing.T) {
	cfg := DefaultConfig()
	free := Decide(inputsAt(100, center), cfg)
	require.Equal(t, LineFollowing, free.Priority)
	require.Equal(t, 60, free.Speed)

	edge := Decide(inputsAt(40, center), cfg)
	deep := Decide(inputsAt(22, center), cfg)
	assert.Equal(t, ObstacleAvoidance, edge.Priority)
	assert.Equal(t, Forward, edge.Action)
	assert.Equal(t, 48, edge.Speed, "capped by caution attenuation")
	assert.Less(t, deep.Speed, edge.Speed)
	assert.Greater(t, deep.Speed, 0)
}

func TestDecide_RotaryOverridesLine(t *testing.T) {
	in := inputsAt(100, line.Triplet{Left: true})
	in.Rotary = rotary.Decision{State: rotary.InRotary, Direction: rotary.Right, Committed: true, Speed: 55, Confidence: 0.7}
	cmd := Decide(in, DefaultConfig())
	assert.Equal(t, Rotary, cmd.Priority)
	assert.Equal(t, Arc, cmd.Action)
	assert.Equal(t, Left, cmd.Turn)
	assert.Equal(t, 55, cmd.Speed)
	assert.Equal(t, 0.7, cmd.Confidence)
}

func TestDecide_LineFollowing(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name   string
		tri    line.Triplet
		action Action
		turn   Turn
		speed  int
	}{
		{"center", center, Forward, Straight, 60},
		{"wide center", line.Triplet{Left: true, Center: true, Right: true}, Forward, Straight, 60},
		{"slight left", line.Triplet{Left: true, Center: true}, Arc, Right, 48},
		{"slight right", line.Triplet{Center: true, Right: true}, Arc, Left, 48},
		{"hard left", line.Triplet{Left: true}, Pivot, Right, 36},
		{"hard right", line.Triplet{Right: true}, Pivot, Left, 36},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Decide(inputsAt(100, tt.tri), cfg)
			assert.Equal(t, LineFollowing, cmd.Priority)
			assert.Equal(t, tt.action, cmd.Action)
			assert.Equal(t, tt.turn, cmd.Turn)
			assert.Equal(t, tt.speed, cmd.Speed)
		})
	}
}

func TestDecide_SearchWhenLost(t *testing.T) {
	in := inputsAt(100, line.Triplet{})
	in.LastTurn = Left
	cmd := Decide(in, DefaultConfig())
	assert.Equal(t, Search, cmd.Action)
	assert.Equal(t, Left, cmd.Turn)
	assert.Equal(t, PrioritySearch, cmd.Priority)
	assert.Equal(t, 0.5, cmd.Confidence)
	assert.Equal(t, 35, cmd.Speed)
}

// Three 101 readings in a row from NORMAL never resolve locally: the robot
// searches slowly with halved confidence.
func TestDecide_AmbiguousPatternTakesLostPath(t *testing.T) {
	cfg := DefaultConfig()
	d := rotary.New(rotary.DefaultConfig())
	st := line.NewStabilizer(2)
	amb := line.Triplet{Left: true, Right: true}

	var cmd Command
	for i := 0; i < 3; i++ {
		raw := line.Classify(amb)
		in := inputsAt(100, amb)
		in.Line = st.Update(raw)
		in.Rotary = d.Observe(raw, now)
		cmd = Decide(in, cfg)
	}
	assert.Equal(t, rotary.Normal, d.State())
	assert.Equal(t, Search, cmd.Action)
	assert.LessOrEqual(t, cmd.Speed, 60)
	assert.Equal(t, 0.5, cmd.Confidence)
}

func TestDecide_SpeedAndConfidenceAlwaysInRange(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewPCG(3, 5))
	states := []rotary.State{rotary.Normal, rotary.Entering, rotary.InRotary, rotary.Exiting}
	dirs := []rotary.Direction{rotary.Straight, rotary.Left, rotary.Right}

	for i := 0; i < 2000; i++ {
		tri := line.Triplet{Left: rng.IntN(2) == 1, Center: rng.IntN(2) == 1, Right: rng.IntN(2) == 1}
		var in Inputs
		if rng.IntN(5) == 0 {
			in = inputsAt(0, tri)
			in.Risk = obstacle.Assessment{Level: obstacle.Error, Escalated: rng.IntN(2) == 0}
			in.Plan = obstacle.Select(in.Risk, obstacle.Context{}, obstacle.DefaultSelectorConfig())
		} else {
			in = inputsAt(2+rng.Float64()*298, tri)
		}
		in.Emergency = rng.IntN(20) == 0
		in.Running = rng.IntN(10) != 0
		in.LastTurn = Turn(rng.IntN(3))
		in.Rotary = rotary.Decision{
			State:      states[rng.IntN(len(states))],
			Direction:  dirs[rng.IntN(len(dirs))],
			Speed:      45 + rng.IntN(16),
			Confidence: rng.Float64(),
		}

		cmd := Decide(in, cfg)
		require.NoError(t, Validate(cmd), "inputs %+v", in)
	}
}

func TestValidate(t *testing.T) {
	ok := Command{Action: Forward, Speed: 50, Confidence: 0.5, Timestamp: now}
	require.NoError(t, Validate(ok))

	bad := []Command{
		{Action: Forward, Speed: 101, Timestamp: now},
		{Action: Forward, Speed: -1, Timestamp: now},
		{Action: Forward, Confidence: 1.5, Timestamp: now},
		{Action: Stop, Speed: 10, Timestamp: now},
		{Action: Action(42), Timestamp: now},
		{Action: Forward},
	}
	for _, c := range bad {
		err := Validate(c)
		require.Error(t, err, "%+v", c)
		assert.True(t, errors.Is(err, fault.ErrInvariantViolation))
		assert.Equal(t, fault.KindInvariantViolation, fault.KindOf(err))
	}
}

func TestPriorityOrder(t *testing.T) {
	ps := Priorities()
	for i := 1; i < len(ps); i++ {
		assert.Greater(t, ps[i-1], ps[i])
	}
	assert.Equal(t, "OBSTACLE_AVOIDANCE", ObstacleAvoidance.String())
}
