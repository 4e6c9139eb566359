package sim

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/arbiter"
	"github.com/banshee-data/rover/internal/control"
	"github.com/banshee-data/rover/internal/line"
	"github.com/banshee-data/rover/internal/obstacle"
	"github.com/banshee-data/rover/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func quiet(obstacles ...float64) Scenario {
	return Scenario{Obstacles: obstacles, Seed: 7}
}

func TestKinematics(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	w := New(quiet(), clock)

	require.NoError(t, w.ApplyMotorCommand(60, 60))
	clock.Advance(time.Second)
	p := w.Pose()
	assert.InDelta(t, 30, p.S, 1e-9)
	assert.InDelta(t, 0, p.Y, 1e-9)

	// Right wheel faster turns left.
	require.NoError(t, w.ApplyMotorCommand(-30, 30))
	clock.Advance(time.Second)
	assert.Greater(t, w.Pose().Heading, 0.0)

	assert.Error(t, w.ApplyMotorCommand(101, 0))
}

func TestReadDistanceSample(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	w := New(quiet(100, 400), clock)
	ctx := context.Background()

	cm, ok := w.ReadDistanceSample(ctx)
	require.True(t, ok)
	assert.InDelta(t, 100, cm, 0.01)

	require.NoError(t, w.ApplyMotorCommand(100, 100))
	clock.Advance(time.Second)
	cm, ok = w.ReadDistanceSample(ctx)
	require.True(t, ok)
	assert.InDelta(t, 50, cm, 0.01)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, ok = w.ReadDistanceSample(canceled)
	assert.False(t, ok)
}

func TestReadDistanceSample_OutOfBeam(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	w := New(quiet(100), clock)
	require.NoError(t, w.ApplyMotorCommand(-50, 50))
	clock.Advance(500 * time.Millisecond)
	cm, ok := w.ReadDistanceSample(context.Background())
	require.True(t, ok)
	assert.InDelta(t, openRoomCm, cm, 0.01, "pivoted away from the obstacle")
}

func TestReadDistanceSample_Drops(t *testing.T) {
	t.Parallel()
	sc := quiet(100)
	sc.DropRate = 1
	w := New(sc, timeutil.NewMockClock(epoch))
	_, ok := w.ReadDistanceSample(context.Background())
	assert.False(t, ok)
}

func TestReadLineTriplet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, tc := range []struct {
		offset float64
		want   line.Triplet
	}{
		{0, line.Triplet{Center: true}},
		{0.8, line.Triplet{Left: true, Center: true}},
		{1.6, line.Triplet{Left: true}},
		{-1.6, line.Triplet{Right: true}},
		{5, line.Triplet{}},
	} {
		sc := quiet()
		sc.StartOffsetCm = tc.offset
		w := New(sc, timeutil.NewMockClock(epoch))
		got, err := w.ReadLineTriplet(ctx)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "offset %.1f", tc.offset)
	}
}

func TestReadLineTriplet_RotaryZoneAlternates(t *testing.T) {
	t.Parallel()
	sc := quiet()
	sc.RotaryZones = [][2]float64{{0, 10}}
	w := New(sc, timeutil.NewMockClock(epoch))
	seen := map[line.Triplet]bool{}
	for i := 0; i < 12; i++ {
		tr, err := w.ReadLineTriplet(context.Background())
		require.NoError(t, err)
		seen[tr] = true
	}
	assert.True(t, seen[line.Triplet{Left: true, Center: true}])
	assert.True(t, seen[line.Triplet{Center: true, Right: true}])
}

func TestLoadScenario(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "course.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"obstacles_cm":[50,120],"drop_rate":0}`), 0o644))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 120}, sc.Obstacles)
	assert.Equal(t, DefaultScenario().NoiseCm, sc.NoiseCm, "unset fields keep defaults")

	require.NoError(t, os.WriteFile(path, []byte(`{"drop_rate":2}`), 0o644))
	_, err = LoadScenario(path)
	assert.Error(t, err)

	_, err = LoadScenario(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

// driveEngine runs n ticks of a real engine against w.
func driveEngine(t *testing.T, w *World, clock *timeutil.MockClock, n int) []*control.TickReport {
	t.Helper()
	e, err := control.New(control.Options{Distance: w, Line: w, Motors: w, Clock: clock})
	require.NoError(t, err)
	require.NoError(t, e.Start())
	reps := make([]*control.TickReport, 0, n)
	for i := 0; i < n; i++ {
		clock.Advance(e.Period())
		reps = append(reps, e.Step(context.Background()))
	}
	return reps
}

func TestEngineFollowsLine(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	w := New(quiet(), clock)

	reps := driveEngine(t, w, clock, 30)
	for _, r := range reps {
		require.Equal(t, arbiter.LineFollowing, r.Command.Priority, "tick %d: %s", r.Seq, r.Command)
	}
	assert.Greater(t, w.Pose().S, 50.0)
	assert.False(t, w.Collided())
}

func TestEngineStopsForCloseObstacle(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	w := New(quiet(8), clock)

	reps := driveEngine(t, w, clock, 5)
	for _, r := range reps {
		assert.Equal(t, obstacle.Danger, r.Risk.Level)
		assert.Equal(t, arbiter.Stop, r.Command.Action)
	}
	assert.InDelta(t, 0, w.Pose().S, 1e-9)
}
