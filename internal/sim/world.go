// Package sim is a small kinematic world for running the engine without a
// robot: a straight taped line with optional roundabout zones and obstacles,
// a differential-drive body and noisy sensors.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/rover/internal/indicator"
	"github.com/banshee-data/rover/internal/line"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/timeutil"
)

// Scenario describes the course. Distances are along the line in cm.
type Scenario struct {
	Obstacles   []float64    `json:"obstacles_cm"`
	RotaryZones [][2]float64 `json:"rotary_zones_cm"`
	// NoiseCm is the standard deviation of the distance sensor.
	NoiseCm float64 `json:"noise_cm"`
	// DropRate is the probability a probe returns no echo.
	DropRate float64 `json:"drop_rate"`
	// StartOffsetCm displaces the robot sideways at the start.
	StartOffsetCm float64 `json:"start_offset_cm"`
	Seed          uint64  `json:"seed"`
}

// DefaultScenario is a 3m course with one roundabout and one obstacle.
func DefaultScenario() Scenario {
	return Scenario{
		Obstacles:     []float64{250},
		RotaryZones:   [][2]float64{{80, 140}},
		NoiseCm:       0.5,
		DropRate:      0.03,
		StartOffsetCm: 0.8,
		Seed:          1,
	}
}

// LoadScenario reads a scenario from a JSON file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	s := DefaultScenario()
	if err := json.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.DropRate < 0 || s.DropRate > 1 {
		return Scenario{}, fmt.Errorf("drop_rate must be in [0, 1], got %g", s.DropRate)
	}
	return s, nil
}

// Body and sensor geometry.
const (
	cmPerSecAtFull = 50.0 // forward speed at wheel command 100
	wheelBaseCm    = 12.0
	sensorSpacing  = 1.5
	lineHalfWidth  = 0.9
	beamHalfAngle  = 15 * math.Pi / 180
	maxRangeCm     = 300.0
	// openRoomCm is the echo off the room when no obstacle is in the beam.
	openRoomCm = 250.0
	echoDelay      = 2 * time.Millisecond
)

// Pose is the robot's position: S along the line, Y to the left of it, and
// heading in radians, positive to the left.
type Pose struct {
	S, Y, Heading float64
}

// World implements the engine's sensors, motors and display.
type World struct {
	clock timeutil.Clock
	sc    Scenario

	mu          sync.Mutex
	pose        Pose
	left, right int
	last        time.Time
	noise       distuv.Normal
	drop        distuv.Bernoulli
	tick        uint64
	indicator   indicator.State
	pattern     indicator.Pattern
	collided    bool
}

// New places the robot at the start of sc.
func New(sc Scenario, clock timeutil.Clock) *World {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	src := rand.NewPCG(sc.Seed, sc.Seed^0x9e3779b97f4a7c15)
	w := &World{
		clock: clock,
		sc:    sc,
		pose:  Pose{Y: sc.StartOffsetCm},
		last:  clock.Now(),
		noise: distuv.Normal{Mu: 0, Sigma: math.Max(sc.NoiseCm, 1e-9), Src: src},
		drop:  distuv.Bernoulli{P: sc.DropRate, Src: src},
	}
	return w
}

// Pose returns the current pose.
func (w *World) Pose() Pose {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.integrate()
	return w.pose
}

// Collided reports whether the robot ever drove into an obstacle.
func (w *World) Collided() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.collided
}

// Indicator returns what the status light shows.
func (w *World) Indicator() (indicator.State, indicator.Pattern) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.indicator, w.pattern
}

// integrate advances the pose to now. Callers hold mu.
func (w *World) integrate() {
	now := w.clock.Now()
	dt := now.Sub(w.last).Seconds()
	w.last = now
	if dt <= 0 {
		return
	}
	vl := float64(w.left) / 100 * cmPerSecAtFull
	vr := float64(w.right) / 100 * cmPerSecAtFull
	v := (vl + vr) / 2
	omega := (vr - vl) / wheelBaseCm

	p := &w.pose
	p.Heading += omega * dt
	p.S += v * math.Cos(p.Heading) * dt
	p.Y += v * math.Sin(p.Heading) * dt

	for _, o := range w.sc.Obstacles {
		if math.Abs(p.S-o) < 1 && math.Abs(p.Y) < 5 && !w.collided {
			w.collided = true
			monitoring.Opsf("[sim] collision with obstacle at %.0fcm", o)
		}
	}
}

// ReadDistanceSample reports the nearest obstacle ahead, or the room when the
// beam has nothing closer.
func (w *World) ReadDistanceSample(ctx context.Context) (float64, bool) {
	w.mu.Lock()
	w.integrate()
	p := w.pose
	dropped := w.drop.Rand() == 1
	n := w.noise.Rand()
	w.mu.Unlock()

	select {
	case <-ctx.Done():
		return 0, false
	case <-time.After(echoDelay):
	}
	if dropped {
		return 0, false
	}
	best := openRoomCm
	if math.Abs(p.Heading) <= beamHalfAngle {
		for _, o := range w.sc.Obstacles {
			if d := o - p.S; d > 0 && d < best && d <= maxRangeCm {
				best = d
			}
		}
	}
	return math.Max(0, best+n), true
}

// ReadLineTriplet samples the three reflectance sensors. Inside a rotary zone
// the junction makes the line appear alternately on either side.
func (w *World) ReadLineTriplet(ctx context.Context) (line.Triplet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.integrate()
	w.tick++
	p := w.pose

	for _, z := range w.sc.RotaryZones {
		if p.S >= z[0] && p.S <= z[1] {
			if (w.tick/3)%2 == 0 {
				return line.Triplet{Left: true, Center: true}, nil
			}
			return line.Triplet{Center: true, Right: true}, nil
		}
	}

	// The bar is mounted so a robot displaced to the left sees the line under
	// its left sensor.
	sees := func(offset float64) bool { return math.Abs(p.Y-offset) <= lineHalfWidth }
	return line.Triplet{
		Left:   sees(sensorSpacing),
		Center: sees(0),
		Right:  sees(-sensorSpacing),
	}, nil
}

// ApplyMotorCommand sets the wheel speeds from now on.
func (w *World) ApplyMotorCommand(left, right int) error {
	if left < -100 || left > 100 || right < -100 || right > 100 {
		return fmt.Errorf("wheel speed out of range: %d/%d", left, right)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.integrate()
	w.left, w.right = left, right
	return nil
}

func (w *World) SetStatusIndicator(s indicator.State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s != w.indicator {
		monitoring.Diagf("[sim] indicator %s", s)
	}
	w.indicator = s
	return nil
}

func (w *World) StartIndicatorPattern(p indicator.Pattern, _ indicator.Params) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pattern = p
	return nil
}
