package obstacle

import (
	"fmt"

	"github.com/banshee-data/rover/internal/config"
	"gonum.org/v1/gonum/stat"
)

// trendWindow is the number of valid readings the trend regression uses.
const trendWindow = 10

// Trend describes how the obstacle distance is moving.
type Trend uint8

const (
	TrendUnknown Trend = iota
	Approaching
	Steady
	Receding
)

func (t Trend) String() string {
	switch t {
	case Approaching:
		return "APPROACHING"
	case Steady:
		return "STEADY"
	case Receding:
		return "RECEDING"
	case TrendUnknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("Trend(%d)", uint8(t))
}

func (t Trend) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Outlook summarizes recent obstacle behaviour.
type Outlook struct {
	Trend      Trend   `json:"trend"`
	SlopeCm    float64 `json:"slope_cm_per_tick"`
	Persistent bool    `json:"persistent"` // same non-SAFE level for PersistenceTicks
	LevelTicks int     `json:"level_ticks"`
}

// Stats counts selected strategies across a run.
type Stats struct {
	ByStrategy map[string]int `json:"by_strategy"`
	Maneuvers  int            `json:"maneuvers"` // entries into a non-RESUME strategy
}

// Tracker keeps the obstacle history. Confined to the control loop goroutine.
type Tracker struct {
	persistenceTicks int
	slopeThreshold   float64

	distances []float64
	level     Level
	levelRun  int

	counts       [len(strategyNames)]int
	maneuvers    int
	lastStrategy Strategy
}

// NewTracker returns an empty Tracker.
func NewTracker(persistenceTicks int, slopeThreshold float64) *Tracker {
	return &Tracker{persistenceTicks: max(persistenceTicks, 1), slopeThreshold: slopeThreshold}
}

// TrackerFromRobot builds a Tracker from the robot configuration.
func TrackerFromRobot(c *config.RobotConfig) *Tracker {
	return NewTracker(c.GetPersistenceTicks(), c.GetTrendSlopeCm())
}

// Observe records an assessment and returns the updated outlook.
func (t *Tracker) Observe(a Assessment) Outlook {
	if a.Level == t.level {
		t.levelRun++
	} else {
		t.level, t.levelRun = a.Level, 1
	}
	if a.Level != Error {
		t.distances = append(t.distances, a.DistanceCm)
		if len(t.distances) > trendWindow {
			t.distances = t.distances[len(t.distances)-trendWindow:]
		}
	}

	o := Outlook{
		LevelTicks: t.levelRun,
		Persistent: a.Level != Safe && t.levelRun >= t.persistenceTicks,
	}
	if len(t.distances) < 3 {
		return o
	}
	xs := make([]float64, len(t.distances))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, beta := stat.LinearRegression(xs, t.distances, nil, false)
	o.SlopeCm = beta
	switch {
	case beta < -t.slopeThreshold:
		o.Trend = Approaching
	case beta > t.slopeThreshold:
		o.Trend = Receding
	default:
		o.Trend = Steady
	}
	return o
}

// Record counts a plan chosen by the arbiter.
func (t *Tracker) Record(p Plan) {
	if int(p.Strategy) < len(t.counts) {
		t.counts[p.Strategy]++
	}
	if p.Strategy != ResumeNormal && p.Strategy != t.lastStrategy {
		t.maneuvers++
	}
	t.lastStrategy = p.Strategy
}

// Stats returns a copy of the strategy counters.
func (t *Tracker) Stats() Stats {
	s := Stats{ByStrategy: make(map[string]int, len(t.counts)), Maneuvers: t.maneuvers}
	for _, st := range Strategies() {
		s.ByStrategy[st.String()] = t.counts[st]
	}
	return s
}

// Reset clears the history but keeps the counters.
func (t *Tracker) Reset() {
	t.distances = t.distances[:0]
	t.level, t.levelRun = Safe, 0
	t.lastStrategy = ResumeNormal
}
