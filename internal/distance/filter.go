// Package distance turns bursts of raw ultrasonic range samples into one
// filtered reading per control tick and tracks the sensor's health.
package distance

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/fault"
	"gonum.org/v1/gonum/stat"
)

// minSpread is the standard deviation below which no sample is treated as an
// outlier; identical echoes would otherwise divide by ~zero.
const minSpread = 0.1

// Sample is one raw probe result. OK is false for a timeout or missing echo.
type Sample struct {
	Cm float64
	OK bool
	At time.Time
}

// Missing returns the timeout marker captured at t.
func Missing(t time.Time) Sample { return Sample{At: t} }

// Reading is the filter's output for a tick. It is never mutated after
// Process returns it.
type Reading struct {
	ValueCm    float64   `json:"value_cm"`
	Valid      bool      `json:"valid"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`

	Used       int  `json:"used"`         // samples surviving all stages
	Timeouts   int  `json:"timeouts"`     // missing echoes
	OutOfRange int  `json:"out_of_range"` // outside the valid band
	Outliers   int  `json:"outliers"`     // dropped by the spread test
	Clamped    bool `json:"clamped"`      // change-rate limit applied
}

// Config carries the filter and health tuning.
type Config struct {
	MinValidCm        float64
	MaxValidCm        float64
	SampleCount       int
	MinQuorum         int
	OutlierThreshold  float64 // in standard deviations, measured from the median
	MaxChangeRate     float64 // cm per second
	SmoothingFactor   float64 // weight of the new median in the blend
	ReliabilityFloor  float64
	MaxConsecutiveBad int
	HealthWindow      int
	InvalidPenalty    float64
	DecayRate         float64
	RecoveryStep      float64
}

// ConfigFromRobot builds a filter Config from the robot configuration.
func ConfigFromRobot(c *config.RobotConfig) Config {
	return Config{
		MinValidCm:        c.GetMinValidDistanceCm(),
		MaxValidCm:        c.GetMaxValidDistanceCm(),
		SampleCount:       c.GetSampleCount(),
		MinQuorum:         c.GetMinSampleQuorum(),
		OutlierThreshold:  c.GetOutlierThreshold(),
		MaxChangeRate:     c.GetMaxChangeRateCmPerS(),
		SmoothingFactor:   c.GetSmoothingFactor(),
		ReliabilityFloor:  c.GetReliabilityFloor(),
		MaxConsecutiveBad: c.GetMaxConsecutiveInvalid(),
		HealthWindow:      c.GetHealthWindow(),
		InvalidPenalty:    c.GetHealthInvalidPenalty(),
		DecayRate:         c.GetHealthDecayRate(),
		RecoveryStep:      c.GetHealthRecoveryStep(),
	}
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return ConfigFromRobot(config.EmptyRobotConfig())
}

// Result bundles a tick's reading with the health it produced. Err is a
// fault.KindSensorDegraded error while health is below floor.
type Result struct {
	Reading Reading
	Health  Health
	Err     error
}

// Filter is owned by the control loop goroutine. Only the health it
// publishes is read from elsewhere, through Health().
type Filter struct {
	cfg Config

	prev     float64
	prevAt   time.Time
	havePrev bool

	tracker *healthTracker

	mu     sync.RWMutex
	health Health
}

// NewFilter returns a filter starting from full health and no estimate.
func NewFilter(cfg Config) *Filter {
	f := &Filter{cfg: cfg, tracker: newHealthTracker(cfg)}
	f.health = f.tracker.snapshot()
	return f
}

// Process filters one tick's samples taken at now.
func (f *Filter) Process(samples []Sample, now time.Time) Result {
	r := f.reduce(samples, now)

	h := f.tracker.update(r.Valid)
	f.mu.Lock()
	f.health = h
	f.mu.Unlock()

	if r.Valid {
		r.Confidence = confidence(r.Used, f.cfg.SampleCount, h.Reliability)
	}

	res := Result{Reading: r, Health: h}
	if h.Degraded {
		res.Err = fault.Newf(fault.KindSensorDegraded, "distance",
			"reliability %.0f, %d consecutive invalid", h.Reliability, h.ConsecutiveInvalid)
	}
	return res
}

func (f *Filter) reduce(samples []Sample, now time.Time) Reading {
	r := Reading{At: now}

	inBand := make([]float64, 0, len(samples))
	for _, s := range samples {
		switch {
		case !s.OK || math.IsNaN(s.Cm) || math.IsInf(s.Cm, 0):
			r.Timeouts++
		case s.Cm < f.cfg.MinValidCm || s.Cm > f.cfg.MaxValidCm:
			r.OutOfRange++
		default:
			inBand = append(inBand, s.Cm)
		}
	}

	kept := rejectOutliers(inBand, f.cfg.OutlierThreshold)
	r.Outliers = len(inBand) - len(kept)
	r.Used = len(kept)
	if r.Used < f.cfg.MinQuorum || r.Used == 0 {
		return r
	}

	est := median(kept)
	if f.havePrev {
		a := f.cfg.SmoothingFactor
		est = a*est + (1-a)*f.prev

		dt := now.Sub(f.prevAt).Seconds()
		if dt < 0 {
			dt = 0
		}
		limit := f.cfg.MaxChangeRate * dt
		if delta := est - f.prev; math.Abs(delta) > limit {
			est = f.prev + math.Copysign(limit, delta)
			r.Clamped = true
		}
	}

	f.prev, f.prevAt, f.havePrev = est, now, true
	r.ValueCm = est
	r.Valid = true
	return r
}

// Health returns the latest published health. Safe from any goroutine.
func (f *Filter) Health() Health {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.health
}

// Recover is the explicit recovery operation: health returns to 100 and the
// previous estimate is forgotten so the next reading is taken as-is.
func (f *Filter) Recover() {
	f.tracker.reset()
	f.havePrev = false
	f.mu.Lock()
	f.health = f.tracker.snapshot()
	f.mu.Unlock()
}

// rejectOutliers drops values further than k standard deviations from the
// median. With fewer than three values there is no meaningful spread.
func rejectOutliers(values []float64, k float64) []float64 {
	if len(values) < 3 {
		return values
	}
	_, sd := stat.MeanStdDev(values, nil)
	if sd < minSpread {
		return values
	}
	m := median(values)
	kept := values[:0:0]
	for _, v := range values {
		if math.Abs(v-m) <= k*sd {
			kept = append(kept, v)
		}
	}
	return kept
}

func median(values []float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func confidence(used, want int, reliability float64) float64 {
	if want <= 0 {
		return 0
	}
	c := float64(used) / float64(want) * reliability / 100
	return math.Max(0, math.Min(1, c))
}
