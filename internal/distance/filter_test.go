package distance

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/banshee-data/rover/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

const tick = 100 * time.Millisecond

func burst(at time.Time, cms ...float64) []Sample {
	out := make([]Sample, len(cms))
	for i, cm := range cms {
		out[i] = Sample{Cm: cm, OK: true, At: at}
	}
	return out
}

func missing(at time.Time, n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Missing(at)
	}
	return out
}

func TestProcess_SingleOutlierDoesNotMoveMedian(t *testing.T) {
	f := NewFilter(DefaultConfig())

	res := f.Process(burst(t0, 15, 16, 15, 95, 15), t0)

	require.True(t, res.Reading.Valid)
	assert.InDelta(t, 15.0, res.Reading.ValueCm, 0.5)
	assert.NoError(t, res.Err)
	assert.Equal(t, 5, res.Reading.Used+res.Reading.Outliers)
}

func TestProcess_TightClusterRejectsFarOutlier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutlierThreshold = 1.5
	f := NewFilter(cfg)

	res := f.Process(burst(t0, 50, 51, 50, 49, 50, 51, 50, 180), t0)
	require.True(t, res.Reading.Valid)
	assert.Equal(t, 1, res.Reading.Outliers)
	assert.InDelta(t, 50.0, res.Reading.ValueCm, 0.01)
}

func TestProcess_DiscardsOutOfBandAndTimeouts(t *testing.T) {
	f := NewFilter(DefaultConfig())

	samples := append(burst(t0, 1.0, 450, 30, 31), Missing(t0))
	res := f.Process(samples, t0)

	require.True(t, res.Reading.Valid)
	assert.Equal(t, 2, res.Reading.OutOfRange)
	assert.Equal(t, 1, res.Reading.Timeouts)
	assert.Equal(t, 2, res.Reading.Used)
	assert.InDelta(t, 30.5, res.Reading.ValueCm, 1e-9)
}

func TestProcess_BelowQuorumIsInvalid(t *testing.T) {
	f := NewFilter(DefaultConfig())

	samples := append(burst(t0, 42), missing(t0, 4)...)
	res := f.Process(samples, t0)

	assert.False(t, res.Reading.Valid)
	assert.Zero(t, res.Reading.Confidence)
	assert.Equal(t, 1, res.Health.ConsecutiveInvalid)
}

func TestProcess_ChangeRateClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmoothingFactor = 1 // isolate the clamp
	f := NewFilter(cfg)

	first := f.Process(burst(t0, 100, 100, 100, 100, 100), t0)
	require.True(t, first.Reading.Valid)

	at := t0.Add(tick)
	second := f.Process(burst(at, 20, 20, 20, 20, 20), at)
	require.True(t, second.Reading.Valid)
	assert.True(t, second.Reading.Clamped)
	maxStep := cfg.MaxChangeRate * tick.Seconds()
	assert.InDelta(t, 100-maxStep, second.Reading.ValueCm, 1e-9)
	assert.NoError(t, second.Err, "clamping is not an error")
}

func TestProcess_SmoothingBlendsWithPrevious(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmoothingFactor = 0.5
	cfg.MaxChangeRate = 1e6
	f := NewFilter(cfg)

	f.Process(burst(t0, 40, 40, 40), t0)
	res := f.Process(burst(t0.Add(tick), 60, 60, 60), t0.Add(tick))
	assert.InDelta(t, 50.0, res.Reading.ValueCm, 1e-9)
	assert.False(t, res.Reading.Clamped)
}

// Randomized walk: every valid output stays in band and respects the rate limit.
func TestProcess_PropertiesUnderNoise(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFilter(cfg)
	rng := rand.New(rand.NewPCG(1, 2))

	var prev Reading
	havePrev := false
	now := t0
	for i := 0; i < 500; i++ {
		samples := make([]Sample, cfg.SampleCount)
		for j := range samples {
			switch rng.IntN(10) {
			case 0:
				samples[j] = Missing(now)
			case 1:
				samples[j] = Sample{Cm: rng.Float64() * 600, OK: true, At: now}
			default:
				samples[j] = Sample{Cm: 30 + 20*math.Sin(float64(i)/15) + rng.NormFloat64(), OK: true, At: now}
			}
		}
		res := f.Process(samples, now)
		r := res.Reading
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
		if r.Valid {
			assert.GreaterOrEqual(t, r.ValueCm, cfg.MinValidCm)
			assert.LessOrEqual(t, r.ValueCm, cfg.MaxValidCm)
			if havePrev {
				limit := cfg.MaxChangeRate*r.At.Sub(prev.At).Seconds() + 1e-9
				assert.LessOrEqual(t, math.Abs(r.ValueCm-prev.ValueCm), limit, "tick %d", i)
			}
			prev, havePrev = r, true
		}
		now = now.Add(tick)
	}
}

func TestHealth_FiveMissingTicksDropBelowFloor(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFilter(cfg)
	now := t0

	f.Process(burst(now, 25, 25, 25, 25, 25), now)
	var res Result
	for i := 0; i < 5; i++ {
		now = now.Add(tick)
		res = f.Process(missing(now, cfg.SampleCount), now)
		if i < 3 {
			assert.False(t, res.Health.Degraded, "degraded too early at miss %d", i+1)
		}
	}

	assert.Less(t, res.Health.Reliability, cfg.ReliabilityFloor)
	assert.Equal(t, 5, res.Health.ConsecutiveInvalid)
	assert.True(t, res.Health.Degraded)
	assert.ErrorIs(t, res.Err, fault.ErrSensorDegraded)
	assert.Equal(t, res.Health, f.Health())
}

func TestHealth_RecoversOnValidStreak(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFilter(cfg)
	now := t0
	for i := 0; i < 6; i++ {
		f.Process(missing(now, cfg.SampleCount), now)
		now = now.Add(tick)
	}
	low := f.Health().Reliability
	require.True(t, f.Health().Degraded)

	var h Health
	for i := 0; i < 10; i++ {
		h = f.Process(burst(now, 30, 30, 30), now).Health
		now = now.Add(tick)
		assert.GreaterOrEqual(t, h.Reliability, low)
		low = h.Reliability
	}
	assert.Zero(t, h.ConsecutiveInvalid)
	assert.False(t, h.Degraded)
	assert.LessOrEqual(t, h.Reliability, 100.0)
}

func TestHealth_SingleOutOfRangeSampleDoesNotHurt(t *testing.T) {
	f := NewFilter(DefaultConfig())
	res := f.Process(burst(t0, 30, 31, 500, 30, 29), t0)
	assert.True(t, res.Reading.Valid)
	assert.Equal(t, 100.0, res.Health.Reliability)
}

func TestRecover(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFilter(cfg)
	now := t0
	f.Process(burst(now, 200, 200, 200), now)
	for i := 0; i < 8; i++ {
		now = now.Add(tick)
		f.Process(missing(now, 5), now)
	}
	require.True(t, f.Health().Degraded)

	f.Recover()
	assert.Equal(t, Health{Reliability: 100}, f.Health())

	// The stale 200cm estimate is gone: the next reading is taken as-is.
	now = now.Add(tick)
	res := f.Process(burst(now, 12, 12, 12), now)
	assert.InDelta(t, 12.0, res.Reading.ValueCm, 1e-9)
	assert.False(t, res.Reading.Clamped)
}
