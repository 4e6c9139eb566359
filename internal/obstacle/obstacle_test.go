package obstacle

import (
	"testing"

	"github.com/banshee-data/rover/internal/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	healthy  = distance.Health{Reliability: 100}
	degraded = distance.Health{Reliability: 12, ConsecutiveInvalid: 5, Degraded: true}
	bands    = Bands{Danger: 10, Warning: 20, Caution: 40}
)

func valid(cm float64) distance.Reading { return distance.Reading{ValueCm: cm, Valid: true} }

func TestClassify_Bands(t *testing.T) {
	tests := []struct {
		cm   float64
		want Level
	}{
		{2, Danger},
		{8, Danger},
		{10, Danger}, // edge belongs to the more severe band
		{10.01, Warning},
		{20, Warning},
		{20.5, Caution},
		{40, Caution},
		{40.01, Safe},
		{250, Safe},
	}
	for _, tt := range tests {
		got := Classify(valid(tt.cm), healthy, bands)
		assert.Equal(t, tt.want, got.Level, "%.2fcm", tt.cm)
		assert.False(t, got.Escalated)
	}
}

func TestClassify_ErrorOverrides(t *testing.T) {
	got := Classify(distance.Reading{}, healthy, bands)
	assert.Equal(t, Error, got.Level)
	assert.False(t, got.Escalated)

	// A perfectly good reading is still ERROR once health is degraded.
	got = Classify(valid(100), degraded, bands)
	assert.Equal(t, Error, got.Level)
	assert.True(t, got.Escalated)
}

func TestSeverityOrdering(t *testing.T) {
	order := []Level{Safe, Caution, Warning, Error, Danger}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Severity(), order[i-1].Severity(), "%s vs %s", order[i], order[i-1])
	}
	assert.GreaterOrEqual(t, Error.Severity(), Warning.Severity())
}

func TestSelect(t *testing.T) {
	cfg := DefaultSelectorConfig()
	lineLeft := Context{LineOffset: -0.5, LineSteerable: true}
	lineRight := Context{LineOffset: 1, LineSteerable: true}
	centered := Context{LineSteerable: true}

	tests := []struct {
		name string
		a    Assessment
		ctx  Context
		want Plan
	}{
		{"danger stops", Assessment{Level: Danger, DistanceCm: 8}, lineLeft, Plan{Strategy: ImmediateStop}},
		{"escalated error stops", Assessment{Level: Error, Escalated: true}, centered, Plan{Strategy: ImmediateStop}},
		{"transient error resumes", Assessment{Level: Error}, centered, Plan{Strategy: ResumeNormal, SpeedFactor: 1}},
		{"safe resumes", Assessment{Level: Safe, DistanceCm: 90}, centered, Plan{Strategy: ResumeNormal, SpeedFactor: 1}},
		{"warning turns away from left bias", Assessment{Level: Warning, DistanceCm: 15}, lineLeft,
			Plan{Strategy: ReverseAndTurn, Turn: TurnRight, Speed: 30}},
		{"warning turns away from right bias", Assessment{Level: Warning, DistanceCm: 15}, lineRight,
			Plan{Strategy: ReverseAndTurn, Turn: TurnLeft, Speed: 30}},
		{"warning centered uses default", Assessment{Level: Warning, DistanceCm: 15}, centered,
			Plan{Strategy: ReverseAndTurn, Turn: cfg.DefaultTurn, Speed: 30}},
		{"approaching warning reverses harder", Assessment{Level: Warning, DistanceCm: 15}, Context{Trend: Approaching},
			Plan{Strategy: ReverseAndTurn, Turn: cfg.DefaultTurn, Speed: cfg.ReverseSpeed}},
		{"warning mid-rotary routes around", Assessment{Level: Warning, DistanceCm: 15}, Context{InRotary: true, LineOffset: -1, LineSteerable: true},
			Plan{Strategy: RouteAround, Turn: TurnRight, Speed: cfg.RouteAroundSpeed}},
		{"caution at outer edge keeps speed", Assessment{Level: Caution, DistanceCm: 40}, centered,
			Plan{Strategy: SlowAndSteer, SpeedFactor: 1}},
		{"caution halfway", Assessment{Level: Caution, DistanceCm: 30}, centered,
			Plan{Strategy: SlowAndSteer, SpeedFactor: 0.75}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(tt.a, tt.ctx, cfg)
			assert.Equal(t, tt.want.Strategy, got.Strategy)
			assert.Equal(t, tt.want.Turn, got.Turn)
			assert.Equal(t, tt.want.Speed, got.Speed)
			assert.InDelta(t, tt.want.SpeedFactor, got.SpeedFactor, 1e-9)
		})
	}
}

func TestSelect_CautionFactorMonotonic(t *testing.T) {
	cfg := DefaultSelectorConfig()
	prev := 2.0
	for cm := 40.0; cm > 20; cm -= 0.5 {
		p := Select(Assessment{Level: Caution, DistanceCm: cm}, Context{}, cfg)
		require.Equal(t, SlowAndSteer, p.Strategy)
		assert.LessOrEqual(t, p.SpeedFactor, prev)
		assert.GreaterOrEqual(t, p.SpeedFactor, cfg.CautionMinFactor)
		prev = p.SpeedFactor
	}
}

func TestTracker_TrendAndPersistence(t *testing.T) {
	tr := NewTracker(3, 2)

	var o Outlook
	for _, cm := range []float64{38, 34, 30, 26} {
		o = tr.Observe(Classify(valid(cm), healthy, bands))
	}
	assert.Equal(t, Approaching, o.Trend)
	assert.InDelta(t, -4.0, o.SlopeCm, 1e-9)
	assert.True(t, o.Persistent, "four CAUTION ticks in a row")

	o = tr.Observe(Classify(valid(60), healthy, bands))
	assert.False(t, o.Persistent)
	assert.Equal(t, 1, o.LevelTicks)

	tr2 := NewTracker(3, 2)
	for _, cm := range []float64{50, 50.5, 50, 49.8} {
		o = tr2.Observe(Classify(valid(cm), healthy, bands))
	}
	assert.Equal(t, Steady, o.Trend)
	assert.False(t, o.Persistent, "SAFE never persists")

	// Invalid readings do not feed the regression.
	o = tr2.Observe(Classify(distance.Reading{}, healthy, bands))
	assert.Equal(t, Steady, o.Trend)
}

func TestTracker_Stats(t *testing.T) {
	tr := NewTracker(3, 2)
	for _, s := range []Strategy{ResumeNormal, SlowAndSteer, SlowAndSteer, ResumeNormal, ImmediateStop, ImmediateStop, ReverseAndTurn} {
		tr.Record(Plan{Strategy: s})
	}
	st := tr.Stats()
	assert.Equal(t, 3, st.Maneuvers)
	assert.Equal(t, 2, st.ByStrategy["SLOW_AND_STEER"])
	assert.Equal(t, 2, st.ByStrategy["IMMEDIATE_STOP"])
	assert.Equal(t, 0, st.ByStrategy["ROUTE_AROUND"])

	tr.Reset()
	assert.Equal(t, 3, tr.Stats().Maneuvers, "reset keeps counters")
}
