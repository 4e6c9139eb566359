package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigReadsDefaults(t *testing.T) {
	cfg := EmptyRobotConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100*time.Millisecond, cfg.GetTickPeriod())
	assert.Equal(t, 30*time.Millisecond, cfg.GetSampleTimeout())
	assert.Equal(t, 2.0, cfg.GetMinValidDistanceCm())
	assert.Equal(t, 300.0, cfg.GetMaxValidDistanceCm())
	assert.Equal(t, 5, cfg.GetSampleCount())
	assert.Equal(t, 3.0, cfg.GetOutlierThreshold())
	assert.Equal(t, 0.60, cfg.GetRotaryThreshold())
	assert.Equal(t, 2, cfg.GetStableCount())
	assert.Equal(t, 30.0, cfg.GetReliabilityFloor())
	assert.Equal(t, 5, cfg.GetMaxConsecutiveInvalid())
	assert.Equal(t, "right", cfg.GetDefaultAvoidTurn())
}

// The checked-in defaults file must agree with the getters, otherwise the
// binary and the tests would run different tunings.
func TestDefaultsFileMatchesGetters(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	builtin := EmptyRobotConfig()

	type snapshot struct {
		Tick, Timeout                     time.Duration
		Min, Max, Outlier, Rate, Smooth   float64
		Samples, Quorum, Stable, Window   int
		Floor, Penalty, Decay, Recovery   float64
		MaxInvalid, HealthWindow, LineN   int
		RotThreshold, Bonus, ExitConf     float64
		BonusMin, ExitStable, Cooldown    int
		Abort, MaxObs, Persist            int
		Danger, Warning, Caution, Slope   float64
		Nominal, Search, Reverse, Route   int
		Enter, Commit, Fallback, Exit     int
		Slowdown, Sharp, CautionMin       float64
		CautionAtt, WarningAtt, InnerRate float64
		AvoidTurn                         string
	}
	snap := func(c *RobotConfig) snapshot {
		return snapshot{
			c.GetTickPeriod(), c.GetSampleTimeout(),
			c.GetMinValidDistanceCm(), c.GetMaxValidDistanceCm(), c.GetOutlierThreshold(), c.GetMaxChangeRateCmPerS(), c.GetSmoothingFactor(),
			c.GetSampleCount(), c.GetMinSampleQuorum(), c.GetStableCount(), c.GetRotaryWindow(),
			c.GetReliabilityFloor(), c.GetHealthInvalidPenalty(), c.GetHealthDecayRate(), c.GetHealthRecoveryStep(),
			c.GetMaxConsecutiveInvalid(), c.GetHealthWindow(), c.GetLineSampleCount(),
			c.GetRotaryThreshold(), c.GetRotaryRunBonus(), c.GetExitMinConfidence(),
			c.GetRotaryRunBonusMin(), c.GetExitStableCount(), c.GetExitCooldown(),
			c.GetEnterAbortCount(), c.GetRotaryMaxObservations(), c.GetPersistenceTicks(),
			c.GetDangerDistanceCm(), c.GetWarningDistanceCm(), c.GetCautionDistanceCm(), c.GetTrendSlopeCm(),
			c.GetNominalSpeed(), c.GetSearchSpeed(), c.GetReverseSpeed(), c.GetRouteAroundSpeed(),
			c.GetRotaryEnterSpeed(), c.GetRotaryCommitSpeed(), c.GetRotaryFallbackSpeed(), c.GetRotaryExitSpeed(),
			c.GetTurnSlowdown(), c.GetSharpTurnOffset(), c.GetCautionMinFactor(),
			c.GetCautionAttenuation(), c.GetWarningAttenuation(), c.GetInnerWheelRatio(),
			c.GetDefaultAvoidTurn(),
		}
	}
	if diff := cmp.Diff(snap(builtin), snap(fromFile)); diff != "" {
		t.Errorf("defaults file drifted from getters (-builtin +file):\n%s", diff)
	}
}

func TestLoadRobotConfig_Partial(t *testing.T) {
	path := writeConfig(t, "robot.json", `{"sample_count": 7, "tick_period": "50ms", "default_avoid_turn": "LEFT"}`)

	cfg, err := LoadRobotConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.GetSampleCount())
	assert.Equal(t, 50*time.Millisecond, cfg.GetTickPeriod())
	assert.Equal(t, "left", cfg.GetDefaultAvoidTurn())
	// Untouched fields keep their defaults.
	assert.Equal(t, 3.0, cfg.GetOutlierThreshold())
}

func TestLoadRobotConfig_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"non-json extension", "robot.yaml", `{}`, ".json extension"},
		{"malformed", "robot.json", `{"sample_count": `, "parse config JSON"},
		{"bad duration", "robot.json", `{"tick_period": "soon"}`, "invalid tick_period"},
		{"timeout longer than period", "robot.json", `{"tick_period": "20ms", "sample_timeout": "30ms"}`, "must be shorter"},
		{"inverted band", "robot.json", `{"min_valid_distance_cm": 50, "max_valid_distance_cm": 10}`, "valid distance band"},
		{"quorum above samples", "robot.json", `{"sample_count": 3, "min_sample_quorum": 4}`, "min_sample_quorum"},
		{"rotary window too small", "robot.json", `{"rotary_window": 6}`, "rotary_window"},
		{"threshold at coin flip", "robot.json", `{"rotary_threshold": 0.5}`, "rotary_threshold"},
		{"even line samples", "robot.json", `{"line_sample_count": 2}`, "line_sample_count"},
		{"unordered risk bands", "robot.json", `{"danger_distance_cm": 25}`, "risk bands"},
		{"speed over 100", "robot.json", `{"nominal_speed": 120}`, "nominal_speed"},
		{"attenuation inverted", "robot.json", `{"warning_attenuation": 0.9}`, "warning_attenuation"},
		{"unknown turn", "robot.json", `{"default_avoid_turn": "up"}`, "default_avoid_turn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRobotConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRobotConfig_Missing(t *testing.T) {
	_, err := LoadRobotConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")
}

func TestLoadRobotConfig_TooLarge(t *testing.T) {
	big := `{"sample_count": 5, "pad": "` + strings.Repeat("x", 1<<20) + `"}`
	_, err := LoadRobotConfig(writeConfig(t, "big.json", big))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestRobotConfigRoundTripsOmitEmpty(t *testing.T) {
	data, err := json.Marshal(EmptyRobotConfig())
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
