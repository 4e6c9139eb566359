package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the canonical defaults file, relative to the repo root.
const DefaultConfigPath = "config/robot.defaults.json"

// RobotConfig is the engine configuration supplied at construction. Every
// field is optional: an unset field falls back to the default returned by its
// getter, so partial JSON files are safe.
type RobotConfig struct {
	// Control loop
	TickPeriod    *string `json:"tick_period,omitempty"`    // duration string, "100ms"
	SampleTimeout *string `json:"sample_timeout,omitempty"` // per distance probe, "30ms"

	// Distance filter
	MinValidDistanceCm    *float64 `json:"min_valid_distance_cm,omitempty"`
	MaxValidDistanceCm    *float64 `json:"max_valid_distance_cm,omitempty"`
	SampleCount           *int     `json:"sample_count,omitempty"`
	MinSampleQuorum       *int     `json:"min_sample_quorum,omitempty"`
	OutlierThreshold      *float64 `json:"outlier_threshold,omitempty"`
	MaxChangeRateCmPerS   *float64 `json:"max_change_rate_cm_per_s,omitempty"`
	SmoothingFactor       *float64 `json:"smoothing_factor,omitempty"`
	ReliabilityFloor      *float64 `json:"reliability_floor,omitempty"`
	MaxConsecutiveInvalid *int     `json:"max_consecutive_invalid,omitempty"`
	HealthWindow          *int     `json:"health_window,omitempty"`
	HealthInvalidPenalty  *float64 `json:"health_invalid_penalty,omitempty"`
	HealthDecayRate       *float64 `json:"health_decay_rate,omitempty"`
	HealthRecoveryStep    *float64 `json:"health_recovery_step,omitempty"`

	// Line classifier
	StableCount     *int `json:"stable_count,omitempty"`
	LineSampleCount *int `json:"line_sample_count,omitempty"`

	// Rotary disambiguator
	RotaryWindow          *int     `json:"rotary_window,omitempty"`
	RotaryThreshold       *float64 `json:"rotary_threshold,omitempty"`
	RotaryRunBonus        *float64 `json:"rotary_run_bonus,omitempty"`
	RotaryRunBonusMin     *int     `json:"rotary_run_bonus_min,omitempty"`
	ExitStableCount       *int     `json:"exit_stable_count,omitempty"`
	ExitCooldown          *int     `json:"exit_cooldown,omitempty"`
	ExitMinConfidence     *float64 `json:"exit_min_confidence,omitempty"`
	EnterAbortCount       *int     `json:"enter_abort_count,omitempty"`
	RotaryMaxObservations *int     `json:"rotary_max_observations,omitempty"`

	// Risk classifier and obstacle history
	DangerDistanceCm  *float64 `json:"danger_distance_cm,omitempty"`
	WarningDistanceCm *float64 `json:"warning_distance_cm,omitempty"`
	CautionDistanceCm *float64 `json:"caution_distance_cm,omitempty"`
	PersistenceTicks  *int     `json:"persistence_ticks,omitempty"`
	TrendSlopeCm      *float64 `json:"trend_slope_cm,omitempty"`

	// Speeds and steering (percent of full scale)
	NominalSpeed        *int     `json:"nominal_speed,omitempty"`
	SearchSpeed         *int     `json:"search_speed,omitempty"`
	ReverseSpeed        *int     `json:"reverse_speed,omitempty"`
	RouteAroundSpeed    *int     `json:"route_around_speed,omitempty"`
	RotaryEnterSpeed    *int     `json:"rotary_enter_speed,omitempty"`
	RotaryCommitSpeed   *int     `json:"rotary_commit_speed,omitempty"`
	RotaryFallbackSpeed *int     `json:"rotary_fallback_speed,omitempty"`
	RotaryExitSpeed     *int     `json:"rotary_exit_speed,omitempty"`
	TurnSlowdown        *float64 `json:"turn_slowdown,omitempty"`
	SharpTurnOffset     *float64 `json:"sharp_turn_offset,omitempty"`
	CautionMinFactor    *float64 `json:"caution_min_factor,omitempty"`
	CautionAttenuation  *float64 `json:"caution_attenuation,omitempty"`
	WarningAttenuation  *float64 `json:"warning_attenuation,omitempty"`
	InnerWheelRatio     *float64 `json:"inner_wheel_ratio,omitempty"`
	DefaultAvoidTurn    *string  `json:"default_avoid_turn,omitempty"` // "left" or "right"
}

func get[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

// EmptyRobotConfig returns a config with every field unset, which reads as
// the built-in defaults.
func EmptyRobotConfig() *RobotConfig {
	return &RobotConfig{}
}

// LoadRobotConfig reads a JSON config file. Only .json files up to 1MB are
// accepted and the result is validated.
func LoadRobotConfig(path string) (*RobotConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 << 20
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRobotConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory or
// one of its parents. It panics when the file cannot be found; intended for
// tests and the dev binary.
func MustLoadDefaultConfig() *RobotConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadRobotConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from the repository root")
}

// Validate checks value ranges and cross-field ordering.
func (c *RobotConfig) Validate() error {
	for name, p := range map[string]*string{"tick_period": c.TickPeriod, "sample_timeout": c.SampleTimeout} {
		if p == nil || *p == "" {
			continue
		}
		d, err := time.ParseDuration(*p)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *p, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.GetSampleTimeout() >= c.GetTickPeriod() {
		return fmt.Errorf("sample_timeout (%s) must be shorter than tick_period (%s)", c.GetSampleTimeout(), c.GetTickPeriod())
	}

	if lo, hi := c.GetMinValidDistanceCm(), c.GetMaxValidDistanceCm(); lo < 0 || hi <= lo {
		return fmt.Errorf("valid distance band must satisfy 0 <= min < max, got [%g, %g]", lo, hi)
	}
	if n := c.GetSampleCount(); n < 1 || n > 20 {
		return fmt.Errorf("sample_count must be between 1 and 20, got %d", n)
	}
	if q := c.GetMinSampleQuorum(); q < 1 || q > c.GetSampleCount() {
		return fmt.Errorf("min_sample_quorum must be between 1 and sample_count, got %d", q)
	}
	if v := c.GetOutlierThreshold(); v <= 0 {
		return fmt.Errorf("outlier_threshold must be positive, got %g", v)
	}
	if v := c.GetMaxChangeRateCmPerS(); v <= 0 {
		return fmt.Errorf("max_change_rate_cm_per_s must be positive, got %g", v)
	}
	if v := c.GetSmoothingFactor(); v <= 0 || v > 1 {
		return fmt.Errorf("smoothing_factor must be in (0, 1], got %g", v)
	}
	if v := c.GetReliabilityFloor(); v < 0 || v > 100 {
		return fmt.Errorf("reliability_floor must be between 0 and 100, got %g", v)
	}
	if v := c.GetMaxConsecutiveInvalid(); v < 1 {
		return fmt.Errorf("max_consecutive_invalid must be at least 1, got %d", v)
	}
	if v := c.GetHealthWindow(); v < 1 {
		return fmt.Errorf("health_window must be at least 1, got %d", v)
	}

	if v := c.GetStableCount(); v < 1 {
		return fmt.Errorf("stable_count must be at least 1, got %d", v)
	}
	if v := c.GetLineSampleCount(); v < 1 || v%2 == 0 {
		return fmt.Errorf("line_sample_count must be a positive odd number, got %d", v)
	}

	if v := c.GetRotaryWindow(); v < 10 || v > 15 {
		return fmt.Errorf("rotary_window must be between 10 and 15, got %d", v)
	}
	if v := c.GetRotaryThreshold(); v <= 0.5 || v >= 1 {
		return fmt.Errorf("rotary_threshold must be in (0.5, 1), got %g", v)
	}
	if v := c.GetRotaryRunBonus(); v < 0 || v > 0.5 {
		return fmt.Errorf("rotary_run_bonus must be between 0 and 0.5, got %g", v)
	}
	if v := c.GetExitMinConfidence(); v < 0 || v > 1 {
		return fmt.Errorf("exit_min_confidence must be between 0 and 1, got %g", v)
	}
	for name, v := range map[string]int{
		"rotary_run_bonus_min":    c.GetRotaryRunBonusMin(),
		"exit_stable_count":       c.GetExitStableCount(),
		"exit_cooldown":           c.GetExitCooldown(),
		"enter_abort_count":       c.GetEnterAbortCount(),
		"rotary_max_observations": c.GetRotaryMaxObservations(),
		"persistence_ticks":       c.GetPersistenceTicks(),
	} {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, v)
		}
	}

	d, w, ca := c.GetDangerDistanceCm(), c.GetWarningDistanceCm(), c.GetCautionDistanceCm()
	if !(0 < d && d < w && w < ca) {
		return fmt.Errorf("risk bands must satisfy 0 < danger < warning < caution, got %g/%g/%g", d, w, ca)
	}

	for name, v := range map[string]int{
		"nominal_speed":         c.GetNominalSpeed(),
		"search_speed":          c.GetSearchSpeed(),
		"reverse_speed":         c.GetReverseSpeed(),
		"route_around_speed":    c.GetRouteAroundSpeed(),
		"rotary_enter_speed":    c.GetRotaryEnterSpeed(),
		"rotary_commit_speed":   c.GetRotaryCommitSpeed(),
		"rotary_fallback_speed": c.GetRotaryFallbackSpeed(),
		"rotary_exit_speed":     c.GetRotaryExitSpeed(),
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %d", name, v)
		}
	}
	for name, v := range map[string]float64{
		"turn_slowdown":       c.GetTurnSlowdown(),
		"sharp_turn_offset":   c.GetSharpTurnOffset(),
		"caution_min_factor":  c.GetCautionMinFactor(),
		"caution_attenuation": c.GetCautionAttenuation(),
		"warning_attenuation": c.GetWarningAttenuation(),
		"inner_wheel_ratio":   c.GetInnerWheelRatio(),
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %g", name, v)
		}
	}
	if c.GetWarningAttenuation() > c.GetCautionAttenuation() {
		return fmt.Errorf("warning_attenuation (%g) must not exceed caution_attenuation (%g)",
			c.GetWarningAttenuation(), c.GetCautionAttenuation())
	}
	if c.DefaultAvoidTurn != nil {
		switch strings.ToLower(*c.DefaultAvoidTurn) {
		case "left", "right":
		default:
			return fmt.Errorf("default_avoid_turn must be \"left\" or \"right\", got %q", *c.DefaultAvoidTurn)
		}
	}
	return nil
}

func (c *RobotConfig) GetTickPeriod() time.Duration {
	return getDuration(c.TickPeriod, 100*time.Millisecond)
}

func (c *RobotConfig) GetSampleTimeout() time.Duration {
	return getDuration(c.SampleTimeout, 30*time.Millisecond)
}

func (c *RobotConfig) GetMinValidDistanceCm() float64 { return get(c.MinValidDistanceCm, 2.0) }
func (c *RobotConfig) GetMaxValidDistanceCm() float64 { return get(c.MaxValidDistanceCm, 300.0) }
func (c *RobotConfig) GetSampleCount() int            { return get(c.SampleCount, 5) }
func (c *RobotConfig) GetMinSampleQuorum() int        { return get(c.MinSampleQuorum, 2) }
func (c *RobotConfig) GetOutlierThreshold() float64   { return get(c.OutlierThreshold, 3.0) }

// GetMaxChangeRateCmPerS bounds how fast the filtered distance may move.
func (c *RobotConfig) GetMaxChangeRateCmPerS() float64 { return get(c.MaxChangeRateCmPerS, 100.0) }

// GetSmoothingFactor is the weight of the new measurement in the blend.
func (c *RobotConfig) GetSmoothingFactor() float64 { return get(c.SmoothingFactor, 0.7) }

func (c *RobotConfig) GetReliabilityFloor() float64    { return get(c.ReliabilityFloor, 30.0) }
func (c *RobotConfig) GetMaxConsecutiveInvalid() int   { return get(c.MaxConsecutiveInvalid, 5) }
func (c *RobotConfig) GetHealthWindow() int            { return get(c.HealthWindow, 10) }
func (c *RobotConfig) GetHealthInvalidPenalty() float64 { return get(c.HealthInvalidPenalty, 8.0) }
func (c *RobotConfig) GetHealthDecayRate() float64     { return get(c.HealthDecayRate, 30.0) }
func (c *RobotConfig) GetHealthRecoveryStep() float64  { return get(c.HealthRecoveryStep, 2.0) }

func (c *RobotConfig) GetStableCount() int     { return get(c.StableCount, 2) }
func (c *RobotConfig) GetLineSampleCount() int { return get(c.LineSampleCount, 3) }

func (c *RobotConfig) GetRotaryWindow() int             { return get(c.RotaryWindow, 12) }
func (c *RobotConfig) GetRotaryThreshold() float64      { return get(c.RotaryThreshold, 0.60) }
func (c *RobotConfig) GetRotaryRunBonus() float64       { return get(c.RotaryRunBonus, 0.10) }
func (c *RobotConfig) GetRotaryRunBonusMin() int        { return get(c.RotaryRunBonusMin, 3) }
func (c *RobotConfig) GetExitStableCount() int          { return get(c.ExitStableCount, 5) }
func (c *RobotConfig) GetExitCooldown() int             { return get(c.ExitCooldown, 5) }
func (c *RobotConfig) GetExitMinConfidence() float64    { return get(c.ExitMinConfidence, 0.9) }
func (c *RobotConfig) GetEnterAbortCount() int          { return get(c.EnterAbortCount, 3) }
func (c *RobotConfig) GetRotaryMaxObservations() int    { return get(c.RotaryMaxObservations, 100) }
func (c *RobotConfig) GetDangerDistanceCm() float64     { return get(c.DangerDistanceCm, 10.0) }
func (c *RobotConfig) GetWarningDistanceCm() float64    { return get(c.WarningDistanceCm, 20.0) }
func (c *RobotConfig) GetCautionDistanceCm() float64    { return get(c.CautionDistanceCm, 40.0) }
func (c *RobotConfig) GetPersistenceTicks() int         { return get(c.PersistenceTicks, 3) }
func (c *RobotConfig) GetTrendSlopeCm() float64         { return get(c.TrendSlopeCm, 2.0) }
func (c *RobotConfig) GetNominalSpeed() int             { return get(c.NominalSpeed, 60) }
func (c *RobotConfig) GetSearchSpeed() int              { return get(c.SearchSpeed, 35) }
func (c *RobotConfig) GetReverseSpeed() int             { return get(c.ReverseSpeed, 40) }
func (c *RobotConfig) GetRouteAroundSpeed() int         { return get(c.RouteAroundSpeed, 40) }
func (c *RobotConfig) GetRotaryEnterSpeed() int         { return get(c.RotaryEnterSpeed, 50) }
func (c *RobotConfig) GetRotaryCommitSpeed() int        { return get(c.RotaryCommitSpeed, 55) }
func (c *RobotConfig) GetRotaryFallbackSpeed() int      { return get(c.RotaryFallbackSpeed, 45) }
func (c *RobotConfig) GetRotaryExitSpeed() int          { return get(c.RotaryExitSpeed, 60) }
func (c *RobotConfig) GetTurnSlowdown() float64         { return get(c.TurnSlowdown, 0.4) }
func (c *RobotConfig) GetSharpTurnOffset() float64      { return get(c.SharpTurnOffset, 0.75) }
func (c *RobotConfig) GetCautionMinFactor() float64     { return get(c.CautionMinFactor, 0.5) }
func (c *RobotConfig) GetCautionAttenuation() float64   { return get(c.CautionAttenuation, 0.8) }
func (c *RobotConfig) GetWarningAttenuation() float64   { return get(c.WarningAttenuation, 0.6) }
func (c *RobotConfig) GetInnerWheelRatio() float64      { return get(c.InnerWheelRatio, 0.6) }

// GetDefaultAvoidTurn returns "left" or "right".
func (c *RobotConfig) GetDefaultAvoidTurn() string {
	if c.DefaultAvoidTurn == nil || *c.DefaultAvoidTurn == "" {
		return "right"
	}
	return strings.ToLower(*c.DefaultAvoidTurn)
}
