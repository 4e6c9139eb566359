package control

import (
	"fmt"
	"time"

	"github.com/banshee-data/rover/internal/arbiter"
	"github.com/banshee-data/rover/internal/distance"
	"github.com/banshee-data/rover/internal/drive"
	"github.com/banshee-data/rover/internal/line"
	"github.com/banshee-data/rover/internal/obstacle"
	"github.com/banshee-data/rover/internal/rotary"
)

// TickReport is everything one tick saw and did. It is not modified after
// it has been handed to observers.
type TickReport struct {
	Seq      uint64        `json:"seq"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration_ns"`
	Overrun  bool          `json:"overrun"`
	RunState RunState      `json:"run_state"`

	Distance distance.Reading    `json:"distance"`
	Health   distance.Health     `json:"health"`
	RawLine  line.Classification `json:"raw_line"`
	Line     line.Classification `json:"line"`
	Rotary   rotary.Decision     `json:"rotary"`
	Risk     obstacle.Assessment `json:"risk"`
	Outlook  obstacle.Outlook    `json:"outlook"`
	Plan     obstacle.Plan       `json:"plan"`
	Command  arbiter.Command     `json:"command"`
	Wheels   drive.Wheels        `json:"wheels"`

	// Fault is the error that aborted or degraded the tick, if any.
	Fault string `json:"fault,omitempty"`
}

// PerfStats describes loop timing since Run started.
type PerfStats struct {
	Ticks       uint64        `json:"ticks"`
	Overruns    uint64        `json:"overruns"`
	LastTick    time.Duration `json:"last_tick_ns"`
	MaxTick     time.Duration `json:"max_tick_ns"`
	AvgHz       float64       `json:"avg_hz"`
	Uptime      time.Duration `json:"uptime_ns"`
	DroppedReqs uint64        `json:"dropped_requests"`
}

// Snapshot is the StatusSnapshot result.
type Snapshot struct {
	StateView
	Health    distance.Health   `json:"health"`
	Last      *TickReport       `json:"last_tick,omitempty"`
	Perf      PerfStats         `json:"perf"`
	Avoidance obstacle.Stats    `json:"avoidance"`
	Faults    map[string]uint64 `json:"faults"`
}

// loopStats is published by the loop after every tick and read lock-free.
type loopStats struct {
	last      *TickReport
	perf      PerfStats
	avoidance obstacle.Stats
	faults    map[string]uint64
}

// StatusLine renders a snapshot for the operator console.
func (s Snapshot) StatusLine() string {
	line := fmt.Sprintf("%s reliability=%.0f", s.State, s.Health.Reliability)
	if s.Reason != "" {
		line += fmt.Sprintf(" (%s)", s.Reason)
	}
	if s.Last == nil {
		return line + " no ticks yet"
	}
	dist := "n/a"
	if s.Last.Distance.Valid {
		dist = fmt.Sprintf("%.1fcm", s.Last.Distance.ValueCm)
	}
	return fmt.Sprintf("%s tick=%d hz=%.1f overruns=%d dist=%s risk=%s line=%s rotary=%s cmd=%s",
		line, s.Last.Seq, s.Perf.AvgHz, s.Perf.Overruns, dist, s.Last.Risk.Level,
		s.Last.Line.Position, s.Last.Rotary.State, s.Last.Command)
}
