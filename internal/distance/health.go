package distance

import "math"

// maxStreakMultiplier caps how quickly a valid streak restores reliability.
const maxStreakMultiplier = 5

// Health is a snapshot of the distance sensor's recent reliability.
type Health struct {
	Reliability        float64 `json:"reliability"` // 0..100
	ConsecutiveInvalid int     `json:"consecutive_invalid"`
	Degraded           bool    `json:"degraded"`
}

// healthTracker keeps the trailing validity window. Owned by the Filter.
type healthTracker struct {
	cfg Config

	reliability float64
	consecutive int
	streak      int

	window []bool // true = invalid
	next   int
}

func newHealthTracker(cfg Config) *healthTracker {
	n := cfg.HealthWindow
	if n < 1 {
		n = 1
	}
	h := &healthTracker{cfg: cfg, window: make([]bool, n)}
	h.reset()
	return h
}

func (h *healthTracker) reset() {
	h.reliability = 100
	h.consecutive = 0
	h.streak = 0
	h.next = 0
	for i := range h.window {
		h.window[i] = false
	}
}

func (h *healthTracker) update(valid bool) Health {
	h.window[h.next] = !valid
	h.next = (h.next + 1) % len(h.window)

	if valid {
		h.consecutive = 0
		h.streak++
		h.reliability += h.cfg.RecoveryStep * float64(min(h.streak, maxStreakMultiplier))
	} else {
		h.consecutive++
		h.streak = 0
		h.reliability -= h.cfg.InvalidPenalty + h.cfg.DecayRate*h.invalidRatio()
	}
	h.reliability = math.Max(0, math.Min(100, h.reliability))
	return h.snapshot()
}

func (h *healthTracker) invalidRatio() float64 {
	bad := 0
	for _, b := range h.window {
		if b {
			bad++
		}
	}
	return float64(bad) / float64(len(h.window))
}

func (h *healthTracker) snapshot() Health {
	return Health{
		Reliability:        h.reliability,
		ConsecutiveInvalid: h.consecutive,
		Degraded:           h.reliability < h.cfg.ReliabilityFloor || h.consecutive >= h.cfg.MaxConsecutiveBad,
	}
}
