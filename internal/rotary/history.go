package rotary

import (
	"time"

	"github.com/banshee-data/rover/internal/line"
)

// Observation is one raw line classification as seen by the disambiguator.
type Observation struct {
	Position   line.Position `json:"position"`
	Confidence float64       `json:"confidence"`
	Triplet    line.Triplet  `json:"triplet"`
	At         time.Time     `json:"at"`
}

// side maps a position to the side of the robot the line is on.
func (o Observation) side() (Direction, bool) {
	switch o.Position.Kind {
	case line.Left:
		return Left, true
	case line.Right:
		return Right, true
	case line.Center:
		return Straight, true
	case line.Lost, line.Multiple:
		return Straight, false
	}
	return Straight, false
}

// History is a fixed-capacity ring of observations. Pushing onto a full
// history evicts the oldest entry.
type History struct {
	buf   []Observation
	start int
	n     int
}

// NewHistory returns an empty history holding up to capacity entries.
func NewHistory(capacity int) *History {
	return &History{buf: make([]Observation, max(capacity, 1))}
}

func (h *History) Cap() int { return len(h.buf) }
func (h *History) Len() int { return h.n }

// Push appends o.
func (h *History) Push(o Observation) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = o
		h.n++
		return
	}
	h.buf[h.start] = o
	h.start = (h.start + 1) % len(h.buf)
}

// Last returns up to k most recent entries, oldest first.
func (h *History) Last(k int) []Observation {
	if k > h.n {
		k = h.n
	}
	out := make([]Observation, k)
	for i := 0; i < k; i++ {
		out[i] = h.buf[(h.start+h.n-k+i)%len(h.buf)]
	}
	return out
}

// All returns every entry, oldest first.
func (h *History) All() []Observation { return h.Last(h.n) }

// Reset empties the history.
func (h *History) Reset() {
	h.start, h.n = 0, 0
}
