package monitoring

import (
	"io"
	"log"
	"sync"
)

// Logf is the general-purpose logger used by the application shell. It defaults
// to log.Printf; SetLogger swaps it (tests mute it with SetLogger(nil)).
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. A nil function installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Level selects one of the engine's log streams.
type Level int

const (
	// Ops carries lifecycle events, faults and overruns. On by default.
	Ops Level = iota
	// Diag carries tuning context: state transitions, health changes.
	Diag
	// Trace carries one line per control tick.
	Trace
)

// LogWriters holds the destination of each stream. A nil writer disables it.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	streamsMu sync.RWMutex
	streams   = [3]*log.Logger{newStream(log.Writer())}
)

func newStream(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[rover] ", log.LstdFlags|log.Lmicroseconds)
}

// SetLogWriters configures all three streams at once.
func SetLogWriters(w LogWriters) {
	streamsMu.Lock()
	defer streamsMu.Unlock()
	streams[Ops] = newStream(w.Ops)
	streams[Diag] = newStream(w.Diag)
	streams[Trace] = newStream(w.Trace)
}

// SetLogWriter replaces a single stream, leaving the others untouched.
func SetLogWriter(level Level, w io.Writer) {
	if level < Ops || level > Trace {
		return
	}
	streamsMu.Lock()
	defer streamsMu.Unlock()
	streams[level] = newStream(w)
}

func logTo(level Level, format string, args ...interface{}) {
	streamsMu.RLock()
	l := streams[level]
	streamsMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) { logTo(Ops, format, args...) }

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) { logTo(Diag, format, args...) }

// Tracef logs to the trace stream (high frequency, keep it off in production).
func Tracef(format string, args ...interface{}) { logTo(Trace, format, args...) }
