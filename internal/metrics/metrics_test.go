package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/arbiter"
	"github.com/banshee-data/rover/internal/control"
	"github.com/banshee-data/rover/internal/distance"
)

func TestRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveTick(&control.TickReport{
		Duration: 30 * time.Millisecond,
		RunState: control.Running,
		Distance: distance.Reading{ValueCm: 42, Valid: true},
		Health:   distance.Health{Reliability: 88},
		Command:  arbiter.Command{Action: arbiter.Forward, Priority: arbiter.LineFollowing},
	})
	r.ObserveTick(&control.TickReport{
		Duration: 150 * time.Millisecond,
		Overrun:  true,
		RunState: control.Emergency,
		Health:   distance.Health{Reliability: 20, Degraded: true},
		Command:  arbiter.Command{Action: arbiter.Stop, Priority: arbiter.Emergency},
	})
	r.ObserveEvent(control.Event{Kind: control.EventFault, Fault: "actuator_fault"})
	r.ObserveEvent(control.Event{Kind: control.EventState})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.overruns))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.commands.WithLabelValues("LINE_FOLLOWING", "FORWARD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.commands.WithLabelValues("EMERGENCY", "STOP")))
	assert.Equal(t, 20.0, testutil.ToFloat64(r.reliability))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.distance), "invalid readings keep the last distance")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.degraded))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runState.WithLabelValues("EMERGENCY")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.runState.WithLabelValues("RUNNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.faults.WithLabelValues("actuator_fault")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.events.WithLabelValues("state")))
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	NewRecorder(reg)

	w := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `rover_run_state{state="STOPPED"} 1`), body)
	assert.Contains(t, body, "rover_commands_total")
}
