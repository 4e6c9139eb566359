// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/rover/internal/arbiter"
	"github.com/banshee-data/rover/internal/control"
)

const namespace = "rover"

// Recorder is a control.Observer that updates Prometheus collectors.
type Recorder struct {
	tickDuration prom.Histogram
	ticks        prom.Counter
	overruns     prom.Counter
	commands     *prom.CounterVec
	events       *prom.CounterVec
	faults       *prom.CounterVec
	reliability  prom.Gauge
	distance     prom.Gauge
	degraded     prom.Gauge
	runState     *prom.GaugeVec
}

// NewRecorder registers the collectors with reg, or a fresh registry when
// reg is nil.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		tickDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one control tick",
			Buckets:   []float64{.005, .01, .02, .04, .06, .08, .1, .15, .25},
		}),
		ticks: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Control ticks executed",
		}),
		overruns: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tick_overruns_total",
			Help:      "Ticks that took longer than the tick period",
		}),
		commands: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Arbitrated motion commands by priority and action",
		}, []string{"priority", "action"}),
		events: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Engine events by kind",
		}, []string{"kind"}),
		faults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Faults by kind",
		}, []string{"kind"}),
		reliability: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "distance_reliability",
			Help:      "Distance sensor reliability score, 0 to 100",
		}),
		distance: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "distance_cm",
			Help:      "Last valid filtered distance",
		}),
		degraded: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "distance_degraded",
			Help:      "1 while the distance sensor is degraded",
		}),
		runState: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "run_state",
			Help:      "1 for the current run state, 0 for the others",
		}, []string{"state"}),
	}
	reg.MustRegister(r.tickDuration, r.ticks, r.overruns, r.commands, r.events,
		r.faults, r.reliability, r.distance, r.degraded, r.runState)

	// Pre-create label sets so dashboards see zeros before the first tick.
	for _, p := range arbiter.Priorities() {
		r.commands.WithLabelValues(p.String(), arbiter.Stop.String())
	}
	r.setState(control.Stopped)
	return r
}

func (r *Recorder) ObserveTick(rep *control.TickReport) {
	r.ticks.Inc()
	r.tickDuration.Observe(rep.Duration.Seconds())
	if rep.Overrun {
		r.overruns.Inc()
	}
	r.commands.WithLabelValues(rep.Command.Priority.String(), rep.Command.Action.String()).Inc()
	r.reliability.Set(rep.Health.Reliability)
	if rep.Distance.Valid {
		r.distance.Set(rep.Distance.ValueCm)
	}
	if rep.Health.Degraded {
		r.degraded.Set(1)
	} else {
		r.degraded.Set(0)
	}
	r.setState(rep.RunState)
}

func (r *Recorder) ObserveEvent(ev control.Event) {
	r.events.WithLabelValues(ev.Kind).Inc()
	if ev.Kind == control.EventFault && ev.Fault != "" {
		r.faults.WithLabelValues(ev.Fault).Inc()
	}
}

func (r *Recorder) setState(s control.RunState) {
	for _, st := range []control.RunState{control.Stopped, control.Running, control.Emergency} {
		v := 0.0
		if st == s {
			v = 1
		}
		r.runState.WithLabelValues(st.String()).Set(v)
	}
}

// HTTPHandler serves reg in the Prometheus exposition format.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
