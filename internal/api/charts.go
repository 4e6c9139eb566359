package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// maxChartTicks bounds how many ticks one chart loads.
const maxChartTicks = 5000

// runChart renders distance, sensor reliability and commanded speed per tick
// as an HTML page.
func (s *Server) runChart(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	ticks, err := s.store.Ticks(r.Context(), run.ID, 0, maxChartTicks)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve ticks: %v", err))
		return
	}

	xs := make([]uint64, len(ticks))
	dist := make([]opts.LineData, len(ticks))
	rel := make([]opts.LineData, len(ticks))
	speed := make([]opts.LineData, len(ticks))
	for i, t := range ticks {
		xs[i] = t.Seq
		// A gap in the line marks an invalid reading.
		if t.DistanceCm != nil {
			dist[i] = opts.LineData{Value: *t.DistanceCm}
		} else {
			dist[i] = opts.LineData{Value: "-"}
		}
		rel[i] = opts.LineData{Value: t.Reliability}
		speed[i] = opts.LineData{Value: t.Speed, Name: t.Priority}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Rover run " + run.ID, Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Run " + run.ID, Subtitle: fmt.Sprintf("mode=%s ticks=%d", run.Mode, len(ticks))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "cm / %", Min: 0}),
	)
	line.SetXAxis(xs).
		AddSeries("distance_cm", dist, charts.WithLineChartOpts(opts.LineChart{ConnectNulls: opts.Bool(false)})).
		AddSeries("reliability", rel).
		AddSeries("speed", speed, charts.WithLineChartOpts(opts.LineChart{Step: "end"}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
