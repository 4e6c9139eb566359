// Package report renders stored runs as PNG plots and a text summary.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/fsutil"
	"github.com/banshee-data/rover/internal/security"
)

// ErrNoTicks is returned when there is nothing to plot.
var ErrNoTicks = errors.New("run has no ticks")

var (
	colorDistance = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorRel      = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	colorLeft     = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	colorRight    = color.RGBA{R: 148, G: 103, B: 189, A: 255}
	colorSpeed    = color.RGBA{R: 80, G: 80, B: 80, A: 255}
)

const (
	plotWidth  = 14 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// Stats describes the distance and timing series of a run.
type Stats struct {
	Ticks          int
	ValidReadings  int
	MeanDistanceCm float64
	StdDistanceCm  float64
	MinDistanceCm  float64
	MeanTickMs     float64
	P95TickMs      float64
	MinReliability float64
	Overruns       int
}

// Summarize computes Stats for ticks, which must be in sequence order.
func Summarize(ticks []db.TickRow) Stats {
	s := Stats{Ticks: len(ticks), MinReliability: 100}
	var dist, dur []float64
	for _, t := range ticks {
		if t.DistanceCm != nil {
			dist = append(dist, *t.DistanceCm)
		}
		dur = append(dur, float64(t.Duration.Microseconds())/1000)
		if t.Reliability < s.MinReliability {
			s.MinReliability = t.Reliability
		}
		if t.Overrun {
			s.Overruns++
		}
	}
	s.ValidReadings = len(dist)
	if len(dist) > 0 {
		s.MeanDistanceCm, s.StdDistanceCm = stat.MeanStdDev(dist, nil)
		s.MinDistanceCm = dist[0]
		for _, d := range dist {
			if d < s.MinDistanceCm {
				s.MinDistanceCm = d
			}
		}
	}
	if len(dur) > 0 {
		s.MeanTickMs = stat.Mean(dur, nil)
		sorted := append([]float64(nil), dur...)
		sort.Float64s(sorted)
		s.P95TickMs = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	}
	return s
}

// WriteSummary prints s for an operator.
func WriteSummary(w io.Writer, run db.Run, s Stats) {
	fmt.Fprintf(w, "run %s (%s) started %s\n", run.ID, run.Mode, run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.EndedAt != nil {
		fmt.Fprintf(w, "  ended %s: %s\n", run.EndedAt.Format("15:04:05"), run.EndReason)
	}
	fmt.Fprintf(w, "  ticks %d, overruns %d, tick mean %.1fms p95 %.1fms\n", s.Ticks, s.Overruns, s.MeanTickMs, s.P95TickMs)
	fmt.Fprintf(w, "  distance valid %d/%d, mean %.1fcm sd %.1f min %.1fcm\n",
		s.ValidReadings, s.Ticks, s.MeanDistanceCm, s.StdDistanceCm, s.MinDistanceCm)
	fmt.Fprintf(w, "  min reliability %.0f\n", s.MinReliability)
}

// WritePlots saves distance, reliability and wheel-speed plots for a run in
// outDir on fsys and returns their paths.
func WritePlots(fsys fsutil.FileSystem, runID string, ticks []db.TickRow, outDir string) ([]string, error) {
	if len(ticks) == 0 {
		return nil, ErrNoTicks
	}
	if err := fsys.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var distPts, relPts, leftPts, rightPts, speedPts plotter.XYs
	for _, t := range ticks {
		x := float64(t.Seq)
		if t.DistanceCm != nil {
			distPts = append(distPts, plotter.XY{X: x, Y: *t.DistanceCm})
		}
		relPts = append(relPts, plotter.XY{X: x, Y: t.Reliability})
		leftPts = append(leftPts, plotter.XY{X: x, Y: float64(t.WheelLeft)})
		rightPts = append(rightPts, plotter.XY{X: x, Y: float64(t.WheelRight)})
		speedPts = append(speedPts, plotter.XY{X: x, Y: float64(t.Speed)})
	}

	var paths []string
	save := func(p *plot.Plot, name string) error {
		path := filepath.Join(outDir, fmt.Sprintf("%s_%s.png", security.SanitizeFilename(shortID(runID)), name))
		wt, err := p.WriterTo(plotWidth, plotHeight, "png")
		if err != nil {
			return fmt.Errorf("render %s: %w", name, err)
		}
		f, err := fsys.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if _, err := wt.WriteTo(f); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
		paths = append(paths, path)
		return nil
	}

	pDist := newPlot(fmt.Sprintf("Run %s - Filtered Distance", shortID(runID)), "Distance (cm)")
	if len(distPts) > 0 {
		sc, err := plotter.NewScatter(distPts)
		if err != nil {
			return nil, err
		}
		sc.Color = colorDistance
		sc.Radius = vg.Points(1.5)
		pDist.Add(sc)
		pDist.Legend.Add("distance", sc)
	}
	if err := save(pDist, "distance"); err != nil {
		return nil, err
	}

	pRel := newPlot(fmt.Sprintf("Run %s - Sensor Reliability", shortID(runID)), "Reliability")
	pRel.Y.Min, pRel.Y.Max = 0, 100
	if err := addLine(pRel, "reliability", relPts, colorRel); err != nil {
		return nil, err
	}
	if err := save(pRel, "reliability"); err != nil {
		return nil, err
	}

	pWheels := newPlot(fmt.Sprintf("Run %s - Motor Commands", shortID(runID)), "Speed (%)")
	pWheels.Y.Min, pWheels.Y.Max = -100, 100
	for _, l := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{
		{"command speed", speedPts, colorSpeed},
		{"left wheel", leftPts, colorLeft},
		{"right wheel", rightPts, colorRight},
	} {
		if err := addLine(pWheels, l.name, l.pts, l.c); err != nil {
			return nil, err
		}
	}
	if err := save(pWheels, "wheels"); err != nil {
		return nil, err
	}
	return paths, nil
}

func newPlot(title, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.Add(plotter.NewGrid())
	return p
}

func addLine(p *plot.Plot, name string, pts plotter.XYs, c color.Color) error {
	l, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	l.Color = c
	l.Width = vg.Points(1)
	p.Add(l)
	p.Legend.Add(name, l)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
