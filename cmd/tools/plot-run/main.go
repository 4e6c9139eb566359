// plot-run renders one recorded run as PNG plots plus a text summary.
//
//	plot-run -db rover.db [-run <id>] [-out plots/]
//
// Without -run the most recent run is used.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/fsutil"
	"github.com/banshee-data/rover/internal/report"
)

var (
	dbPath = flag.String("db", "rover.db", "telemetry database")
	runID  = flag.String("run", "", "run ID (default: most recent)")
	outDir = flag.String("out", "plots", "output directory")
	limit  = flag.Int("limit", 20000, "maximum ticks to load")
)

func main() {
	flag.Parse()
	if err := run(context.Background()); err != nil {
		log.Fatalf("plot-run: %v", err)
	}
}

func run(ctx context.Context) error {
	store, err := db.OpenDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	id := *runID
	if id == "" {
		runs, err := store.ListRuns(ctx, 1)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return errors.New("no runs recorded")
		}
		id = runs[0].ID
	}
	r, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}

	var ticks []db.TickRow
	var after uint64
	for len(ticks) < *limit {
		page, err := store.Ticks(ctx, id, after, 5000)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		ticks = append(ticks, page...)
		after = page[len(page)-1].Seq
	}

	report.WriteSummary(os.Stdout, r, report.Summarize(ticks))
	paths, err := report.WritePlots(fsutil.OSFileSystem{}, id, ticks, *outDir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println("wrote", p)
	}
	return nil
}
