// roverctl sends operator commands to a running rover over its HTTP API.
//
//	roverctl [-addr http://localhost:8080] start|stop|emergency|restart|status|runs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/banshee-data/rover/internal/api"
	"github.com/banshee-data/rover/internal/command"
	"github.com/banshee-data/rover/internal/control"
)

var (
	addr    = flag.String("addr", envOr("ROVER_ADDR", "http://localhost:8080"), "rover API address")
	timeout = flag.Duration("timeout", 5*time.Second, "request timeout")
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: roverctl [-addr URL] start|stop|emergency|restart|status|runs")
		os.Exit(2)
	}
	c, err := api.NewClient(*addr, &http.Client{Timeout: *timeout})
	if err != nil {
		fmt.Fprintln(os.Stderr, "roverctl:", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := run(ctx, c, flag.Arg(0), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "roverctl:", err)
		if errors.Is(err, control.ErrEmergencyLatched) {
			fmt.Fprintln(os.Stderr, "  send 'restart' to clear the emergency stop")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, c *api.Client, arg string, out io.Writer) error {
	if arg == "runs" {
		runs, err := c.Runs(ctx, 20)
		if err != nil {
			return err
		}
		for _, r := range runs {
			end := r.EndReason
			if r.EndedAt == nil {
				end = "active"
			}
			fmt.Fprintf(out, "%s  %-6s  %s  ticks=%d  %s\n", r.ID, r.Mode, r.StartedAt.Local().Format(time.DateTime), r.Ticks, end)
		}
		return nil
	}

	op, err := command.Parse(arg)
	if err != nil {
		return err
	}
	switch op {
	case command.OpStatus:
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, st.StatusLine)
		return nil
	case command.OpHelp:
		fmt.Fprint(out, command.Help)
		return nil
	case command.OpNone, command.OpQuit:
		return fmt.Errorf("%s cannot be sent remotely", op)
	}
	if err := c.Control(ctx, op); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s accepted\n", op)
	return nil
}
