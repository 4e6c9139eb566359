// rover runs the control engine against the simulator or the bridge board,
// records every tick to SQLite and serves the operator API.
//
//	rover [flags]              drive
//	rover [flags] migrate ...  manage the telemetry schema
//
// Every flag can also be set as ROVER_<NAME> in the environment or in the
// file named by -env (default .env), e.g. ROVER_MODE=bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/rover/internal/api"
	"github.com/banshee-data/rover/internal/bridge"
	"github.com/banshee-data/rover/internal/command"
	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/control"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/healthsrv"
	"github.com/banshee-data/rover/internal/indicator"
	"github.com/banshee-data/rover/internal/metrics"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/serialmux"
	"github.com/banshee-data/rover/internal/sim"
	"github.com/banshee-data/rover/internal/telemetry"
	"github.com/banshee-data/rover/internal/version"
)

type options struct {
	mode        string
	port        string
	portOptions string
	scenario    string
	configPath  string
	dbPath      string
	listen      string
	healthAddr  string
	natsURL     string
	natsPrefix  string
	statusEvery time.Duration
	retention   time.Duration
	autostart   bool
	console     bool
	logDiag     bool
	logTrace    bool
	envFile     string
	showVersion bool
}

func newFlagSet(o *options) *flag.FlagSet {
	flags := flag.NewFlagSet("rover", flag.ContinueOnError)
	flags.StringVar(&o.mode, "mode", "sim", "sim or bridge")
	flags.StringVar(&o.port, "port", "/dev/ttyUSB0", "bridge board serial port (bridge mode)")
	flags.StringVar(&o.portOptions, "port-options", "115200/8N1", "serial settings as baud/bits-parity-stop")
	flags.StringVar(&o.scenario, "scenario", "", "simulator scenario JSON (sim mode, default course if empty)")
	flags.StringVar(&o.configPath, "config", "", "robot config JSON (built-in defaults if empty)")
	flags.StringVar(&o.dbPath, "db", "rover.db", "telemetry database, empty to disable recording")
	flags.StringVar(&o.listen, "listen", ":8080", "HTTP API address, empty to disable")
	flags.StringVar(&o.healthAddr, "health-listen", ":50051", "gRPC health address, empty to disable")
	flags.StringVar(&o.natsURL, "nats", "", "NATS server URL for remote commands and status")
	flags.StringVar(&o.natsPrefix, "nats-prefix", telemetry.DefaultSubjectPrefix, "NATS subject prefix")
	flags.DurationVar(&o.statusEvery, "status-every", time.Second, "NATS status publish interval")
	flags.DurationVar(&o.retention, "retention", 7*24*time.Hour, "delete ticks older than this, 0 keeps everything")
	flags.BoolVar(&o.autostart, "autostart", false, "start driving immediately")
	flags.BoolVar(&o.console, "console", true, "read operator commands from stdin (EOF stops the process)")
	flags.BoolVar(&o.logDiag, "log-diag", false, "enable the diagnostic log stream")
	flags.BoolVar(&o.logTrace, "log-trace", false, "enable the per-tick trace log stream")
	flags.StringVar(&o.envFile, "env", ".env", "environment file loaded before flags are resolved")
	flags.BoolVar(&o.showVersion, "version", false, "print version and exit")
	return flags
}

func envKey(flagName string) string {
	return "ROVER_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnv fills every flag not given on the command line from its
// ROVER_<NAME> variable.
func applyEnv(flags *flag.FlagSet, lookup func(string) (string, bool)) error {
	explicit := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	var errs []error
	flags.VisitAll(func(f *flag.Flag) {
		if explicit[f.Name] {
			return
		}
		key := envKey(f.Name)
		if v, ok := lookup(key); ok {
			if err := flags.Set(f.Name, v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	})
	return errors.Join(errs...)
}

// parseArgs resolves options from args, the environment and the env file,
// in that order of precedence. The remaining positional args are returned.
func parseArgs(args []string, lookup func(string) (string, bool)) (*options, []string, error) {
	o := &options{}
	flags := newFlagSet(o)
	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}
	var file map[string]string
	if o.envFile != "" {
		var err error
		file, err = godotenv.Read(o.envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
	if err := applyEnv(flags, env); err != nil {
		return nil, nil, err
	}
	if o.mode != "sim" && o.mode != "bridge" {
		return nil, nil, fmt.Errorf("unknown mode %q, want sim or bridge", o.mode)
	}
	return o, flags.Args(), nil
}

func main() {
	o, rest, err := parseArgs(os.Args[1:], os.LookupEnv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("rover: %v", err)
	}
	if o.showVersion {
		fmt.Println(version.String())
		return
	}
	if len(rest) > 0 && rest[0] == "migrate" {
		if err := db.RunMigrateCommand(rest[1:], o.dbPath, os.Stdout); err != nil {
			log.Fatalf("rover migrate: %v", err)
		}
		return
	}
	if len(rest) > 0 {
		log.Fatalf("rover: unexpected argument %q", rest[0])
	}

	if o.logDiag {
		monitoring.SetLogWriter(monitoring.Diag, os.Stderr)
	}
	if o.logTrace {
		monitoring.SetLogWriter(monitoring.Trace, os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, o); err != nil {
		log.Fatalf("rover: %v", err)
	}
}

// hardware is whatever implements the engine's ports in the chosen mode.
type hardware interface {
	control.DistanceSensor
	control.LineSensor
	control.MotorDriver
	indicator.Display
}

func run(ctx context.Context, o *options) error {
	monitoring.Logf("%s starting in %s mode", version.String(), o.mode)

	cfg := config.EmptyRobotConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadRobotConfig(o.configPath); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	var hw hardware
	var bridgeMux serialmux.SerialMuxInterface
	switch o.mode {
	case "sim":
		sc := sim.DefaultScenario()
		if o.scenario != "" {
			var err error
			if sc, err = sim.LoadScenario(o.scenario); err != nil {
				return err
			}
		}
		hw = sim.New(sc, nil)
	case "bridge":
		popts, err := serialmux.ParsePortOptions(o.portOptions)
		if err != nil {
			return err
		}
		mux, err := serialmux.NewRealSerialMux(o.port, popts)
		if err != nil {
			if ports, lerr := serialmux.ListPorts(); lerr == nil {
				monitoring.Logf("available serial ports: %v", ports)
			}
			return err
		}
		defer mux.Close()
		board := bridge.New(mux, bridge.Options{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Logf("[bridge] serial monitor stopped: %v", err)
				cancel()
			}
		}()
		go func() {
			defer wg.Done()
			if err := board.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Logf("[bridge] frame dispatch stopped: %v", err)
			}
		}()
		if err := mux.Initialize(); err != nil {
			return err
		}
		monitoring.Logf("bridge board on %s (%s)", o.port, popts)
		hw, bridgeMux = board, mux
	}

	reg := prometheus.NewRegistry()
	observers := []control.Observer{metrics.NewRecorder(reg)}

	var store *db.DB
	var recorder *telemetry.Recorder
	if o.dbPath != "" {
		var err error
		if store, err = db.NewDB(o.dbPath); err != nil {
			return err
		}
		defer store.Close()
		if recorder, err = telemetry.NewRecorder(ctx, telemetry.Options{Store: store, Mode: o.mode, Config: cfg}); err != nil {
			return err
		}
		observers = append(observers, recorder)

		if o.retention > 0 {
			ret, err := telemetry.NewRetention(store, o.retention, time.Hour)
			if err != nil {
				return err
			}
			ret.Start()
			defer ret.Stop()
		}
	}

	if o.healthAddr != "" {
		hs := healthsrv.New(o.healthAddr)
		if err := hs.Start(); err != nil {
			return err
		}
		defer hs.Stop()
		observers = append(observers, hs)
	}

	engine, err := control.New(control.Options{
		Config:    cfg,
		Distance:  hw,
		Line:      hw,
		Motors:    hw,
		Display:   hw,
		Observers: observers,
	})
	if err != nil {
		return err
	}

	endReason := "signal"
	var reasonMu sync.Mutex
	setReason := func(r string) {
		reasonMu.Lock()
		endReason = r
		reasonMu.Unlock()
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()

	if o.autostart {
		if err := engine.Start(); err != nil {
			monitoring.Logf("autostart: %v", err)
		}
	}

	if o.console {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := command.Listener{In: os.Stdin, Out: os.Stdout, Target: engine, OnQuit: func() {
				setReason("quit")
				cancel()
			}}
			if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Logf("console: %v", err)
			}
		}()
	}

	if o.natsURL != "" {
		link, err := telemetry.Dial(o.natsURL, o.natsPrefix, engine, func() any { return engine.StatusSnapshot() })
		if err != nil {
			return err
		}
		defer link.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := link.PublishStatus(ctx, o.statusEvery); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Logf("[nats] status publisher stopped: %v", err)
			}
		}()
	}

	if o.listen != "" {
		var apiStore api.Store
		if store != nil {
			apiStore = store
		}
		apiServer := api.NewServer(engine, apiStore, bridgeMux, cfg)
		if recorder != nil {
			apiServer.SetRun(o.mode, recorder.RunID())
		}
		mux := apiServer.ServeMux()
		mux.Handle("/metrics", metrics.HTTPHandler(reg))
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		if bridgeMux != nil {
			bridgeMux.AttachAdminRoutes(mux)
		}

		srv := &http.Server{Addr: o.listen, Handler: api.LoggingMiddleware(mux)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitoring.Logf("HTTP API listening on %s", o.listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				monitoring.Logf("HTTP server error: %v", err)
				cancel()
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				monitoring.Logf("HTTP server shutdown: %v", err)
			}
		}()
	}

	runErr := <-engineDone
	cancel()
	wg.Wait()

	if recorder != nil {
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		reasonMu.Lock()
		reason := endReason
		reasonMu.Unlock()
		if err := recorder.Close(closeCtx, reason); err != nil {
			monitoring.Logf("finish run: %v", err)
		}
	}
	monitoring.Logf("rover stopped: %s", engine.StatusLine())
	return runErr
}
