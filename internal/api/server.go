package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/rover/internal/command"
	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/control"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/httputil"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/serialmux"
	"github.com/banshee-data/rover/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Engine is the part of *control.Engine the API drives.
type Engine interface {
	StatusSnapshot() control.Snapshot
	Submit(op command.Op) error
}

// Store is the part of *db.DB the API reads.
type Store interface {
	ListRuns(ctx context.Context, limit int) ([]db.Run, error)
	GetRun(ctx context.Context, id string) (db.Run, error)
	Ticks(ctx context.Context, runID string, afterSeq uint64, limit int) ([]db.TickRow, error)
	Events(ctx context.Context, runID, kind string, limit int) ([]db.Event, error)
	RunSummary(ctx context.Context, runID string) (db.RunSummary, error)
}

type Server struct {
	engine Engine
	store  Store
	m      serialmux.SerialMuxInterface
	cfg    *config.RobotConfig
	mode   string
	runID  string
}

// NewServer builds the API. store and m may be nil, in which case their
// routes answer 503.
func NewServer(engine Engine, store Store, m serialmux.SerialMuxInterface, cfg *config.RobotConfig) *Server {
	if cfg == nil {
		cfg = config.EmptyRobotConfig()
	}
	return &Server{engine: engine, store: store, m: m, cfg: cfg}
}

// SetRun names the mode and run being recorded, shown by /api/config.
func (s *Server) SetRun(mode, runID string) {
	s.mode, s.runID = mode, runID
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/control", s.controlHandler)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.showRun)
	mux.HandleFunc("GET /api/runs/{id}/ticks", s.listTicks)
	mux.HandleFunc("GET /api/runs/{id}/events", s.listEvents)
	mux.HandleFunc("GET /api/runs/{id}/chart", s.runChart)
	mux.HandleFunc("/command", s.sendCommandHandler)
	return mux
}

// sendCommandHandler writes one raw line to the bridge board.
func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.m == nil {
		http.Error(w, "No bridge attached", http.StatusServiceUnavailable)
		return
	}
	cmd := strings.TrimSpace(r.FormValue("command"))
	if cmd == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.m.SendCommand(cmd); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSONError(w, status, msg)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	snap := s.engine.StatusSnapshot()
	s.writeJSON(w, struct {
		control.Snapshot
		StatusLine string `json:"status_line"`
	}{snap, snap.StatusLine()})
}

// controlHandler accepts {"op":"start"} or a form value op=start.
func (s *Server) controlHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req struct {
		Op string `json:"op"`
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
	} else {
		req.Op = r.FormValue("op")
	}

	op, err := command.Parse(req.Op)
	if err != nil || op == command.OpNone {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid op %q", req.Op))
		return
	}
	switch op {
	case command.OpQuit, command.OpHelp, command.OpStatus:
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Op %s is console only", op))
		return
	}

	if err := s.engine.Submit(op); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, control.ErrEmergencyLatched):
			status = http.StatusConflict
		case errors.Is(err, control.ErrBusy):
			status = http.StatusServiceUnavailable
		}
		s.writeJSONError(w, status, err.Error())
		return
	}
	monitoring.Logf("[api] %s requested by %s", op, r.RemoteAddr)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"op": op.String(), "status": "accepted"})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, map[string]any{
		"mode":    s.mode,
		"run_id":  s.runID,
		"robot":   s.cfg,
		"version": version.Current(),
	})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid '%s' parameter", name)
	}
	return n, nil
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Telemetry store disabled")
		return false
	}
	return true
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.requireStore(w) {
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	s.writeJSON(w, runs)
}

// lookupRun writes the error response and returns false when the run is
// unknown.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (db.Run, bool) {
	if !s.requireStore(w) {
		return db.Run{}, false
	}
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrRunNotFound) {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return db.Run{}, false
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve run: %v", err))
		return db.Run{}, false
	}
	return run, true
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	summary, err := s.store.RunSummary(r.Context(), run.ID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to summarise run: %v", err))
		return
	}
	s.writeJSON(w, map[string]any{"run": run, "summary": summary})
}

func (s *Server) listTicks(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	after, err := queryInt(r, "after", 0)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 500)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	ticks, err := s.store.Ticks(r.Context(), run.ID, uint64(after), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve ticks: %v", err))
		return
	}
	s.writeJSON(w, ticks)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	events, err := s.store.Events(r.Context(), run.ID, r.URL.Query().Get("kind"), 0)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	s.writeJSON(w, events)
}
