// Package healthsrv serves the standard gRPC health protocol for the robot.
// The control service reports NOT_SERVING while the engine is in EMERGENCY
// or the distance sensor is degraded.
package healthsrv

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/rover/internal/control"
	"github.com/banshee-data/rover/internal/monitoring"
)

// ControlService is the health service name for the control loop. The empty
// service name reports the same status.
const ControlService = "rover.control"

// Server is a control.Observer backed by a gRPC health server.
type Server struct {
	addr   string
	health *health.Server
	server *grpc.Server

	serving  atomic.Bool
	reason   atomic.Pointer[string]
	running  atomic.Bool
	listener net.Listener
	wg       sync.WaitGroup
}

// New returns a server for addr that starts out SERVING.
func New(addr string) *Server {
	s := &Server{addr: addr, health: health.NewServer()}
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.health)
	s.set(true, "")
	return s
}

// Start listens on the configured address.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("health server already running")
	}
	s.listener = lis
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("[health] gRPC health listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("[health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop marks every service NOT_SERVING and shuts the server down.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
}

// Serving reports the current status and, when not serving, why.
func (s *Server) Serving() (bool, string) {
	reason := ""
	if p := s.reason.Load(); p != nil {
		reason = *p
	}
	return s.serving.Load(), reason
}

func (s *Server) ObserveTick(rep *control.TickReport) {
	switch {
	case rep.RunState == control.Emergency:
		s.set(false, "emergency stop latched")
	case rep.Health.Degraded:
		s.set(false, "distance sensor degraded")
	default:
		s.set(true, "")
	}
}

func (s *Server) ObserveEvent(control.Event) {}

func (s *Server) set(ok bool, reason string) {
	s.reason.Store(&reason)
	if s.serving.Swap(ok) == ok {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		monitoring.Opsf("[health] NOT_SERVING: %s", reason)
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ControlService, status)
}
