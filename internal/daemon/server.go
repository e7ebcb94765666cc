package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/matheus3301/deskcache/internal/bus"
	"github.com/matheus3301/deskcache/internal/cache"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix prefixes the per-collection health service names, e.g.
// "deskcache.contacts".
const ServicePrefix = "deskcache."

// Server manages the gRPC health server on the workspace's Unix domain socket.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	store      *cache.Store
	bus        *bus.Bus
	logger     *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewServer creates a gRPC server bound to socketPath.
func NewServer(socketPath string, store *cache.Store, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		store:      store,
		bus:        b,
		logger:     logger,
		stop:       make(chan struct{}),
	}
	s.syncHealth()
	return s, nil
}

// Start watches cache events and serves gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	events, unsub := s.bus.Subscribe("cache.", 64)
	s.syncHealth()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()
		for {
			select {
			case <-events:
				s.syncHealth()
			case <-s.stop:
				return
			}
		}
	}()

	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// syncHealth reports a collection as SERVING once it holds a snapshot.
func (s *Server) syncHealth() {
	for _, st := range s.store.Status() {
		code := healthpb.HealthCheckResponse_NOT_SERVING
		if st.Refreshed {
			code = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(ServicePrefix+st.Name, code)
	}
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC server stopping")
	s.health.Shutdown()
	close(s.stop)
	s.grpcServer.GracefulStop()
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
}
