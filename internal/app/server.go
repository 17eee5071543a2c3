package app

import (
	"context"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lobbybee/frontdesk/internal/bus"
	"github.com/lobbybee/frontdesk/internal/profile"
	"github.com/lobbybee/frontdesk/internal/status"
)

// ChatService is the health service name that tracks the chat socket.
// The empty service name reports the process itself.
const ChatService = "frontdesk.chat"

// Server exposes the gRPC health protocol on the profile's Unix socket.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a health server bound to the profile's Unix domain socket.
func NewServer(p Params, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}

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
	hs.SetServingStatus(ChatService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// SetChatState maps a socket state onto the chat service status.
func (s *Server) SetChatState(st status.State) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st == status.Connected {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ChatService, serving)
}

// Watch follows socket state changes on b until ctx is done.
func (s *Server) Watch(ctx context.Context, b *bus.Bus) {
	events, cancel := b.Subscribe(bus.KindTransportStatus, 16)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				if change, ok := evt.Payload.(status.StatusChange); ok {
					s.SetChatState(change.To)
				}
			}
		}
	}()
}

// Stop marks every service as not serving, shuts down gracefully and
// removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("health server stopping")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
