// Package adminrpc exposes broker health and snapshots over gRPC.
package adminrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/broker"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Source is the broker state served by GetSnapshot.
type Source interface {
	Snapshot(ctx context.Context) (*broker.Snapshot, error)
}

// Server is the admin gRPC server.
type Server struct {
	config *Config
	source Source
	logger zerolog.Logger
	grpc   *grpc.Server
	health *health.Server
}

// NewServer creates a server. Health starts as NOT_SERVING until SetServing(true).
func NewServer(source Source, config *Config, logger zerolog.Logger) (*Server, error) {
	if source == nil {
		return nil, errors.New("source cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	configCopy := *config
	configCopy.SetDefaults()

	s := &Server{
		config: &configCopy,
		source: source,
		logger: logger,
		health: health.NewServer(),
	}
	s.grpc = grpc.NewServer(
		grpc.MaxRecvMsgSize(configCopy.MaxMessageSize),
		grpc.MaxSendMsgSize(configCopy.MaxMessageSize),
		grpc.ChainUnaryInterceptor(s.logUnary),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	RegisterAdminServer(s.grpc, s)
	s.SetServing(false)
	return s, nil
}

// SetServing flips the health status of the server and the admin service.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin gRPC listening")
	return s.grpc.Serve(ln)
}

// Stop marks the server NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// GetSnapshot returns the broker snapshot in its JSON shape.
func (s *Server) GetSnapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.SnapshotTimeout)
	defer cancel()

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrNotRunning):
			return nil, status.Error(codes.Unavailable, err.Error())
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return nil, status.FromContextError(err).Err()
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode snapshot: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "convert snapshot: %v", err)
	}
	return out, nil
}

func (s *Server) logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	ev := s.logger.Debug()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str("method", info.FullMethod).
		Stringer("code", status.Code(err)).
		Dur("elapsed", time.Since(start)).
		Msg("grpc call")
	return resp, err
}
