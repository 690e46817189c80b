package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name of the bridge.
const ServiceName = "realm.rpc.v1.Bridge"

const performRequestMethod = "/" + ServiceName + "/PerformRequest"

const stopGrace = 5 * time.Second

// BridgeServer is the server API of the bridge service. The request struct
// carries "name" and "args"; the response struct is the action's response.
type BridgeServer interface {
	PerformRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var bridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PerformRequest", Handler: performRequestHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "realm/rpc/v1/bridge.proto",
}

func performRequestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BridgeServer).PerformRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: performRequestMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BridgeServer).PerformRequest(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterBridgeServer registers srv on s.
func RegisterBridgeServer(s grpc.ServiceRegistrar, srv BridgeServer) {
	s.RegisterService(&bridgeServiceDesc, srv)
}

type bridgeService struct {
	handler Handler
	logger  *slog.Logger
}

func (b *bridgeService) PerformRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name := in.GetFields()["name"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "request name is required")
	}
	args := fromStruct(in.GetFields()["args"].GetStructValue())
	b.logger.DebugContext(ctx, "request", "name", name)
	out, err := toStruct(b.handler.PerformRequest(name, args))
	if err != nil {
		b.logger.ErrorContext(ctx, "response not encodable", "name", name, "error", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ServerOptions configures NewGRPCServer.
type ServerOptions struct {
	// Health registers grpc.health.v1.Health reporting SERVING.
	Health bool
	// MaxMessageBytes bounds received and sent messages; 0 keeps the gRPC
	// defaults.
	MaxMessageBytes int
	Logger          *slog.Logger
}

// GRPCServer hosts the bridge service.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewGRPCServer builds a gRPC server serving h.
func NewGRPCServer(h Handler, opts ServerOptions) *GRPCServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	serverOpts := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}
	if opts.MaxMessageBytes > 0 {
		serverOpts = append(serverOpts,
			grpc.MaxRecvMsgSize(opts.MaxMessageBytes),
			grpc.MaxSendMsgSize(opts.MaxMessageBytes),
		)
	}
	s := &GRPCServer{server: grpc.NewServer(serverOpts...), logger: logger}
	RegisterBridgeServer(s.server, &bridgeService{handler: h, logger: logger})
	if opts.Health {
		s.health = health.NewServer()
		healthpb.RegisterHealthServer(s.server, s.health)
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	return s
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("serving gRPC", "addr", lis.Addr().String())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	}
}

// Stop marks the service NOT_SERVING and waits up to stopGrace for
// in-flight calls before closing their connections. A request waiting on a
// client callback that never arrives would otherwise block forever.
func (s *GRPCServer) Stop() {
	if s.health != nil {
		s.health.Shutdown()
	}
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.logger.Warn("gRPC graceful stop timed out", "after", stopGrace)
		s.server.Stop()
		<-done
	}
}
