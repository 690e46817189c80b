package transport

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/SACHINnANYAKKARA/realm-js/internal/rpc"
)

// Client calls a remote bridge over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// DefaultDialOptions returns the dial options Dial uses before any caller
// supplied ones.
func DefaultDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// Dial creates a client for target. The connection is established lazily.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, append(DefaultDialOptions(), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// PerformRequest sends one request and returns the response message.
func (c *Client) PerformRequest(ctx context.Context, name string, args rpc.Message) (rpc.Message, error) {
	argStruct, err := toStruct(args)
	if err != nil {
		return nil, err
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"name": structpb.NewStringValue(name),
		"args": structpb.NewStructValue(argStruct),
	}}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, performRequestMethod, in, out); err != nil {
		return nil, err
	}
	return fromStruct(out), nil
}

// WaitForHealth blocks until the bridge reports SERVING or ctx ends.
func (c *Client) WaitForHealth(ctx context.Context) error {
	healthClient := healthpb.NewHealthClient(c.conn)
	backoff := 50 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		resp, err := healthClient.Check(callCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
		cancel()
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff = min(2*backoff, time.Second)
		}
	}
}
