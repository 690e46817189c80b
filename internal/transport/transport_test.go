package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/SACHINnANYAKKARA/realm-js/internal/logging"
	"github.com/SACHINnANYAKKARA/realm-js/internal/rpc"
)

// recordingHandler answers every request with the request it saw.
type recordingHandler struct {
	mu    sync.Mutex
	names []string
}

func (h *recordingHandler) PerformRequest(name string, args rpc.Message) rpc.Message {
	h.mu.Lock()
	h.names = append(h.names, name)
	h.mu.Unlock()
	if name == "/fail" {
		return rpc.Failure("boom")
	}
	return rpc.Result(map[string]any{"name": name, "args": map[string]any(args), "handle": uint64(7)})
}

// startGRPC serves h over an in-memory listener and returns a connected
// client.
func startGRPC(t *testing.T, h Handler, opts ServerOptions) (*Client, *GRPCServer) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(h, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStructConversion(t *testing.T) {
	t.Parallel()
	in := rpc.Message{
		"result": rpc.Message{"id": uint64(3), "nested": []any{int64(1), "x", nil, true}},
	}
	s, err := toStruct(in)
	require.NoError(t, err)
	assert.Equal(t, rpc.Message{
		"result": map[string]any{"id": float64(3), "nested": []any{float64(1), "x", nil, true}},
	}, fromStruct(s))

	empty, err := toStruct(nil)
	require.NoError(t, err)
	assert.Empty(t, fromStruct(empty))
	assert.Equal(t, rpc.Message{}, fromStruct(nil))
}

func TestGRPC_PerformRequest(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{}
	c, _ := startGRPC(t, h, ServerOptions{})
	ctx := testContext(t)

	resp, err := c.PerformRequest(ctx, "/echo", rpc.Message{"sessionId": 1, "list": []any{"a"}})
	require.NoError(t, err)
	assert.Equal(t, rpc.Message{"result": map[string]any{
		"name":   "/echo",
		"args":   map[string]any{"sessionId": float64(1), "list": []any{"a"}},
		"handle": float64(7),
	}}, resp)

	resp, err = c.PerformRequest(ctx, "/fail", nil)
	require.NoError(t, err)
	assert.Equal(t, rpc.Message{"error": "boom"}, resp)
	assert.Equal(t, []string{"/echo", "/fail"}, h.names)
}

func TestGRPC_NameRequired(t *testing.T) {
	t.Parallel()
	c, _ := startGRPC(t, &recordingHandler{}, ServerOptions{})
	_, err := c.PerformRequest(testContext(t), "", nil)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	t.Parallel()

	t.Run("enabled", func(t *testing.T) {
		c, srv := startGRPC(t, &recordingHandler{}, ServerOptions{Health: true})
		require.NoError(t, c.WaitForHealth(testContext(t)))

		srv.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.WaitForHealth(ctx), context.DeadlineExceeded)
	})

	t.Run("disabled", func(t *testing.T) {
		c, _ := startGRPC(t, &recordingHandler{}, ServerOptions{})
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		assert.Error(t, c.WaitForHealth(ctx))
	})
}

func TestGRPC_MessageSizeLimit(t *testing.T) {
	t.Parallel()
	c, _ := startGRPC(t, &recordingHandler{}, ServerOptions{MaxMessageBytes: 1024})
	_, err := c.PerformRequest(testContext(t), "/echo", rpc.Message{"blob": strings.Repeat("x", 4096)})
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestGRPC_Bridge(t *testing.T) {
	t.Parallel()
	rec := logging.NewRecorder(100, nil)
	bridge, err := rpc.NewServer(rpc.Options{Mode: rpc.ModeLoop, Logger: rec.Logger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bridge.Close() })

	c, _ := startGRPC(t, bridge, ServerOptions{Health: true, Logger: rec.Logger()})
	ctx := testContext(t)

	resp, err := c.PerformRequest(ctx, "/create_session", nil)
	require.NoError(t, err)
	sid := resp["result"]
	require.IsType(t, float64(0), sid)

	resp, err = c.PerformRequest(ctx, "/get_property", rpc.Message{"sessionId": sid, "name": "defaultPath", "id": sid})
	require.NoError(t, err)
	assert.Equal(t, rpc.Message{"result": map[string]any{"value": "default.realm"}}, resp)

	resp, err = c.PerformRequest(ctx, "/call_method", rpc.Message{
		"sessionId": sid,
		"id":        sid,
		"name":      "exists",
		"arguments": []any{map[string]any{"value": "nowhere.realm"}},
	})
	require.NoError(t, err)
	assert.Equal(t, rpc.Message{"result": map[string]any{"value": false}}, resp)

	resp, err = c.PerformRequest(ctx, "/get_property", rpc.Message{"sessionId": 12345, "id": sid, "name": "x"})
	require.NoError(t, err)
	assert.True(t, resp.IsFailure())
}

func TestServeStdio(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{}
	in := strings.NewReader(strings.Join([]string{
		`{"id":1,"name":"/a","args":{"k":"v"}}`,
		``,
		`not json`,
		`{"id":"two","name":"/fail"}`,
		`{"id":3}`,
	}, "\n"))
	var out bytes.Buffer
	require.NoError(t, ServeStdio(context.Background(), h, in, &out, nil))

	var lines []map[string]any
	dec := json.NewDecoder(&out)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 4)
	assert.Equal(t, float64(1), lines[0]["id"])
	assert.Equal(t, map[string]any{"result": map[string]any{
		"name": "/a", "args": map[string]any{"k": "v"}, "handle": float64(7),
	}}, lines[0]["response"])
	assert.Nil(t, lines[1]["id"])
	assert.Contains(t, lines[1]["response"].(map[string]any)["error"], "malformed request")
	assert.Equal(t, "two", lines[2]["id"])
	assert.Equal(t, map[string]any{"error": "boom"}, lines[2]["response"])
	assert.Equal(t, map[string]any{"error": "request name is required"}, lines[3]["response"])
	assert.Equal(t, []string{"/a", "/fail"}, h.names)
}

func TestServeStdio_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	err := ServeStdio(ctx, &recordingHandler{}, strings.NewReader(`{"id":1,"name":"/a"}`+"\n"), &out, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Len())
}

func TestServeStdio_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	before := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	in := strings.NewReader(`{"id":1,"name":"/a"}` + "\n" + `{"id":2,"name":"/fail"}` + "\n")
	var out bytes.Buffer
	require.NoError(t, ServeStdio(context.Background(), &recordingHandler{}, in, &out, nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "stdio/a", spans[0].Name())
	assert.Equal(t, otelcodes.Unset, spans[0].Status().Code)
	assert.Equal(t, "stdio/fail", spans[1].Name())
	assert.Equal(t, otelcodes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
}
