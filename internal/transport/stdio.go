package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SACHINnANYAKKARA/realm-js/internal/rpc"
)

const tracerName = "github.com/SACHINnANYAKKARA/realm-js/internal/transport"

// maxLine bounds one NDJSON request line.
const maxLine = 64 << 20

type stdioRequest struct {
	ID   any         `json:"id"`
	Name string      `json:"name"`
	Args rpc.Message `json:"args"`
}

type stdioResponse struct {
	ID       any         `json:"id"`
	Response rpc.Message `json:"response"`
}

// ServeStdio reads requests from r, one JSON object per line, and writes
// one response line per request to w, in order. It returns at end of input,
// on a read or write error, or once ctx is cancelled (checked between
// lines).
func ServeStdio(ctx context.Context, h Handler, r io.Reader, w io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	enc := json.NewEncoder(w)
	tracer := otel.Tracer(tracerName)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp stdioResponse
		var req stdioRequest
		switch err := json.Unmarshal(line, &req); {
		case err != nil:
			logger.Warn("malformed request line", "error", err)
			resp.Response = rpc.Failure(fmt.Sprintf("malformed request: %v", err))
		case req.Name == "":
			resp.ID = req.ID
			resp.Response = rpc.Failure("request name is required")
		default:
			logger.Debug("request", "name", req.Name)
			_, span := tracer.Start(ctx, "stdio"+req.Name, trace.WithSpanKind(trace.SpanKindServer))
			resp.ID = req.ID
			resp.Response = h.PerformRequest(req.Name, req.Args)
			if resp.Response.IsFailure() {
				span.SetStatus(otelcodes.Error, fmt.Sprint(resp.Response["error"]))
			}
			span.End()
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	return ctx.Err()
}
