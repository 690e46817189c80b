package realm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// DefaultHTTPTimeout applies when neither the request nor the transport
// names a timeout.
const DefaultHTTPTimeout = 30 * time.Second

// HTTPTransport performs app requests with net/http off the engine
// goroutine and delivers results through the scheduler.
type HTTPTransport struct {
	client    *http.Client
	scheduler Scheduler
	timeout   time.Duration
}

// NewHTTPTransport returns a transport using a fresh http.Client.
func NewHTTPTransport(scheduler Scheduler, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPTransport{client: &http.Client{}, scheduler: scheduler, timeout: timeout}
}

// Fetch implements Transport.
func (t *HTTPTransport) Fetch(req Request, done func(Response)) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.timeout
	}
	go func() {
		resp := t.do(req, timeout)
		_ = t.scheduler.Post(func(*goja.Runtime) { done(resp) })
	}()
}

func (t *HTTPTransport) do(r Request, timeout time.Duration) Response {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return Response{Err: fmt.Errorf("build request: %w", err)}
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Response{Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{Err: fmt.Errorf("read response body: %w", err)}
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	return Response{StatusCode: resp.StatusCode, Headers: headers, Body: string(data)}
}
