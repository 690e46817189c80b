package realm

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// Request is one app services HTTP request.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// Response is the outcome of a Request. Err is set when no response was
// received at all.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	Err        error
}

// Transport carries app requests. Implementations invoke done exactly once,
// on the engine goroutine.
type Transport interface {
	Fetch(req Request, done func(Response))
}

// ResponseHandler is handed to a script fetch function, which answers
// through onSuccess or onError.
type ResponseHandler struct {
	env  *Env
	done func(Response)
	used bool
}

func (h *ResponseHandler) Get(string) goja.Value       { return nil }
func (h *ResponseHandler) Set(string, goja.Value) bool { return false }
func (h *ResponseHandler) Has(string) bool             { return false }
func (h *ResponseHandler) Delete(string) bool          { return false }
func (h *ResponseHandler) Keys() []string              { return nil }

func (h *ResponseHandler) finish(r Response) {
	if h.used {
		h.env.logger.Warn("fetch response handler called more than once")
		return
	}
	h.used = true
	h.done(r)
}

// callbackTransport forwards requests to a fetch function supplied by the
// client.
type callbackTransport struct {
	env   *Env
	fetch goja.Callable
}

func (t *callbackTransport) Fetch(req Request, done func(Response)) {
	e := t.env
	vm := e.vm
	r := vm.NewObject()
	_ = r.Set("method", req.Method)
	_ = r.Set("url", req.URL)
	_ = r.Set("timeoutMs", req.Timeout.Milliseconds())
	headers := vm.NewObject()
	for k, v := range req.Headers {
		_ = headers.Set(k, v)
	}
	_ = r.Set("headers", headers)
	if req.Body != "" {
		_ = r.Set("body", req.Body)
	}
	h := &ResponseHandler{env: e, done: done}
	handler := e.host(h, e.protos.handler)
	if _, err := t.fetch(goja.Undefined(), r, handler); err != nil {
		h.finish(Response{Err: fmt.Errorf("fetch failed: %w", err)})
	}
}

func (e *Env) newResponseHandlerPrototype() *goja.Object {
	vm := e.vm
	proto := vm.NewObject()
	this := func(call goja.FunctionCall) *ResponseHandler {
		h, ok := call.This.Export().(*ResponseHandler)
		if !ok {
			typeError(vm, "Method called on an object that is not a response handler")
		}
		return h
	}
	e.method(proto, "onSuccess", func(call goja.FunctionCall) goja.Value {
		h := this(call)
		obj, ok := call.Argument(0).(*goja.Object)
		if !ok {
			typeError(vm, "response must be of type 'object', got (%s)", describe(call.Argument(0)))
		}
		resp := Response{
			StatusCode: int(obj.Get("statusCode").ToInteger()),
			Headers:    make(map[string]string),
			Body:       stringOf(obj.Get("body")),
		}
		if hs, ok := obj.Get("headers").(*goja.Object); ok {
			for _, k := range hs.Keys() {
				resp.Headers[k] = stringOf(hs.Get(k))
			}
		}
		h.finish(resp)
		return goja.Undefined()
	})
	e.method(proto, "onError", func(call goja.FunctionCall) goja.Value {
		h := this(call)
		msg := stringOf(call.Argument(0))
		if obj, ok := call.Argument(0).(*goja.Object); ok {
			if m := stringOf(obj.Get("message")); m != "" {
				msg = m
			}
		}
		h.finish(Response{Err: fmt.Errorf("%s", msg)})
		return goja.Undefined()
	})
	return proto
}
