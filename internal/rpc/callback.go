package rpc

import (
	"encoding/json"

	"github.com/dop251/goja"
)

// pendingKey identifies one invocation of a client callback.
type pendingKey struct {
	callback Handle
	counter  uint64
}

// callbackFor returns the engine function standing in for client callback h,
// creating and registering a trampoline on first use.
func (s *Server) callbackFor(h Handle) *goja.Object {
	if fn, ok := s.callbacks.Callback(h); ok {
		return fn
	}
	vm := s.engine.Runtime()
	var fn *goja.Object
	fn = vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return s.runCallback(fn, call)
	}).(*goja.Object)
	s.callbacks.Register(h, fn)
	return fn
}

// runCallback asks the client to run the callback behind fn and blocks the
// current task until it answers, running other queued tasks meanwhile. A
// clear_test_state or worker stop while waiting yields undefined.
func (s *Server) runCallback(fn *goja.Object, call goja.FunctionCall) goja.Value {
	vm := s.engine.Runtime()
	w := s.engine.Worker()

	counter := s.counter
	s.counter++
	h, ok := s.callbacks.HandleOf(fn)
	if !ok {
		// dropped by clear_test_state while still referenced
		return goja.Undefined()
	}

	args := make([]any, len(call.Arguments))
	for i, a := range call.Arguments {
		args[i] = a
	}
	payload := Message{
		"callback":              uint64(h),
		"this":                  s.serialize(call.This),
		"arguments":             s.serialize(vm.NewArray(args...)),
		"callback_call_counter": counter,
	}

	p := newPromise()
	key := pendingKey{callback: h, counter: counter}
	s.pendingMu.Lock()
	s.pending[key] = p
	s.pendingMu.Unlock()

	w.InvokeCallback(payload)

	reset := s.reset.Load()
	var result Message
	for {
		if w.TryRunTask() {
			s.dropPending(key)
			return goja.Undefined()
		}
		select {
		case result = <-p.ch:
		default:
		}
		if result != nil {
			break
		}
		if s.reset.Load() != reset {
			s.dropPending(key)
			w.Abandon()
			return goja.Undefined()
		}
	}

	if msg, ok := result["error"]; ok && msg != nil {
		text, _ := msg.(string)
		e, err := vm.New(vm.Get("Error"), vm.ToValue(text))
		if err != nil {
			panic(err)
		}
		if stack, ok := result["stack"].(string); ok {
			var parsed any
			if json.Unmarshal([]byte(stack), &parsed) == nil {
				_ = e.Set("stack", parsed)
			}
		}
		panic(e)
	}
	raw, ok := result["result"]
	if !ok || raw == nil {
		return goja.Undefined()
	}
	v, err := s.deserialize(raw)
	if err != nil {
		panic(vm.NewGoError(err))
	}
	return v
}

// resolvePending hands a client's answer to the invocation waiting for it.
func (s *Server) resolvePending(args Message) {
	h, err := args.Handle("callback")
	if err != nil {
		return
	}
	counter, err := args.Handle("callback_call_counter")
	if err != nil {
		return
	}
	key := pendingKey{callback: h, counter: uint64(counter)}
	s.pendingMu.Lock()
	p, ok := s.pending[key]
	delete(s.pending, key)
	s.pendingMu.Unlock()
	if ok {
		p.resolve(args)
	}
}

func (s *Server) dropPending(key pendingKey) {
	s.pendingMu.Lock()
	delete(s.pending, key)
	s.pendingMu.Unlock()
}
