// Package rpc drives a single script engine on behalf of remote clients.
//
// Clients send named requests with JSON arguments; every request that
// touches the engine becomes a task on one worker queue and runs on the
// engine goroutine. Engine values cross the wire either by value or as
// opaque handles into an object registry, and client functions passed in
// become trampolines that call back out to the client and block until it
// answers.
package rpc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/SACHINnANYAKKARA/realm-js/internal/realm"
)

// Control actions handled outside the task queue.
const (
	actionCreateSession      = "/create_session"
	actionCallbackResult     = "/callback_result"
	actionCallbackPollResult = "/callback_poll_result"
	actionCallbacksPoll      = "/callbacks_poll"
)

// Options configures NewServer.
type Options struct {
	Mode   Mode
	Logger *slog.Logger

	// Transport overrides the network transport used when no client fetch
	// function is bound.
	Transport   realm.Transport
	BaseURL     string
	HTTPTimeout time.Duration
}

// Server is the request façade over one engine.
type Server struct {
	engine    *Engine
	objects   *Registry
	callbacks *Callbacks
	actions   map[string]action
	opts      Options
	logger    *slog.Logger

	// requestMu serialises PerformRequest.
	requestMu sync.Mutex
	session   atomic.Uint64
	reset     atomic.Uint64

	pendingMu sync.Mutex
	pending   map[pendingKey]*Promise

	// Engine goroutine only.
	env     *realm.Env
	counter uint64
}

// NewServer starts an engine and returns a server with no session.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		objects:   NewRegistry(),
		callbacks: NewCallbacks(),
		opts:      opts,
		logger:    logger,
		pending:   make(map[pendingKey]*Promise),
		counter:   1,
	}
	s.actions = s.defaultActions()

	registry := require.NewRegistry()
	registerConsole(registry, logger)
	registry.RegisterNativeModule(realm.ModuleName, func(vm *goja.Runtime, module *goja.Object) {
		if s.env == nil {
			panic(vm.NewGoError(errors.New("realm is not available before a session is created")))
		}
		s.env.ModuleLoader()(vm, module)
	})
	engine, err := NewEngine(EngineOptions{
		Mode:     opts.Mode,
		Registry: registry,
		Logger:   logger,
		Setup:    installConsole,
	})
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return s, nil
}

// Engine returns the engine; poll mode hosts drive it with Run or Pump.
func (s *Server) Engine() *Engine { return s.engine }

// SessionID returns the current session handle, or 0.
func (s *Server) SessionID() Handle { return Handle(s.session.Load()) }

// Close stops the engine. Blocked requests return a worker-stopped error.
func (s *Server) Close() error {
	return s.engine.Close()
}

// PerformRequest runs one named request and returns its response. It is
// safe for concurrent use; requests are handled one at a time.
func (s *Server) PerformRequest(name string, args Message) Message {
	s.requestMu.Lock()
	defer s.requestMu.Unlock()

	if args == nil {
		args = Message{}
	}
	if name != actionCreateSession {
		id, err := args.Handle("sessionId")
		if err != nil || id == 0 || uint64(id) != s.session.Load() {
			return Failure(msgInvalidSession)
		}
	}

	switch name {
	case actionCallbackResult:
		p := s.engine.Worker().AddPromise()
		s.resolvePending(args)
		m, ok := s.engine.Worker().Wait(p)
		if !ok {
			return Failure(ErrStopped.Error())
		}
		return m
	case actionCallbackPollResult:
		s.resolvePending(args)
		return s.engine.Worker().TryPopCallback()
	case actionCallbacksPoll:
		return s.engine.Worker().TryPopCallback()
	}

	fn, ok := s.actions[name]
	if !ok {
		return Failure("Unknown action: " + name)
	}
	return s.engine.Worker().AddTask(func() Message {
		return s.run(name, fn, args)
	})
}

// run executes an action on the engine goroutine, turning engine exceptions
// and panics into error responses.
func (s *Server) run(name string, fn action, args Message) (out Message) {
	vm := s.engine.Runtime()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("action panicked", "action", name, "panic", r)
			out = Failure(fmt.Sprint(r))
		}
	}()
	var err error
	if ex := vm.Try(func() { out, err = fn(args) }); ex != nil {
		return s.exception(ex)
	}
	if err != nil {
		var ex *goja.Exception
		if errors.As(err, &ex) {
			return s.exception(ex)
		}
		return Failure(err.Error())
	}
	if out == nil {
		out = Message{}
	}
	return out
}

func (s *Server) exception(ex *goja.Exception) (out Message) {
	defer func() {
		if r := recover(); r != nil {
			out = Message{"error": map[string]any{"error": msgUnserializable}, "message": ex.Error()}
		}
	}()
	return Message{"error": s.serialize(ex.Value()), "message": ex.Error()}
}
