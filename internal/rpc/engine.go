package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// Mode selects how the worker queue is pumped.
type Mode string

const (
	// ModeLoop runs the engine on a goja_nodejs event loop goroutine that
	// pumps the worker between its own jobs (timers, posted work).
	ModeLoop Mode = "loop"

	// ModePoll leaves pumping to the host, which calls Pump or Run.
	ModePoll Mode = "poll"
)

// ParseMode validates a mode name. The empty string selects ModeLoop.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeLoop:
		return ModeLoop, nil
	case ModePoll:
		return ModePoll, nil
	}
	return "", fmt.Errorf("unknown engine mode %q (want %q or %q)", s, ModeLoop, ModePoll)
}

// EngineOptions configures NewEngine.
type EngineOptions struct {
	Mode Mode

	// Registry is the CommonJS registry used for require(). A new one is
	// created when nil.
	Registry *require.Registry

	// Setup runs once on the engine goroutine before any task.
	Setup func(vm *goja.Runtime) error

	Logger *slog.Logger
}

// Engine owns the goja runtime and the goroutine that is allowed to touch it.
// Every access goes through the worker queue or Post.
type Engine struct {
	mode     Mode
	vm       *goja.Runtime
	worker   *Worker
	loop     *eventloop.EventLoop
	registry *require.Registry
	logger   *slog.Logger

	// posted holds out-of-task work in poll mode.
	postMu sync.Mutex
	posted []func(*goja.Runtime)

	mu     sync.Mutex
	closed bool
}

// NewEngine creates the runtime and, in loop mode, starts the loop goroutine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeLoop
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = require.NewRegistry()
	}
	e := &Engine{
		mode:     mode,
		worker:   NewWorker(logger),
		registry: registry,
		logger:   logger,
	}

	switch mode {
	case ModePoll:
		e.vm = goja.New()
		registry.Enable(e.vm)
		if opts.Setup != nil {
			if err := opts.Setup(e.vm); err != nil {
				return nil, fmt.Errorf("engine setup: %w", err)
			}
		}
		return e, nil
	case ModeLoop:
		// console is installed by Setup so it can route to slog
		e.loop = eventloop.NewEventLoop(
			eventloop.WithRegistry(registry),
			eventloop.EnableConsole(false),
		)
		e.loop.Start()

		errCh := make(chan error, 1)
		ok := e.loop.RunOnLoop(func(vm *goja.Runtime) {
			e.vm = vm
			if opts.Setup != nil {
				errCh <- opts.Setup(vm)
				return
			}
			errCh <- nil
		})
		if !ok {
			return nil, errors.New("failed to initialize: event loop not running")
		}
		if err := <-errCh; err != nil {
			e.loop.Stop()
			return nil, fmt.Errorf("engine setup: %w", err)
		}
		if !e.loop.RunOnLoop(e.pump) {
			e.loop.Stop()
			return nil, errors.New("failed to start pump: event loop not running")
		}
		return e, nil
	}
	return nil, fmt.Errorf("unknown engine mode %q", mode)
}

// pump runs one worker iteration and re-schedules itself, leaving the loop
// free to run timers and posted jobs between iterations.
func (e *Engine) pump(*goja.Runtime) {
	if e.worker.TryRunTask() {
		return
	}
	if !e.loop.RunOnLoop(e.pump) {
		e.logger.Debug("event loop refused pump, stopping")
	}
}

// Mode reports how the engine is driven.
func (e *Engine) Mode() Mode { return e.mode }

// Worker returns the task queue.
func (e *Engine) Worker() *Worker { return e.worker }

// Runtime returns the engine. It must only be used from tasks or posted work.
func (e *Engine) Runtime() *goja.Runtime { return e.vm }

// Registry returns the require registry.
func (e *Engine) Registry() *require.Registry { return e.registry }

// Post schedules fn on the engine goroutine outside of any task. It reports
// false once the engine is closed.
func (e *Engine) Post(fn func(*goja.Runtime)) bool {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return false
	}
	if e.mode == ModeLoop {
		return e.loop.RunOnLoop(fn)
	}
	e.postMu.Lock()
	e.posted = append(e.posted, fn)
	e.postMu.Unlock()
	e.worker.wake()
	return true
}

// Pump runs pending posted work and at most one task. Poll mode only; it
// returns true once the engine is stopped.
func (e *Engine) Pump() bool {
	if e.mode != ModePoll {
		return e.worker.ShouldStop()
	}
	e.runPosted()
	return e.worker.TryRunTask()
}

// Run pumps until ctx is done or the engine stops. Poll mode only.
func (e *Engine) Run(ctx context.Context) error {
	if e.mode != ModePoll {
		return fmt.Errorf("Run requires %s mode, engine is in %s mode", ModePoll, e.mode)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.Pump() {
			return nil
		}
	}
}

func (e *Engine) runPosted() {
	e.postMu.Lock()
	jobs := e.posted
	e.posted = nil
	e.postMu.Unlock()
	for _, job := range jobs {
		e.runJob(job)
	}
}

func (e *Engine) runJob(job func(*goja.Runtime)) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("posted job panicked", "panic", r)
		}
	}()
	job(e.vm)
}

// Close stops the worker and, in loop mode, waits for the loop to exit. It
// is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.worker.Stop()
	if e.loop != nil {
		e.loop.Stop()
	}
	return nil
}
