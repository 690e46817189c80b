package rpc

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// taskWait bounds how long TryRunTask blocks waiting for work.
const taskWait = 10 * time.Millisecond

// Promise is a one-shot slot resolved by the engine goroutine.
type Promise struct {
	ch chan Message
}

func newPromise() *Promise {
	return &Promise{ch: make(chan Message, 1)}
}

func (p *Promise) resolve(m Message) {
	select {
	case p.ch <- m:
	default:
	}
}

// Worker is the single queue through which all engine access flows.
//
// Tasks run one at a time, in submission order, on whichever goroutine calls
// TryRunTask; the engine driver guarantees that is always the same goroutine.
// Submitters block on promises kept on a stack: a finishing task resolves the
// most recently added promise, which is what lets a nested callback round trip
// hand the final result of an outer call to the request that unblocked it.
type Worker struct {
	mu        sync.Mutex
	tasks     []func()
	promises  []*Promise
	callbacks []Message

	signal chan struct{}
	done   chan struct{}
	stop   atomic.Bool

	// depth and abandoned are only touched on the engine goroutine.
	// abandoned has one entry per running task.
	depth     int
	abandoned []bool

	logger *slog.Logger
}

// NewWorker returns an idle worker. A nil logger uses slog.Default.
func NewWorker(logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// AddTask queues fn and blocks until a task completion resolves the promise
// pushed for this call, or the worker stops.
func (w *Worker) AddTask(fn func() Message) Message {
	if w.ShouldStop() {
		return Failure(ErrStopped.Error())
	}
	p := w.AddPromise()
	w.enqueue(func() {
		m := Failure("task panicked")
		defer func() { w.complete(m) }()
		m = fn()
	})
	m, ok := w.Wait(p)
	if !ok {
		return Failure(ErrStopped.Error())
	}
	return m
}

// AddPromise pushes a promise that the next completing task (or a nested
// callback invocation) will resolve.
func (w *Worker) AddPromise() *Promise {
	p := newPromise()
	w.mu.Lock()
	w.promises = append(w.promises, p)
	w.mu.Unlock()
	return p
}

// Wait blocks until p resolves. It reports false if the worker stopped first.
func (w *Worker) Wait(p *Promise) (Message, bool) {
	select {
	case m := <-p.ch:
		return m, true
	case <-w.done:
		select {
		case m := <-p.ch:
			return m, true
		default:
			return nil, false
		}
	}
}

// InvokeCallback queues a task announcing a callback invocation to the
// client. Run directly from the top-level pump (depth 1) the payload goes to
// the orphan queue drained by /callbacks_poll; run from inside another task it
// resolves the innermost waiting request instead.
func (w *Worker) InvokeCallback(payload Message) {
	w.enqueue(func() {
		if w.depth == 1 {
			w.pushCallback(payload)
			return
		}
		if p := w.popPromise(); p != nil {
			p.resolve(payload)
			return
		}
		w.logger.Debug("no request waiting for callback, queueing for poll",
			"callback", payload["callback"])
		w.pushCallback(payload)
	})
}

// TryPopCallback returns the oldest orphaned callback payload, or an empty
// message when none is queued.
func (w *Worker) TryPopCallback() Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.callbacks) == 0 {
		return Message{}
	}
	m := w.callbacks[0]
	w.callbacks[0] = nil
	w.callbacks = w.callbacks[1:]
	return m
}

// TryRunTask runs at most one queued task, waiting up to 10ms for one to
// arrive. It returns true when the worker has been stopped.
func (w *Worker) TryRunTask() bool {
	if w.ShouldStop() {
		return true
	}
	task := w.next(taskWait)
	if task == nil {
		return w.ShouldStop()
	}
	w.depth++
	w.abandoned = append(w.abandoned, false)
	w.run(task)
	w.abandoned = w.abandoned[:len(w.abandoned)-1]
	w.depth--
	return w.ShouldStop()
}

// Abandon marks the running task's result as unwanted. A task whose
// callback wait was cancelled calls it: its promise already went to the
// callback payload, and the request that would have collected the result
// will never be sent, so completing would hand the result to an unrelated
// request.
func (w *Worker) Abandon() {
	if n := len(w.abandoned); n > 0 {
		w.abandoned[n-1] = true
	}
}

// Depth reports how many tasks are currently executing on the engine
// goroutine. Only meaningful when called from that goroutine.
func (w *Worker) Depth() int {
	return w.depth
}

// ShouldStop reports whether Stop has been called.
func (w *Worker) ShouldStop() bool {
	return w.stop.Load()
}

// Stop prevents further tasks from running and releases every blocked
// submitter. Safe to call more than once.
func (w *Worker) Stop() {
	if w.stop.CompareAndSwap(false, true) {
		close(w.done)
	}
}

// Done is closed once the worker stops.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Pending reports the number of queued tasks.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}

func (w *Worker) enqueue(task func()) {
	w.mu.Lock()
	w.tasks = append(w.tasks, task)
	w.mu.Unlock()
	w.wake()
}

// wake nudges a TryRunTask that is blocked waiting for work.
func (w *Worker) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *Worker) next(timeout time.Duration) func() {
	if task := w.pop(); task != nil {
		return task
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.signal:
		// a wake without a task lets the driver run posted work
		return w.pop()
	case <-timer.C:
		return nil
	case <-w.done:
		return nil
	}
}

func (w *Worker) pop() func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.tasks) == 0 {
		return nil
	}
	task := w.tasks[0]
	w.tasks[0] = nil
	w.tasks = w.tasks[1:]
	return task
}

func (w *Worker) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("task panicked", "panic", r)
		}
	}()
	task()
}

func (w *Worker) complete(m Message) {
	if n := len(w.abandoned); n > 0 && w.abandoned[n-1] {
		w.logger.Debug("dropping result of a task whose callback was cancelled")
		return
	}
	p := w.popPromise()
	if p == nil {
		w.logger.Warn("task finished with no waiting request, dropping result")
		return
	}
	p.resolve(m)
}

func (w *Worker) popPromise() *Promise {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.promises)
	if n == 0 {
		return nil
	}
	p := w.promises[n-1]
	w.promises[n-1] = nil
	w.promises = w.promises[:n-1]
	return p
}

func (w *Worker) pushCallback(m Message) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, m)
	w.mu.Unlock()
}
