package rpc

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drive runs w on its own goroutine until it is stopped.
func drive(t *testing.T, w *Worker) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !w.TryRunTask() {
		}
	}()
	t.Cleanup(func() {
		w.Stop()
		<-done
	})
}

func TestWorker_AddTaskReturnsResult(t *testing.T) {
	t.Parallel()
	w := NewWorker(nil)
	drive(t, w)

	m := w.AddTask(func() Message { return Result("ok") })
	assert.Equal(t, Result("ok"), m)
}

func TestWorker_TasksRunInSubmissionOrder(t *testing.T) {
	t.Parallel()
	w := NewWorker(nil)

	var order []int
	var wg sync.WaitGroup
	// queue everything before the driver starts
	for i := 0; i < 5; i++ {
		i := i
		w.enqueue(func() { order = append(order, i) })
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for w.Pending() > 0 {
			w.TryRunTask()
		}
	}()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestWorker_PanickingTaskStillCompletes(t *testing.T) {
	t.Parallel()
	w := NewWorker(nil)
	drive(t, w)

	m := w.AddTask(func() Message { panic("boom") })
	assert.True(t, m.IsFailure())

	// the worker keeps running
	assert.Equal(t, Result(1), w.AddTask(func() Message { return Result(1) }))
}

func TestWorker_StopReleasesSubmitters(t *testing.T) {
	t.Parallel()
	w := NewWorker(nil)

	got := make(chan Message, 1)
	go func() {
		got <- w.AddTask(func() Message { return Result("never") })
	}()
	require.Eventually(t, func() bool { return w.Pending() == 1 }, time.Second, time.Millisecond)

	w.Stop()
	select {
	case m := <-got:
		assert.Equal(t, Failure(ErrStopped.Error()), m)
	case <-time.After(time.Second):
		t.Fatal("submitter not released")
	}

	assert.True(t, w.TryRunTask())
	assert.Equal(t, Failure(ErrStopped.Error()), w.AddTask(func() Message { return nil }))
	w.Stop()
}

func TestWorker_TryPopCallbackEmpty(t *testing.T) {
	t.Parallel()
	w := NewWorker(nil)
	assert.Equal(t, Message{}, w.TryPopCallback())
}

func TestWorker_TopLevelCallbackIsOrphaned(t *testing.T) {
	t.Parallel()
	w := NewWorker(nil)

	for i := 1; i <= 3; i++ {
		w.InvokeCallback(Message{"callback": i})
	}
	for w.Pending() > 0 {
		w.TryRunTask()
	}

	for i := 1; i <= 3; i++ {
		assert.Equal(t, Message{"callback": i}, w.TryPopCallback())
	}
	assert.Equal(t, Message{}, w.TryPopCallback())
}

func TestWorker_NestedCallbackResolvesWaitingRequest(t *testing.T) {
	t.Parallel()
	w := NewWorker(nil)
	drive(t, w)

	release := make(chan struct{})
	outer := make(chan Message, 1)
	go func() {
		outer <- w.AddTask(func() Message {
			w.InvokeCallback(Message{"callback": 7})
			// run the invoke task nested inside this one
			w.TryRunTask()
			<-release
			return Result("late")
		})
	}()

	select {
	case m := <-outer:
		assert.Equal(t, Message{"callback": 7}, m)
	case <-time.After(time.Second):
		t.Fatal("callback payload not delivered to the waiting request")
	}

	// the outer completion resolves whichever request is waiting next
	p := w.AddPromise()
	close(release)
	m, ok := w.Wait(p)
	require.True(t, ok)
	assert.Equal(t, Result("late"), m)
}

func TestWorker_ManySubmitters(t *testing.T) {
	t.Parallel()
	w := NewWorker(nil)
	drive(t, w)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			// serialise like the façade so each completion pairs with its submitter
			mu.Lock()
			defer mu.Unlock()
			m := w.AddTask(func() Message { return Result(fmt.Sprint(i)) })
			assert.Equal(t, Result(fmt.Sprint(i)), m)
		}()
	}
	wg.Wait()
}

func TestWorker_AbandonedTaskDoesNotAnswerLaterRequest(t *testing.T) {
	t.Parallel()
	w := NewWorker(nil)
	drive(t, w)

	release := make(chan struct{})
	finished := make(chan struct{})
	outer := make(chan Message, 1)
	go func() {
		outer <- w.AddTask(func() Message {
			defer close(finished)
			w.InvokeCallback(Message{"callback": uint64(1)})
			for {
				select {
				case <-release:
					// the wait was cancelled, nobody will collect this result
					w.Abandon()
					return Result("outer")
				default:
				}
				if w.TryRunTask() {
					return nil
				}
			}
		})
	}()

	// the callback payload answers the submitting request
	assert.Equal(t, Message{"callback": uint64(1)}, <-outer)

	// a request that has pushed its promise but whose task has not run yet
	waiting := w.AddPromise()
	close(release)
	assert.Equal(t, Result("next"), w.AddTask(func() Message { return Result("next") }))
	<-finished
	assert.Equal(t, Result("final"), w.AddTask(func() Message { return Result("final") }))

	select {
	case m := <-waiting.ch:
		t.Fatalf("abandoned result delivered to an unrelated request: %v", m)
	default:
	}
}
