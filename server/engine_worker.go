package server

import (
	"fmt"

	"github.com/chazu/moth/vm"
)

// engineRequest is a unit of work to be executed on the engine goroutine.
type engineRequest struct {
	fn   func(*vm.Engine) (any, error)
	done chan engineResult
}

type engineResult struct {
	value any
	err   error
}

// EngineWorker serializes all engine access through a single goroutine.
// The engine is single-threaded; every handler must go through the worker
// to avoid data races.
type EngineWorker struct {
	engine   *vm.Engine
	requests chan engineRequest
	quit     chan struct{}
	stopped  chan struct{}
}

// NewEngineWorker creates an EngineWorker and starts the processing
// goroutine. The worker takes ownership of e and closes it on Stop.
func NewEngineWorker(e *vm.Engine) *EngineWorker {
	w := &EngineWorker{
		engine:   e,
		requests: make(chan engineRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *EngineWorker) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			w.engine.Close()
			return
		}
	}
}

// execute runs fn on the engine, recovering from panics. A panic leaves
// the engine's context stack in an unknown state, so the current context
// is reset to the root.
func (w *EngineWorker) execute(fn func(*vm.Engine) (any, error)) (result engineResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("engine %s: panic: %v", w.engine.ID, r)
			w.engine.Reset()
			result = engineResult{err: fmt.Errorf("engine panic: %v", r)}
		}
	}()
	v, err := fn(w.engine)
	return engineResult{value: v, err: err}
}

// Do submits fn for execution on the engine goroutine and blocks until it
// completes. Panics are returned as errors.
func (w *EngineWorker) Do(fn func(*vm.Engine) (any, error)) (any, error) {
	req := engineRequest{
		fn:   fn,
		done: make(chan engineResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.stopped:
		return nil, ErrStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.stopped:
		return nil, ErrStopped
	}
}

// Stop shuts down the worker goroutine and closes the engine.
func (w *EngineWorker) Stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.stopped
}
