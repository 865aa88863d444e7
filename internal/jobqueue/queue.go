// Package jobqueue runs submitted jobs on a fixed pool of workers and
// publishes their outcomes one at a time.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrShutdown is returned by Submit once Shutdown has been called
	ErrShutdown = errors.New("job queue is shut down")

	// ErrNotShutdown is returned by WaitForShutdown when Shutdown was never called
	ErrNotShutdown = errors.New("job queue shutdown not requested")
)

// PanicError carries a panic recovered from the process function
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

// Options configures a Queue
type Options[J, R any] struct {
	// Workers is the number of jobs processed in parallel.
	// Defaults to GOMAXPROCS.
	Workers int

	// OnResult receives every successful outcome.
	OnResult func(job J, result R)

	// OnError receives every failed outcome, panics included.
	OnError func(job J, err error)

	Logger *slog.Logger
}

type outcome[J, R any] struct {
	job    J
	result R
	err    error
}

// Queue processes jobs in parallel. Outcomes are handed to OnResult and
// OnError from a single dispatcher goroutine, so callbacks never run
// concurrently with each other.
type Queue[J, R any] struct {
	process  func(J) (R, error)
	onResult func(J, R)
	onError  func(J, error)
	logger   *slog.Logger

	mx       sync.Mutex
	ready    *sync.Cond
	pending  []J
	inFlight int
	shutdown bool
	drained  chan struct{}

	outcomes chan outcome[J, R]
	workers  errgroup.Group
}

// New creates a queue and starts its workers and dispatcher
func New[J, R any](process func(J) (R, error), opts Options[J, R]) *Queue[J, R] {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	q := &Queue[J, R]{
		process:  process,
		onResult: opts.OnResult,
		onError:  opts.OnError,
		logger:   opts.Logger,
		drained:  make(chan struct{}),
		outcomes: make(chan outcome[J, R], workers),
	}
	q.ready = sync.NewCond(&q.mx)
	if q.logger == nil {
		q.logger = slog.Default()
	}

	for i := 0; i < workers; i++ {
		q.workers.Go(func() error {
			q.workerLoop()
			return nil
		})
	}

	go func() {
		_ = q.workers.Wait()
		close(q.outcomes)
	}()
	go q.dispatch()

	q.logger.Debug("Job queue started", slog.Int("workers", workers))

	return q
}

// Submit hands a job to the workers. It never blocks on a busy pool and
// fails with ErrShutdown once Shutdown has been called.
func (q *Queue[J, R]) Submit(job J) error {
	q.mx.Lock()
	defer q.mx.Unlock()

	if q.shutdown {
		return ErrShutdown
	}

	q.inFlight++
	q.pending = append(q.pending, job)
	q.ready.Signal()

	return nil
}

// Size returns the number of submitted jobs whose outcome has not been
// dispatched yet
func (q *Queue[J, R]) Size() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return q.inFlight
}

// Shutdown stops accepting jobs. Jobs already submitted still run; Shutdown
// does not wait for them.
func (q *Queue[J, R]) Shutdown() {
	q.mx.Lock()
	defer q.mx.Unlock()

	if q.shutdown {
		return
	}
	q.shutdown = true
	q.ready.Broadcast()
	q.closeIfDrained()
}

// WaitForShutdown blocks until every submitted job has been dispatched or ctx
// is done
func (q *Queue[J, R]) WaitForShutdown(ctx context.Context) error {
	q.mx.Lock()
	requested := q.shutdown
	q.mx.Unlock()

	if !requested {
		return ErrNotShutdown
	}

	select {
	case <-q.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeIfDrained must be called with mx held
func (q *Queue[J, R]) closeIfDrained() {
	if q.shutdown && q.inFlight == 0 {
		select {
		case <-q.drained:
		default:
			close(q.drained)
		}
	}
}

func (q *Queue[J, R]) next() (J, bool) {
	q.mx.Lock()
	defer q.mx.Unlock()

	for len(q.pending) == 0 && !q.shutdown {
		q.ready.Wait()
	}

	var job J
	if len(q.pending) == 0 {
		return job, false
	}

	job = q.pending[0]
	var zero J
	q.pending[0] = zero
	q.pending = q.pending[1:]

	return job, true
}

func (q *Queue[J, R]) workerLoop() {
	for {
		job, ok := q.next()
		if !ok {
			return
		}

		result, err := q.run(job)
		q.outcomes <- outcome[J, R]{job: job, result: result, err: err}
	}
}

func (q *Queue[J, R]) run(job J) (result R, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return q.process(job)
}

func (q *Queue[J, R]) dispatch() {
	for o := range q.outcomes {
		q.publish(o)

		q.mx.Lock()
		q.inFlight--
		q.closeIfDrained()
		q.mx.Unlock()
	}
}

// publish isolates the dispatcher from panicking callbacks
func (q *Queue[J, R]) publish(o outcome[J, R]) {
	defer func() {
		if v := recover(); v != nil {
			q.logger.Error("Job outcome handler panicked",
				slog.Any("panic", v),
			)
		}
	}()

	if o.err != nil {
		if q.onError != nil {
			q.onError(o.job, o.err)
		}
		return
	}
	if q.onResult != nil {
		q.onResult(o.job, o.result)
	}
}
