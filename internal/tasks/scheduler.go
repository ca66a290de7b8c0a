// Package tasks runs queued background work on a single worker goroutine.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/pipeline"
)

// ErrQueueFull signals that the task queue has no free slots.
var ErrQueueFull = fmt.Errorf("task queue is full")

// IDGenerator produces unique task identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Handle tracks one scheduled task.
type Handle struct {
	id   string
	done chan struct{}

	mu  sync.Mutex
	err error
}

// ID returns the task identifier.
func (h *Handle) ID() string { return h.id }

// Done closes when the task finishes, successfully or not.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task error once Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

type task struct {
	name   string
	handle *Handle
	fn     func(context.Context) error
}

// Scheduler queues tasks and executes them serially in submission order.
// Serial execution keeps heavyweight stages (rendering, model calls) from
// competing for the same resources.
type Scheduler struct {
	queue  chan task
	ids    IDGenerator
	logger *zap.Logger

	startOnce sync.Once
	doneCh    chan struct{}
	closed    sync.Once
	stopped   chan struct{}
}

// NewScheduler builds a Scheduler with the given queue depth.
func NewScheduler(depth int, ids IDGenerator, logger *zap.Logger) *Scheduler {
	if depth <= 0 {
		depth = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		queue:   make(chan task, depth),
		ids:     ids,
		logger:  logger,
		doneCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run consumes queued tasks until the context finishes. It blocks and is
// intended to be launched once from main.
func (s *Scheduler) Run(ctx context.Context) {
	s.startOnce.Do(func() {
		defer close(s.doneCh)
		for {
			select {
			case <-ctx.Done():
				s.failPending(ctx.Err())
				return
			case t := <-s.queue:
				s.execute(ctx, t)
			}
		}
	})
}

// Submit queues fn for execution and returns a handle the caller can wait on.
// It fails fast with ErrQueueFull instead of blocking the caller.
func (s *Scheduler) Submit(name string, fn func(context.Context) error) (pipeline.TaskHandle, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("task id: %w", err)
	}
	h := &Handle{id: id, done: make(chan struct{})}
	select {
	case s.queue <- task{name: name, handle: h, fn: fn}:
		s.logger.Debug("task queued", zap.String("task", name), zap.String("id", id))
		return h, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
}

// Wait blocks until the run loop exits.
func (s *Scheduler) Wait() {
	<-s.doneCh
}

func (s *Scheduler) execute(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("task %s panicked: %v", t.name, r)
			s.logger.Error("task panic", zap.String("task", t.name), zap.Any("panic", r))
			t.handle.finish(err)
		}
	}()
	err := t.fn(ctx)
	if err != nil {
		s.logger.Warn("task failed", zap.String("task", t.name), zap.String("id", t.handle.id), zap.Error(err))
	} else {
		s.logger.Debug("task finished", zap.String("task", t.name), zap.String("id", t.handle.id))
	}
	t.handle.finish(err)
}

// failPending resolves queued-but-unstarted handles so waiters do not hang
// after shutdown.
func (s *Scheduler) failPending(cause error) {
	for {
		select {
		case t := <-s.queue:
			t.handle.finish(fmt.Errorf("task %s not run: %w", t.name, cause))
		default:
			return
		}
	}
}

var _ pipeline.Scheduler = (*Scheduler)(nil)
