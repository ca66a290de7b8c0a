package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type seqIDs struct {
	n atomic.Int64
}

func (g *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("task-%d", g.n.Add(1)), nil
}

func TestSchedulerRunsTasksInOrder(t *testing.T) {
	t.Parallel()

	s := NewScheduler(8, &seqIDs{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var order []int
	var handles []*Handle
	for i := 0; i < 3; i++ {
		i := i
		h, err := s.Submit("ordered", func(context.Context) error {
			order = append(order, i)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		handles = append(handles, h.(*Handle))
	}

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-time.After(time.Second):
			t.Fatalf("task %s did not finish", h.ID())
		}
		if err := h.Err(); err != nil {
			t.Fatalf("task %s error = %v", h.ID(), err)
		}
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("expected serial submission order, got %v", order)
		}
	}
}

func TestSchedulerHandleCarriesError(t *testing.T) {
	t.Parallel()

	s := NewScheduler(2, &seqIDs{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	boom := errors.New("boom")
	h, err := s.Submit("failing", func(context.Context) error { return boom })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-h.Done()
	if !errors.Is(h.Err(), boom) {
		t.Fatalf("expected boom, got %v", h.Err())
	}
}

func TestSchedulerQueueFull(t *testing.T) {
	t.Parallel()

	s := NewScheduler(1, &seqIDs{}, zap.NewNop())
	// Not running: the single slot fills and the next submit must fail fast.
	if _, err := s.Submit("first", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := s.Submit("second", func(context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	t.Parallel()

	s := NewScheduler(2, &seqIDs{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	h, err := s.Submit("panicky", func(context.Context) error { panic("nope") })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-h.Done()
	if h.Err() == nil {
		t.Fatal("expected panic to surface as error")
	}

	// Worker must survive the panic and run the next task.
	h2, err := s.Submit("after", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	select {
	case <-h2.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler stopped after panic")
	}
}

func TestSchedulerFailsPendingOnShutdown(t *testing.T) {
	t.Parallel()

	s := NewScheduler(4, &seqIDs{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	block := make(chan struct{})
	go s.Run(ctx)
	running, err := s.Submit("blocking", func(context.Context) error {
		<-block
		return nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	queued, err := s.Submit("queued", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	cancel()
	close(block)
	<-running.Done()

	// The queued handle must resolve either way: run before the loop saw the
	// cancellation, or failed with the shutdown cause.
	select {
	case <-queued.Done():
	case <-time.After(time.Second):
		t.Fatal("queued handle never resolved after shutdown")
	}
	s.Wait()
}
