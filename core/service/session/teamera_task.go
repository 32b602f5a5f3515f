package session

import (
	"context"
	"sync"
)

// BackgroundTask is a tracked, cancellable unit of work started by the
// manager. Its completion can be awaited through Done.
type BackgroundTask struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startTask(parent context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context) error) *BackgroundTask {
	ctx, cancel := context.WithCancel(parent)
	t := &BackgroundTask{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(t.done)
		defer cancel()
		t.err = fn(ctx)
	}()
	return t
}

// Name identifies the task in logs.
func (t *BackgroundTask) Name() string { return t.name }

// Done is closed when the task returns.
func (t *BackgroundTask) Done() <-chan struct{} { return t.done }

// Err is the task's result. It is nil until Done is closed.
func (t *BackgroundTask) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Cancel asks the task to stop. It does not wait.
func (t *BackgroundTask) Cancel() { t.cancel() }

// Wait blocks until the task finishes or ctx ends.
func (t *BackgroundTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
