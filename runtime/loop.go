// Package runtime handles the session, conversation membership and event
// propagation. All conversation state is owned by a single Loop: network
// completions never touch state directly, they post a task back.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"local-language/errors"
)

const DefaultLoopBuffer = 256

// Loop is the single execution context. Tasks run one at a time in the
// order they were posted. It is a contract.Worker and runs under the
// supervisor; a panicking task is recovered and logged so the loop keeps
// its queue.
type Loop struct {
	log     *slog.Logger
	tasks   chan func()
	stopped chan struct{}
	once    sync.Once
}

func NewLoop(log *slog.Logger, bufferSize int) *Loop {
	if bufferSize <= 0 {
		bufferSize = DefaultLoopBuffer
	}
	return &Loop{
		log:     log,
		tasks:   make(chan func(), bufferSize),
		stopped: make(chan struct{}),
	}
}

func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.stopped:
			return nil
		case task := <-l.tasks:
			l.execute(task)
		}
	}
}

func (l *Loop) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Loop task panicked", "error", errors.ErrWorkerPanic, "panic", fmt.Sprint(r))
		}
	}()
	task()
}

// Post queues a task. It blocks while the queue is full and returns false
// once the loop is stopped.
func (l *Loop) Post(task func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.tasks <- task:
		return true
	case <-l.stopped:
		return false
	}
}

// Call runs fn on the loop and waits for it.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return errors.ErrLoopStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return errors.ErrLoopStopped
	}
}

func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stopped) })
}
