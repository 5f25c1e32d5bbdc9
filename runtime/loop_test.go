package runtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"local-language/errors"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	loop := NewLoop(logs.GetLoggerFromLevel(slog.LevelError), 64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		loop.Stop()
	})
	return loop
}

func TestLoop_RunsTasksInOrder(t *testing.T) {
	req := require.New(t)
	loop := startLoop(t)

	var order []int
	for i := 0; i < 50; i++ {
		i := i
		req.True(loop.Post(func() { order = append(order, i) }))
	}

	var got []int
	req.NoError(loop.Call(context.Background(), func() { got = append(got, order...) }))
	req.Len(got, 50)
	for i, v := range got {
		req.Equal(i, v)
	}
}

func TestLoop_SurvivesPanickingTask(t *testing.T) {
	req := require.New(t)
	loop := startLoop(t)

	// Given a task that panics
	loop.Post(func() { panic("boom") })

	// Then the next task still runs
	ran := false
	req.NoError(loop.Call(context.Background(), func() { ran = true }))
	req.True(ran)
}

func TestLoop_PostAfterStop(t *testing.T) {
	req := require.New(t)
	loop := NewLoop(logs.GetLoggerFromLevel(slog.LevelError), 1)
	loop.Stop()

	req.False(loop.Post(func() {}))
	req.ErrorIs(loop.Call(context.Background(), func() {}), errors.ErrLoopStopped)
}

func TestLoop_CallHonoursContext(t *testing.T) {
	req := require.New(t)
	loop := startLoop(t)

	block := make(chan struct{})
	defer close(block)
	loop.Post(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req.ErrorIs(loop.Call(ctx, func() {}), context.DeadlineExceeded)
}
