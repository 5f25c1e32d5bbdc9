package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newEmitter(t *testing.T, idle, refresh time.Duration) (*TypingEmitter, *Loop, *[]bool) {
	loop := startLoop(t)
	var emitted []bool
	emitter := NewTypingEmitter(loop, idle, refresh, func(isTyping bool) { emitted = append(emitted, isTyping) })
	return emitter, loop, &emitted
}

func emittedOnLoop(t *testing.T, loop *Loop, emitted *[]bool) []bool {
	var got []bool
	require.NoError(t, loop.Call(context.Background(), func() { got = append(got, *emitted...) }))
	return got
}

func TestTypingEmitter_BurstSignalsOnceThenStopsWhenIdle(t *testing.T) {
	req := require.New(t)
	emitter, loop, emitted := newEmitter(t, 50*time.Millisecond, time.Minute)

	// Given a burst of keystrokes
	req.NoError(loop.Call(context.Background(), func() {
		for i := 0; i < 5; i++ {
			emitter.Keystroke()
		}
	}))

	// Then typing was signaled once
	req.Equal([]bool{true}, emittedOnLoop(t, loop, emitted))

	// And after the idle delay typing=false goes out once
	req.Eventually(func() bool { return len(emittedOnLoop(t, loop, emitted)) == 2 }, time.Second, 5*time.Millisecond)
	req.Equal([]bool{true, false}, emittedOnLoop(t, loop, emitted))
}

func TestTypingEmitter_RefreshWindow(t *testing.T) {
	req := require.New(t)
	emitter, loop, emitted := newEmitter(t, time.Minute, 2*time.Second)
	now := t0
	emitter.now = func() time.Time { return now }

	req.NoError(loop.Call(context.Background(), func() {
		emitter.Keystroke()
		now = now.Add(time.Second)
		emitter.Keystroke()
		now = now.Add(1500 * time.Millisecond)
		emitter.Keystroke()
		emitter.Stop()
	}))

	req.Equal([]bool{true, true, false}, emittedOnLoop(t, loop, emitted))
}

func TestTypingEmitter_SendClearsImmediately(t *testing.T) {
	req := require.New(t)
	emitter, loop, emitted := newEmitter(t, time.Minute, time.Minute)

	req.NoError(loop.Call(context.Background(), func() {
		emitter.Keystroke()
		emitter.Sent()
		emitter.Sent()
	}))

	req.Equal([]bool{true, false}, emittedOnLoop(t, loop, emitted))
	req.NoError(loop.Call(context.Background(), func() { req.False(emitter.Signaled()) }))
}
