package runtime

import (
	"time"
)

const (
	DefaultTypingIdle    = time.Second
	DefaultTypingRefresh = 2 * time.Second
)

// TypingEmitter decides when the local user's typing state goes on the
// wire. A keystroke signals typing unless it was signaled less than a
// refresh window ago; the refresh window is kept below the remote TTL so
// long bursts stay visible. After idle without keystrokes, or on send,
// typing=false is emitted once.
// All methods must be called on the Loop.
type TypingEmitter struct {
	loop    *Loop
	emit    func(isTyping bool)
	idle    time.Duration
	refresh time.Duration
	now     func() time.Time

	signaled   bool
	lastSignal time.Time
	timer      *time.Timer
	generation uint64
}

func NewTypingEmitter(loop *Loop, idle, refresh time.Duration, emit func(isTyping bool)) *TypingEmitter {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if refresh <= 0 {
		refresh = DefaultTypingRefresh
	}
	return &TypingEmitter{loop: loop, emit: emit, idle: idle, refresh: refresh, now: time.Now}
}

func (t *TypingEmitter) Keystroke() {
	now := t.now()
	if !t.signaled || now.Sub(t.lastSignal) >= t.refresh {
		t.signaled = true
		t.lastSignal = now
		t.emit(true)
	}
	t.arm()
}

// Sent clears typing right away, a message went out.
func (t *TypingEmitter) Sent() { t.Stop() }

func (t *TypingEmitter) Stop() {
	t.disarm()
	if t.signaled {
		t.signaled = false
		t.emit(false)
	}
}

func (t *TypingEmitter) Signaled() bool { return t.signaled }

func (t *TypingEmitter) arm() {
	t.disarm()
	generation := t.generation
	t.timer = time.AfterFunc(t.idle, func() {
		t.loop.Post(func() {
			if generation == t.generation {
				t.Stop()
			}
		})
	})
}

func (t *TypingEmitter) disarm() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.generation++
}
