package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTracker_PresenceLastWriteWins(t *testing.T) {
	req := require.New(t)
	tracker := NewTracker(DefaultTypingTTL)

	// Given bob went online at t0+2s
	req.True(tracker.SetOnline("bob", t0.Add(2*time.Second)))

	// When an older offline event arrives
	changed := tracker.SetOffline("bob", t0.Add(time.Second))

	// Then it is ignored
	req.False(changed)
	req.True(tracker.IsOnline("bob"))

	// When a newer offline event arrives
	req.True(tracker.SetOffline("bob", t0.Add(3*time.Second)))
	entry, ok := tracker.Presence("bob")
	req.True(ok)
	req.False(entry.Online)
	req.Equal(t0.Add(3*time.Second), entry.LastChangedAt)
}

func TestTracker_PresenceWithoutTimestampUsesClock(t *testing.T) {
	req := require.New(t)
	clock := &fakeClock{now: t0}
	tracker := NewTracker(DefaultTypingTTL).WithClock(clock.Now)

	req.True(tracker.SetOnline("bob", time.Time{}))
	entry, _ := tracker.Presence("bob")
	req.Equal(t0, entry.LastChangedAt)
	req.False(tracker.IsOnline("carol"))
}

func TestTracker_TypingExpiresAfterTTL(t *testing.T) {
	req := require.New(t)
	clock := &fakeClock{now: t0}
	tracker := NewTracker(3 * time.Second).WithClock(clock.Now)

	// Given bob typing with no follow-up
	req.True(tracker.SetTyping("c1", "bob", true))
	req.True(tracker.IsTyping("c1", "bob"))

	// When almost the whole TTL elapsed
	clock.Advance(2900 * time.Millisecond)
	req.True(tracker.IsTyping("c1", "bob"))

	// Then past the TTL the entry is gone without any stop event
	clock.Advance(200 * time.Millisecond)
	req.False(tracker.IsTyping("c1", "bob"))
	req.Empty(tracker.TypingUsers("c1"))

	expired := tracker.Sweep()
	req.Equal([]TypingKey{{ConversationID: "c1", UserID: "bob"}}, expired)
	req.Empty(tracker.Sweep())
}

func TestTracker_TypingRefreshExtends(t *testing.T) {
	req := require.New(t)
	clock := &fakeClock{now: t0}
	tracker := NewTracker(3 * time.Second).WithClock(clock.Now)

	tracker.SetTyping("c1", "bob", true)
	clock.Advance(2 * time.Second)
	req.False(tracker.SetTyping("c1", "bob", true))
	clock.Advance(2 * time.Second)

	req.True(tracker.IsTyping("c1", "bob"))
}

func TestTracker_TypingFalseClearsImmediately(t *testing.T) {
	req := require.New(t)
	tracker := NewTracker(DefaultTypingTTL)

	tracker.SetTyping("c1", "bob", true)
	tracker.SetTyping("c1", "carol", true)
	tracker.SetTyping("c2", "dave", true)

	req.Equal([]string{"bob", "carol"}, tracker.TypingUsers("c1"))
	req.True(tracker.SetTyping("c1", "bob", false))
	req.False(tracker.SetTyping("c1", "bob", false))
	req.Equal([]string{"carol"}, tracker.TypingUsers("c1"))

	tracker.ClearConversation("c1")
	req.Empty(tracker.TypingUsers("c1"))
	req.Equal([]string{"dave"}, tracker.TypingUsers("c2"))

	tracker.Reset()
	req.Empty(tracker.TypingUsers("c2"))
}
