package projection

import (
	"sort"
	"time"

	"local-language/domain"

	"github.com/samber/lo"
)

const DefaultTypingTTL = 3 * time.Second

type TypingKey struct {
	ConversationID string
	UserID         string
}

// Tracker holds who is online and who is typing where. Presence is
// last-write-wins on the change time; typing entries expire on their own
// after the TTL, so a lost "stopped typing" event never leaves a user
// typing forever.
type Tracker struct {
	ttl      time.Duration
	now      func() time.Time
	presence map[string]domain.PresenceEntry
	typing   map[TypingKey]domain.TypingEntry
}

func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Tracker{
		ttl:      ttl,
		now:      time.Now,
		presence: make(map[string]domain.PresenceEntry),
		typing:   make(map[TypingKey]domain.TypingEntry),
	}
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) SetOnline(userID string, at time.Time) bool {
	return t.setPresence(userID, true, at)
}

func (t *Tracker) SetOffline(userID string, at time.Time) bool {
	return t.setPresence(userID, false, at)
}

// setPresence applies the change unless a newer one is already known.
func (t *Tracker) setPresence(userID string, online bool, at time.Time) bool {
	if at.IsZero() {
		at = t.now()
	}
	current, ok := t.presence[userID]
	if ok && at.Before(current.LastChangedAt) {
		return false
	}
	if ok && current.Online == online && at.Equal(current.LastChangedAt) {
		return false
	}
	t.presence[userID] = domain.PresenceEntry{UserID: userID, Online: online, LastChangedAt: at}
	return !ok || current.Online != online
}

func (t *Tracker) Presence(userID string) (domain.PresenceEntry, bool) {
	entry, ok := t.presence[userID]
	return entry, ok
}

func (t *Tracker) IsOnline(userID string) bool {
	return t.presence[userID].Online
}

// SetTyping records a typing signal. A false signal clears immediately.
// It reports whether the visible state changed.
func (t *Tracker) SetTyping(conversationID, userID string, isTyping bool) bool {
	key := TypingKey{ConversationID: conversationID, UserID: userID}
	wasTyping := t.IsTyping(conversationID, userID)
	if !isTyping {
		delete(t.typing, key)
		return wasTyping
	}
	t.typing[key] = domain.TypingEntry{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       true,
		ExpiresAt:      t.now().Add(t.ttl),
	}
	return !wasTyping
}

func (t *Tracker) IsTyping(conversationID, userID string) bool {
	entry, ok := t.typing[TypingKey{ConversationID: conversationID, UserID: userID}]
	return ok && entry.Active(t.now())
}

// TypingUsers lists the users currently typing in a conversation, sorted.
func (t *Tracker) TypingUsers(conversationID string) []string {
	now := t.now()
	users := lo.FilterMap(lo.Values(t.typing), func(entry domain.TypingEntry, _ int) (string, bool) {
		return entry.UserID, entry.ConversationID == conversationID && entry.Active(now)
	})
	sort.Strings(users)
	return users
}

// Sweep drops expired typing entries and returns their keys.
func (t *Tracker) Sweep() []TypingKey {
	now := t.now()
	var expired []TypingKey
	for key, entry := range t.typing {
		if !entry.Active(now) {
			delete(t.typing, key)
			expired = append(expired, key)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].ConversationID != expired[j].ConversationID {
			return expired[i].ConversationID < expired[j].ConversationID
		}
		return expired[i].UserID < expired[j].UserID
	})
	return expired
}

// ClearConversation forgets typing state of a conversation being left.
func (t *Tracker) ClearConversation(conversationID string) {
	for key := range t.typing {
		if key.ConversationID == conversationID {
			delete(t.typing, key)
		}
	}
}

// Reset forgets everything, used when the session goes away.
func (t *Tracker) Reset() {
	t.presence = make(map[string]domain.PresenceEntry)
	t.typing = make(map[TypingKey]domain.TypingEntry)
}
