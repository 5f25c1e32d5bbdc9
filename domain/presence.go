package domain

import "time"

type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Reconnecting ConnectionState = "reconnecting"
)

type PresenceEntry struct {
	UserID        string
	Online        bool
	LastChangedAt time.Time
}

type TypingEntry struct {
	ConversationID string
	UserID         string
	IsTyping       bool
	ExpiresAt      time.Time
}

// Active reports whether the entry still counts at now.
func (e TypingEntry) Active(now time.Time) bool {
	return e.IsTyping && now.Before(e.ExpiresAt)
}
