package domain

import "time"

type JoinState string

const (
	JoinIdle    JoinState = "idle"
	JoinJoining JoinState = "joining"
	JoinJoined  JoinState = "joined"
	JoinLeaving JoinState = "leaving"
)

// Conversation is a two-party thread as stored by the chat API.
type Conversation struct {
	ID             string
	Participant1ID string
	Participant2ID string
	CreatedAt      time.Time
	LastMessageAt  *time.Time
}

func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.Participant1ID == userID || c.Participant2ID == userID)
}

// PartnerOf returns the other participant, or an empty string when userID
// is not part of the conversation.
func (c Conversation) PartnerOf(userID string) string {
	switch userID {
	case c.Participant1ID:
		return c.Participant2ID
	case c.Participant2ID:
		return c.Participant1ID
	default:
		return ""
	}
}

// LastActivity is the time of the last message, or the creation time.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

type User struct {
	ID                string
	Name              string
	Email             string
	PreferredLanguage string
}

// Language falls back to english like the chat API does for users that
// never picked one.
func (u User) Language() string {
	if u.PreferredLanguage == "" {
		return DefaultLanguage
	}
	return u.PreferredLanguage
}
