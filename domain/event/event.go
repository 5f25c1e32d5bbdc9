package event

import (
	"time"

	"local-language/domain"
)

// DomainEvent is what the coordinator hands to the fan-out once the local
// state has changed. Presence and connection events are not scoped to a
// conversation and return an empty id.
type DomainEvent interface {
	ConversationID() string
}

type ChangeKind string

const (
	Inserted ChangeKind = "inserted"
	Updated  ChangeKind = "updated"
	// Removed reports a duplicate merged into another record. Index is its
	// position before removal.
	Removed ChangeKind = "removed"
)

type MessageChanged struct {
	Kind    ChangeKind
	Index   int
	Message domain.Message
}

func (e MessageChanged) ConversationID() string { return e.Message.ConversationID }

type SendFailed struct {
	Conversation  string
	CorrelationID string
	Err           error
}

func (e SendFailed) ConversationID() string { return e.Conversation }

type TypingChanged struct {
	Conversation string
	UserID       string
	IsTyping     bool
}

func (e TypingChanged) ConversationID() string { return e.Conversation }

type PresenceChanged struct {
	UserID string
	Online bool
	At     time.Time
}

func (e PresenceChanged) ConversationID() string { return "" }

type MembershipChanged struct {
	Conversation string
	State        domain.JoinState
}

func (e MembershipChanged) ConversationID() string { return e.Conversation }

type ConnectionChanged struct {
	State    domain.ConnectionState
	Attempts int
	Err      string
}

func (e ConnectionChanged) ConversationID() string { return "" }

type CallIncoming struct {
	Conversation string
	CallerID     string
}

func (e CallIncoming) ConversationID() string { return e.Conversation }
