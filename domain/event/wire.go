package event

import (
	"encoding/json"
	"time"

	"local-language/domain"
)

// Push channel event names.
const (
	JoinConversation   = "join_conversation"
	LeaveConversation  = "leave_conversation"
	JoinedConversation = "joined_conversation"
	SendMessage        = "send_message"
	NewMessage         = "new_message"
	Typing             = "typing"
	MessageRead        = "message_read"
	UserOnline         = "user_online"
	UserOffline        = "user_offline"
	VoiceCallRequest   = "voice_call_request"
	IncomingCall       = "incoming_call"
	ConnectionResponse = "connection_response"
)

// Session events published locally, never sent over the wire.
const (
	Connected      = "connected"
	Reconnected    = "reconnected"
	Disconnected   = "disconnected"
	TransportError = "transport_error"
	StateChanged   = "state_changed"
)

// Envelope frames every push channel payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(name string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: name, Data: data}, nil
}

// Scope is decoded first to route conversation events.
type Scope struct {
	ConversationID string `json:"conversation_id"`
}

type JoinPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	UserID         string `json:"user_id" validate:"required"`
}

type PresencePayload struct {
	UserID    string     `json:"user_id" validate:"required"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	UserID         string `json:"user_id" validate:"required"`
	IsTyping       bool   `json:"is_typing"`
}

type ReadPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	MessageID      string `json:"message_id" validate:"required"`
	UserID         string `json:"user_id" validate:"required"`
}

type CallPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	CallerID       string `json:"caller_id" validate:"required"`
}

type ConnectionPayload struct {
	Status string `json:"status"`
}

// SessionPayload accompanies connected and reconnected.
type SessionPayload struct {
	Generation uint64 `json:"generation"`
}

type StatePayload struct {
	State domain.ConnectionState `json:"state"`
}

type TransportErrorPayload struct {
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// MessagePayload is the message shape shared by the push channel and the
// chat API.
type MessagePayload struct {
	ID                 string    `json:"id,omitempty"`
	ClientID           string    `json:"client_id,omitempty"`
	ConversationID     string    `json:"conversation_id"`
	SenderID           string    `json:"sender_id"`
	Text               string    `json:"text"`
	Language           string    `json:"language,omitempty"`
	TranslatedText     *string   `json:"translated_text,omitempty"`
	TranslatedLanguage *string   `json:"translated_language,omitempty"`
	Sentiment          *string   `json:"sentiment,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	Status             string    `json:"status,omitempty"`
	IsVoice            bool      `json:"is_voice"`
}

func (p MessagePayload) ToMessage() domain.Message {
	return domain.Message{
		ID:                 p.ID,
		CorrelationID:      p.ClientID,
		ConversationID:     p.ConversationID,
		SenderID:           p.SenderID,
		Text:               p.Text,
		SourceLanguage:     p.Language,
		TranslatedText:     p.TranslatedText,
		TranslatedLanguage: p.TranslatedLanguage,
		SentimentTag:       p.Sentiment,
		Timestamp:          p.Timestamp,
		Status:             domain.ParseStatus(p.Status),
		IsVoice:            p.IsVoice,
	}
}

func FromMessage(m domain.Message) MessagePayload {
	return MessagePayload{
		ID:                 m.ID,
		ClientID:           m.CorrelationID,
		ConversationID:     m.ConversationID,
		SenderID:           m.SenderID,
		Text:               m.Text,
		Language:           m.SourceLanguage,
		TranslatedText:     m.TranslatedText,
		TranslatedLanguage: m.TranslatedLanguage,
		Sentiment:          m.SentimentTag,
		Timestamp:          m.Timestamp,
		Status:             string(m.Status),
		IsVoice:            m.IsVoice,
	}
}
