// Package domain contains core concepts of the conversation sync engine.
// This file defines Message records and the delivery status ordering.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"time"
)

type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusFailed    DeliveryStatus = "failed"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// rank orders statuses. failed sits below sent: a failed record that the
// server later proves exists moves forward, never the opposite.
func (s DeliveryStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusFailed:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	default:
		return -1
	}
}

func (s DeliveryStatus) Valid() bool { return s.rank() >= 0 }

// Confirmed reports whether the server knows the message.
func (s DeliveryStatus) Confirmed() bool { return s.rank() >= StatusSent.rank() }

// CanAdvance reports whether a record may move from s to next.
// failed -> pending is the only backward move and belongs to retry.
func (s DeliveryStatus) CanAdvance(next DeliveryStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == StatusFailed && next == StatusPending {
		return true
	}
	if s == StatusPending && next == StatusFailed {
		return true
	}
	return next.rank() > s.rank() && next != StatusFailed
}

// Merge returns the furthest status of the two, never downgrading a
// confirmed status.
func (s DeliveryStatus) Merge(other DeliveryStatus) DeliveryStatus {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// AtLeastSent lifts local-only statuses to sent.
func (s DeliveryStatus) AtLeastSent() DeliveryStatus {
	return s.Merge(StatusSent)
}

func ParseStatus(value string) DeliveryStatus {
	status := DeliveryStatus(value)
	if !status.Valid() {
		return StatusSent
	}
	return status
}

type Translation struct {
	Text      string
	Language  string
	Sentiment *string
}

// Message is one record of a conversation timeline. ID is empty until the
// server confirms the record, CorrelationID is empty for messages that were
// not sent from this client.
type Message struct {
	ID                 string
	CorrelationID      string
	ConversationID     string
	SenderID           string
	Text               string
	SourceLanguage     string
	TranslatedText     *string
	TranslatedLanguage *string
	SentimentTag       *string
	Timestamp          time.Time
	Status             DeliveryStatus
	IsVoice            bool
}

func (m Message) HasTranslation() bool {
	return m.TranslatedText != nil || m.TranslatedLanguage != nil
}

// Key identifies the record whatever its confirmation state.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.CorrelationID
}

func (m Message) WithTranslation(t Translation) Message {
	text, language := t.Text, t.Language
	m.TranslatedText = &text
	m.TranslatedLanguage = &language
	if t.Sentiment != nil {
		sentiment := *t.Sentiment
		m.SentimentTag = &sentiment
	}
	return m
}

// SendRequest is what the chat API persists for an outgoing message.
type SendRequest struct {
	ConversationID string `validate:"required"`
	SenderID       string `validate:"required"`
	CorrelationID  string `validate:"required,uuid"`
	Text           string `validate:"required,max=4000"`
	SourceLanguage string `validate:"required"`
	TargetLanguage string `validate:"required"`
	IsVoice        bool
}
