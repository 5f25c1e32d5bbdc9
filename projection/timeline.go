// Package projection builds local conversation state from optimistic sends
// and server records. Handles ordering, deduplication, delivery status and
// translation overlays. Nothing in here does I/O or knows about goroutines:
// callers serialize access.
package projection

import (
	"fmt"

	"local-language/domain"
	"local-language/domain/event"
	"local-language/errors"

	"github.com/google/go-cmp/cmp"
)

// Change describes what a mutation did. Kind is empty when nothing changed.
type Change struct {
	Kind    event.ChangeKind
	Index   int
	Message domain.Message
	// Dropped is set when the mutation absorbed another record. Index then
	// refers to positions after the removal.
	Dropped *Change
}

func (c Change) Changed() bool { return c.Kind != "" }

func (c Change) Event() event.MessageChanged {
	return event.MessageChanged{Kind: c.Kind, Index: c.Index, Message: c.Message}
}

// Timeline is the message log of one conversation. Records keep their
// relative order; a confirmed record replaces its pending version in place.
// The only removal is a server copy of our own send that arrived before the
// confirmation and could not be matched to it.
type Timeline struct {
	conversationID string
	messages       []domain.Message
	byID           map[string]int
	byCorrelation  map[string]int
}

func NewTimeline(conversationID string) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		byID:           make(map[string]int),
		byCorrelation:  make(map[string]int),
	}
}

func (t *Timeline) ConversationID() string { return t.conversationID }

func (t *Timeline) Len() int { return len(t.messages) }

// Messages returns a copy in timeline order.
func (t *Timeline) Messages() []domain.Message {
	messages := make([]domain.Message, len(t.messages))
	copy(messages, t.messages)
	return messages
}

func (t *Timeline) Get(id string) (domain.Message, bool) {
	idx, ok := t.byID[id]
	if !ok {
		return domain.Message{}, false
	}
	return t.messages[idx], true
}

func (t *Timeline) GetByCorrelation(correlationID string) (domain.Message, bool) {
	idx, ok := t.byCorrelation[correlationID]
	if !ok {
		return domain.Message{}, false
	}
	return t.messages[idx], true
}

// Pending lists the records still waiting for the server.
func (t *Timeline) Pending() []domain.Message {
	var pending []domain.Message
	for _, m := range t.messages {
		if m.Status == domain.StatusPending {
			pending = append(pending, m)
		}
	}
	return pending
}

// AddPending appends an optimistic record.
func (t *Timeline) AddPending(message domain.Message) (Change, error) {
	if message.CorrelationID == "" {
		return Change{}, fmt.Errorf("%w: pending message without correlation id", errors.ErrInvalidMessage)
	}
	if _, exists := t.byCorrelation[message.CorrelationID]; exists {
		return Change{}, errors.Violation("correlation id %s already in conversation %s", message.CorrelationID, t.conversationID)
	}
	message.ID = ""
	message.Status = domain.StatusPending
	message.ConversationID = t.conversationID
	return t.append(message), nil
}

// Confirm replaces the pending record carrying correlationID with the
// server version. A confirmation for a record this timeline never saw is
// ingested as a new record.
func (t *Timeline) Confirm(correlationID string, confirmed domain.Message) (Change, error) {
	if confirmed.ID == "" {
		return Change{}, fmt.Errorf("%w: confirmation without server id", errors.ErrInvalidMessage)
	}
	idx, ok := t.byCorrelation[correlationID]
	if !ok {
		confirmed.CorrelationID = correlationID
		return t.Ingest(confirmed)
	}
	if owner, taken := t.byID[confirmed.ID]; taken && owner != idx && t.messages[owner].CorrelationID == "" {
		return t.adopt(idx, owner, confirmed)
	}
	if err := t.checkIdentity(idx, confirmed); err != nil {
		return Change{}, err
	}
	current := t.messages[idx]
	merged := current
	merged.ID = confirmed.ID
	merged.Status = current.Status.Merge(confirmed.Status.AtLeastSent())
	if !confirmed.Timestamp.IsZero() {
		merged.Timestamp = confirmed.Timestamp
	}
	if confirmed.SourceLanguage != "" {
		merged.SourceLanguage = confirmed.SourceLanguage
	}
	if confirmed.HasTranslation() {
		merged = withServerTranslation(merged, confirmed)
	}
	return t.replace(idx, merged), nil
}

// adopt folds the uncorrelated server record at owner into the pending
// record at idx, which keeps its position, then removes owner.
func (t *Timeline) adopt(idx, owner int, confirmed domain.Message) (Change, error) {
	current, copied := t.messages[idx], t.messages[owner]
	if current.ID != "" {
		return Change{}, errors.Violation("record %s confirmed as %s, already %s", current.Key(), confirmed.ID, current.ID)
	}
	for _, record := range []domain.Message{copied, confirmed} {
		if record.Text != "" && record.Text != current.Text {
			return Change{}, errors.Violation("server id %s carries different text", confirmed.ID)
		}
		if record.SenderID != "" && current.SenderID != "" && record.SenderID != current.SenderID {
			return Change{}, errors.Violation("server id %s carries a different sender", confirmed.ID)
		}
	}

	merged := current
	merged.ID = confirmed.ID
	merged.Status = copied.Status.AtLeastSent().Merge(confirmed.Status.AtLeastSent())
	merged.Timestamp = copied.Timestamp
	if !confirmed.Timestamp.IsZero() {
		merged.Timestamp = confirmed.Timestamp
	}
	for _, record := range []domain.Message{copied, confirmed} {
		if record.SourceLanguage != "" {
			merged.SourceLanguage = record.SourceLanguage
		}
		if record.HasTranslation() {
			merged = withServerTranslation(merged, record)
		}
	}

	t.messages[idx] = merged
	t.messages = append(t.messages[:owner], t.messages[owner+1:]...)
	t.reindex()
	dropped := Change{Kind: event.Removed, Index: owner, Message: copied}
	return Change{Kind: event.Updated, Index: t.byCorrelation[merged.CorrelationID], Message: merged, Dropped: &dropped}, nil
}

// Fail marks a pending record failed. Any other status is left alone.
func (t *Timeline) Fail(correlationID string) (Change, bool) {
	idx, ok := t.byCorrelation[correlationID]
	if !ok || t.messages[idx].Status != domain.StatusPending {
		return Change{}, false
	}
	failed := t.messages[idx]
	failed.Status = domain.StatusFailed
	return t.replace(idx, failed), true
}

// Retry moves a failed record back to pending, keeping its position and
// correlation id.
func (t *Timeline) Retry(correlationID string) (Change, error) {
	idx, ok := t.byCorrelation[correlationID]
	if !ok {
		return Change{}, fmt.Errorf("%w: correlation id %s", errors.ErrUnknownMessage, correlationID)
	}
	if t.messages[idx].Status != domain.StatusFailed {
		return Change{}, fmt.Errorf("%w: status is %s", errors.ErrNotRetryable, t.messages[idx].Status)
	}
	retried := t.messages[idx]
	retried.Status = domain.StatusPending
	return t.replace(idx, retried), nil
}

// Ingest merges a server record: the echo of our own send, a history entry
// or a push from the partner. Known records are matched by server id first
// and correlation id second; statuses never go backwards.
func (t *Timeline) Ingest(incoming domain.Message) (Change, error) {
	if incoming.ID == "" {
		return Change{}, fmt.Errorf("%w: server message without id", errors.ErrInvalidMessage)
	}
	incoming.ConversationID = t.conversationID
	incoming.Status = incoming.Status.AtLeastSent()

	idx, ok := t.byID[incoming.ID]
	if !ok && incoming.CorrelationID != "" {
		idx, ok = t.byCorrelation[incoming.CorrelationID]
	}
	if !ok {
		if incoming.CorrelationID != "" {
			if _, taken := t.byCorrelation[incoming.CorrelationID]; taken {
				return Change{}, errors.Violation("correlation id %s already in conversation %s", incoming.CorrelationID, t.conversationID)
			}
		}
		return t.append(incoming), nil
	}

	if err := t.checkIdentity(idx, incoming); err != nil {
		return Change{}, err
	}
	current := t.messages[idx]
	merged := current
	merged.ID = incoming.ID
	merged.Status = current.Status.Merge(incoming.Status)
	if current.Status == domain.StatusFailed || current.Status == domain.StatusPending {
		merged.Status = incoming.Status
		if !incoming.Timestamp.IsZero() {
			merged.Timestamp = incoming.Timestamp
		}
	}
	if merged.CorrelationID == "" {
		merged.CorrelationID = incoming.CorrelationID
	}
	if merged.SourceLanguage == "" {
		merged.SourceLanguage = incoming.SourceLanguage
	}
	if incoming.HasTranslation() {
		merged = withServerTranslation(merged, incoming)
	}
	return t.replace(idx, merged), nil
}

// MarkRead advances a record to read. Unknown ids and records already read
// are no-ops.
func (t *Timeline) MarkRead(id string) (Change, bool) {
	idx, ok := t.byID[id]
	if !ok || !t.messages[idx].Status.CanAdvance(domain.StatusRead) {
		return Change{}, false
	}
	read := t.messages[idx]
	read.Status = domain.StatusRead
	return t.replace(idx, read), true
}

// ApplyTranslation sets the translation of a confirmed record once. Text,
// timestamp and position are untouched.
func (t *Timeline) ApplyTranslation(id string, translation domain.Translation) (Change, bool) {
	idx, ok := t.byID[id]
	if !ok || t.messages[idx].HasTranslation() {
		return Change{}, false
	}
	return t.replace(idx, t.messages[idx].WithTranslation(translation)), true
}

// checkIdentity rejects merges that would give one record two identities or
// two contents.
func (t *Timeline) checkIdentity(idx int, incoming domain.Message) error {
	current := t.messages[idx]
	if current.ID != "" && current.ID != incoming.ID {
		return errors.Violation("record %s confirmed as %s, already %s", current.Key(), incoming.ID, current.ID)
	}
	if owner, taken := t.byID[incoming.ID]; taken && owner != idx {
		return errors.Violation("server id %s already owned by another record", incoming.ID)
	}
	if incoming.CorrelationID != "" {
		if current.CorrelationID != "" && current.CorrelationID != incoming.CorrelationID {
			return errors.Violation("server id %s echoed with correlation id %s, expected %s", incoming.ID, incoming.CorrelationID, current.CorrelationID)
		}
		if owner, taken := t.byCorrelation[incoming.CorrelationID]; taken && owner != idx {
			return errors.Violation("correlation id %s already owned by another record", incoming.CorrelationID)
		}
	}
	if incoming.Text != "" && incoming.Text != current.Text {
		return errors.Violation("server id %s carries different text", incoming.ID)
	}
	if incoming.SenderID != "" && current.SenderID != "" && incoming.SenderID != current.SenderID {
		return errors.Violation("server id %s carries a different sender", incoming.ID)
	}
	return nil
}

func (t *Timeline) append(message domain.Message) Change {
	t.messages = append(t.messages, message)
	idx := len(t.messages) - 1
	t.index(idx)
	return Change{Kind: event.Inserted, Index: idx, Message: message}
}

func (t *Timeline) replace(idx int, message domain.Message) Change {
	if cmp.Equal(t.messages[idx], message) {
		return Change{Index: idx, Message: message}
	}
	t.messages[idx] = message
	t.index(idx)
	return Change{Kind: event.Updated, Index: idx, Message: message}
}

func (t *Timeline) reindex() {
	clear(t.byID)
	clear(t.byCorrelation)
	for idx := range t.messages {
		t.index(idx)
	}
}

func (t *Timeline) index(idx int) {
	message := t.messages[idx]
	if message.ID != "" {
		t.byID[message.ID] = idx
	}
	if message.CorrelationID != "" {
		t.byCorrelation[message.CorrelationID] = idx
	}
}

// withServerTranslation lets the server overwrite translation fields.
func withServerTranslation(m, server domain.Message) domain.Message {
	m.TranslatedText = server.TranslatedText
	m.TranslatedLanguage = server.TranslatedLanguage
	if server.SentimentTag != nil {
		m.SentimentTag = server.SentimentTag
	}
	return m
}
