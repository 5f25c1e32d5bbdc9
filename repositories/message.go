//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"local-language/domain"
	"local-language/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const messagePrefix = "msg:"

type IMessageRepository interface {
	StoreMessage(message domain.Message) error
	GetMessages(conversationID string, cursor *string) ([]domain.Message, *string, error)
	Conversations() ([]string, error)
}

// MessageRepository is the local cache of confirmed messages.
type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

// StoreMessage upserts a confirmed message.
// The key is "msg:{conversation_id}:{timestamp_padded}:{id}": the 19 digit
// padding keeps keys in chronological order, the id separates messages of
// the same nanosecond. A later version of the same message overwrites it.
func (m MessageRepository) StoreMessage(message domain.Message) error {
	if message.ID == "" || message.ConversationID == "" {
		return fmt.Errorf("store message: %w: id and conversation are required", errors.ErrInvalidMessage)
	}
	bytes, err := proto.Marshal(fromMessage(message))
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), bytes)
	})
}

// GetMessages returns up to limitMessages messages older than cursor, in
// chronological order, and the cursor for the next older page.
func (m MessageRepository) GetMessages(conversationID string, cursor *string) ([]domain.Message, *string, error) {
	var values [][]byte
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("%s%s:", messagePrefix, conversationID)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Past the newest possible key, the reverse iterator walks back
			seekKey = append([]byte(prefixStr), []byte("9999999999999999999~")...)
		default:
			seekKey = append([]byte(prefixStr), []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()[len(prefix):]) == *cursor {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(values) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			if err := item.Value(func(value []byte) error {
				values = append(values, append([]byte(nil), value...))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	messages := make([]domain.Message, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		var value structpb.Struct
		if err = proto.Unmarshal(values[i], &value); err != nil {
			return nil, nil, err
		}
		message, err := toMessage(&value)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}
	return messages, &lastKey, nil
}

// Conversations lists the cached conversation ids.
func (m MessageRepository) Conversations() ([]string, error) {
	seen := make(map[string]struct{})
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = []byte(messagePrefix)
		it := txn.NewIterator(options)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), messagePrefix)
			if idx := strings.Index(rest, ":"); idx > 0 {
				seen[rest[:idx]] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ids := lo.Keys(seen)
	sort.Strings(ids)
	return ids, nil
}

func messageKey(message domain.Message) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", messagePrefix,
		message.ConversationID,
		message.Timestamp.UnixNano(),
		message.ID,
	))
}

func fromMessage(message domain.Message) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"id":              structpb.NewStringValue(message.ID),
		"client_id":       structpb.NewStringValue(message.CorrelationID),
		"conversation_id": structpb.NewStringValue(message.ConversationID),
		"sender_id":       structpb.NewStringValue(message.SenderID),
		"text":            structpb.NewStringValue(message.Text),
		"language":        structpb.NewStringValue(message.SourceLanguage),
		"timestamp":       structpb.NewStringValue(message.Timestamp.UTC().Format(time.RFC3339Nano)),
		"status":          structpb.NewStringValue(string(message.Status)),
		"is_voice":        structpb.NewBoolValue(message.IsVoice),
	}
	optional := map[string]*string{
		"translated_text":     message.TranslatedText,
		"translated_language": message.TranslatedLanguage,
		"sentiment":           message.SentimentTag,
	}
	for name, value := range optional {
		if value != nil {
			fields[name] = structpb.NewStringValue(*value)
		}
	}
	return &structpb.Struct{Fields: fields}
}

func toMessage(value *structpb.Struct) (domain.Message, error) {
	fields := value.GetFields()
	str := func(name string) string { return fields[name].GetStringValue() }
	optional := func(name string) *string {
		if _, ok := fields[name]; !ok {
			return nil
		}
		return lo.ToPtr(str(name))
	}
	timestamp, err := time.Parse(time.RFC3339Nano, str("timestamp"))
	if err != nil {
		return domain.Message{}, fmt.Errorf("message %s: %w", str("id"), err)
	}
	return domain.Message{
		ID:                 str("id"),
		CorrelationID:      str("client_id"),
		ConversationID:     str("conversation_id"),
		SenderID:           str("sender_id"),
		Text:               str("text"),
		SourceLanguage:     str("language"),
		TranslatedText:     optional("translated_text"),
		TranslatedLanguage: optional("translated_language"),
		SentimentTag:       optional("sentiment"),
		Timestamp:          timestamp,
		Status:             domain.ParseStatus(str("status")),
		IsVoice:            fields["is_voice"].GetBoolValue(),
	}, nil
}
