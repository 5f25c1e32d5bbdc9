package repositories

import (
	"log/slog"
	"testing"
	"time"

	"local-language/domain"
	"local-language/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func confirmed(id, conversationID, sender, text string, at time.Time) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       sender,
		Text:           text,
		SourceLanguage: "english",
		Timestamp:      at,
		Status:         domain.StatusSent,
	}
}

func Test_Record_Multiple_Message(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Given three messages stored out of order
	messages := []domain.Message{
		confirmed("m1", "c1", "alice", "Hello", at),
		confirmed("m2", "c1", "bob", "Namaste", at.Add(time.Minute)),
		confirmed("m3", "c1", "alice", "How are you?", at.Add(2*time.Minute)),
	}
	messages[1] = messages[1].WithTranslation(domain.Translation{Text: "Hello", Language: "english", Sentiment: lo.ToPtr("positive")})
	for _, i := range []int{2, 0, 1} {
		req.NoError(repository.StoreMessage(messages[i]))
	}

	// When the conversation is read back
	fetched, cursor, err := repository.GetMessages("c1", nil)

	// Then they come back in chronological order, translations included
	req.NoError(err)
	req.NotNil(cursor)
	req.Equal(messages, fetched)
}

func Test_Record_Same_Message_Overwrites(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	message := confirmed("m1", "c1", "alice", "Hello", at)
	req.NoError(repository.StoreMessage(message))
	message.Status = domain.StatusRead
	req.NoError(repository.StoreMessage(message))

	fetched, _, err := repository.GetMessages("c1", nil)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal(domain.StatusRead, fetched[0].Status)
}

func Test_Record_Multiple_Message_And_Limit(t *testing.T) {
	req := require.New(t)
	limit := 2
	repository := NewMessageRepository(openDB(t), slog.Default(), &limit)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		req.NoError(repository.StoreMessage(confirmed(id, "c1", "alice", id, at.Add(time.Duration(i)*time.Second))))
	}
	ids := func(messages []domain.Message) []string {
		return lo.Map(messages, func(m domain.Message, _ int) string { return m.ID })
	}

	// The newest page first
	page, cursor, err := repository.GetMessages("c1", nil)
	req.NoError(err)
	req.Equal([]string{"m4", "m5"}, ids(page))

	// Then older pages through the cursor
	page, cursor, err = repository.GetMessages("c1", cursor)
	req.NoError(err)
	req.Equal([]string{"m2", "m3"}, ids(page))

	page, cursor, err = repository.GetMessages("c1", cursor)
	req.NoError(err)
	req.Equal([]string{"m1"}, ids(page))

	page, _, err = repository.GetMessages("c1", cursor)
	req.NoError(err)
	req.Empty(page)
}

func Test_Conversations_Are_Isolated(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	req.NoError(repository.StoreMessage(confirmed("m1", "c1", "alice", "Hello", at)))
	req.NoError(repository.StoreMessage(confirmed("m2", "c10", "carol", "Hola", at)))
	req.NoError(repository.StoreMessage(confirmed("m3", "c2", "dave", "Salut", at)))

	conversations, err := repository.Conversations()
	req.NoError(err)
	req.Equal([]string{"c1", "c10", "c2"}, conversations)

	fetched, _, err := repository.GetMessages("c1", nil)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal("m1", fetched[0].ID)
}

func Test_Record_Requires_Server_Id(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)

	err := repository.StoreMessage(domain.Message{CorrelationID: "tmp-1", ConversationID: "c1", Text: "Hello"})

	req.ErrorIs(err, errors.ErrInvalidMessage)
	conversations, err := repository.Conversations()
	req.NoError(err)
	req.Empty(conversations)
}
