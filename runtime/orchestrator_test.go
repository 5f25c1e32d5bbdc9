package runtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"local-language/domain"
	"local-language/domain/event"
	"local-language/mocks"
	"local-language/runtime/workers"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type RecordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (s *RecordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *RecordingSink) messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var messages []domain.Message
	for _, e := range s.events {
		if changed, ok := e.(event.MessageChanged); ok {
			messages = append(messages, changed.Message)
		}
	}
	return messages
}

func Test_Orchestrator_translates_incoming_messages(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelError)
	ctrl := gomock.NewController(t)
	api := mocks.NewMockChatAPI(ctrl)
	translator := mocks.NewMockTranslator(ctrl)
	dialer := &fakeDialer{}
	conn := dialer.add(newFakeConn())

	orchestrator := NewOrchestrator(log, workers.NewSupervisor(log, 0), dialer, api, translator, OrchestratorConfig{
		Session:            SessionConfig{UserID: "alice", HandshakeTimeout: 200 * time.Millisecond},
		TranslationWorkers: 2,
	})
	sink := &RecordingSink{}
	orchestrator.Add(sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = orchestrator.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		orchestrator.Stop()
		cancel()
		<-done
	})

	// Given alice talks to bob who writes hindi
	api.EXPECT().FetchHistory(gomock.Any(), "c1", 50).Return(nil, nil).Times(1)
	api.EXPECT().GetConversation(gomock.Any(), "c1").
		Return(domain.Conversation{ID: "c1", Participant1ID: "alice", Participant2ID: "bob"}, nil).Times(1)
	api.EXPECT().GetUser(gomock.Any(), "alice").Return(domain.User{ID: "alice", PreferredLanguage: "english"}, nil).Times(1)
	api.EXPECT().GetUser(gomock.Any(), "bob").Return(domain.User{ID: "bob", PreferredLanguage: "hindi"}, nil).Times(1)
	translator.EXPECT().Translate(gomock.Any(), "नमस्ते", "hindi", "english").
		Return(domain.Translation{Text: "Hello"}, nil).Times(1)

	req.NoError(orchestrator.Session().Connect(context.Background()))
	req.NoError(orchestrator.Coordinator().Open(context.Background(), "c1", "alice"))
	req.Eventually(func() bool {
		snapshot, err := orchestrator.Coordinator().Snapshot(context.Background(), "c1")
		return err == nil && snapshot.State == domain.JoinJoined && snapshot.PartnerID == "bob"
	}, 2*time.Second, 5*time.Millisecond)

	// When bob's message is pushed
	conn.push(event.NewMessage, event.FromMessage(domain.Message{
		ID: "m-1", ConversationID: "c1", SenderID: "bob", Text: "नमस्ते", SourceLanguage: "hindi", Timestamp: time.Now(),
	}))

	// Then sinks see it arrive, then get its translation
	req.Eventually(func() bool {
		messages := sink.messages()
		return len(messages) == 2 && messages[1].HasTranslation()
	}, 2*time.Second, 5*time.Millisecond)
	messages := sink.messages()
	req.Equal("m-1", messages[0].ID)
	req.False(messages[0].HasTranslation())
	req.Equal("Hello", *messages[1].TranslatedText)
	req.Equal("नमस्ते", messages[1].Text)
}
