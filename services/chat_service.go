package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"local-language/contract"
	"local-language/domain"
	"local-language/domain/event"
	"local-language/domain/search"
	"local-language/errors"
	"local-language/repositories"
	"local-language/runtime"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

type IChatService interface {
	Connect(ctx context.Context) error
	Logout()
	Conversations(ctx context.Context) ([]ConversationSummary, error)
	StartConversation(ctx context.Context, email string) (domain.Conversation, error)
	Open(ctx context.Context, conversationID string) error
	Close(ctx context.Context, conversationID string) error
	Send(ctx context.Context, conversationID, text string) (domain.Message, error)
	Retry(ctx context.Context, conversationID, correlationID string) error
	Keystroke(ctx context.Context, conversationID string) error
	MarkRead(ctx context.Context, conversationID, messageID string) error
	Snapshot(ctx context.Context, conversationID string) (runtime.Snapshot, error)
	RequestCall(ctx context.Context, conversationID string) error
	CachedMessages(conversationID string, cursor *string) ([]domain.Message, *string, error)
	Search(ctx context.Context, input string) ([]repositories.SearchHit, uint64, error)
	Languages(ctx context.Context) ([]string, error)
}

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	Conversation domain.Conversation
	Partner      domain.User
}

// ChatService is what a UI talks to. It validates user input and forwards
// to the coordinator, the chat API and the local stores.
type ChatService struct {
	log         *slog.Logger
	userID      string
	session     *runtime.Session
	coordinator *runtime.Coordinator
	api         contract.ChatAPI
	messages    repositories.IMessageRepository
	search      repositories.ISearchRepository
	validate    *validator.Validate
}

func NewChatService(
	log *slog.Logger,
	orchestrator *runtime.Orchestrator,
	api contract.ChatAPI,
	messages repositories.IMessageRepository,
	search repositories.ISearchRepository,
) *ChatService {
	session := orchestrator.Session()
	return &ChatService{
		log:         log.With("component", "chat_service"),
		userID:      session.UserID(),
		session:     session,
		coordinator: orchestrator.Coordinator(),
		api:         api,
		messages:    messages,
		search:      search,
		validate:    validator.New(),
	}
}

func (s *ChatService) UserID() string { return s.userID }

func (s *ChatService) Connect(ctx context.Context) error {
	return s.session.Connect(ctx)
}

// Logout announces the user offline and drops every conversation state.
func (s *ChatService) Logout() {
	s.session.Disconnect()
}

// Conversations lists the user's conversations, most recent activity
// first, with the partner's profile. A partner that cannot be fetched is
// shown by id.
func (s *ChatService) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	conversations, err := s.api.ListConversations(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]ConversationSummary, 0, len(conversations))
	partners := make(map[string]domain.User)
	for _, conversation := range conversations {
		partnerID := conversation.PartnerOf(s.userID)
		partner, ok := partners[partnerID]
		if !ok {
			partner, err = s.api.GetUser(ctx, partnerID)
			if err != nil {
				s.log.Warn("Partner lookup failed", "user_id", partnerID, "error", err)
				partner = domain.User{ID: partnerID, Name: partnerID}
			}
			partners[partnerID] = partner
		}
		summaries = append(summaries, ConversationSummary{Conversation: conversation, Partner: partner})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Conversation.LastActivity().After(summaries[j].Conversation.LastActivity())
	})
	return summaries, nil
}

// StartConversation opens (or finds) the conversation with the user
// registered under email.
func (s *ChatService) StartConversation(ctx context.Context, email string) (domain.Conversation, error) {
	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: email %q", errors.ErrInvalidInput, email)
	}
	partner, err := s.api.FindUserByEmail(ctx, email)
	if err != nil {
		return domain.Conversation{}, err
	}
	if partner.ID == s.userID {
		return domain.Conversation{}, fmt.Errorf("%w: cannot start a conversation with yourself", errors.ErrInvalidInput)
	}
	return s.api.CreateConversation(ctx, s.userID, partner.ID)
}

func (s *ChatService) Open(ctx context.Context, conversationID string) error {
	if err := s.validate.Var(conversationID, "required"); err != nil {
		return fmt.Errorf("%w: conversation id", errors.ErrInvalidInput)
	}
	return s.coordinator.Open(ctx, conversationID, s.userID)
}

func (s *ChatService) Close(ctx context.Context, conversationID string) error {
	return s.coordinator.Close(ctx, conversationID, s.userID)
}

// Send posts text in the user's language; the source language is detected
// and the target is the partner's preferred language.
func (s *ChatService) Send(ctx context.Context, conversationID, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if err := s.validate.Var(text, "required,max=4000"); err != nil {
		return domain.Message{}, fmt.Errorf("%w: message text", errors.ErrInvalidInput)
	}
	return s.coordinator.Send(ctx, conversationID, text, "", "")
}

func (s *ChatService) Retry(ctx context.Context, conversationID, correlationID string) error {
	return s.coordinator.Retry(ctx, conversationID, correlationID)
}

func (s *ChatService) Keystroke(ctx context.Context, conversationID string) error {
	return s.coordinator.Keystroke(ctx, conversationID)
}

func (s *ChatService) MarkRead(ctx context.Context, conversationID, messageID string) error {
	return s.coordinator.MarkRead(ctx, conversationID, messageID)
}

// MarkAllRead marks every partner message that is not read yet.
func (s *ChatService) MarkAllRead(ctx context.Context, conversationID string) error {
	snapshot, err := s.coordinator.Snapshot(ctx, conversationID)
	if err != nil {
		return err
	}
	unread := lo.Filter(snapshot.Messages, func(m domain.Message, _ int) bool {
		return m.ID != "" && m.SenderID != s.userID && m.Status != domain.StatusRead
	})
	for _, message := range unread {
		if err = s.coordinator.MarkRead(ctx, conversationID, message.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChatService) Snapshot(ctx context.Context, conversationID string) (runtime.Snapshot, error) {
	return s.coordinator.Snapshot(ctx, conversationID)
}

// RequestCall rings the partner of a joined conversation.
func (s *ChatService) RequestCall(ctx context.Context, conversationID string) error {
	state, err := s.coordinator.State(ctx, conversationID)
	if err != nil {
		return err
	}
	if state != domain.JoinJoined {
		return fmt.Errorf("%w: %s", errors.ErrNotJoined, conversationID)
	}
	return s.session.Publish(event.VoiceCallRequest, event.CallPayload{ConversationID: conversationID, CallerID: s.userID})
}

// CachedMessages reads the local cache, newest page first, so history is
// available without a connection.
func (s *ChatService) CachedMessages(conversationID string, cursor *string) ([]domain.Message, *string, error) {
	return s.messages.GetMessages(conversationID, cursor)
}

// Search parses a query such as "/find invoice --from bob --limit 5" and
// runs it against the local index.
func (s *ChatService) Search(ctx context.Context, input string) ([]repositories.SearchHit, uint64, error) {
	return s.search.Search(ctx, *search.NewSearchQuery(input))
}

func (s *ChatService) Languages(ctx context.Context) ([]string, error) {
	return s.api.Languages(ctx)
}
