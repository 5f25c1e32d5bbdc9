//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"local-language/domain"
	"local-language/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Dialer opens one push channel connection per call.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is a single push channel connection.
// Read is called by one goroutine at a time, Write may be called concurrently.
type Conn interface {
	Read(ctx context.Context) (event.Envelope, error)
	Write(ctx context.Context, envelope event.Envelope) error
	Close() error
}

// ChatAPI is the request/response side of the chat backend.
type ChatAPI interface {
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	CreateConversation(ctx context.Context, userID, partnerID string) (domain.Conversation, error)
	FetchHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	SendMessage(ctx context.Context, request domain.SendRequest) (domain.Message, error)
	GetUser(ctx context.Context, userID string) (domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (domain.User, error)
	Languages(ctx context.Context) ([]string, error)
}

type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (domain.Translation, error)
}
