package runtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Handler receives the raw payload of one event.
type Handler func(payload json.RawMessage)

// Token identifies one subscription.
type Token string

type subscription struct {
	token   Token
	handler Handler
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]subscription // map event name -> subscriptions in subscribe order
	events   map[Token]string          // map token -> event name
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]subscription),
		events:   make(map[Token]string),
	}
}

// Subscribe registers a handler for an event name and returns the token
// needed to remove it.
func (r *Registry) Subscribe(name string, handler Handler) Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := Token(uuid.NewString())
	r.handlers[name] = append(r.handlers[name], subscription{token: token, handler: handler})
	r.events[token] = name
	return token
}

// Unsubscribe removes subscriptions. Unknown tokens are ignored and no empty
// handler list is left behind.
func (r *Registry) Unsubscribe(tokens ...Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, token := range tokens {
		name, ok := r.events[token]
		if !ok {
			continue
		}
		delete(r.events, token)
		remaining := lo.Reject(r.handlers[name], func(s subscription, _ int) bool { return s.token == token })
		if len(remaining) == 0 {
			delete(r.handlers, name)
			continue
		}
		r.handlers[name] = remaining
	}
}

// Active reports whether the token is still subscribed.
func (r *Registry) Active(token Token) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.events[token]
	return ok
}

// subscriptions returns a snapshot of the handlers for an event, in
// subscribe order.
func (r *Registry) subscriptions(name string) []subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]subscription(nil), r.handlers[name]...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
