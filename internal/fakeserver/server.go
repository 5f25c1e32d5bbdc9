// Package fakeserver is an in-process chat backend: the REST routes of the
// chat API and the push channel over WebSocket. It keeps everything in
// memory and is used by integration tests and local runs.
package fakeserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"local-language/domain"
	"local-language/domain/event"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

type User struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	PreferredLanguage string `json:"preferred_language"`
}

type Conversation struct {
	ID             string     `json:"id"`
	Participant1ID string     `json:"participant1_id"`
	Participant2ID string     `json:"participant2_id"`
	CreatedAt      time.Time  `json:"created_at"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
}

type createConversationRequest struct {
	Participant1ID string `json:"participant1_id"`
	Participant2ID string `json:"participant2_id"`
}

type sendMessageRequest struct {
	ConversationID     string `json:"conversation_id"`
	SenderID           string `json:"sender_id"`
	ClientID           string `json:"client_id"`
	Text               string `json:"text"`
	Language           string `json:"language"`
	TranslatedLanguage string `json:"translated_language"`
	IsVoice            bool   `json:"is_voice"`
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// TranslateFunc stands in for the translation backend.
type TranslateFunc func(text, source, target string) (string, error)

// Tag prefixes the text with the target language code.
func Tag(text, _, target string) (string, error) {
	return fmt.Sprintf("[%s] %s", domain.LanguageCode(target), text), nil
}

type client struct {
	conn   *websocket.Conn
	userID string
	rooms  map[string]struct{}
}

type Server struct {
	log       *slog.Logger
	echo      *echo.Echo
	token     string
	translate TranslateFunc
	now       func() time.Time

	mu            sync.Mutex
	users         map[string]User
	conversations map[string]Conversation
	messages      map[string][]event.MessagePayload
	clients       map[*client]struct{}
	failSends     int
}

func New(log *slog.Logger, token string, translate TranslateFunc) *Server {
	if translate == nil {
		translate = Tag
	}
	s := &Server{
		log:           log.With("component", "fakeserver"),
		echo:          echo.New(),
		token:         token,
		translate:     translate,
		now:           func() time.Time { return time.Now().UTC() },
		users:         make(map[string]User),
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]event.MessagePayload),
		clients:       make(map[*client]struct{}),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError
	s.echo.Use(s.authenticate)
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start(address string) error { return s.echo.Start(address) }

func (s *Server) Shutdown(ctx context.Context) error {
	s.DropConnections()
	return s.echo.Shutdown(ctx)
}

func (s *Server) routes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	chat := s.echo.Group("/chat")
	chat.POST("/conversations", s.createConversation)
	chat.GET("/conversations/user/:user_id", s.listConversations)
	chat.GET("/conversations/:id", s.getConversation)
	chat.POST("/messages", s.sendMessage)
	chat.GET("/messages/:conversation_id", s.getMessages)
	chat.POST("/translate", s.translateText)
	chat.GET("/languages", s.languages)
	auth := s.echo.Group("/auth")
	auth.GET("/users/search", s.searchUser)
	auth.GET("/users/:id", s.getUser)
	s.echo.GET("/ws", s.push)
}

// AddUser registers a user and returns it.
func (s *Server) AddUser(user User) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.users[user.ID] = user
	return user
}

// FailNextSends makes the next n message persists answer 500.
func (s *Server) FailNextSends(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSends = n
}

// Messages returns what was persisted for a conversation.
func (s *Server) Messages(conversationID string) []event.MessagePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.MessagePayload(nil), s.messages[conversationID]...)
}

// Connections counts open push channel connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Push sends an event to every client in a conversation room.
func (s *Server) Push(conversationID, name string, payload any) error {
	envelope, err := event.NewEnvelope(name, payload)
	if err != nil {
		return err
	}
	s.broadcast(envelope, func(c *client) bool { return lo.HasKey(c.rooms, conversationID) })
	return nil
}

// DropConnections closes every push channel connection abruptly.
func (s *Server) DropConnections() {
	s.mu.Lock()
	clients := lo.Keys(s.clients)
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server restart")
	}
}

func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.token == "" || c.Path() == "/health" {
			return next(c)
		}
		if c.Request().Header.Get(echo.HeaderAuthorization) != "Bearer "+s.token {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
		}
		return next(c)
	}
}

// handleError renders errors as {"detail": ...}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, detail := http.StatusInternalServerError, err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code, detail = he.Code, fmt.Sprint(he.Message)
	}
	if err = c.JSON(code, map[string]string{"detail": detail}); err != nil {
		s.log.Debug("Could not write error", "error", err)
	}
}

func (s *Server) createConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil || req.Participant1ID == "" || req.Participant2ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Both participants are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conversation := range s.conversations {
		if samePair(conversation, req.Participant1ID, req.Participant2ID) {
			return c.JSON(http.StatusOK, conversation)
		}
	}
	conversation := Conversation{
		ID:             uuid.NewString(),
		Participant1ID: req.Participant1ID,
		Participant2ID: req.Participant2ID,
		CreatedAt:      s.now(),
	}
	s.conversations[conversation.ID] = conversation
	return c.JSON(http.StatusOK, conversation)
}

func (s *Server) listConversations(c echo.Context) error {
	userID := c.Param("user_id")
	s.mu.Lock()
	defer s.mu.Unlock()
	conversations := lo.Filter(lo.Values(s.conversations), func(conversation Conversation, _ int) bool {
		return conversation.Participant1ID == userID || conversation.Participant2ID == userID
	})
	sort.Slice(conversations, func(i, j int) bool {
		return lastActivity(conversations[i]).After(lastActivity(conversations[j]))
	})
	return c.JSON(http.StatusOK, conversations)
}

func (s *Server) getConversation(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[c.Param("id")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
	}
	return c.JSON(http.StatusOK, conversation)
}

// sendMessage persists and translates a message for its recipient.
func (s *Server) sendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Text is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSends > 0 {
		s.failSends--
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to send message")
	}
	conversation, ok := s.conversations[req.ConversationID]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
	}
	target := req.TranslatedLanguage
	if target == "" {
		target = s.users[conversation.PartnerOf(req.SenderID)].PreferredLanguage
	}
	target = lo.Ternary(target == "", domain.DefaultLanguage, target)
	source := req.Language
	if source == "" {
		source = domain.DetectLanguage(req.Text)
	}
	message := event.MessagePayload{
		ID:             uuid.NewString(),
		ClientID:       req.ClientID,
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Text:           req.Text,
		Language:       source,
		Timestamp:      s.now(),
		Status:         string(domain.StatusSent),
		IsVoice:        req.IsVoice,
	}
	if !domain.SameLanguage(source, target) {
		translated, err := s.translate(req.Text, source, target)
		if err == nil {
			message.TranslatedText = &translated
			message.TranslatedLanguage = &target
		}
	}
	s.messages[req.ConversationID] = append(s.messages[req.ConversationID], message)
	conversation.LastMessageAt = &message.Timestamp
	s.conversations[conversation.ID] = conversation
	return c.JSON(http.StatusOK, message)
}

func (s *Server) getMessages(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid limit")
		}
		limit = parsed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := s.messages[c.Param("conversation_id")]
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return c.JSON(http.StatusOK, lo.Ternary(messages == nil, []event.MessagePayload{}, messages))
}

func (s *Server) translateText(c echo.Context) error {
	var req translateRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Text is required")
	}
	target := lo.Ternary(req.TargetLanguage == "", domain.DefaultLanguage, req.TargetLanguage)
	source := lo.Ternary(req.SourceLanguage == "", domain.DetectLanguage(req.Text), req.SourceLanguage)
	translated, err := s.translate(req.Text, source, target)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{
		"original_text":   req.Text,
		"source_language": source,
		"translated_text": translated,
		"target_language": target,
	})
}

func (s *Server) languages(c echo.Context) error {
	names := domain.SupportedLanguages()
	codes := lo.SliceToMap(names, func(name string) (string, string) { return name, domain.LanguageCode(name) })
	return c.JSON(http.StatusOK, map[string]any{"languages": names, "language_codes": codes})
}

func (s *Server) getUser(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[c.Param("id")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	}
	return c.JSON(http.StatusOK, user)
}

func (s *Server) searchUser(c echo.Context) error {
	email := strings.ToLower(strings.TrimSpace(c.QueryParam("email")))
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := lo.Find(lo.Values(s.users), func(u User) bool { return strings.ToLower(u.Email) == email })
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "User not found. Please check the email.")
	}
	return c.JSON(http.StatusOK, user)
}

// push serves one push channel connection: handshake, then relays client
// events to the conversation rooms like the original socket server.
func (s *Server) push(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	cl := &client{conn: conn, rooms: make(map[string]struct{})}
	s.mu.Lock()
	s.clients[cl] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, cl)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := c.Request().Context()
	if err = wsjson.Write(ctx, conn, mustEnvelope(event.ConnectionResponse, event.ConnectionPayload{Status: "connected"})); err != nil {
		return nil
	}
	for {
		var envelope event.Envelope
		if err = wsjson.Read(ctx, conn, &envelope); err != nil {
			return nil
		}
		s.relay(cl, envelope)
	}
}

func (s *Server) relay(from *client, envelope event.Envelope) {
	var scope event.Scope
	_ = json.Unmarshal(envelope.Data, &scope)
	inRoom := func(c *client) bool { return lo.HasKey(c.rooms, scope.ConversationID) }
	others := func(c *client) bool { return c != from && inRoom(c) }

	switch envelope.Event {
	case event.JoinConversation:
		var payload event.JoinPayload
		_ = json.Unmarshal(envelope.Data, &payload)
		s.mu.Lock()
		from.rooms[payload.ConversationID] = struct{}{}
		from.userID = payload.UserID
		s.mu.Unlock()
		s.broadcast(mustEnvelope(event.JoinedConversation, payload), inRoom)
	case event.LeaveConversation:
		s.mu.Lock()
		delete(from.rooms, scope.ConversationID)
		s.mu.Unlock()
	case event.SendMessage:
		s.broadcast(event.Envelope{Event: event.NewMessage, Data: envelope.Data}, inRoom)
	case event.Typing:
		s.broadcast(envelope, others)
	case event.MessageRead:
		s.broadcast(envelope, others)
	case event.UserOnline, event.UserOffline:
		var payload event.PresencePayload
		_ = json.Unmarshal(envelope.Data, &payload)
		at := s.now()
		payload.Timestamp = &at
		s.mu.Lock()
		from.userID = payload.UserID
		s.mu.Unlock()
		s.broadcast(mustEnvelope(envelope.Event, payload), func(c *client) bool { return c != from })
	case event.VoiceCallRequest:
		var payload event.CallPayload
		_ = json.Unmarshal(envelope.Data, &payload)
		s.broadcast(mustEnvelope(event.IncomingCall, payload), others)
	default:
		s.log.Debug("Unknown event", "event", envelope.Event)
	}
}

func (s *Server) broadcast(envelope event.Envelope, to func(*client) bool) {
	s.mu.Lock()
	targets := lo.Filter(lo.Keys(s.clients), func(c *client, _ int) bool { return to(c) })
	s.mu.Unlock()
	for _, c := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := wsjson.Write(ctx, c.conn, envelope); err != nil {
			s.log.Debug("Broadcast failed", "event", envelope.Event, "error", err)
		}
		cancel()
	}
}

func mustEnvelope(name string, payload any) event.Envelope {
	envelope, err := event.NewEnvelope(name, payload)
	if err != nil {
		panic(err)
	}
	return envelope
}

func samePair(c Conversation, a, b string) bool {
	return (c.Participant1ID == a && c.Participant2ID == b) || (c.Participant1ID == b && c.Participant2ID == a)
}

func lastActivity(c Conversation) time.Time {
	return domain.Conversation{CreatedAt: c.CreatedAt, LastMessageAt: c.LastMessageAt}.LastActivity()
}

func (c Conversation) PartnerOf(userID string) string {
	return domain.Conversation{Participant1ID: c.Participant1ID, Participant2ID: c.Participant2ID}.PartnerOf(userID)
}
