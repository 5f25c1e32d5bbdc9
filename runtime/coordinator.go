package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"local-language/contract"
	"local-language/domain"
	"local-language/domain/event"
	"local-language/errors"
	"local-language/projection"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type CoordinatorConfig struct {
	HistoryLimit  int
	SendTimeout   time.Duration
	FetchTimeout  time.Duration
	TypingIdle    time.Duration
	TypingRefresh time.Duration
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	return c
}

// TranslationQueue accepts translation work for confirmed messages.
type TranslationQueue interface {
	Enqueue(job domain.TranslationJob) bool
	// Forget drops the dedupe state of a conversation once it is closed.
	Forget(conversationID string)
}

type bufferedEvent struct {
	name string
	raw  json.RawMessage
}

type membership struct {
	conversationID string
	userID         string
	state          domain.JoinState
	generation     uint64 // one open/close lifecycle
	joinToken      uint64 // one join attempt
	joinedOnConn   uint64 // session generation the join was sent on
	timeline       *projection.Timeline
	buffer         []bufferedEvent
	tokens         []Token
	typing         *TypingEmitter
	conversation   *domain.Conversation
	languages      map[string]string // map participant -> preferred language
	targets        map[string]string // map correlation id -> target language
}

// Snapshot is a read-only view of one conversation for rendering.
type Snapshot struct {
	ConversationID string
	State          domain.JoinState
	Connection     domain.ConnectionState
	Messages       []domain.Message
	Typing         []string
	PartnerID      string
	Partner        *domain.PresenceEntry
}

// Coordinator tracks conversation memberships on top of the session. It
// owns every timeline and the presence tracker; all of its state is only
// touched from the Loop. Network calls run on their own goroutines and
// post their completion back, tagged with the generation or join token
// they were issued for. Completions whose tag no longer matches are stale
// and dropped.
type Coordinator struct {
	log     *slog.Logger
	session *Session
	loop    *Loop
	api     contract.ChatAPI
	tracker *projection.Tracker
	queue   TranslationQueue
	events  chan<- event.DomainEvent
	cfg     CoordinatorConfig
	now     func() time.Time

	sequence    uint64
	memberships map[string]*membership
	timelines   map[string]*projection.Timeline
}

func NewCoordinator(
	log *slog.Logger,
	session *Session,
	loop *Loop,
	api contract.ChatAPI,
	tracker *projection.Tracker,
	queue TranslationQueue,
	events chan<- event.DomainEvent,
	cfg CoordinatorConfig,
) *Coordinator {
	c := &Coordinator{
		log:         log.With("component", "coordinator"),
		session:     session,
		loop:        loop,
		api:         api,
		tracker:     tracker,
		queue:       queue,
		events:      events,
		cfg:         cfg.withDefaults(),
		now:         time.Now,
		memberships: make(map[string]*membership),
		timelines:   make(map[string]*projection.Timeline),
	}
	On(session, event.Connected, func(p event.SessionPayload) { c.rejoin(p.Generation) })
	On(session, event.Reconnected, func(p event.SessionPayload) { c.rejoin(p.Generation) })
	On(session, event.Disconnected, func(struct{}) { c.reset() })
	On(session, event.UserOnline, func(p event.PresencePayload) { c.presence(p, true) })
	On(session, event.UserOffline, func(p event.PresencePayload) { c.presence(p, false) })
	On(session, event.StateChanged, func(p event.StatePayload) {
		c.notify(event.ConnectionChanged{State: p.State})
	})
	On(session, event.TransportError, func(p event.TransportErrorPayload) {
		c.notify(event.ConnectionChanged{State: c.session.State(), Attempts: p.Attempts, Err: p.Error})
	})
	return c
}

// Open joins a conversation. Calling it again restarts the join: the
// previous attempt's history response is discarded.
func (c *Coordinator) Open(ctx context.Context, conversationID, userID string) error {
	if conversationID == "" || userID == "" {
		return fmt.Errorf("%w: conversation and user are required", errors.ErrInvalidInput)
	}
	return c.loop.Call(ctx, func() {
		m, ok := c.memberships[conversationID]
		if ok && m.userID != userID {
			c.close(m)
			ok = false
		}
		if !ok {
			m = c.newMembership(conversationID, userID)
		}
		c.join(m)
	})
}

// Close leaves a conversation. Closing an Idle conversation does nothing.
func (c *Coordinator) Close(ctx context.Context, conversationID, userID string) error {
	return c.loop.Call(ctx, func() {
		m, ok := c.memberships[conversationID]
		if !ok {
			return
		}
		if m.userID != userID {
			c.log.Warn("Closing conversation joined by another user", "conversation_id", conversationID, "user_id", userID)
		}
		c.close(m)
	})
}

// Send appends an optimistic record and persists it. The returned record
// is still pending; its confirmation arrives as a MessageChanged event.
func (c *Coordinator) Send(ctx context.Context, conversationID, text, sourceLanguage, targetLanguage string) (domain.Message, error) {
	var message domain.Message
	var err error
	if callErr := c.loop.Call(ctx, func() {
		message, err = c.send(conversationID, text, sourceLanguage, targetLanguage)
	}); callErr != nil {
		return domain.Message{}, callErr
	}
	return message, err
}

// Retry resends a failed record under its original correlation id.
func (c *Coordinator) Retry(ctx context.Context, conversationID, correlationID string) error {
	var err error
	if callErr := c.loop.Call(ctx, func() {
		m, joinErr := c.joined(conversationID)
		if joinErr != nil {
			err = joinErr
			return
		}
		change, retryErr := m.timeline.Retry(correlationID)
		if retryErr != nil {
			err = retryErr
			return
		}
		c.changed(m, change)
		c.persist(m, change.Message)
	}); callErr != nil {
		return callErr
	}
	return err
}

// MarkRead records that the local user read a message from the partner.
func (c *Coordinator) MarkRead(ctx context.Context, conversationID, messageID string) error {
	var err error
	if callErr := c.loop.Call(ctx, func() {
		m, joinErr := c.joined(conversationID)
		if joinErr != nil {
			err = joinErr
			return
		}
		message, ok := m.timeline.Get(messageID)
		if !ok {
			err = fmt.Errorf("%w: %s", errors.ErrUnknownMessage, messageID)
			return
		}
		if message.SenderID == m.userID {
			return
		}
		if change, read := m.timeline.MarkRead(messageID); read {
			c.changed(m, change)
			c.publish(event.MessageRead, event.ReadPayload{ConversationID: conversationID, MessageID: messageID, UserID: m.userID})
		}
	}); callErr != nil {
		return callErr
	}
	return err
}

// Keystroke feeds the local typing emitter.
func (c *Coordinator) Keystroke(ctx context.Context, conversationID string) error {
	var err error
	if callErr := c.loop.Call(ctx, func() {
		m, joinErr := c.joined(conversationID)
		if joinErr != nil {
			err = joinErr
			return
		}
		m.typing.Keystroke()
	}); callErr != nil {
		return callErr
	}
	return err
}

func (c *Coordinator) State(ctx context.Context, conversationID string) (domain.JoinState, error) {
	state := domain.JoinIdle
	err := c.loop.Call(ctx, func() {
		if m, ok := c.memberships[conversationID]; ok {
			state = m.state
		}
	})
	return state, err
}

func (c *Coordinator) Snapshot(ctx context.Context, conversationID string) (Snapshot, error) {
	snapshot := Snapshot{ConversationID: conversationID, State: domain.JoinIdle, Connection: c.session.State()}
	err := c.loop.Call(ctx, func() {
		timeline := c.timelines[conversationID]
		if m, ok := c.memberships[conversationID]; ok {
			snapshot.State = m.state
			snapshot.Typing = c.tracker.TypingUsers(conversationID)
			if m.conversation != nil {
				snapshot.PartnerID = m.conversation.PartnerOf(m.userID)
				if entry, known := c.tracker.Presence(snapshot.PartnerID); known {
					snapshot.Partner = &entry
				}
			}
		}
		if timeline != nil {
			snapshot.Messages = timeline.Messages()
		}
	})
	return snapshot, err
}

// ApplyTranslation is called by the translation workers with a result.
func (c *Coordinator) ApplyTranslation(job domain.TranslationJob, translation domain.Translation) {
	c.loop.Post(func() {
		m, ok := c.memberships[job.ConversationID]
		if !ok || m.generation != job.Generation {
			c.log.Debug("Dropping translation", "message_id", job.MessageID, "error", errors.ErrStaleEvent)
			return
		}
		if change, applied := m.timeline.ApplyTranslation(job.MessageID, translation); applied {
			c.notify(change.Event())
		}
	})
}

// SweepTyping expires remote typing entries that outlived their TTL.
func (c *Coordinator) SweepTyping() {
	c.loop.Post(func() {
		for _, key := range c.tracker.Sweep() {
			c.notify(event.TypingChanged{Conversation: key.ConversationID, UserID: key.UserID, IsTyping: false})
		}
	})
}

func (c *Coordinator) next() uint64 {
	c.sequence++
	return c.sequence
}

func (c *Coordinator) newMembership(conversationID, userID string) *membership {
	timeline, ok := c.timelines[conversationID]
	if !ok {
		timeline = projection.NewTimeline(conversationID)
		c.timelines[conversationID] = timeline
	}
	m := &membership{
		conversationID: conversationID,
		userID:         userID,
		state:          domain.JoinIdle,
		generation:     c.next(),
		timeline:       timeline,
		languages:      make(map[string]string),
		targets:        make(map[string]string),
	}
	m.typing = NewTypingEmitter(c.loop, c.cfg.TypingIdle, c.cfg.TypingRefresh, func(isTyping bool) {
		c.publish(event.Typing, event.TypingPayload{ConversationID: conversationID, UserID: userID, IsTyping: isTyping})
	})
	m.tokens = lo.Map([]string{
		event.NewMessage,
		event.Typing,
		event.MessageRead,
		event.JoinedConversation,
		event.IncomingCall,
	}, func(name string, _ int) Token {
		return c.session.Subscribe(name, c.routed(conversationID, name))
	})
	c.memberships[conversationID] = m
	return m
}

// join starts a join attempt: join event, history and participants.
func (c *Coordinator) join(m *membership) {
	m.joinToken = c.next()
	m.state = domain.JoinJoining
	m.buffer = nil
	c.notify(event.MembershipChanged{Conversation: m.conversationID, State: domain.JoinJoining})

	m.joinedOnConn = 0
	if c.session.State() == domain.Connected {
		generation := c.session.Generation()
		if err := c.session.Publish(event.JoinConversation, event.JoinPayload{ConversationID: m.conversationID, UserID: m.userID}); err == nil {
			m.joinedOnConn = generation
		} else {
			c.log.Debug("Join not sent, waiting for connection", "conversation_id", m.conversationID, "error", err)
		}
	}

	go c.fetchHistory(m.conversationID, m.joinToken)
	if m.conversation == nil {
		go c.fetchParticipants(m.conversationID, m.generation)
	}
}

func (c *Coordinator) close(m *membership) {
	m.state = domain.JoinLeaving
	c.notify(event.MembershipChanged{Conversation: m.conversationID, State: domain.JoinLeaving})
	m.typing.Stop()
	c.publish(event.LeaveConversation, event.JoinPayload{ConversationID: m.conversationID, UserID: m.userID})
	c.session.Unsubscribe(m.tokens...)
	c.tracker.ClearConversation(m.conversationID)
	// Confirmations of these sends will be discarded, let the user retry them.
	for _, pending := range m.timeline.Pending() {
		if change, failed := m.timeline.Fail(pending.CorrelationID); failed {
			c.notify(change.Event())
		}
	}
	delete(c.memberships, m.conversationID)
	c.forget(m.conversationID)
	c.notify(event.MembershipChanged{Conversation: m.conversationID, State: domain.JoinIdle})
}

// rejoin re-issues joins after the session attached on a new connection.
func (c *Coordinator) rejoin(generation uint64) {
	for _, id := range c.sortedMemberships() {
		m := c.memberships[id]
		if m.state != domain.JoinJoining && m.state != domain.JoinJoined {
			continue
		}
		if m.joinedOnConn >= generation {
			continue
		}
		c.log.Info("Rejoining conversation", "conversation_id", id, "generation", generation)
		c.join(m)
	}
}

// reset drops every conversation after an explicit disconnect.
func (c *Coordinator) reset() {
	for _, id := range c.sortedMemberships() {
		m := c.memberships[id]
		m.typing.disarm()
		c.session.Unsubscribe(m.tokens...)
		delete(c.memberships, id)
		c.forget(id)
		c.notify(event.MembershipChanged{Conversation: id, State: domain.JoinIdle})
	}
	c.timelines = make(map[string]*projection.Timeline)
	c.tracker.Reset()
}

func (c *Coordinator) forget(conversationID string) {
	if c.queue != nil {
		c.queue.Forget(conversationID)
	}
}

func (c *Coordinator) sortedMemberships() []string {
	ids := lo.Keys(c.memberships)
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) fetchHistory(conversationID string, joinToken uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()
	messages, err := c.api.FetchHistory(ctx, conversationID, c.cfg.HistoryLimit)
	c.loop.Post(func() { c.historyLoaded(conversationID, joinToken, messages, err) })
}

func (c *Coordinator) historyLoaded(conversationID string, joinToken uint64, messages []domain.Message, err error) {
	m, ok := c.memberships[conversationID]
	if !ok || m.joinToken != joinToken || m.state != domain.JoinJoining {
		c.log.Debug("Dropping history", "conversation_id", conversationID, "error", errors.ErrStaleEvent)
		return
	}
	if err != nil {
		c.log.Warn("History fetch failed, joining without it", "conversation_id", conversationID, "error", err)
	} else {
		sort.SliceStable(messages, func(i, j int) bool { return messages[i].Timestamp.Before(messages[j].Timestamp) })
		for _, message := range messages {
			c.ingest(m, message, false)
		}
	}

	buffered := m.buffer
	m.buffer = nil
	m.state = domain.JoinJoined
	for _, b := range buffered {
		c.apply(m, b.name, b.raw)
	}
	c.notify(event.MembershipChanged{Conversation: conversationID, State: domain.JoinJoined})
	c.log.Debug("Conversation joined", "conversation_id", conversationID, "history", len(messages), "replayed", len(buffered))
}

func (c *Coordinator) fetchParticipants(conversationID string, generation uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()
	conversation, err := c.api.GetConversation(ctx, conversationID)
	if err != nil {
		c.log.Warn("Participants unavailable", "conversation_id", conversationID, "error", err)
		return
	}
	languages := make(map[string]string)
	for _, userID := range []string{conversation.Participant1ID, conversation.Participant2ID} {
		user, lookupErr := c.api.GetUser(ctx, userID)
		if lookupErr != nil {
			c.log.Debug("Participant lookup failed", "user_id", userID, "error", lookupErr)
			continue
		}
		languages[userID] = user.Language()
	}
	c.loop.Post(func() {
		m, ok := c.memberships[conversationID]
		if !ok || m.generation != generation {
			c.log.Debug("Dropping participants", "conversation_id", conversationID, "error", errors.ErrStaleEvent)
			return
		}
		m.conversation = &conversation
		m.languages = languages
		for _, message := range m.timeline.Messages() {
			c.requestTranslation(m, message)
		}
	})
}

// routed filters one event name down to one conversation and applies,
// buffers or drops it depending on the join state.
func (c *Coordinator) routed(conversationID, name string) Handler {
	return func(raw json.RawMessage) {
		var scope event.Scope
		if err := json.Unmarshal(raw, &scope); err != nil || scope.ConversationID != conversationID {
			return
		}
		m, ok := c.memberships[conversationID]
		if !ok {
			return
		}
		if name == event.JoinedConversation {
			c.log.Debug("Join acknowledged", "conversation_id", conversationID, "payload", string(raw))
			return
		}
		switch m.state {
		case domain.JoinJoining:
			m.buffer = append(m.buffer, bufferedEvent{name: name, raw: raw})
		case domain.JoinJoined:
			c.apply(m, name, raw)
		default:
			c.log.Debug("Dropping event", "event", name, "conversation_id", conversationID, "error", errors.ErrStaleEvent)
		}
	}
}

func (c *Coordinator) apply(m *membership, name string, raw json.RawMessage) {
	switch name {
	case event.NewMessage:
		var payload event.MessagePayload
		if c.decode(name, raw, &payload) {
			c.ingest(m, payload.ToMessage(), true)
		}
	case event.Typing:
		var payload event.TypingPayload
		if !c.decode(name, raw, &payload) || payload.UserID == m.userID {
			return
		}
		if c.tracker.SetTyping(m.conversationID, payload.UserID, payload.IsTyping) {
			c.notify(event.TypingChanged{Conversation: m.conversationID, UserID: payload.UserID, IsTyping: payload.IsTyping})
		}
	case event.MessageRead:
		var payload event.ReadPayload
		if !c.decode(name, raw, &payload) {
			return
		}
		if change, read := m.timeline.MarkRead(payload.MessageID); read {
			c.changed(m, change)
		}
	case event.IncomingCall:
		var payload event.CallPayload
		if c.decode(name, raw, &payload) && payload.CallerID != m.userID {
			c.notify(event.CallIncoming{Conversation: m.conversationID, CallerID: payload.CallerID})
		}
	}
}

func (c *Coordinator) decode(name string, raw json.RawMessage, payload any) bool {
	if err := json.Unmarshal(raw, payload); err != nil {
		c.log.Warn("Malformed payload", "event", name, "error", err)
		return false
	}
	return true
}

// ingest merges a server record. Messages pushed by the partner have
// reached this device, so they are at least delivered.
func (c *Coordinator) ingest(m *membership, message domain.Message, pushed bool) {
	if pushed && message.SenderID != m.userID {
		message.Status = message.Status.Merge(domain.StatusDelivered)
	}
	change, err := m.timeline.Ingest(message)
	if err != nil {
		c.violation(m, err)
		return
	}
	c.changed(m, change)
}

func (c *Coordinator) send(conversationID, text, sourceLanguage, targetLanguage string) (domain.Message, error) {
	m, err := c.joined(conversationID)
	if err != nil {
		return domain.Message{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, fmt.Errorf("%w: empty message", errors.ErrInvalidInput)
	}
	if sourceLanguage == "" {
		sourceLanguage = domain.DetectLanguage(text)
	}
	if targetLanguage == "" {
		targetLanguage = c.partnerLanguage(m)
	}
	change, err := m.timeline.AddPending(domain.Message{
		CorrelationID:  uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       m.userID,
		Text:           text,
		SourceLanguage: sourceLanguage,
		Timestamp:      c.now(),
		Status:         domain.StatusPending,
	})
	if err != nil {
		c.violation(m, err)
		return domain.Message{}, err
	}
	m.targets[change.Message.CorrelationID] = targetLanguage
	c.changed(m, change)
	m.typing.Sent()
	c.persist(m, change.Message)
	return change.Message, nil
}

// persist calls the chat API off the loop and posts the outcome back.
func (c *Coordinator) persist(m *membership, message domain.Message) {
	target, ok := m.targets[message.CorrelationID]
	if !ok {
		target = c.partnerLanguage(m)
	}
	request := domain.SendRequest{
		ConversationID: m.conversationID,
		SenderID:       message.SenderID,
		CorrelationID:  message.CorrelationID,
		Text:           message.Text,
		SourceLanguage: message.SourceLanguage,
		TargetLanguage: target,
		IsVoice:        message.IsVoice,
	}
	generation := m.generation
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
		defer cancel()
		confirmed, err := c.api.SendMessage(ctx, request)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", errors.ErrSendTimeout, c.cfg.SendTimeout, err)
		}
		c.loop.Post(func() { c.persisted(request, generation, confirmed, err) })
	}()
}

func (c *Coordinator) persisted(request domain.SendRequest, generation uint64, confirmed domain.Message, err error) {
	m, ok := c.memberships[request.ConversationID]
	if !ok || m.generation != generation {
		c.log.Debug("Dropping send result", "correlation_id", request.CorrelationID, "error", errors.ErrStaleEvent)
		return
	}
	if err != nil {
		if change, failed := m.timeline.Fail(request.CorrelationID); failed {
			c.changed(m, change)
		}
		c.log.Warn("Send failed", "conversation_id", request.ConversationID, "correlation_id", request.CorrelationID, "error", err)
		c.notify(event.SendFailed{Conversation: request.ConversationID, CorrelationID: request.CorrelationID, Err: err})
		return
	}
	change, err := m.timeline.Confirm(request.CorrelationID, confirmed)
	if err != nil {
		c.violation(m, err)
		if change, failed := m.timeline.Fail(request.CorrelationID); failed {
			c.changed(m, change)
		}
		c.notify(event.SendFailed{Conversation: request.ConversationID, CorrelationID: request.CorrelationID, Err: err})
		return
	}
	delete(m.targets, request.CorrelationID)
	c.changed(m, change)
	c.publish(event.SendMessage, event.FromMessage(change.Message))
}

func (c *Coordinator) changed(m *membership, change projection.Change) {
	if !change.Changed() {
		return
	}
	if change.Dropped != nil {
		c.notify(change.Dropped.Event())
	}
	c.notify(change.Event())
	c.requestTranslation(m, change.Message)
}

// requestTranslation queues confirmed records that still lack a
// translation into their recipient's language.
func (c *Coordinator) requestTranslation(m *membership, message domain.Message) {
	if c.queue == nil || message.ID == "" || message.HasTranslation() || m.conversation == nil {
		return
	}
	recipient := m.userID
	if message.SenderID == m.userID {
		recipient = m.conversation.PartnerOf(m.userID)
	}
	target := m.languages[recipient]
	if target == "" {
		return
	}
	source := message.SourceLanguage
	if source == "" {
		source = domain.DetectLanguage(message.Text)
	}
	if domain.SameLanguage(source, target) {
		return
	}
	c.queue.Enqueue(domain.TranslationJob{
		ConversationID: m.conversationID,
		MessageID:      message.ID,
		Text:           message.Text,
		SourceLanguage: source,
		TargetLanguage: target,
		Generation:     m.generation,
	})
}

func (c *Coordinator) partnerLanguage(m *membership) string {
	if m.conversation != nil {
		if language := m.languages[m.conversation.PartnerOf(m.userID)]; language != "" {
			return language
		}
	}
	return domain.DefaultLanguage
}

func (c *Coordinator) joined(conversationID string) (*membership, error) {
	m, ok := c.memberships[conversationID]
	if !ok || m.state != domain.JoinJoined {
		return nil, fmt.Errorf("%w: %s", errors.ErrNotJoined, conversationID)
	}
	return m, nil
}

func (c *Coordinator) presence(payload event.PresencePayload, online bool) {
	if payload.UserID == "" {
		return
	}
	at := lo.FromPtr(payload.Timestamp)
	var changed bool
	if online {
		changed = c.tracker.SetOnline(payload.UserID, at)
	} else {
		changed = c.tracker.SetOffline(payload.UserID, at)
	}
	if changed {
		entry, _ := c.tracker.Presence(payload.UserID)
		c.notify(event.PresenceChanged{UserID: payload.UserID, Online: online, At: entry.LastChangedAt})
	}
}

func (c *Coordinator) publish(name string, payload any) {
	if err := c.session.Publish(name, payload); err != nil {
		c.log.Debug("Event not published", "event", name, "error", err)
	}
}

func (c *Coordinator) violation(m *membership, err error) {
	c.log.Error("Timeline rejected a merge", "conversation_id", m.conversationID, "error", err)
}

// notify hands an event to the fan-out without ever blocking the loop.
func (c *Coordinator) notify(e event.DomainEvent) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- e:
	default:
		c.log.Warn("Domain event dropped, fan-out is full")
	}
}
