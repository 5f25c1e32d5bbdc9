package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"local-language/contract"
	"local-language/domain"
	"local-language/domain/event"
	"local-language/errors"
)

type SessionConfig struct {
	UserID               string
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // consecutive failures between two transport_error events
	OutboundBuffer       int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = 128
	}
	return c
}

// localEvents are produced by the session itself and never accepted from
// the wire.
var localEvents = map[string]struct{}{
	event.Connected:      {},
	event.Reconnected:    {},
	event.Disconnected:   {},
	event.TransportError: {},
	event.StateChanged:   {},
}

// Session owns the push channel connection of one authenticated user.
// Handlers registered through Subscribe run on the Loop, one at a time, in
// the order events arrived.
type Session struct {
	log      *slog.Logger
	dialer   contract.Dialer
	loop     *Loop
	registry *Registry
	cfg      SessionConfig
	outbound chan event.Envelope

	mu         sync.Mutex
	state      domain.ConnectionState
	conn       contract.Conn
	cancel     context.CancelFunc
	generation uint64
	attached   bool // attached at least once since Connect
}

func NewSession(log *slog.Logger, dialer contract.Dialer, loop *Loop, cfg SessionConfig) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		log:      log.With("component", "session"),
		dialer:   dialer,
		loop:     loop,
		registry: NewRegistry(),
		cfg:      cfg,
		outbound: make(chan event.Envelope, cfg.OutboundBuffer),
		state:    domain.Disconnected,
	}
}

func (s *Session) UserID() string { return s.cfg.UserID }

func (s *Session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation increases on every successful attach.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Connect opens the push channel. It is a no-op unless the session is
// Disconnected. When the first attempt fails the error is returned and the
// session keeps retrying in the background.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != domain.Disconnected {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = domain.Connecting
	s.attached = false
	s.mu.Unlock()
	s.publishState(domain.Connecting)

	go s.writeLoop(runCtx)

	conn, err := s.open(ctx)
	if err != nil {
		if s.moveTo(runCtx, domain.Reconnecting) {
			s.log.Warn("Connection failed, retrying in background", "error", err)
			go s.reconnect(runCtx)
		}
		return fmt.Errorf("connect: %w", err)
	}
	if !s.attach(runCtx, conn) {
		_ = conn.Close()
		return fmt.Errorf("connect: %w", errors.ErrNotConnected)
	}
	return nil
}

// Disconnect closes the push channel for good. Subscribers receive
// "disconnected" and drop conversation state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == domain.Disconnected {
		s.mu.Unlock()
		return
	}
	conn, cancel := s.conn, s.cancel
	s.conn, s.cancel = nil, nil
	s.state = domain.Disconnected
	s.mu.Unlock()

	if conn != nil {
		if envelope, err := event.NewEnvelope(event.UserOffline, event.PresencePayload{UserID: s.cfg.UserID}); err == nil {
			ctx, done := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
			if err = conn.Write(ctx, envelope); err != nil {
				s.log.Debug("Could not announce offline", "error", err)
			}
			done()
		}
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.drain()
	s.publishState(domain.Disconnected)
	s.emit(event.Disconnected, struct{}{})
	s.log.Info("Session disconnected")
}

func (s *Session) Subscribe(name string, handler Handler) Token {
	return s.registry.Subscribe(name, handler)
}

func (s *Session) Unsubscribe(tokens ...Token) {
	s.registry.Unsubscribe(tokens...)
}

// On subscribes a handler receiving the decoded payload. Payloads that do
// not decode are logged and skipped.
func On[T any](s *Session, name string, handler func(T)) Token {
	return s.Subscribe(name, func(raw json.RawMessage) {
		var payload T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &payload); err != nil {
				s.log.Warn("Malformed payload", "event", name, "error", err)
				return
			}
		}
		handler(payload)
	})
}

// Publish queues an event for the server. Events leave in publish order.
func (s *Session) Publish(name string, payload any) error {
	envelope, err := event.NewEnvelope(name, payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	if s.State() != domain.Connected {
		return fmt.Errorf("publish %s: %w", name, errors.ErrNotConnected)
	}
	select {
	case s.outbound <- envelope:
		return nil
	default:
		return fmt.Errorf("publish %s: %w", name, errors.ErrOutboundFull)
	}
}

// open dials and waits for the server handshake.
func (s *Session) open(ctx context.Context) (contract.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrTransport, err)
	}
	envelope, err := conn.Read(dialCtx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", errors.ErrHandshake, err)
	}
	if envelope.Event != event.ConnectionResponse {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: unexpected %q", errors.ErrHandshake, envelope.Event)
	}
	return conn, nil
}

// attach makes conn the live connection unless the session was
// disconnected in the meantime.
func (s *Session) attach(runCtx context.Context, conn contract.Conn) bool {
	s.mu.Lock()
	if runCtx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.conn = conn
	s.state = domain.Connected
	s.generation++
	generation := s.generation
	name := event.Connected
	if s.attached {
		name = event.Reconnected
	}
	s.attached = true
	s.mu.Unlock()

	go s.readLoop(runCtx, conn)
	s.log.Info("Session connected", "generation", generation)
	s.publishState(domain.Connected)
	s.emit(name, event.SessionPayload{Generation: generation})
	if err := s.Publish(event.UserOnline, event.PresencePayload{UserID: s.cfg.UserID}); err != nil {
		s.log.Debug("Could not announce online", "error", err)
	}
	return true
}

func (s *Session) moveTo(runCtx context.Context, state domain.ConnectionState) bool {
	s.mu.Lock()
	if runCtx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.mu.Unlock()
	s.publishState(state)
	return true
}

func (s *Session) readLoop(runCtx context.Context, conn contract.Conn) {
	for {
		envelope, err := conn.Read(runCtx)
		if err != nil {
			s.dropped(runCtx, conn, err)
			return
		}
		if _, local := localEvents[envelope.Event]; local {
			s.log.Warn("Ignoring reserved event from server", "event", envelope.Event)
			continue
		}
		s.dispatch(envelope.Event, envelope.Data)
	}
}

func (s *Session) dropped(runCtx context.Context, conn contract.Conn, cause error) {
	s.mu.Lock()
	if runCtx.Err() != nil || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = domain.Reconnecting
	s.mu.Unlock()

	_ = conn.Close()
	s.log.Warn("Connection lost, reconnecting", "error", cause)
	s.publishState(domain.Reconnecting)
	s.reconnect(runCtx)
}

// reconnect retries until it attaches or the session is disconnected.
// Subscriptions are left untouched; every MaxReconnectAttempts failures a
// transport_error is published so the UI can tell the user.
func (s *Session) reconnect(runCtx context.Context) {
	backoff := NewBackoff(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay)
	failures := 0
	for {
		select {
		case <-runCtx.Done():
			return
		case <-time.After(backoff.Next()):
		}
		conn, err := s.open(runCtx)
		if err != nil {
			failures++
			s.log.Debug("Reconnect attempt failed", "attempt", failures, "error", err)
			if failures%s.cfg.MaxReconnectAttempts == 0 {
				s.emit(event.TransportError, event.TransportErrorPayload{Attempts: failures, Error: err.Error()})
			}
			continue
		}
		if !s.attach(runCtx, conn) {
			_ = conn.Close()
		}
		return
	}
}

// writeLoop is the only writer of queued events for one Connect lifecycle.
func (s *Session) writeLoop(runCtx context.Context) {
	for {
		select {
		case <-runCtx.Done():
			return
		case envelope := <-s.outbound:
			conn := s.current()
			if conn == nil {
				s.log.Debug("Dropping outbound event while offline", "event", envelope.Event)
				continue
			}
			ctx, cancel := context.WithTimeout(runCtx, s.cfg.WriteTimeout)
			err := conn.Write(ctx, envelope)
			cancel()
			if err != nil {
				s.log.Warn("Publish failed", "event", envelope.Event, "error", err)
			}
		}
	}
}

func (s *Session) current() contract.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) drain() {
	for {
		select {
		case <-s.outbound:
		default:
			return
		}
	}
}

// dispatch posts one task per subscription. A subscription removed before
// its task runs is skipped.
func (s *Session) dispatch(name string, raw json.RawMessage) {
	for _, sub := range s.registry.subscriptions(name) {
		sub := sub
		s.loop.Post(func() {
			if s.registry.Active(sub.token) {
				sub.handler(raw)
			}
		})
	}
}

func (s *Session) emit(name string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("Could not encode local event", "event", name, "error", err)
		return
	}
	s.dispatch(name, raw)
}

func (s *Session) publishState(state domain.ConnectionState) {
	s.emit(event.StateChanged, event.StatePayload{State: state})
}
