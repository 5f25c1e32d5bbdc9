package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"local-language/domain"
	"local-language/domain/event"
	"local-language/errors"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, dialer *fakeDialer) (*Session, *Loop) {
	t.Helper()
	loop := startLoop(t)
	session := NewSession(logs.GetLoggerFromLevel(slog.LevelError), dialer, loop, SessionConfig{
		UserID:               "alice",
		HandshakeTimeout:     200 * time.Millisecond,
		ReconnectBaseDelay:   5 * time.Millisecond,
		ReconnectMaxDelay:    20 * time.Millisecond,
		MaxReconnectAttempts: 3,
	})
	t.Cleanup(session.Disconnect)
	return session, loop
}

// recorder collects event names on the loop.
type recorder struct {
	loop   *Loop
	events []string
	data   []json.RawMessage
}

func record(session *Session, loop *Loop, names ...string) *recorder {
	r := &recorder{loop: loop}
	for _, name := range names {
		name := name
		session.Subscribe(name, func(raw json.RawMessage) {
			r.events = append(r.events, name)
			r.data = append(r.data, raw)
		})
	}
	return r
}

func (r *recorder) snapshot(t *testing.T) []string {
	var events []string
	require.NoError(t, r.loop.Call(context.Background(), func() { events = append(events, r.events...) }))
	return events
}

func (r *recorder) count(t *testing.T, name string) int {
	n := 0
	for _, e := range r.snapshot(t) {
		if e == name {
			n++
		}
	}
	return n
}

func TestSession_ConnectHandshake(t *testing.T) {
	req := require.New(t)
	dialer := &fakeDialer{}
	conn := dialer.add(newFakeConn())
	session, loop := newTestSession(t, dialer)
	rec := record(session, loop, event.Connected, event.StateChanged)

	// When connecting
	req.NoError(session.Connect(context.Background()))

	// Then the session is connected and announced the user
	req.Equal(domain.Connected, session.State())
	req.Equal(uint64(1), session.Generation())
	req.Eventually(func() bool { return rec.count(t, event.Connected) == 1 }, time.Second, 5*time.Millisecond)
	req.Eventually(func() bool { return len(conn.sent(event.UserOnline)) == 1 }, time.Second, 5*time.Millisecond)

	// And a second connect is a no-op
	req.NoError(session.Connect(context.Background()))
	req.Equal(1, dialer.count())
}

func TestSession_HandlersRunForIncomingEvents(t *testing.T) {
	req := require.New(t)
	dialer := &fakeDialer{}
	conn := dialer.add(newFakeConn())
	session, loop := newTestSession(t, dialer)

	var received []event.TypingPayload
	On(session, event.Typing, func(p event.TypingPayload) { received = append(received, p) })
	req.NoError(session.Connect(context.Background()))

	// When the server pushes typing events
	conn.push(event.Typing, event.TypingPayload{ConversationID: "c1", UserID: "bob", IsTyping: true})
	conn.push(event.Typing, event.TypingPayload{ConversationID: "c1", UserID: "bob", IsTyping: false})

	// Then handlers see them in arrival order
	req.Eventually(func() bool {
		n := 0
		_ = loop.Call(context.Background(), func() { n = len(received) })
		return n == 2
	}, time.Second, 5*time.Millisecond)
	req.NoError(loop.Call(context.Background(), func() {
		req.True(received[0].IsTyping)
		req.False(received[1].IsTyping)
	}))
}

func TestSession_UnsubscribedHandlerIsNotCalled(t *testing.T) {
	req := require.New(t)
	dialer := &fakeDialer{}
	conn := dialer.add(newFakeConn())
	session, loop := newTestSession(t, dialer)
	req.NoError(session.Connect(context.Background()))

	calls := 0
	token := session.Subscribe(event.NewMessage, func(json.RawMessage) { calls++ })
	session.Unsubscribe(token)
	rec := record(session, loop, event.NewMessage)

	conn.push(event.NewMessage, event.MessagePayload{ID: "m1", ConversationID: "c1"})

	req.Eventually(func() bool { return rec.count(t, event.NewMessage) == 1 }, time.Second, 5*time.Millisecond)
	req.NoError(loop.Call(context.Background(), func() { req.Equal(0, calls) }))
}

func TestSession_ReservedEventsFromServerAreIgnored(t *testing.T) {
	req := require.New(t)
	dialer := &fakeDialer{}
	conn := dialer.add(newFakeConn())
	session, loop := newTestSession(t, dialer)
	rec := record(session, loop, event.Reconnected, event.Typing)
	req.NoError(session.Connect(context.Background()))

	conn.push(event.Reconnected, event.SessionPayload{Generation: 42})
	conn.push(event.Typing, event.TypingPayload{ConversationID: "c1", UserID: "bob"})

	req.Eventually(func() bool { return rec.count(t, event.Typing) == 1 }, time.Second, 5*time.Millisecond)
	req.Equal(0, rec.count(t, event.Reconnected))
}

func TestSession_ReconnectsAfterDrop(t *testing.T) {
	req := require.New(t)
	dialer := &fakeDialer{}
	first := dialer.add(newFakeConn())
	session, loop := newTestSession(t, dialer)
	rec := record(session, loop, event.Reconnected, event.Typing)
	var states []domain.ConnectionState
	On(session, event.StateChanged, func(p event.StatePayload) { states = append(states, p.State) })
	req.NoError(session.Connect(context.Background()))

	// Given the server refuses twice before accepting again
	dialer.refuse(2)
	second := dialer.add(newFakeConn())

	// When the transport drops
	first.Close()

	// Then the session comes back on a new generation
	req.Eventually(func() bool { return rec.count(t, event.Reconnected) == 1 }, time.Second, 5*time.Millisecond)
	req.Equal(domain.Connected, session.State())
	req.Equal(uint64(2), session.Generation())
	req.Equal(4, dialer.count())

	// And existing subscriptions still receive events
	second.push(event.Typing, event.TypingPayload{ConversationID: "c1", UserID: "bob", IsTyping: true})
	req.Eventually(func() bool { return rec.count(t, event.Typing) == 1 }, time.Second, 5*time.Millisecond)
	req.NoError(loop.Call(context.Background(), func() {
		req.Contains(states, domain.Reconnecting)
		req.Equal(domain.Connected, states[len(states)-1])
	}))
}

func TestSession_TransportErrorAfterRepeatedFailures(t *testing.T) {
	req := require.New(t)
	dialer := &fakeDialer{}
	session, loop := newTestSession(t, dialer)

	var failures []event.TransportErrorPayload
	On(session, event.TransportError, func(p event.TransportErrorPayload) { failures = append(failures, p) })

	// When the server never answers
	err := session.Connect(context.Background())

	// Then the first failure is returned and retries continue in the background
	req.ErrorIs(err, errors.ErrTransport)
	req.Equal(domain.Reconnecting, session.State())
	req.Eventually(func() bool {
		n := 0
		_ = loop.Call(context.Background(), func() { n = len(failures) })
		return n >= 1
	}, 2*time.Second, 5*time.Millisecond)
	req.NoError(loop.Call(context.Background(), func() { req.Equal(3, failures[0].Attempts) }))

	// And a server coming back is picked up
	dialer.add(newFakeConn())
	req.Eventually(func() bool { return session.State() == domain.Connected }, 2*time.Second, 5*time.Millisecond)
}

func TestSession_HandshakeMustComeFirst(t *testing.T) {
	req := require.New(t)
	dialer := &fakeDialer{}
	bad := &fakeConn{inbound: make(chan event.Envelope, 1), closed: make(chan struct{})}
	bad.push(event.Typing, event.TypingPayload{})
	dialer.add(bad)
	session, _ := newTestSession(t, dialer)

	err := session.Connect(context.Background())

	req.ErrorIs(err, errors.ErrHandshake)
	req.True(bad.isClosed())
}

func TestSession_DisconnectIsFinal(t *testing.T) {
	req := require.New(t)
	dialer := &fakeDialer{}
	conn := dialer.add(newFakeConn())
	session, loop := newTestSession(t, dialer)
	rec := record(session, loop, event.Disconnected)
	req.NoError(session.Connect(context.Background()))

	// When disconnecting
	session.Disconnect()

	// Then the user is announced offline, subscribers are told and nothing redials
	req.Equal(domain.Disconnected, session.State())
	req.Len(conn.sent(event.UserOffline), 1)
	req.True(conn.isClosed())
	req.Eventually(func() bool { return rec.count(t, event.Disconnected) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	req.Equal(1, dialer.count())

	// And publishing is refused
	req.ErrorIs(session.Publish(event.Typing, event.TypingPayload{}), errors.ErrNotConnected)
	session.Disconnect()
}

func TestSession_PublishKeepsOrder(t *testing.T) {
	req := require.New(t)
	dialer := &fakeDialer{}
	conn := dialer.add(newFakeConn())
	session, _ := newTestSession(t, dialer)
	req.NoError(session.Connect(context.Background()))

	req.NoError(session.Publish(event.Typing, event.TypingPayload{ConversationID: "c1", UserID: "alice", IsTyping: true}))
	req.NoError(session.Publish(event.SendMessage, event.MessagePayload{ID: "m1"}))
	req.NoError(session.Publish(event.Typing, event.TypingPayload{ConversationID: "c1", UserID: "alice", IsTyping: false}))

	req.Eventually(func() bool { return len(conn.events()) == 4 }, time.Second, 5*time.Millisecond)
	req.Equal([]string{event.UserOnline, event.Typing, event.SendMessage, event.Typing}, conn.events())
}
