package ws

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"local-language/domain/event"
	"local-language/errors"
	"local-language/internal/fakeserver"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func wsURL(t *testing.T, server *fakeserver.Server) string {
	t.Helper()
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)
	return "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
}

func readUntil(t *testing.T, conn *Conn, name string) event.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		envelope, err := conn.Read(ctx)
		require.NoError(t, err)
		if envelope.Event == name {
			return envelope
		}
	}
}

func TestTransport_RelaysRoomEvents(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	server := fakeserver.New(logs.GetLoggerFromLevel(slog.LevelError), "secret", nil)
	dialer := NewDialer(wsURL(t, server), "secret")

	// Given alice and bob both connected
	aliceConn, err := dialer.Dial(ctx)
	req.NoError(err)
	defer aliceConn.Close()
	bobConn, err := dialer.Dial(ctx)
	req.NoError(err)
	defer bobConn.Close()
	alice, bob := aliceConn.(*Conn), bobConn.(*Conn)

	// Then the handshake comes first
	first, err := alice.Read(ctx)
	req.NoError(err)
	req.Equal(event.ConnectionResponse, first.Event)
	readUntil(t, bob, event.ConnectionResponse)

	// When both join c1
	for user, conn := range map[string]*Conn{"alice": alice, "bob": bob} {
		envelope, err := event.NewEnvelope(event.JoinConversation, event.JoinPayload{ConversationID: "c1", UserID: user})
		req.NoError(err)
		req.NoError(conn.Write(ctx, envelope))
	}
	readUntil(t, alice, event.JoinedConversation)
	req.Eventually(func() bool { return server.Connections() == 2 }, time.Second, 5*time.Millisecond)
	readUntil(t, bob, event.JoinedConversation)

	// And bob types
	typing, err := event.NewEnvelope(event.Typing, event.TypingPayload{ConversationID: "c1", UserID: "bob", IsTyping: true})
	req.NoError(err)
	req.NoError(bob.Write(ctx, typing))

	// Then alice sees it
	received := readUntil(t, alice, event.Typing)
	req.JSONEq(string(typing.Data), string(received.Data))
}

func TestTransport_RejectsBadToken(t *testing.T) {
	req := require.New(t)
	server := fakeserver.New(logs.GetLoggerFromLevel(slog.LevelError), "secret", nil)

	_, err := NewDialer(wsURL(t, server), "wrong").Dial(context.Background())

	var apiErr *errors.APIError
	req.True(errors.As(err, &apiErr))
	req.Equal(401, apiErr.Status)
}

func TestTransport_ServerDropEndsRead(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	server := fakeserver.New(logs.GetLoggerFromLevel(slog.LevelError), "", nil)
	conn, err := NewDialer(wsURL(t, server), "").Dial(ctx)
	req.NoError(err)
	defer conn.Close()
	readUntil(t, conn.(*Conn), event.ConnectionResponse)
	req.Eventually(func() bool { return server.Connections() == 1 }, time.Second, 5*time.Millisecond)

	server.DropConnections()

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = conn.Read(readCtx)
	req.Error(err)
	req.NoError(readCtx.Err())
}
