package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"local-language/contract"
	"local-language/domain/event"
	"local-language/errors"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const defaultReadLimit = 1 << 20

var (
	_ contract.Dialer = (*Dialer)(nil)
	_ contract.Conn   = (*Conn)(nil)
)

// Dialer opens push channel connections to one endpoint with a bearer
// token.
type Dialer struct {
	url       string
	token     string
	readLimit int64
}

func NewDialer(url, token string) *Dialer {
	return &Dialer{url: url, token: token, readLimit: defaultReadLimit}
}

func (d *Dialer) Dial(ctx context.Context) (contract.Conn, error) {
	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}
	conn, resp, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", d.url, &errors.APIError{Status: resp.StatusCode, Detail: "unauthorized"})
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	conn.SetReadLimit(d.readLimit)
	return &Conn{conn: conn}, nil
}

// Conn carries JSON envelopes, one per text frame.
type Conn struct {
	conn *websocket.Conn
}

func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// Read returns the next envelope. Frames that are not a JSON envelope are
// skipped, only transport errors end the connection.
func (c *Conn) Read(ctx context.Context) (event.Envelope, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return event.Envelope{}, err
		}
		if typ != websocket.MessageText {
			continue
		}
		var envelope event.Envelope
		if err = json.Unmarshal(data, &envelope); err != nil || envelope.Event == "" {
			continue
		}
		return envelope, nil
	}
}

func (c *Conn) Write(ctx context.Context, envelope event.Envelope) error {
	return wsjson.Write(ctx, c.conn, envelope)
}

func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
