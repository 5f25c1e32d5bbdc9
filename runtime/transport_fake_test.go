package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"local-language/contract"
	"local-language/domain/event"
)

// fakeConn is an in-memory push channel. The handshake is queued on creation.
type fakeConn struct {
	inbound chan event.Envelope
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written []event.Envelope
}

func newFakeConn() *fakeConn {
	c := &fakeConn{inbound: make(chan event.Envelope, 64), closed: make(chan struct{})}
	c.push(event.ConnectionResponse, event.ConnectionPayload{Status: "connected"})
	return c
}

func (c *fakeConn) Read(ctx context.Context) (event.Envelope, error) {
	select {
	case envelope := <-c.inbound:
		return envelope, nil
	case <-c.closed:
		return event.Envelope{}, io.EOF
	case <-ctx.Done():
		return event.Envelope{}, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, envelope event.Envelope) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, envelope)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(name string, payload any) {
	envelope, err := event.NewEnvelope(name, payload)
	if err != nil {
		panic(err)
	}
	c.inbound <- envelope
}

// sent returns the decoded payloads written for an event name.
func (c *fakeConn) sent(name string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var payloads []json.RawMessage
	for _, envelope := range c.written {
		if envelope.Event == name {
			payloads = append(payloads, envelope.Data)
		}
	}
	return payloads
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.written))
	for _, envelope := range c.written {
		names = append(names, envelope.Event)
	}
	return names
}

type dialResult struct {
	conn *fakeConn
	err  error
}

// fakeDialer hands out queued results, then refuses.
type fakeDialer struct {
	mu    sync.Mutex
	queue []dialResult
	dials int
}

func (d *fakeDialer) add(conn *fakeConn) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, dialResult{conn: conn})
	return conn
}

func (d *fakeDialer) refuse(times int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < times; i++ {
		d.queue = append(d.queue, dialResult{err: fmt.Errorf("connection refused")})
	}
}

func (d *fakeDialer) Dial(_ context.Context) (contract.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.queue) == 0 {
		return nil, fmt.Errorf("connection refused")
	}
	next := d.queue[0]
	d.queue = d.queue[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
