// Package astwebsocket binds Transport to a WebSocket binary-message
// connection via github.com/coder/websocket. A WebSocket binary message
// already carries its own boundary, so one message equals exactly one
// Asterisque frame and no stream-framing logic is needed here, unlike
// asttcp.
package astwebsocket

import (
	"context"
	"net"
	"net/http"

	"github.com/coder/websocket"

	"github.com/asterisque/asterisque/transport"
)

// Transport adapts a *websocket.Conn to transport.Transport.
type Transport struct {
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	primary   bool
	localAddr net.Addr
	remote    net.Addr
}

var _ transport.Transport = (*Transport)(nil)

// Accept wraps a server-accepted connection. r is only used to derive the
// local (r.Host) and remote addresses; the upgrade itself must already have
// happened via websocket.Accept before calling this.
func Accept(conn *websocket.Conn, r *http.Request) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{conn: conn, ctx: ctx, cancel: cancel, primary: true}
	if r != nil {
		t.localAddr = addr(r.Host)
		t.remote = addr(r.RemoteAddr)
	}
	return t
}

// Dial wraps a client-initiated connection obtained via websocket.Dial.
func Dial(conn *websocket.Conn, url string) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{conn: conn, ctx: ctx, cancel: cancel, primary: false, localAddr: addr("dialer"), remote: addr(url)}
}

type addr string

func (a addr) Network() string { return "websocket" }
func (a addr) String() string  { return string(a) }

func (t *Transport) ReadFrame() ([]byte, error) {
	typ, data, err := t.conn.Read(t.ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageBinary {
		// Non-binary messages are not part of the envelope vocabulary;
		// skip them and read the next message.
		return t.ReadFrame()
	}
	return data, nil
}

func (t *Transport) WriteFrame(frame []byte) error {
	return t.conn.Write(t.ctx, websocket.MessageBinary, frame)
}

func (t *Transport) Close() error {
	t.cancel()
	return t.conn.Close(websocket.StatusNormalClosure, "session closed")
}

func (t *Transport) LocalAddr() net.Addr  { return t.localAddr }
func (t *Transport) RemoteAddr() net.Addr { return t.remote }
func (t *Transport) IsPrimary() bool      { return t.primary }
