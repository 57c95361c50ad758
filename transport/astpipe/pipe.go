// Package astpipe provides an in-memory, connected Transport pair with no
// network involved: two endpoints sharing a pair of buffered channels, one
// per direction, each reader draining the channel the other endpoint's
// writer feeds.
package astpipe

import (
	"io"
	"net"
	"sync"

	"github.com/asterisque/asterisque/transport"
)

type pipeAddr string

func (a pipeAddr) Network() string { return "astpipe" }
func (a pipeAddr) String() string  { return string(a) }

// endpoint is one side of a connected in-memory pair.
type endpoint struct {
	local, remote pipeAddr
	primary       bool

	out chan []byte // frames this endpoint writes, read by the peer
	in  chan []byte // frames this endpoint reads, written by the peer

	closeOnce  sync.Once
	closed     chan struct{}
	peerClosed chan struct{} // the other endpoint's closed channel
}

// NewPair returns two connected Transports. a is the primary (as if it had
// accepted the connection); b is the secondary.
func NewPair() (a, b transport.Transport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	ca := make(chan struct{})
	cb := make(chan struct{})

	ea := &endpoint{local: "a", remote: "b", primary: true, out: ab, in: ba, closed: ca, peerClosed: cb}
	eb := &endpoint{local: "b", remote: "a", primary: false, out: ba, in: ab, closed: cb, peerClosed: ca}
	return ea, eb
}

func (e *endpoint) ReadFrame() ([]byte, error) {
	// Frames already delivered stay readable even once an endpoint closes,
	// so a peer's final messages are not lost to the close race.
	select {
	case f := <-e.in:
		return f, nil
	default:
	}
	select {
	case f := <-e.in:
		return f, nil
	case <-e.closed:
		return nil, io.ErrClosedPipe
	case <-e.peerClosed:
		select {
		case f := <-e.in:
			return f, nil
		default:
			return nil, io.EOF
		}
	}
}

func (e *endpoint) WriteFrame(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case e.out <- cp:
		return nil
	case <-e.closed:
		return io.ErrClosedPipe
	case <-e.peerClosed:
		return io.ErrClosedPipe
	}
}

func (e *endpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

func (e *endpoint) LocalAddr() net.Addr  { return e.local }
func (e *endpoint) RemoteAddr() net.Addr { return e.remote }
func (e *endpoint) IsPrimary() bool      { return e.primary }
