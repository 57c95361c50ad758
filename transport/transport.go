// Package transport defines the byte-duplex abstraction Wire drives, and
// ships three concrete bindings: an in-memory pair for tests (astpipe), a
// WebSocket binary-frame binding (astwebsocket) and a raw-stream binding
// (asttcp) usable over plain TCP or a yamux stream. The interface is kept
// narrow so the core multiplexer never cares which binding is underneath.
package transport

import "net"

// Transport is the byte-duplex the asterisque core consumes. Every
// ReadFrame/WriteFrame call carries one complete, self-delimited
// wireformat frame (header + body); frame reconstruction from a raw byte
// stream, if the binding needs it, happens inside the Transport
// implementation, not in the core.
//
// ReadFrame/WriteFrame are expected to be called from a single reader
// goroutine and a single writer goroutine respectively (Wire provides
// exactly that); Close may be called concurrently with either.
type Transport interface {
	// ReadFrame blocks until the next frame is available. It returns a
	// non-nil error (including io.EOF) exactly once the transport can
	// never produce another frame; Wire treats any such error as a
	// transport failure and tears the wire down.
	ReadFrame() ([]byte, error)

	// WriteFrame writes one complete frame. Implementations must not
	// interleave bytes from concurrent WriteFrame calls; Wire never calls
	// WriteFrame concurrently with itself, but may do so concurrently
	// with ReadFrame.
	WriteFrame(frame []byte) error

	// Close is idempotent and unblocks any in-flight ReadFrame/WriteFrame.
	Close() error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// IsPrimary reports the transport-side role: true if this endpoint
	// accepted the connection (and therefore allocates high-bit pipe
	// ids), false if it initiated the connection.
	IsPrimary() bool
}

// AuthenticatedTransport is implemented by bindings that can expose a
// peer-authenticated identity (e.g. a TLS peer certificate). Wire surfaces
// this via Wire.PeerIdentity when present; the actual authentication
// policy belongs to the host, not the core.
type AuthenticatedTransport interface {
	Transport
	PeerIdentity() any
}
