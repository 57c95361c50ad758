// Package asttcp binds Transport to any io.ReadWriteCloser byte stream: a
// plain net.Conn, or the single *yamux.Stream that DialYamuxStream and
// AcceptYamuxStream set up over one connection. Unlike
// astwebsocket, a raw byte stream carries no message boundaries, so this
// binding reconstructs frames itself, buffering partial reads using the
// 3-byte tag+total_length header until a full frame is available.
package asttcp

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"

	"github.com/asterisque/asterisque/asterisque/common"
	"github.com/asterisque/asterisque/transport"
)

// Transport wraps an io.ReadWriteCloser as a framed Transport. The
// underlying stream may additionally implement net.Conn (to expose real
// addresses) or LocalAddr()/RemoteAddr() directly (as yamux.Stream does);
// when it implements neither, LocalAddr/RemoteAddr return a placeholder.
type Transport struct {
	rwc     io.ReadWriteCloser
	r       *bufio.Reader
	primary bool
}

var _ transport.Transport = (*Transport)(nil)

// New wraps rwc. primary should be true for the endpoint that accepted the
// connection (the TCP listener side, or the yamux server side).
func New(rwc io.ReadWriteCloser, primary bool) *Transport {
	return &Transport{rwc: rwc, r: bufio.NewReaderSize(rwc, 64*1024), primary: primary}
}

func (t *Transport) ReadFrame() ([]byte, error) {
	header := make([]byte, common.FrameHeaderSize)
	if _, err := io.ReadFull(t.r, header); err != nil {
		return nil, err
	}
	totalLength := int(binary.LittleEndian.Uint16(header[1:3]))
	if totalLength < common.FrameHeaderSize {
		return nil, common.NewCodecError("total_length smaller than header size")
	}
	frame := make([]byte, totalLength)
	copy(frame, header)
	if _, err := io.ReadFull(t.r, frame[common.FrameHeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

func (t *Transport) WriteFrame(frame []byte) error {
	_, err := t.rwc.Write(frame)
	return err
}

func (t *Transport) Close() error { return t.rwc.Close() }

type addrLookup interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

type placeholderAddr string

func (a placeholderAddr) Network() string { return "tcp" }
func (a placeholderAddr) String() string  { return string(a) }

func (t *Transport) LocalAddr() net.Addr {
	if a, ok := t.rwc.(addrLookup); ok {
		return a.LocalAddr()
	}
	return placeholderAddr("unknown")
}

func (t *Transport) RemoteAddr() net.Addr {
	if a, ok := t.rwc.(addrLookup); ok {
		return a.RemoteAddr()
	}
	return placeholderAddr("unknown")
}

func (t *Transport) IsPrimary() bool { return t.primary }
