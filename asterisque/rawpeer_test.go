package asterisque

import (
	"github.com/asterisque/asterisque/asterisque/wireformat"
	"github.com/asterisque/asterisque/transport"
)

// rawPeer speaks the wire protocol directly over a transport.Transport,
// without a Session behind it. Tests use it to play a peer that sends
// deliberately invalid or adversarial messages a conformant Session would
// never produce itself (duplicate/wrong-role pipe ids), and to observe
// exactly what a Session replies.
type rawPeer struct {
	t     transport.Transport
	codec *wireformat.Codec
}

func newRawPeer(t transport.Transport) *rawPeer {
	return &rawPeer{t: t, codec: wireformat.NewCodec()}
}

func (r *rawPeer) send(msg wireformat.Message) error {
	frame, err := r.codec.Encode(msg)
	if err != nil {
		return err
	}
	return r.t.WriteFrame(frame)
}

func (r *rawPeer) recv() (wireformat.Message, error) {
	frame, err := r.t.ReadFrame()
	if err != nil {
		return nil, err
	}
	msg, _, err := r.codec.Decode(frame)
	return msg, err
}

// handshake sends this peer's own SyncSession and reads (and discards) the
// real Session's SyncSession reply, completing the handshake from this
// side.
func (r *rawPeer) handshake(config map[string]string) error {
	if err := r.send(wireformat.NewSyncSession(1, 0, config)); err != nil {
		return err
	}
	_, err := r.recv()
	return err
}
