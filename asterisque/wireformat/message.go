// Package wireformat implements the Asterisque wire codec: the four
// on-wire message envelopes (Open, Close, Block, Control) and their
// MessagePack-tuple bodies, framed behind a 3-byte tag+length header.
package wireformat

import "github.com/asterisque/asterisque/asterisque/common"

// Message is the tagged union of the four envelope kinds. Every message
// belongs to exactly one pipe; control messages use common.ControlPipeID.
type Message interface {
	PipeID() common.PipeID
	isMessage()
}

// OpenMessage initiates a call on pipe Pipe.
type OpenMessage struct {
	Pipe       common.PipeID
	Priority   int8
	ServiceID  string
	FunctionID uint16
	Params     []byte
}

func (m *OpenMessage) PipeID() common.PipeID { return m.Pipe }
func (*OpenMessage) isMessage()              {}

// CloseMessage is terminal for a pipe. Code == 0 is success; any other
// value is an abort and Result carries the codec-encoded abort message.
type CloseMessage struct {
	Pipe   common.PipeID
	Code   int8
	Result []byte
}

func (m *CloseMessage) PipeID() common.PipeID { return m.Pipe }
func (*CloseMessage) isMessage()              {}

// BlockMessage carries one in-flight streaming fragment.
type BlockMessage struct {
	Pipe    common.PipeID
	EOF     bool
	Loss    uint8 // 7 bits, advisory, reserved
	Payload []byte
}

func (m *BlockMessage) PipeID() common.PipeID { return m.Pipe }
func (*BlockMessage) isMessage()              {}

// ControlKind distinguishes the two session-level control submessages.
type ControlKind uint8

const (
	ControlKindSyncSession ControlKind = iota
	ControlKindSessionClose
)

// SyncSessionBody is exchanged once per session in each direction before
// any pipe traffic.
type SyncSessionBody struct {
	Version uint32
	UTCTime int64
	Config  map[string]string
}

// ControlMessage is session-level and always carries pipe id 0.
type ControlMessage struct {
	Kind        ControlKind
	SyncSession *SyncSessionBody // set iff Kind == ControlKindSyncSession
}

func (*ControlMessage) PipeID() common.PipeID { return common.ControlPipeID }
func (*ControlMessage) isMessage()            {}

// NewSyncSession builds the handshake control message.
func NewSyncSession(version uint32, utcTimeUnixNano int64, config map[string]string) *ControlMessage {
	return &ControlMessage{
		Kind: ControlKindSyncSession,
		SyncSession: &SyncSessionBody{
			Version: version,
			UTCTime: utcTimeUnixNano,
			Config:  config,
		},
	}
}

// NewSessionClose builds the graceful session-termination control message.
func NewSessionClose() *ControlMessage {
	return &ControlMessage{Kind: ControlKindSessionClose}
}
