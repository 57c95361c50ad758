// Package common holds the wire-level constants, identifiers, and sentinel
// errors shared by every other asterisque package.
package common

import "time"

const (
	// ProtocolVersion is exchanged in SyncSession and is otherwise opaque to
	// the core; peers are free to reject a session based on it.
	ProtocolVersion = uint32(1)

	// FrameHeaderSize is the length in bytes of the tag+total_length header
	// that precedes every encoded message on the wire.
	FrameHeaderSize = 3

	// MaxFrameSize is the largest value total_length may take (u16).
	MaxFrameSize = 0xFFFF

	// MaxPayloadSize is the maximum length of a single Block payload,
	// leaving 4096 bytes of envelope headroom under the u16 frame cap.
	MaxPayloadSize = 0xFFFF - 4096

	// ControlPipeID is the reserved pipe id carried by Control messages.
	ControlPipeID = PipeID(0)

	// PrimaryRoleMask is OR'd into pipe ids allocated by the primary
	// (transport-accepting) peer.
	PrimaryRoleMask = uint16(0x8000)

	// PipeIDSequenceMask masks the 15-bit sequence space each side cycles
	// through when allocating pipe ids.
	PipeIDSequenceMask = uint16(0x7FFF)

	// DefaultCooperativeLimit is the advisory depth used for Wire queues
	// when the caller does not override it.
	DefaultCooperativeLimit = uint32(32767)

	// DefaultBlockBufferSize is the size in bytes of a pipe's outbound
	// block sink buffer: writes below it coalesce, and crossing it flushes.
	DefaultBlockBufferSize = 4096

	// DefaultStreamLimit is the advisory depth of a StreamPipe's inbound
	// block queue.
	DefaultStreamLimit = uint32(4096)

	// HandshakeTimeout bounds how long Session.handshake waits for the
	// peer's SyncSession before giving up.
	HandshakeTimeout = 30 * time.Second
)

// Message type tags, one byte each, chosen so a packet capture is
// human-legible.
const (
	TagOpen    = byte('(')
	TagClose   = byte(')')
	TagBlock   = byte('#')
	TagControl = byte('*')
)

// Control submessage tags.
const (
	ControlSyncSession  = byte('Q')
	ControlSessionClose = byte('C')
)

// Reserved abort codes.
const (
	AbortUnexpected                 = int8(-1)
	AbortSessionClosing             = int8(-2)
	AbortServiceUndefined           = int8(100)
	AbortFunctionUndefined          = int8(101)
	AbortFunctionAborted            = int8(102)
	AbortFunctionCannotReceiveBlock = int8(103)
	AbortDestinationPipeUnreachable = int8(104)
)

// SuccessCode is the only Close.code value that does not denote an abort.
const SuccessCode = int8(0)
