package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for the closed set of protocol conditions; callers
// match them with errors.Is.
var (
	// ErrUnsatisfied signals "need more bytes" at the decode boundary. It is
	// not a corruption error and must never close a wire.
	ErrUnsatisfied = errors.New("asterisque: unsatisfied frame")

	// ErrClosed is returned by operations attempted on a closed queue,
	// pipe, session, or wire.
	ErrClosed = errors.New("asterisque: closed")

	// ErrSessionClosed is returned by PipeSpace operations after the space
	// has been closed.
	ErrSessionClosed = errors.New("asterisque: session closed")

	// ErrDuplicatePipeID is returned by PipeSpace.CreateFromOpen when the
	// requested id is already occupied.
	ErrDuplicatePipeID = errors.New("asterisque: duplicate pipe id")

	// ErrNotStreamEnabled names the condition of a pipe that was not opened
	// with streaming enabled. No operation in this module returns it:
	// Pipe.SendBlock works on any pipe, and a Block arriving at a
	// non-stream pipe aborts that pipe with AbortFunctionCannotReceiveBlock.
	ErrNotStreamEnabled = errors.New("asterisque: pipe is not stream-enabled")
)

// CodecError means the bytes at hand are corrupt or exceed a hard limit.
// It is always wire-fatal.
type CodecError struct {
	Reason string
}

func (e *CodecError) Error() string { return "asterisque: codec error: " + e.Reason }

func NewCodecError(reason string) *CodecError { return &CodecError{Reason: reason} }

// ProtocolError means the message sequence itself was semantically invalid
// (wrong pipe-id high bit, a handshake that does not start with SyncSession,
// SyncSession after the handshake). It is wire-fatal, except for a wrong
// pipe-id high bit on Open: Session answers that with Close(-1) on the
// offending pipe id and keeps the session up. An unknown control tag never
// reaches this stage; the codec rejects it as a CodecError.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "asterisque: protocol error: " + e.Reason }

func NewProtocolError(reason string) *ProtocolError { return &ProtocolError{Reason: reason} }

// Abort is an application- or protocol-signaled pipe failure. A non-zero
// Code is mandatory; 0 is reserved for success and must never appear in
// an Abort.
type Abort struct {
	Code    int8
	Message string
}

func NewAbort(code int8, message string) *Abort {
	if code == SuccessCode {
		panic("asterisque: Abort code must be non-zero")
	}
	return &Abort{Code: code, Message: message}
}

func (a *Abort) Error() string {
	return fmt.Sprintf("asterisque: abort(%d): %s", a.Code, a.Message)
}

// Well-known aborts for the reserved codes.
func AbortUnexpectedErr(msg string) *Abort { return NewAbort(AbortUnexpected, msg) }
func AbortSessionClosingErr() *Abort {
	return NewAbort(AbortSessionClosing, "session is closing")
}
func AbortServiceUndefinedErr(service string) *Abort {
	return NewAbort(AbortServiceUndefined, "service undefined: "+service)
}
func AbortFunctionUndefinedErr(functionID uint16) *Abort {
	return NewAbort(AbortFunctionUndefined, fmt.Sprintf("function undefined: %d", functionID))
}
func AbortFunctionCannotReceiveBlockErr() *Abort {
	return NewAbort(AbortFunctionCannotReceiveBlock, "function cannot receive block")
}
func AbortDestinationPipeUnreachableErr() *Abort {
	return NewAbort(AbortDestinationPipeUnreachable, "destination pipe unreachable")
}
