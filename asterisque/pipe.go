package asterisque

import (
	"sync"
	"sync/atomic"

	"github.com/asterisque/asterisque/asterisque/common"
	"github.com/asterisque/asterisque/asterisque/queue"
	"github.com/asterisque/asterisque/asterisque/wireformat"
)

// poster is the narrow outbound capability a Session hands to every Pipe
// at construction, instead of letting the Pipe hold a back-reference to
// its owning Session. Ownership stays one-way: Session owns PipeSpace
// owns Pipes, and Pipes only ever see this interface.
type poster interface {
	post(msg wireformat.Message) error
}

// Pipe is the per-call state machine: Open -> (Streaming*) -> Closed, with
// Closed terminal. A Pipe is exclusively owned by its Session and is
// removed from the owning PipeSpace the instant it closes.
type Pipe struct {
	id            common.PipeID
	priority      int8
	serviceID     string
	functionID    uint16
	openerParams  []byte
	streamEnabled bool

	wire    poster
	space   *PipeSpace
	outcome *Outcome

	closed atomic.Bool

	bytesSent      atomic.Uint64
	bytesReceived  atomic.Uint64
	blocksSent     atomic.Uint64
	blocksReceived atomic.Uint64

	sinkMu     sync.Mutex
	sinkBuf    []byte
	sinkClosed bool
}

// PipeStats is a point-in-time snapshot of one pipe's block traffic.
type PipeStats struct {
	BytesSent      uint64
	BytesReceived  uint64
	BlocksSent     uint64
	BlocksReceived uint64
}

func newPipe(id common.PipeID, priority int8, serviceID string, functionID uint16, openerParams []byte, streamEnabled bool, wire poster, space *PipeSpace) *Pipe {
	return &Pipe{
		id:            id,
		priority:      priority,
		serviceID:     serviceID,
		functionID:    functionID,
		openerParams:  openerParams,
		streamEnabled: streamEnabled,
		wire:          wire,
		space:         space,
		outcome:       newOutcome(),
	}
}

func (p *Pipe) ID() common.PipeID    { return p.id }
func (p *Pipe) Priority() int8       { return p.priority }
func (p *Pipe) ServiceID() string    { return p.serviceID }
func (p *Pipe) FunctionID() uint16   { return p.functionID }
func (p *Pipe) OpenerParams() []byte { return p.openerParams }
func (p *Pipe) StreamEnabled() bool  { return p.streamEnabled }
func (p *Pipe) IsClosed() bool       { return p.closed.Load() }
func (p *Pipe) Outcome() *Outcome    { return p.outcome }

// Stats returns the pipe's traffic counters. Safe to call concurrently
// with ongoing block traffic; the snapshot is per-counter atomic, not
// globally consistent.
func (p *Pipe) Stats() PipeStats {
	return PipeStats{
		BytesSent:      p.bytesSent.Load(),
		BytesReceived:  p.bytesReceived.Load(),
		BlocksSent:     p.blocksSent.Load(),
		BlocksReceived: p.blocksReceived.Load(),
	}
}

// SendBlock writes payload to the outbound block sink. Available
// regardless of this pipe's own stream_enabled flag: whether the *peer*
// can accept it is determined on their side when the Block arrives.
func (p *Pipe) SendBlock(payload []byte) error { return p.localSendBlock(payload) }

// Flush forces emission of whatever the outbound sink is still holding.
func (p *Pipe) Flush() error { return p.flush() }

// CloseSend flushes and emits the terminal eof=true Block, then rejects
// further SendBlock calls. It does not close the pipe itself.
func (p *Pipe) CloseSend() error { return p.closeSink() }

// Close resolves this pipe locally: nil abort means success with result,
// a non-nil abort means failure. Idempotent past the first call.
func (p *Pipe) Close(result []byte, abort *common.Abort) { p.localClose(result, abort) }

// localOpen emits the Open message that begins this pipe's call. Only ever
// invoked once, by Session.Open, before the Pipe is handed to its caller.
func (p *Pipe) localOpen() error {
	return p.wire.post(&wireformat.OpenMessage{
		Pipe:       p.id,
		Priority:   p.priority,
		ServiceID:  p.serviceID,
		FunctionID: p.functionID,
		Params:     p.openerParams,
	})
}

// localSendBlock appends payload to the auto-flushing sink. Small writes
// coalesce in the 4 KiB buffer; once the buffer crosses that threshold it
// is flushed as Blocks fragmented at MaxPayloadSize. Writes after close
// are rejected.
func (p *Pipe) localSendBlock(payload []byte) error {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	if p.sinkClosed || p.closed.Load() {
		return common.ErrClosed
	}
	p.sinkBuf = append(p.sinkBuf, payload...)
	if len(p.sinkBuf) >= common.DefaultBlockBufferSize {
		return p.flushLocked()
	}
	return nil
}

// flush forces emission of whatever remains in the sink buffer, without
// marking EOF.
func (p *Pipe) flush() error {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	return p.flushLocked()
}

func (p *Pipe) flushLocked() error {
	if len(p.sinkBuf) == 0 {
		return nil
	}
	buf := p.sinkBuf
	p.sinkBuf = nil
	for len(buf) > common.MaxPayloadSize {
		if err := p.emitBlockLocked(buf[:common.MaxPayloadSize], false); err != nil {
			return err
		}
		buf = buf[common.MaxPayloadSize:]
	}
	if len(buf) > 0 {
		return p.emitBlockLocked(buf, false)
	}
	return nil
}

// closeSink flushes any buffered bytes, emits the final eof=true Block, and
// blocks further writes. Idempotent.
func (p *Pipe) closeSink() error {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	if p.sinkClosed {
		return nil
	}
	if err := p.flushLocked(); err != nil {
		p.sinkClosed = true
		return err
	}
	p.sinkClosed = true
	return p.emitBlockLocked(nil, true)
}

func (p *Pipe) emitBlockLocked(payload []byte, eof bool) error {
	if err := p.wire.post(&wireformat.BlockMessage{Pipe: p.id, EOF: eof, Payload: payload}); err != nil {
		return err
	}
	p.bytesSent.Add(uint64(len(payload)))
	p.blocksSent.Add(1)
	return nil
}

func (p *Pipe) recordReceived(payload []byte) {
	p.bytesReceived.Add(uint64(len(payload)))
	p.blocksReceived.Add(1)
}

// localClose CASes closed false->true. On the winning call it emits
// Close(id, code, result), resolves the outcome, and removes the pipe from
// its PipeSpace. Losing calls are no-ops.
func (p *Pipe) localClose(result []byte, abort *common.Abort) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	code := common.SuccessCode
	if abort != nil {
		code = abort.Code
		result = []byte(abort.Message)
	}
	_ = p.wire.post(&wireformat.CloseMessage{Pipe: p.id, Code: code, Result: result})
	if abort != nil {
		p.outcome.complete(nil, abort)
	} else {
		p.outcome.complete(result, nil)
	}
	p.space.destroy(p.id)
}

// remoteClose CASes closed false->true in response to a peer-sent Close.
// No Close message is emitted back.
func (p *Pipe) remoteClose(code int8, result []byte) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	if code == common.SuccessCode {
		p.outcome.complete(result, nil)
	} else {
		p.outcome.complete(nil, common.NewAbort(code, string(result)))
	}
	p.space.destroy(p.id)
}

// transportError forces the pipe closed with Abort(Unexpected); no Close is
// emitted, because the wire that would carry it is already gone.
func (p *Pipe) transportError(reason string) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.outcome.complete(nil, common.AbortUnexpectedErr(reason))
	p.space.destroy(p.id)
}

// StreamPipe is a Pipe opened with stream_enabled: it additionally owns an
// inbound MessageQueue carrying Block payloads addressed to it, closed the
// instant an eof Block is observed.
type StreamPipe struct {
	*Pipe
	inbound *queue.MessageQueue[[]byte]
}

func newStreamPipe(p *Pipe, cooperativeLimit uint32) *StreamPipe {
	return &StreamPipe{
		Pipe:    p,
		inbound: queue.New[[]byte]("pipe-inbound-"+p.serviceID, cooperativeLimit),
	}
}

// Inbound exposes the block source for stream-enabled pipes.
func (sp *StreamPipe) Inbound() *queue.MessageQueue[[]byte] { return sp.inbound }
