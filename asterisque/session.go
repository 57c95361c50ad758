package asterisque

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/asterisque/asterisque/asterisque/common"
	"github.com/asterisque/asterisque/asterisque/queue"
	"github.com/asterisque/asterisque/asterisque/wireformat"
)

// sessionIDConfigKey carries the primary-allocated session id inside the
// SyncSession config map, since the wire format has no dedicated field for
// it; the secondary takes its id from the first payload exchange.
const sessionIDConfigKey = "asterisque.session_id"

// protocolVersion is the value this implementation negotiates; peers do
// not currently reject on mismatch (no version negotiation policy is
// specified beyond exchanging the number).
const protocolVersion = 1

// StreamAware lets a Service opt a function into receiving Blocks; a
// Service that does not implement it is treated as never stream-enabled.
// The wire format carries no stream_enabled bit on Open, so the
// destination, not the opener, decides whether a pipe accepts a block
// stream.
type StreamAware interface {
	AcceptsStream(functionID uint16) bool
}

// Session owns one Wire and one PipeSpace and runs the dispatcher loop
// that turns inbound Messages into PipeSpace/Pipe/Service calls.
type Session struct {
	id    common.SessionID
	wire  *Wire
	pipes *PipeSpace
	role  Role

	services     map[string]Service
	remoteConfig map[string]string
	localConfig  map[string]string

	log zerolog.Logger

	closed  atomic.Bool
	onClose func(*Session)

	streamLimit uint32
}

func newSession(wire *Wire, role Role, services map[string]Service, localConfig map[string]string, streamLimit uint32, log zerolog.Logger) *Session {
	s := &Session{
		wire:        wire,
		role:        role,
		services:    services,
		localConfig: localConfig,
		log:         log,
		streamLimit: streamLimit,
	}
	s.pipes = newPipeSpace(role, s.wire, streamLimit)
	return s
}

// ID returns the session id, valid only after a successful handshake.
func (s *Session) ID() common.SessionID { return s.id }

func (s *Session) Role() Role { return s.role }

// Wire exposes the underlying Wire, chiefly for address/identity queries.
func (s *Session) Wire() *Wire { return s.wire }

// RemoteConfig returns the config map the peer sent in its SyncSession.
func (s *Session) RemoteConfig() map[string]string { return s.remoteConfig }

// handshake performs the SyncSession exchange and, on success, starts the
// dispatcher loop in its own goroutine. Each side sends its own
// SyncSession immediately; the first inbound message must be the peer's.
func (s *Session) handshake(ctx context.Context) error {
	s.log.Debug().Str("role", s.role.String()).Msg("session handshake starting")

	cfg := make(map[string]string, len(s.localConfig)+1)
	for k, v := range s.localConfig {
		cfg[k] = v
	}

	if s.role == Primary {
		id, err := generateSessionID()
		if err != nil {
			return fmt.Errorf("asterisque: generating session id: %w", err)
		}
		s.id = id
		cfg[sessionIDConfigKey] = fmt.Sprintf("%x", uint64(id))
	}

	syncMsg := wireformat.NewSyncSession(protocolVersion, time.Now().UnixNano(), cfg)
	if err := s.wire.post(syncMsg); err != nil {
		return err
	}

	var first wireformat.Message
	var res queue.PollResult
	done := make(chan struct{})
	go func() {
		first, res = s.wire.Inbound().Poll(common.HandshakeTimeout)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Err(ctx.Err()).Msg("session handshake cancelled")
		s.wire.Close()
		return ctx.Err()
	}

	if res != queue.PollOK {
		err := common.NewProtocolError("handshake timed out waiting for SyncSession")
		s.log.Warn().Err(err).Msg("session handshake failed")
		s.wire.Close()
		return err
	}

	ctrl, ok := first.(*wireformat.ControlMessage)
	if !ok || ctrl.Kind != wireformat.ControlKindSyncSession || ctrl.SyncSession == nil {
		err := common.NewProtocolError("first message was not SyncSession")
		s.log.Warn().Err(err).Msg("session handshake failed")
		s.wire.Close()
		return err
	}

	s.remoteConfig = ctrl.SyncSession.Config
	if s.role == Secondary {
		hex, ok := s.remoteConfig[sessionIDConfigKey]
		if !ok {
			err := common.NewProtocolError("primary SyncSession missing session id")
			s.log.Warn().Err(err).Msg("session handshake failed")
			s.wire.Close()
			return err
		}
		var id uint64
		if _, err := fmt.Sscanf(hex, "%x", &id); err != nil {
			pe := common.NewProtocolError("malformed session id")
			s.log.Warn().Err(pe).Msg("session handshake failed")
			s.wire.Close()
			return pe
		}
		s.id = common.SessionID(id)
	}

	s.log.Info().Uint64("session", uint64(s.id)).Str("role", s.role.String()).Msg("session handshake done")
	go s.run()
	return nil
}

// run is the dispatcher loop, consuming inbound messages until the wire
// closes.
func (s *Session) run() {
	it := s.wire.Inbound().Iterator()
	for {
		msg, ok := it.Next()
		if !ok {
			break
		}
		s.dispatch(msg)
	}
	// Wire closed (locally or by transport failure): tear every live pipe
	// down with Abort(Unexpected) and leave the dispatcher's table. If the
	// session was closed through Close, that call already did both.
	if s.closed.CompareAndSwap(false, true) {
		s.log.Info().Uint64("session", uint64(s.id)).Msg("session wire closed, tearing down live pipes")
		s.pipes.Close(false)
		if s.onClose != nil {
			s.onClose(s)
		}
	}
}

func (s *Session) dispatch(msg wireformat.Message) {
	switch m := msg.(type) {
	case *wireformat.OpenMessage:
		s.handleOpen(m)
	case *wireformat.CloseMessage:
		s.handleClose(m)
	case *wireformat.BlockMessage:
		s.handleBlock(m)
	case *wireformat.ControlMessage:
		s.handleControl(m)
	}
}

func (s *Session) handleOpen(open *wireformat.OpenMessage) {
	streamEnabled := false
	svc, found := s.services[open.ServiceID]
	if found {
		if sa, ok := svc.(StreamAware); ok {
			streamEnabled = sa.AcceptsStream(open.FunctionID)
		}
	}

	pipe, err := s.pipes.CreateFromOpen(open, streamEnabled)
	if err != nil {
		// Duplicate and wrong-role pipe ids never get a live Pipe; the
		// abort reply is posted directly and the session stays up.
		reason := "duplicate pipe-id"
		var protoErr *common.ProtocolError
		if errors.As(err, &protoErr) {
			reason = protoErr.Reason
		}
		_ = s.wire.post(&wireformat.CloseMessage{Pipe: open.Pipe, Code: -1, Result: []byte(reason)})
		return
	}

	if !found {
		pipe.localClose(nil, common.AbortServiceUndefinedErr(open.ServiceID))
		return
	}

	s.log.Debug().Uint16("pipe", uint16(pipe.ID())).Str("service", open.ServiceID).Uint16("function", open.FunctionID).Msg("pipe opened")
	go s.invoke(svc, pipe, open.FunctionID, open.Params)
}

func (s *Session) invoke(svc Service, pipe *Pipe, functionID uint16, params []byte) {
	defer func() {
		if r := recover(); r != nil {
			pipe.localClose(nil, common.NewAbort(common.AbortUnexpected, fmt.Sprintf("internal error: %v", r)))
		}
	}()

	ctx := CallContext{Context: context.Background(), Session: s, Pipe: pipe}
	result, err := svc.Invoke(ctx, functionID, params)
	if err != nil {
		var abort *common.Abort
		if errors.As(err, &abort) {
			pipe.localClose(nil, abort)
		} else {
			pipe.localClose(nil, common.NewAbort(common.AbortFunctionAborted, err.Error()))
		}
		s.log.Debug().Uint16("pipe", uint16(pipe.ID())).Msg("pipe closed with abort")
		return
	}
	pipe.localClose(result, nil)
	s.log.Debug().Uint16("pipe", uint16(pipe.ID())).Msg("pipe closed with success")
}

func (s *Session) handleClose(closeMsg *wireformat.CloseMessage) {
	v, ok := s.pipes.Get(closeMsg.Pipe)
	if !ok {
		return
	}
	s.log.Debug().Uint16("pipe", uint16(closeMsg.Pipe)).Int8("code", closeMsg.Code).Msg("pipe closed by peer")
	asPipe(v).remoteClose(closeMsg.Code, closeMsg.Result)
}

func (s *Session) handleBlock(block *wireformat.BlockMessage) {
	v, ok := s.pipes.Get(block.Pipe)
	if !ok {
		// The pipe may have just closed in a benign race, but the peer is
		// still streaming at it; tell it to stop.
		abort := common.AbortDestinationPipeUnreachableErr()
		_ = s.wire.post(&wireformat.CloseMessage{Pipe: block.Pipe, Code: abort.Code, Result: []byte(abort.Message)})
		return
	}
	switch t := v.(type) {
	case *StreamPipe:
		payload := append([]byte(nil), block.Payload...)
		t.recordReceived(payload)
		_ = t.inbound.Offer(payload)
		if block.EOF {
			t.inbound.Close()
		}
	case *Pipe:
		t.localClose(nil, common.AbortFunctionCannotReceiveBlockErr())
	}
}

func (s *Session) handleControl(ctrl *wireformat.ControlMessage) {
	switch ctrl.Kind {
	case wireformat.ControlKindSessionClose:
		s.Close(false)
	default:
		s.wire.teardown(common.NewProtocolError("unexpected control message after handshake"))
	}
}

// Open initiates a local call. stream_enabled governs whether the
// returned pipe's sink is joined by an inbound block source on the
// opener's own side too (the opener may itself want a bidirectional
// stream); it has no effect on whether the *remote* side accepts Blocks
// sent to it, which handleOpen negotiates independently from the bound
// Service.
func (s *Session) Open(priority int8, serviceID string, functionID uint16, params []byte, streamEnabled bool) (*Pipe, error) {
	if s.closed.Load() {
		return nil, common.ErrSessionClosed
	}
	p, err := s.pipes.CreateLocal(priority, serviceID, functionID, params, streamEnabled)
	if err != nil {
		return nil, err
	}
	if err := p.localOpen(); err != nil {
		p.transportError("failed to send open")
		return nil, err
	}
	return p, nil
}

// OpenStream is Open with stream_enabled forced true, returning the
// StreamPipe view directly.
func (s *Session) OpenStream(priority int8, serviceID string, functionID uint16, params []byte) (*StreamPipe, error) {
	p, err := s.Open(priority, serviceID, functionID, params, true)
	if err != nil {
		return nil, err
	}
	v, _ := s.pipes.Get(p.ID())
	return v.(*StreamPipe), nil
}

// Close terminates the session. If graceful, every live local pipe is
// resolved with Abort(SessionClosing) first, then Control(SessionClose)
// is sent, then the Wire closes after draining its outbound queue.
// Close(false) skips all of that and tears the Wire down immediately.
func (s *Session) Close(graceful bool) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.pipes.Close(graceful)
	var err error
	if graceful {
		_ = s.wire.post(wireformat.NewSessionClose())
		err = s.wire.CloseDraining()
	} else {
		err = s.wire.Close()
	}
	if s.onClose != nil {
		s.onClose(s)
	}
	return err
}

func (s *Session) IsClosed() bool { return s.closed.Load() }
