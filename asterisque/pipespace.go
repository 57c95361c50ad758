package asterisque

import (
	"sync"
	"sync/atomic"

	"github.com/asterisque/asterisque/asterisque/common"
	"github.com/asterisque/asterisque/asterisque/wireformat"
)

// PipeSpace is a session's per-side registry of live pipes, allocating ids
// without coordinating with the remote peer: the high bit of every locally
// allocated id is fixed by role, so the two sides' id spaces never
// intersect.
type PipeSpace struct {
	role Role
	wire poster

	seq uint32 // next candidate 15-bit sequence, pre-mask

	mu      sync.RWMutex
	entries map[common.PipeID]any // *Pipe or *StreamPipe
	closed  bool

	defaultStreamLimit uint32
}

func newPipeSpace(role Role, wire poster, defaultStreamLimit uint32) *PipeSpace {
	return &PipeSpace{
		role:               role,
		wire:               wire,
		entries:            make(map[common.PipeID]any),
		defaultStreamLimit: defaultStreamLimit,
	}
}

// Get looks up a live pipe by id.
func (s *PipeSpace) Get(id common.PipeID) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[id]
	return v, ok
}

// CreateLocal allocates a fresh id owned by this side (role-masked),
// retrying on collision, and registers a new Pipe (or StreamPipe).
func (s *PipeSpace) CreateLocal(priority int8, serviceID string, functionID uint16, openerParams []byte, streamEnabled bool) (*Pipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, common.ErrSessionClosed
	}

	var id common.PipeID
	for {
		n := atomic.AddUint32(&s.seq, 1)
		candidate := common.PipeID((uint16(n) & common.PipeIDSequenceMask) | s.role.RoleMask())
		if candidate == common.ControlPipeID {
			continue
		}
		if _, occupied := s.entries[candidate]; !occupied {
			id = candidate
			break
		}
	}

	p := newPipe(id, priority, serviceID, functionID, openerParams, streamEnabled, s.wire, s)
	if streamEnabled {
		sp := newStreamPipe(p, s.defaultStreamLimit)
		s.entries[id] = sp
	} else {
		s.entries[id] = p
	}
	return p, nil
}

// CreateFromOpen registers a Pipe in response to a peer-initiated Open. It
// validates the pipe-id's high bit matches the *remote* role (the opposite
// of this side's own role) and rejects collisions.
func (s *PipeSpace) CreateFromOpen(open *wireformat.OpenMessage, streamEnabled bool) (*Pipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, common.ErrSessionClosed
	}
	if !common.HasRoleBit(open.Pipe, s.role.Other()) {
		return nil, common.NewProtocolError("open pipe-id high bit does not match remote role")
	}
	if _, occupied := s.entries[open.Pipe]; occupied {
		return nil, common.ErrDuplicatePipeID
	}

	p := newPipe(open.Pipe, open.Priority, open.ServiceID, open.FunctionID, open.Params, streamEnabled, s.wire, s)
	if streamEnabled {
		sp := newStreamPipe(p, s.defaultStreamLimit)
		s.entries[open.Pipe] = sp
	} else {
		s.entries[open.Pipe] = p
	}
	return p, nil
}

// destroy removes id's entry, if any. Idempotent.
func (s *PipeSpace) destroy(id common.PipeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Close transitions the space to closed, rejecting further creates. If
// graceful, every still-live pipe is sent Close(SessionClosing) before the
// registry is cleared.
func (s *PipeSpace) Close(graceful bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	live := make([]*Pipe, 0, len(s.entries))
	for _, v := range s.entries {
		live = append(live, asPipe(v))
	}
	s.mu.Unlock()

	for _, p := range live {
		if graceful {
			p.localClose(nil, common.AbortSessionClosingErr())
		} else {
			p.transportError("session closed")
		}
	}

	s.mu.Lock()
	s.entries = make(map[common.PipeID]any)
	s.mu.Unlock()
}

func asPipe(v any) *Pipe {
	switch t := v.(type) {
	case *Pipe:
		return t
	case *StreamPipe:
		return t.Pipe
	default:
		return nil
	}
}
