package asterisque

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/asterisque/asterisque/asterisque/common"
)

// generateSessionID produces a random 64-bit session id by hashing fresh
// crypto/rand entropy through blake2b. Ids only need process-local
// uniqueness, so collision odds over 64 bits are negligible.
func generateSessionID() (common.SessionID, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return 0, err
	}
	sum := blake2b.Sum256(seed[:])
	return common.SessionID(binary.LittleEndian.Uint64(sum[:8])), nil
}

// DispatcherOption configures a Dispatcher at construction.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger attaches a logger used for session lifecycle events.
func WithDispatcherLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = logger }
}

// WithStreamLimit overrides the cooperative limit used for every
// StreamPipe's inbound block queue (default common.DefaultStreamLimit).
func WithStreamLimit(limit uint32) DispatcherOption {
	return func(d *Dispatcher) { d.streamLimit = limit }
}

// Dispatcher is the process-wide registry of services and live sessions.
// It is the single entry point that binds a fresh Wire to a new Session
// once the handshake succeeds.
type Dispatcher struct {
	servicesMu sync.RWMutex
	services   map[string]Service

	sessionsMu sync.RWMutex
	sessions   map[common.SessionID]*Session

	log         zerolog.Logger
	streamLimit uint32
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		services:    make(map[string]Service),
		sessions:    make(map[common.SessionID]*Session),
		streamLimit: common.DefaultStreamLimit,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterService binds serviceID to svc for every session this dispatcher
// handshakes from this point on. Registering the same id again replaces
// the previous handler.
func (d *Dispatcher) RegisterService(serviceID string, svc Service) {
	d.servicesMu.Lock()
	d.services[serviceID] = svc
	d.servicesMu.Unlock()
}

func (d *Dispatcher) servicesSnapshot() map[string]Service {
	d.servicesMu.RLock()
	defer d.servicesMu.RUnlock()
	out := make(map[string]Service, len(d.services))
	for k, v := range d.services {
		out[k] = v
	}
	return out
}

// BindWire performs the session handshake over wire and, on success,
// installs the resulting Session in the process-wide session table keyed
// by session id, removing it again when the session closes.
func (d *Dispatcher) BindWire(ctx context.Context, wire *Wire, role Role, localConfig map[string]string) (*Session, error) {
	sess := newSession(wire, role, d.servicesSnapshot(), localConfig, d.streamLimit, d.log)
	sess.onClose = d.removeSession

	if err := sess.handshake(ctx); err != nil {
		d.log.Warn().Err(err).Msg("dispatcher: BindWire failed")
		return nil, fmt.Errorf("asterisque: handshake failed: %w", err)
	}

	d.sessionsMu.Lock()
	d.sessions[sess.id] = sess
	d.sessionsMu.Unlock()
	d.log.Info().Uint64("session", uint64(sess.id)).Int("live_sessions", d.SessionCount()).Msg("dispatcher: session bound")
	return sess, nil
}

func (d *Dispatcher) removeSession(s *Session) {
	d.sessionsMu.Lock()
	delete(d.sessions, s.id)
	d.sessionsMu.Unlock()
	d.log.Debug().Uint64("session", uint64(s.id)).Msg("dispatcher: session removed")
}

// Session looks up a live session by id.
func (d *Dispatcher) Session(id common.SessionID) (*Session, bool) {
	d.sessionsMu.RLock()
	defer d.sessionsMu.RUnlock()
	s, ok := d.sessions[id]
	return s, ok
}

// Sessions returns a snapshot of every currently live session.
func (d *Dispatcher) Sessions() []*Session {
	d.sessionsMu.RLock()
	defer d.sessionsMu.RUnlock()
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

// SessionCount returns the number of live sessions.
func (d *Dispatcher) SessionCount() int {
	d.sessionsMu.RLock()
	defer d.sessionsMu.RUnlock()
	return len(d.sessions)
}
