package asterisque

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/asterisque/asterisque/asterisque/common"
	"github.com/asterisque/asterisque/asterisque/queue"
	"github.com/asterisque/asterisque/asterisque/wireformat"
	"github.com/asterisque/asterisque/transport"
)

// WireOption configures a Wire at construction.
type WireOption func(*wireOptions)

type wireOptions struct {
	inboundLimit  uint32
	outboundLimit uint32
	logger        zerolog.Logger
}

// WithInboundLimit overrides the inbound MessageQueue's cooperative limit
// (default common.DefaultCooperativeLimit).
func WithInboundLimit(limit uint32) WireOption {
	return func(o *wireOptions) { o.inboundLimit = limit }
}

// WithOutboundLimit overrides the outbound MessageQueue's cooperative limit.
func WithOutboundLimit(limit uint32) WireOption {
	return func(o *wireOptions) { o.outboundLimit = limit }
}

// WithWireLogger attaches a logger; the zero value is a no-op logger.
func WithWireLogger(logger zerolog.Logger) WireOption {
	return func(o *wireOptions) { o.logger = logger }
}

// WireListener receives Wire lifecycle notifications.
type WireListener struct {
	OnClosed func(w *Wire)
	OnError  func(w *Wire, err error)
}

// Wire wraps one transport endpoint with an inbound and an outbound
// MessageQueue, and the two pumps that move frames between the transport
// and those queues. The queues are the sole synchronization point between
// transport goroutines and application goroutines.
type Wire struct {
	t     transport.Transport
	codec *wireformat.Codec
	log   zerolog.Logger

	inbound  *queue.MessageQueue[wireformat.Message]
	outbound *queue.MessageQueue[wireformat.Message]

	closed      atomic.Bool
	listenersMu sync.Mutex
	listeners   []*WireListener

	// resumeCh is closed/replaced the same way MessageQueue's waitCh is:
	// it gates the read pump whenever inbound signals offerable=false, so
	// transport auto-read pauses and resumes in Wire's own reader
	// goroutine rather than as a method every Transport must support.
	pauseMu  sync.Mutex
	paused   bool
	resumeCh chan struct{}

	writeMu   sync.Mutex // serializes transport.WriteFrame calls
	wg        sync.WaitGroup
	writeDone chan struct{} // closed when writePump exits
}

// NewWire constructs a Wire over t and starts its read/write pumps.
func NewWire(t transport.Transport, opts ...WireOption) *Wire {
	o := &wireOptions{
		inboundLimit:  common.DefaultCooperativeLimit,
		outboundLimit: common.DefaultCooperativeLimit,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	w := &Wire{
		t:         t,
		codec:     wireformat.NewCodec(),
		log:       o.logger,
		inbound:   queue.New[wireformat.Message]("wire-inbound", o.inboundLimit),
		outbound:  queue.New[wireformat.Message]("wire-outbound", o.outboundLimit),
		resumeCh:  make(chan struct{}),
		writeDone: make(chan struct{}),
	}

	w.inbound.AddListener(&queue.Listener{
		OnOfferable: func(offerable bool) {
			if offerable {
				w.resumeReadPump()
			} else {
				w.pauseReadPump()
			}
		},
	})
	w.wg.Add(2)
	go w.readPump()
	go w.writePump()
	return w
}

func (w *Wire) AddListener(l *WireListener) {
	w.listenersMu.Lock()
	w.listeners = append(w.listeners, l)
	w.listenersMu.Unlock()
}

func (w *Wire) fireClosed() {
	w.listenersMu.Lock()
	ls := append([]*WireListener(nil), w.listeners...)
	w.listenersMu.Unlock()
	for _, l := range ls {
		if l.OnClosed != nil {
			l.OnClosed(w)
		}
	}
}

func (w *Wire) fireError(err error) {
	w.listenersMu.Lock()
	ls := append([]*WireListener(nil), w.listeners...)
	w.listenersMu.Unlock()
	for _, l := range ls {
		if l.OnError != nil {
			l.OnError(w, err)
		}
	}
}

// Inbound exposes the queue of decoded Messages arriving from the peer.
func (w *Wire) Inbound() *queue.MessageQueue[wireformat.Message] { return w.inbound }

// post enqueues msg for transmission. Implements the narrow poster
// capability handed to Pipes and used by Session.
func (w *Wire) post(msg wireformat.Message) error {
	return w.outbound.Offer(msg)
}

func (w *Wire) LocalAddr() net.Addr  { return w.t.LocalAddr() }
func (w *Wire) RemoteAddr() net.Addr { return w.t.RemoteAddr() }
func (w *Wire) IsPrimary() bool      { return w.t.IsPrimary() }

// PeerIdentity returns the transport's authenticated peer identity, if the
// binding in use exposes one.
func (w *Wire) PeerIdentity() any {
	if at, ok := w.t.(transport.AuthenticatedTransport); ok {
		return at.PeerIdentity()
	}
	return nil
}

func (w *Wire) pauseReadPump() {
	w.pauseMu.Lock()
	w.paused = true
	w.pauseMu.Unlock()
	w.log.Debug().Str("queue", "wire-inbound").Msg("offerable=false, pausing transport auto-read")
}

func (w *Wire) resumeReadPump() {
	w.pauseMu.Lock()
	wasPaused := w.paused
	if w.paused {
		w.paused = false
		close(w.resumeCh)
		w.resumeCh = make(chan struct{})
	}
	w.pauseMu.Unlock()
	if wasPaused {
		w.log.Debug().Str("queue", "wire-inbound").Msg("offerable=true, resuming transport auto-read")
	}
}

func (w *Wire) waitIfPaused() {
	w.pauseMu.Lock()
	if !w.paused {
		w.pauseMu.Unlock()
		return
	}
	ch := w.resumeCh
	w.pauseMu.Unlock()
	<-ch
}

// readPump is pump #1: transport read -> inbound.offer, pausing whenever
// inbound signals offerable=false and resuming on offerable=true.
func (w *Wire) readPump() {
	defer w.wg.Done()
	for {
		w.waitIfPaused()
		if w.closed.Load() {
			return
		}
		frame, err := w.t.ReadFrame()
		if err != nil {
			w.teardown(err)
			return
		}
		msg, _, err := w.codec.Decode(frame)
		if err != nil {
			w.teardown(err)
			return
		}
		if err := w.inbound.Offer(msg); err != nil {
			return
		}
	}
}

// writePump is pump #2: outbound.poll -> transport write ("pump_up"). It
// blocks in outbound.Poll(Infinite) whenever the queue is empty and exits
// once outbound is closed and drained.
func (w *Wire) writePump() {
	defer w.wg.Done()
	defer close(w.writeDone)
	for {
		msg, res := w.outbound.Poll(queue.Infinite)
		if res == queue.PollClosed {
			return
		}
		frame, err := w.codec.Encode(msg)
		if err != nil {
			w.teardown(err)
			return
		}
		w.writeMu.Lock()
		err = w.t.WriteFrame(frame)
		w.writeMu.Unlock()
		if err != nil {
			w.teardown(err)
			return
		}
	}
}

func (w *Wire) teardown(err error) {
	if err != nil && err != io.EOF {
		w.log.Error().Err(err).Msg("wire teardown: transport error")
		w.fireError(err)
	}
	w.Close()
}

// Close is idempotent and non-blocking: it closes both queues, closes the
// transport, and returns without waiting for the pumps to exit. teardown
// runs inside readPump and writePump (as well as from Session's dispatcher
// on a protocol error), so Close can itself run from inside one of the
// pumps (transport failure detected by the pump's own
// ReadFrame/WriteFrame); waiting for both pumps here would deadlock that
// pump against its own still-pending wg.Done(). Instead, a detached
// goroutine waits for both pumps to exit and fires OnClosed exactly once,
// asynchronously from Close's caller.
func (w *Wire) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.inbound.Close()
	w.outbound.Close()
	w.resumeReadPump()
	err := w.t.Close()
	go func() {
		w.wg.Wait()
		w.fireClosed()
	}()
	return err
}

// drainTimeout bounds how long CloseDraining waits for the write pump to
// flush queued frames before closing the transport anyway.
const drainTimeout = 5 * time.Second

// CloseDraining closes the outbound queue first and lets the write pump
// flush every frame already enqueued before the transport goes away, then
// closes the Wire. Session uses this for graceful close so the per-pipe
// Close messages and the SessionClose control frame actually reach the
// peer. Unlike Close it may block, up to drainTimeout.
func (w *Wire) CloseDraining() error {
	w.outbound.Close()
	select {
	case <-w.writeDone:
	case <-time.After(drainTimeout):
		w.log.Warn().Msg("wire close: outbound drain timed out")
	}
	return w.Close()
}

func (w *Wire) IsClosed() bool { return w.closed.Load() }
