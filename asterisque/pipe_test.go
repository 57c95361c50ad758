package asterisque

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asterisque/asterisque/asterisque/common"
	"github.com/asterisque/asterisque/asterisque/queue"
	"github.com/asterisque/asterisque/asterisque/wireformat"
)

// recordingPoster captures every message posted to it, standing in for a
// Wire in pipe-level unit tests.
type recordingPoster struct {
	mu   sync.Mutex
	sent []wireformat.Message
}

func (r *recordingPoster) post(msg wireformat.Message) error {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return nil
}

func (r *recordingPoster) last() wireformat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

func (r *recordingPoster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newTestPipe(rp *recordingPoster, space *PipeSpace) *Pipe {
	return newPipe(0x8001, 0, "echo", 1, []byte("hello"), false, rp, space)
}

func TestPipeLocalOpenEmitsOpen(t *testing.T) {
	rp := &recordingPoster{}
	space := newPipeSpace(Primary, rp, common.DefaultStreamLimit)
	p := newTestPipe(rp, space)
	if err := p.localOpen(); err != nil {
		t.Fatal(err)
	}
	open, ok := rp.last().(*wireformat.OpenMessage)
	if !ok {
		t.Fatalf("expected OpenMessage, got %T", rp.last())
	}
	if open.ServiceID != "echo" || open.FunctionID != 1 || string(open.Params) != "hello" {
		t.Fatalf("unexpected open: %+v", open)
	}
}

func TestPipeLocalCloseAtMostOnce(t *testing.T) {
	rp := &recordingPoster{}
	space := newPipeSpace(Primary, rp, common.DefaultStreamLimit)
	p := newTestPipe(rp, space)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				p.localClose([]byte("first"), nil)
			} else {
				p.remoteClose(0, []byte("second"))
			}
		}(i)
	}
	wg.Wait()

	if rp.count() > 1 {
		t.Fatalf("expected at most one Close emitted, got %d messages", rp.count())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := p.Outcome().Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected outcome error: %v", err)
	}
	if string(result) != "first" && string(result) != "second" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestPipeLocalCloseWithAbort(t *testing.T) {
	rp := &recordingPoster{}
	space := newPipeSpace(Primary, rp, common.DefaultStreamLimit)
	p := newTestPipe(rp, space)

	p.localClose(nil, common.NewAbort(common.AbortFunctionAborted, "boom"))

	closeMsg, ok := rp.last().(*wireformat.CloseMessage)
	if !ok {
		t.Fatalf("expected CloseMessage, got %T", rp.last())
	}
	if closeMsg.Code != common.AbortFunctionAborted || string(closeMsg.Result) != "boom" {
		t.Fatalf("unexpected close: %+v", closeMsg)
	}

	_, err := p.Outcome().Wait(context.Background())
	abort, ok := err.(*common.Abort)
	if !ok || abort.Code != common.AbortFunctionAborted {
		t.Fatalf("expected abort outcome, got %v", err)
	}
}

func TestPipeSendBlockFragmentsAtMaxPayloadSize(t *testing.T) {
	rp := &recordingPoster{}
	space := newPipeSpace(Primary, rp, common.DefaultStreamLimit)
	p := newTestPipe(rp, space)

	payload := make([]byte, common.MaxPayloadSize+100)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := p.SendBlock(payload); err != nil {
		t.Fatal(err)
	}
	if err := p.CloseSend(); err != nil {
		t.Fatal(err)
	}

	var blocks []*wireformat.BlockMessage
	for _, m := range rp.sent {
		if b, ok := m.(*wireformat.BlockMessage); ok {
			blocks = append(blocks, b)
		}
	}
	if len(blocks) < 2 {
		t.Fatalf("expected payload to be split across multiple blocks, got %d", len(blocks))
	}
	for _, b := range blocks {
		if len(b.Payload) > common.MaxPayloadSize {
			t.Fatalf("block exceeds MaxPayloadSize: %d", len(b.Payload))
		}
	}
	last := blocks[len(blocks)-1]
	if !last.EOF {
		t.Fatal("expected final block to carry eof=true")
	}

	stats := p.Stats()
	if stats.BlocksSent != uint64(len(blocks)) || stats.BytesSent != uint64(len(payload)) {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	// Reassemble and compare.
	var got []byte
	for _, b := range blocks {
		got = append(got, b.Payload...)
	}
	if len(got) != len(payload) {
		t.Fatalf("reassembled length mismatch: got %d want %d", len(got), len(payload))
	}
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("reassembled payload mismatch at byte %d", i)
		}
	}
}

func TestPipeSendBlockAfterCloseSendFails(t *testing.T) {
	rp := &recordingPoster{}
	space := newPipeSpace(Primary, rp, common.DefaultStreamLimit)
	p := newTestPipe(rp, space)

	if err := p.CloseSend(); err != nil {
		t.Fatal(err)
	}
	if err := p.SendBlock([]byte("too late")); err != common.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestStreamPipeInboundClosesOnEOF(t *testing.T) {
	rp := &recordingPoster{}
	space := newPipeSpace(Primary, rp, common.DefaultStreamLimit)
	p := newTestPipe(rp, space)
	sp := newStreamPipe(p, 16)

	sp.Inbound().Offer([]byte("a"))
	sp.Inbound().Offer([]byte("b"))
	sp.Inbound().Close()

	v, res := sp.Inbound().Poll(0)
	if res != queue.PollOK || string(v) != "a" {
		t.Fatalf("got %q %v", v, res)
	}
	v, res = sp.Inbound().Poll(0)
	if res != queue.PollOK || string(v) != "b" {
		t.Fatalf("got %q %v", v, res)
	}
	_, res = sp.Inbound().Poll(0)
	if res != queue.PollClosed {
		t.Fatalf("expected closed, got %v", res)
	}
}
