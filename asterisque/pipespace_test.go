package asterisque

import (
	"errors"
	"testing"

	"github.com/asterisque/asterisque/asterisque/common"
	"github.com/asterisque/asterisque/asterisque/wireformat"
)

func TestCreateLocalRespectsRoleMask(t *testing.T) {
	rp := &recordingPoster{}
	primary := newPipeSpace(Primary, rp, common.DefaultStreamLimit)
	secondary := newPipeSpace(Secondary, rp, common.DefaultStreamLimit)

	for i := 0; i < 20; i++ {
		p, err := primary.CreateLocal(0, "svc", 1, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		if !common.HasRoleBit(p.ID(), Primary) {
			t.Fatalf("primary-allocated id %#x does not carry the primary role bit", p.ID())
		}

		s, err := secondary.CreateLocal(0, "svc", 1, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		if !common.HasRoleBit(s.ID(), Secondary) {
			t.Fatalf("secondary-allocated id %#x does not carry the secondary role bit", s.ID())
		}
	}
}

func TestCreateLocalNeverCollidesAcrossRoles(t *testing.T) {
	rp := &recordingPoster{}
	primary := newPipeSpace(Primary, rp, common.DefaultStreamLimit)
	secondary := newPipeSpace(Secondary, rp, common.DefaultStreamLimit)

	seen := make(map[common.PipeID]bool)
	for i := 0; i < 200; i++ {
		p, err := primary.CreateLocal(0, "svc", 1, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		if seen[p.ID()] {
			t.Fatalf("primary reused id %#x", p.ID())
		}
		seen[p.ID()] = true

		s, err := secondary.CreateLocal(0, "svc", 1, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		if seen[s.ID()] {
			t.Fatalf("id %#x collided across roles", s.ID())
		}
		seen[s.ID()] = true
	}
}

func TestCreateFromOpenRejectsWrongRoleBit(t *testing.T) {
	rp := &recordingPoster{}
	// This space represents the PRIMARY side's bookkeeping for its
	// SECONDARY peer's Open messages. A well-formed peer Open must carry
	// the secondary's role bit (0); one carrying the primary bit is a
	// protocol violation.
	primarySide := newPipeSpace(Primary, rp, common.DefaultStreamLimit)

	badOpen := &wireformat.OpenMessage{Pipe: 0x8001, ServiceID: "svc", FunctionID: 1}
	_, err := primarySide.CreateFromOpen(badOpen, false)
	var protoErr *common.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
}

func TestCreateFromOpenRejectsDuplicate(t *testing.T) {
	rp := &recordingPoster{}
	primarySide := newPipeSpace(Primary, rp, common.DefaultStreamLimit)

	open := &wireformat.OpenMessage{Pipe: 0x0001, ServiceID: "svc", FunctionID: 1}
	if _, err := primarySide.CreateFromOpen(open, false); err != nil {
		t.Fatal(err)
	}
	_, err := primarySide.CreateFromOpen(open, false)
	if !errors.Is(err, common.ErrDuplicatePipeID) {
		t.Fatalf("expected ErrDuplicatePipeID, got %v", err)
	}
}

func TestCloseGracefulResolvesLivePipes(t *testing.T) {
	rp := &recordingPoster{}
	space := newPipeSpace(Primary, rp, common.DefaultStreamLimit)
	p, err := space.CreateLocal(0, "svc", 1, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	space.Close(true)

	if !p.IsClosed() {
		t.Fatal("expected pipe to be closed by graceful space close")
	}
	if !p.Outcome().Resolved() {
		t.Fatal("expected outcome resolved")
	}
	if _, err := space.CreateLocal(0, "svc", 1, nil, false); !errors.Is(err, common.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after close, got %v", err)
	}
}
