package astpipe

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestPairRoundTrip(t *testing.T) {
	a, b := NewPair()
	if !a.IsPrimary() {
		t.Fatal("a should be primary")
	}
	if b.IsPrimary() {
		t.Fatal("b should be secondary")
	}

	if err := a.WriteFrame([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	got, err := b.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q", got)
	}

	if err := b.WriteFrame([]byte("world")); err != nil {
		t.Fatal(err)
	}
	got, err = a.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("world")) {
		t.Fatalf("got %q", got)
	}
}

func TestPairCloseUnblocksRead(t *testing.T) {
	a, _ := NewPair()
	done := make(chan error, 1)
	go func() {
		_, err := a.ReadFrame()
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	a.Close()

	select {
	case err := <-done:
		if err != io.ErrClosedPipe {
			t.Fatalf("expected ErrClosedPipe, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read was not unblocked by close")
	}
}

func TestWriteCopiesBuffer(t *testing.T) {
	a, b := NewPair()
	buf := []byte("mutateme")
	if err := a.WriteFrame(buf); err != nil {
		t.Fatal(err)
	}
	buf[0] = 'X' // mutate caller's slice after handoff
	got, err := b.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("mutateme")) {
		t.Fatalf("transport did not copy on write: got %q", got)
	}
}
