package wireformat

import (
	"bytes"
	"testing"

	"github.com/asterisque/asterisque/asterisque/common"
)

func TestOpenRoundTrip(t *testing.T) {
	c := NewCodec()
	msg := &OpenMessage{
		Pipe:       0x8000,
		Priority:   5,
		ServiceID:  "echo",
		FunctionID: 1,
		Params:     []byte("hello"),
	}

	buf, err := c.Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, n, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}

	got, ok := decoded.(*OpenMessage)
	if !ok {
		t.Fatalf("wrong type: %T", decoded)
	}
	if got.Pipe != msg.Pipe || got.Priority != msg.Priority || got.ServiceID != msg.ServiceID ||
		got.FunctionID != msg.FunctionID || !bytes.Equal(got.Params, msg.Params) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

func TestCloseRoundTrip(t *testing.T) {
	c := NewCodec()
	cases := []*CloseMessage{
		{Pipe: 0x8000, Code: 0, Result: []byte("hello")},
		{Pipe: 0x0001, Code: -1, Result: []byte("duplicate pipe-id")},
		{Pipe: 0x8001, Code: common.AbortFunctionCannotReceiveBlock, Result: nil},
	}
	for _, msg := range cases {
		buf, err := c.Encode(msg)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		decoded, n, err := c.Decode(buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if n != len(buf) {
			t.Fatalf("consumed %d, want %d", n, len(buf))
		}
		got := decoded.(*CloseMessage)
		if got.Pipe != msg.Pipe || got.Code != msg.Code || !bytes.Equal(got.Result, msg.Result) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
		}
	}
}

func TestBlockRoundTripMaxPayload(t *testing.T) {
	c := NewCodec()
	payload := bytes.Repeat([]byte{0xFF}, common.MaxPayloadSize)
	msg := &BlockMessage{Pipe: 0x8000, EOF: true, Loss: 3, Payload: payload}

	buf, err := c.Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, _, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got := decoded.(*BlockMessage)
	if !got.EOF || got.Loss != 3 || !bytes.Equal(got.Payload, payload) {
		t.Fatal("block round trip mismatch")
	}
}

func TestBlockPayloadTooLarge(t *testing.T) {
	c := NewCodec()
	msg := &BlockMessage{Pipe: 1, Payload: make([]byte, common.MaxPayloadSize+1)}
	if _, err := c.Encode(msg); err == nil {
		t.Fatal("expected error for oversize block payload")
	}
}

func TestSyncSessionRoundTrip(t *testing.T) {
	c := NewCodec()
	msg := NewSyncSession(1, 1234567890, map[string]string{"a": "1", "b": "2"})

	buf, err := c.Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, _, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got := decoded.(*ControlMessage)
	if got.Kind != ControlKindSyncSession {
		t.Fatalf("wrong control kind: %v", got.Kind)
	}
	if got.SyncSession.Version != 1 || got.SyncSession.UTCTime != 1234567890 {
		t.Fatalf("sync session body mismatch: %+v", got.SyncSession)
	}
	if got.SyncSession.Config["a"] != "1" || got.SyncSession.Config["b"] != "2" {
		t.Fatalf("sync session config mismatch: %+v", got.SyncSession.Config)
	}
}

func TestSessionCloseRoundTrip(t *testing.T) {
	c := NewCodec()
	msg := NewSessionClose()
	buf, err := c.Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, _, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.(*ControlMessage).Kind != ControlKindSessionClose {
		t.Fatal("expected session close control kind")
	}
}

// TestFrameSelfDelimitation checks that decode(encode(M) ++ encode(N) ++
// tail) yields M consuming exactly len(encode(M)) bytes, then N from the
// remainder.
func TestFrameSelfDelimitation(t *testing.T) {
	c := NewCodec()
	m := &OpenMessage{Pipe: 1, ServiceID: "svc", FunctionID: 1, Params: []byte("m")}
	n := &CloseMessage{Pipe: 1, Code: 0, Result: []byte("n")}

	encM, err := c.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	encN, err := c.Encode(n)
	if err != nil {
		t.Fatal(err)
	}

	stream := append(append(append([]byte{}, encM...), encN...), []byte("tail-garbage-is-never-read")...)

	decoded, consumed, err := c.Decode(stream)
	if err != nil {
		t.Fatalf("decode M failed: %v", err)
	}
	if consumed != len(encM) {
		t.Fatalf("consumed %d, want %d", consumed, len(encM))
	}
	if _, ok := decoded.(*OpenMessage); !ok {
		t.Fatalf("expected OpenMessage, got %T", decoded)
	}

	rest := stream[consumed:]
	decoded2, consumed2, err := c.Decode(rest)
	if err != nil {
		t.Fatalf("decode N failed: %v", err)
	}
	if consumed2 != len(encN) {
		t.Fatalf("consumed2 %d, want %d", consumed2, len(encN))
	}
	if _, ok := decoded2.(*CloseMessage); !ok {
		t.Fatalf("expected CloseMessage, got %T", decoded2)
	}
}

func TestTruncatedFrameIsUnsatisfied(t *testing.T) {
	c := NewCodec()
	m := &OpenMessage{Pipe: 1, ServiceID: "svc", FunctionID: 1, Params: []byte("hello world")}
	enc, err := c.Encode(m)
	if err != nil {
		t.Fatal(err)
	}

	for cut := 0; cut < len(enc); cut++ {
		_, _, err := c.Decode(enc[:cut])
		if err != common.ErrUnsatisfied {
			t.Fatalf("prefix len %d: expected ErrUnsatisfied, got %v", cut, err)
		}
	}
}

func TestMalformedBodyIsCodecError(t *testing.T) {
	c := NewCodec()
	// A frame claiming to be an Open message but with a truncated body
	// (valid header, garbage body of the declared length).
	buf := []byte{common.TagOpen, 0, 0}
	buf[1] = byte(10)
	buf[2] = 0
	buf = append(buf, []byte{0, 0, 0, 0, 0, 0, 0}...)

	_, _, err := c.Decode(buf)
	if _, ok := err.(*common.CodecError); !ok {
		t.Fatalf("expected *CodecError, got %v (%T)", err, err)
	}
}
