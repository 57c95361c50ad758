package wireformat

import (
	"encoding/binary"

	"github.com/asterisque/asterisque/asterisque/common"
)

// Codec encodes/decodes Messages to/from self-delimited frames:
//
//	+------+---------------+---- ... ----+
//	| tag  | total_length  | body        |
//	| u8   | u16 LE        | bytes       |
//	+------+---------------+---- ... ----+
//
// total_length includes the 3-byte header and is capped at 0xFFFF.
type Codec struct{}

// NewCodec returns the default Asterisque envelope codec. It carries no
// state: user values inside Open.Params and Close.Result stay opaque
// []byte here, converted by whatever value codec the host supplies.
func NewCodec() *Codec { return &Codec{} }

// Encode serializes msg to a complete frame. It fails with a *CodecError
// if the resulting frame would exceed 0xFFFF bytes, or if a Block payload
// exceeds common.MaxPayloadSize.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	w := &mpWriter{}
	var tag byte

	switch m := msg.(type) {
	case *OpenMessage:
		tag = common.TagOpen
		w.writeInt(int64(int16(m.Pipe)))
		w.writeInt(int64(m.Priority))
		w.writeStr(m.ServiceID)
		w.writeInt(int64(int16(m.FunctionID)))
		w.writeBin(m.Params)

	case *CloseMessage:
		tag = common.TagClose
		w.writeInt(int64(int16(m.Pipe)))
		w.writeInt(int64(m.Code))
		w.writeBin(m.Result)

	case *BlockMessage:
		tag = common.TagBlock
		if len(m.Payload) > common.MaxPayloadSize {
			return nil, common.NewCodecError("block payload exceeds MaxPayloadSize")
		}
		w.writeInt(int64(int16(m.Pipe)))
		status := m.Loss & 0x7f
		if m.EOF {
			status |= 0x80
		}
		w.writeUint(uint64(status))
		w.writeBin(m.Payload)

	case *ControlMessage:
		tag = common.TagControl
		switch m.Kind {
		case ControlKindSyncSession:
			w.buf = append(w.buf, common.ControlSyncSession)
			if m.SyncSession == nil {
				return nil, common.NewCodecError("SyncSession control message missing body")
			}
			w.writeUint(uint64(m.SyncSession.Version))
			w.writeInt(m.SyncSession.UTCTime)
			w.writeMapStrStr(m.SyncSession.Config)
		case ControlKindSessionClose:
			w.buf = append(w.buf, common.ControlSessionClose)
		default:
			return nil, common.NewCodecError("unknown control kind")
		}

	default:
		return nil, common.NewCodecError("unknown message type")
	}

	totalLength := common.FrameHeaderSize + len(w.buf)
	if totalLength > common.MaxFrameSize {
		return nil, common.NewCodecError("encoded message exceeds MaxFrameSize")
	}

	out := make([]byte, common.FrameHeaderSize, totalLength)
	out[0] = tag
	binary.LittleEndian.PutUint16(out[1:3], uint16(totalLength))
	out = append(out, w.buf...)
	return out, nil
}

// Decode reads one complete frame from the head of buf. It returns
// (msg, consumed, nil) on success; (nil, 0, common.ErrUnsatisfied) if buf
// does not yet hold a complete frame (the caller should accumulate more
// bytes and retry); or (nil, 0, *CodecError) if the header or body is
// corrupt. Decode never consumes a partial frame.
func (c *Codec) Decode(buf []byte) (Message, int, error) {
	if len(buf) < common.FrameHeaderSize {
		return nil, 0, common.ErrUnsatisfied
	}

	tag := buf[0]
	totalLength := int(binary.LittleEndian.Uint16(buf[1:3]))
	if totalLength < common.FrameHeaderSize {
		return nil, 0, common.NewCodecError("total_length smaller than header size")
	}
	if len(buf) < totalLength {
		return nil, 0, common.ErrUnsatisfied
	}

	body := buf[common.FrameHeaderSize:totalLength]
	r := &mpReader{buf: body}

	msg, ok := decodeBody(tag, r)
	if !ok {
		return nil, 0, common.NewCodecError("malformed message body")
	}
	return msg, totalLength, nil
}

func decodeBody(tag byte, r *mpReader) (Message, bool) {
	switch tag {
	case common.TagOpen:
		pipeID, ok := r.readInt()
		if !ok {
			return nil, false
		}
		priority, ok := r.readInt()
		if !ok {
			return nil, false
		}
		serviceID, ok := r.readStr()
		if !ok {
			return nil, false
		}
		functionID, ok := r.readInt()
		if !ok {
			return nil, false
		}
		params, ok := r.readBin()
		if !ok {
			return nil, false
		}
		return &OpenMessage{
			Pipe:       common.PipeID(uint16(int16(pipeID))),
			Priority:   int8(priority),
			ServiceID:  serviceID,
			FunctionID: uint16(int16(functionID)),
			Params:     params,
		}, true

	case common.TagClose:
		pipeID, ok := r.readInt()
		if !ok {
			return nil, false
		}
		code, ok := r.readInt()
		if !ok {
			return nil, false
		}
		result, ok := r.readBin()
		if !ok {
			return nil, false
		}
		return &CloseMessage{
			Pipe:   common.PipeID(uint16(int16(pipeID))),
			Code:   int8(code),
			Result: result,
		}, true

	case common.TagBlock:
		pipeID, ok := r.readInt()
		if !ok {
			return nil, false
		}
		status, ok := r.readUint()
		if !ok {
			return nil, false
		}
		payload, ok := r.readBin()
		if !ok {
			return nil, false
		}
		return &BlockMessage{
			Pipe:    common.PipeID(uint16(int16(pipeID))),
			EOF:     status&0x80 != 0,
			Loss:    uint8(status & 0x7f),
			Payload: payload,
		}, true

	case common.TagControl:
		controlTag, ok := r.readByte()
		if !ok {
			return nil, false
		}
		switch controlTag {
		case common.ControlSyncSession:
			version, ok := r.readUint()
			if !ok {
				return nil, false
			}
			utcTime, ok := r.readInt()
			if !ok {
				return nil, false
			}
			config, ok := r.readMapStrStr()
			if !ok {
				return nil, false
			}
			return &ControlMessage{
				Kind: ControlKindSyncSession,
				SyncSession: &SyncSessionBody{
					Version: uint32(version),
					UTCTime: utcTime,
					Config:  config,
				},
			}, true
		case common.ControlSessionClose:
			return &ControlMessage{Kind: ControlKindSessionClose}, true
		default:
			return nil, false
		}

	default:
		return nil, false
	}
}
