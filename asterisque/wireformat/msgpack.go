package wireformat

import (
	"encoding/binary"
	"math"
)

// This file implements the narrow slice of the MessagePack format the
// envelopes actually need: signed/unsigned integers up to 64 bits, str,
// bin, and map<str,str>. The message bodies are small fixed tuples with
// hard byte-length invariants, so every byte written is under direct
// control here rather than behind a reflection-based marshaler.

const (
	mpPosFixintMax = 0x7f
	mpNegFixintMin = -32

	mpFixstrMask = 0xa0
	mpFixstrMax  = 0x1f

	mpNil    = 0xc0
	mpFalse  = 0xc2
	mpTrue   = 0xc3
	mpBin8   = 0xc4
	mpBin16  = 0xc5
	mpBin32  = 0xc6
	mpInt8   = 0xd0
	mpInt16  = 0xd1
	mpInt32  = 0xd2
	mpInt64  = 0xd3
	mpStr8   = 0xd9
	mpStr16  = 0xda
	mpStr32  = 0xdb
	mpUint8  = 0xcc
	mpUint16 = 0xcd
	mpUint32 = 0xce
	mpUint64 = 0xcf

	mpFixmapMask = 0x80
	mpFixmapMax  = 0x0f
	mpMap16      = 0xde
	mpMap32      = 0xdf
)

type mpWriter struct {
	buf []byte
}

func (w *mpWriter) writeInt(v int64) {
	switch {
	case v >= 0 && v <= mpPosFixintMax:
		w.buf = append(w.buf, byte(v))
	case v < 0 && v >= mpNegFixintMin:
		w.buf = append(w.buf, byte(int8(v)))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		w.buf = append(w.buf, mpInt8, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(int16(v)))
		w.buf = append(w.buf, mpInt16)
		w.buf = append(w.buf, tmp[:]...)
	case v >= math.MinInt32 && v <= math.MaxInt32:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(int32(v)))
		w.buf = append(w.buf, mpInt32)
		w.buf = append(w.buf, tmp[:]...)
	default:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v))
		w.buf = append(w.buf, mpInt64)
		w.buf = append(w.buf, tmp[:]...)
	}
}

func (w *mpWriter) writeUint(v uint64) {
	switch {
	case v <= mpPosFixintMax:
		w.buf = append(w.buf, byte(v))
	case v <= math.MaxUint8:
		w.buf = append(w.buf, mpUint8, byte(v))
	case v <= math.MaxUint16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(v))
		w.buf = append(w.buf, mpUint16)
		w.buf = append(w.buf, tmp[:]...)
	case v <= math.MaxUint32:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(v))
		w.buf = append(w.buf, mpUint32)
		w.buf = append(w.buf, tmp[:]...)
	default:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], v)
		w.buf = append(w.buf, mpUint64)
		w.buf = append(w.buf, tmp[:]...)
	}
}

func (w *mpWriter) writeStr(s string) {
	n := len(s)
	switch {
	case n <= mpFixstrMax:
		w.buf = append(w.buf, mpFixstrMask|byte(n))
	case n <= math.MaxUint8:
		w.buf = append(w.buf, mpStr8, byte(n))
	case n <= math.MaxUint16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(n))
		w.buf = append(w.buf, mpStr16)
		w.buf = append(w.buf, tmp[:]...)
	default:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(n))
		w.buf = append(w.buf, mpStr32)
		w.buf = append(w.buf, tmp[:]...)
	}
	w.buf = append(w.buf, s...)
}

func (w *mpWriter) writeBin(b []byte) {
	n := len(b)
	switch {
	case n <= math.MaxUint8:
		w.buf = append(w.buf, mpBin8, byte(n))
	case n <= math.MaxUint16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(n))
		w.buf = append(w.buf, mpBin16)
		w.buf = append(w.buf, tmp[:]...)
	default:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(n))
		w.buf = append(w.buf, mpBin32)
		w.buf = append(w.buf, tmp[:]...)
	}
	w.buf = append(w.buf, b...)
}

func (w *mpWriter) writeMapStrStr(m map[string]string) {
	n := len(m)
	switch {
	case n <= mpFixmapMax:
		w.buf = append(w.buf, mpFixmapMask|byte(n))
	case n <= math.MaxUint16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(n))
		w.buf = append(w.buf, mpMap16)
		w.buf = append(w.buf, tmp[:]...)
	default:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(n))
		w.buf = append(w.buf, mpMap32)
		w.buf = append(w.buf, tmp[:]...)
	}
	// Deterministic ordering keeps encode(decode(x)) stable for tests,
	// which real msgpack map encodings don't otherwise guarantee.
	keys := make([]string, 0, n)
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		w.writeStr(k)
		w.writeStr(m[k])
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

type mpReader struct {
	buf []byte
	pos int
}

func (r *mpReader) remaining() int { return len(r.buf) - r.pos }

func (r *mpReader) readByte() (byte, bool) {
	if r.remaining() < 1 {
		return 0, false
	}
	b := r.buf[r.pos]
	r.pos++
	return b, true
}

func (r *mpReader) take(n int) ([]byte, bool) {
	if r.remaining() < n {
		return nil, false
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, true
}

func (r *mpReader) readInt() (int64, bool) {
	tag, ok := r.readByte()
	if !ok {
		return 0, false
	}
	switch {
	case tag <= mpPosFixintMax:
		return int64(tag), true
	case int8(tag) >= mpNegFixintMin && tag >= 0xe0:
		return int64(int8(tag)), true
	case tag == mpInt8:
		b, ok := r.readByte()
		return int64(int8(b)), ok
	case tag == mpInt16:
		b, ok := r.take(2)
		if !ok {
			return 0, false
		}
		return int64(int16(binary.BigEndian.Uint16(b))), true
	case tag == mpInt32:
		b, ok := r.take(4)
		if !ok {
			return 0, false
		}
		return int64(int32(binary.BigEndian.Uint32(b))), true
	case tag == mpInt64:
		b, ok := r.take(8)
		if !ok {
			return 0, false
		}
		return int64(binary.BigEndian.Uint64(b)), true
	case tag == mpUint8:
		b, ok := r.readByte()
		return int64(b), ok
	case tag == mpUint16:
		b, ok := r.take(2)
		if !ok {
			return 0, false
		}
		return int64(binary.BigEndian.Uint16(b)), true
	case tag == mpUint32:
		b, ok := r.take(4)
		if !ok {
			return 0, false
		}
		return int64(binary.BigEndian.Uint32(b)), true
	case tag == mpUint64:
		b, ok := r.take(8)
		if !ok {
			return 0, false
		}
		return int64(binary.BigEndian.Uint64(b)), true
	default:
		return 0, false
	}
}

func (r *mpReader) readUint() (uint64, bool) {
	v, ok := r.readInt()
	if !ok || v < 0 {
		return 0, false
	}
	return uint64(v), true
}

func (r *mpReader) readStr() (string, bool) {
	tag, ok := r.readByte()
	if !ok {
		return "", false
	}
	var n int
	switch {
	case tag&0xe0 == mpFixstrMask:
		n = int(tag & mpFixstrMax)
	case tag == mpStr8:
		b, ok := r.readByte()
		if !ok {
			return "", false
		}
		n = int(b)
	case tag == mpStr16:
		b, ok := r.take(2)
		if !ok {
			return "", false
		}
		n = int(binary.BigEndian.Uint16(b))
	case tag == mpStr32:
		b, ok := r.take(4)
		if !ok {
			return "", false
		}
		n = int(binary.BigEndian.Uint32(b))
	default:
		return "", false
	}
	b, ok := r.take(n)
	if !ok {
		return "", false
	}
	return string(b), true
}

func (r *mpReader) readBin() ([]byte, bool) {
	tag, ok := r.readByte()
	if !ok {
		return nil, false
	}
	var n int
	switch tag {
	case mpBin8:
		b, ok := r.readByte()
		if !ok {
			return nil, false
		}
		n = int(b)
	case mpBin16:
		b, ok := r.take(2)
		if !ok {
			return nil, false
		}
		n = int(binary.BigEndian.Uint16(b))
	case mpBin32:
		b, ok := r.take(4)
		if !ok {
			return nil, false
		}
		n = int(binary.BigEndian.Uint32(b))
	default:
		return nil, false
	}
	b, ok := r.take(n)
	if !ok {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, b)
	return out, true
}

func (r *mpReader) readMapStrStr() (map[string]string, bool) {
	tag, ok := r.readByte()
	if !ok {
		return nil, false
	}
	var n int
	switch {
	case tag&0xf0 == mpFixmapMask:
		n = int(tag & mpFixmapMax)
	case tag == mpMap16:
		b, ok := r.take(2)
		if !ok {
			return nil, false
		}
		n = int(binary.BigEndian.Uint16(b))
	case tag == mpMap32:
		b, ok := r.take(4)
		if !ok {
			return nil, false
		}
		n = int(binary.BigEndian.Uint32(b))
	default:
		return nil, false
	}
	m := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k, ok := r.readStr()
		if !ok {
			return nil, false
		}
		v, ok := r.readStr()
		if !ok {
			return nil, false
		}
		m[k] = v
	}
	return m, true
}
