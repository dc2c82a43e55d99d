package packet

import (
	"encoding/binary"

	"golang.org/x/text/encoding/korean"
)

// Writer builds an outgoing payload. All multi-byte writes are
// little-endian; strings are 2-byte length-prefixed EUC-KR.
type Writer struct {
	buf []byte
}

func NewWriter(op uint16) *Writer {
	w := &Writer{buf: make([]byte, 0, 64)}
	w.WriteShort(int16(op))
	return w
}

// WriteByte writes 1 byte.
func (w *Writer) WriteByte(v byte) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

// WriteShort writes 2 bytes little-endian.
func (w *Writer) WriteShort(v int16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	w.buf = append(w.buf, b[:]...)
}

// WriteInt writes 4 bytes little-endian.
func (w *Writer) WriteInt(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

// WriteLong writes 8 bytes little-endian.
func (w *Writer) WriteLong(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

// WriteString writes a 2-byte length-prefixed string, converting
// UTF-8 to EUC-KR. Pure ASCII is written as-is.
func (w *Writer) WriteString(s string) {
	encoded := []byte(s)
	if !isASCII(s) {
		if out, err := korean.EUCKR.NewEncoder().Bytes([]byte(s)); err == nil {
			encoded = out
		}
	}
	w.WriteShort(int16(len(encoded)))
	w.buf = append(w.buf, encoded...)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes returns the accumulated payload, op tag included.
func (w *Writer) Bytes() []byte {
	return w.buf
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
