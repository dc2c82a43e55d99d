package packet

import (
	"encoding/binary"

	"golang.org/x/text/encoding/korean"
)

// Reader decodes typed fields from a framed payload. Bytes 0-1 are
// always the operation tag. All multi-byte reads are little-endian.
// Short reads yield zero values rather than panics; handlers validate
// semantics, not framing.
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data, off: 2} // skip op tag
}

func (r *Reader) Op() uint16 {
	if len(r.data) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(r.data)
}

// ReadByte reads 1 unsigned byte.
func (r *Reader) ReadByte() byte {
	if r.off >= len(r.data) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *Reader) ReadBool() bool {
	return r.ReadByte() != 0
}

// ReadShort reads 2 bytes little-endian.
func (r *Reader) ReadShort() int16 {
	if r.off+2 > len(r.data) {
		return 0
	}
	v := int16(binary.LittleEndian.Uint16(r.data[r.off:]))
	r.off += 2
	return v
}

// ReadInt reads 4 bytes little-endian.
func (r *Reader) ReadInt() int32 {
	if r.off+4 > len(r.data) {
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(r.data[r.off:]))
	r.off += 4
	return v
}

// ReadLong reads 8 bytes little-endian.
func (r *Reader) ReadLong() int64 {
	if r.off+8 > len(r.data) {
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(r.data[r.off:]))
	r.off += 8
	return v
}

// ReadString reads a 2-byte length-prefixed EUC-KR string as UTF-8.
func (r *Reader) ReadString() string {
	n := int(uint16(r.ReadShort()))
	raw := r.ReadBytes(n)
	return eucKRToUTF8(raw)
}

// ReadBytes reads n raw bytes, clamped to what remains.
func (r *Reader) ReadBytes(n int) []byte {
	if r.off+n > len(r.data) {
		remaining := r.data[r.off:]
		r.off = len(r.data)
		return remaining
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// eucKRToUTF8 converts EUC-KR bytes to a UTF-8 string. Pure ASCII
// passes through untouched.
func eucKRToUTF8(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	allASCII := true
	for _, b := range raw {
		if b >= 0x80 {
			allASCII = false
			break
		}
	}
	if allASCII {
		return string(raw)
	}
	decoded, err := korean.EUCKR.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}
