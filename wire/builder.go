package wire

import (
	"bytes"
	"encoding/binary"
)

// Builder assembles one packet in a reusable scratch buffer.
//
// Start clears the buffer and writes a length placeholder and the command byte.
// The Append methods add fields in wire order. Bytes patches the length prefix
// and returns a copy of the finished packet.
//
// The zero value is ready to use. A Builder is not safe for concurrent use.
type Builder struct {
	buf []byte
}

// Start begins a new packet with command byte code.
func (b *Builder) Start(code byte) {
	b.buf = append(b.buf[:0], 0, 0, 0, 0, code)
}

// AppendByte appends a single byte.
func (b *Builder) AppendByte(c byte) {
	b.buf = append(b.buf, c)
}

// AppendUint16 appends val big endian.
func (b *Builder) AppendUint16(val uint16) {
	b.buf = AppendUint16(b.buf, val)
}

// AppendUint32 appends val big endian.
func (b *Builder) AppendUint32(val uint32) {
	b.buf = AppendUint32(b.buf, val)
}

// AppendCString appends s and a terminating null-byte.
func (b *Builder) AppendCString(s string) {
	b.buf = AppendCString(b.buf, s)
}

// AppendString appends s without terminator.
func (b *Builder) AppendString(s string) {
	b.buf = append(b.buf, s...)
}

// AppendBytes appends raw bytes.
func (b *Builder) AppendBytes(data []byte) {
	b.buf = append(b.buf, data...)
}

// Len returns the number of bytes after the length prefix (command byte included).
func (b *Builder) Len() int {
	if len(b.buf) < LengthSize {
		return 0
	}
	return len(b.buf) - LengthSize
}

// Bytes finishes the packet. The returned slice is owned by the caller.
func (b *Builder) Bytes() []byte {
	if len(b.buf) < LengthSize+1 {
		return nil
	}
	binary.BigEndian.PutUint32(b.buf, uint32(len(b.buf)-LengthSize))
	return bytes.Clone(b.buf)
}
