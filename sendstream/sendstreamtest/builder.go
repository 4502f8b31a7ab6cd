// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package sendstreamtest builds send streams for tests.
package sendstreamtest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/danjacques/gosendstream/sendstream"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Attr is a raw attribute.
type Attr struct {
	Type  sendstream.AttributeType
	Value []byte
}

// String returns a string attribute.
func String(at sendstream.AttributeType, s string) Attr { return Attr{at, []byte(s)} }

// U64 returns a little-endian uint64 attribute.
func U64(at sendstream.AttributeType, v uint64) Attr {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return Attr{at, b[:]}
}

// U32 returns a little-endian uint32 attribute.
func U32(at sendstream.AttributeType, v uint32) Attr {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return Attr{at, b[:]}
}

// Bytes returns a raw attribute.
func Bytes(at sendstream.AttributeType, v []byte) Attr { return Attr{at, v} }

// EncodeCommand returns the serialized form of a command at version v,
// including a valid checksum. DATA attributes are written without a length
// from version 2 on.
func EncodeCommand(v sendstream.Version, ct sendstream.CommandType, attrs ...Attr) []byte {
	var payload bytes.Buffer
	for _, a := range attrs {
		_ = binary.Write(&payload, binary.LittleEndian, uint16(a.Type))
		if !(a.Type == sendstream.AttrData && v >= sendstream.V2) {
			_ = binary.Write(&payload, binary.LittleEndian, uint16(len(a.Value)))
		}
		payload.Write(a.Value)
	}

	buf := make([]byte, sendstream.CommandHeaderSize+payload.Len())
	binary.LittleEndian.PutUint32(buf[0:4], uint32(payload.Len()))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(ct))
	copy(buf[sendstream.CommandHeaderSize:], payload.Bytes())
	binary.LittleEndian.PutUint32(buf[6:10], crc32.Checksum(buf, castagnoli))
	return buf
}

// EncodeCommandHeader returns a bare command header. The payload it
// announces is not included.
func EncodeCommandHeader(size uint32, ct sendstream.CommandType, crc uint32) []byte {
	buf := make([]byte, sendstream.CommandHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], size)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(ct))
	binary.LittleEndian.PutUint32(buf[6:10], crc)
	return buf
}

// EncodeHeader returns a stream header for version v.
func EncodeHeader(v sendstream.Version) []byte {
	buf := make([]byte, sendstream.StreamHeaderSize)
	copy(buf, sendstream.StreamMagic)
	binary.LittleEndian.PutUint32(buf[len(sendstream.StreamMagic):], uint32(v))
	return buf
}

// Builder assembles a stream.
type Builder struct {
	v   sendstream.Version
	buf bytes.Buffer
}

// NewBuilder returns a Builder that has written a stream header for v.
func NewBuilder(v sendstream.Version) *Builder {
	b := Builder{v: v}
	b.buf.Write(EncodeHeader(v))
	return &b
}

// Command appends a command.
func (b *Builder) Command(ct sendstream.CommandType, attrs ...Attr) *Builder {
	b.buf.Write(EncodeCommand(b.v, ct, attrs...))
	return b
}

// Raw appends arbitrary bytes.
func (b *Builder) Raw(data []byte) *Builder {
	b.buf.Write(data)
	return b
}

// Mkfile appends a MKFILE command.
func (b *Builder) Mkfile(path string, ino uint64) *Builder {
	return b.Command(sendstream.CmdMkfile,
		String(sendstream.AttrPath, path),
		U64(sendstream.AttrIno, ino))
}

// Write appends a WRITE command.
func (b *Builder) Write(path string, offset uint64, data []byte) *Builder {
	return b.Command(sendstream.CmdWrite,
		String(sendstream.AttrPath, path),
		U64(sendstream.AttrFileOffset, offset),
		Bytes(sendstream.AttrData, data))
}

// Chmod appends a CHMOD command.
func (b *Builder) Chmod(path string, mode uint64) *Builder {
	return b.Command(sendstream.CmdChmod,
		String(sendstream.AttrPath, path),
		U64(sendstream.AttrMode, mode))
}

// End appends an END command.
func (b *Builder) End() *Builder { return b.Command(sendstream.CmdEnd) }

// Bytes returns the stream built so far.
func (b *Builder) Bytes() []byte { return append([]byte(nil), b.buf.Bytes()...) }

// Repeat returns n copies of v.
func Repeat(v byte, n int) []byte { return bytes.Repeat([]byte{v}, n) }

// Pseudorandom returns n bytes from a fixed xorshift sequence. The bytes do
// not compress.
func Pseudorandom(seed uint64, n int) []byte {
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	out := make([]byte, n)
	for i := range out {
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		out[i] = byte(seed >> 32)
	}
	return out
}
