// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package byteslicereader offers R, a reader over an in-memory slice that can
// hand out sub-slices without copying.
//
// Slices returned by Next alias R's Buffer. They stay valid only as long as
// the Buffer is not reused.
package byteslicereader

import (
	"io"
)

// R reads from Buffer.
//
// R can be copied, creating a snapshot of its current position.
type R struct {
	// Buffer is the backing buffer for this reader.
	Buffer []byte

	pos int
}

var _ interface {
	io.Reader
	io.ByteReader
} = (*R)(nil)

func (r *R) remainingSlice() []byte {
	if r.pos >= len(r.Buffer) {
		return nil
	}
	return r.Buffer[r.pos:]
}

// Offset returns the number of bytes consumed so far.
func (r *R) Offset() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *R) Remaining() int { return len(r.remainingSlice()) }

// Read implements io.Reader. It returns io.EOF alongside the read that
// exhausts Buffer.
func (r *R) Read(b []byte) (amt int, err error) {
	amt = copy(b, r.remainingSlice())
	r.pos += amt
	if r.pos >= len(r.Buffer) {
		err = io.EOF
	}
	return
}

// ReadByte implements io.ByteReader.
func (r *R) ReadByte() (byte, error) {
	if r.pos >= len(r.Buffer) {
		return 0, io.EOF
	}
	b := r.Buffer[r.pos]
	r.pos++
	return b, nil
}

// Next returns the next n bytes of Buffer without copying and advances past
// them.
//
// If fewer than n bytes remain, Next returns what is left along with io.EOF.
func (r *R) Next(n int) (v []byte, err error) {
	v = r.remainingSlice()
	if n < len(v) {
		v = v[:n]
	} else if n > len(v) {
		err = io.EOF
	}
	r.pos += len(v)
	return
}

// Reset points r at buf, rewinding it to the start.
func (r *R) Reset(buf []byte) {
	r.Buffer, r.pos = buf, 0
}
