// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bufferpool recycles fixed-size, reference-counted byte buffers.
package bufferpool

import (
	"io"
	"sync"
	"sync/atomic"
)

// Pool hands out Buffers of Size bytes, reusing released ones.
type Pool struct {
	// Size is the capacity of the buffers in this pool.
	Size int

	base        sync.Pool
	outstanding int64
}

// Get returns a Buffer with a reference count of 1 and no content.
//
// The caller returns it to the pool by calling Release.
func (bp *Pool) Get() *Buffer {
	b, ok := bp.base.Get().(*Buffer)
	if !ok || len(b.bytes) != bp.Size {
		b = &Buffer{bytes: make([]byte, bp.Size)}
	}
	b.pool = bp
	b.size = 0
	b.refcount = 1
	atomic.AddInt64(&bp.outstanding, 1)
	return b
}

// Outstanding returns the number of Buffers that have been handed out and
// not yet released.
func (bp *Pool) Outstanding() int { return int(atomic.LoadInt64(&bp.outstanding)) }

func (bp *Pool) put(b *Buffer) {
	atomic.AddInt64(&bp.outstanding, -1)
	bp.base.Put(b)
}

// Buffer is a pooled byte buffer.
//
// Buffer is reference counted. When the last reference is released, it
// returns to its Pool. Dropping a Buffer without releasing it is not a leak,
// but it will not be reused.
type Buffer struct {
	refcount int64

	bytes []byte
	size  int

	pool *Pool
}

// Bytes returns the filled part of the buffer.
func (b *Buffer) Bytes() []byte { return b.bytes[:b.size] }

// Len returns the number of filled bytes.
func (b *Buffer) Len() int { return b.size }

// Cap returns the buffer's capacity.
func (b *Buffer) Cap() int { return len(b.bytes) }

// ReadSome appends the result of a single Read of r to the buffer's content,
// without growing it past limit bytes. It returns the number of bytes added
// and any error from r, including io.EOF.
func (b *Buffer) ReadSome(r io.Reader, limit int) (int, error) {
	if limit > len(b.bytes) {
		limit = len(b.bytes)
	}
	if b.size >= limit {
		return 0, nil
	}
	amt, err := r.Read(b.bytes[b.size:limit])
	b.size += amt
	return amt, err
}

// Window returns bytes [from, to) of the buffer's storage without consulting
// its filled length. It lets readers see content that a concurrent ReadSome
// has already published to them by other means.
func (b *Buffer) Window(from, to int) []byte { return b.bytes[from:to] }

// Retain adds a reference. It must be matched by a Release.
func (b *Buffer) Retain() { atomic.AddInt64(&b.refcount, 1) }

// Release drops a reference, returning the buffer to its pool when none
// remain.
//
// Release is safe for concurrent use.
func (b *Buffer) Release() {
	if atomic.AddInt64(&b.refcount, -1) != 0 {
		return
	}
	var pool *Pool
	pool, b.pool = b.pool, nil
	if pool != nil {
		pool.put(b)
	}
}
