// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"io"
	"sync"

	"github.com/danjacques/gosendstream/support/bufferpool"

	"github.com/pkg/errors"
)

// DefaultMaxCachedBuffers is the default number of buffers a
// ReadOnceBufferCache holds at once.
const DefaultMaxCachedBuffers = 1000

type cacheEntry struct {
	buf      *bufferpool.Buffer
	filled   int
	consumed int
	complete bool
}

func (e *cacheEntry) drained() bool { return e.complete && e.consumed == e.filled }

// ReadOnceBufferCache offers random access to a sequential window of a
// stream, on the condition that every byte is read exactly once.
//
// A single prefetcher fills fixed-size buffers from the stream, blocking
// while the cache is full. Bytes are published to readers as soon as the
// stream returns them, so a reader never waits for a buffer to fill. Any
// number of readers copy byte ranges out of the cache, blocking until the
// bytes they need have been fetched. A buffer is released back to its pool
// once it is complete and all of its bytes have been read.
//
// Offsets are relative to the first byte the prefetcher reads. Once SetEnd
// is called, the prefetcher stops at that offset instead of waiting for the
// stream to end.
//
// The cache must be able to hold every buffer touched by outstanding reads.
// Readers that skip bytes will leave their buffers pinned forever.
type ReadOnceBufferCache struct {
	pool       bufferpool.Pool
	maxBuffers int

	mu           sync.Mutex
	readerCond   sync.Cond
	prefetchCond sync.Cond

	entries map[int]*cacheEntry
	nextKey int
	fetched int
	end     int
	state   State
}

// NewReadOnceBufferCache returns a cache of maxBuffers buffers of bufferSize
// bytes each.
func NewReadOnceBufferCache(bufferSize, maxBuffers int) (*ReadOnceBufferCache, error) {
	if bufferSize <= 0 {
		return nil, errors.Errorf("invalid buffer size %d", bufferSize)
	}
	if maxBuffers <= 0 {
		return nil, errors.Errorf("invalid maximum buffer count %d", maxBuffers)
	}
	c := ReadOnceBufferCache{
		pool:       bufferpool.Pool{Size: bufferSize},
		maxBuffers: maxBuffers,
		entries:    make(map[int]*cacheEntry),
		end:        -1,
	}
	c.readerCond.L = &c.mu
	c.prefetchCond.L = &c.mu
	return &c, nil
}

// Name implements Haltable.
func (c *ReadOnceBufferCache) Name() string { return "buffer cache" }

// State implements Haltable.
func (c *ReadOnceBufferCache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cached returns the number of buffers currently held.
func (c *ReadOnceBufferCache) Cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SetEnd marks offset end as the end of the useful stream. The prefetcher
// reads nothing past it.
func (c *ReadOnceBufferCache) SetEnd(end int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.end = end
	c.prefetchCond.Broadcast()
}

// ReachedEnd reports whether every byte up to the offset given to SetEnd has
// been fetched. A prefetcher still running at that point is only waiting on
// the stream and has nothing left to deliver.
func (c *ReadOnceBufferCache) ReachedEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.end >= 0 && c.fetched >= c.end
}

// ReadExact fills buf with the bytes starting at offset, blocking until they
// have been fetched.
func (c *ReadOnceBufferCache) ReadExact(buf []byte, offset int) error {
	size := c.pool.Size
	for done := 0; done < len(buf); {
		pos := offset + done
		amt, err := c.readFromBuffer(pos/size, pos%size, buf[done:])
		if err != nil {
			return err
		}
		if amt == 0 {
			return errors.Errorf("no bytes available at offset %d", pos)
		}
		if err := c.consume(pos/size, amt); err != nil {
			return err
		}
		done += amt
	}
	return nil
}

func (c *ReadOnceBufferCache) readFromBuffer(key, offset int, dst []byte) (int, error) {
	c.mu.Lock()
	for c.state == StateRunning {
		if e, ok := c.entries[key]; ok && (offset < e.filled || e.complete) {
			break
		}
		if key < c.nextKey {
			if _, ok := c.entries[key]; !ok {
				break
			}
		}
		c.readerCond.Wait()
	}
	if c.state == StateAborted {
		c.mu.Unlock()
		return 0, errors.Wrap(ErrAborted, "reading from buffer cache")
	}
	e, ok := c.entries[key]
	switch {
	case !ok && key < c.nextKey:
		c.mu.Unlock()
		return 0, errors.Errorf("buffer %d was already consumed", key)
	case !ok:
		c.mu.Unlock()
		return 0, errors.Errorf("unexpected end of stream reading buffer %d", key)
	case offset >= e.filled:
		filled := e.filled
		c.mu.Unlock()
		return 0, errors.Errorf("offset %d is beyond the %dB of buffer %d", offset, filled, key)
	}
	data := e.buf.Window(offset, e.filled)
	e.buf.Retain()
	c.mu.Unlock()

	defer e.buf.Release()
	return copy(dst, data), nil
}

func (c *ReadOnceBufferCache) consume(key, amt int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return errors.Errorf("consuming missing buffer %d", key)
	}
	if e.consumed+amt > e.filled {
		return errors.Errorf("consuming %dB overflows the %dB left in buffer %d",
			amt, e.filled-e.consumed, key)
	}
	e.consumed += amt
	c.dropIfDrained(key, e)
	return nil
}

func (c *ReadOnceBufferCache) dropIfDrained(key int, e *cacheEntry) {
	if !e.drained() {
		return
	}
	delete(c.entries, key)
	e.buf.Release()
	c.prefetchCond.Broadcast()
}

// Prefetch reads r into the cache until r is exhausted, the end set by
// SetEnd is reached, or the cache is halted. The first two mark the cache
// done.
//
// Only one goroutine may call Prefetch.
func (c *ReadOnceBufferCache) Prefetch(r io.Reader) error {
	for {
		c.mu.Lock()
		for len(c.entries) >= c.maxBuffers && c.state == StateRunning {
			c.prefetchCond.Wait()
		}
		switch c.state {
		case StateAborted:
			c.mu.Unlock()
			return errors.Wrap(ErrAborted, "prefetching")
		case StateDone:
			c.mu.Unlock()
			return nil
		}
		key := c.nextKey
		if c.end >= 0 && key*c.pool.Size >= c.end {
			c.state = StateDone
			c.readerCond.Broadcast()
			c.mu.Unlock()
			return nil
		}
		e := cacheEntry{buf: c.pool.Get()}
		c.entries[key] = &e
		c.nextKey++
		c.mu.Unlock()

		more, err := c.fill(key, &e, r)
		if err != nil || !more {
			return err
		}
	}
}

// fill reads into a single entry until it is full, r ends, or the end of the
// useful stream is reached. It returns false when prefetching should stop.
func (c *ReadOnceBufferCache) fill(key int, e *cacheEntry, r io.Reader) (bool, error) {
	base := key * c.pool.Size
	c.mu.Lock()
	limit := c.limit(base)
	c.mu.Unlock()
	for {
		// Only the prefetcher writes past e.filled, so the buffer's tail may
		// be filled without the lock.
		amt, err := e.buf.ReadSome(r, limit)

		c.mu.Lock()
		limit = c.limit(base)
		if e.filled+amt > limit {
			// Bytes past the end are never read.
			amt = max(limit-e.filled, 0)
		}
		e.filled += amt
		c.fetched += amt
		bytesPrefetched.Add(float64(amt))

		more := true
		switch {
		case c.state == StateAborted:
			e.complete, more = true, false
			err = errors.Wrap(ErrAborted, "prefetching")
		case c.state == StateDone:
			// Halted while filling; nothing more will be read.
			e.complete, more, err = true, false, nil
		case err == io.EOF:
			e.complete, more, err = true, false, nil
			c.state = StateDone
		case err != nil:
			e.complete, more = true, false
			err = errors.Wrapf(err, "filling buffer %d", key)
		case e.filled >= limit:
			e.complete = true
		}
		if e.complete {
			c.dropIfDrained(key, e)
		}
		c.readerCond.Broadcast()
		c.mu.Unlock()

		if e.complete {
			return more, err
		}
	}
}

// limit returns how many bytes of the buffer starting at base may be filled.
func (c *ReadOnceBufferCache) limit(base int) int {
	if c.end >= 0 && c.end-base < c.pool.Size {
		return max(c.end-base, 0)
	}
	return c.pool.Size
}

// Halt implements Haltable.
//
// A done cache may still be aborted, but an aborted cache cannot become
// done. Halting releases nothing; buffers still held are released as they
// are read or dropped with the cache.
func (c *ReadOnceBufferCache) Halt(unplanned bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAborted && !unplanned {
		return errors.New("transitioning buffer cache from aborted to done")
	}
	if unplanned {
		c.state = StateAborted
	} else {
		c.state = StateDone
	}
	c.readerCond.Broadcast()
	c.prefetchCond.Broadcast()
	return nil
}
