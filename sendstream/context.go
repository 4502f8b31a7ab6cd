// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"time"

	"github.com/danjacques/gosendstream/support/byteslicereader"
	"github.com/danjacques/gosendstream/support/dataio"
	"github.com/danjacques/gosendstream/support/logging"

	"github.com/pkg/errors"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Context owns the source and destination of an upgrade, along with the
// versions being translated between and the Stats gathered so far.
//
// A root Context streams to and from real I/O. A child Context, created with
// NewChild or WithChild, reads from and writes to in-memory slices and is
// used to process a single element without touching the real streams. A
// child's Stats start at zero and are added to its parent's when it is
// returned.
//
// A Context is not safe for concurrent use.
type Context struct {
	// Options are the transformation options. They are shared with children.
	Options *Options
	// Logger is the logger to use. It is shared with children.
	Logger logging.L

	// Root I/O.
	r *bufio.Reader
	w *bufio.Writer

	// Child I/O.
	src    *byteslicereader.R
	dst    []byte
	hasDst bool

	readOffset  int
	writeOffset int

	srcVersion Version
	dstVersion Version

	stats Stats

	child       bool
	outstanding int
}

// NewContext creates a root Context over r and w.
//
// Either may be nil, in which case reads (or writes) fail. The destination
// is buffered; call Flush to push buffered bytes to w.
func NewContext(opts *Options, l logging.L, r io.Reader, w io.Writer) *Context {
	if opts == nil {
		opts = DefaultOptions()
	}
	c := Context{
		Options: opts,
		Logger:  logging.Must(l),
	}
	if r != nil {
		c.r = bufio.NewReaderSize(r, bufferSize(opts.ReadBufferSize, DefaultReadBufferSize))
	}
	if w != nil {
		c.w = bufio.NewWriterSize(w, bufferSize(opts.WriteBufferSize, DefaultWriteBufferSize))
	}
	return &c
}

func bufferSize(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// WriteBufferSize returns the size of the destination buffer, or 0 if the
// Context has no root destination.
func (c *Context) WriteBufferSize() int {
	if c.w == nil {
		return 0
	}
	return c.w.Size()
}

// ReadBufferSize returns the size of the source buffer, or 0 if the Context
// has no root source.
func (c *Context) ReadBufferSize() int {
	if c.r == nil {
		return 0
	}
	return c.r.Size()
}

// SetVersions sets the source and destination versions.
func (c *Context) SetVersions(src, dst Version) {
	c.srcVersion, c.dstVersion = src, dst
}

// SourceVersion returns the version of the data being read.
func (c *Context) SourceVersion() (Version, error) {
	if c.srcVersion == VersionUnset {
		return VersionUnset, ErrSourceVersionNotSet
	}
	return c.srcVersion, nil
}

// DestinationVersion returns the version of the data being written.
func (c *Context) DestinationVersion() (Version, error) {
	if c.dstVersion == VersionUnset {
		return VersionUnset, ErrDestinationVersionNotSet
	}
	return c.dstVersion, nil
}

// ReadOffset returns the number of bytes read so far.
func (c *Context) ReadOffset() int { return c.readOffset }

// WriteOffset returns the number of bytes written so far.
func (c *Context) WriteOffset() int { return c.writeOffset }

// ReadLen returns the total length of the source. It is only known for
// in-memory sources.
func (c *Context) ReadLen() (int, error) {
	if c.src == nil {
		return 0, errors.New("attempted to get the length of a non-buffer source")
	}
	return len(c.src.Buffer), nil
}

// Stats returns a snapshot of the Context's statistics.
func (c *Context) Stats() Stats { return c.stats }

// TakeStats returns the Context's statistics and resets them to zero.
func (c *Context) TakeStats() Stats {
	s := c.stats
	c.stats = Stats{}
	return s
}

// SplitSource returns a root Context that reads from c's source and keeps
// its own Stats, so that it can be used on another goroutine. c must not
// read again while the returned Context is in use.
func (c *Context) SplitSource() *Context {
	return &Context{
		Options:    c.Options,
		Logger:     c.Logger,
		r:          c.r,
		readOffset: c.readOffset,
		srcVersion: c.srcVersion,
		dstVersion: c.dstVersion,
	}
}

// AddStats adds external statistics into this Context's.
func (c *Context) AddStats(s *Stats) { c.stats.Add(s) }

// Read fills buf from the source, stopping early only at the end of the
// source. It returns the number of bytes read.
func (c *Context) Read(buf []byte) (int, error) {
	start := time.Now()
	var (
		amt int
		err error
	)
	switch {
	case c.src != nil:
		amt, err = dataio.ReadFill(c.src, buf)
		c.stats.BufferReadTime += time.Since(start)
	case c.r != nil:
		amt, err = dataio.ReadFill(c.r, buf)
		c.stats.StorageReadTime += time.Since(start)
		c.stats.ReadsIssued++
		c.stats.BytesRead += uint64(amt)
	default:
		return 0, errors.New("context has no source")
	}
	c.readOffset += amt
	if err != nil {
		return amt, errors.Wrap(err, "reading from source")
	}
	return amt, nil
}

// ReadSome performs a single read from the source, returning whatever is
// available. Unlike Read, it does not wait for buf to fill, and it returns
// io.EOF unwrapped at the end of the source.
func (c *Context) ReadSome(buf []byte) (int, error) {
	start := time.Now()
	var (
		amt int
		err error
	)
	switch {
	case c.src != nil:
		amt, err = c.src.Read(buf)
		c.stats.BufferReadTime += time.Since(start)
	case c.r != nil:
		amt, err = c.r.Read(buf)
		c.stats.StorageReadTime += time.Since(start)
		c.stats.ReadsIssued++
		c.stats.BytesRead += uint64(amt)
	default:
		return 0, errors.New("context has no source")
	}
	c.readOffset += amt
	switch {
	case err == io.EOF:
		return amt, io.EOF
	case err != nil:
		return amt, errors.Wrap(err, "reading from source")
	}
	return amt, nil
}

// ReadExact reads exactly len(buf) bytes from the source.
func (c *Context) ReadExact(buf []byte) error {
	amt, err := c.Read(buf)
	if err != nil {
		return err
	}
	if amt != len(buf) {
		return errors.Errorf("failed to read %d bytes, instead read %d bytes", len(buf), amt)
	}
	return nil
}

// Read16 reads a little-endian uint16.
func (c *Context) Read16() (uint16, error) {
	var b [2]byte
	if err := c.ReadExact(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// Read32 reads a little-endian uint32.
func (c *Context) Read32() (uint32, error) {
	var b [4]byte
	if err := c.ReadExact(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// Write writes buf to the destination. uncompressed is the logical length
// that buf represents: a shorter buf is a compressed write, an equal buf is an
// uncompressed write, and a longer buf is an error.
func (c *Context) Write(buf []byte, uncompressed int) error {
	if len(buf) > uncompressed {
		return errors.Errorf("writing %dB exceeds logical length %dB", len(buf), uncompressed)
	}

	start := time.Now()
	switch {
	case c.hasDst:
		if c.writeOffset+len(buf) > len(c.dst) {
			return errors.Errorf("writing %dB at offset %d overflows %dB destination buffer",
				len(buf), c.writeOffset, len(c.dst))
		}
		copy(c.dst[c.writeOffset:], buf)
		c.stats.BufferWriteTime += time.Since(start)
		c.stats.BytesCopied += uint64(len(buf))

	case c.w != nil:
		if _, err := c.w.Write(buf); err != nil {
			return errors.Wrap(err, "writing to destination")
		}
		c.stats.StorageWriteTime += time.Since(start)
		storageBytesWritten.Add(float64(len(buf)))
		storageLogicalBytesWritten.Add(float64(uncompressed))

	default:
		return errors.New("context has no destination")
	}

	c.writeOffset += len(buf)
	if len(buf) < uncompressed {
		c.stats.CompressedBytesWritten += uint64(len(buf))
		c.stats.CompressedWritesIssued++
	} else {
		c.stats.UncompressedBytesWritten += uint64(len(buf))
		c.stats.UncompressedWritesIssued++
	}
	c.stats.LogicalBytesWritten += uint64(uncompressed)
	return nil
}

// Write16 writes a little-endian uint16.
func (c *Context) Write16(v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return c.Write(b[:], len(b))
}

// Write32 writes a little-endian uint32.
func (c *Context) Write32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return c.Write(b[:], len(b))
}

// Write64 writes a little-endian uint64.
func (c *Context) Write64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return c.Write(b[:], len(b))
}

// Flush pushes buffered destination bytes to the underlying writer.
func (c *Context) Flush() error {
	if c.w == nil {
		return nil
	}
	start := time.Now()
	err := c.w.Flush()
	c.stats.StorageWriteTime += time.Since(start)
	return errors.Wrap(err, "flushing destination")
}

// CRC32C returns the Castagnoli checksum of buf.
func (c *Context) CRC32C(buf []byte) uint32 {
	start := time.Now()
	sum := crc32.Checksum(buf, castagnoli)
	c.stats.CRC32CTime += time.Since(start)
	c.stats.CRC32CBytes += uint64(len(buf))
	return sum
}

// NewChild creates a child Context reading from src and writing into dst.
// Either may be nil. The child must be handed back with Return.
func (c *Context) NewChild(src, dst []byte, srcVersion, dstVersion Version) (*Context, error) {
	if !srcVersion.Valid() {
		return nil, ErrSourceVersionNotSet
	}
	if !dstVersion.Valid() {
		return nil, ErrDestinationVersionNotSet
	}

	start := time.Now()
	child := Context{
		Options:    c.Options,
		Logger:     c.Logger,
		srcVersion: srcVersion,
		dstVersion: dstVersion,
		child:      true,
	}
	if src != nil {
		child.src = &byteslicereader.R{Buffer: src}
	}
	if dst != nil {
		child.dst, child.hasDst = dst, true
	}
	c.outstanding++
	c.stats.ContextCreateTime += time.Since(start)
	return &child, nil
}

// Return folds child's Stats into c. child must not be used afterwards.
func (c *Context) Return(child *Context) {
	start := time.Now()
	if child.outstanding > 0 {
		c.Logger.Errorf("Returning a context with %d outstanding children.", child.outstanding)
	}
	c.stats.Add(&child.stats)
	child.stats = Stats{}
	c.outstanding--
	c.stats.ContextReturnTime += time.Since(start)
}

// WithChild runs fn against a child Context and returns the child to c
// when fn completes, successfully or not.
func (c *Context) WithChild(src, dst []byte, srcVersion, dstVersion Version, fn func(*Context) error) error {
	child, err := c.NewChild(src, dst, srcVersion, dstVersion)
	if err != nil {
		return err
	}
	defer c.Return(child)
	return fn(child)
}

// Close flushes the destination and reports children that were never
// returned.
func (c *Context) Close() error {
	if c.outstanding != 0 {
		c.Logger.Errorf("Closing a context with %d outstanding children.", c.outstanding)
	}
	return c.Flush()
}
