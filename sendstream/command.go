// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"bytes"
	"fmt"

	"github.com/danjacques/gosendstream/support/fmtutil"

	"github.com/pkg/errors"
)

// Command is a single send stream command: a CommandHeader followed by a
// sequence of attributes.
//
// A Command holds its complete serialized form in an owned buffer. Commands
// carrying data also cache their PATH, FILE_OFFSET, and DATA attributes so
// that contiguous writes can be coalesced. A coalesced Command is "dirty":
// its buffer is stale until it is flushed.
type Command struct {
	header CommandHeader
	buf    []byte

	data            *Attribute
	dataInitialSize int
	dirty           bool

	path    string
	hasPath bool

	startOffset    int
	hasStartOffset bool

	uncompressedSize int
	version          Version
}

// ReadCommand reads a Command from c's source.
func ReadCommand(c *Context) (*Command, error) {
	h, err := ReadCommandHeader(c)
	if err != nil {
		return nil, err
	}
	return NewCommandFromHeader(c, h)
}

// ReadCommandFrom reads a Command from raw, which must hold exactly one
// serialized command at c's source version.
func ReadCommandFrom(c *Context, raw []byte) (cmd *Command, err error) {
	src, err := c.SourceVersion()
	if err != nil {
		return nil, err
	}
	err = c.WithChild(raw, nil, src, src, func(sc *Context) error {
		if cmd, err = ReadCommand(sc); err != nil {
			return err
		}
		if sc.ReadOffset() != len(raw) {
			return errors.Errorf("%dB of trailing data after %s", len(raw)-sc.ReadOffset(), cmd)
		}
		return nil
	})
	return
}

// NewCommandFromHeader reads the payload described by h from c's source and
// builds a Command from it.
func NewCommandFromHeader(c *Context, h CommandHeader) (*Command, error) {
	version, err := c.SourceVersion()
	if err != nil {
		return nil, err
	}
	payloadSize, err := h.PayloadSize()
	if err != nil {
		return nil, err
	}
	if err := c.Options.CheckCommandSize(payloadSize); err != nil {
		decodeErrors.WithLabelValues("size").Inc()
		return nil, errors.Wrapf(err, "reading %s", &h)
	}

	cmd := Command{
		header:           h,
		buf:              make([]byte, CommandHeaderSize+payloadSize),
		uncompressedSize: CommandHeaderSize + payloadSize,
		version:          version,
	}
	if err := c.ReadExact(cmd.buf[CommandHeaderSize:]); err != nil {
		return nil, errors.Wrapf(err, "reading payload of %s", &h)
	}

	err = c.WithChild(cmd.buf[CommandHeaderSize:], nil, version, version, func(sc *Context) error {
		return walkAttributes(sc, func(a *Attribute) error {
			if cmd.data != nil {
				return errors.New("data attribute must be set last")
			}
			return cmd.cacheAttribute(a)
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "parsing attributes of %s", &h)
	}

	if !c.Options.AvoidCRCingInput {
		if err := c.WithChild(nil, cmd.buf, version, version, func(sc *Context) error {
			return h.Persist(sc, true)
		}); err != nil {
			return nil, err
		}
		if computed := c.CRC32C(cmd.buf); computed != h.CRC {
			decodeErrors.WithLabelValues("crc32c").Inc()
			return nil, errors.Errorf("mismatch between stored CRC32C %#08x and computed CRC32C %#08x for %s",
				h.CRC, computed, &h)
		}
	}
	if err := c.WithChild(nil, cmd.buf, version, version, func(sc *Context) error {
		return h.Persist(sc, false)
	}); err != nil {
		return nil, err
	}

	c.stats.CommandsRead++
	commandsRead.WithLabelValues(h.Type.String()).Inc()
	if err := cmd.Verify(c); err != nil {
		return nil, err
	}
	c.Logger.Debugf("New command: %s", &cmd)
	return &cmd, nil
}

// walkAttributes reads attributes from sc until its source is exhausted.
func walkAttributes(sc *Context, fn func(*Attribute) error) error {
	total, err := sc.ReadLen()
	if err != nil {
		return err
	}
	for sc.ReadOffset() < total {
		a, err := ReadAttribute(sc)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *Command) cacheAttribute(a *Attribute) error {
	switch {
	case a.IsPath():
		cmd.path, cmd.hasPath = a.PayloadString(), true
	case a.IsFileOffset():
		v, err := a.PayloadU64()
		if err != nil {
			return err
		}
		cmd.startOffset, cmd.hasStartOffset = int(v), true
	case a.IsData():
		cmd.data, cmd.dataInitialSize = a, a.Size()
	}
	return nil
}

// Header returns the command's header.
func (cmd *Command) Header() CommandHeader { return cmd.header }

// Type returns the command's type.
func (cmd *Command) Type() CommandType { return cmd.header.Type }

// Version returns the version the command is currently encoded at.
func (cmd *Command) Version() Version { return cmd.version }

// Bytes returns the serialized command. It is stale while the command is
// dirty, and must not be modified.
func (cmd *Command) Bytes() []byte { return cmd.buf }

// Path returns the command's cached PATH attribute, if any.
func (cmd *Command) Path() (string, bool) { return cmd.path, cmd.hasPath }

// StartOffset returns the command's cached FILE_OFFSET attribute, if any.
func (cmd *Command) StartOffset() (int, bool) { return cmd.startOffset, cmd.hasStartOffset }

// Data returns the command's DATA attribute, or nil if it has none.
func (cmd *Command) Data() *Attribute { return cmd.data }

// UncompressedSize returns the logical size of the command.
func (cmd *Command) UncompressedSize() int { return cmd.uncompressedSize }

// Attributes parses and returns every attribute of a clean command.
func (cmd *Command) Attributes(c *Context) (attrs []*Attribute, err error) {
	if cmd.dirty {
		return nil, errors.Errorf("listing attributes of dirty %s", cmd)
	}
	err = c.WithChild(cmd.buf[CommandHeaderSize:], nil, cmd.version, cmd.version, func(sc *Context) error {
		return walkAttributes(sc, func(a *Attribute) error {
			attrs = append(attrs, a)
			return nil
		})
	})
	return
}

func (cmd *Command) preDataSize() (int, error) {
	if cmd.data == nil {
		return 0, errors.Errorf("%s has no data attribute", cmd)
	}
	return len(cmd.buf) - cmd.dataInitialSize, nil
}

// CopyRange returns a new, dirty Command whose data payload is bytes
// [start, end) of cmd's.
func (cmd *Command) CopyRange(c *Context, start, end int) (*Command, error) {
	if cmd.dirty {
		return nil, errors.Errorf("copying range of dirty %s is not supported", cmd)
	}
	if !cmd.IsAppendable() {
		return nil, errors.Errorf("copying range of non-appendable %s", cmd)
	}
	if !cmd.hasPath || !cmd.hasStartOffset {
		return nil, errors.Errorf("copying range of %s without a path and offset", cmd)
	}
	preData, err := cmd.preDataSize()
	if err != nil {
		return nil, err
	}
	if cmd.dataInitialSize != cmd.data.Size() {
		return nil, errors.Errorf("found clean %s with bad data attribute size", cmd)
	}

	data, err := cmd.data.CopyRange(c, start, end)
	if err != nil {
		return nil, err
	}
	total := preData + data.Size()
	h, err := cmd.header.Copy()
	if err != nil {
		return nil, err
	}
	if err := h.SetSize(total - CommandHeaderSize); err != nil {
		return nil, err
	}

	buf := make([]byte, total)
	if err := c.WithChild(nil, buf[:CommandHeaderSize], cmd.version, cmd.version, func(sc *Context) error {
		return h.Persist(sc, true)
	}); err != nil {
		return nil, err
	}
	if err := cmd.flushPreData(c, buf, true); err != nil {
		return nil, err
	}

	nc := Command{
		header:           h,
		buf:              buf,
		data:             data,
		dataInitialSize:  data.Size(),
		dirty:            true,
		path:             cmd.path,
		hasPath:          true,
		startOffset:      cmd.startOffset + start,
		hasStartOffset:   true,
		uncompressedSize: total,
		version:          cmd.version,
	}
	if err := nc.Verify(c); err != nil {
		return nil, err
	}
	return &nc, nil
}

// Upgrade returns the command re-encoded at c's destination version.
func (cmd *Command) Upgrade(c *Context) (*Command, error) {
	dst, err := c.DestinationVersion()
	if err != nil {
		return nil, err
	}
	switch ok, err := cmd.IsUpgradeable(c); {
	case err != nil:
		return nil, err
	case !ok:
		return nil, errors.Errorf("trying to upgrade an unupgradeable %s", cmd)
	}

	h, err := cmd.header.Upgrade(c)
	if err != nil {
		return nil, err
	}
	oldPayload, err := cmd.header.PayloadSize()
	if err != nil {
		return nil, err
	}
	oldTotal := CommandHeaderSize + oldPayload
	buf := make([]byte, oldTotal)

	nc := Command{
		header:         h,
		path:           cmd.path,
		hasPath:        cmd.hasPath,
		startOffset:    cmd.startOffset,
		hasStartOffset: cmd.hasStartOffset,
		version:        dst,
	}
	var oldOffset, newOffset int
	err = c.WithChild(cmd.buf[CommandHeaderSize:], buf[CommandHeaderSize:], cmd.version, dst, func(sc *Context) error {
		err := walkAttributes(sc, func(a *Attribute) error {
			switch ok, err := a.IsUpgradeable(sc); {
			case err != nil:
				return err
			case ok:
				if a, err = a.Upgrade(sc); err != nil {
					return err
				}
			default:
				if err := a.FakeAnUpgrade(sc); err != nil {
					return err
				}
			}
			if err := a.Persist(sc); err != nil {
				return err
			}
			if a.IsData() {
				nc.data, nc.dataInitialSize = a, a.Size()
			} else if a.IsCompressible() {
				return errors.Errorf("no handling for compressible non-data %s", a)
			}
			return nil
		})
		oldOffset = CommandHeaderSize + sc.ReadOffset()
		newOffset = CommandHeaderSize + sc.WriteOffset()
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "upgrading %s", cmd)
	}
	if oldOffset != oldTotal {
		return nil, errors.Errorf("mismatch between offset %dB and command size %dB", oldOffset, oldTotal)
	}

	if err := nc.header.SetSize(newOffset - CommandHeaderSize); err != nil {
		return nil, err
	}
	nc.buf = buf[:newOffset]
	nc.uncompressedSize = newOffset
	if err := flushHeader(c, nc.buf, &nc.header); err != nil {
		return nil, err
	}
	if err := nc.Verify(c); err != nil {
		return nil, err
	}
	c.Logger.Debugf("Upgraded command: %s", &nc)
	return &nc, nil
}

// FakeAnUpgrade advances the command's version to c's destination version
// without changing its layout. It fails if the command needs an upgrade.
func (cmd *Command) FakeAnUpgrade(c *Context) error {
	switch ok, err := cmd.IsUpgradeable(c); {
	case err != nil:
		return err
	case ok:
		return errors.Errorf("trying to fake an upgrade of upgradeable %s", cmd)
	}
	if err := cmd.header.FakeAnUpgrade(c); err != nil {
		return err
	}
	cmd.version = c.dstVersion
	return nil
}

// flushPreData re-emits every attribute preceding the data attribute into
// buf, regenerating FILE_OFFSET from the command's current start offset.
func (cmd *Command) flushPreData(c *Context, buf []byte, allowClean bool) error {
	dst, err := c.DestinationVersion()
	if err != nil {
		return err
	}
	preData, err := cmd.preDataSize()
	if err != nil {
		return err
	}
	if !cmd.hasStartOffset {
		return errors.Errorf("trying to flush %s without a start offset", cmd)
	}
	if !cmd.dirty && !allowClean {
		return errors.Errorf("unnecessary pre-data flush of clean %s", cmd)
	}

	return c.WithChild(cmd.buf[CommandHeaderSize:preData], buf[CommandHeaderSize:preData], cmd.version, dst,
		func(sc *Context) error {
			return walkAttributes(sc, func(a *Attribute) error {
				if err := a.Verify(sc); err != nil {
					return err
				}
				if a.IsFileOffset() {
					var err error
					if a, err = NewAttributeU64(sc, AttrFileOffset, uint64(cmd.startOffset)); err != nil {
						return err
					}
				}
				if err := a.Persist(sc); err != nil {
					return err
				}
				if sc.ReadOffset() != sc.WriteOffset() {
					return errors.Errorf("flushing pre-data of %s: %dB read offset, %dB write offset",
						cmd, sc.ReadOffset(), sc.WriteOffset())
				}
				return nil
			})
		})
}

// flushHeader writes h into the start of buf, computes the checksum of buf,
// records it in h, and writes h again with the checksum.
func flushHeader(c *Context, buf []byte, h *CommandHeader) error {
	v, err := c.DestinationVersion()
	if err != nil {
		return err
	}
	if err := c.WithChild(nil, buf, v, v, func(sc *Context) error { return h.Persist(sc, true) }); err != nil {
		return err
	}
	if err := h.SetCRC32C(c.CRC32C(buf)); err != nil {
		return err
	}
	return c.WithChild(nil, buf, v, v, func(sc *Context) error { return h.Persist(sc, false) })
}

// Flush re-serializes a dirty command.
func (cmd *Command) Flush(c *Context) error {
	dst, err := c.DestinationVersion()
	if err != nil {
		return err
	}
	if !cmd.dirty {
		return errors.Errorf("unnecessary flush of clean %s", cmd)
	}
	preData, err := cmd.preDataSize()
	if err != nil {
		return err
	}

	h, err := cmd.header.Copy()
	if err != nil {
		return err
	}
	total := preData + cmd.data.Size()
	buf := make([]byte, total)
	if err := cmd.flushPreData(c, buf, false); err != nil {
		return err
	}
	if err := c.WithChild(nil, buf[preData:], cmd.version, dst, cmd.data.Persist); err != nil {
		return err
	}
	if err := h.SetSize(total - CommandHeaderSize); err != nil {
		return err
	}
	if err := flushHeader(c, buf, &h); err != nil {
		return err
	}

	cmd.header = h
	cmd.buf = buf
	cmd.dataInitialSize = cmd.data.Size()
	cmd.dirty = false
	return nil
}

// Compress returns the command rewritten in its compressed form. If the data
// does not compress well enough to pay for the extra metadata attributes, a
// *FailedToShrinkPayloadError is returned.
func (cmd *Command) Compress(c *Context) (*Command, error) {
	dst, err := c.DestinationVersion()
	if err != nil {
		return nil, err
	}
	if !cmd.IsCompressible() {
		return nil, errors.Errorf("trying to compress an uncompressible %s", cmd)
	}
	preData, err := cmd.preDataSize()
	if err != nil {
		return nil, err
	}
	if !cmd.data.IsCompressible() {
		return nil, errors.Errorf("trying to compress uncompressible %s", cmd.data)
	}

	h, err := cmd.header.Compress(c)
	if err != nil {
		return nil, err
	}

	uncompressed := uint64(cmd.data.UncompressedPayloadSize())
	var metadata []*Attribute
	for _, build := range []func() (*Attribute, error){
		func() (*Attribute, error) { return NewAttributeU64(c, AttrUnencodedFileLen, uncompressed) },
		func() (*Attribute, error) { return NewAttributeU64(c, AttrUnencodedLen, uncompressed) },
		func() (*Attribute, error) { return NewAttributeU64(c, AttrUnencodedOffset, 0) },
		func() (*Attribute, error) { return NewAttributeU32(c, AttrCompression, EncodedIOCompressionZstd) },
	} {
		a, err := build()
		if err != nil {
			return nil, err
		}
		metadata = append(metadata, a)
	}
	extra := 0
	for _, a := range metadata {
		extra += a.Size()
	}
	if cmd.data.PayloadSize() < extra {
		c.stats.CompressionFailed++
		compressionResults.WithLabelValues("failed").Inc()
		return nil, &FailedToShrinkPayloadError{
			OldPayloadSize: cmd.data.PayloadSize(),
			NewPayloadSize: cmd.data.PayloadSize(),
			MinBytesToSave: extra,
		}
	}

	maxTotal := preData + cmd.data.Size()
	buf := make([]byte, maxTotal)
	if cmd.dirty {
		if err := cmd.flushPreData(c, buf, false); err != nil {
			return nil, err
		}
	} else {
		if err := c.WithChild(cmd.buf[CommandHeaderSize:preData], nil, cmd.version, dst, func(sc *Context) error {
			return sc.ReadExact(buf[CommandHeaderSize:preData])
		}); err != nil {
			return nil, err
		}
	}

	var (
		data    *Attribute
		written int
	)
	err = c.WithChild(nil, buf[preData:], cmd.version, dst, func(sc *Context) (err error) {
		for _, a := range metadata {
			if err = a.Persist(sc); err != nil {
				return
			}
		}
		if data, err = cmd.data.Compress(sc, sc.WriteOffset()); err != nil {
			return
		}
		if err = data.Persist(sc); err != nil {
			return
		}
		written = sc.WriteOffset()
		return
	})
	if err != nil {
		return nil, err
	}

	total := preData + written
	if total > maxTotal {
		return nil, errors.Errorf("command size increased from %dB to %dB", maxTotal, total)
	}
	if err := h.SetSize(total - CommandHeaderSize); err != nil {
		return nil, err
	}
	buf = buf[:total]
	if err := flushHeader(c, buf, &h); err != nil {
		return nil, err
	}

	nc := Command{
		header:           h,
		buf:              buf,
		data:             data,
		dataInitialSize:  data.Size(),
		path:             cmd.path,
		hasPath:          cmd.hasPath,
		startOffset:      cmd.startOffset,
		hasStartOffset:   cmd.hasStartOffset,
		uncompressedSize: cmd.uncompressedSize,
		version:          dst,
	}
	if err := nc.Verify(c); err != nil {
		return nil, err
	}
	c.Logger.Debugf("Compressed command: %s", &nc)
	return &nc, nil
}

// render returns the serialized form of the command. For a dirty command the
// returned bytes carry the stale header of the last flush.
func (cmd *Command) render(c *Context) ([]byte, error) {
	if !cmd.dirty {
		return cmd.buf, nil
	}
	preData, err := cmd.preDataSize()
	if err != nil {
		return nil, err
	}
	out := make([]byte, preData+cmd.data.Size())
	copy(out, cmd.buf[:CommandHeaderSize])
	if err := cmd.flushPreData(c, out, false); err != nil {
		return nil, err
	}
	if err := c.WithChild(nil, out[preData:], cmd.version, cmd.version, cmd.data.Persist); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify re-parses the command from its serialized form and checks that it
// reproduces the same command. It does nothing unless serde checks are
// enabled.
func (cmd *Command) Verify(c *Context) error {
	if !c.Options.SerdeChecks {
		return nil
	}
	v := cmd.version

	src, err := cmd.render(c)
	if err != nil {
		return errors.Wrapf(err, "rendering %s", cmd)
	}

	var h CommandHeader
	if err := c.WithChild(src, nil, v, v, func(sc *Context) (err error) {
		h, err = ReadCommandHeader(sc)
		return
	}); err != nil {
		return errors.Wrap(err, "verifying command header")
	}
	payload, err := h.PayloadSize()
	if err != nil {
		return err
	}
	ownPayload, err := cmd.header.PayloadSize()
	if err != nil {
		return err
	}
	if total := CommandHeaderSize + payload; total != len(cmd.buf) || payload != ownPayload {
		return errors.Errorf("verifying command failed: %dB size doesn't match %dB buffer or %dB payload",
			total, len(cmd.buf), ownPayload)
	}

	rebuilt := Command{
		header:           h,
		buf:              make([]byte, len(src)),
		uncompressedSize: len(src),
		version:          v,
	}
	err = c.WithChild(src[CommandHeaderSize:], rebuilt.buf[CommandHeaderSize:], v, v, func(sc *Context) error {
		return walkAttributes(sc, func(a *Attribute) error {
			if err := a.Verify(sc); err != nil {
				return err
			}
			if err := a.Persist(sc); err != nil {
				return err
			}
			if err := rebuilt.cacheAttribute(a); err != nil {
				return err
			}
			if sc.ReadOffset() != sc.WriteOffset() {
				return errors.Errorf("verifying command failed: %dB read offset, %dB write offset",
					sc.ReadOffset(), sc.WriteOffset())
			}
			return nil
		})
	})
	if err != nil {
		return errors.Wrapf(err, "verifying attributes of %s", cmd)
	}

	if err := c.WithChild(nil, rebuilt.buf, v, v, func(sc *Context) error {
		return h.Persist(sc, !cmd.dirty)
	}); err != nil {
		return err
	}

	if n := c.Options.BytesToLog; n > 0 {
		if n > len(rebuilt.buf) {
			n = len(rebuilt.buf)
		}
		if n > len(cmd.buf) {
			n = len(cmd.buf)
		}
		c.Logger.Debugf("Command bytes, source %s, rebuilt %s",
			fmtutil.HexSlice(cmd.buf[:n]), fmtutil.HexSlice(rebuilt.buf[:n]))
	}

	if !cmd.dirty {
		if computed := c.CRC32C(rebuilt.buf); computed != h.CRC {
			return errors.Errorf("verifying command failed: stored CRC32C %#08x, computed CRC32C %#08x",
				h.CRC, computed)
		}
		if err := c.WithChild(nil, rebuilt.buf, v, v, func(sc *Context) error {
			return h.Persist(sc, false)
		}); err != nil {
			return err
		}
	}

	if !cmd.Equal(&rebuilt) {
		return errors.Errorf("verifying command failed: %s != reconstructed %s", cmd, &rebuilt)
	}
	return nil
}

// Append coalesces as much of o's data as fits into cmd, returning the
// number of data bytes taken from o. cmd becomes dirty.
func (cmd *Command) Append(c *Context, o *Command) (int, error) {
	if !cmd.CanAppend(o) {
		return 0, errors.Errorf("cannot append %s with %s", cmd, o)
	}
	n, err := cmd.data.Append(c, o.data, c.Options.MaximumBatchedExtentSize)
	if err != nil {
		return 0, err
	}
	cmd.uncompressedSize += n
	cmd.dirty = true
	if err := cmd.Verify(c); err != nil {
		return 0, err
	}
	return n, nil
}

// TruncateDataPayloadAtStart drops the first n bytes of the command's data,
// advancing its file offset to match. cmd becomes dirty.
func (cmd *Command) TruncateDataPayloadAtStart(c *Context, n int) error {
	if cmd.data == nil {
		return errors.Errorf("trying to truncate %s without a data attribute", cmd)
	}
	if !cmd.hasStartOffset {
		return errors.Errorf("trying to truncate %s without an offset", cmd)
	}
	if n == 0 {
		return nil
	}
	if err := cmd.data.TruncatePayloadAtStart(c, n); err != nil {
		return err
	}
	cmd.uncompressedSize -= n
	cmd.startOffset += n
	cmd.dirty = true
	return cmd.Verify(c)
}

// Persist writes the command to c's destination, preceded by a filler
// command if padding is enabled and the command's data is block aligned.
func (cmd *Command) Persist(c *Context) error {
	if err := cmd.Verify(c); err != nil {
		return err
	}
	dst, err := c.DestinationVersion()
	if err != nil {
		return err
	}
	if cmd.version != dst {
		return errors.Errorf("version mismatch while persisting %s: destination version %s", cmd, dst)
	}
	if cmd.dirty {
		return errors.Errorf("writing dirty %s", cmd)
	}

	if c.Options.PadWithDummyCommands && cmd.header.IsPaddable() {
		if err := cmd.persistPadding(c); err != nil {
			return err
		}
	}
	if err := c.Write(cmd.buf, cmd.uncompressedSize); err != nil {
		return err
	}
	c.stats.CommandsWritten++
	commandsWritten.WithLabelValues(cmd.header.Type.String()).Inc()
	return nil
}

// IsAppendable returns true if commands of this type can be coalesced.
func (cmd *Command) IsAppendable() bool { return cmd.header.IsAppendable() }

// CanAppend returns true if o's data directly follows cmd's in the same file.
func (cmd *Command) CanAppend(o *Command) bool {
	if cmd.data == nil || o.data == nil || !cmd.hasStartOffset || !o.hasStartOffset {
		return false
	}
	return cmd.version == o.version &&
		cmd.header.AreAppendable(&o.header) &&
		cmd.hasPath == o.hasPath && cmd.path == o.path &&
		cmd.startOffset+cmd.data.UncompressedPayloadSize() == o.startOffset
}

// IsUpgradeable returns true if the command's layout changes at c's
// destination version.
func (cmd *Command) IsUpgradeable(c *Context) (bool, error) { return cmd.header.IsUpgradeable(c) }

// IsCompressible returns true if the command has a compressed form.
func (cmd *Command) IsCompressible() bool { return cmd.header.IsCompressible() }

// IsEnd returns true if this is an END command.
func (cmd *Command) IsEnd() bool { return cmd.header.IsEnd() }

// IsEmpty returns true if the command carries a data attribute with no data.
func (cmd *Command) IsEmpty() bool {
	return cmd.data != nil && cmd.data.UncompressedPayloadSize() == 0
}

// IsFull returns true if the command's data has reached the maximum batched
// extent size.
func (cmd *Command) IsFull(c *Context) bool {
	return cmd.data != nil && cmd.data.UncompressedPayloadSize() >= c.Options.MaximumBatchedExtentSize
}

// IsDirty returns true if the command has been modified since it was last
// serialized.
func (cmd *Command) IsDirty() bool { return cmd.dirty }

// Equal returns true if cmd and o describe the same command.
func (cmd *Command) Equal(o *Command) bool {
	if cmd.header != o.header ||
		cmd.hasPath != o.hasPath || cmd.path != o.path ||
		cmd.hasStartOffset != o.hasStartOffset || cmd.startOffset != o.startOffset ||
		cmd.version != o.version {
		return false
	}
	if !cmd.dirty && !o.dirty {
		return bytes.Equal(cmd.buf, o.buf)
	}
	if cmd.data == nil || o.data == nil {
		return false
	}
	if len(cmd.buf)-cmd.dataInitialSize != len(o.buf)-o.dataInitialSize {
		return false
	}
	return cmd.data.Equal(o.data)
}

func (cmd *Command) String() string {
	return fmt.Sprintf("<Command Header=%s Data=%v DataInitialSize=%d Dirty=%t Path=%q StartOffset=%d "+
		"BufferLen=%d UncompressedBytes=%d Version=%s/>",
		cmd.header, cmd.data, cmd.dataInitialSize, cmd.dirty, cmd.path, cmd.startOffset,
		len(cmd.buf), cmd.uncompressedSize, cmd.version)
}
