// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// zstdWindowLog is the window log btrfs requires for encoded extents
// (2^17 = 128KiB).
const zstdWindowLog = 17

// Attribute is a single TLV field of a command.
//
// An Attribute holds its complete serialized form (header and payload) in
// an owned buffer.
type Attribute struct {
	header AttributeHeader
	buf    []byte

	uncompressedSize        int
	uncompressedPayloadSize int

	version Version
}

// ReadAttribute reads an Attribute from c, which must be backed by an
// in-memory source holding the rest of the enclosing command's payload.
func ReadAttribute(c *Context) (*Attribute, error) {
	version, err := c.SourceVersion()
	if err != nil {
		return nil, err
	}
	readLen, err := c.ReadLen()
	if err != nil {
		return nil, err
	}
	remaining := readLen - c.ReadOffset()

	h, err := ReadAttributeHeader(c)
	if err != nil {
		return nil, err
	}
	hs := h.HeaderSize()
	total, err := h.TotalSize(remaining)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	buf := make([]byte, total)
	c.stats.AttributePopulationTime += time.Since(start)

	if err := c.WithChild(nil, buf, version, version, h.Persist); err != nil {
		return nil, errors.Wrapf(err, "persisting %s", h)
	}
	if err := c.ReadExact(buf[hs:]); err != nil {
		return nil, errors.Wrapf(err, "reading payload of %s", h)
	}

	a := Attribute{
		header:                  h,
		buf:                     buf,
		uncompressedSize:        total,
		uncompressedPayloadSize: total - hs,
		version:                 version,
	}
	c.Logger.Debugf("New attribute: %s", &a)
	return &a, nil
}

// NewAttribute builds an Attribute of type at carrying payload, at c's
// destination version.
func NewAttribute(c *Context, at AttributeType, payload []byte) (*Attribute, error) {
	version, err := c.DestinationVersion()
	if err != nil {
		return nil, err
	}
	if len(payload) > math.MaxUint16 && !isSizeLessAt(at, version) {
		return nil, errors.Errorf("%dB payload is too large for a sized %s attribute", len(payload), at)
	}

	h := MakeAttributeHeader(at, uint16(len(payload)), version)
	total := h.HeaderSize() + len(payload)
	buf := make([]byte, total)
	err = c.WithChild(nil, buf, version, version, func(sc *Context) error {
		if err := h.Persist(sc); err != nil {
			return err
		}
		return sc.Write(payload, len(payload))
	})
	if err != nil {
		return nil, errors.Wrapf(err, "building %s attribute", at)
	}

	return &Attribute{
		header:                  h,
		buf:                     buf,
		uncompressedSize:        total,
		uncompressedPayloadSize: len(payload),
		version:                 version,
	}, nil
}

// NewAttributeU32 builds an Attribute holding a little-endian uint32.
func NewAttributeU32(c *Context, at AttributeType, v uint32) (*Attribute, error) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return NewAttribute(c, at, b[:])
}

// NewAttributeU64 builds an Attribute holding a little-endian uint64.
func NewAttributeU64(c *Context, at AttributeType, v uint64) (*Attribute, error) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return NewAttribute(c, at, b[:])
}

// NewAttributeString builds an Attribute holding s.
func NewAttributeString(c *Context, at AttributeType, s string) (*Attribute, error) {
	return NewAttribute(c, at, []byte(s))
}

// Header returns the attribute's header.
func (a *Attribute) Header() AttributeHeader { return a.header }

// Type returns the attribute's type.
func (a *Attribute) Type() AttributeType { return a.header.Type }

// Version returns the version the attribute is currently encoded at.
func (a *Attribute) Version() Version { return a.version }

// Size returns the serialized size of the attribute.
func (a *Attribute) Size() int { return len(a.buf) }

// PayloadSize returns the serialized size of the attribute's payload.
func (a *Attribute) PayloadSize() int { return len(a.buf) - a.header.HeaderSize() }

// UncompressedPayloadSize returns the payload size before any compression.
func (a *Attribute) UncompressedPayloadSize() int { return a.uncompressedPayloadSize }

// Bytes returns the serialized attribute. It must not be modified.
func (a *Attribute) Bytes() []byte { return a.buf }

// Payload returns the serialized payload. It must not be modified.
func (a *Attribute) Payload() []byte { return a.buf[a.header.HeaderSize():] }

// PayloadString returns the payload as a string.
func (a *Attribute) PayloadString() string { return string(a.Payload()) }

// PayloadU32 returns the payload as a little-endian uint32.
func (a *Attribute) PayloadU32() (uint32, error) {
	p := a.Payload()
	if len(p) != 4 {
		return 0, errors.Errorf("%s payload is %dB, not a 32-bit integer", a.header.Type, len(p))
	}
	return binary.LittleEndian.Uint32(p), nil
}

// PayloadU64 returns the payload as a little-endian uint64.
func (a *Attribute) PayloadU64() (uint64, error) {
	p := a.Payload()
	if len(p) != 8 {
		return 0, errors.Errorf("%s payload is %dB, not a 64-bit integer", a.header.Type, len(p))
	}
	return binary.LittleEndian.Uint64(p), nil
}

// IsData returns true if this is a DATA attribute.
func (a *Attribute) IsData() bool { return a.header.Type == AttrData }

// IsPath returns true if this is a PATH attribute.
func (a *Attribute) IsPath() bool { return a.header.Type == AttrPath }

// IsFileOffset returns true if this is a FILE_OFFSET attribute.
func (a *Attribute) IsFileOffset() bool { return a.header.Type == AttrFileOffset }

// IsUpgradeable returns true if the attribute's layout changes at c's
// destination version.
func (a *Attribute) IsUpgradeable(c *Context) (bool, error) { return a.header.IsUpgradeable(c) }

// IsCompressible returns true if the attribute has a compressed form.
func (a *Attribute) IsCompressible() bool { return a.header.IsCompressible() }

// CanAppend returns true if o's payload may be appended to a's.
func (a *Attribute) CanAppend(o *Attribute) bool {
	return a.version == o.version && a.header.CanAppend(&o.header)
}

// CopyRange returns a new Attribute holding payload bytes [start, end).
func (a *Attribute) CopyRange(c *Context, start, end int) (*Attribute, error) {
	if start < 0 || end < start || end > a.PayloadSize() {
		return nil, errors.Errorf("range [%d, %d) is outside of %dB payload", start, end, a.PayloadSize())
	}
	h := a.header
	hs := h.HeaderSize()
	size := end - start

	begin := time.Now()
	buf := make([]byte, hs+size)
	c.stats.AttributePopulationTime += time.Since(begin)

	err := c.WithChild(nil, buf, a.version, a.version, func(sc *Context) error {
		if err := h.Persist(sc); err != nil {
			return err
		}
		return sc.Write(a.buf[hs+start:hs+end], size)
	})
	if err != nil {
		return nil, errors.Wrap(err, "copying attribute range")
	}
	return &Attribute{
		header:                  h,
		buf:                     buf,
		uncompressedSize:        len(buf),
		uncompressedPayloadSize: size,
		version:                 a.version,
	}, nil
}

// Upgrade returns the attribute re-encoded at c's destination version.
func (a *Attribute) Upgrade(c *Context) (*Attribute, error) {
	switch ok, err := a.IsUpgradeable(c); {
	case err != nil:
		return nil, err
	case !ok:
		return nil, errors.New("trying to upgrade an unupgradeable attribute")
	}

	upgraded, err := a.header.Upgrade(c)
	if err != nil {
		return nil, err
	}
	oldHS, newHS := a.header.HeaderSize(), upgraded.HeaderSize()
	payloadSize := a.PayloadSize()
	buf := make([]byte, newHS+payloadSize)

	if err := c.WithChild(nil, buf, a.version, upgraded.Version, upgraded.Persist); err != nil {
		return nil, errors.Wrap(err, "persisting upgraded header")
	}
	err = c.WithChild(a.buf[oldHS:], nil, a.version, upgraded.Version, func(sc *Context) error {
		return sc.ReadExact(buf[newHS:])
	})
	if err != nil {
		return nil, errors.Wrap(err, "copying upgraded payload")
	}

	ua := Attribute{
		header:                  upgraded,
		buf:                     buf,
		uncompressedSize:        len(buf),
		uncompressedPayloadSize: payloadSize,
		version:                 upgraded.Version,
	}
	c.Logger.Debugf("Upgraded attribute: %s", &ua)
	return &ua, nil
}

// FakeAnUpgrade advances the attribute's version to c's destination version
// without changing its layout. It fails if the attribute actually needs an
// upgrade.
func (a *Attribute) FakeAnUpgrade(c *Context) error {
	switch ok, err := a.IsUpgradeable(c); {
	case err != nil:
		return err
	case ok:
		return errors.Errorf("trying to fake an upgrade of upgradeable attribute %s", a)
	}
	a.version = c.dstVersion
	a.header.Version = c.dstVersion
	return nil
}

// Compress returns the attribute with its payload zstd-compressed.
//
// If the compressed payload does not save at least minBytesToSave bytes, a
// *FailedToShrinkPayloadError is returned.
func (a *Attribute) Compress(c *Context, minBytesToSave int) (*Attribute, error) {
	dst, err := c.DestinationVersion()
	if err != nil {
		return nil, err
	}
	switch ok, err := a.IsUpgradeable(c); {
	case err != nil:
		return nil, err
	case ok || !a.IsCompressible():
		return nil, errors.New("trying to compress an unupgraded or uncompressible attribute")
	}
	level := c.Options.CompressionLevel
	if level == 0 {
		return nil, errors.New("compressing with no compression level set")
	}

	ch, err := a.header.Compress(c)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, ch.HeaderSize(), ch.HeaderSize()+a.PayloadSize())
	if err := c.WithChild(nil, buf, a.version, dst, ch.Persist); err != nil {
		return nil, errors.Wrap(err, "persisting compressed header")
	}

	start := time.Now()
	enc, err := zstdEncoder(level)
	if err != nil {
		return nil, err
	}
	buf = enc.EncodeAll(a.Payload(), buf)

	ca := Attribute{
		header:                  ch,
		buf:                     buf,
		uncompressedSize:        a.uncompressedSize,
		uncompressedPayloadSize: a.PayloadSize(),
		version:                 dst,
	}
	oldSize, newSize := a.PayloadSize(), ca.PayloadSize()
	passed := oldSize >= newSize+minBytesToSave
	c.stats.CompressTime += time.Since(start)
	if passed {
		c.stats.CompressionPassed++
		compressionResults.WithLabelValues("passed").Inc()
	} else {
		c.stats.CompressionFailed++
		compressionResults.WithLabelValues("failed").Inc()
	}
	c.Logger.Debugf("Compressed attribute %s from %dB to %dB (must save %dB).", &ca, oldSize, newSize, minBytesToSave)

	if !passed {
		return nil, &FailedToShrinkPayloadError{
			OldPayloadSize: oldSize,
			NewPayloadSize: newSize,
			MinBytesToSave: minBytesToSave,
		}
	}
	return &ca, nil
}

// Append appends up to maxPayload-PayloadSize bytes of o's payload to a's,
// returning the number of bytes appended.
func (a *Attribute) Append(c *Context, o *Attribute, maxPayload int) (int, error) {
	if maxPayload < a.uncompressedPayloadSize {
		return 0, nil
	}
	if !a.CanAppend(o) {
		return 0, errors.Errorf("appending unappendable attribute %s with %s", a, o)
	}
	if a.header.HasSize {
		return 0, errors.New("appending to sized attributes is not supported")
	}

	n := o.uncompressedPayloadSize
	if room := maxPayload - a.uncompressedPayloadSize; room < n {
		n = room
	}
	start := time.Now()
	a.buf = append(a.buf, o.Payload()[:n]...)
	c.stats.AppendTime += time.Since(start)
	c.stats.BytesAppended += uint64(n)

	a.uncompressedSize += n
	a.uncompressedPayloadSize += n
	return n, nil
}

// TruncatePayloadAtStart removes the first n bytes of the payload.
func (a *Attribute) TruncatePayloadAtStart(c *Context, n int) error {
	if n == 0 {
		return nil
	}
	if !isAttributeTruncatable(a.header.Type) {
		return errors.Errorf("truncating untruncatable attribute %s", a)
	}
	if n > a.uncompressedPayloadSize {
		return errors.Errorf("not enough data (%dB) to truncate from %s", n, a)
	}
	if a.header.HasSize {
		return errors.New("truncating sized attributes is not supported")
	}

	hs := a.header.HeaderSize()
	start := time.Now()
	kept := copy(a.buf[hs:], a.buf[hs+n:])
	a.buf = a.buf[:hs+kept]
	c.stats.TruncateTime += time.Since(start)
	c.stats.BytesTruncated += uint64(n)

	a.uncompressedSize -= n
	a.uncompressedPayloadSize -= n
	return nil
}

// Verify re-parses the attribute from its own bytes and checks that it
// reproduces the same attribute. It does nothing unless serde checks are
// enabled.
func (a *Attribute) Verify(c *Context) error {
	if !c.Options.SerdeChecks {
		return nil
	}

	var h AttributeHeader
	err := c.WithChild(a.buf, nil, a.version, a.version, func(sc *Context) (err error) {
		h, err = ReadAttributeHeader(sc)
		return
	})
	if err != nil {
		return errors.Wrap(err, "verifying attribute header")
	}

	total, err := h.TotalSize(len(a.buf))
	if err != nil {
		return err
	}
	if total != len(a.buf) {
		return errors.Errorf("verifying attribute failed: %dB size doesn't match %dB buffer", total, len(a.buf))
	}
	if oldTotal, err := a.header.TotalSize(total); err != nil || oldTotal != total {
		return errors.Errorf("verifying attribute failed: %dB after, %dB before", total, oldTotal)
	}

	hs := h.HeaderSize()
	buf := make([]byte, total)
	if err := c.WithChild(nil, buf, a.version, a.version, h.Persist); err != nil {
		return errors.Wrap(err, "verifying attribute persist")
	}
	c.stats.BytesCopied += uint64(copy(buf[hs:], a.buf[hs:]))

	rebuilt := Attribute{
		header:  h,
		buf:     buf,
		version: a.version,
	}
	if !a.Equal(&rebuilt) {
		return errors.Errorf("verifying attribute failed: %s != reconstructed %s", a, &rebuilt)
	}
	return nil
}

// Persist writes the attribute to c's destination.
func (a *Attribute) Persist(c *Context) error {
	dst, err := c.DestinationVersion()
	if err != nil {
		return err
	}
	if a.version != dst {
		return errors.Errorf("version mismatch while persisting %s: destination version %s", a, dst)
	}
	return c.Write(a.buf, a.uncompressedSize)
}

// Equal returns true if a and o have the same header, version, and bytes.
func (a *Attribute) Equal(o *Attribute) bool {
	return a.header == o.header && a.version == o.version && bytes.Equal(a.buf, o.buf)
}

func (a *Attribute) String() string {
	return fmt.Sprintf("<Attribute Header=%s Size=%d UncompressedSize=%d UncompressedPayloadSize=%d Version=%s/>",
		a.header, len(a.buf), a.uncompressedSize, a.uncompressedPayloadSize, a.version)
}

var zstdEncoders struct {
	sync.Mutex
	byLevel map[int]*zstd.Encoder
}

// zstdEncoder returns a shared encoder for level. EncodeAll is safe for
// concurrent use.
func zstdEncoder(level int) (*zstd.Encoder, error) {
	zstdEncoders.Lock()
	defer zstdEncoders.Unlock()

	if enc := zstdEncoders.byLevel[level]; enc != nil {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithWindowSize(1<<zstdWindowLog))
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd encoder")
	}
	if zstdEncoders.byLevel == nil {
		zstdEncoders.byLevel = make(map[int]*zstd.Encoder)
	}
	zstdEncoders.byLevel[level] = enc
	return enc, nil
}
