// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	attributeTypeSize   = 2
	attributeLengthSize = 2
)

// AttributeHeader is the type/length prefix of an attribute.
//
// HasSize is false exactly when the attribute's type is size-less at
// Version, in which case the attribute's payload extends to the end of its
// command.
type AttributeHeader struct {
	Type    AttributeType
	Size    uint16
	HasSize bool
	Version Version
}

// ReadAttributeHeader reads an AttributeHeader from c's source.
func ReadAttributeHeader(c *Context) (AttributeHeader, error) {
	version, err := c.SourceVersion()
	if err != nil {
		return AttributeHeader{}, err
	}

	rawType, err := c.Read16()
	if err != nil {
		return AttributeHeader{}, errors.Wrap(err, "reading attribute type")
	}
	at := AttributeType(rawType)
	if !at.Known() {
		return AttributeHeader{}, newBadTypeError("attribute", rawType)
	}

	h := AttributeHeader{Type: at, Version: version}
	if !isSizeLessAt(at, version) {
		if h.Size, err = c.Read16(); err != nil {
			return AttributeHeader{}, errors.Wrapf(err, "reading %s attribute length", at)
		}
		h.HasSize = true
	}
	return h, nil
}

// MakeAttributeHeader builds an AttributeHeader for a payload of size bytes
// at version v.
func MakeAttributeHeader(at AttributeType, size uint16, v Version) AttributeHeader {
	h := AttributeHeader{Type: at, Version: v}
	if !isSizeLessAt(at, v) {
		h.Size, h.HasSize = size, true
	}
	return h
}

func isSizeLessAt(at AttributeType, v Version) bool {
	since, ok := attributeSizeLessSince(at)
	return ok && since <= v
}

// HeaderSize returns the number of bytes the header occupies on the wire.
func (h *AttributeHeader) HeaderSize() int {
	if h.HasSize {
		return attributeTypeSize + attributeLengthSize
	}
	return attributeTypeSize
}

// TotalSize returns the size of the attribute this header prefixes.
//
// remaining is the number of bytes left in the enclosing command, counted
// from the start of this header. It is used for size-less headers.
func (h *AttributeHeader) TotalSize(remaining int) (int, error) {
	if h.HasSize {
		return h.HeaderSize() + int(h.Size), nil
	}
	if remaining < h.HeaderSize() {
		return 0, errors.Errorf("%d bytes remaining is smaller than the %dB header of %s",
			remaining, h.HeaderSize(), h)
	}
	return remaining, nil
}

// IsUpgradeable returns true if the header's layout changes between its own
// version and c's destination version.
func (h *AttributeHeader) IsUpgradeable(c *Context) (bool, error) {
	dst, err := c.DestinationVersion()
	if err != nil {
		return false, err
	}
	if h.Version == dst {
		return false, nil
	}
	since, ok := attributeSizeLessSince(h.Type)
	return ok && h.Version < since && since <= dst, nil
}

// Upgrade returns the header as it is written at c's destination version.
func (h *AttributeHeader) Upgrade(c *Context) (AttributeHeader, error) {
	switch ok, err := h.IsUpgradeable(c); {
	case err != nil:
		return AttributeHeader{}, err
	case !ok:
		return AttributeHeader{}, errors.Errorf("trying to upgrade an unupgradeable %s", h)
	}
	return AttributeHeader{Type: h.Type, Version: c.dstVersion}, nil
}

// IsCompressible returns true if the header's type has a compressed form at
// the header's version.
func (h *AttributeHeader) IsCompressible() bool {
	since, _, ok := attributeCompressesTo(h.Type)
	return ok && since <= h.Version
}

// Compress returns the header of the compressed form of this attribute.
func (h *AttributeHeader) Compress(c *Context) (AttributeHeader, error) {
	dst, err := c.DestinationVersion()
	if err != nil {
		return AttributeHeader{}, err
	}
	if !h.IsCompressible() {
		return AttributeHeader{}, errors.Errorf("trying to compress an uncompressible %s", h)
	}
	_, ct, _ := attributeCompressesTo(h.Type)
	return AttributeHeader{Type: ct, Version: dst}, nil
}

// Persist writes the header to c's destination.
func (h *AttributeHeader) Persist(c *Context) error {
	dst, err := c.DestinationVersion()
	if err != nil {
		return err
	}
	if h.Version != dst {
		return errors.Errorf("version mismatch while persisting %s: destination version %s", h, dst)
	}
	if err := c.Write16(uint16(h.Type)); err != nil {
		return err
	}
	if h.HasSize {
		return c.Write16(h.Size)
	}
	return nil
}

// CanAppend returns true if an attribute with header o can be appended to
// one with header h.
func (h *AttributeHeader) CanAppend(o *AttributeHeader) bool {
	return h.Type == o.Type && isAttributeAppendable(h.Type)
}

func (h AttributeHeader) String() string {
	if h.HasSize {
		return fmt.Sprintf("<AttributeHeader Type=%s Size=%d Version=%s/>", h.Type, h.Size, h.Version)
	}
	return fmt.Sprintf("<AttributeHeader Type=%s Size=None Version=%s/>", h.Type, h.Version)
}
