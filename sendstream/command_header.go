// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// CommandHeaderSize is the size of a command header on the wire.
const CommandHeaderSize = 10

// commandHeaderWire is the on-wire layout of a command header.
type commandHeaderWire struct {
	Size uint32 `struc:"uint32,little"`
	Type uint16 `struc:"uint16,little"`
	CRC  uint32 `struc:"uint32,little"`
}

// CommandHeader is the envelope of a command.
//
// Size and CRC are unset while a header is being rebuilt, for example right
// after an upgrade. Both must be set before the header can be persisted.
type CommandHeader struct {
	Type CommandType

	Size    uint32
	HasSize bool

	CRC    uint32
	HasCRC bool

	Version Version
}

// ReadCommandHeader reads a CommandHeader from c's source.
func ReadCommandHeader(c *Context) (CommandHeader, error) {
	version, err := c.SourceVersion()
	if err != nil {
		return CommandHeader{}, err
	}

	var raw [CommandHeaderSize]byte
	if err := c.ReadExact(raw[:]); err != nil {
		return CommandHeader{}, errors.Wrap(err, "reading command header")
	}
	var w commandHeaderWire
	if err := struc.Unpack(bytes.NewReader(raw[:]), &w); err != nil {
		return CommandHeader{}, errors.Wrap(err, "decoding command header")
	}
	ct := CommandType(w.Type)
	if !ct.Known() {
		return CommandHeader{}, newBadTypeError("command", w.Type)
	}
	return CommandHeader{
		Type:    ct,
		Size:    w.Size,
		HasSize: true,
		CRC:     w.CRC,
		HasCRC:  true,
		Version: version,
	}, nil
}

// padCommandHeader builds the header of a filler UPDATE_EXTENT command with
// the given payload size.
func padCommandHeader(c *Context, payloadSize int) (CommandHeader, error) {
	dst, err := c.DestinationVersion()
	if err != nil {
		return CommandHeader{}, err
	}
	return CommandHeader{
		Type:    CmdUpdateExtent,
		Size:    uint32(payloadSize),
		HasSize: true,
		Version: dst,
	}, nil
}

// PayloadSize returns the size of the payload that follows the header.
func (h *CommandHeader) PayloadSize() (int, error) {
	if !h.HasSize {
		return 0, errors.Errorf("%s has no size", h)
	}
	return int(h.Size), nil
}

// IsUpgradeable returns true if an upgrade transform exists for the
// header's type between its version and c's destination version.
func (h *CommandHeader) IsUpgradeable(c *Context) (bool, error) {
	dst, err := c.DestinationVersion()
	if err != nil {
		return false, err
	}
	if h.Version == dst {
		return false, nil
	}
	for _, v := range commandUpgradesTo(h.Type) {
		if h.Version < v && v <= dst {
			return true, nil
		}
	}
	return false, nil
}

// Upgrade returns the header advanced to c's destination version. The
// returned header has no size or checksum; the caller must set both once
// the payload has been rebuilt.
func (h *CommandHeader) Upgrade(c *Context) (CommandHeader, error) {
	switch ok, err := h.IsUpgradeable(c); {
	case err != nil:
		return CommandHeader{}, err
	case !ok:
		return CommandHeader{}, errors.Errorf("trying to upgrade an unupgradeable %s", h)
	}
	if !h.HasSize || !h.HasCRC {
		return CommandHeader{}, errors.Errorf("trying to upgrade incomplete %s", h)
	}
	return CommandHeader{Type: h.Type, Version: c.dstVersion}, nil
}

// FakeAnUpgrade advances the header's version without changing its layout.
// It fails if the header actually needs an upgrade.
func (h *CommandHeader) FakeAnUpgrade(c *Context) error {
	switch ok, err := h.IsUpgradeable(c); {
	case err != nil:
		return err
	case ok:
		return errors.Errorf("trying to fake an upgrade of upgradeable %s", h)
	}
	h.Version = c.dstVersion
	return nil
}

// IsCompressible returns true if the header's type has a compressed form at
// the header's version.
func (h *CommandHeader) IsCompressible() bool {
	since, _, ok := commandCompressesTo(h.Type)
	return ok && since <= h.Version
}

// Compress returns the header of the compressed form of the command. The
// returned header has no size or checksum.
func (h *CommandHeader) Compress(c *Context) (CommandHeader, error) {
	dst, err := c.DestinationVersion()
	if err != nil {
		return CommandHeader{}, err
	}
	if !h.IsCompressible() {
		return CommandHeader{}, errors.Errorf("trying to compress an uncompressible %s", h)
	}
	if !h.HasSize {
		return CommandHeader{}, errors.Errorf("trying to compress %s without a size", h)
	}
	_, ct, _ := commandCompressesTo(h.Type)
	return CommandHeader{Type: ct, Version: dst}, nil
}

// Copy returns a header with the same type and version, no size, and a zero
// checksum placeholder.
func (h *CommandHeader) Copy() (CommandHeader, error) {
	if !h.HasSize || !h.HasCRC {
		return CommandHeader{}, errors.Errorf("trying to copy incomplete %s", h)
	}
	return CommandHeader{
		Type:    h.Type,
		HasCRC:  true,
		Version: h.Version,
	}, nil
}

// SetSize sets the header's payload size. It may only be called once.
func (h *CommandHeader) SetSize(size int) error {
	if h.HasSize {
		return errors.Errorf("trying to set size %d on %s", size, h)
	}
	h.Size, h.HasSize = uint32(size), true
	return nil
}

// SetCRC32C sets the header's checksum. It fails if a non-zero checksum is
// already set.
func (h *CommandHeader) SetCRC32C(crc uint32) error {
	if h.HasCRC && h.CRC != 0 {
		return errors.Errorf("trying to set crc32c %#08x on %s", crc, h)
	}
	h.CRC, h.HasCRC = crc, true
	return nil
}

// Persist writes the header to c's destination. If skipCRC is true, a zero
// checksum is written in place of the header's checksum.
func (h *CommandHeader) Persist(c *Context, skipCRC bool) error {
	dst, err := c.DestinationVersion()
	if err != nil {
		return err
	}
	if !h.HasSize {
		return errors.Errorf("persisting %s without a size", h)
	}
	if !h.HasCRC && !skipCRC {
		return errors.Errorf("persisting %s without a crc32c", h)
	}
	if h.Version != dst {
		return errors.Errorf("version mismatch while persisting %s: destination version %s", h, dst)
	}

	w := commandHeaderWire{Size: h.Size, Type: uint16(h.Type)}
	if !skipCRC {
		w.CRC = h.CRC
	}
	var buf bytes.Buffer
	if err := struc.Pack(&buf, &w); err != nil {
		return errors.Wrap(err, "encoding command header")
	}
	return c.Write(buf.Bytes(), buf.Len())
}

// IsEnd returns true if this is the header of an END command.
func (h *CommandHeader) IsEnd() bool { return h.Type == CmdEnd }

// IsAppendable returns true if commands of this type can be coalesced.
func (h *CommandHeader) IsAppendable() bool { return isCommandAppendable(h.Type) }

// IsPaddable returns true if commands of this type can be aligned with
// filler commands.
func (h *CommandHeader) IsPaddable() bool { return isCommandPaddable(h.Type) }

// AreAppendable returns true if a command with header o can be coalesced
// into a command with header h.
func (h *CommandHeader) AreAppendable(o *CommandHeader) bool {
	return h.Type == o.Type && h.Version == o.Version && h.IsAppendable()
}

func (h CommandHeader) String() string {
	size, crc := "None", "None"
	if h.HasSize {
		size = fmt.Sprintf("%d", h.Size)
	}
	if h.HasCRC {
		crc = fmt.Sprintf("%#08x", h.CRC)
	}
	return fmt.Sprintf("<CommandHeader Type=%s Size=%s CRC32C=%s Version=%s/>", h.Type, size, crc, h.Version)
}
