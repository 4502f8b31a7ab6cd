// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"strings"

	"github.com/pkg/errors"
)

// BlockSize is the alignment that padding targets.
const BlockSize = 4096

// GeneratePadCommand builds a filler UPDATE_EXTENT command sized so that,
// once it is written at c's current write offset, cmd's data payload starts
// on a BlockSize boundary.
func (cmd *Command) GeneratePadCommand(c *Context) (*Command, error) {
	dst, err := c.DestinationVersion()
	if err != nil {
		return nil, err
	}
	if cmd.dirty {
		return nil, errors.Errorf("padding dirty %s", cmd)
	}
	preData, err := cmd.preDataSize()
	if err != nil {
		return nil, err
	}

	emptyPath, err := NewAttributeString(c, AttrPath, "")
	if err != nil {
		return nil, err
	}
	fileOffset, err := NewAttributeU64(c, AttrFileOffset, 0)
	if err != nil {
		return nil, err
	}
	size, err := NewAttributeU64(c, AttrSize, 0)
	if err != nil {
		return nil, err
	}

	dataHeaderSize := cmd.data.Size() - cmd.data.PayloadSize()
	padSize := BlockSize - (c.WriteOffset()+preData+dataHeaderSize)%BlockSize
	overhead := CommandHeaderSize + emptyPath.Size() + fileOffset.Size() + size.Size()
	if padSize < overhead {
		padSize += BlockSize
	}

	h, err := padCommandHeader(c, padSize-CommandHeaderSize)
	if err != nil {
		return nil, err
	}
	path, err := NewAttributeString(c, AttrPath, strings.Repeat("a", padSize-overhead))
	if err != nil {
		return nil, err
	}

	buf := make([]byte, padSize)
	if err := c.WithChild(nil, buf, dst, dst, func(sc *Context) error {
		if err := h.Persist(sc, true); err != nil {
			return err
		}
		for _, a := range []*Attribute{path, fileOffset, size} {
			if err := a.Persist(sc); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "building pad command")
	}
	if err := h.SetCRC32C(c.CRC32C(buf)); err != nil {
		return nil, err
	}
	if err := c.WithChild(nil, buf, dst, dst, func(sc *Context) error { return h.Persist(sc, false) }); err != nil {
		return nil, err
	}

	pad := Command{
		header:           h,
		buf:              buf,
		path:             path.PayloadString(),
		hasPath:          true,
		hasStartOffset:   true,
		uncompressedSize: padSize,
		version:          dst,
	}
	c.Logger.Debugf("Padding %s with %s", cmd, &pad)
	return &pad, nil
}

func (cmd *Command) persistPadding(c *Context) error {
	if cmd.data == nil || !cmd.hasStartOffset {
		return errors.Errorf("trying to pad %s without a data attribute and start offset", cmd)
	}
	if cmd.startOffset%BlockSize != 0 || cmd.data.PayloadSize()%BlockSize != 0 {
		return nil
	}

	pad, err := cmd.GeneratePadCommand(c)
	if err != nil {
		return err
	}
	if err := c.Write(pad.buf, pad.uncompressedSize); err != nil {
		return err
	}
	c.stats.CommandsWritten++
	commandsWritten.WithLabelValues(pad.header.Type.String()).Inc()

	preData, _ := cmd.preDataSize()
	dataOffset := c.WriteOffset() + preData + (cmd.data.Size() - cmd.data.PayloadSize())
	if dataOffset%BlockSize != 0 {
		return errors.Errorf("generated pad %s, but data payload would be written at offset %d", pad, dataOffset)
	}
	return nil
}
