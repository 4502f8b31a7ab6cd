// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"github.com/pkg/errors"
)

// UpgradeCommand brings cmd to c's destination version, upgrading it if its
// layout changes and advancing its version otherwise.
func UpgradeCommand(c *Context, cmd *Command) (*Command, error) {
	ok, err := cmd.IsUpgradeable(c)
	if err != nil {
		return nil, err
	}
	if ok {
		return cmd.Upgrade(c)
	}
	if err := cmd.FakeAnUpgrade(c); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Finalize prepares cmd to be persisted. If cmd is compressible and
// compression is enabled, its compressed form is returned; data that does
// not compress well enough falls back to the uncompressed command. A dirty
// command is flushed.
func Finalize(c *Context, cmd *Command) (*Command, error) {
	if cmd.IsCompressible() && c.Options.CompressionLevel != 0 {
		compressed, err := cmd.Compress(c)
		switch {
		case err == nil:
			return compressed, nil
		case !IsFailedToShrink(err):
			return nil, err
		}
		c.Logger.Debugf("Writing %s uncompressed: %s", cmd, err)
	}
	if cmd.IsDirty() {
		if err := cmd.Flush(c); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

// Batcher coalesces contiguous appendable commands.
//
// Commands are pushed in stream order. Each Push returns the commands that
// are ready to be finalized and persisted, in order. Appendable commands with
// no data left after coalescing are dropped.
type Batcher struct {
	prev  *Command
	ended bool
}

// Push adds cmd, which must already be at the destination version.
func (b *Batcher) Push(c *Context, cmd *Command) ([]*Command, error) {
	if b.ended {
		return nil, errors.Errorf("received %s after the end of the stream", cmd)
	}

	var out []*Command
	if prev := b.prev; prev != nil {
		if prev.CanAppend(cmd) {
			n, err := prev.Append(c, cmd)
			if err != nil {
				return nil, err
			}
			if err := cmd.TruncateDataPayloadAtStart(c, n); err != nil {
				return nil, err
			}
		}
		if prev.IsFull(c) || !cmd.IsEmpty() {
			out = append(out, prev)
			b.prev = nil
		}
	}

	switch {
	case cmd.IsEnd():
		if b.prev != nil {
			return nil, errors.Errorf("unexpected previous command %s at the end of the stream", b.prev)
		}
		b.ended = true
		out = append(out, cmd)
	case !cmd.IsAppendable():
		if b.prev != nil {
			return nil, errors.Errorf("unexpected previous command %s before %s", b.prev, cmd)
		}
		out = append(out, cmd)
	case !cmd.IsEmpty():
		b.prev = cmd
	default:
		c.Logger.Debugf("Dropping empty %s", cmd)
	}
	return out, nil
}

// Ended returns true once the END command has been pushed.
func (b *Batcher) Ended() bool { return b.ended }
