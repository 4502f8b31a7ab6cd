// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"fmt"

	"github.com/danjacques/gosendstream/sendstream"
)

// commandInfo is a command located by the read stage, waiting for its
// payload to be fetched and parsed.
type commandInfo struct {
	id uint64
	// payloadOffset is the cache offset of the command's payload.
	payloadOffset int
	// raw holds the command header; the payload is filled in by a
	// construction worker.
	raw []byte
}

// commandBatch carries a command between ordered stages.
type commandBatch struct {
	id  uint64
	cmd *sendstream.Command
}

var _ Ordered = (*commandBatch)(nil)

func (cb *commandBatch) FirstID() uint64    { return cb.id }
func (cb *commandBatch) LastID() uint64     { return cb.id }
func (cb *commandBatch) LastIDShared() bool { return false }

func (cb *commandBatch) String() string { return fmt.Sprintf("#%d %s", cb.id, cb.cmd) }
