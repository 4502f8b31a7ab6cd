// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"github.com/pkg/errors"
)

// Default option values.
const (
	DefaultCompressionLevel         = 3
	DefaultMaximumBatchedExtentSize = 128 * 1024
	DefaultReadBufferSize           = 8 * 1024
	DefaultWriteBufferSize          = 8 * 1024

	// DefaultMaxCommandSize matches the kernel's version 2 send buffer: room
	// for a maximal compressed extent plus its attributes.
	DefaultMaxCommandSize = 16*1024 + 128*1024

	// MaxCompressionLevel is the highest zstd level accepted.
	MaxCompressionLevel = 22
)

// Options controls how commands are transformed.
type Options struct {
	// AvoidCRCingInput skips validation of input command checksums.
	AvoidCRCingInput bool
	// BytesToLog, if non-zero, dumps this many leading bytes of every
	// verified command at debug level.
	BytesToLog int
	// CompressionLevel is the zstd level used for data payloads. Zero
	// disables compression.
	CompressionLevel int
	// MaximumBatchedExtentSize bounds the data payload of a coalesced write.
	// Zero disables coalescing.
	MaximumBatchedExtentSize int
	// PadWithDummyCommands inserts filler commands so that aligned write
	// payloads land on aligned output offsets.
	PadWithDummyCommands bool
	// SerdeChecks re-parses every produced element and compares it to the
	// original.
	SerdeChecks bool

	// MaxCommandSize bounds the serialized size of a command read from the
	// source, header included. Zero uses DefaultMaxCommandSize.
	MaxCommandSize int

	// ReadBufferSize is the size of the source read buffer.
	ReadBufferSize int
	// WriteBufferSize is the size of the destination write buffer.
	WriteBufferSize int
}

// DefaultOptions returns the default Options.
func DefaultOptions() *Options {
	return &Options{
		CompressionLevel:         DefaultCompressionLevel,
		MaximumBatchedExtentSize: DefaultMaximumBatchedExtentSize,
		ReadBufferSize:           DefaultReadBufferSize,
		WriteBufferSize:          DefaultWriteBufferSize,
		MaxCommandSize:           DefaultMaxCommandSize,
	}
}

// CheckCommandSize returns an error if a command whose header announces a
// payload of payload bytes would exceed the maximum command size.
func (o *Options) CheckCommandSize(payload int) error {
	limit := o.MaxCommandSize
	if limit <= 0 {
		limit = DefaultMaxCommandSize
	}
	if payload < 0 || payload > limit-CommandHeaderSize {
		return errors.Errorf("command payload of %dB exceeds the %dB maximum command size", payload, limit)
	}
	return nil
}
