// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package sendstream reads, transforms, and writes btrfs send streams.
//
// A send stream is a 17-byte stream header followed by a sequence of
// commands. Each command is a 10-byte header (payload size, type, and a
// CRC32C checksum) followed by a payload of type-length-value attributes:
//
//	stream:    "btrfs-stream\0" | le32 version
//	command:   le32 size | le16 type | le32 crc32c | attributes...
//	attribute: le16 type | le16 length | payload
//
// The checksum covers the entire command with its checksum field zeroed.
// From version 2, the DATA attribute omits its length and extends to the end
// of its command, and file data may be carried zstd-compressed in an
// ENCODED_WRITE command.
//
// All reads and writes go through a Context, which owns the source and
// destination, the versions being translated between, and accumulated
// Stats. Elements are rebuilt into in-memory buffers by child Contexts so
// that a command is only written once it is complete.
//
// Scanner decodes a stream of any supported version into typed Operation
// values.
package sendstream
