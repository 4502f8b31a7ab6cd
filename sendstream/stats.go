// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"fmt"
	"strings"
	"time"
)

// Stats accumulates counters and phase timings for a Context.
//
// Stats only ever grow. Stats from independent Contexts combine with Add;
// a child Context always starts from zero, so adding its Stats to its
// parent's never double counts.
type Stats struct {
	BufferReadTime  time.Duration
	StorageReadTime time.Duration
	BytesRead       uint64
	ReadsIssued     uint64

	BufferWriteTime  time.Duration
	StorageWriteTime time.Duration

	CompressTime      time.Duration
	CompressionPassed uint64
	CompressionFailed uint64

	CompressedBytesWritten   uint64
	CompressedWritesIssued   uint64
	UncompressedBytesWritten uint64
	UncompressedWritesIssued uint64
	LogicalBytesWritten      uint64

	BytesCopied uint64

	CRC32CTime  time.Duration
	CRC32CBytes uint64

	CommandsRead    uint64
	CommandsWritten uint64

	AppendTime    time.Duration
	BytesAppended uint64

	TruncateTime   time.Duration
	BytesTruncated uint64

	AttributePopulationTime time.Duration

	ContextCreateTime time.Duration
	ContextReturnTime time.Duration
}

// Add adds the contents of o into s.
func (s *Stats) Add(o *Stats) {
	s.BufferReadTime += o.BufferReadTime
	s.StorageReadTime += o.StorageReadTime
	s.BytesRead += o.BytesRead
	s.ReadsIssued += o.ReadsIssued

	s.BufferWriteTime += o.BufferWriteTime
	s.StorageWriteTime += o.StorageWriteTime

	s.CompressTime += o.CompressTime
	s.CompressionPassed += o.CompressionPassed
	s.CompressionFailed += o.CompressionFailed

	s.CompressedBytesWritten += o.CompressedBytesWritten
	s.CompressedWritesIssued += o.CompressedWritesIssued
	s.UncompressedBytesWritten += o.UncompressedBytesWritten
	s.UncompressedWritesIssued += o.UncompressedWritesIssued
	s.LogicalBytesWritten += o.LogicalBytesWritten

	s.BytesCopied += o.BytesCopied

	s.CRC32CTime += o.CRC32CTime
	s.CRC32CBytes += o.CRC32CBytes

	s.CommandsRead += o.CommandsRead
	s.CommandsWritten += o.CommandsWritten

	s.AppendTime += o.AppendTime
	s.BytesAppended += o.BytesAppended

	s.TruncateTime += o.TruncateTime
	s.BytesTruncated += o.BytesTruncated

	s.AttributePopulationTime += o.AttributePopulationTime

	s.ContextCreateTime += o.ContextCreateTime
	s.ContextReturnTime += o.ContextReturnTime
}

// AccountedTime returns the sum of every tracked phase duration.
func (s *Stats) AccountedTime() time.Duration {
	return s.BufferReadTime + s.StorageReadTime + s.BufferWriteTime + s.StorageWriteTime +
		s.CompressTime + s.CRC32CTime + s.AppendTime + s.TruncateTime +
		s.AttributePopulationTime + s.ContextCreateTime + s.ContextReturnTime
}

// OtherTime returns the part of total not covered by a tracked phase. It
// never goes below zero.
func (s *Stats) OtherTime(total time.Duration) time.Duration {
	if acc := s.AccountedTime(); acc < total {
		return total - acc
	}
	return 0
}

func (s *Stats) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<Stats BytesRead=%d ReadsIssued=%d", s.BytesRead, s.ReadsIssued)
	fmt.Fprintf(&sb, " CommandsRead=%d CommandsWritten=%d", s.CommandsRead, s.CommandsWritten)
	fmt.Fprintf(&sb, " CompressionPassed=%d CompressionFailed=%d", s.CompressionPassed, s.CompressionFailed)
	fmt.Fprintf(&sb, " CompressedBytesWritten=%d CompressedWritesIssued=%d",
		s.CompressedBytesWritten, s.CompressedWritesIssued)
	fmt.Fprintf(&sb, " UncompressedBytesWritten=%d UncompressedWritesIssued=%d",
		s.UncompressedBytesWritten, s.UncompressedWritesIssued)
	fmt.Fprintf(&sb, " LogicalBytesWritten=%d BytesCopied=%d", s.LogicalBytesWritten, s.BytesCopied)
	fmt.Fprintf(&sb, " CRC32CBytes=%d BytesAppended=%d BytesTruncated=%d/>",
		s.CRC32CBytes, s.BytesAppended, s.BytesTruncated)
	return sb.String()
}
