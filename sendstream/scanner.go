// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"github.com/pkg/errors"
)

// Scanner walks the commands of a send stream of any supported version,
// decoding each into its Operation.
//
// Scanner follows bufio.Scanner's pattern:
//
//	s := NewScanner(c)
//	for s.Scan() {
//		op := s.Operation()
//		...
//	}
//	if err := s.Err(); err != nil {
//		...
//	}
type Scanner struct {
	// DecompressEncodedWrites, if true, causes EncodedWrite operations to be
	// returned as their decompressed Write equivalents.
	DecompressEncodedWrites bool

	c       *Context
	version Version

	cmd *Command
	op  Operation

	done bool
	err  error
}

// NewScanner returns a Scanner reading from c's source. The Scanner sets c's
// versions from the stream header.
func NewScanner(c *Context) *Scanner {
	return &Scanner{c: c}
}

// Version returns the stream's version. It is valid after the first call to
// Scan.
func (s *Scanner) Version() Version { return s.version }

// Scan advances to the next command. It returns false at the end of the
// stream or on error.
func (s *Scanner) Scan() bool {
	if s.done {
		return false
	}
	if s.version == VersionUnset {
		v, err := ReadStreamHeader(s.c)
		if err != nil {
			return s.fail(err)
		}
		s.version = v
		s.c.SetVersions(v, v)
	}

	cmd, err := ReadCommand(s.c)
	if err != nil {
		return s.fail(errors.Wrapf(err, "reading command at offset %d", s.c.ReadOffset()))
	}
	op, err := DecodeCommand(s.c, cmd)
	if err != nil {
		return s.fail(err)
	}
	if ew, ok := op.(*EncodedWrite); ok && s.DecompressEncodedWrites {
		if op, err = ew.Decompress(); err != nil {
			return s.fail(err)
		}
	}

	s.cmd, s.op = cmd, op
	if cmd.IsEnd() {
		s.done = true
	}
	return true
}

func (s *Scanner) fail(err error) bool {
	s.err, s.done = err, true
	s.cmd, s.op = nil, nil
	return false
}

// Command returns the most recently scanned Command.
func (s *Scanner) Command() *Command { return s.cmd }

// Operation returns the most recently scanned Operation.
func (s *Scanner) Operation() Operation { return s.op }

// Err returns the first error encountered while scanning. A stream that ends
// without an END command is an error.
func (s *Scanner) Err() error { return s.err }
