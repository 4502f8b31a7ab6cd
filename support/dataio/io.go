// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package dataio

import (
	"io"
)

// ReadFull reads from r until buf is full, or until an error is encountered.
//
// This accommodates the fact that io.Reader is allowed to return less than the
// full buffer size without erroring. Reaching EOF before buf is full is
// reported as io.ErrUnexpectedEOF.
func ReadFull(r io.Reader, buf []byte) error {
	switch amt, err := ReadFill(r, buf); {
	case err != nil:
		return err
	case amt < len(buf):
		return io.ErrUnexpectedEOF
	default:
		return nil
	}
}

// ReadFill reads from r until buf is full or r reaches EOF, returning the
// number of bytes read.
//
// Unlike ReadFull, EOF is not an error: a short count with a nil error means
// that r was exhausted.
func ReadFill(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		amt, err := r.Read(buf[total:])
		total += amt
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}
