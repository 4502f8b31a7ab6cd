// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrSourceVersionNotSet is returned when a Context's source version is
	// queried before SetVersions.
	ErrSourceVersionNotSet = errors.New("source version not set")
	// ErrDestinationVersionNotSet is returned when a Context's destination
	// version is queried before SetVersions.
	ErrDestinationVersionNotSet = errors.New("destination version not set")
)

// FailedToShrinkPayloadError is returned by compression when the compressed
// payload does not save at least MinBytesToSave bytes.
//
// It is an expected outcome for incompressible data; callers fall back to
// writing the data uncompressed.
type FailedToShrinkPayloadError struct {
	OldPayloadSize int
	NewPayloadSize int
	MinBytesToSave int
}

func (e *FailedToShrinkPayloadError) Error() string {
	return fmt.Sprintf("failed to compress attribute: old payload size %dB is smaller than "+
		"new payload size %dB + bytes to save %dB", e.OldPayloadSize, e.NewPayloadSize, e.MinBytesToSave)
}

// IsFailedToShrink returns true if err's cause is a FailedToShrinkPayloadError.
func IsFailedToShrink(err error) bool {
	_, ok := errors.Cause(err).(*FailedToShrinkPayloadError)
	return ok
}

// BadTypeError is returned when a header names a command or attribute type
// that is not known.
type BadTypeError struct {
	// What is the kind of header, "command" or "attribute".
	What string
	// Type is the offending raw type value.
	Type uint16
}

func newBadTypeError(what string, t uint16) *BadTypeError {
	decodeErrors.WithLabelValues("bad_" + what + "_type").Inc()
	return &BadTypeError{What: what, Type: t}
}

func (e *BadTypeError) Error() string {
	return fmt.Sprintf("constructing a send %s header from a bad type %d", e.What, e.Type)
}
