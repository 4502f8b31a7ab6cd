// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"github.com/pkg/errors"
)

// State is the lifecycle state of a blocking primitive.
type State int

const (
	// StateRunning primitives accept and hand out elements.
	StateRunning State = iota
	// StateDone primitives hand out their remaining elements, then report that
	// nothing more will arrive.
	StateDone
	// StateAborted primitives fail every operation.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ErrAborted is returned by operations on an aborted primitive.
var ErrAborted = errors.New("aborted")

// Haltable is a blocking primitive that can be told to stop.
type Haltable interface {
	// Name returns a human-readable name for logging.
	Name() string
	// State returns the primitive's current state.
	State() State
	// Halt stops the primitive, waking every blocked caller. If unplanned is
	// true, the primitive is aborted; otherwise it is marked done.
	Halt(unplanned bool) error
}
