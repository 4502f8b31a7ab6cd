// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"context"

	"github.com/pkg/errors"
)

// Status is a worker's externally visible state.
type Status int

const (
	// StatusRunning means the worker has not returned.
	StatusRunning Status = iota
	// StatusFinished means the worker returned without error.
	StatusFinished
	// StatusFailed means the worker returned an error.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// worker runs a single stage instance in its own goroutine.
type worker struct {
	name string
	run  func(context.Context) error

	finishedC chan struct{}
	err       error
}

func newWorker(name string, run func(context.Context) error) *worker {
	return &worker{
		name:      name,
		run:       run,
		finishedC: make(chan struct{}),
	}
}

func (w *worker) start(c context.Context) {
	go func() {
		defer close(w.finishedC)
		defer func() {
			if r := recover(); r != nil {
				w.err = errors.Errorf("panic: %v", r)
			}
		}()
		w.err = w.run(c)
	}()
}

// status reports the worker's state without blocking.
func (w *worker) status() (Status, error) {
	select {
	case <-w.finishedC:
		if w.err != nil {
			return StatusFailed, w.err
		}
		return StatusFinished, nil
	default:
		return StatusRunning, nil
	}
}
