// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"sync"

	"github.com/pkg/errors"
)

// Queue is a bounded FIFO shared by any number of producers and consumers.
//
// Producers block while the queue holds capacity elements.
type Queue[T any] struct {
	name     string
	capacity int

	mu       sync.Mutex
	notEmpty sync.Cond
	notFull  sync.Cond
	items    []T
	peak     int
	state    State
}

// NewQueue returns a running Queue holding at most capacity elements. A
// capacity below one is treated as one.
func NewQueue[T any](name string, capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := Queue[T]{
		name:     name,
		capacity: capacity,
		items:    make([]T, 0, capacity),
	}
	q.notEmpty.L = &q.mu
	q.notFull.L = &q.mu
	return &q
}

// Name implements Haltable.
func (q *Queue[T]) Name() string { return q.name }

// State implements Haltable.
func (q *Queue[T]) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue's capacity.
func (q *Queue[T]) Cap() int { return q.capacity }

// Peak returns the largest number of elements ever queued at once.
func (q *Queue[T]) Peak() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peak
}

// Enqueue adds v to the back of the queue, blocking while the queue is full.
func (q *Queue[T]) Enqueue(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.capacity && q.state == StateRunning {
		q.notFull.Wait()
	}
	switch q.state {
	case StateAborted:
		return errors.Wrapf(ErrAborted, "enqueueing to %s", q.name)
	case StateDone:
		return errors.Errorf("enqueueing to %s while done", q.name)
	}
	q.items = append(q.items, v)
	if len(q.items) > q.peak {
		q.peak = len(q.items)
	}
	queueDepth.WithLabelValues(q.name).Inc()
	q.notEmpty.Signal()
	return nil
}

// Dequeue removes the element at the front of the queue, blocking until one
// is available.
//
// If the queue is done and empty, Dequeue returns false.
func (q *Queue[T]) Dequeue() (v T, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && q.state == StateRunning {
		q.notEmpty.Wait()
	}
	switch {
	case q.state == StateAborted:
		err = errors.Wrapf(ErrAborted, "dequeueing from %s", q.name)
		return
	case len(q.items) == 0:
		return
	}

	v, ok = q.items[0], true
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	queueDepth.WithLabelValues(q.name).Dec()
	q.notFull.Signal()
	return
}

// Halt implements Haltable.
//
// A done queue may still be aborted, but an aborted queue cannot become done.
func (q *Queue[T]) Halt(unplanned bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == StateAborted && !unplanned {
		return errors.Errorf("transitioning %s from aborted to done", q.name)
	}
	if unplanned {
		q.state = StateAborted
	} else {
		q.state = StateDone
	}
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	return nil
}
