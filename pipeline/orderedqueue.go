// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Ordered is an element of an OrderedQueue.
//
// Each element covers the sequence IDs [FirstID, LastID]. Every ID starting
// at zero must be delivered exactly once, except that an element whose
// LastIDShared is true shares its last ID with the FirstID of the element
// that follows it.
type Ordered interface {
	FirstID() uint64
	LastID() uint64
	LastIDShared() bool
}

// OrderedQueue hands out elements strictly in sequence ID order, regardless
// of the order in which they were enqueued.
//
// A consumer blocks until the next element in sequence has been enqueued.
// The queue only admits elements whose FirstID lies within capacity IDs of
// the next expected one; producers of later elements block until the
// consumer catches up. The next expected element is always admitted, so a
// full queue cannot stall the sequence.
type OrderedQueue[T Ordered] struct {
	name     string
	capacity uint64

	mu      sync.Mutex
	ready   sync.Cond
	space   sync.Cond
	items   map[uint64]T
	firstID uint64
	peak    int
	state   State
}

// NewOrderedQueue returns a running OrderedQueue whose first element has
// sequence ID zero. A capacity below one is treated as one.
func NewOrderedQueue[T Ordered](name string, capacity int) *OrderedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := OrderedQueue[T]{
		name:     name,
		capacity: uint64(capacity),
		items:    make(map[uint64]T, capacity),
	}
	q.ready.L = &q.mu
	q.space.L = &q.mu
	return &q
}

// Name implements Haltable.
func (q *OrderedQueue[T]) Name() string { return q.name }

// State implements Haltable.
func (q *OrderedQueue[T]) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Len returns the number of queued elements, including ones that are not yet
// next in sequence.
func (q *OrderedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue's capacity.
func (q *OrderedQueue[T]) Cap() int { return int(q.capacity) }

// Peak returns the largest number of elements ever queued at once.
func (q *OrderedQueue[T]) Peak() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peak
}

// Enqueue adds v, blocking while v is too far ahead of the next expected
// element. It is an error to enqueue two elements with the same FirstID.
func (q *OrderedQueue[T]) Enqueue(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := v.FirstID()
	for key >= q.firstID+q.capacity && q.state == StateRunning {
		q.space.Wait()
	}
	switch q.state {
	case StateAborted:
		return errors.Wrapf(ErrAborted, "enqueueing to %s", q.name)
	case StateDone:
		return errors.Errorf("enqueueing to %s while done", q.name)
	}
	if v.LastID() < v.FirstID() {
		return errors.Errorf("element %s has last ID %d before first ID %d", describe(v), v.LastID(), v.FirstID())
	}

	if key < q.firstID {
		return errors.Errorf("element %s is behind the next expected ID %d in %s", describe(v), q.firstID, q.name)
	}
	if old, ok := q.items[key]; ok {
		return errors.Errorf("inserting duplicate entry %s into %s (existing %s)", describe(v), q.name, describe(old))
	}
	q.items[key] = v
	if len(q.items) > q.peak {
		q.peak = len(q.items)
	}
	queueDepth.WithLabelValues(q.name).Inc()
	if key == q.firstID {
		q.ready.Broadcast()
	}
	return nil
}

// Dequeue removes the next element in sequence, blocking until it has been
// enqueued.
//
// If the queue is done and the next element is absent, Dequeue returns false.
func (q *OrderedQueue[T]) Dequeue() (v T, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.state == StateRunning {
		if _, has := q.items[q.firstID]; has {
			break
		}
		q.ready.Wait()
	}
	if q.state == StateAborted {
		err = errors.Wrapf(ErrAborted, "dequeueing from %s", q.name)
		return
	}
	if v, ok = q.items[q.firstID]; !ok {
		return
	}

	delete(q.items, q.firstID)
	queueDepth.WithLabelValues(q.name).Dec()
	q.firstID = v.LastID()
	if !v.LastIDShared() {
		q.firstID++
	}
	if _, has := q.items[q.firstID]; has {
		q.ready.Broadcast()
	}
	q.space.Broadcast()
	return
}

// Halt implements Haltable. Halting an OrderedQueue more than once is an
// error.
func (q *OrderedQueue[T]) Halt(unplanned bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateRunning {
		return errors.Errorf("double halt on %s", q.name)
	}
	if unplanned {
		q.state = StateAborted
	} else {
		q.state = StateDone
	}
	q.ready.Broadcast()
	q.space.Broadcast()
	return nil
}

func describe(v interface{}) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}
