// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/danjacques/gosendstream/support/logging"

	"github.com/pkg/errors"
)

// errHalted is returned by a stage that stops because the run crashed.
var errHalted = errors.New("halted after a crash")

// haltSignal is the single broadcast that stops every worker.
//
// The first call to halt cancels the workers' Context and halts every
// primitive. A crashed halt aborts the primitives, failing all blocked and
// future operations on them. A planned halt marks still-running primitives
// done.
type haltSignal struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger logging.L

	primitives []Haltable

	once    sync.Once
	crashed atomic.Bool
}

func newHaltSignal(c context.Context, l logging.L, primitives ...Haltable) *haltSignal {
	h := haltSignal{
		logger:     logging.Must(l),
		primitives: primitives,
	}
	h.ctx, h.cancel = context.WithCancel(c)
	return &h
}

// halt stops everything. Only the first call takes effect, though a crash is
// always recorded.
func (h *haltSignal) halt(crashed bool) {
	if crashed {
		h.crashed.Store(true)
	}
	h.once.Do(func() {
		h.cancel()
		for _, p := range h.primitives {
			if !crashed && p.State() != StateRunning {
				continue
			}
			if err := p.Halt(crashed); err != nil {
				h.logger.Debugf("Halting %s: %s", p.Name(), err)
			}
		}
	})
}

// hasCrashed returns true if a crashed halt was requested.
func (h *haltSignal) hasCrashed() bool { return h.crashed.Load() }
