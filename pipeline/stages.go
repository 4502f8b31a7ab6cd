// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/danjacques/gosendstream/sendstream"

	"github.com/pkg/errors"
)

// run holds the shared state of one pipeline execution.
type run struct {
	co *Coordinator

	srcVersion sendstream.Version
	dstVersion sendstream.Version

	halt  *haltSignal
	cache *ReadOnceBufferCache

	constructionQ *Queue[*commandInfo]
	batcherQ      *OrderedQueue[*commandBatch]
	compressionQ  *Queue[*commandBatch]
	writerQ       *OrderedQueue[*commandBatch]

	constructionLeft int32
	compressionLeft  int32

	statsMu sync.Mutex
	stats   sendstream.Stats
}

// workerContext returns a fresh Context for one worker's in-memory work.
func (r *run) workerContext() *sendstream.Context {
	c := sendstream.NewContext(r.co.Source.Options, r.co.Source.Logger, nil, nil)
	c.SetVersions(r.srcVersion, r.dstVersion)
	return c
}

// mergeStats adds a worker's Stats into the run's.
func (r *run) mergeStats(c *sendstream.Context) {
	s := c.Stats()
	r.addStats(&s)
}

func (r *run) addStats(s *sendstream.Stats) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.stats.Add(s)
}

func (r *run) snapshotStats() sendstream.Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

func (r *run) checkHalted() error {
	if r.halt.hasCrashed() {
		return errHalted
	}
	return nil
}

// sourceReader adapts a root Context to io.Reader. Each Read returns as
// soon as the source has any bytes, and its Stats go straight to the run, so
// nothing is lost if the prefetcher is left blocked in a Read.
type sourceReader struct {
	r *run
	c *sendstream.Context
}

func (sr sourceReader) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	amt, err := sr.c.ReadSome(buf)
	s := sr.c.TakeStats()
	sr.r.addStats(&s)
	return amt, err
}

// prefetch fills the buffer cache from the source.
func (r *run) prefetch(c context.Context) error {
	return r.cache.Prefetch(sourceReader{r, r.co.Source.SplitSource()})
}

// read walks command headers through the cache, handing each command's
// location to the construction workers.
func (r *run) read(c context.Context) error {
	offset := 0
	for id := uint64(0); ; id++ {
		if err := r.checkHalted(); err != nil {
			return err
		}

		raw := make([]byte, sendstream.CommandHeaderSize)
		if err := r.cache.ReadExact(raw, offset); err != nil {
			return errors.Wrapf(err, "reading header of command #%d at offset %d", id, offset)
		}
		size := int(binary.LittleEndian.Uint32(raw[0:4]))
		ct := sendstream.CommandType(binary.LittleEndian.Uint16(raw[4:6]))
		if err := r.co.Source.Options.CheckCommandSize(size); err != nil {
			return errors.Wrapf(err, "command #%d at offset %d", id, offset)
		}

		raw = append(raw, make([]byte, size)...)
		ci := commandInfo{
			id:            id,
			payloadOffset: offset + sendstream.CommandHeaderSize,
			raw:           raw,
		}
		if err := r.constructionQ.Enqueue(&ci); err != nil {
			return err
		}
		offset += len(raw)

		if ct == sendstream.CmdEnd {
			r.co.logger().Debugf("Read stage reached the end after %d command(s).", id+1)
			r.cache.SetEnd(offset)
			return r.constructionQ.Halt(false)
		}
	}
}

// construct parses and upgrades commands.
func (r *run) construct(c context.Context) error {
	wc := r.workerContext()
	defer r.mergeStats(wc)

	for {
		if err := r.checkHalted(); err != nil {
			return err
		}
		ci, ok, err := r.constructionQ.Dequeue()
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		if err := r.cache.ReadExact(ci.raw[sendstream.CommandHeaderSize:], ci.payloadOffset); err != nil {
			return errors.Wrapf(err, "reading payload of command #%d", ci.id)
		}
		cmd, err := sendstream.ReadCommandFrom(wc, ci.raw)
		if err != nil {
			return errors.Wrapf(err, "constructing command #%d", ci.id)
		}
		if cmd, err = sendstream.UpgradeCommand(wc, cmd); err != nil {
			return errors.Wrapf(err, "upgrading command #%d", ci.id)
		}
		if err := r.batcherQ.Enqueue(&commandBatch{id: ci.id, cmd: cmd}); err != nil {
			return err
		}
	}

	if atomic.AddInt32(&r.constructionLeft, -1) == 0 {
		return r.batcherQ.Halt(false)
	}
	return nil
}

// batch coalesces commands in stream order and assigns output sequence IDs.
func (r *run) batch(c context.Context) error {
	wc := r.workerContext()
	defer r.mergeStats(wc)

	var (
		b    sendstream.Batcher
		next uint64
	)
	for !b.Ended() {
		if err := r.checkHalted(); err != nil {
			return err
		}
		e, ok, err := r.batcherQ.Dequeue()
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("batcher input ended before the END command")
		}

		out, err := b.Push(wc, e.cmd)
		if err != nil {
			return errors.Wrapf(err, "batching command #%d", e.id)
		}
		for _, cmd := range out {
			if err := r.compressionQ.Enqueue(&commandBatch{id: next, cmd: cmd}); err != nil {
				return err
			}
			next++
		}
	}
	return r.compressionQ.Halt(false)
}

// compress finalizes batched commands.
func (r *run) compress(c context.Context) error {
	wc := r.workerContext()
	defer r.mergeStats(wc)

	for {
		if err := r.checkHalted(); err != nil {
			return err
		}
		e, ok, err := r.compressionQ.Dequeue()
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		cmd, err := sendstream.Finalize(wc, e.cmd)
		if err != nil {
			return errors.Wrapf(err, "finalizing batch #%d", e.id)
		}
		if err := r.writerQ.Enqueue(&commandBatch{id: e.id, cmd: cmd}); err != nil {
			return err
		}
	}

	if atomic.AddInt32(&r.compressionLeft, -1) == 0 {
		return r.writerQ.Halt(false)
	}
	return nil
}

// write persists finalized commands in order.
func (r *run) write(c context.Context) error {
	dst := r.co.Destination
	for {
		if err := r.checkHalted(); err != nil {
			return err
		}
		e, ok, err := r.writerQ.Dequeue()
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("writer input ended before the END command")
		}

		if err := e.cmd.Persist(dst); err != nil {
			return errors.Wrapf(err, "persisting batch #%d", e.id)
		}
		if e.cmd.IsEnd() {
			return dst.Flush()
		}
	}
}
