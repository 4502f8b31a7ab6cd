// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/danjacques/gosendstream/sendstream"
	"github.com/danjacques/gosendstream/support/logging"

	"github.com/pkg/errors"
)

// QueueCapacityPerWorker sizes the queues of a Coordinator with no
// QueueCapacity.
const QueueCapacityPerWorker = 4

// Default polling intervals.
const (
	DefaultMinPollInterval      = time.Millisecond
	DefaultMaxPollInterval      = 128 * time.Millisecond
	DefaultShutdownPollInterval = time.Millisecond
)

// Coordinator upgrades the commands of a send stream using concurrent
// stages:
//
//	prefetch -> read -> construction (xN) -> batcher -> compression (xM) -> write
//
// Construction and compression workers may finish commands out of order.
// The batcher and writer consume sequence-ordered queues, so the output is
// identical to a single-threaded upgrade of the same input.
//
// A Coordinator runs once. Its exported fields must not be changed while it
// is running.
type Coordinator struct {
	// Source is the root Context to read commands from. Its stream header must
	// already have been read and its versions set.
	Source *sendstream.Context
	// Destination is the root Context to write commands to. Its stream header
	// must already have been written and its versions set.
	Destination *sendstream.Context

	// ConstructionThreads and CompressionThreads are the number of workers
	// for the scalable stages. See ThreadCounts.
	ConstructionThreads int
	CompressionThreads  int

	// MaxCachedBuffers bounds the read buffer cache. If zero,
	// DefaultMaxCachedBuffers is used.
	MaxCachedBuffers int

	// QueueCapacity bounds the number of elements waiting in each queue
	// between stages. A producer blocks while its queue is full. If zero,
	// QueueCapacityPerWorker entries are allowed per worker.
	QueueCapacity int

	// Polling intervals. Zero values use the defaults.
	MinPollInterval      time.Duration
	MaxPollInterval      time.Duration
	ShutdownPollInterval time.Duration

	// Logger is the logger instance to use. If nil, no logging will be
	// performed.
	Logger logging.L

	stats sendstream.Stats
	peaks QueuePeaks
}

// QueuePeaks holds the largest number of elements each queue held during a
// run.
type QueuePeaks struct {
	Construction int
	Batcher      int
	Compression  int
	Writer       int
}

func (co *Coordinator) logger() logging.L { return logging.Must(co.Logger) }

// Stats returns the combined Stats of every worker that used its own
// Context. It does not include the Source and Destination Contexts' Stats.
func (co *Coordinator) Stats() sendstream.Stats { return co.stats }

// QueuePeaks returns the queue depths reached by the last run.
func (co *Coordinator) QueuePeaks() QueuePeaks { return co.peaks }

// Run runs the pipeline to completion.
//
// If any worker fails, every worker is halted and a *CrashError is returned.
// Output written before the failure is left in place.
func (co *Coordinator) Run(c context.Context) error {
	if co.Source == nil || co.Destination == nil {
		return errors.New("a source and destination are required")
	}
	if co.ConstructionThreads <= 0 || co.CompressionThreads <= 0 {
		return errors.Errorf("invalid thread counts (%d, %d)", co.ConstructionThreads, co.CompressionThreads)
	}
	src, err := co.Source.SourceVersion()
	if err != nil {
		return err
	}
	dst, err := co.Source.DestinationVersion()
	if err != nil {
		return err
	}
	if err := co.Destination.Flush(); err != nil {
		return err
	}

	maxBuffers := co.MaxCachedBuffers
	if maxBuffers <= 0 {
		maxBuffers = DefaultMaxCachedBuffers
	}
	bufferSize := co.Source.Options.ReadBufferSize
	if bufferSize <= 0 {
		bufferSize = sendstream.DefaultReadBufferSize
	}
	cache, err := NewReadOnceBufferCache(bufferSize, maxBuffers)
	if err != nil {
		return err
	}

	queueCap := co.QueueCapacity
	if queueCap <= 0 {
		queueCap = QueueCapacityPerWorker * (co.ConstructionThreads + co.CompressionThreads)
	}

	r := run{
		co:               co,
		srcVersion:       src,
		dstVersion:       dst,
		cache:            cache,
		constructionQ:    NewQueue[*commandInfo]("construction", queueCap),
		batcherQ:         NewOrderedQueue[*commandBatch]("batcher", queueCap),
		compressionQ:     NewQueue[*commandBatch]("compression", queueCap),
		writerQ:          NewOrderedQueue[*commandBatch]("writer", queueCap),
		constructionLeft: int32(co.ConstructionThreads),
		compressionLeft:  int32(co.CompressionThreads),
	}
	r.halt = newHaltSignal(c, co.Logger, r.cache, r.constructionQ, r.batcherQ, r.compressionQ, r.writerQ)

	const prefetcher = 0
	workers := []*worker{
		newWorker("prefetch", r.prefetch),
		newWorker("read", r.read),
		newWorker("batcher", r.batch),
	}
	for i := 0; i < co.ConstructionThreads; i++ {
		workers = append(workers, newWorker(fmt.Sprintf("construction-%d", i), r.construct))
	}
	for i := 0; i < co.CompressionThreads; i++ {
		workers = append(workers, newWorker(fmt.Sprintf("compression-%d", i), r.compress))
	}
	workers = append(workers, newWorker("write", r.write))

	co.logger().Infof("Starting pipeline with %d construction and %d compression worker(s), queue capacity %d.",
		co.ConstructionThreads, co.CompressionThreads, queueCap)
	for _, w := range workers {
		w.start(r.halt.ctx)
	}
	activeWorkers.Add(float64(len(workers)))

	p := poller{
		logger:  co.logger(),
		workers: workers,
		active:  make([]bool, len(workers)),
	}
	for i := range p.active {
		p.active[i] = true
	}
	p.remaining = len(workers)

	// Poll with back-off until the writer finishes or something fails.
	interval := durationOr(co.MinPollInterval, DefaultMinPollInterval)
	maxInterval := durationOr(co.MaxPollInterval, DefaultMaxPollInterval)
	writer := len(workers) - 1
	for p.remaining > 0 {
		select {
		case <-c.Done():
			p.fail("coordinator", c.Err())
		case <-time.After(interval):
		}
		if interval *= 2; interval > maxInterval {
			interval = maxInterval
		}

		p.scan(false)
		if p.crashed || !p.active[writer] {
			break
		}
	}

	// Halt everything, then wait for the stragglers.
	r.halt.halt(p.crashed)
	shutdownInterval := durationOr(co.ShutdownPollInterval, DefaultShutdownPollInterval)
	for p.remaining > 0 {
		time.Sleep(shutdownInterval)
		p.scan(r.halt.hasCrashed())

		// A source that stays open after END leaves the prefetcher blocked in
		// a Read that has nothing more to deliver.
		if !p.crashed && p.active[prefetcher] && cache.ReachedEnd() {
			co.logger().Debugf("Leaving worker %s blocked on a source that is still open.", workers[prefetcher].name)
			p.detach(prefetcher)
		}
	}
	co.peaks = QueuePeaks{
		Construction: r.constructionQ.Peak(),
		Batcher:      r.batcherQ.Peak(),
		Compression:  r.compressionQ.Peak(),
		Writer:       r.writerQ.Peak(),
	}
	co.logger().Debugf("Peak queue depths: %+v", co.peaks)

	co.stats = r.snapshotStats()
	if p.crashed {
		return &CrashError{Failures: p.failures}
	}
	co.logger().Infof("Pipeline finished.")
	return nil
}

// poller tracks which workers are still running.
type poller struct {
	logger  logging.L
	workers []*worker

	active    []bool
	remaining int

	crashed  bool
	failures []*WorkerFailure
}

func (p *poller) fail(name string, err error) {
	p.crashed = true
	p.failures = append(p.failures, &WorkerFailure{Worker: name, Err: err})
}

// scan checks every active worker once. While draining after a crash,
// failures caused by the halt itself are expected and only logged.
func (p *poller) scan(draining bool) {
	for i, w := range p.workers {
		if !p.active[i] {
			continue
		}
		st, err := w.status()
		switch st {
		case StatusRunning:
			continue
		case StatusFailed:
			if draining && isHaltError(err) {
				p.logger.Debugf("Worker %s stopped after halt: %s", w.name, err)
				break
			}
			p.logger.Errorf("Worker %s failed: %s", w.name, err)
			workerFailures.WithLabelValues(stageName(w.name)).Inc()
			p.fail(w.name, err)
		default:
			p.logger.Debugf("Worker %s finished.", w.name)
		}
		p.detach(i)
	}
}

// detach stops tracking worker i.
func (p *poller) detach(i int) {
	p.active[i] = false
	p.remaining--
	activeWorkers.Dec()
}

func isHaltError(err error) bool {
	switch errors.Cause(err) {
	case ErrAborted, errHalted:
		return true
	default:
		return false
	}
}

// stageName strips the instance suffix from a worker name.
func stageName(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '-' {
			return name[:i]
		}
	}
	return name
}

func durationOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
