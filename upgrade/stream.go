// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package upgrade

import (
	"context"
	"io"
	"runtime"
	"time"

	"github.com/danjacques/gosendstream/pipeline"
	"github.com/danjacques/gosendstream/sendstream"
	"github.com/danjacques/gosendstream/support/logging"

	"github.com/pkg/errors"
)

// Result describes a completed (or failed) upgrade.
type Result struct {
	// SourceVersion is the version read from the input's stream header.
	SourceVersion sendstream.Version
	// Threaded is true if the pipeline was used.
	Threaded bool
	// Stats are the combined Stats of every Context used.
	Stats sendstream.Stats
	// Elapsed is the wall time of the upgrade.
	Elapsed time.Duration
}

// Upgrader upgrades a send stream from a reader to a writer.
type Upgrader struct {
	Config *Config
	// Logger is the logger instance to use. If nil, no logging will be
	// performed.
	Logger logging.L

	// CPUs overrides the CPU count used to size the pipeline. If zero,
	// runtime.NumCPU is used.
	CPUs int
}

func (u *Upgrader) logger() logging.L { return logging.Must(u.Logger) }

// Upgrade reads a stream from r and writes its upgraded form to w.
//
// The Result is returned even on failure, holding whatever was gathered
// before the error. Bytes already written to w are left in place.
func (u *Upgrader) Upgrade(c context.Context, r io.Reader, w io.Writer) (*Result, error) {
	cfg := u.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	res := Result{Threaded: cfg.ThreadCount != 1}
	var err error
	if res.Threaded {
		err = u.upgradeThreaded(c, cfg, r, w, &res)
	} else {
		err = u.upgradeSingle(c, cfg, r, w, &res)
	}
	res.Elapsed = time.Since(start)

	mode := "single"
	if res.Threaded {
		mode = "pipeline"
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	upgradesCompleted.WithLabelValues(mode, result).Inc()
	upgradeDuration.WithLabelValues(mode).Observe(res.Elapsed.Seconds())
	return &res, err
}

// startStream reads the input header and writes the output header.
func startStream(cfg *Config, src, dst *sendstream.Context, res *Result) error {
	v, err := sendstream.ReadStreamHeader(src)
	if err != nil {
		return err
	}
	res.SourceVersion = v
	if v > cfg.DestinationVersion {
		return errors.Errorf("cannot downgrade a %s stream to %s", v, cfg.DestinationVersion)
	}
	src.SetVersions(v, cfg.DestinationVersion)
	if dst != src {
		dst.SetVersions(v, cfg.DestinationVersion)
	}
	return sendstream.WriteStreamHeader(dst)
}

// upgradeSingle upgrades every command on the calling goroutine through a
// single Context.
func (u *Upgrader) upgradeSingle(c context.Context, cfg *Config, r io.Reader, w io.Writer, res *Result) error {
	sc := sendstream.NewContext(cfg.Options(), u.Logger, r, w)
	defer func() {
		res.Stats = sc.Stats()
	}()

	if err := startStream(cfg, sc, sc, res); err != nil {
		return err
	}
	u.logger().Infof("Upgrading a %s stream to %s on a single thread.", res.SourceVersion, cfg.DestinationVersion)

	var b sendstream.Batcher
	for id := 0; !b.Ended(); id++ {
		if err := c.Err(); err != nil {
			return err
		}

		cmd, err := sendstream.ReadCommand(sc)
		if err != nil {
			return errors.Wrapf(err, "reading command #%d", id)
		}
		if cmd, err = sendstream.UpgradeCommand(sc, cmd); err != nil {
			return errors.Wrapf(err, "upgrading command #%d", id)
		}
		ready, err := b.Push(sc, cmd)
		if err != nil {
			return errors.Wrapf(err, "batching command #%d", id)
		}
		for _, cmd := range ready {
			if cmd, err = sendstream.Finalize(sc, cmd); err != nil {
				return err
			}
			if err := cmd.Persist(sc); err != nil {
				return err
			}
		}
	}
	return sc.Close()
}

// upgradeThreaded upgrades commands through a pipeline.Coordinator.
func (u *Upgrader) upgradeThreaded(c context.Context, cfg *Config, r io.Reader, w io.Writer, res *Result) error {
	opts := cfg.Options()
	src := sendstream.NewContext(opts, u.Logger, r, nil)
	dst := sendstream.NewContext(opts, u.Logger, nil, w)
	var co pipeline.Coordinator
	defer func() {
		res.Stats = src.Stats()
		dstStats, coStats := dst.Stats(), co.Stats()
		res.Stats.Add(&dstStats)
		res.Stats.Add(&coStats)
	}()

	if err := startStream(cfg, src, dst, res); err != nil {
		return err
	}

	cpus := u.CPUs
	if cpus <= 0 {
		cpus = runtime.NumCPU()
	}
	construction, compression := pipeline.ThreadCounts(cfg.ThreadCount, cpus)
	u.logger().Infof("Upgrading a %s stream to %s with a pipeline.", res.SourceVersion, cfg.DestinationVersion)

	co = pipeline.Coordinator{
		Source:              src,
		Destination:         dst,
		ConstructionThreads: construction,
		CompressionThreads:  compression,
		MaxCachedBuffers:    cfg.MaxCachedBuffers,
		QueueCapacity:       cfg.QueueCapacity,
		MinPollInterval:     cfg.MinPollInterval,
		MaxPollInterval:     cfg.MaxPollInterval,
		Logger:              u.Logger,
	}
	if err := co.Run(c); err != nil {
		return err
	}
	return dst.Close()
}
