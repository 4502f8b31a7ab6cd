// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package pipeline upgrades send stream commands concurrently.
//
// Stages hand work to each other through blocking queues. Unordered Queues
// feed the worker pools, and OrderedQueues restore stream order in front of
// the single-instance batcher and writer. A ReadOnceBufferCache lets the
// construction workers fetch command payloads in parallel from a source that
// can only be read sequentially.
//
// A Coordinator sizes, starts, polls, and halts the stages.
package pipeline
