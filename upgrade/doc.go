// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package upgrade drives the upgrade of a whole btrfs send stream.
//
// An Upgrader reads a stream header, then either upgrades commands serially
// or hands them to a pipeline.Coordinator, depending on its Config's thread
// count. Either way the output is the same. App wraps an Upgrader in the
// btrfs-send-stream-upgrade command line, adding configuration loading,
// container compression of the input and output files, a summary of the
// run's Stats, and an optional metrics listener.
package upgrade
