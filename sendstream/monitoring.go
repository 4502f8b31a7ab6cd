// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sendstream_commands_read",
		Help: "Count of commands read, by command type.",
	}, []string{"type"})

	commandsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sendstream_commands_written",
		Help: "Count of commands written, by command type.",
	}, []string{"type"})

	compressionResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sendstream_compression_results",
		Help: "Count of attribute compression attempts, by result.",
	}, []string{"result"})

	storageBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendstream_storage_bytes_written",
		Help: "Count of bytes written to the destination stream.",
	})

	storageLogicalBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendstream_storage_logical_bytes_written",
		Help: "Count of uncompressed bytes represented by destination writes.",
	})

	decodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sendstream_decode_errors",
		Help: "Count of malformed input encountered, by kind.",
	}, []string{"kind"})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		commandsRead,
		commandsWritten,
		compressionResults,
		storageBytesWritten,
		storageLogicalBytesWritten,
		decodeErrors,
	)
}
