// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Number of elements waiting in a pipeline queue.",
	}, []string{"queue"})

	bytesPrefetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_bytes_prefetched",
		Help: "Count of source bytes read into the buffer cache.",
	})

	workerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_worker_failures",
		Help: "Count of pipeline workers that returned an error, by stage.",
	}, []string{"stage"})

	activeWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_active_workers",
		Help: "Number of pipeline workers that have not yet returned.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		queueDepth,
		bytesPrefetched,
		workerFailures,
		activeWorkers,
	)
}
