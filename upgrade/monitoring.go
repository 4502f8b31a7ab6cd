// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package upgrade

import (
	"github.com/danjacques/gosendstream/pipeline"
	"github.com/danjacques/gosendstream/sendstream"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	upgradesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upgrade_runs",
		Help: "Count of finished upgrades, by mode and result.",
	}, []string{"mode", "result"})

	upgradeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upgrade_duration_seconds",
		Help:    "Wall time of finished upgrades, by mode.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"mode"})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		upgradesCompleted,
		upgradeDuration,
	)
}

// RegisterAllMonitoring registers the metrics of every package involved in
// an upgrade.
func RegisterAllMonitoring(reg prometheus.Registerer) {
	sendstream.RegisterMonitoring(reg)
	pipeline.RegisterMonitoring(reg)
	RegisterMonitoring(reg)
}
