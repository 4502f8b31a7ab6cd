// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package upgrade

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/danjacques/gosendstream/support/logging"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsShutdownTimeout = 5 * time.Second

// metricsServer serves Prometheus metrics for the life of a run.
type metricsServer struct {
	server   *http.Server
	listener net.Listener
	doneC    chan struct{}
}

// newMetricsHandler returns a router exposing reg at /metrics.
func newMetricsHandler(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/metrics", http.StatusFound)
	})
	return r
}

// startMetricsServer listens on addr and serves every upgrade metric.
func startMetricsServer(addr string, l logging.L) (*metricsServer, error) {
	reg := prometheus.NewRegistry()
	RegisterAllMonitoring(reg)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening for metrics on %q", addr)
	}

	ms := metricsServer{
		server: &http.Server{
			Handler:           newMetricsHandler(reg),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		doneC:    make(chan struct{}),
	}
	go func() {
		defer close(ms.doneC)
		if err := ms.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Must(l).Warnf("Metrics server failed: %s", err)
		}
	}()
	logging.Must(l).Infof("Serving metrics on http://%s/metrics", listener.Addr())
	return &ms, nil
}

// Addr returns the address the server is listening on.
func (ms *metricsServer) Addr() net.Addr { return ms.listener.Addr() }

// Close shuts the server down, waiting briefly for in-flight scrapes.
func (ms *metricsServer) Close() error {
	c, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	err := ms.server.Shutdown(c)
	<-ms.doneC
	return err
}
