// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package upgrade

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/prometheus/client_golang/prometheus"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Metrics", func() {
	BeforeEach(func() {
		upgradesCompleted.WithLabelValues("single", "success").Add(0)
	})

	It("serves registered metrics", func() {
		reg := prometheus.NewRegistry()
		RegisterAllMonitoring(reg)

		rec := httptest.NewRecorder()
		newMetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("upgrade_runs"))
	})

	It("redirects the root to the metrics page", func() {
		rec := httptest.NewRecorder()
		newMetricsHandler(prometheus.NewRegistry()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Code).To(Equal(http.StatusFound))
		Expect(rec.Header().Get("Location")).To(Equal("/metrics"))
	})

	It("runs a server until closed", func() {
		ms, err := startMetricsServer("127.0.0.1:0", nil)
		Expect(err).ToNot(HaveOccurred())

		resp, err := http.Get(fmt.Sprintf("http://%s/metrics", ms.Addr()))
		Expect(err).ToNot(HaveOccurred())
		body, err := io.ReadAll(resp.Body)
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.Body.Close()).To(Succeed())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring("upgrade_runs"))

		Expect(ms.Close()).To(Succeed())
	})

	It("fails on an unusable address", func() {
		_, err := startMetricsServer("not an address", nil)
		Expect(err).To(MatchError(ContainSubstring("listening for metrics")))
	})
})
