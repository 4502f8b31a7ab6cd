// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = DescribeTable("ThreadCounts",
	func(given, cpus, construction, compression int) {
		con, com := ThreadCounts(given, cpus)
		Expect(con).To(Equal(construction))
		Expect(com).To(Equal(compression))
	},
	Entry("few CPUs fall back to one worker each", 0, 4, 1, 1),
	Entry("exactly the stage count", 0, 12, 1, 1),
	Entry("just above the stage count", 0, 14, 1, 2),
	Entry("a configured count splits 1:2", 32, 32, 4, 8),
	Entry("a configured count is capped by the CPUs", 64, 16, 1, 3),
	Entry("a small configured count", 7, 64, 1, 2),
	Entry("construction workers are capped", 0, 64, 8, 20),
)
