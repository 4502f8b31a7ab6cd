// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

const (
	// fixedStages is the number of single-instance stages: prefetch, read,
	// batcher, and write.
	fixedStages = 4
	// stageTypes counts the fixed stages plus one for each scalable stage.
	stageTypes = fixedStages + 2

	constructionRatio = 1
	compressionRatio  = 2

	// MaxConstructionThreads caps the number of construction workers.
	MaxConstructionThreads = 8
)

// ThreadCounts returns the number of construction and compression workers to
// run for a configured thread count and the number of CPUs available.
//
// A configured count of zero uses half of the CPUs. A configured count is
// also capped at half of the CPUs. If that leaves no more threads than there
// are stage types, a single worker of each scalable stage is used.
func ThreadCounts(given, cpus int) (construction, compression int) {
	maxThreads := cpus / 2
	if given != 0 && given < maxThreads {
		maxThreads = given
	}
	if maxThreads <= stageTypes {
		return 1, 1
	}

	variable := maxThreads - fixedStages
	construction = variable * constructionRatio / (constructionRatio + compressionRatio)
	if construction > MaxConstructionThreads {
		construction = MaxConstructionThreads
	}
	return construction, variable - construction
}
