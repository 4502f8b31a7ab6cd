// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"fmt"
	"strings"
)

// WorkerFailure is the error reported by a single failed worker.
type WorkerFailure struct {
	Worker string
	Err    error
}

func (wf *WorkerFailure) Error() string { return fmt.Sprintf("%s: %s", wf.Worker, wf.Err) }

// CrashError is returned when one or more pipeline workers failed.
type CrashError struct {
	Failures []*WorkerFailure
}

func (e *CrashError) Error() string {
	if len(e.Failures) == 0 {
		return "pipeline crashed"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("pipeline crashed with %d failed worker(s): %s", len(e.Failures), strings.Join(parts, "; "))
}
