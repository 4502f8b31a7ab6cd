// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package upgrade

import (
	"fmt"
	"io"
	"time"

	"github.com/danjacques/gosendstream/sendstream"
	"github.com/danjacques/gosendstream/support/fmtutil"
)

// phase is one line of the time breakdown.
type phase struct {
	name string
	d    time.Duration
}

func phases(s *sendstream.Stats, total time.Duration) []phase {
	return []phase{
		{"Total Time\t\t", total},
		{"Buffer Read\t\t", s.BufferReadTime},
		{"Storage Read\t\t", s.StorageReadTime},
		{"Buffer Write\t\t", s.BufferWriteTime},
		{"Storage Write\t\t", s.StorageWriteTime},
		{"Compression\t\t", s.CompressTime},
		{"CRC32C Sums\t\t", s.CRC32CTime},
		{"Append Time\t\t", s.AppendTime},
		{"Truncate Time\t\t", s.TruncateTime},
		{"Attr Population Time\t", s.AttributePopulationTime},
		{"Context Create Time\t", s.ContextCreateTime},
		{"Context Return Time\t", s.ContextReturnTime},
		{"Other Time\t\t", s.OtherTime(total)},
	}
}

// WriteSummary writes the overall Stats of a run followed by the share of
// total spent in each phase.
//
// Phases of a pipelined run are summed across workers, so their shares may
// exceed 100%.
func WriteSummary(w io.Writer, s *sendstream.Stats, total time.Duration) error {
	if _, err := fmt.Fprintf(w, "Overall summary: %s\n", s); err != nil {
		return err
	}
	for _, p := range phases(s, total) {
		if _, err := fmt.Fprintln(w, fmtutil.PhaseLine(p.name, p.d, total)); err != nil {
			return err
		}
	}
	return nil
}
