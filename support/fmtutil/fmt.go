// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package fmtutil contains formatting helpers.
package fmtutil

import (
	"fmt"
	"strings"
	"time"
)

// HexSlice is a byte slice that renders as a sequence of hex bytes:
//
//	[3]byte{0x0A, 0x1B, 0x2C}
//
// It formats lazily, so it costs nothing when passed to a disabled log level.
type HexSlice []byte

func (hs HexSlice) String() string {
	var sb strings.Builder
	sb.Grow(6*len(hs) + 16)
	fmt.Fprintf(&sb, "[%d]byte{", len(hs))
	for i, b := range hs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "0x%02X", b)
	}
	sb.WriteByte('}')
	return sb.String()
}

// Micros returns d in whole microseconds.
func Micros(d time.Duration) int64 { return int64(d / time.Microsecond) }

// Percent returns part as a percentage of total. A zero total yields zero.
func Percent(part, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}

// PhaseLine formats one line of a timing summary:
//
//	<name>\t: (<pct>%)\t<usecs> usecs
func PhaseLine(name string, part, total time.Duration) string {
	return fmt.Sprintf("%s\t: (%.4f%%)\t%d usecs", name, Percent(part, total), Micros(part))
}
