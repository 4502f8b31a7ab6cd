// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"fmt"
)

// Version is a send stream protocol version.
//
// Versions are totally ordered; a higher value is a newer protocol.
type Version uint32

const (
	// VersionUnset is the zero Version, used before a Context has been told
	// which versions it is translating between.
	VersionUnset Version = 0
	// V1 is the original send stream protocol.
	V1 Version = 1
	// V2 adds size-less data attributes and encoded writes.
	V2 Version = 2

	// MaxVersion is the newest version this package understands.
	MaxVersion = V2
)

// Valid returns true if v is a known, set version.
func (v Version) Valid() bool { return v >= V1 && v <= MaxVersion }

func (v Version) String() string {
	switch v {
	case VersionUnset:
		return "unset"
	default:
		return fmt.Sprintf("v%d", uint32(v))
	}
}
