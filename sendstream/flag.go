// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// VersionFlag is a pflag.Value implementation that stores a send stream
// Version. It accepts "1", "v1", "2", and "v2".
type VersionFlag Version

var _ pflag.Value = (*VersionFlag)(nil)

func (vf *VersionFlag) String() string { return Version(*vf).String() }

// Set implements pflag.Value.
func (vf *VersionFlag) Set(v string) error {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(v), "v"), 10, 32)
	if err != nil {
		return errors.Errorf("invalid send stream version: %q", v)
	}
	if ver := Version(n); ver.Valid() {
		*vf = VersionFlag(ver)
		return nil
	}
	return errors.Errorf("unsupported send stream version: %q", v)
}

// Type implements pflag.Value.
func (vf *VersionFlag) Type() string { return "sendstream.Version" }

// Value returns the Version held by this flag.
func (vf VersionFlag) Value() Version { return Version(vf) }

// VersionFlagValues returns the list of possible values for a VersionFlag.
func VersionFlagValues() string {
	opts := make([]string, 0, int(MaxVersion))
	for v := V1; v <= MaxVersion; v++ {
		opts = append(opts, v.String())
	}
	return strings.Join(opts, ", ")
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, errors.Errorf("cannot marshal %s version", v)
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting the same
// values as VersionFlag.
func (v *Version) UnmarshalText(text []byte) error {
	var vf VersionFlag
	if err := vf.Set(string(text)); err != nil {
		return err
	}
	*v = vf.Value()
	return nil
}
