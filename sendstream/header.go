// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"bytes"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// StreamMagic begins every send stream.
const StreamMagic = "btrfs-stream\x00"

// StreamHeaderSize is the size of the stream header on the wire.
const StreamHeaderSize = len(StreamMagic) + 4

type streamHeaderWire struct {
	Magic   []byte `struc:"[13]byte"`
	Version uint32 `struc:"uint32,little"`
}

// ReadStreamHeader reads the stream header from c's source and returns the
// stream's version.
func ReadStreamHeader(c *Context) (Version, error) {
	raw := make([]byte, StreamHeaderSize)
	if err := c.ReadExact(raw); err != nil {
		return VersionUnset, errors.Wrap(err, "reading stream header")
	}
	return parseStreamHeader(raw)
}

func parseStreamHeader(raw []byte) (Version, error) {
	var w streamHeaderWire
	if err := struc.Unpack(bytes.NewReader(raw), &w); err != nil {
		return VersionUnset, errors.Wrap(err, "decoding stream header")
	}
	if string(w.Magic) != StreamMagic {
		return VersionUnset, errors.Errorf("bad stream magic %q", w.Magic)
	}
	v := Version(w.Version)
	if !v.Valid() {
		return VersionUnset, errors.Errorf("unsupported stream version %d", w.Version)
	}
	return v, nil
}

// WriteStreamHeader writes a stream header for c's destination version.
func WriteStreamHeader(c *Context) error {
	dst, err := c.DestinationVersion()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	w := streamHeaderWire{Magic: []byte(StreamMagic), Version: uint32(dst)}
	if err := struc.Pack(&buf, &w); err != nil {
		return errors.Wrap(err, "encoding stream header")
	}
	return c.Write(buf.Bytes(), buf.Len())
}
