// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream_test

import (
	"bytes"
	"io"

	"github.com/danjacques/gosendstream/sendstream"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Context", func() {
	It("refuses to report versions before they are set", func() {
		c := sendstream.NewContext(nil, nil, nil, nil)

		_, err := c.SourceVersion()
		Expect(errors.Cause(err)).To(Equal(sendstream.ErrSourceVersionNotSet))
		_, err = c.DestinationVersion()
		Expect(errors.Cause(err)).To(Equal(sendstream.ErrDestinationVersionNotSet))

		c.SetVersions(sendstream.V1, sendstream.V2)
		Expect(c.SourceVersion()).To(Equal(sendstream.V1))
		Expect(c.DestinationVersion()).To(Equal(sendstream.V2))
	})

	It("sizes each root buffer from its own option", func() {
		opts := sendstream.DefaultOptions()
		opts.ReadBufferSize = 4096
		opts.WriteBufferSize = 32 * 1024
		c := sendstream.NewContext(opts, nil, bytes.NewReader(nil), &bytes.Buffer{})
		Expect(c.ReadBufferSize()).To(Equal(4096))
		Expect(c.WriteBufferSize()).To(Equal(32 * 1024))

		opts.ReadBufferSize, opts.WriteBufferSize = 0, 0
		c = sendstream.NewContext(opts, nil, bytes.NewReader(nil), &bytes.Buffer{})
		Expect(c.ReadBufferSize()).To(Equal(sendstream.DefaultReadBufferSize))
		Expect(c.WriteBufferSize()).To(Equal(sendstream.DefaultWriteBufferSize))

		c = sendstream.NewContext(opts, nil, nil, nil)
		Expect(c.ReadBufferSize()).To(BeZero())
		Expect(c.WriteBufferSize()).To(BeZero())
	})

	It("returns partial reads from a source that is still open", func() {
		pr, pw := io.Pipe()
		defer pr.Close()
		go func() {
			_, _ = pw.Write([]byte{1, 2, 3})
		}()

		c := sendstream.NewContext(nil, nil, pr, nil)
		buf := make([]byte, 16)
		amt, err := c.ReadSome(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(buf[:amt]).To(Equal([]byte{1, 2, 3}))
		Expect(c.ReadOffset()).To(Equal(3))

		Expect(pw.Close()).To(Succeed())
		_, err = c.ReadSome(buf)
		Expect(err).To(Equal(io.EOF))
	})

	It("accounts for compressed and uncompressed writes", func() {
		var out bytes.Buffer
		c := sendstream.NewContext(nil, nil, nil, &out)

		Expect(c.Write([]byte{1, 2}, 4)).To(Succeed())
		Expect(c.Write([]byte{3, 4, 5}, 3)).To(Succeed())
		Expect(c.Write([]byte{6, 7, 8}, 2)).ToNot(Succeed())
		Expect(c.Close()).To(Succeed())

		Expect(out.Bytes()).To(Equal([]byte{1, 2, 3, 4, 5}))
		Expect(c.WriteOffset()).To(Equal(5))

		st := c.Stats()
		Expect(st.CompressedBytesWritten).To(Equal(uint64(2)))
		Expect(st.CompressedWritesIssued).To(Equal(uint64(1)))
		Expect(st.UncompressedBytesWritten).To(Equal(uint64(3)))
		Expect(st.UncompressedWritesIssued).To(Equal(uint64(1)))
		Expect(st.LogicalBytesWritten).To(Equal(uint64(7)))
	})

	It("returns a short read at the end of its source", func() {
		c := sendstream.NewContext(nil, nil, bytes.NewReader([]byte{1, 2, 3}), nil)

		buf := make([]byte, 5)
		amt, err := c.Read(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(amt).To(Equal(3))
		Expect(buf[:amt]).To(Equal([]byte{1, 2, 3}))
		Expect(c.ReadExact(buf)).ToNot(Succeed())
		Expect(c.Stats().BytesRead).To(Equal(uint64(3)))
	})

	It("reads and writes little-endian integers", func() {
		c := sendstream.NewContext(nil, nil, bytes.NewReader([]byte{0x02, 0x01, 0x04, 0x03, 0x02, 0x01}), nil)
		Expect(c.Read16()).To(Equal(uint16(0x0102)))
		Expect(c.Read32()).To(Equal(uint32(0x01020304)))

		dst := make([]byte, 14)
		err := c.WithChild(nil, dst, sendstream.V1, sendstream.V1, func(sc *sendstream.Context) error {
			if err := sc.Write16(0x0102); err != nil {
				return err
			}
			if err := sc.Write32(0x01020304); err != nil {
				return err
			}
			return sc.Write64(0x0102030405060708)
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(dst).To(Equal([]byte{
			0x02, 0x01,
			0x04, 0x03, 0x02, 0x01,
			0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		}))
	})

	It("computes Castagnoli checksums", func() {
		c := sendstream.NewContext(nil, nil, nil, nil)
		Expect(c.CRC32C([]byte("123456789"))).To(Equal(uint32(0xE3069283)))
		Expect(c.Stats().CRC32CBytes).To(Equal(uint64(9)))
	})

	Context("with a child", func() {
		var c *sendstream.Context
		BeforeEach(func() {
			c = sendstream.NewContext(nil, nil, nil, nil)
		})

		It("reads from and writes to in-memory buffers", func() {
			dst := make([]byte, 2)
			err := c.WithChild([]byte{1, 2, 3}, dst, sendstream.V1, sendstream.V2, func(sc *sendstream.Context) error {
				Expect(sc.ReadLen()).To(Equal(3))
				Expect(sc.SourceVersion()).To(Equal(sendstream.V1))
				Expect(sc.DestinationVersion()).To(Equal(sendstream.V2))

				buf := make([]byte, 3)
				Expect(sc.ReadExact(buf)).To(Succeed())
				Expect(sc.ReadOffset()).To(Equal(3))

				Expect(sc.Write(buf[:2], 2)).To(Succeed())
				return sc.Write(buf[2:], 1)
			})
			Expect(err).To(MatchError(ContainSubstring("overflows")))
			Expect(dst).To(Equal([]byte{1, 2}))
		})

		It("adds the child's stats to the parent when it returns", func() {
			dst := make([]byte, 4)
			for i := 0; i < 2; i++ {
				Expect(c.WithChild(nil, dst, sendstream.V2, sendstream.V2, func(sc *sendstream.Context) error {
					return sc.Write([]byte{1, 2, 3, 4}, 4)
				})).To(Succeed())
			}
			Expect(c.Stats().BytesCopied).To(Equal(uint64(8)))
			Expect(c.Stats().LogicalBytesWritten).To(Equal(uint64(8)))
		})

		It("requires valid versions", func() {
			_, err := c.NewChild(nil, nil, sendstream.VersionUnset, sendstream.V2)
			Expect(errors.Cause(err)).To(Equal(sendstream.ErrSourceVersionNotSet))
			_, err = c.NewChild(nil, nil, sendstream.V1, sendstream.Version(7))
			Expect(errors.Cause(err)).To(Equal(sendstream.ErrDestinationVersionNotSet))
		})

		It("fails to report the length of a streamed source", func() {
			_, err := c.ReadLen()
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Stats", func() {
	It("adds counters and durations", func() {
		a := sendstream.Stats{BytesRead: 3, CompressTime: 5, CommandsRead: 1}
		b := sendstream.Stats{BytesRead: 4, CompressTime: 2, CommandsWritten: 2}
		a.Add(&b)
		Expect(a).To(Equal(sendstream.Stats{BytesRead: 7, CompressTime: 7, CommandsRead: 1, CommandsWritten: 2}))
	})

	It("never reports negative unaccounted time", func() {
		s := sendstream.Stats{CompressTime: 10, AppendTime: 5}
		Expect(s.AccountedTime()).To(BeNumerically("==", 15))
		Expect(s.OtherTime(20)).To(BeNumerically("==", 5))
		Expect(s.OtherTime(10)).To(BeNumerically("==", 0))
	})
})

var _ = Describe("VersionFlag", func() {
	It("parses versions with or without a prefix", func() {
		var vf sendstream.VersionFlag
		Expect(vf.Set("v2")).To(Succeed())
		Expect(vf.Value()).To(Equal(sendstream.V2))
		Expect(vf.Set("1")).To(Succeed())
		Expect(vf.Value()).To(Equal(sendstream.V1))
		Expect(vf.String()).To(Equal("v1"))
	})

	It("rejects unknown versions", func() {
		var vf sendstream.VersionFlag
		Expect(vf.Set("3")).ToNot(Succeed())
		Expect(vf.Set("v0")).ToNot(Succeed())
		Expect(vf.Set("latest")).ToNot(Succeed())
	})

	It("lists the known versions", func() {
		Expect(sendstream.VersionFlagValues()).To(Equal("v1, v2"))
	})

	It("round trips versions as text", func() {
		text, err := sendstream.V2.MarshalText()
		Expect(err).ToNot(HaveOccurred())
		Expect(string(text)).To(Equal("v2"))

		var v sendstream.Version
		Expect(v.UnmarshalText(text)).To(Succeed())
		Expect(v).To(Equal(sendstream.V2))
		Expect(v.UnmarshalText([]byte("9"))).ToNot(Succeed())

		_, err = sendstream.VersionUnset.MarshalText()
		Expect(err).To(HaveOccurred())
	})
})
