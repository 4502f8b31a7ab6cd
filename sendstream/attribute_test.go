// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream_test

import (
	"github.com/danjacques/gosendstream/sendstream"
	"github.com/danjacques/gosendstream/sendstream/sendstreamtest"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("AttributeHeader", func() {
	table.DescribeTable("sizes DATA by version",
		func(at sendstream.AttributeType, v sendstream.Version, hasSize bool, headerSize int) {
			h := sendstream.MakeAttributeHeader(at, 5, v)
			Expect(h.HasSize).To(Equal(hasSize))
			Expect(h.HeaderSize()).To(Equal(headerSize))
		},
		table.Entry("PATH at v1", sendstream.AttrPath, sendstream.V1, true, 4),
		table.Entry("PATH at v2", sendstream.AttrPath, sendstream.V2, true, 4),
		table.Entry("DATA at v1", sendstream.AttrData, sendstream.V1, true, 4),
		table.Entry("DATA at v2", sendstream.AttrData, sendstream.V2, false, 2),
	)

	It("treats the rest of the command as a size-less payload", func() {
		h := sendstream.MakeAttributeHeader(sendstream.AttrData, 0, sendstream.V2)
		Expect(h.TotalSize(9)).To(Equal(9))
		_, err := h.TotalSize(1)
		Expect(err).To(HaveOccurred())
	})

	It("only upgrades when the layout changes", func() {
		h := sendstream.MakeAttributeHeader(sendstream.AttrData, 5, sendstream.V1)

		up := versionedContext(nil, sendstream.V1, sendstream.V2)
		Expect(h.IsUpgradeable(up)).To(BeTrue())
		uh, err := h.Upgrade(up)
		Expect(err).ToNot(HaveOccurred())
		Expect(uh.HasSize).To(BeFalse())
		Expect(uh.Version).To(Equal(sendstream.V2))

		same := versionedContext(nil, sendstream.V2, sendstream.V2)
		Expect(uh.IsUpgradeable(same)).To(BeFalse())
		_, err = uh.Upgrade(same)
		Expect(err).To(MatchError(ContainSubstring("unupgradeable")))

		path := sendstream.MakeAttributeHeader(sendstream.AttrPath, 3, sendstream.V1)
		Expect(path.IsUpgradeable(up)).To(BeFalse())
		_, err = path.Upgrade(up)
		Expect(err).To(HaveOccurred())
	})

	It("only compresses DATA from v2", func() {
		d1 := sendstream.MakeAttributeHeader(sendstream.AttrData, 1, sendstream.V1)
		d2 := sendstream.MakeAttributeHeader(sendstream.AttrData, 1, sendstream.V2)
		p2 := sendstream.MakeAttributeHeader(sendstream.AttrPath, 1, sendstream.V2)
		Expect(d1.IsCompressible()).To(BeFalse())
		Expect(d2.IsCompressible()).To(BeTrue())
		Expect(p2.IsCompressible()).To(BeFalse())
	})

	It("rejects unknown types", func() {
		c := sendstream.NewContext(nil, nil, nil, nil)
		err := c.WithChild([]byte{0xFF, 0x00, 0x01, 0x00, 0x00}, nil, sendstream.V1, sendstream.V1,
			func(sc *sendstream.Context) error {
				_, err := sendstream.ReadAttributeHeader(sc)
				return err
			})
		bte, ok := errors.Cause(err).(*sendstream.BadTypeError)
		Expect(ok).To(BeTrue())
		Expect(bte.What).To(Equal("attribute"))
		Expect(bte.Type).To(Equal(uint16(0xFF)))
	})
})

var _ = Describe("Attribute", func() {
	var v1, v2, up *sendstream.Context
	BeforeEach(func() {
		v1 = versionedContext(testOptions(), sendstream.V1, sendstream.V1)
		v2 = versionedContext(testOptions(), sendstream.V2, sendstream.V2)
		up = versionedContext(testOptions(), sendstream.V1, sendstream.V2)
	})

	It("builds typed attributes", func() {
		a, err := sendstream.NewAttributeU64(v1, sendstream.AttrFileOffset, 0x1122)
		Expect(err).ToNot(HaveOccurred())
		Expect(a.Size()).To(Equal(12))
		Expect(a.PayloadU64()).To(Equal(uint64(0x1122)))
		_, err = a.PayloadU32()
		Expect(err).To(HaveOccurred())

		s, err := sendstream.NewAttributeString(v1, sendstream.AttrPath, "foo")
		Expect(err).ToNot(HaveOccurred())
		Expect(s.Bytes()).To(Equal([]byte{0x0F, 0x00, 0x03, 0x00, 'f', 'o', 'o'}))
		Expect(s.PayloadString()).To(Equal("foo"))
		Expect(s.Verify(v1)).To(Succeed())
	})

	It("refuses sized payloads that do not fit a 16-bit length", func() {
		_, err := sendstream.NewAttribute(v1, sendstream.AttrData, make([]byte, 70000))
		Expect(err).To(HaveOccurred())

		a, err := sendstream.NewAttribute(v2, sendstream.AttrData, make([]byte, 70000))
		Expect(err).ToNot(HaveOccurred())
		Expect(a.Size()).To(Equal(70002))
	})

	It("drops the DATA length when upgraded", func() {
		a, err := sendstream.NewAttribute(v1, sendstream.AttrData, []byte{1, 2, 3})
		Expect(err).ToNot(HaveOccurred())
		Expect(a.Size()).To(Equal(7))

		ua, err := a.Upgrade(up)
		Expect(err).ToNot(HaveOccurred())
		Expect(ua.Bytes()).To(Equal([]byte{0x13, 0x00, 1, 2, 3}))
		Expect(ua.Version()).To(Equal(sendstream.V2))
		Expect(ua.UncompressedPayloadSize()).To(Equal(3))

		_, err = ua.Upgrade(v2)
		Expect(err).To(HaveOccurred())
	})

	It("refuses to fake an upgrade that changes the layout", func() {
		a, err := sendstream.NewAttribute(v1, sendstream.AttrData, []byte{1})
		Expect(err).ToNot(HaveOccurred())
		Expect(a.FakeAnUpgrade(up)).ToNot(Succeed())

		p, err := sendstream.NewAttributeString(v1, sendstream.AttrPath, "p")
		Expect(err).ToNot(HaveOccurred())
		Expect(p.FakeAnUpgrade(up)).To(Succeed())
		Expect(p.Version()).To(Equal(sendstream.V2))
	})

	Context("compression", func() {
		It("shrinks compressible data", func() {
			a, err := sendstream.NewAttribute(v2, sendstream.AttrData, sendstreamtest.Repeat(0xAB, 4096))
			Expect(err).ToNot(HaveOccurred())

			ca, err := a.Compress(v2, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(ca.Type()).To(Equal(sendstream.AttrData))
			Expect(ca.Header().HasSize).To(BeFalse())
			Expect(ca.PayloadSize()).To(BeNumerically("<", 4096))
			Expect(ca.UncompressedPayloadSize()).To(Equal(4096))
			Expect(v2.Stats().CompressionPassed).To(Equal(uint64(1)))

			// Compressed output does not compress again.
			_, err = ca.Compress(v2, 0)
			Expect(sendstream.IsFailedToShrink(err)).To(BeTrue())
		})

		It("reports data that does not shrink enough", func() {
			a, err := sendstream.NewAttribute(v2, sendstream.AttrData, sendstreamtest.Pseudorandom(1, 64))
			Expect(err).ToNot(HaveOccurred())

			_, err = a.Compress(v2, 0)
			Expect(sendstream.IsFailedToShrink(err)).To(BeTrue())
			Expect(v2.Stats().CompressionFailed).To(Equal(uint64(1)))
		})

		It("requires a compression level", func() {
			opts := testOptions()
			opts.CompressionLevel = 0
			c := versionedContext(opts, sendstream.V2, sendstream.V2)
			a, err := sendstream.NewAttribute(c, sendstream.AttrData, []byte{1, 2, 3})
			Expect(err).ToNot(HaveOccurred())
			_, err = a.Compress(c, 0)
			Expect(err).To(HaveOccurred())
			Expect(sendstream.IsFailedToShrink(err)).To(BeFalse())
		})

		It("does not compress v1 data", func() {
			a, err := sendstream.NewAttribute(v1, sendstream.AttrData, sendstreamtest.Repeat(0, 64))
			Expect(err).ToNot(HaveOccurred())
			_, err = a.Compress(up, 0)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("append and truncate", func() {
		It("appends up to a maximum payload size", func() {
			a, err := sendstream.NewAttribute(v2, sendstream.AttrData, []byte{1, 2, 3})
			Expect(err).ToNot(HaveOccurred())
			b, err := sendstream.NewAttribute(v2, sendstream.AttrData, []byte{4, 5, 6, 7})
			Expect(err).ToNot(HaveOccurred())

			Expect(a.CanAppend(b)).To(BeTrue())
			Expect(a.Append(v2, b, 5)).To(Equal(2))
			Expect(a.Payload()).To(Equal([]byte{1, 2, 3, 4, 5}))
			Expect(a.Append(v2, b, 5)).To(Equal(0))
			Expect(v2.Stats().BytesAppended).To(Equal(uint64(2)))

			Expect(a.TruncatePayloadAtStart(v2, 2)).To(Succeed())
			Expect(a.Payload()).To(Equal([]byte{3, 4, 5}))
			Expect(a.TruncatePayloadAtStart(v2, 4)).ToNot(Succeed())
			Expect(a.Verify(v2)).To(Succeed())
		})

		It("refuses to append to sized attributes", func() {
			a, err := sendstream.NewAttribute(v1, sendstream.AttrData, []byte{1})
			Expect(err).ToNot(HaveOccurred())
			b, err := sendstream.NewAttribute(v1, sendstream.AttrData, []byte{2})
			Expect(err).ToNot(HaveOccurred())
			_, err = a.Append(v1, b, 10)
			Expect(err).To(HaveOccurred())
			Expect(a.TruncatePayloadAtStart(v1, 1)).ToNot(Succeed())
		})

		It("refuses to append other types", func() {
			a, err := sendstream.NewAttributeString(v2, sendstream.AttrPath, "a")
			Expect(err).ToNot(HaveOccurred())
			b, err := sendstream.NewAttributeString(v2, sendstream.AttrPath, "b")
			Expect(err).ToNot(HaveOccurred())
			Expect(a.CanAppend(b)).To(BeFalse())
			Expect(a.TruncatePayloadAtStart(v2, 1)).ToNot(Succeed())
		})

		It("copies payload ranges", func() {
			a, err := sendstream.NewAttribute(v2, sendstream.AttrData, []byte{1, 2, 3, 4})
			Expect(err).ToNot(HaveOccurred())
			r, err := a.CopyRange(v2, 1, 3)
			Expect(err).ToNot(HaveOccurred())
			Expect(r.Payload()).To(Equal([]byte{2, 3}))
			_, err = a.CopyRange(v2, 3, 5)
			Expect(err).To(HaveOccurred())
		})
	})
})
