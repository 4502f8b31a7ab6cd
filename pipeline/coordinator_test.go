// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/danjacques/gosendstream/sendstream"
	sst "github.com/danjacques/gosendstream/sendstream/sendstreamtest"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// sampleStream returns a v1 stream with a mix of coalescable,
// compressible, and incompressible writes.
func sampleStream() []byte {
	b := sst.NewBuilder(sendstream.V1).
		Command(sendstream.CmdSubvol,
			sst.String(sendstream.AttrPath, "vol"),
			sst.Bytes(sendstream.AttrUUID, make([]byte, 16)),
			sst.U64(sendstream.AttrCtransid, 7)).
		Mkfile("a", 1)
	offset := uint64(0)
	for i := 0; i < 40; i++ {
		var data []byte
		if i%3 == 0 {
			data = sst.Pseudorandom(uint64(i+1), 100+i)
		} else {
			data = sst.Repeat(byte(i), 300+i)
		}
		b.Write("a", offset, data)
		offset += uint64(len(data))
		if i%10 == 9 {
			offset += 4096
		}
	}
	return b.Mkfile("b", 2).
		Write("b", 0, sst.Repeat(0xCC, 8192)).
		Chmod("b", 0644).
		End().
		Bytes()
}

// openSource reads stream's header and returns a Context positioned at its
// first command.
func openSource(opts *sendstream.Options, stream []byte) *sendstream.Context {
	c := sendstream.NewContext(opts, nil, bytes.NewReader(stream), nil)
	src, err := sendstream.ReadStreamHeader(c)
	Expect(err).ToNot(HaveOccurred())
	c.SetVersions(src, sendstream.V2)
	return c
}

func openDestination(opts *sendstream.Options, out *bytes.Buffer) *sendstream.Context {
	c := sendstream.NewContext(opts, nil, nil, out)
	c.SetVersions(sendstream.V1, sendstream.V2)
	Expect(sendstream.WriteStreamHeader(c)).To(Succeed())
	return c
}

// upgradeSerially is the single-threaded equivalent of a pipeline run.
func upgradeSerially(opts *sendstream.Options, stream []byte) []byte {
	var out bytes.Buffer
	src := openSource(opts, stream)
	dst := openDestination(opts, &out)

	var b sendstream.Batcher
	for !b.Ended() {
		cmd, err := sendstream.ReadCommand(src)
		Expect(err).ToNot(HaveOccurred())
		cmd, err = sendstream.UpgradeCommand(src, cmd)
		Expect(err).ToNot(HaveOccurred())

		ready, err := b.Push(src, cmd)
		Expect(err).ToNot(HaveOccurred())
		for _, r := range ready {
			r, err = sendstream.Finalize(src, r)
			Expect(err).ToNot(HaveOccurred())
			Expect(r.Persist(dst)).To(Succeed())
		}
	}
	Expect(dst.Close()).To(Succeed())
	return out.Bytes()
}

var _ = Describe("Coordinator", func() {
	var opts *sendstream.Options
	BeforeEach(func() {
		opts = sendstream.DefaultOptions()
		opts.SerdeChecks = true
		opts.ReadBufferSize = 64
		opts.MaximumBatchedExtentSize = 1024
	})

	runPipeline := func(stream []byte, construction, compression int) ([]byte, *Coordinator, error) {
		var out bytes.Buffer
		co := Coordinator{
			Source:              openSource(opts, stream),
			Destination:         openDestination(opts, &out),
			ConstructionThreads: construction,
			CompressionThreads:  compression,
			MaxCachedBuffers:    16,
		}
		err := co.Run(context.Background())
		if err == nil {
			Expect(co.Destination.Close()).To(Succeed())
		}
		return out.Bytes(), &co, err
	}

	for _, threads := range [][2]int{{1, 1}, {3, 2}, {2, 5}} {
		threads := threads

		It(fmt.Sprintf("matches a serial upgrade with %d/%d workers", threads[0], threads[1]), func() {
			stream := sampleStream()
			expected := upgradeSerially(opts, stream)

			out, co, err := runPipeline(stream, threads[0], threads[1])
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal(expected))

			stats := co.Stats()
			Expect(stats.CommandsRead).To(BeEquivalentTo(46))
			Expect(stats.CompressionPassed).ToNot(BeZero())
		})
	}

	It("matches a serial upgrade when padding and not compressing", func() {
		opts.PadWithDummyCommands = true
		opts.CompressionLevel = 0
		stream := sampleStream()

		out, _, err := runPipeline(stream, 2, 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal(upgradeSerially(opts, stream)))
	})

	It("passes a v2 stream through", func() {
		opts.CompressionLevel = 0
		opts.MaximumBatchedExtentSize = 0
		stream := sst.NewBuilder(sendstream.V2).
			Mkfile("a", 1).
			Write("a", 0, []byte("hello")).
			End().
			Bytes()

		out, _, err := runPipeline(stream, 1, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal(stream))
	})

	It("keeps every queue within its capacity behind a slow destination", func() {
		opts.WriteBufferSize = 16
		b := sst.NewBuilder(sendstream.V1).Mkfile("a", 1)
		for i := 0; i < 500; i++ {
			b.Chmod("a", uint64(i))
		}
		stream := b.End().Bytes()
		expected := upgradeSerially(opts, stream)

		out := slowWriter{delay: 100 * time.Microsecond}
		dst := sendstream.NewContext(opts, nil, nil, &out)
		dst.SetVersions(sendstream.V1, sendstream.V2)
		Expect(sendstream.WriteStreamHeader(dst)).To(Succeed())

		co := Coordinator{
			Source:              openSource(opts, stream),
			Destination:         dst,
			ConstructionThreads: 3,
			CompressionThreads:  3,
			QueueCapacity:       8,
		}
		Expect(co.Run(context.Background())).To(Succeed())
		Expect(co.Destination.Close()).To(Succeed())
		Expect(out.Bytes()).To(Equal(expected))

		peaks := co.QueuePeaks()
		Expect(peaks.Construction).To(BeNumerically("<=", 8))
		Expect(peaks.Batcher).To(BeNumerically("<=", 8))
		Expect(peaks.Compression).To(BeNumerically("<=", 8))
		Expect(peaks.Writer).To(BeNumerically("<=", 8))
		Expect(peaks.Writer).ToNot(BeZero())
	})

	It("finishes when the source stays open after the END command", func() {
		stream := sampleStream()
		expected := upgradeSerially(opts, stream)

		pr, pw := io.Pipe()
		defer pw.Close()
		go func() {
			_, _ = pw.Write(stream)
		}()

		var out bytes.Buffer
		co := Coordinator{
			Source:              sendstream.NewContext(opts, nil, pr, nil),
			Destination:         openDestination(opts, &out),
			ConstructionThreads: 2,
			CompressionThreads:  2,
			MaxCachedBuffers:    16,
		}
		src, err := sendstream.ReadStreamHeader(co.Source)
		Expect(err).ToNot(HaveOccurred())
		co.Source.SetVersions(src, sendstream.V2)

		errC := make(chan error, 1)
		go func() {
			errC <- co.Run(context.Background())
		}()
		Eventually(errC, 10*time.Second).Should(Receive(BeNil()))
		Expect(co.Destination.Close()).To(Succeed())
		Expect(out.Bytes()).To(Equal(expected))
		Expect(co.Stats().BytesRead).To(BeNumerically(">", 0))
	})

	It("crashes on an oversized command", func() {
		opts.MaxCommandSize = 1024
		stream := sst.NewBuilder(sendstream.V1).
			Mkfile("a", 1).
			Write("a", 0, sst.Repeat(1, 2048)).
			End().
			Bytes()

		_, _, err := runPipeline(stream, 2, 1)
		var ce *CrashError
		Expect(errors.As(err, &ce)).To(BeTrue())
		Expect(ce.Error()).To(ContainSubstring("maximum command size"))
	})

	It("crashes on a huge size field without allocating it", func() {
		stream := sst.NewBuilder(sendstream.V1).Mkfile("a", 1).Bytes()
		stream = append(stream, sst.EncodeCommandHeader(0xFFFFFFF0, sendstream.CmdWrite, 0)...)

		_, _, err := runPipeline(stream, 1, 1)
		var ce *CrashError
		Expect(errors.As(err, &ce)).To(BeTrue())
		Expect(ce.Error()).To(ContainSubstring("maximum command size"))
	})

	It("crashes on an unknown attribute", func() {
		stream := sst.NewBuilder(sendstream.V1).
			Mkfile("a", 1).
			Command(sendstream.CmdChmod, sst.Attr{Type: 200, Value: []byte{0}}).
			End().
			Bytes()

		_, _, err := runPipeline(stream, 2, 1)
		var ce *CrashError
		Expect(errors.As(err, &ce)).To(BeTrue())
		Expect(ce.Failures).ToNot(BeEmpty())
		Expect(ce.Error()).To(ContainSubstring("attribute"))
	})

	It("crashes on a truncated stream", func() {
		stream := sampleStream()
		stream = stream[:len(stream)-20]

		_, _, err := runPipeline(stream, 2, 2)
		var ce *CrashError
		Expect(errors.As(err, &ce)).To(BeTrue())
		Expect(ce.Failures).ToNot(BeEmpty())
	})

	It("crashes when its context is cancelled", func() {
		c, cancel := context.WithCancel(context.Background())
		cancel()

		var out bytes.Buffer
		co := Coordinator{
			Source:              openSource(opts, sampleStream()),
			Destination:         openDestination(opts, &out),
			ConstructionThreads: 1,
			CompressionThreads:  1,
		}
		err := co.Run(c)
		var ce *CrashError
		Expect(errors.As(err, &ce)).To(BeTrue())

		var found bool
		for _, f := range ce.Failures {
			if f.Worker == "coordinator" {
				Expect(errors.Cause(f.Err)).To(Equal(context.Canceled))
				found = true
			}
		}
		Expect(found).To(BeTrue())
	})

	It("rejects invalid configurations", func() {
		var out bytes.Buffer
		co := Coordinator{
			Source:      openSource(opts, sampleStream()),
			Destination: openDestination(opts, &out),
		}
		Expect(co.Run(context.Background())).To(MatchError(ContainSubstring("invalid thread counts")))

		co = Coordinator{ConstructionThreads: 1, CompressionThreads: 1}
		Expect(co.Run(context.Background())).ToNot(Succeed())
	})
})

// slowWriter is a bytes.Buffer that takes a while to accept each write.
type slowWriter struct {
	bytes.Buffer
	delay time.Duration
}

func (w *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(w.delay)
	return w.Buffer.Write(p)
}

var _ = Describe("CrashError", func() {
	It("lists every failed worker", func() {
		err := &CrashError{Failures: []*WorkerFailure{
			{Worker: "read", Err: errors.New("boom")},
			{Worker: "write", Err: errors.New("bang")},
		}}
		Expect(err.Error()).To(Equal("pipeline crashed with 2 failed worker(s): read: boom; write: bang"))
		Expect((&CrashError{}).Error()).To(Equal("pipeline crashed"))
	})
})
