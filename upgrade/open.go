// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package upgrade

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// containerBufferSize buffers the raw file underneath any container
// compression.
const containerBufferSize = 64 * 1024

// inputStream reads a send stream from a file or stdin, removing container
// compression.
type inputStream struct {
	// Currently connected to the decompressed source.
	io.Reader

	base  io.Closer
	gzipR *gzip.Reader
	zstdR *zstd.Decoder
}

// openInput opens path on fs for reading. An empty path reads stdin, which is
// never closed.
func openInput(fs afero.Fs, path string, comp Compression, stdin io.Reader) (*inputStream, error) {
	var s inputStream
	base := stdin
	if path != "" {
		f, err := fs.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "opening input %q", path)
		}
		s.base, base = f, f
	}
	if base == nil {
		return nil, errors.New("no input available")
	}

	if err := s.reset(bufio.NewReaderSize(base, containerBufferSize), comp); err != nil {
		_ = s.Close()
		return nil, err
	}
	return &s, nil
}

func (s *inputStream) reset(br *bufio.Reader, comp Compression) error {
	switch comp {
	case CompressionSnappy:
		s.Reader = snappy.NewReader(br)

	case CompressionGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "creating gzip reader")
		}
		s.gzipR = gz
		s.Reader = gz

	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "creating zstd reader")
		}
		s.zstdR = zr
		s.Reader = zr

	case CompressionNone:
		s.Reader = br

	default:
		return errors.Errorf("unknown compression: %s", comp)
	}
	return nil
}

func (s *inputStream) Close() (err error) {
	if s.zstdR != nil {
		s.zstdR.Close()
	}
	if s.gzipR != nil {
		err = s.gzipR.Close()
	}
	if s.base != nil {
		if closeErr := s.base.Close(); err == nil {
			err = closeErr
		}
	}
	return
}

// outputStream writes a send stream to a file or stdout, applying container
// compression.
type outputStream struct {
	io.Writer

	closer  io.Closer
	bw      *bufio.Writer
	snappyW *snappy.Writer
	gzipW   *gzip.Writer
	zstdW   *zstd.Encoder
}

// openOutput creates path on fs for writing. The file must not already
// exist. An empty path writes to stdout, which is flushed but never closed.
func openOutput(fs afero.Fs, path string, comp Compression, stdout io.Writer) (*outputStream, error) {
	base := stdout
	var closer io.Closer
	if path != "" {
		f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return nil, errors.Wrapf(err, "creating output %q", path)
		}
		base, closer = f, f
	}
	if base == nil {
		return nil, errors.New("no output available")
	}

	w := outputStream{
		bw:     bufio.NewWriterSize(base, containerBufferSize),
		closer: closer,
	}
	if err := w.beginCompression(comp); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &w, nil
}

func (w *outputStream) beginCompression(comp Compression) error {
	switch comp {
	case CompressionSnappy:
		w.snappyW = snappy.NewBufferedWriter(w.bw)
		w.Writer = w.snappyW

	case CompressionGzip:
		w.gzipW = gzip.NewWriter(w.bw)
		w.Writer = w.gzipW

	case CompressionZstd:
		zw, err := zstd.NewWriter(w.bw)
		if err != nil {
			return errors.Wrap(err, "creating zstd writer")
		}
		w.zstdW = zw
		w.Writer = zw

	case CompressionNone:
		w.Writer = w.bw

	default:
		return errors.Errorf("unknown compression: %s", comp)
	}
	return nil
}

func (w *outputStream) Close() (err error) {
	// Always close our underlying base, if we have one.
	if w.closer != nil {
		defer func() {
			closeErr := w.closer.Close()
			if err == nil {
				err = closeErr
			}
		}()
	}

	if w.snappyW != nil {
		if err = w.snappyW.Close(); err != nil {
			return
		}
	}
	if w.gzipW != nil {
		if err = w.gzipW.Close(); err != nil {
			return
		}
	}
	if w.zstdW != nil {
		if err = w.zstdW.Close(); err != nil {
			return
		}
	}

	err = w.bw.Flush()
	return
}
