package ioutils

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec names a stream compression format.
type Codec string

const (
	CodecNone  Codec = "none"
	CodecGzip  Codec = "gzip"
	CodecZstd  Codec = "zstd"
	CodecBzip2 Codec = "bzip2"
	CodecXz    Codec = "xz"
	CodecLz4   Codec = "lz4"
	CodecZip   Codec = "zip"
)

var magics = []struct {
	codec Codec
	magic []byte
}{
	{CodecGzip, []byte{0x1f, 0x8b}},
	{CodecZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{CodecBzip2, []byte("BZh")},
	{CodecXz, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{CodecLz4, []byte{0x04, 0x22, 0x4d, 0x18}},
	{CodecZip, []byte("PK\x03\x04")},
}

// DetectCodec identifies a compression format from leading bytes.
func DetectCodec(head []byte) Codec {
	for _, m := range magics {
		if bytes.HasPrefix(head, m.magic) {
			return m.codec
		}
	}
	return CodecNone
}

// CodecFromExt maps an output path extension to a codec.
func CodecFromExt(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".tgz":
		return CodecGzip
	case ".zst", ".zstd":
		return CodecZstd
	case ".bz2":
		return CodecBzip2
	case ".xz":
		return CodecXz
	case ".lz4":
		return CodecLz4
	case ".zip":
		return CodecZip
	}
	return CodecNone
}

// OpenMaybeCompressed opens a file path or stdin ("-") and returns a reader.
// Compression is detected from magic bytes. A tar archive (possibly
// compressed) yields its first regular file; so does a zip archive.
func OpenMaybeCompressed(path string) (io.ReadCloser, error) {
	var (
		f   *os.File
		src io.Reader
	)
	if path == "-" || path == "" {
		src = os.Stdin
	} else {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
		src = f
	}
	closeFile := func() error {
		if f != nil {
			return f.Close()
		}
		return nil
	}

	br := bufio.NewReader(src)
	head, _ := br.Peek(6)
	codec := DetectCodec(head)

	var (
		r       io.Reader
		closers []func() error
	)
	switch codec {
	case CodecNone:
		r = br
	case CodecGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			_ = closeFile()
			return nil, fmt.Errorf("gzip: %w", err)
		}
		r = zr
		closers = append(closers, zr.Close)
	case CodecZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			_ = closeFile()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		r = zr
		closers = append(closers, func() error { zr.Close(); return nil })
	case CodecBzip2:
		r = bzip2.NewReader(br)
	case CodecXz:
		zr, err := xz.NewReader(br)
		if err != nil {
			_ = closeFile()
			return nil, fmt.Errorf("xz: %w", err)
		}
		r = zr
	case CodecLz4:
		r = lz4.NewReader(br)
	case CodecZip:
		if f == nil {
			return nil, errors.New("zip input must be a regular file, not stdin")
		}
		rc, err := openFirstZipEntry(f)
		if err != nil {
			_ = closeFile()
			return nil, err
		}
		r = rc
		closers = append(closers, rc.Close)
	}

	// a tarball carries its payload behind 512-byte headers
	tb := bufio.NewReader(r)
	if isTar(tb) {
		tr := tar.NewReader(tb)
		if err := nextRegular(tr); err != nil {
			for _, c := range closers {
				_ = c()
			}
			_ = closeFile()
			return nil, err
		}
		r = tr
	} else {
		r = tb
	}

	closers = append(closers, closeFile)
	return readCloser{Reader: r, closeFn: func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}}, nil
}

func isTar(br *bufio.Reader) bool {
	b, err := br.Peek(262)
	if err != nil {
		return false
	}
	return bytes.Equal(b[257:262], []byte("ustar"))
}

func nextRegular(tr *tar.Reader) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return errors.New("tar archive has no regular file")
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			return nil
		}
	}
}

func openFirstZipEntry(f *os.File) (io.ReadCloser, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("zip: %w", err)
	}
	for _, zf := range zr.File {
		if zf.Mode().IsRegular() {
			return zf.Open()
		}
	}
	return nil, errors.New("zip archive has no regular file")
}

// CreateMaybeCompressed creates a file (or stdout if path is "-") and
// returns a writer. .gz and .zst paths are compressed accordingly.
func CreateMaybeCompressed(path string) (io.WriteCloser, error) {
	if path == "-" || path == "" {
		// stdout: cannot detect compression; write plain
		return nopWriteCloser{Writer: bufio.NewWriter(os.Stdout)}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	switch CodecFromExt(path) {
	case CodecGzip:
		zw := gzip.NewWriter(f)
		return writeCloser{Writer: zw, closeFn: chainClose(zw.Close, f.Close)}, nil
	case CodecZstd:
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return writeCloser{Writer: zw, closeFn: chainClose(zw.Close, f.Close)}, nil
	}
	return writeCloser{Writer: bufio.NewWriter(f), closeFn: f.Close}, nil
}

func chainClose(fns ...func() error) func() error {
	return func() error {
		var first error
		for _, fn := range fns {
			if err := fn(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
}

type readCloser struct {
	io.Reader
	closeFn func() error
}

func (r readCloser) Close() error {
	if r.closeFn != nil {
		return r.closeFn()
	}
	return errors.New("no closeFn")
}

type writeCloser struct {
	io.Writer
	closeFn func() error
}

func (w writeCloser) Close() error {
	if bw, ok := w.Writer.(*bufio.Writer); ok {
		if err := bw.Flush(); err != nil {
			_ = w.closeFn()
			return err
		}
	}
	if w.closeFn != nil {
		return w.closeFn()
	}
	return errors.New("no closeFn")
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error {
	if bw, ok := n.Writer.(*bufio.Writer); ok {
		return bw.Flush()
	}
	return nil
}
