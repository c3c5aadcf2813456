package ioutils

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

const payload = "id,name\n1,alpha\n2,beta\n"

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func readAll(t *testing.T, path string) string {
	t.Helper()
	rc, err := OpenMaybeCompressed(path)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestOpenPlain(t *testing.T) {
	p := writeFile(t, "plain.csv", []byte(payload))
	assert.Equal(t, payload, readAll(t, p))
}

func TestOpenCompressed(t *testing.T) {
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(payload))
	require.NoError(t, gw.Close())

	var zs bytes.Buffer
	zw, err := zstd.NewWriter(&zs)
	require.NoError(t, err)
	_, _ = zw.Write([]byte(payload))
	require.NoError(t, zw.Close())

	var xzb bytes.Buffer
	xw, err := xz.NewWriter(&xzb)
	require.NoError(t, err)
	_, _ = xw.Write([]byte(payload))
	require.NoError(t, xw.Close())

	var lz bytes.Buffer
	lw := lz4.NewWriter(&lz)
	_, _ = lw.Write([]byte(payload))
	require.NoError(t, lw.Close())

	cases := map[string][]byte{
		"data.csv.gz":  gz.Bytes(),
		"data.csv.zst": zs.Bytes(),
		"data.csv.xz":  xzb.Bytes(),
		"data.csv.lz4": lz.Bytes(),
		// extension does not matter, magic bytes do
		"mislabeled.csv": gz.Bytes(),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			p := writeFile(t, name, data)
			assert.Equal(t, payload, readAll(t, p))
		})
	}
}

func TestOpenZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("dir/")
	require.NoError(t, err)
	w, err := zw.Create("dir/data.csv")
	require.NoError(t, err)
	_, _ = w.Write([]byte(payload))
	require.NoError(t, zw.Close())

	p := writeFile(t, "data.zip", buf.Bytes())
	assert.Equal(t, payload, readAll(t, p))
}

func TestOpenTarGz(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "data/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "data/a.csv", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(payload))}))
	_, _ = tw.Write([]byte(payload))
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	p := writeFile(t, "data.tar.gz", buf.Bytes())
	assert.Equal(t, payload, readAll(t, p))
}

func TestCreateMaybeCompressed(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"out.csv", "out.csv.gz", "out.csv.zst"} {
		p := filepath.Join(dir, name)
		w, err := CreateMaybeCompressed(p)
		require.NoError(t, err)
		_, err = io.Copy(w, strings.NewReader(payload))
		require.NoError(t, err)
		require.NoError(t, w.Close())
		assert.Equal(t, payload, readAll(t, p), name)
	}
}

func TestDetectCodec(t *testing.T) {
	assert.Equal(t, CodecBzip2, DetectCodec([]byte("BZh91AY")))
	assert.Equal(t, CodecNone, DetectCodec([]byte("id,name")))
	assert.Equal(t, CodecNone, DetectCodec(nil))
	assert.Equal(t, CodecZstd, CodecFromExt("x.csv.zst"))
	assert.Equal(t, CodecNone, CodecFromExt("x.csv"))
}

func TestDecodeText(t *testing.T) {
	latin := []byte("name\nCaf\xe9\n")

	r, enc, err := DecodeText(bytes.NewReader(latin), "auto")
	require.NoError(t, err)
	assert.Equal(t, "iso-8859-1", enc)
	b, _ := io.ReadAll(r)
	assert.Equal(t, "name\nCafé\n", string(b))

	r, enc, err = DecodeText(strings.NewReader("name\nCafé\n"), "auto")
	require.NoError(t, err)
	assert.Equal(t, "utf-8", enc)
	b, _ = io.ReadAll(r)
	assert.Equal(t, "name\nCafé\n", string(b))

	r, _, err = DecodeText(bytes.NewReader([]byte{0x80}), "windows-1252")
	require.NoError(t, err)
	b, _ = io.ReadAll(r)
	assert.Equal(t, "€", string(b))

	_, _, err = DecodeText(strings.NewReader(""), "ebcdic")
	assert.Error(t, err)
}

func TestValidUTF8Prefix(t *testing.T) {
	euro := []byte("€") // 3 bytes
	assert.True(t, validUTF8Prefix(append([]byte("ab"), euro[:2]...)))
	assert.False(t, validUTF8Prefix([]byte{'a', 0xe9, 'b'}))
}
