package ioutils

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

const sniffSize = 64 << 10

// DecodeText returns a UTF-8 view of r for the named encoding along with the
// encoding actually used. "auto" keeps UTF-8 when the first 64 KiB are valid
// UTF-8 and falls back to ISO-8859-1 otherwise.
func DecodeText(r io.Reader, encoding string) (io.Reader, string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "auto":
		br := bufio.NewReaderSize(r, sniffSize)
		head, _ := br.Peek(sniffSize)
		if validUTF8Prefix(head) {
			return br, "utf-8", nil
		}
		return transform.NewReader(br, charmap.ISO8859_1.NewDecoder()), "iso-8859-1", nil
	case "utf-8", "utf8":
		return r, "utf-8", nil
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), "iso-8859-1", nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), "windows-1252", nil
	}
	return nil, "", fmt.Errorf("unsupported encoding %q", encoding)
}

// validUTF8Prefix tolerates a rune cut off at the end of the sniffed window.
func validUTF8Prefix(b []byte) bool {
	if utf8.Valid(b) {
		return true
	}
	for cut := 1; cut <= 3 && cut <= len(b); cut++ {
		tail := b[len(b)-cut:]
		if utf8.RuneStart(tail[0]) && !utf8.FullRune(tail) {
			return utf8.Valid(b[:len(b)-cut])
		}
	}
	return false
}
