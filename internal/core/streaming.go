package core

// streaming.go provides readers used while parsing CSV input.

import (
	"bufio"
	"bytes"
	"io"
)

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
// The UTF-8 BOM is 0xEF 0xBB 0xBF and is commonly added by Windows programs.
type BOMSkippingReader struct {
	br      *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{br: bufio.NewReader(r)}
}

// Read implements io.Reader. On the first read, it checks for and skips the BOM.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, err := r.br.Peek(len(utf8BOM))
		if err != nil && err != io.EOF {
			return 0, err
		}
		if bytes.Equal(head, utf8BOM) {
			if _, err := r.br.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		}
	}
	return r.br.Read(p)
}

// normalizeLineEnds rewrites each lone "\r" as "\n" so encoding/csv, which
// only understands "\n" and "\r\n", sees the same rows the chunker cuts.
// raw is returned unchanged when it holds no lone "\r".
func normalizeLineEnds(raw []byte) []byte {
	var out []byte
	for i, b := range raw {
		if b != '\r' || (i+1 < len(raw) && raw[i+1] == '\n') {
			continue
		}
		if out == nil {
			out = bytes.Clone(raw)
		}
		out[i] = '\n'
	}
	if out == nil {
		return raw
	}
	return out
}
