package codec

import (
	"bytes"
	"compress/gzip"
	"io"
)

// Compile-time check that Gzip implements Codec.
var _ Codec = (*Gzip)(nil)

// Gzip implements gzip compression.
type Gzip struct{}

// NewGzip returns a new gzip codec.
func NewGzip() *Gzip {
	return &Gzip{}
}

// Encode compresses data with gzip.
func (c *Gzip) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode decompresses gzip data.
func (c *Gzip) Decode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Name returns "gzip".
func (c *Gzip) Name() string {
	return "gzip"
}
