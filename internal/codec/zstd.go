package codec

import (
	"github.com/klauspost/compress/zstd"
)

// Compile-time check that Zstd implements Codec.
var _ Codec = (*Zstd)(nil)

// Zstd implements zstd compression. Encoder and decoder are created once
// and reused; both are safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd returns a new zstd codec.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

// Encode compresses data with zstd.
func (c *Zstd) Encode(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decode decompresses zstd data.
func (c *Zstd) Decode(data []byte) ([]byte, error) {
	return c.dec.DecodeAll(data, nil)
}

// Name returns "zstd".
func (c *Zstd) Name() string {
	return "zstd"
}
