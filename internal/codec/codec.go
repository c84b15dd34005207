// Package codec provides compression and decompression for cached values.
package codec

import "fmt"

// Codec compresses and decompresses byte slices. Implementations must be
// safe for concurrent use.
type Codec interface {
	// Encode returns the compressed form of data.
	Encode(data []byte) ([]byte, error)
	// Decode returns the decompressed form of data.
	Decode(data []byte) ([]byte, error)
	// Name returns a short identifier (e.g. "zstd", "gzip", "none").
	Name() string
}

// ForAlgorithm returns the codec for a configured algorithm name. The empty
// string selects the no-op codec.
func ForAlgorithm(name string) (Codec, error) {
	switch name {
	case "zstd":
		return NewZstd()
	case "gzip":
		return NewGzip(), nil
	case "", "none":
		return NewNoop(), nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", name)
	}
}
