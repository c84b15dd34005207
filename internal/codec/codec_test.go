package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs(t *testing.T) {
	t.Parallel()

	zstdCodec, err := NewZstd()
	require.NoError(t, err)

	codecs := []Codec{zstdCodec, NewGzip(), NewNoop()}

	payloads := [][]byte{
		[]byte("hello"),
		bytes.Repeat([]byte("translation segment "), 200),
		{},
	}

	for _, c := range codecs {
		for _, payload := range payloads {
			encoded, err := c.Encode(payload)
			require.NoError(t, err, "codec %s", c.Name())

			decoded, err := c.Decode(encoded)
			require.NoError(t, err, "codec %s", c.Name())
			assert.Equal(t, payload, decoded, "codec %s round trip", c.Name())
		}
	}
}

func TestZstdShrinksRepetitiveData(t *testing.T) {
	t.Parallel()

	c, err := NewZstd()
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("morphological analysis of the same stem "), 100)
	encoded, err := c.Encode(payload)
	require.NoError(t, err)
	assert.Less(t, len(encoded), len(payload))
}

func TestDecodeGarbageFails(t *testing.T) {
	t.Parallel()

	zstdCodec, err := NewZstd()
	require.NoError(t, err)

	_, err = zstdCodec.Decode([]byte("definitely not zstd"))
	assert.Error(t, err)

	_, err = NewGzip().Decode([]byte("definitely not gzip"))
	assert.Error(t, err)
}
