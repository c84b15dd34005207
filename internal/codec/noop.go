package codec

// Compile-time check that Noop implements Codec.
var _ Codec = (*Noop)(nil)

// Noop passes data through unchanged. Used when compression is disabled.
type Noop struct{}

// NewNoop returns a new no-op codec.
func NewNoop() *Noop {
	return &Noop{}
}

// Encode returns data unchanged.
func (c *Noop) Encode(data []byte) ([]byte, error) {
	return data, nil
}

// Decode returns data unchanged.
func (c *Noop) Decode(data []byte) ([]byte, error) {
	return data, nil
}

// Name returns "none".
func (c *Noop) Name() string {
	return "none"
}
