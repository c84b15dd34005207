package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvolabs/optilayer/internal/store"
)

func TestFastTierShardCount(t *testing.T) {
	t.Parallel()

	assert.Len(t, newFastTier(1).shards, 1)
	assert.Len(t, newFastTier(5).shards, 8)
	assert.Len(t, newFastTier(64).shards, 64)
	assert.Len(t, newFastTier(10000).shards, 256)
}

func TestFastTierConditionalRemove(t *testing.T) {
	t.Parallel()

	ft := newFastTier(4)
	old := &Entry{Value: []byte("v1"), StoredSize: 2}
	ft.put("k", old)

	// Simulate a promotion replacing the entry between an eviction scan
	// and its removal. The removal observed the old pointer and must fail.
	replacement := old.accessed(time.Now())
	ft.put("k", replacement)

	assert.False(t, ft.remove("k", old))
	assert.Same(t, replacement, ft.get("k"))

	assert.True(t, ft.remove("k", replacement))
	assert.Nil(t, ft.get("k"))
	assert.Equal(t, 0, ft.len())
	assert.Equal(t, int64(0), ft.memoryBytes())
}

func TestFastTierConditionalReplace(t *testing.T) {
	t.Parallel()

	ft := newFastTier(4)
	old := &Entry{Value: []byte("v1"), StoredSize: 2}
	ft.put("k", old)

	// Simulate a writer swapping the entry between a reader's load and its
	// republish. The republish observed the old pointer and must lose.
	newer := &Entry{Value: []byte("v2"), StoredSize: 2}
	ft.put("k", newer)

	assert.False(t, ft.replace("k", old, old.accessed(time.Now())))
	assert.Same(t, newer, ft.get("k"))

	accessed := newer.accessed(time.Now())
	assert.True(t, ft.replace("k", newer, accessed))
	assert.Same(t, accessed, ft.get("k"))
	assert.Equal(t, 1, ft.len())

	// Nil expected inserts only while the key is absent.
	assert.False(t, ft.replace("k", nil, old))
	assert.Same(t, accessed, ft.get("k"))

	promoted := &Entry{Value: []byte("v3"), StoredSize: 2}
	assert.True(t, ft.replace("fresh", nil, promoted))
	assert.Same(t, promoted, ft.get("fresh"))
	assert.Equal(t, 2, ft.len())
	assert.Equal(t, int64(2*2+2*entryOverhead), ft.memoryBytes())
}

func TestFastTierByteAccounting(t *testing.T) {
	t.Parallel()

	ft := newFastTier(4)
	ft.put("a", &Entry{StoredSize: 100})
	ft.put("b", &Entry{StoredSize: 50})
	assert.Equal(t, int64(150+2*entryOverhead), ft.memoryBytes())

	ft.put("a", &Entry{StoredSize: 10})
	assert.Equal(t, int64(60+2*entryOverhead), ft.memoryBytes())
	assert.Equal(t, 2, ft.len())
}

func TestSecondaryTierCapacityAndOrder(t *testing.T) {
	t.Parallel()

	st := newSecondaryTier(2)
	assert.True(t, st.put("b", &Entry{StoredSize: 1}))
	assert.True(t, st.put("a", &Entry{StoredSize: 1}))
	assert.False(t, st.put("c", &Entry{StoredSize: 1}), "tier is full")
	// Replacing an existing key is always allowed.
	assert.True(t, st.put("a", &Entry{StoredSize: 2}))

	assert.Equal(t, []string{"a", "b"}, st.scanPrefix("", 0))
	assert.True(t, st.remove("a"))
	assert.False(t, st.remove("a"))
	assert.True(t, st.put("c", &Entry{StoredSize: 1}))
	assert.Equal(t, []string{"b", "c"}, st.scanPrefix("", 0))
}

func TestSecondaryTierScanPrefix(t *testing.T) {
	t.Parallel()

	st := newSecondaryTier(0)
	for _, k := range []string{"doc1:s1", "doc1:s2", "doc2:s1", "doc10:s1"} {
		require.True(t, st.put(k, &Entry{StoredSize: 1}))
	}

	assert.Equal(t, []string{"doc1:s1", "doc1:s2"}, st.scanPrefix("doc1:", 0))
	assert.Equal(t, []string{"doc1:s1"}, st.scanPrefix("doc1:", 1))
	assert.Empty(t, st.scanPrefix("doc3:", 0))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	in := &Entry{
		Value:        []byte("übersetzung"),
		Compressed:   true,
		CreatedAt:    created,
		LastAccessed: created.Add(5 * time.Minute),
		AccessCount:  42,
		Priority:     3,
		OriginalSize: 2048,
		StoredSize:   11,
	}

	out, err := decodeEnvelope(encodeEnvelope(in))
	require.NoError(t, err)
	assert.Equal(t, in.Value, out.Value)
	assert.True(t, out.Compressed)
	assert.Equal(t, uint64(42), out.AccessCount)
	assert.Equal(t, uint8(3), out.Priority)
	assert.Equal(t, int64(2048), out.OriginalSize)
	assert.True(t, created.Equal(out.CreatedAt))
	assert.True(t, created.Add(5*time.Minute).Equal(out.LastAccessed))
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := decodeEnvelope([]byte("short"))
	assert.Error(t, err)

	bad := encodeEnvelope(&Entry{Value: []byte("x")})
	bad[0] = 99
	_, err = decodeEnvelope(bad)
	assert.Error(t, err)
}

func TestBulkTierDegradedProbing(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ms := store.NewMemStore()
	bt := newBulkTier(ms, 0, 30*time.Second, clock.Now)
	ctx := context.Background()

	require.NoError(t, bt.put(ctx, "k", &Entry{Value: []byte("v")}))

	ms.FailNext(1, io.ErrUnexpectedEOF)
	_, err := bt.get(ctx, "k")
	require.Error(t, err)
	assert.True(t, bt.isDegraded())

	// Inside the probe interval the backend is not touched at all.
	e, err := bt.get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, e)

	clock.Advance(31 * time.Second)
	e, err = bt.get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte("v"), e.Value)
	assert.False(t, bt.isDegraded())
}
