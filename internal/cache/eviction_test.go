package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"recency", "frequency", "composite", "composite_decay"} {
		s, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, Strategy(name), s)
	}

	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyComposite, s)

	_, err = ParseStrategy("clairvoyant")
	assert.Error(t, err)
}

func TestScoreOrdering(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := func(accessCount uint64, priority uint8, idle time.Duration) *Entry {
		return &Entry{
			AccessCount:  accessCount,
			Priority:     priority,
			LastAccessed: now.Add(-idle),
			CreatedAt:    now.Add(-idle),
		}
	}

	t.Run("recency prefers recently accessed", func(t *testing.T) {
		recent := entry(1, 0, time.Second)
		stale := entry(100, 5, time.Hour)
		assert.Greater(t, StrategyRecency.Score(recent, now), StrategyRecency.Score(stale, now))
	})

	t.Run("frequency prefers frequently accessed", func(t *testing.T) {
		hot := entry(50, 0, time.Hour)
		cold := entry(2, 5, time.Second)
		assert.Greater(t, StrategyFrequency.Score(hot, now), StrategyFrequency.Score(cold, now))
	})

	t.Run("composite weighs priority into frequency", func(t *testing.T) {
		// 10 accesses at priority 0 score below 5 accesses at priority 3.
		plain := entry(10, 0, time.Minute)
		prioritized := entry(5, 3, time.Minute)
		assert.Greater(t, StrategyComposite.Score(prioritized, now), StrategyComposite.Score(plain, now))
		assert.InDelta(t, 10.0, StrategyComposite.Score(plain, now), 1e-9)
		assert.InDelta(t, 20.0, StrategyComposite.Score(prioritized, now), 1e-9)
	})

	t.Run("composite ignores idle time", func(t *testing.T) {
		a := entry(4, 1, time.Second)
		b := entry(4, 1, time.Hour)
		assert.Equal(t, StrategyComposite.Score(a, now), StrategyComposite.Score(b, now))
	})

	t.Run("composite_decay fades with idle time", func(t *testing.T) {
		fresh := entry(4, 1, 0)
		idle := entry(4, 1, time.Hour)
		assert.Greater(t, StrategyCompositeDecay.Score(fresh, now), StrategyCompositeDecay.Score(idle, now))
		// One half-life halves the score.
		half := entry(4, 1, decayHalfLife)
		assert.InDelta(t, StrategyCompositeDecay.Score(fresh, now)/2, StrategyCompositeDecay.Score(half, now), 1e-9)
	})
}

func TestSelectVictims(t *testing.T) {
	t.Parallel()

	candidates := []candidate{
		{key: "c", score: 3},
		{key: "a", score: 1},
		{key: "b", score: 2},
	}
	victims := selectVictims(candidates, 2)
	require.Len(t, victims, 2)
	assert.Equal(t, "a", victims[0].key)
	assert.Equal(t, "b", victims[1].key)

	assert.Len(t, selectVictims(candidates, 10), 3)
	assert.Nil(t, selectVictims(candidates, 0))
	assert.Nil(t, selectVictims(nil, 5))
}

func TestSelectVictimsTieBreaksByKey(t *testing.T) {
	t.Parallel()

	candidates := []candidate{
		{key: "z", score: 1},
		{key: "a", score: 1},
		{key: "m", score: 1},
	}
	victims := selectVictims(candidates, 2)
	require.Len(t, victims, 2)
	assert.Equal(t, "a", victims[0].key)
	assert.Equal(t, "m", victims[1].key)
}

func TestDefaultPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		key          string
		originalSize int64
		storedSize   int64
		want         uint8
	}{
		{"plain large value", "seg:doc1:42", 4096, 4096, 0},
		{"small value", "seg:doc1:42", 512, 512, 1},
		{"terminology prefix", "term:en-de:voltage", 4096, 4096, 2},
		{"technical key", "glossary:technical_manual:7", 4096, 4096, 2},
		{"small terminology", "term:en-de:voltage", 200, 200, 3},
		{"compressible large value", "seg:doc1:42", 4096, 1024, 1},
		{"small compressible terminology", "term:en-de:voltage", 900, 300, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultPriority(tt.key, tt.originalSize, tt.storedSize))
		})
	}
}
