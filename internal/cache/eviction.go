package cache

import (
	"fmt"
	"sort"
	"time"
)

// Strategy selects the eviction scoring function. Lower scores are evicted
// first; each strategy is a pure function of the entry and the clock.
type Strategy string

const (
	// StrategyRecency keeps recently accessed entries (classic LRU order).
	StrategyRecency Strategy = "recency"
	// StrategyFrequency keeps frequently accessed entries (LFU order).
	StrategyFrequency Strategy = "frequency"
	// StrategyComposite ranks by access_count × (priority+1). This is the
	// default: frequency alone starves high-priority terminology entries
	// that are read in bursts, and recency alone ignores priority entirely.
	StrategyComposite Strategy = "composite"
	// StrategyCompositeDecay is the composite score decayed by idle time,
	// so once-hot entries eventually become evictable.
	StrategyCompositeDecay Strategy = "composite_decay"
)

// decayHalfLife controls how fast the composite_decay score fades: an entry
// idle for one half-life keeps half its composite score.
const decayHalfLife = 5 * time.Minute

// ParseStrategy validates and returns a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRecency, StrategyFrequency, StrategyComposite, StrategyCompositeDecay:
		return Strategy(s), nil
	case "":
		return StrategyComposite, nil
	default:
		return "", fmt.Errorf("unknown eviction strategy %q", s)
	}
}

// Score ranks an entry for retention. Deterministic and side-effect free;
// see TestScoreOrdering for the guaranteed orderings.
func (s Strategy) Score(e *Entry, now time.Time) float64 {
	switch s {
	case StrategyRecency:
		// More recently accessed entries score higher.
		return -now.Sub(e.LastAccessed).Seconds()
	case StrategyFrequency:
		return float64(e.AccessCount)
	case StrategyCompositeDecay:
		idle := now.Sub(e.LastAccessed).Seconds()
		composite := float64(e.AccessCount) * float64(uint16(e.Priority)+1)
		return composite / (1.0 + idle/decayHalfLife.Seconds())
	default: // StrategyComposite
		return float64(e.AccessCount) * float64(uint16(e.Priority)+1)
	}
}

// candidate pairs a key with the entry pointer observed during the scan.
// The pointer is re-checked at removal time so that an entry replaced by a
// concurrent promotion is never evicted by the pass that observed it.
type candidate struct {
	key   string
	entry *Entry
	score float64
}

// selectVictims returns at most batch candidates with the lowest scores,
// ties broken by key so a pass over equal entries is deterministic.
func selectVictims(candidates []candidate, batch int) []candidate {
	if batch <= 0 || len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].key < candidates[j].key
	})
	if batch > len(candidates) {
		batch = len(candidates)
	}
	return candidates[:batch]
}
