package balancer

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lingvolabs/optilayer/pkg/types"
)

// ewmaAlpha is the smoothing factor for response time and availability:
// each observation contributes 10%, the running value keeps 90%.
const ewmaAlpha = 0.1

// errorRateWindow is the sliding window for the errors-per-minute figure.
const errorRateWindow = time.Minute

// ServerRecord tracks the live state of one worker. ActiveRequests is
// atomic so the dispatch hot path never takes the record mutex; everything
// else is updated under mu by Observe.
type ServerRecord struct {
	address        string
	activeRequests atomic.Int64

	mu              sync.Mutex
	currentLoad     float64
	avgResponseTime float64
	minResponseTime float64
	maxResponseTime float64
	availability    float64
	resources       types.ServerResources
	lastSeen        time.Time
	observations    uint64
	errorTimes      []time.Time
}

func newServerRecord(address string) *ServerRecord {
	return &ServerRecord{
		address:      address,
		availability: 1.0, // innocent until observed otherwise
	}
}

// Address returns the worker address the record describes.
func (r *ServerRecord) Address() string {
	return r.address
}

// Active returns the current in-flight request count.
func (r *ServerRecord) Active() int64 {
	return r.activeRequests.Load()
}

func (r *ServerRecord) acquire() int64 {
	return r.activeRequests.Add(1)
}

func (r *ServerRecord) release() int64 {
	for {
		cur := r.activeRequests.Load()
		if cur <= 0 {
			return 0
		}
		if r.activeRequests.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// observe folds one dispatch outcome into the record.
func (r *ServerRecord) observe(now time.Time, load, responseTimeMs float64, errored bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentLoad = clamp01(load)
	if r.observations == 0 {
		r.avgResponseTime = responseTimeMs
		r.minResponseTime = responseTimeMs
		r.maxResponseTime = responseTimeMs
	} else {
		r.avgResponseTime = (1-ewmaAlpha)*r.avgResponseTime + ewmaAlpha*responseTimeMs
		r.minResponseTime = math.Min(r.minResponseTime, responseTimeMs)
		r.maxResponseTime = math.Max(r.maxResponseTime, responseTimeMs)
	}
	r.observations++

	if errored {
		r.availability = (1 - ewmaAlpha) * r.availability
		r.errorTimes = append(r.errorTimes, now)
	} else {
		r.availability = (1-ewmaAlpha)*r.availability + ewmaAlpha
	}
	r.pruneErrorsLocked(now)
	r.lastSeen = now
}

func (r *ServerRecord) setResources(res types.ServerResources) {
	r.mu.Lock()
	r.resources = res
	r.mu.Unlock()
}

func (r *ServerRecord) pruneErrorsLocked(now time.Time) {
	cutoff := now.Add(-errorRateWindow)
	i := 0
	for ; i < len(r.errorTimes); i++ {
		if r.errorTimes[i].After(cutoff) {
			break
		}
	}
	r.errorTimes = r.errorTimes[i:]
}

// Load returns the most recently observed load in [0, 1].
func (r *ServerRecord) Load() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLoad
}

// Availability returns the smoothed success rate in [0, 1].
func (r *ServerRecord) Availability() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.availability
}

// AvgResponseTime returns the smoothed response time in milliseconds.
func (r *ServerRecord) AvgResponseTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.avgResponseTime
}

// Resources returns the last reported resource utilization.
func (r *ServerRecord) Resources() types.ServerResources {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resources
}

// Snapshot returns a read-only copy of the record's state.
func (r *ServerRecord) Snapshot(now time.Time) types.ServerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneErrorsLocked(now)
	return types.ServerSnapshot{
		Address:         r.address,
		CurrentLoad:     r.currentLoad,
		AvgResponseTime: r.avgResponseTime,
		Availability:    r.availability,
		Resources:       r.resources,
		Stats: types.ServerStats{
			ActiveRequests:  r.activeRequests.Load(),
			MinResponseTime: r.minResponseTime,
			MaxResponseTime: r.maxResponseTime,
			ErrorsPerMinute: float64(len(r.errorTimes)),
		},
		LastSeen: r.lastSeen,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
