package balancer

import (
	"sync"

	"github.com/lingvolabs/optilayer/internal/predictor"
	"github.com/lingvolabs/optilayer/pkg/errors"
	"github.com/lingvolabs/optilayer/pkg/types"
)

// Balancing policy names as they appear in configuration and metrics.
const (
	PolicyWeightedRoundRobin = "weighted_round_robin"
	PolicyLeastConnections   = "least_connections"
	PolicyResourceBased      = "resource_based"
	PolicyPredictive         = "predictive"
)

// strategy picks a worker from a non-empty, address-sorted candidate list.
// Each implementation returns NO_SERVERS_AVAILABLE when no candidate is
// usable.
type strategy interface {
	Select(servers []*ServerRecord, req types.Request) (*ServerRecord, error)
	Name() string
}

func errNoServers(detail string) error {
	return errors.New(errors.ErrCodeNoServersAvailable, detail).
		WithComponent("balancer").WithOperation("select")
}

// weightedRoundRobin implements smooth weighted round robin over the
// effective weight weight × (1 − load) × availability. Each pass adds every
// server's effective weight to its credit, picks the highest credit, and
// charges the winner the pass total, so over many selections the selection
// frequency converges to the weight proportions instead of starving the
// lighter servers the way a plain argmax over the same score would.
type weightedRoundRobin struct {
	weights map[string]float64

	mu     sync.Mutex
	credit map[string]float64
}

func newWeightedRoundRobin(weights map[string]float64) *weightedRoundRobin {
	return &weightedRoundRobin{
		weights: weights,
		credit:  make(map[string]float64),
	}
}

func (w *weightedRoundRobin) Name() string { return PolicyWeightedRoundRobin }

func (w *weightedRoundRobin) weight(address string) float64 {
	if wt, ok := w.weights[address]; ok && wt > 0 {
		return wt
	}
	return 1.0
}

func (w *weightedRoundRobin) effectiveWeight(r *ServerRecord) float64 {
	return w.weight(r.address) * (1 - r.Load()) * r.Availability()
}

func (w *weightedRoundRobin) Select(servers []*ServerRecord, _ types.Request) (*ServerRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var chosen *ServerRecord
	var total, best float64
	for _, r := range servers {
		ew := w.effectiveWeight(r)
		if ew <= 0 {
			continue
		}
		total += ew
		w.credit[r.address] += ew
		if chosen == nil || w.credit[r.address] > best {
			chosen = r
			best = w.credit[r.address]
		}
	}
	if chosen == nil {
		return nil, errNoServers("no server with positive effective weight")
	}
	w.credit[chosen.address] -= total
	return chosen, nil
}

// leastConnections picks the eligible server with the fewest in-flight
// requests. Servers at the connection cap are excluded outright.
type leastConnections struct {
	maxConnections int64
}

func (l *leastConnections) Name() string { return PolicyLeastConnections }

func (l *leastConnections) Select(servers []*ServerRecord, _ types.Request) (*ServerRecord, error) {
	var chosen *ServerRecord
	var fewest int64
	for _, r := range servers {
		active := r.Active()
		if active >= l.maxConnections {
			continue
		}
		// The list is address-sorted, so a strict comparison keeps ties
		// deterministic.
		if chosen == nil || active < fewest {
			chosen = r
			fewest = active
		}
	}
	if chosen == nil {
		return nil, errNoServers("all servers at the connection cap")
	}
	return chosen, nil
}

// minResponseTimeMs floors the response-time term so a worker that has not
// reported latency yet does not score infinitely well.
const minResponseTimeMs = 1.0

// minAvailability excludes servers whose recent dispatches nearly all
// errored; spare CPU on a worker that cannot complete work is worthless.
const minAvailability = 0.1

// resourceBased scores servers on spare CPU, spare memory, and response
// time: cpuW×(1−cpu) + memW×(1−mem) + respW×(1/avgRT). Ties go to the
// lowest average response time.
type resourceBased struct {
	cpuWeight      float64
	memoryWeight   float64
	responseWeight float64
}

func (s *resourceBased) Name() string { return PolicyResourceBased }

func (s *resourceBased) score(r *ServerRecord) float64 {
	res := r.Resources()
	rt := r.AvgResponseTime()
	if rt < minResponseTimeMs {
		rt = minResponseTimeMs
	}
	return s.cpuWeight*(1-res.CPU) + s.memoryWeight*(1-res.Memory) + s.responseWeight*(1/rt)
}

func (s *resourceBased) Select(servers []*ServerRecord, _ types.Request) (*ServerRecord, error) {
	if len(servers) == 0 {
		return nil, errNoServers("server set is empty")
	}
	var chosen *ServerRecord
	var best float64
	for _, r := range servers {
		if r.Availability() < minAvailability {
			continue
		}
		score := s.score(r)
		switch {
		case chosen == nil || score > best:
			chosen = r
			best = score
		case score == best && r.AvgResponseTime() < chosen.AvgResponseTime():
			chosen = r
		}
	}
	if chosen == nil {
		return nil, errNoServers("no server above the availability floor")
	}
	return chosen, nil
}

// requestLoadScale converts a request's size into an expected load
// contribution; a 64 MiB document adds the full nudge of 0.05.
const (
	requestLoadNudge = 0.05
	requestLoadScale = 64 << 20
)

// predictive scores servers on forecast load instead of current load,
// nudged by the size of the incoming request. When any server lacks the
// history to forecast, the whole selection silently falls back to weighted
// round robin; a half-warm forecast must not skew traffic toward servers
// that merely joined recently.
type predictive struct {
	predictor *predictor.Predictor
	series    func() map[string][]float64
	fallback  *weightedRoundRobin
}

func (p *predictive) Name() string { return PolicyPredictive }

func (p *predictive) Select(servers []*ServerRecord, req types.Request) (*ServerRecord, error) {
	if len(servers) == 0 {
		return nil, errNoServers("server set is empty")
	}
	series := p.series()

	nudge := requestLoadNudge * float64(req.SizeBytes) / requestLoadScale
	if nudge > requestLoadNudge {
		nudge = requestLoadNudge
	}

	var chosen *ServerRecord
	var best float64
	for _, r := range servers {
		forecast, err := p.predictor.Predict(series[r.address])
		if err != nil {
			return p.fallback.Select(servers, req)
		}
		score := (1 - clamp01(forecast+nudge)) * r.Availability()
		if chosen == nil || score > best {
			chosen = r
			best = score
		}
	}
	if best <= 0 {
		return nil, errNoServers("all servers forecast fully loaded or unavailable")
	}
	return chosen, nil
}
