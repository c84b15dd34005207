package types

// Recorder receives observability events from the cache and the balancer.
// Implementations must be safe for concurrent use. The metrics package
// provides a Prometheus-backed implementation; NopRecorder discards events.
type Recorder interface {
	RecordCacheHit(tier string)
	RecordCacheMiss()
	RecordEviction(tier string, count int)
	RecordPromotion(fromTier, toTier string)
	RecordDemotion(fromTier, toTier string)
	RecordSelection(strategy string)
	RecordServerError(serverID string)
	UpdateCacheBytes(tier string, bytes int64)
	UpdateActiveRequests(serverID string, count int64)
}

// NopRecorder is a Recorder that discards all events.
type NopRecorder struct{}

func (NopRecorder) RecordCacheHit(string)              {}
func (NopRecorder) RecordCacheMiss()                   {}
func (NopRecorder) RecordEviction(string, int)         {}
func (NopRecorder) RecordPromotion(string, string)     {}
func (NopRecorder) RecordDemotion(string, string)      {}
func (NopRecorder) RecordSelection(string)             {}
func (NopRecorder) RecordServerError(string)           {}
func (NopRecorder) UpdateCacheBytes(string, int64)     {}
func (NopRecorder) UpdateActiveRequests(string, int64) {}

// Compile-time check.
var _ Recorder = NopRecorder{}
