package types

import (
	"time"
)

// CacheStats represents cache performance statistics, either for a single
// tier or aggregated across the hierarchy.
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Promotions  uint64  `json:"promotions"`
	Demotions   uint64  `json:"demotions"`
	Entries     int     `json:"entries"`
	Bytes       int64   `json:"bytes"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// TierBreakdown holds per-tier statistics keyed by tier name plus the
// aggregate view external monitoring consumes.
type TierBreakdown struct {
	Tiers    map[string]CacheStats `json:"tiers"`
	Combined CacheStats            `json:"combined"`
}

// ServerResources describes the resource utilization of a worker, each in
// the range [0,1] except Bandwidth which is bytes per second.
type ServerResources struct {
	CPU       float64 `json:"cpu"`
	Memory    float64 `json:"memory"`
	Disk      float64 `json:"disk"`
	Bandwidth float64 `json:"bandwidth"`
}

// ServerStats tracks per-worker dispatch statistics.
type ServerStats struct {
	ActiveRequests  int64   `json:"active_requests"`
	MinResponseTime float64 `json:"min_response_time_ms"`
	MaxResponseTime float64 `json:"max_response_time_ms"`
	ErrorsPerMinute float64 `json:"errors_per_minute"`
}

// ServerSnapshot is a read-only copy of a worker's state at a point in time.
type ServerSnapshot struct {
	Address         string          `json:"address"`
	CurrentLoad     float64         `json:"current_load"`
	AvgResponseTime float64         `json:"avg_response_time_ms"`
	Availability    float64         `json:"availability"`
	Resources       ServerResources `json:"resources"`
	Stats           ServerStats     `json:"stats"`
	LastSeen        time.Time       `json:"last_seen"`
}

// LoadSample is a timestamped observation of per-server load, append-only
// and pruned to a sliding retention window.
type LoadSample struct {
	Timestamp time.Time          `json:"timestamp"`
	Loads     map[string]float64 `json:"loads"`
}

// Request carries the features of a unit of work that needs a worker.
// Producers (translation, OCR, document conversion) fill in what they know;
// zero values are acceptable.
type Request struct {
	Kind       string `json:"kind"` // "translation", "ocr", "morphology", ...
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang,omitempty"`
	SizeBytes  int64  `json:"size_bytes"`
	Priority   int    `json:"priority"`
}

// LatencySummary holds latency percentiles for a worker, in milliseconds.
type LatencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
}

// ServerMetrics aggregates a worker's observed performance over the
// sampling window.
type ServerMetrics struct {
	Latency    LatencySummary `json:"latency"`
	Throughput float64        `json:"throughput_rps"`
	ErrorRate  float64        `json:"error_rate"`
	Samples    int            `json:"samples"`
}
