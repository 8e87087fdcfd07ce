package models

import "time"

// SystemMetrics is a point-in-time summary of the in-process counters.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	Transitions              uint64    `json:"transitions"`
	DegradedTransitions      uint64    `json:"degraded_transitions"`
	CompensationFailures     uint64    `json:"compensation_failures"`
	LoginFailures            uint64    `json:"login_failures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
