package models

import "time"

// SystemMetrics is a JSON snapshot of the process instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	RateLimitRejections      uint64    `json:"rate_limit_rejections"`
	IdempotentReplays        uint64    `json:"idempotent_replays"`
	IdempotentStores         uint64    `json:"idempotent_stores"`
	IdempotentSkips          uint64    `json:"idempotent_skips"`
	AuthFailures             uint64    `json:"auth_failures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
