package edgevec

import (
	"sync/atomic"
)

// Counters are the engine's own operation counters. Subsystem counters
// (persistence, index cache) live with their subsystems; Stats() aggregates
// everything into one snapshot.
type Counters struct {
	Upserts          atomic.Uint64
	Deletes          atomic.Uint64
	PayloadMutations atomic.Uint64

	Searches         atomic.Uint64
	SearchQueries    atomic.Uint64
	IVFQueries       atomic.Uint64
	IVFFallbackExact atomic.Uint64

	RejectedOverload atomic.Uint64
	RejectedMemory   atomic.Uint64
	Timeouts         atomic.Uint64
}

// Stats is a point-in-time snapshot of every counter and gauge the engine
// exposes, shaped for the JSON metrics endpoint.
type Stats struct {
	Collections int   `json:"collections"`
	TotalPoints int   `json:"total_points"`
	UptimeMS    int64 `json:"uptime_ms"`

	Upserts          uint64 `json:"upserts_total"`
	Deletes          uint64 `json:"deletes_total"`
	PayloadMutations uint64 `json:"payload_mutations_total"`

	Searches         uint64 `json:"searches_total"`
	SearchQueries    uint64 `json:"search_queries_total"`
	IVFQueries       uint64 `json:"search_ivf_queries_total"`
	IVFFallbackExact uint64 `json:"search_ivf_fallback_exact_total"`

	RejectedOverload uint64 `json:"rejected_overload_total"`
	RejectedMemory   uint64 `json:"rejected_memory_total"`
	Timeouts         uint64 `json:"timeouts_total"`

	InFlightRequests  int64 `json:"in_flight_requests"`
	MemoryUsedBytes   int64 `json:"memory_used_bytes"`
	MemoryBudgetBytes int64 `json:"memory_budget_bytes"`

	IndexCacheLookups   uint64 `json:"index_cache_lookups_total"`
	IndexCacheHits      uint64 `json:"index_cache_hits_total"`
	IndexCacheMisses    uint64 `json:"index_cache_misses_total"`
	IndexBuildRequests  uint64 `json:"index_build_requests_total"`
	IndexBuildSuccesses uint64 `json:"index_build_successes_total"`
	IndexBuildFailures  uint64 `json:"index_build_failures_total"`
	IndexCooldownSkips  uint64 `json:"index_build_cooldown_skips_total"`
	IndexBuildsInFlight int    `json:"index_builds_in_flight"`

	Checkpoints               uint64 `json:"checkpoints_total"`
	Compactions               uint64 `json:"compactions_total"`
	CheckpointErrors          uint64 `json:"checkpoint_errors_total"`
	CheckpointScheduleSkips   uint64 `json:"checkpoint_schedule_skips_total"`
	WALAppendRetries          uint64 `json:"wal_append_retries_total"`
	ArchiveUploads            uint64 `json:"archive_uploads_total"`
	ArchiveFailures           uint64 `json:"archive_failures_total"`
	WALSizeBytes              int64  `json:"wal_size_bytes"`
	WALTailOpen               bool   `json:"wal_tail_open"`
	IncrementalSegments       int    `json:"incremental_segments"`
	IncrementalSegmentBytes   int64  `json:"incremental_size_bytes"`
	SnapshotGeneration        uint64 `json:"snapshot_generation"`
	DegradedWALOnly           bool   `json:"degraded_wal_only"`
	WritesSinceLastCheckpoint int    `json:"writes_since_checkpoint"`
}
