package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// handleMetricsPrometheus renders the stats snapshot in Prometheus text
// exposition format.
func (s *Server) handleMetricsPrometheus(c *gin.Context) {
	stats := s.engine.Stats()
	var b strings.Builder

	counter := func(name, help string, value uint64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value)
	}
	gauge := func(name, help string, value int64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, value)
	}
	boolGauge := func(name, help string, value bool) {
		v := int64(0)
		if value {
			v = 1
		}
		gauge(name, help, v)
	}

	gauge("edgevec_collections", "Number of collections.", int64(stats.Collections))
	gauge("edgevec_points", "Total stored points.", int64(stats.TotalPoints))
	gauge("edgevec_uptime_ms", "Milliseconds since engine start.", stats.UptimeMS)

	counter("edgevec_upserts_total", "Acknowledged point upserts.", stats.Upserts)
	counter("edgevec_deletes_total", "Acknowledged point deletes.", stats.Deletes)
	counter("edgevec_payload_mutations_total", "Payload set/delete mutations applied.", stats.PayloadMutations)
	counter("edgevec_searches_total", "Search requests.", stats.Searches)
	counter("edgevec_search_queries_total", "Search queries, counting batch members.", stats.SearchQueries)
	counter("edgevec_search_ivf_queries_total", "Queries served by the IVF index.", stats.IVFQueries)
	counter("edgevec_search_ivf_fallback_exact_total", "IVF requests served by exact scan fallback.", stats.IVFFallbackExact)
	counter("edgevec_rejected_overload_total", "Requests rejected at the concurrency gate.", stats.RejectedOverload)
	counter("edgevec_rejected_memory_total", "Mutations rejected by the memory budget.", stats.RejectedMemory)
	counter("edgevec_timeouts_total", "Requests that exceeded their deadline.", stats.Timeouts)

	gauge("edgevec_in_flight_requests", "Currently admitted requests.", stats.InFlightRequests)
	gauge("edgevec_memory_used_bytes", "Estimated engine memory usage.", stats.MemoryUsedBytes)
	gauge("edgevec_memory_budget_bytes", "Configured memory budget (0 = unlimited).", stats.MemoryBudgetBytes)

	counter("edgevec_index_cache_lookups_total", "IVF artifact cache lookups.", stats.IndexCacheLookups)
	counter("edgevec_index_cache_hits_total", "IVF artifact cache hits.", stats.IndexCacheHits)
	counter("edgevec_index_cache_misses_total", "IVF artifact cache misses.", stats.IndexCacheMisses)
	counter("edgevec_index_build_requests_total", "Scheduled index builds.", stats.IndexBuildRequests)
	counter("edgevec_index_build_successes_total", "Completed index builds.", stats.IndexBuildSuccesses)
	counter("edgevec_index_build_failures_total", "Failed index builds.", stats.IndexBuildFailures)
	counter("edgevec_index_build_cooldown_skips_total", "Builds skipped by the cooldown throttle.", stats.IndexCooldownSkips)
	gauge("edgevec_index_builds_in_flight", "Builds currently running.", int64(stats.IndexBuildsInFlight))

	counter("edgevec_checkpoints_total", "Checkpoints performed.", stats.Checkpoints)
	counter("edgevec_compactions_total", "Segment compactions into snapshots.", stats.Compactions)
	counter("edgevec_checkpoint_errors_total", "Checkpoint failures.", stats.CheckpointErrors)
	counter("edgevec_checkpoint_schedule_skips_total", "Async checkpoints skipped while one was in flight.", stats.CheckpointScheduleSkips)
	counter("edgevec_wal_append_retries_total", "WAL append retry attempts.", stats.WALAppendRetries)
	counter("edgevec_archive_uploads_total", "Snapshot archive uploads.", stats.ArchiveUploads)
	counter("edgevec_archive_failures_total", "Snapshot archive upload failures.", stats.ArchiveFailures)

	gauge("edgevec_wal_size_bytes", "Live WAL size.", stats.WALSizeBytes)
	boolGauge("edgevec_wal_tail_open", "1 when the WAL ends in a truncated record.", stats.WALTailOpen)
	gauge("edgevec_incremental_segments", "Rotated segments awaiting compaction.", int64(stats.IncrementalSegments))
	gauge("edgevec_incremental_size_bytes", "Bytes in rotated segments.", stats.IncrementalSegmentBytes)
	gauge("edgevec_snapshot_generation", "Current snapshot generation.", int64(stats.SnapshotGeneration))
	boolGauge("edgevec_degraded_wal_only", "1 while snapshotting is failing.", stats.DegradedWALOnly)

	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}
