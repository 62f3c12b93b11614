// Package edgevec is an embedded vector database for constrained, single-node
// environments.
//
// Edgevec stores dense float32 vectors in named, fixed-dimension collections
// and serves nearest-neighbor queries (top-1, top-k, batched top-k) with
// explicit resource bounds:
//
//   - Exact linear-scan scoring with adaptive parallelism, plus an IVF
//     (inverted-file) approximate index with target-recall driven probe
//     selection and an asynchronous build pipeline
//   - Durable writes through an append-only WAL with group commit and
//     configurable fsync policies
//   - Periodic snapshots with incremental segment compaction and crash
//     recovery
//   - A resource governor enforcing memory budgets, per-collection capacity
//     caps, and request admission
//   - Metadata payload filtering (must/should/range clauses) integrated with
//     scoring
//
// # Quick Start
//
//	cfg := config.Default()
//	cfg.Persistence.SnapshotPath = "data/snapshot.jsonl"
//	cfg.Persistence.WALPath = "data/wal.jsonl"
//
//	eng, err := edgevec.Open(&cfg)
//	if err != nil {
//	    panic(err)
//	}
//	defer eng.Close()
//
//	ctx := context.Background()
//	_ = eng.CreateCollection(ctx, "demo", 4, true)
//	_, _ = eng.UpsertPoint(ctx, "demo", 1, []float32{1, 0, 0, 0}, nil)
//
//	res, _ := eng.SearchTopK(ctx, "demo", edgevec.SearchRequest{
//	    Metric: distance.MetricDot,
//	    Query:  []float32{1, 0, 0, 0},
//	    Limit:  2,
//	})
//
// The engine is safe for concurrent use. Mutations to a collection are
// serialized by a per-collection write lock; searches share a read view.
package edgevec
