package edgevec

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevec/edgevec/config"
	"github.com/edgevec/edgevec/metadata"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Persistence.SnapshotPath = filepath.Join(dir, "snapshot.jsonl")
	cfg.Persistence.WALPath = filepath.Join(dir, "wal.jsonl")
	cfg.Search.IndexWarmupOnBoot = false
	return cfg
}

func openTestEngine(t *testing.T, cfg config.Config) *Engine {
	t.Helper()
	eng, err := Open(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestCreateListDescribeDelete(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, eng.CreateCollection(ctx, "demo", 4, true))

	err := eng.CreateCollection(ctx, "demo", 4, true)
	assert.True(t, IsKind(err, KindConflict))

	info, err := eng.DescribeCollection(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", info.Name)
	assert.Equal(t, 4, info.Dimension)
	assert.True(t, info.StrictFinite)
	assert.Zero(t, info.Points)

	require.NoError(t, eng.CreateCollection(ctx, "alpha", 2, false))
	infos, err := eng.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "demo", infos[1].Name)

	require.NoError(t, eng.DeleteCollection(ctx, "alpha"))
	err = eng.DeleteCollection(ctx, "alpha")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestCreateCollectionValidation(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	ctx := context.Background()

	assert.True(t, IsKind(eng.CreateCollection(ctx, "", 4, true), KindInvalidArgument))
	assert.True(t, IsKind(eng.CreateCollection(ctx, "x", 0, true), KindInvalidArgument))
	assert.True(t, IsKind(eng.CreateCollection(ctx, "x", 5000, true), KindInvalidArgument))
}

func TestUpsertGetRoundTrip(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 3, true))

	payload := metadata.Payload{"tier": metadata.String("gold"), "rank": metadata.Int(3)}
	created, err := eng.UpsertPoint(ctx, "demo", 7, []float32{1, 2, 3}, payload)
	require.NoError(t, err)
	assert.True(t, created)

	p, err := eng.GetPoint(ctx, "demo", 7)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, p.Values)
	assert.Equal(t, "gold", p.Payload["tier"].S)
	assert.Equal(t, int64(3), p.Payload["rank"].I64)

	// Repeated identical upsert is equivalent to a single upsert.
	created, err = eng.UpsertPoint(ctx, "demo", 7, []float32{1, 2, 3}, payload)
	require.NoError(t, err)
	assert.False(t, created)
	info, _ := eng.DescribeCollection(ctx, "demo")
	assert.Equal(t, 1, info.Points)

	_, err = eng.GetPoint(ctx, "demo", 999)
	assert.True(t, IsKind(err, KindNotFound))
	_, err = eng.GetPoint(ctx, "missing", 1)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestUpsertValidationDoesNotTouchWAL(t *testing.T) {
	cfg := testConfig(t)
	eng := openTestEngine(t, cfg)
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 3, true))

	before := eng.Stats().WALSizeBytes

	_, err := eng.UpsertPoint(ctx, "demo", 1, []float32{1, 2}, nil)
	assert.True(t, IsKind(err, KindInvalidArgument))

	nan := float32(0)
	nan /= nan
	_, err = eng.UpsertPoint(ctx, "demo", 1, []float32{1, nan, 3}, nil)
	assert.True(t, IsKind(err, KindInvalidArgument))

	assert.Equal(t, before, eng.Stats().WALSizeBytes)
}

func TestDeletePoint(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 2, true))
	_, err := eng.UpsertPoint(ctx, "demo", 1, []float32{1, 2}, nil)
	require.NoError(t, err)

	deleted, err := eng.DeletePoint(ctx, "demo", 1)
	require.NoError(t, err)
	assert.True(t, deleted)

	// Deleting a missing point is a no-op, not an error.
	deleted, err = eng.DeletePoint(ctx, "demo", 1)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCapacityCap(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.MaxPointsPerCollection = 3
	eng := openTestEngine(t, cfg)
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 1, true))

	for id := uint64(1); id <= 3; id++ {
		_, err := eng.UpsertPoint(ctx, "demo", id, []float32{1}, nil)
		require.NoError(t, err)
	}

	// The cap+1-th upsert fails with resource_exhausted.
	_, err := eng.UpsertPoint(ctx, "demo", 4, []float32{1}, nil)
	assert.True(t, IsKind(err, KindResourceExhausted))

	// Replacing an existing point is still allowed at capacity.
	_, err = eng.UpsertPoint(ctx, "demo", 3, []float32{2}, nil)
	assert.NoError(t, err)
}

func TestMemoryBudget(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.MemoryOverheadFactor = 1.0
	// Room for exactly two 4-dim vectors (16 bytes each).
	cfg.Runtime.MemoryBudgetBytes = 32
	eng := openTestEngine(t, cfg)
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 4, true))

	_, err := eng.UpsertPoint(ctx, "demo", 1, []float32{1, 0, 0, 0}, nil)
	require.NoError(t, err)
	_, err = eng.UpsertPoint(ctx, "demo", 2, []float32{0, 1, 0, 0}, nil)
	require.NoError(t, err)

	_, err = eng.UpsertPoint(ctx, "demo", 3, []float32{0, 0, 1, 0}, nil)
	assert.True(t, IsKind(err, KindResourceExhausted))
	assert.Equal(t, uint64(1), eng.Stats().RejectedMemory)

	// Deleting frees budget for new growth; existing points are never evicted.
	_, err = eng.DeletePoint(ctx, "demo", 1)
	require.NoError(t, err)
	_, err = eng.UpsertPoint(ctx, "demo", 3, []float32{0, 0, 1, 0}, nil)
	assert.NoError(t, err)
}

func TestBatchUpsert(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.UpsertBatchMaxPoints = 4
	eng := openTestEngine(t, cfg)
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 2, true))

	created, err := eng.UpsertPoints(ctx, "demo", []PointUpsert{
		{ID: 1, Values: []float32{1, 0}},
		{ID: 2, Values: []float32{0, 1}},
		{ID: 1, Values: []float32{2, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, created)

	p, err := eng.GetPoint(ctx, "demo", 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 0}, p.Values) // last write wins within the batch

	_, err = eng.UpsertPoints(ctx, "demo", nil)
	assert.True(t, IsKind(err, KindInvalidArgument))

	tooMany := make([]PointUpsert, 5)
	for i := range tooMany {
		tooMany[i] = PointUpsert{ID: uint64(10 + i), Values: []float32{0, 0}}
	}
	_, err = eng.UpsertPoints(ctx, "demo", tooMany)
	assert.True(t, IsKind(err, KindInvalidArgument))

	// One invalid vector rejects the whole batch before any WAL write.
	_, err = eng.UpsertPoints(ctx, "demo", []PointUpsert{
		{ID: 20, Values: []float32{1, 2}},
		{ID: 21, Values: []float32{1}},
	})
	assert.True(t, IsKind(err, KindInvalidArgument))
	_, err = eng.GetPoint(ctx, "demo", 20)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestPayloadMutations(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 1, true))
	_, _ = eng.UpsertPoint(ctx, "demo", 1, []float32{1}, nil)
	_, _ = eng.UpsertPoint(ctx, "demo", 2, []float32{2}, nil)

	changed, err := eng.SetPayload(ctx, "demo", []uint64{1, 2, 99}, metadata.Payload{"tier": metadata.String("gold")})
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	p, _ := eng.GetPoint(ctx, "demo", 1)
	assert.Equal(t, "gold", p.Payload["tier"].S)
	assert.Equal(t, []float32{1}, p.Values) // vectors preserved

	changed, err = eng.DeletePayload(ctx, "demo", []uint64{1}, []string{"tier"})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	p, _ = eng.GetPoint(ctx, "demo", 1)
	assert.Empty(t, p.Payload)

	_, err = eng.SetPayload(ctx, "demo", nil, metadata.Payload{"a": metadata.Int(1)})
	assert.True(t, IsKind(err, KindInvalidArgument))
	_, err = eng.DeletePayload(ctx, "demo", []uint64{1}, nil)
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestListPointsPagination(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 1, true))
	for id := uint64(1); id <= 5; id++ {
		_, _ = eng.UpsertPoint(ctx, "demo", id, []float32{float32(id)}, nil)
	}

	res, err := eng.ListPoints(ctx, "demo", PageRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	require.Len(t, res.Points, 2)
	assert.Equal(t, uint64(1), res.Points[0].ID)
	require.NotNil(t, res.NextOffset)
	assert.Equal(t, 2, *res.NextOffset)

	offset := 4
	res, err = eng.ListPoints(ctx, "demo", PageRequest{Offset: &offset, Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Points, 1)
	assert.Nil(t, res.NextOffset)

	after := uint64(2)
	res, err = eng.ListPoints(ctx, "demo", PageRequest{AfterID: &after, Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Points, 2)
	assert.Equal(t, uint64(3), res.Points[0].ID)
	require.NotNil(t, res.NextAfterID)
	assert.Equal(t, uint64(4), *res.NextAfterID)

	// offset and after_id are mutually exclusive.
	_, err = eng.ListPoints(ctx, "demo", PageRequest{Offset: &offset, AfterID: &after})
	assert.True(t, IsKind(err, KindInvalidArgument))

	deep := 200_000
	_, err = eng.ListPoints(ctx, "demo", PageRequest{Offset: &deep})
	assert.True(t, IsKind(err, KindInvalidArgument))

	_, err = eng.ListPoints(ctx, "demo", PageRequest{Limit: 100_000})
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestCountPointsWithFilter(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 1, true))
	for id := uint64(1); id <= 10; id++ {
		tier := "silver"
		if id%2 == 0 {
			tier = "gold"
		}
		_, _ = eng.UpsertPoint(ctx, "demo", id, []float32{1}, metadata.Payload{"tier": metadata.String(tier)})
	}

	count, err := eng.CountPoints(ctx, "demo", nil)
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	filter := &metadata.Filter{Must: []metadata.Clause{{
		Match: &metadata.MatchClause{Field: "tier", Value: metadata.String("gold")},
	}}}
	count, err = eng.CountPoints(ctx, "demo", filter)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestCrashRecovery(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	eng, err := Open(&cfg)
	require.NoError(t, err)
	require.NoError(t, eng.CreateCollection(ctx, "demo", 4, true))
	const total = 1000
	for id := uint64(1); id <= total; id++ {
		_, err := eng.UpsertPoint(ctx, "demo", id, []float32{float32(id), 0, 0, 1}, nil)
		require.NoError(t, err)
	}
	// A crash: no clean close beyond flushing the WAL (sync-on-write means
	// every acknowledged record is already durable).
	require.NoError(t, eng.Close())

	eng2 := openTestEngine(t, cfg)
	info, err := eng2.DescribeCollection(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, total, info.Points)

	for _, id := range []uint64{1, 500, 1000} {
		p, err := eng2.GetPoint(ctx, "demo", id)
		require.NoError(t, err)
		assert.Equal(t, []float32{float32(id), 0, 0, 1}, p.Values)
	}
	assert.True(t, eng2.Ready().Ready)
}

func TestRecoveryAcrossCheckpoints(t *testing.T) {
	cfg := testConfig(t)
	cfg.Persistence.CheckpointInterval = 4
	cfg.Persistence.CheckpointCompactAfter = 2
	ctx := context.Background()

	eng, err := Open(&cfg)
	require.NoError(t, err)
	require.NoError(t, eng.CreateCollection(ctx, "demo", 2, true))
	for id := uint64(1); id <= 40; id++ {
		_, err := eng.UpsertPoint(ctx, "demo", id, []float32{float32(id), 1}, metadata.Payload{"n": metadata.Int(int64(id))})
		require.NoError(t, err)
	}
	_, err = eng.DeletePoint(ctx, "demo", 17)
	require.NoError(t, err)
	stats := eng.Stats()
	assert.Greater(t, stats.Compactions, uint64(0))
	require.NoError(t, eng.Close())

	eng2 := openTestEngine(t, cfg)
	info, err := eng2.DescribeCollection(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 39, info.Points)
	p, err := eng2.GetPoint(ctx, "demo", 23)
	require.NoError(t, err)
	assert.Equal(t, int64(23), p.Payload["n"].I64)
	_, err = eng2.GetPoint(ctx, "demo", 17)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestConcurrencyGateRejects(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.MaxConcurrency = 1
	eng := openTestEngine(t, cfg)
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 1, true))

	// Saturate the gate from outside.
	release, ok := eng.gov.TryAdmit()
	require.True(t, ok)
	defer release()

	_, err := eng.GetPoint(ctx, "demo", 1)
	assert.True(t, IsKind(err, KindResourceExhausted))
	assert.Equal(t, uint64(1), eng.Stats().RejectedOverload)
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Persistence.WALGroupCommitMaxBatch = 8
	eng := openTestEngine(t, cfg)
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 4, true))

	const writers = 8
	const perWriter = 40

	// Seed one point so readers always have something to search.
	_, err := eng.UpsertPoint(ctx, "demo", 1_000_000, []float32{1, 1, 1, 1}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := uint64(w*perWriter + i + 1)
				_, err := eng.UpsertPoint(ctx, "demo", id, []float32{float32(id), 0, 0, 0}, nil)
				assert.NoError(t, err)
			}
		}(w)
	}
	for r := 0; r < writers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				res, err := eng.SearchTopK(ctx, "demo", SearchRequest{
					Query: []float32{1, 0, 0, 0},
					Limit: 5,
					Mode:  ModeExact,
				})
				if err != nil {
					// Concurrency-gate rejections are acceptable here.
					assert.True(t, IsKind(err, KindResourceExhausted), "unexpected error: %v", err)
					continue
				}
				// No reader may observe a partially written point.
				for _, hit := range res.Hits {
					p, gerr := eng.GetPoint(ctx, "demo", hit.ID)
					if gerr == nil {
						assert.Len(t, p.Values, 4)
					}
				}
			}
		}()
	}
	wg.Wait()

	info, err := eng.DescribeCollection(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter+1, info.Points)
}

func TestPersistenceDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Persistence.Enabled = false
	eng := openTestEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, eng.CreateCollection(ctx, "demo", 2, true))
	_, err := eng.UpsertPoint(ctx, "demo", 1, []float32{1, 2}, nil)
	require.NoError(t, err)

	p, err := eng.GetPoint(ctx, "demo", 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, p.Values)
	assert.Zero(t, eng.Stats().WALSizeBytes)
}

func TestStatsSnapshot(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, eng.CreateCollection(ctx, "demo", 2, true))
	for id := uint64(1); id <= 3; id++ {
		_, _ = eng.UpsertPoint(ctx, "demo", id, []float32{1, 2}, nil)
	}
	_, _ = eng.SearchTopK(ctx, "demo", SearchRequest{Query: []float32{1, 0}, Mode: ModeExact})

	s := eng.Stats()
	assert.Equal(t, 1, s.Collections)
	assert.Equal(t, 3, s.TotalPoints)
	assert.Equal(t, uint64(3), s.Upserts)
	assert.Equal(t, uint64(1), s.Searches)
	assert.Greater(t, s.WALSizeBytes, int64(0))
}

func TestDistance(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))

	v, err := eng.Distance(0, []float32{1, 2, 3}, []float32{4, 5, 6})
	require.NoError(t, err)
	assert.InDelta(t, 32.0, v, 1e-5)

	_, err = eng.Distance(0, []float32{1, 2}, []float32{1})
	assert.True(t, IsKind(err, KindInvalidArgument))
	_, err = eng.Distance(0, nil, nil)
	assert.True(t, IsKind(err, KindInvalidArgument))
}
