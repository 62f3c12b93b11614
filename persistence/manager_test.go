package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevec/edgevec/blobstore"
	"github.com/edgevec/edgevec/collection"
	"github.com/edgevec/edgevec/metadata"
	"github.com/edgevec/edgevec/wal"
)

type mapSource map[string]*collection.Collection

func (s mapSource) SnapshotCollections() map[string]*collection.Collection {
	out := make(map[string]*collection.Collection, len(s))
	for name, c := range s {
		out[name] = c.Clone()
	}
	return out
}

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		SnapshotPath:       filepath.Join(dir, "snapshot.jsonl"),
		WALPath:            filepath.Join(dir, "wal.jsonl"),
		WAL:                wal.DefaultOptions(),
		CheckpointInterval: 2,
		CompactAfter:       2,
	}
}

func TestRecoveryFromWALOnly(t *testing.T) {
	opts := testOptions(t)
	ctx := context.Background()

	m, rec, err := Open(opts)
	require.NoError(t, err)
	assert.Empty(t, rec.Collections)

	require.NoError(t, m.Append(ctx, wal.Record{Type: wal.OpCreateCollection, Name: "demo", Dimension: 2, StrictFinite: true}))
	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, m.Append(ctx, wal.Record{
			Type: wal.OpUpsertPoint, Collection: "demo", ID: id, Values: []float32{float32(id), 0},
		}))
	}
	require.NoError(t, m.Close())

	m2, rec2, err := Open(opts)
	require.NoError(t, err)
	defer m2.Close()

	demo := rec2.Collections["demo"]
	require.NotNil(t, demo)
	assert.Equal(t, 3, demo.Len())
	assert.False(t, rec2.WALTailOpen)
	assert.Equal(t, 4, rec2.Replayed)
}

func TestCheckpointRotatesAndCompacts(t *testing.T) {
	opts := testOptions(t)
	ctx := context.Background()

	m, rec, err := Open(opts)
	require.NoError(t, err)

	state := mapSource(rec.Collections)
	demo, err := collection.New("demo", 2, true)
	require.NoError(t, err)
	state["demo"] = demo

	require.NoError(t, m.Append(ctx, wal.Record{Type: wal.OpCreateCollection, Name: "demo", Dimension: 2, StrictFinite: true}))
	for id := uint64(1); id <= 8; id++ {
		rec := wal.Record{Type: wal.OpUpsertPoint, Collection: "demo", ID: id, Values: []float32{float32(id), 1}}
		require.NoError(t, m.Append(ctx, rec))
		_, err := demo.Upsert(id, rec.Values, nil)
		require.NoError(t, err)
		m.NoteWrites(state, 1)
	}

	// CheckpointInterval=2 and CompactAfter=2 guarantee at least one
	// compaction in these 8 noted writes.
	assert.Greater(t, m.Stats().Compactions.Load(), uint64(0))
	assert.Greater(t, m.Generation(), uint64(0))
	require.NoError(t, m.Close())

	// Snapshot + segments + wal reconstruct everything.
	_, rec2, err := Open(opts)
	require.NoError(t, err)
	demo2 := rec2.Collections["demo"]
	require.NotNil(t, demo2)
	assert.Equal(t, 8, demo2.Len())
	p, ok := demo2.Get(5)
	require.True(t, ok)
	assert.Equal(t, []float32{5, 1}, p.Values)
}

func TestSnapshotRoundTripIdentical(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.jsonl")

	demo, _ := collection.New("demo", 2, true)
	_, _ = demo.Upsert(2, []float32{3, 4}, metadata.Payload{"tier": metadata.String("gold")})
	_, _ = demo.Upsert(1, []float32{1, 2}, nil)
	other, _ := collection.New("other", 3, false)
	_, _ = other.Upsert(9, []float32{1, 2, 3}, nil)

	state := map[string]*collection.Collection{"demo": demo, "other": other}
	require.NoError(t, WriteSnapshot(path, 7, state, CompressionNone, nil))

	loaded, gen, err := LoadSnapshot(path, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), gen)
	require.Len(t, loaded, 2)

	// Snapshot -> load -> snapshot yields byte-identical content.
	path2 := filepath.Join(dir, "snap2.jsonl")
	require.NoError(t, WriteSnapshot(path2, 7, loaded, CompressionNone, nil))
	a, _ := os.ReadFile(path)
	b, _ := os.ReadFile(path2)
	assert.Equal(t, string(a), string(b))

	p, ok := loaded["demo"].Get(2)
	require.True(t, ok)
	assert.Equal(t, "gold", p.Payload["tier"].S)
}

func TestSnapshotCompression(t *testing.T) {
	for _, comp := range []Compression{CompressionZstd, CompressionLZ4} {
		t.Run(string(comp), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snap.jsonl")
			demo, _ := collection.New("demo", 2, true)
			for id := uint64(1); id <= 50; id++ {
				_, _ = demo.Upsert(id, []float32{float32(id), float32(id)}, nil)
			}
			state := map[string]*collection.Collection{"demo": demo}
			require.NoError(t, WriteSnapshot(path, 1, state, comp, nil))

			// Load sniffs the frame magic; no configuration needed.
			loaded, gen, err := LoadSnapshot(path, nil)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), gen)
			assert.Equal(t, 50, loaded["demo"].Len())
		})
	}
}

func TestRecoveryToleratesTruncatedWALTail(t *testing.T) {
	opts := testOptions(t)
	ctx := context.Background()

	m, _, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, wal.Record{Type: wal.OpCreateCollection, Name: "demo", Dimension: 2, StrictFinite: false}))
	require.NoError(t, m.Append(ctx, wal.Record{Type: wal.OpUpsertPoint, Collection: "demo", ID: 1, Values: []float32{1, 2}}))
	require.NoError(t, m.Close())

	data, err := os.ReadFile(opts.WALPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(opts.WALPath, data[:len(data)-7], 0o600))

	m2, rec, err := Open(opts)
	require.NoError(t, err)
	defer m2.Close()
	assert.True(t, rec.WALTailOpen)
	require.NotNil(t, rec.Collections["demo"])
	assert.Equal(t, 0, rec.Collections["demo"].Len())
	assert.True(t, m2.Backlog().WALTailOpen)
}

func TestDegradedWALOnlyMode(t *testing.T) {
	opts := testOptions(t)
	ctx := context.Background()

	m, rec, err := Open(opts)
	require.NoError(t, err)
	defer m.Close()

	// Make the segment directory path unusable so rotation fails.
	require.NoError(t, os.WriteFile(SegmentDir(opts.SnapshotPath), []byte("not a dir"), 0o600))

	require.NoError(t, m.Append(ctx, wal.Record{Type: wal.OpCreateCollection, Name: "demo", Dimension: 2, StrictFinite: false}))
	m.Checkpoint(mapSource(rec.Collections))

	degraded, reason := m.Degraded()
	assert.True(t, degraded)
	assert.NotEmpty(t, reason)
	assert.Equal(t, uint64(1), m.Stats().CheckpointErrors.Load())

	// Writes keep flowing while degraded.
	require.NoError(t, m.Append(ctx, wal.Record{Type: wal.OpUpsertPoint, Collection: "demo", ID: 1, Values: []float32{1, 2}}))

	// Clearing the obstruction lets the next checkpoint recover.
	require.NoError(t, os.Remove(SegmentDir(opts.SnapshotPath)))
	m.Checkpoint(mapSource(rec.Collections))
	degraded, _ = m.Degraded()
	assert.False(t, degraded)
}

func TestArchiveUploadAfterCompaction(t *testing.T) {
	opts := testOptions(t)
	store := blobstore.NewMemoryStore()
	opts.Archive = store
	ctx := context.Background()

	m, rec, err := Open(opts)
	require.NoError(t, err)

	state := mapSource(rec.Collections)
	demo, _ := collection.New("demo", 1, true)
	state["demo"] = demo
	require.NoError(t, m.Append(ctx, wal.Record{Type: wal.OpCreateCollection, Name: "demo", Dimension: 1, StrictFinite: true}))

	// Two rotations reach CompactAfter=2.
	m.Checkpoint(state)
	require.NoError(t, m.Append(ctx, wal.Record{Type: wal.OpUpsertPoint, Collection: "demo", ID: 1, Values: []float32{1}}))
	m.Checkpoint(state)

	require.NoError(t, m.Close()) // waits for the archive upload
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, uint64(1), m.Stats().ArchiveUploads.Load())
}
