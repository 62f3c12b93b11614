package persistence

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgevec/edgevec/blobstore"
	"github.com/edgevec/edgevec/codec"
	"github.com/edgevec/edgevec/collection"
	"github.com/edgevec/edgevec/resource"
	"github.com/edgevec/edgevec/wal"
)

// SnapshotSource supplies a stable view of engine state for compaction.
// Implementations return deep copies taken under the collection read locks.
type SnapshotSource interface {
	SnapshotCollections() map[string]*collection.Collection
}

// Options configures a Manager.
type Options struct {
	SnapshotPath string
	WALPath      string

	WAL wal.Options

	// CheckpointInterval is the number of acknowledged writes between
	// checkpoints.
	CheckpointInterval int
	// AsyncCheckpoints moves checkpoint work off the write path, with at
	// most one in flight.
	AsyncCheckpoints bool
	// CompactAfter folds incremental segments into a snapshot once their
	// count reaches this threshold.
	CompactAfter int

	Compression Compression
	Codec       codec.Codec
	Logger      *slog.Logger

	// Archive, when set, receives a copy of each compacted snapshot.
	Archive blobstore.Store
	// Governor throttles archive IO when configured.
	Governor *resource.Governor

	// AppendRetries caps WAL append retry attempts on transient IO errors.
	AppendRetries int
}

// Stats exposes the manager's counters as atomics.
type Stats struct {
	Checkpoints      atomic.Uint64
	Compactions      atomic.Uint64
	CheckpointErrors atomic.Uint64
	ScheduleSkips    atomic.Uint64
	AppendRetries    atomic.Uint64
	ArchiveUploads   atomic.Uint64
	ArchiveFailures  atomic.Uint64
}

// Backlog describes the persistence state surfaced through readiness and
// metrics.
type Backlog struct {
	WALSizeBytes       int64  `json:"wal_size_bytes"`
	WALTailOpen        bool   `json:"wal_tail_open"`
	Segments           int    `json:"incremental_segments"`
	SegmentBytes       int64  `json:"incremental_size_bytes"`
	Generation         uint64 `json:"snapshot_generation"`
	Degraded           bool   `json:"degraded_wal_only"`
	DegradedReason     string `json:"degraded_reason,omitempty"`
	WritesUnflushed    int    `json:"writes_since_checkpoint"`
	CheckpointInFlight bool   `json:"checkpoint_in_flight"`
}

// Recovered is the result of crash recovery at open.
type Recovered struct {
	Collections map[string]*collection.Collection
	Generation  uint64
	WALTailOpen bool
	Replayed    int
}

// Manager owns the WAL writer and the snapshot/segment lifecycle.
type Manager struct {
	opts Options
	log  *slog.Logger

	walWriter *wal.Writer

	mu                    sync.Mutex
	generation            uint64
	writesSinceCheckpoint int
	walTailOpen           bool

	checkpointInFlight atomic.Bool
	degradedReason     atomic.Value // string; empty = healthy

	stats Stats

	archiveWG sync.WaitGroup
}

// Open performs crash recovery and starts the WAL writer.
//
// Recovery order: snapshot, then incremental segments in order, then the live
// WAL tail. A truncated final WAL line is tolerated and reported through
// Recovered.WALTailOpen.
func Open(opts Options) (*Manager, *Recovered, error) {
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(1000)}))
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = 32
	}
	if opts.CompactAfter <= 0 {
		opts.CompactAfter = 64
	}
	if opts.AppendRetries <= 0 {
		opts.AppendRetries = 3
	}

	collections, generation, err := LoadSnapshot(opts.SnapshotPath, opts.Codec)
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}

	replayed, err := ReplaySegments(opts.SnapshotPath, opts.Codec, collections)
	if err != nil {
		return nil, nil, err
	}

	res, err := wal.ReplayFile(opts.WALPath, opts.Codec, func(rec wal.Record) error {
		return ApplyRecord(collections, rec)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("replay wal: %w", err)
	}
	replayed += res.Records

	writer, err := wal.Open(opts.WALPath, opts.WAL)
	if err != nil {
		return nil, nil, err
	}

	m := &Manager{
		opts:        opts,
		log:         opts.Logger,
		walWriter:   writer,
		generation:  generation,
		walTailOpen: res.TailOpen,
	}
	m.degradedReason.Store("")

	m.log.Info("recovery completed",
		"collections", len(collections),
		"records_replayed", replayed,
		"generation", generation,
		"wal_tail_open", res.TailOpen,
	)

	return m, &Recovered{
		Collections: collections,
		Generation:  generation,
		WALTailOpen: res.TailOpen,
		Replayed:    replayed,
	}, nil
}

// Append writes records to the WAL under the configured sync policy,
// retrying transient IO failures a bounded number of times. The returned
// error is retryable from the caller's perspective.
func (m *Manager) Append(ctx context.Context, records ...wal.Record) error {
	var err error
	for attempt := 0; attempt < m.opts.AppendRetries; attempt++ {
		if attempt > 0 {
			m.stats.AppendRetries.Add(1)
			select {
			case <-time.After(time.Duration(attempt) * 5 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = m.walWriter.Append(ctx, records...); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("wal append failed after %d attempts: %w", m.opts.AppendRetries, err)
}

// NoteWrites records n acknowledged writes and triggers a checkpoint when the
// interval is reached. Synchronous checkpoints run on the caller; async ones
// are scheduled with at most one in flight, surplus triggers counted as
// schedule skips.
func (m *Manager) NoteWrites(src SnapshotSource, n int) {
	m.mu.Lock()
	m.writesSinceCheckpoint += n
	due := m.writesSinceCheckpoint >= m.opts.CheckpointInterval
	if due {
		m.writesSinceCheckpoint = 0
	}
	m.mu.Unlock()

	if !due {
		return
	}

	if !m.opts.AsyncCheckpoints {
		m.Checkpoint(src)
		return
	}

	if !m.checkpointInFlight.CompareAndSwap(false, true) {
		m.stats.ScheduleSkips.Add(1)
		return
	}
	go func() {
		defer m.checkpointInFlight.Store(false)
		m.Checkpoint(src)
	}()
}

// Checkpoint rotates the WAL tail into an incremental segment and compacts
// segments into a fresh snapshot once the backlog is large enough. Failure
// degrades to WAL-only mode: writes remain durable via the WAL while the
// incremental backlog grows until a later checkpoint succeeds.
func (m *Manager) Checkpoint(src SnapshotSource) {
	if err := m.checkpoint(src); err != nil {
		m.stats.CheckpointErrors.Add(1)
		m.degradedReason.Store(err.Error())
		m.log.Warn("checkpoint failed, continuing in wal-only mode", "error", err)
		return
	}
	m.degradedReason.Store("")
}

func (m *Manager) checkpoint(src SnapshotSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	segPath, err := NextSegmentPath(m.opts.SnapshotPath)
	if err != nil {
		return err
	}
	rotated, err := m.walWriter.RotateTo(segPath)
	if err != nil {
		return err
	}
	if rotated {
		if err := syncParentDir(segPath); err != nil {
			return fmt.Errorf("sync segment directory: %w", err)
		}
	}
	m.stats.Checkpoints.Add(1)

	segments, _ := SegmentStats(m.opts.SnapshotPath)
	if segments < m.opts.CompactAfter {
		return nil
	}
	return m.compactLocked(src)
}

func (m *Manager) compactLocked(src SnapshotSource) error {
	state := src.SnapshotCollections()
	next := m.generation + 1
	if err := WriteSnapshot(m.opts.SnapshotPath, next, state, m.opts.Compression, m.opts.Codec); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := ClearSegments(m.opts.SnapshotPath); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}
	m.generation = next
	m.stats.Compactions.Add(1)
	m.log.Info("snapshot compacted", "generation", next, "collections", len(state))

	if m.opts.Archive != nil {
		m.archiveWG.Add(1)
		go m.archiveSnapshot(next)
	}
	return nil
}

// archiveSnapshot copies the freshly compacted snapshot to the configured
// archive store, throttled by the governor's IO limit.
func (m *Manager) archiveSnapshot(generation uint64) {
	defer m.archiveWG.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	file, err := os.Open(m.opts.SnapshotPath)
	if err != nil {
		m.stats.ArchiveFailures.Add(1)
		m.log.Warn("archive upload failed", "error", err)
		return
	}
	defer file.Close()
	st, err := file.Stat()
	if err != nil {
		m.stats.ArchiveFailures.Add(1)
		return
	}

	var reader io.Reader = file
	if m.opts.Governor != nil {
		reader = resource.NewRateLimitedReader(ctx, file, m.opts.Governor)
	}

	key := fmt.Sprintf("snapshots/%020d.jsonl", generation)
	if err := m.opts.Archive.Put(ctx, key, reader, st.Size()); err != nil {
		m.stats.ArchiveFailures.Add(1)
		m.log.Warn("archive upload failed", "backend", m.opts.Archive.Name(), "error", err)
		return
	}
	m.stats.ArchiveUploads.Add(1)
	m.log.Info("snapshot archived", "backend", m.opts.Archive.Name(), "key", key)
}

// Degraded reports whether snapshotting is failing, with the last reason.
func (m *Manager) Degraded() (bool, string) {
	reason, _ := m.degradedReason.Load().(string)
	return reason != "", reason
}

// Stats returns the manager's counters.
func (m *Manager) Stats() *Stats { return &m.stats }

// Generation returns the current snapshot generation.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Backlog scans the persistence backlog for readiness and metrics.
func (m *Manager) Backlog() Backlog {
	m.mu.Lock()
	gen := m.generation
	pending := m.writesSinceCheckpoint
	tailOpen := m.walTailOpen
	m.mu.Unlock()

	segments, segBytes := SegmentStats(m.opts.SnapshotPath)
	degraded, reason := m.Degraded()
	return Backlog{
		WALSizeBytes:       m.walWriter.SizeBytes(),
		WALTailOpen:        tailOpen || wal.TailOpen(m.opts.WALPath),
		Segments:           segments,
		SegmentBytes:       segBytes,
		Generation:         gen,
		Degraded:           degraded,
		DegradedReason:     reason,
		WritesUnflushed:    pending,
		CheckpointInFlight: m.checkpointInFlight.Load(),
	}
}

// Close flushes and closes the WAL and waits for archive uploads.
func (m *Manager) Close() error {
	err := m.walWriter.Close()
	m.archiveWG.Wait()
	return err
}
