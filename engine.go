package edgevec

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgevec/edgevec/blobstore"
	blobminio "github.com/edgevec/edgevec/blobstore/minio"
	blobs3 "github.com/edgevec/edgevec/blobstore/s3"
	"github.com/edgevec/edgevec/collection"
	"github.com/edgevec/edgevec/config"
	"github.com/edgevec/edgevec/indexcache"
	"github.com/edgevec/edgevec/ivf"
	"github.com/edgevec/edgevec/metadata"
	"github.com/edgevec/edgevec/persistence"
	"github.com/edgevec/edgevec/resource"
	"github.com/edgevec/edgevec/wal"
)

// collectionHandle pairs a collection with its single-writer/multi-reader
// lock. Mutations hold the write lock; searches and reads share the read
// lock for the duration of their scan.
type collectionHandle struct {
	mu sync.RWMutex
	c  *collection.Collection
}

// Engine is the edgevec core: the collection registry, search executor,
// persistence, index cache, and resource governor behind one programmatic
// interface. All methods are safe for concurrent use.
type Engine struct {
	cfg config.Config
	log *Logger

	mu          sync.RWMutex
	collections map[string]*collectionHandle

	persist *persistence.Manager // nil when persistence is disabled
	cache   *indexcache.Cache
	gov     *resource.Governor

	counters    Counters
	walTailOpen atomic.Bool
	loaded      atomic.Bool
	startedAt   time.Time

	closeOnce sync.Once
}

// Open recovers state from disk (when persistence is enabled) and starts the
// engine.
func Open(cfg *config.Config, optFns ...Option) (*Engine, error) {
	if cfg == nil {
		c := config.Default()
		cfg = &c
	}
	if err := cfg.Validate(); err != nil {
		return nil, ErrInvalidArgument("invalid configuration: %v", err)
	}

	var opts options
	for _, fn := range optFns {
		fn(&opts)
	}
	log := opts.logger
	if log == nil {
		log = NoopLogger()
	}

	e := &Engine{
		cfg:         *cfg,
		log:         log,
		collections: make(map[string]*collectionHandle),
		startedAt:   time.Now(),
		gov: resource.NewGovernor(resource.Config{
			MemoryBudgetBytes:  cfg.Runtime.MemoryBudgetBytes,
			MaxConcurrency:     int64(cfg.Runtime.MaxConcurrency),
			IOLimitBytesPerSec: int64(cfg.Persistence.ArchiveIOBytesPerSec),
		}),
	}

	buildCfg := ivf.DefaultBuildConfig()
	buildCfg.KMeansMaxTrainingPoints = cfg.Search.IVFKMeansMaxTrainingPoints
	buildCfg.NProbeDefault = cfg.Search.IVFNProbeDefault
	e.cache = indexcache.New(indexcache.Options{
		Build:       buildCfg,
		MaxInFlight: cfg.Search.IndexBuildMaxInFlight,
		Cooldown:    time.Duration(cfg.Search.IndexBuildCooldownMS) * time.Millisecond,
		Logger:      log.Logger,
	})

	if cfg.Persistence.Enabled {
		archive := opts.archive
		if archive == nil {
			var err error
			archive, err = newArchiveStore(cfg)
			if err != nil {
				return nil, ErrInternal(err, "configure archive store: %v", err)
			}
		}
		compression, err := persistence.ParseCompression(cfg.Persistence.SnapshotCompression)
		if err != nil {
			return nil, ErrInvalidArgument("%v", err)
		}

		manager, recovered, err := persistence.Open(persistence.Options{
			SnapshotPath: cfg.Persistence.SnapshotPath,
			WALPath:      cfg.Persistence.WALPath,
			WAL: wal.Options{
				Sync: wal.SyncPolicy{
					SyncOnWrite:  cfg.Persistence.WALSyncOnWrite,
					SyncEveryN:   cfg.Persistence.WALSyncEveryNWrites,
					SyncInterval: time.Duration(cfg.Persistence.WALSyncIntervalSeconds) * time.Second,
				},
				GroupCommitMaxBatch:   cfg.Persistence.WALGroupCommitMaxBatch,
				GroupCommitFlushDelay: time.Duration(cfg.Persistence.WALGroupCommitFlushDelay) * time.Millisecond,
				Codec:                 opts.codec,
			},
			CheckpointInterval: cfg.Persistence.CheckpointInterval,
			AsyncCheckpoints:   cfg.Persistence.AsyncCheckpoints,
			CompactAfter:       cfg.Persistence.CheckpointCompactAfter,
			Compression:        compression,
			Codec:              opts.codec,
			Logger:             log.Logger,
			Archive:            archive,
			Governor:           e.gov,
		})
		if err != nil {
			return nil, ErrInternal(err, "open persistence: %v", err)
		}
		e.persist = manager
		e.walTailOpen.Store(recovered.WALTailOpen)

		for name, c := range recovered.Collections {
			e.collections[name] = &collectionHandle{c: c}
			e.gov.TryReserveBytes(e.collectionBytes(c))
		}
	}

	if cfg.Search.IndexWarmupOnBoot {
		e.warmupIndexes()
	}

	e.loaded.Store(true)
	return e, nil
}

func newArchiveStore(cfg *config.Config) (blobstore.Store, error) {
	switch cfg.Archive.Backend {
	case "":
		return nil, nil
	case "local":
		if cfg.Archive.LocalDir == "" {
			return nil, fmt.Errorf("archive backend local requires local_dir")
		}
		return blobstore.NewLocalStore(cfg.Archive.LocalDir)
	case "s3":
		if cfg.Archive.S3Bucket == "" {
			return nil, fmt.Errorf("archive backend s3 requires s3_bucket")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return blobs3.NewStoreFromEnv(ctx, cfg.Archive.S3Region, cfg.Archive.S3Bucket, cfg.Archive.Prefix)
	case "minio":
		if cfg.Archive.MinioEndpoint == "" || cfg.Archive.MinioBucket == "" {
			return nil, fmt.Errorf("archive backend minio requires minio_endpoint and minio_bucket")
		}
		return blobminio.Connect(
			cfg.Archive.MinioEndpoint,
			cfg.Archive.MinioAccessKey,
			cfg.Archive.MinioSecretKey,
			cfg.Archive.MinioUseSSL,
			cfg.Archive.MinioBucket,
			cfg.Archive.Prefix,
		)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}

// Close shuts the engine down: index builds drain, the WAL flushes, archive
// uploads finish.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.loaded.Store(false)
		e.cache.Close()
		if e.persist != nil {
			err = e.persist.Close()
		}
	})
	return err
}

// admit passes a request through the concurrency gate and applies the
// request deadline. The returned finish function must be called exactly
// once; it releases the gate slot and cancels the derived context.
func (e *Engine) admit(ctx context.Context) (context.Context, func(), error) {
	release, ok := e.gov.TryAdmit()
	if !ok {
		e.counters.RejectedOverload.Add(1)
		return nil, nil, ErrResourceExhausted("too many concurrent requests")
	}

	timeout := e.cfg.RequestTimeout()
	if timeout <= 0 {
		return ctx, release, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		release()
	}, nil
}

// CollectionInfo describes a collection for list/describe responses.
type CollectionInfo struct {
	Name         string `json:"name"`
	Dimension    int    `json:"dimension"`
	StrictFinite bool   `json:"strict_finite"`
	Points       int    `json:"points"`
}

// CreateCollection registers a new empty collection.
func (e *Engine) CreateCollection(ctx context.Context, name string, dimension int, strictFinite bool) error {
	ctx, finish, err := e.admit(ctx)
	if err != nil {
		return err
	}
	defer finish()

	if name == "" {
		return ErrInvalidArgument("collection name must not be empty")
	}
	if dimension <= 0 {
		return ErrInvalidArgument("dimension must be > 0")
	}
	if dimension > e.cfg.Runtime.MaxDimension {
		return ErrInvalidArgument("dimension %d exceeds maximum %d", dimension, e.cfg.Runtime.MaxDimension)
	}
	if err := e.requireWritable(); err != nil {
		return err
	}

	e.mu.Lock()
	if _, exists := e.collections[name]; exists {
		e.mu.Unlock()
		return ErrConflict("collection %q already exists", name)
	}

	c, cerr := collection.New(name, dimension, strictFinite)
	if cerr != nil {
		e.mu.Unlock()
		return ErrInvalidArgument("%v", cerr)
	}

	if e.persist != nil {
		rec := wal.Record{Type: wal.OpCreateCollection, Name: name, Dimension: dimension, StrictFinite: strictFinite}
		if err := e.persist.Append(ctx, rec); err != nil {
			e.mu.Unlock()
			return ErrUnavailable("wal append failed: %v", err)
		}
	}
	e.collections[name] = &collectionHandle{c: c}
	e.mu.Unlock()

	e.noteWrites(1)
	e.log.WithCollection(name).Info("collection created", "dimension", dimension, "strict_finite", strictFinite)
	return nil
}

// DeleteCollection removes a collection and all of its points.
func (e *Engine) DeleteCollection(ctx context.Context, name string) error {
	ctx, finish, err := e.admit(ctx)
	if err != nil {
		return err
	}
	defer finish()
	if err := e.requireWritable(); err != nil {
		return err
	}

	e.mu.Lock()
	handle, exists := e.collections[name]
	if !exists {
		e.mu.Unlock()
		return ErrNotFound("collection %q not found", name)
	}

	if e.persist != nil {
		rec := wal.Record{Type: wal.OpDeleteCollection, Name: name}
		if err := e.persist.Append(ctx, rec); err != nil {
			e.mu.Unlock()
			return ErrUnavailable("wal append failed: %v", err)
		}
	}
	delete(e.collections, name)
	e.mu.Unlock()

	handle.mu.Lock()
	released := e.collectionBytes(handle.c)
	handle.mu.Unlock()
	e.gov.ReleaseBytes(released)
	e.cache.Invalidate(name)
	e.noteWrites(1)
	e.log.WithCollection(name).Info("collection deleted")
	return nil
}

// ListCollections returns every collection sorted by name.
func (e *Engine) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	_, finish, err := e.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer finish()

	e.mu.RLock()
	defer e.mu.RUnlock()
	infos := make([]CollectionInfo, 0, len(e.collections))
	for _, handle := range e.collections {
		handle.mu.RLock()
		infos = append(infos, CollectionInfo{
			Name:         handle.c.Name(),
			Dimension:    handle.c.Dimension(),
			StrictFinite: handle.c.StrictFinite(),
			Points:       handle.c.Len(),
		})
		handle.mu.RUnlock()
	}
	sortCollectionInfos(infos)
	return infos, nil
}

// DescribeCollection returns a single collection's info.
func (e *Engine) DescribeCollection(ctx context.Context, name string) (CollectionInfo, error) {
	_, finish, err := e.admit(ctx)
	if err != nil {
		return CollectionInfo{}, err
	}
	defer finish()

	handle, err := e.handle(name)
	if err != nil {
		return CollectionInfo{}, err
	}
	handle.mu.RLock()
	defer handle.mu.RUnlock()
	return CollectionInfo{
		Name:         handle.c.Name(),
		Dimension:    handle.c.Dimension(),
		StrictFinite: handle.c.StrictFinite(),
		Points:       handle.c.Len(),
	}, nil
}

// PointUpsert is one entry of a batch upsert.
type PointUpsert struct {
	ID      uint64           `json:"id"`
	Values  []float32        `json:"values"`
	Payload metadata.Payload `json:"payload,omitempty"`
}

// UpsertPoint creates or replaces a point. It reports whether the point was
// created.
func (e *Engine) UpsertPoint(ctx context.Context, name string, id uint64, values []float32, payload metadata.Payload) (bool, error) {
	ctx, finish, err := e.admit(ctx)
	if err != nil {
		return false, err
	}
	defer finish()

	created, err := e.upsertBatch(ctx, name, []PointUpsert{{ID: id, Values: values, Payload: payload}})
	if err != nil {
		return false, err
	}
	return created[0], nil
}

// UpsertPoints creates or replaces a batch of points atomically with respect
// to the WAL (the batch is one append unit). It returns the created flags in
// input order.
func (e *Engine) UpsertPoints(ctx context.Context, name string, points []PointUpsert) ([]bool, error) {
	ctx, finish, err := e.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer finish()

	if len(points) == 0 {
		return nil, ErrInvalidArgument("batch must contain at least one point")
	}
	if len(points) > e.cfg.Runtime.UpsertBatchMaxPoints {
		return nil, ErrInvalidArgument("batch exceeds %d points", e.cfg.Runtime.UpsertBatchMaxPoints)
	}
	return e.upsertBatch(ctx, name, points)
}

func (e *Engine) upsertBatch(ctx context.Context, name string, points []PointUpsert) ([]bool, error) {
	if err := e.requireWritable(); err != nil {
		return nil, err
	}
	handle, err := e.handle(name)
	if err != nil {
		return nil, err
	}

	handle.mu.Lock()
	created, err := e.upsertBatchLocked(ctx, handle, points)
	handle.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.cache.Invalidate(name)
	e.counters.Upserts.Add(uint64(len(points)))
	e.noteWrites(len(points))
	return created, nil
}

func (e *Engine) upsertBatchLocked(ctx context.Context, handle *collectionHandle, points []PointUpsert) ([]bool, error) {
	c := handle.c

	// Validate everything before touching the WAL: a rejected vector must
	// not leave a record behind.
	creating := 0
	seen := make(map[uint64]struct{}, len(points))
	for i := range points {
		if err := c.ValidateVector(points[i].Values); err != nil {
			return nil, mapCollectionError(err)
		}
		if _, exists := c.Get(points[i].ID); !exists {
			if _, dup := seen[points[i].ID]; !dup {
				seen[points[i].ID] = struct{}{}
				creating++
			}
		}
	}

	if c.Len()+creating > e.cfg.Runtime.MaxPointsPerCollection {
		return nil, ErrResourceExhausted("collection %q is at its capacity of %d points",
			c.Name(), e.cfg.Runtime.MaxPointsPerCollection)
	}

	reserve := int64(creating) * e.pointBytes(c)
	if reserve > 0 && !e.gov.TryReserveBytes(reserve) {
		e.counters.RejectedMemory.Add(1)
		return nil, ErrResourceExhausted("memory budget exceeded")
	}

	if e.persist != nil {
		records := make([]wal.Record, len(points))
		for i, p := range points {
			records[i] = wal.Record{
				Type:       wal.OpUpsertPoint,
				Collection: c.Name(),
				ID:         p.ID,
				Values:     p.Values,
				Payload:    p.Payload,
			}
		}
		if err := e.persist.Append(ctx, records...); err != nil {
			e.gov.ReleaseBytes(reserve)
			return nil, ErrUnavailable("wal append failed: %v", err)
		}
	}

	// The WAL has acknowledged: the in-memory apply happens regardless of
	// the caller's context state.
	created := make([]bool, len(points))
	for i, p := range points {
		created[i] = c.UpsertUnchecked(p.ID, p.Values, p.Payload.Clone())
	}
	return created, nil
}

// Point is a materialized point returned by reads.
type Point struct {
	ID      uint64           `json:"id"`
	Values  []float32        `json:"values"`
	Payload metadata.Payload `json:"payload,omitempty"`
}

// GetPoint returns a copy of the point.
func (e *Engine) GetPoint(ctx context.Context, name string, id uint64) (Point, error) {
	_, finish, err := e.admit(ctx)
	if err != nil {
		return Point{}, err
	}
	defer finish()

	handle, err := e.handle(name)
	if err != nil {
		return Point{}, err
	}
	handle.mu.RLock()
	defer handle.mu.RUnlock()

	p, ok := handle.c.Get(id)
	if !ok {
		return Point{}, ErrNotFound("point %d not found", id)
	}
	values := make([]float32, len(p.Values))
	copy(values, p.Values)
	return Point{ID: p.ID, Values: values, Payload: p.Payload.Clone()}, nil
}

// DeletePoint removes a point. Deleting a missing point is a no-op and
// reports false.
func (e *Engine) DeletePoint(ctx context.Context, name string, id uint64) (bool, error) {
	ctx, finish, err := e.admit(ctx)
	if err != nil {
		return false, err
	}
	defer finish()
	if err := e.requireWritable(); err != nil {
		return false, err
	}

	handle, err := e.handle(name)
	if err != nil {
		return false, err
	}

	handle.mu.Lock()
	if _, exists := handle.c.Get(id); !exists {
		handle.mu.Unlock()
		return false, nil
	}
	if e.persist != nil {
		rec := wal.Record{Type: wal.OpDeletePoint, Collection: name, ID: id}
		if err := e.persist.Append(ctx, rec); err != nil {
			handle.mu.Unlock()
			return false, ErrUnavailable("wal append failed: %v", err)
		}
	}
	deleted := handle.c.Delete(id)
	released := e.pointBytes(handle.c)
	handle.mu.Unlock()

	if deleted {
		e.gov.ReleaseBytes(released)
		e.cache.Invalidate(name)
		e.counters.Deletes.Add(1)
		e.noteWrites(1)
	}
	return deleted, nil
}

// SetPayload merges fields into the payloads of the given points, preserving
// vectors. It returns the number of points whose payload changed.
func (e *Engine) SetPayload(ctx context.Context, name string, ids []uint64, fields metadata.Payload) (int, error) {
	ctx, finish, err := e.admit(ctx)
	if err != nil {
		return 0, err
	}
	defer finish()

	if len(ids) == 0 {
		return 0, ErrInvalidArgument("points must not be empty")
	}
	if len(fields) == 0 {
		return 0, ErrInvalidArgument("payload must not be empty")
	}
	return e.payloadMutation(ctx, name, wal.Record{
		Type: wal.OpSetPayload, Collection: name, IDs: ids, Fields: fields,
	}, func(c *collection.Collection) int {
		return c.SetPayload(ids, fields)
	})
}

// DeletePayload removes keys from the payloads of the given points. It
// returns the number of points whose payload changed.
func (e *Engine) DeletePayload(ctx context.Context, name string, ids []uint64, keys []string) (int, error) {
	ctx, finish, err := e.admit(ctx)
	if err != nil {
		return 0, err
	}
	defer finish()

	if len(ids) == 0 {
		return 0, ErrInvalidArgument("points must not be empty")
	}
	if len(keys) == 0 {
		return 0, ErrInvalidArgument("keys must not be empty")
	}
	return e.payloadMutation(ctx, name, wal.Record{
		Type: wal.OpDeletePayload, Collection: name, IDs: ids, Keys: keys,
	}, func(c *collection.Collection) int {
		return c.DeletePayload(ids, keys)
	})
}

func (e *Engine) payloadMutation(ctx context.Context, name string, rec wal.Record, apply func(*collection.Collection) int) (int, error) {
	if err := e.requireWritable(); err != nil {
		return 0, err
	}
	handle, err := e.handle(name)
	if err != nil {
		return 0, err
	}

	handle.mu.Lock()
	if e.persist != nil {
		if err := e.persist.Append(ctx, rec); err != nil {
			handle.mu.Unlock()
			return 0, ErrUnavailable("wal append failed: %v", err)
		}
	}
	changed := apply(handle.c)
	handle.mu.Unlock()

	if changed > 0 {
		e.cache.Invalidate(name)
		e.counters.PayloadMutations.Add(uint64(changed))
	}
	e.noteWrites(1)
	return changed, nil
}

// PageRequest selects a page of points: either {Offset, Limit} or
// {AfterID, Limit}, never both.
type PageRequest struct {
	Offset  *int
	AfterID *uint64
	Limit   int
}

// PageResult is one page of points in ascending id order.
type PageResult struct {
	Total       int     `json:"total"`
	Points      []Point `json:"points"`
	NextOffset  *int    `json:"next_offset,omitempty"`
	NextAfterID *uint64 `json:"next_after_id,omitempty"`
}

// ListPoints returns a page of points. Enumeration order is strictly
// ascending id.
func (e *Engine) ListPoints(ctx context.Context, name string, req PageRequest) (PageResult, error) {
	_, finish, err := e.admit(ctx)
	if err != nil {
		return PageResult{}, err
	}
	defer finish()

	if req.Offset != nil && req.AfterID != nil {
		return PageResult{}, ErrInvalidArgument("offset and after_id are mutually exclusive")
	}
	if req.Offset != nil && *req.Offset < 0 {
		return PageResult{}, ErrInvalidArgument("offset must be >= 0")
	}
	if req.Offset != nil && *req.Offset > e.cfg.Runtime.MaxOffsetScan {
		return PageResult{}, ErrInvalidArgument("offset must be <= %d; use after_id for deep pagination", e.cfg.Runtime.MaxOffsetScan)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 64
	}
	if limit > e.cfg.Runtime.MaxPageLimit {
		return PageResult{}, ErrInvalidArgument("limit exceeds maximum of %d", e.cfg.Runtime.MaxPageLimit)
	}

	handle, err := e.handle(name)
	if err != nil {
		return PageResult{}, err
	}
	handle.mu.RLock()
	defer handle.mu.RUnlock()

	var ids []uint64
	res := PageResult{Total: handle.c.Len()}
	if req.AfterID != nil {
		ids, res.NextAfterID = handle.c.PageAfter(*req.AfterID, limit)
	} else {
		offset := 0
		if req.Offset != nil {
			offset = *req.Offset
		}
		ids, res.NextOffset = handle.c.PageOffset(offset, limit)
	}

	res.Points = make([]Point, 0, len(ids))
	for _, id := range ids {
		p, _ := handle.c.Get(id)
		values := make([]float32, len(p.Values))
		copy(values, p.Values)
		res.Points = append(res.Points, Point{ID: id, Values: values, Payload: p.Payload.Clone()})
	}
	return res, nil
}

// CountPoints counts points, optionally restricted by a filter.
func (e *Engine) CountPoints(ctx context.Context, name string, filter *metadata.Filter) (int, error) {
	_, finish, err := e.admit(ctx)
	if err != nil {
		return 0, err
	}
	defer finish()

	if filter != nil {
		if err := filter.Validate(); err != nil {
			return 0, ErrInvalidArgument("%v", err)
		}
	}

	handle, err := e.handle(name)
	if err != nil {
		return 0, err
	}
	handle.mu.RLock()
	defer handle.mu.RUnlock()

	if filter == nil {
		return handle.c.Len(), nil
	}
	count := 0
	handle.c.Range(func(p *collection.Point) bool {
		if filter.Matches(p.Payload) {
			count++
		}
		return true
	})
	return count, nil
}

// ReadyStatus reports the readiness gate inputs.
type ReadyStatus struct {
	Ready            bool  `json:"ready"`
	EngineLoaded     bool  `json:"engine_loaded"`
	StorageAvailable bool  `json:"storage_available"`
	WALTailOpen      bool  `json:"wal_tail_open"`
	UptimeMS         int64 `json:"uptime_ms"`
}

// Ready computes readiness: engine loaded and storage available.
func (e *Engine) Ready() ReadyStatus {
	loaded := e.loaded.Load()
	tailOpen := e.walTailOpen.Load()
	status := ReadyStatus{
		EngineLoaded:     loaded,
		StorageAvailable: !tailOpen,
		WALTailOpen:      tailOpen,
		UptimeMS:         time.Since(e.startedAt).Milliseconds(),
	}
	status.Ready = status.EngineLoaded && status.StorageAvailable
	return status
}

// UptimeMS returns milliseconds since engine start.
func (e *Engine) UptimeMS() int64 {
	return time.Since(e.startedAt).Milliseconds()
}

// Stats snapshots every counter and gauge.
func (e *Engine) Stats() Stats {
	s := Stats{
		UptimeMS: e.UptimeMS(),

		Upserts:          e.counters.Upserts.Load(),
		Deletes:          e.counters.Deletes.Load(),
		PayloadMutations: e.counters.PayloadMutations.Load(),
		Searches:         e.counters.Searches.Load(),
		SearchQueries:    e.counters.SearchQueries.Load(),
		IVFQueries:       e.counters.IVFQueries.Load(),
		IVFFallbackExact: e.counters.IVFFallbackExact.Load(),
		RejectedOverload: e.counters.RejectedOverload.Load(),
		RejectedMemory:   e.counters.RejectedMemory.Load(),
		Timeouts:         e.counters.Timeouts.Load(),

		InFlightRequests:  e.gov.InFlight(),
		MemoryUsedBytes:   e.gov.UsedBytes(),
		MemoryBudgetBytes: e.gov.BudgetBytes(),
	}

	e.mu.RLock()
	s.Collections = len(e.collections)
	for _, handle := range e.collections {
		handle.mu.RLock()
		s.TotalPoints += handle.c.Len()
		handle.mu.RUnlock()
	}
	e.mu.RUnlock()

	cs := e.cache.Stats()
	s.IndexCacheLookups = cs.Lookups.Load()
	s.IndexCacheHits = cs.Hits.Load()
	s.IndexCacheMisses = cs.Misses.Load()
	s.IndexBuildRequests = cs.BuildRequests.Load()
	s.IndexBuildSuccesses = cs.BuildSuccesses.Load()
	s.IndexBuildFailures = cs.BuildFailures.Load()
	s.IndexCooldownSkips = cs.CooldownSkips.Load()
	s.IndexBuildsInFlight = e.cache.InFlight()

	if e.persist != nil {
		ps := e.persist.Stats()
		s.Checkpoints = ps.Checkpoints.Load()
		s.Compactions = ps.Compactions.Load()
		s.CheckpointErrors = ps.CheckpointErrors.Load()
		s.CheckpointScheduleSkips = ps.ScheduleSkips.Load()
		s.WALAppendRetries = ps.AppendRetries.Load()
		s.ArchiveUploads = ps.ArchiveUploads.Load()
		s.ArchiveFailures = ps.ArchiveFailures.Load()

		backlog := e.persist.Backlog()
		s.WALSizeBytes = backlog.WALSizeBytes
		s.WALTailOpen = backlog.WALTailOpen
		s.IncrementalSegments = backlog.Segments
		s.IncrementalSegmentBytes = backlog.SegmentBytes
		s.SnapshotGeneration = backlog.Generation
		s.DegradedWALOnly = backlog.Degraded
		s.WritesSinceLastCheckpoint = backlog.WritesUnflushed
	}
	return s
}

// SnapshotCollections implements persistence.SnapshotSource: deep copies of
// every collection taken under their read locks.
func (e *Engine) SnapshotCollections() map[string]*collection.Collection {
	e.mu.RLock()
	handles := make(map[string]*collectionHandle, len(e.collections))
	for name, handle := range e.collections {
		handles[name] = handle
	}
	e.mu.RUnlock()

	out := make(map[string]*collection.Collection, len(handles))
	for name, handle := range handles {
		handle.mu.RLock()
		out[name] = handle.c.Clone()
		handle.mu.RUnlock()
	}
	return out
}

func (e *Engine) handle(name string) (*collectionHandle, error) {
	e.mu.RLock()
	handle, ok := e.collections[name]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound("collection %q not found", name)
	}
	return handle, nil
}

// requireWritable rejects mutations while the WAL tail is open: the bytes on
// disk are ambiguous and appending would bury the damage.
func (e *Engine) requireWritable() error {
	if e.walTailOpen.Load() {
		return ErrUnavailable("wal tail is open; resolve the damaged tail before writing")
	}
	return nil
}

func (e *Engine) noteWrites(n int) {
	if e.persist == nil {
		return
	}
	e.persist.NoteWrites(e, n)
}

// pointBytes estimates the memory footprint of one point.
func (e *Engine) pointBytes(c *collection.Collection) int64 {
	return int64(float64(c.EstimatedVectorBytes()) * e.cfg.Runtime.MemoryOverheadFactor)
}

func (e *Engine) collectionBytes(c *collection.Collection) int64 {
	return int64(c.Len()) * e.pointBytes(c)
}

// scheduleIndexBuild asks the cache to build an artifact for name, feeding
// it a flattened snapshot taken under the collection read lock.
func (e *Engine) scheduleIndexBuild(name string, handle *collectionHandle) {
	e.cache.ScheduleBuild(name, func() (ivf.Source, bool) {
		handle.mu.RLock()
		defer handle.mu.RUnlock()
		c := handle.c
		if c.Len() < e.cache.BuildConfig().MinIndexedPoints {
			return ivf.Source{}, false
		}
		flat, ids := c.FlatValues()
		idsCopy := make([]uint64, len(ids))
		copy(idsCopy, ids)
		return ivf.Source{
			Dimension:   c.Dimension(),
			Fingerprint: c.Fingerprint(),
			IDs:         idsCopy,
			Vectors:     flat,
		}, true
	})
}

// warmupIndexes schedules builds for every eligible collection at boot.
func (e *Engine) warmupIndexes() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for name, handle := range e.collections {
		handle.mu.RLock()
		eligible := handle.c.Len() >= e.cache.BuildConfig().MinIndexedPoints
		handle.mu.RUnlock()
		if eligible {
			e.scheduleIndexBuild(name, handle)
		}
	}
}

func mapCollectionError(err error) error {
	return ErrInvalidArgument("%v", err)
}

func sortCollectionInfos(infos []CollectionInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
}
