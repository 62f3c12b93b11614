// Package config holds the engine's configuration surface.
//
// Configuration is resolved once at startup: defaults, then an optional YAML
// file, then EDGEVEC_* environment overrides. The resulting Config is treated
// as immutable afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime bounds request admission and collection shape.
type Runtime struct {
	MaxDimension           int   `yaml:"max_dimension"`
	MaxPointsPerCollection int   `yaml:"max_points_per_collection"`
	MemoryBudgetBytes      int64 `yaml:"memory_budget_bytes"`
	MaxConcurrency         int   `yaml:"max_concurrency"`
	RequestTimeoutMS       int   `yaml:"request_timeout_ms"`
	MaxBodyBytes           int   `yaml:"max_body_bytes"`
	MaxTopKLimit           int   `yaml:"max_topk_limit"`
	MaxPageLimit           int   `yaml:"max_page_limit"`
	MaxOffsetScan          int   `yaml:"max_offset_scan"`
	UpsertBatchMaxPoints   int   `yaml:"upsert_batch_max_points"`
	SearchBatchMaxQueries  int   `yaml:"search_batch_max_queries"`
	StrictFiniteDefault    bool  `yaml:"strict_finite_default"`
	// MemoryOverheadFactor scales the raw vector byte estimate to cover
	// payloads and index artifacts.
	MemoryOverheadFactor float64 `yaml:"memory_overhead_factor"`
}

// Persistence configures the WAL, snapshots, and compaction.
type Persistence struct {
	Enabled                  bool   `yaml:"enabled"`
	WALSyncOnWrite           bool   `yaml:"wal_sync_on_write"`
	WALSyncEveryNWrites      int    `yaml:"wal_sync_every_n_writes"`
	WALSyncIntervalSeconds   int    `yaml:"wal_sync_interval_seconds"`
	WALGroupCommitMaxBatch   int    `yaml:"wal_group_commit_max_batch"`
	WALGroupCommitFlushDelay int    `yaml:"wal_group_commit_flush_delay_ms"`
	CheckpointInterval       int    `yaml:"checkpoint_interval"`
	AsyncCheckpoints         bool   `yaml:"async_checkpoints"`
	CheckpointCompactAfter   int    `yaml:"checkpoint_compact_after"`
	SnapshotPath             string `yaml:"snapshot_path"`
	WALPath                  string `yaml:"wal_path"`
	// SnapshotCompression selects the snapshot codec: none, zstd, or lz4.
	SnapshotCompression string `yaml:"snapshot_compression"`
	// ArchiveIOBytesPerSec throttles archive uploads. 0 disables throttling.
	ArchiveIOBytesPerSec int `yaml:"archive_io_bytes_per_sec"`
}

// Archive configures an optional off-box snapshot copy after compaction.
type Archive struct {
	// Backend is one of "", "local", "s3", "minio". Empty disables archiving.
	Backend string `yaml:"backend"`
	// Prefix is prepended to archive object keys.
	Prefix string `yaml:"prefix"`

	LocalDir string `yaml:"local_dir"`

	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`

	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`
}

// Search tunes the executor's dispatch policy and the IVF index.
type Search struct {
	IVFNProbeDefault              int  `yaml:"ivf_nprobe_default"`
	IVFKMeansMaxTrainingPoints    int  `yaml:"ivf_kmeans_max_training_points"`
	IndexBuildMaxInFlight         int  `yaml:"index_build_max_in_flight"`
	IndexBuildCooldownMS          int  `yaml:"index_build_cooldown_ms"`
	IndexWarmupOnBoot             bool `yaml:"index_warmup_on_boot"`
	ParallelScoreMinPoints        int  `yaml:"parallel_score_min_points"`
	ParallelScoreMinWork          int  `yaml:"parallel_score_min_work"`
	ParallelScoreMinChunkLen      int  `yaml:"parallel_score_min_chunk_len"`
	InlineMaxPoints               int  `yaml:"search_inline_max_points"`
	InlineMaxWork                 int  `yaml:"search_inline_max_work"`
	InlineLightLoadMaxWork        int  `yaml:"search_inline_light_load_max_work"`
	InlineLightLoadMaxInFlight    int  `yaml:"search_inline_light_load_max_in_flight"`
	ExactBatchTransposeMinQueries int  `yaml:"exact_batch_transpose_min_queries"`
}

// Server configures the HTTP front.
type Server struct {
	Bind string `yaml:"bind"`
}

// Config is the full engine configuration.
type Config struct {
	Runtime     Runtime     `yaml:"runtime"`
	Persistence Persistence `yaml:"persistence"`
	Archive     Archive     `yaml:"archive"`
	Search      Search      `yaml:"search"`
	Server      Server      `yaml:"server"`
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		Runtime: Runtime{
			MaxDimension:           4096,
			MaxPointsPerCollection: 1_000_000,
			MemoryBudgetBytes:      0,
			MaxConcurrency:         256,
			RequestTimeoutMS:       2000,
			MaxBodyBytes:           1 << 20,
			MaxTopKLimit:           1000,
			MaxPageLimit:           1000,
			MaxOffsetScan:          100_000,
			UpsertBatchMaxPoints:   256,
			SearchBatchMaxQueries:  256,
			StrictFiniteDefault:    true,
			MemoryOverheadFactor:   1.25,
		},
		Persistence: Persistence{
			Enabled:                  true,
			WALSyncOnWrite:           true,
			WALSyncEveryNWrites:      0,
			WALSyncIntervalSeconds:   0,
			WALGroupCommitMaxBatch:   16,
			WALGroupCommitFlushDelay: 0,
			CheckpointInterval:       32,
			AsyncCheckpoints:         false,
			CheckpointCompactAfter:   64,
			SnapshotPath:             "data/edgevec_snapshot.jsonl",
			WALPath:                  "data/edgevec_wal.jsonl",
			SnapshotCompression:      "none",
			ArchiveIOBytesPerSec:     0,
		},
		Search: Search{
			IVFNProbeDefault:              8,
			IVFKMeansMaxTrainingPoints:    8192,
			IndexBuildMaxInFlight:         2,
			IndexBuildCooldownMS:          1000,
			IndexWarmupOnBoot:             true,
			ParallelScoreMinPoints:        256,
			ParallelScoreMinWork:          200_000,
			ParallelScoreMinChunkLen:      32,
			InlineMaxPoints:               8192,
			InlineMaxWork:                 1_000_000,
			InlineLightLoadMaxWork:        4_000_000,
			InlineLightLoadMaxInFlight:    2,
			ExactBatchTransposeMinQueries: 160,
		},
		Server: Server{
			Bind: "127.0.0.1:8080",
		},
	}
}

// RequestTimeout returns the per-request deadline as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Runtime.RequestTimeoutMS) * time.Millisecond
}

// Load resolves the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays EDGEVEC_* environment variables onto the config.
func (c *Config) ApplyEnv() error {
	var err error
	set := func(e error) {
		if err == nil {
			err = e
		}
	}

	set(envInt("EDGEVEC_MAX_DIMENSION", &c.Runtime.MaxDimension))
	set(envInt("EDGEVEC_MAX_POINTS_PER_COLLECTION", &c.Runtime.MaxPointsPerCollection))
	set(envInt64("EDGEVEC_MEMORY_BUDGET_BYTES", &c.Runtime.MemoryBudgetBytes))
	set(envInt("EDGEVEC_MAX_CONCURRENCY", &c.Runtime.MaxConcurrency))
	set(envInt("EDGEVEC_REQUEST_TIMEOUT_MS", &c.Runtime.RequestTimeoutMS))
	set(envInt("EDGEVEC_MAX_BODY_BYTES", &c.Runtime.MaxBodyBytes))
	set(envInt("EDGEVEC_MAX_TOPK_LIMIT", &c.Runtime.MaxTopKLimit))
	set(envInt("EDGEVEC_MAX_PAGE_LIMIT", &c.Runtime.MaxPageLimit))
	set(envInt("EDGEVEC_UPSERT_BATCH_MAX_POINTS", &c.Runtime.UpsertBatchMaxPoints))
	set(envInt("EDGEVEC_SEARCH_BATCH_MAX_QUERIES", &c.Runtime.SearchBatchMaxQueries))
	set(envBool("EDGEVEC_STRICT_FINITE", &c.Runtime.StrictFiniteDefault))

	set(envBool("EDGEVEC_PERSISTENCE_ENABLED", &c.Persistence.Enabled))
	set(envBool("EDGEVEC_WAL_SYNC_ON_WRITE", &c.Persistence.WALSyncOnWrite))
	set(envInt("EDGEVEC_WAL_SYNC_EVERY_N_WRITES", &c.Persistence.WALSyncEveryNWrites))
	set(envInt("EDGEVEC_WAL_SYNC_INTERVAL_SECONDS", &c.Persistence.WALSyncIntervalSeconds))
	set(envInt("EDGEVEC_WAL_GROUP_COMMIT_MAX_BATCH", &c.Persistence.WALGroupCommitMaxBatch))
	set(envInt("EDGEVEC_WAL_GROUP_COMMIT_FLUSH_DELAY_MS", &c.Persistence.WALGroupCommitFlushDelay))
	set(envInt("EDGEVEC_CHECKPOINT_INTERVAL", &c.Persistence.CheckpointInterval))
	set(envBool("EDGEVEC_ASYNC_CHECKPOINTS", &c.Persistence.AsyncCheckpoints))
	set(envInt("EDGEVEC_CHECKPOINT_COMPACT_AFTER", &c.Persistence.CheckpointCompactAfter))
	set(envString("EDGEVEC_SNAPSHOT_PATH", &c.Persistence.SnapshotPath))
	set(envString("EDGEVEC_WAL_PATH", &c.Persistence.WALPath))
	set(envString("EDGEVEC_SNAPSHOT_COMPRESSION", &c.Persistence.SnapshotCompression))

	set(envInt("EDGEVEC_IVF_NPROBE_DEFAULT", &c.Search.IVFNProbeDefault))
	set(envInt("EDGEVEC_IVF_KMEANS_MAX_TRAINING_POINTS", &c.Search.IVFKMeansMaxTrainingPoints))
	set(envInt("EDGEVEC_INDEX_BUILD_MAX_IN_FLIGHT", &c.Search.IndexBuildMaxInFlight))
	set(envInt("EDGEVEC_INDEX_BUILD_COOLDOWN_MS", &c.Search.IndexBuildCooldownMS))
	set(envBool("EDGEVEC_INDEX_WARMUP_ON_BOOT", &c.Search.IndexWarmupOnBoot))
	set(envInt("EDGEVEC_PARALLEL_SCORE_MIN_POINTS", &c.Search.ParallelScoreMinPoints))
	set(envInt("EDGEVEC_PARALLEL_SCORE_MIN_WORK", &c.Search.ParallelScoreMinWork))
	set(envInt("EDGEVEC_PARALLEL_SCORE_MIN_CHUNK_LEN", &c.Search.ParallelScoreMinChunkLen))
	set(envInt("EDGEVEC_SEARCH_INLINE_MAX_POINTS", &c.Search.InlineMaxPoints))
	set(envInt("EDGEVEC_SEARCH_INLINE_MAX_WORK", &c.Search.InlineMaxWork))
	set(envInt("EDGEVEC_SEARCH_INLINE_LIGHT_LOAD_MAX_WORK", &c.Search.InlineLightLoadMaxWork))
	set(envInt("EDGEVEC_SEARCH_INLINE_LIGHT_LOAD_MAX_IN_FLIGHT", &c.Search.InlineLightLoadMaxInFlight))
	set(envInt("EDGEVEC_EXACT_BATCH_TRANSPOSE_MIN_QUERIES", &c.Search.ExactBatchTransposeMinQueries))

	set(envString("EDGEVEC_BIND", &c.Server.Bind))
	set(envString("EDGEVEC_ARCHIVE_BACKEND", &c.Archive.Backend))

	return err
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Runtime.MaxDimension <= 0 {
		return fmt.Errorf("max_dimension must be > 0")
	}
	if c.Runtime.MaxPointsPerCollection <= 0 {
		return fmt.Errorf("max_points_per_collection must be > 0")
	}
	if c.Runtime.MemoryBudgetBytes < 0 {
		return fmt.Errorf("memory_budget_bytes must be >= 0")
	}
	if c.Runtime.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be > 0")
	}
	if c.Runtime.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be > 0")
	}
	if c.Runtime.MaxTopKLimit <= 0 {
		return fmt.Errorf("max_topk_limit must be > 0")
	}
	if c.Runtime.MaxPageLimit <= 0 {
		return fmt.Errorf("max_page_limit must be > 0")
	}
	if c.Runtime.UpsertBatchMaxPoints <= 0 {
		return fmt.Errorf("upsert_batch_max_points must be > 0")
	}
	if c.Runtime.SearchBatchMaxQueries <= 0 {
		return fmt.Errorf("search_batch_max_queries must be > 0")
	}
	if c.Runtime.MemoryOverheadFactor < 1.0 {
		return fmt.Errorf("memory_overhead_factor must be >= 1.0")
	}
	if c.Persistence.Enabled {
		if c.Persistence.SnapshotPath == "" {
			return fmt.Errorf("snapshot_path must not be empty")
		}
		if c.Persistence.WALPath == "" {
			return fmt.Errorf("wal_path must not be empty")
		}
		if c.Persistence.CheckpointInterval <= 0 {
			return fmt.Errorf("checkpoint_interval must be > 0")
		}
		if c.Persistence.CheckpointCompactAfter <= 0 {
			return fmt.Errorf("checkpoint_compact_after must be > 0")
		}
		if c.Persistence.WALGroupCommitMaxBatch <= 0 {
			return fmt.Errorf("wal_group_commit_max_batch must be > 0")
		}
		switch c.Persistence.SnapshotCompression {
		case "", "none", "zstd", "lz4":
		default:
			return fmt.Errorf("snapshot_compression must be one of none, zstd, lz4")
		}
	}
	if c.Search.IndexBuildMaxInFlight <= 0 {
		return fmt.Errorf("index_build_max_in_flight must be > 0")
	}
	if c.Search.IVFNProbeDefault <= 0 {
		return fmt.Errorf("ivf_nprobe_default must be > 0")
	}
	if c.Search.IVFKMeansMaxTrainingPoints <= 0 {
		return fmt.Errorf("ivf_kmeans_max_training_points must be > 0")
	}
	switch c.Archive.Backend {
	case "", "local", "s3", "minio":
	default:
		return fmt.Errorf("archive backend must be one of local, s3, minio")
	}
	return nil
}

func envString(key string, dst *string) error {
	if raw, ok := os.LookupEnv(key); ok {
		if raw == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
		*dst = raw
	}
	return nil
}

func envInt(key string, dst *int) error {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	*dst = v
	return nil
}

func envInt64(key string, dst *int64) error {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	*dst = v
	return nil
}

func envBool(key string, dst *bool) error {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("%s must be a boolean, got %q", key, raw)
	}
	return nil
}
