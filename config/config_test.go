package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4096, cfg.Runtime.MaxDimension)
	assert.Equal(t, 1_000_000, cfg.Runtime.MaxPointsPerCollection)
	assert.Equal(t, int64(0), cfg.Runtime.MemoryBudgetBytes)
	assert.Equal(t, 256, cfg.Runtime.MaxConcurrency)
	assert.Equal(t, 2000, cfg.Runtime.RequestTimeoutMS)
	assert.Equal(t, 1<<20, cfg.Runtime.MaxBodyBytes)
	assert.Equal(t, 1000, cfg.Runtime.MaxTopKLimit)
	assert.Equal(t, 1000, cfg.Runtime.MaxPageLimit)
	assert.Equal(t, 256, cfg.Runtime.UpsertBatchMaxPoints)
	assert.Equal(t, 256, cfg.Runtime.SearchBatchMaxQueries)

	assert.True(t, cfg.Persistence.Enabled)
	assert.True(t, cfg.Persistence.WALSyncOnWrite)
	assert.Equal(t, 16, cfg.Persistence.WALGroupCommitMaxBatch)
	assert.Equal(t, 32, cfg.Persistence.CheckpointInterval)
	assert.False(t, cfg.Persistence.AsyncCheckpoints)
	assert.Equal(t, 64, cfg.Persistence.CheckpointCompactAfter)

	assert.Equal(t, 8, cfg.Search.IVFNProbeDefault)
	assert.Equal(t, 8192, cfg.Search.IVFKMeansMaxTrainingPoints)
	assert.Equal(t, 2, cfg.Search.IndexBuildMaxInFlight)
	assert.Equal(t, 1000, cfg.Search.IndexBuildCooldownMS)
	assert.True(t, cfg.Search.IndexWarmupOnBoot)
	assert.Equal(t, 256, cfg.Search.ParallelScoreMinPoints)
	assert.Equal(t, 200_000, cfg.Search.ParallelScoreMinWork)
	assert.Equal(t, 32, cfg.Search.ParallelScoreMinChunkLen)
	assert.Equal(t, 8192, cfg.Search.InlineMaxPoints)
	assert.Equal(t, 1_000_000, cfg.Search.InlineMaxWork)
	assert.Equal(t, 4_000_000, cfg.Search.InlineLightLoadMaxWork)
	assert.Equal(t, 2, cfg.Search.InlineLightLoadMaxInFlight)
	assert.Equal(t, 160, cfg.Search.ExactBatchTransposeMinQueries)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgevec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
runtime:
  max_dimension: 128
  max_concurrency: 32
persistence:
  wal_sync_on_write: false
  checkpoint_interval: 2
search:
  ivf_nprobe_default: 4
server:
  bind: 0.0.0.0:9090
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Runtime.MaxDimension)
	assert.Equal(t, 32, cfg.Runtime.MaxConcurrency)
	assert.False(t, cfg.Persistence.WALSyncOnWrite)
	assert.Equal(t, 2, cfg.Persistence.CheckpointInterval)
	assert.Equal(t, 4, cfg.Search.IVFNProbeDefault)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Bind)
	// Untouched keys keep defaults.
	assert.Equal(t, 1000, cfg.Runtime.MaxTopKLimit)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("EDGEVEC_MAX_DIMENSION", "64")
	t.Setenv("EDGEVEC_WAL_SYNC_ON_WRITE", "off")
	t.Setenv("EDGEVEC_MEMORY_BUDGET_BYTES", "1048576")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, 64, cfg.Runtime.MaxDimension)
	assert.False(t, cfg.Persistence.WALSyncOnWrite)
	assert.Equal(t, int64(1<<20), cfg.Runtime.MemoryBudgetBytes)
}

func TestApplyEnvRejectsInvalid(t *testing.T) {
	t.Setenv("EDGEVEC_MAX_DIMENSION", "not-a-number")
	cfg := Default()
	assert.Error(t, cfg.ApplyEnv())

	t.Setenv("EDGEVEC_MAX_DIMENSION", "4096")
	t.Setenv("EDGEVEC_STRICT_FINITE", "not-a-bool")
	cfg = Default()
	assert.Error(t, cfg.ApplyEnv())
}

func TestValidateRejections(t *testing.T) {
	cfg := Default()
	cfg.Runtime.MaxTopKLimit = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Persistence.SnapshotPath = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Persistence.SnapshotCompression = "gzip"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Archive.Backend = "ftp"
	assert.Error(t, cfg.Validate())

	// Disabled persistence skips persistence validation.
	cfg = Default()
	cfg.Persistence.Enabled = false
	cfg.Persistence.SnapshotPath = ""
	assert.NoError(t, cfg.Validate())
}
