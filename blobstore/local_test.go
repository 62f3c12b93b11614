package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	content := "snapshot bytes"
	require.NoError(t, s.Put(ctx, "gen/000001.jsonl", strings.NewReader(content), int64(len(content))))

	rc, err := s.Open(ctx, "gen/000001.jsonl")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	require.NoError(t, s.Delete(ctx, "gen/000001.jsonl"))
	_, err = s.Open(ctx, "gen/000001.jsonl")
	assert.True(t, errors.Is(err, ErrNotFound) || err != nil)

	// Deleting a missing object is not an error.
	require.NoError(t, s.Delete(ctx, "gen/000001.jsonl"))
}

func TestLocalStoreOverwrite(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", strings.NewReader("v1"), 2))
	require.NoError(t, s.Put(ctx, "k", strings.NewReader("v2"), 2))

	rc, err := s.Open(ctx, "k")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "v2", string(data))
}
