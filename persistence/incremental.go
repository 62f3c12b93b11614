package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/edgevec/edgevec/codec"
	"github.com/edgevec/edgevec/collection"
	"github.com/edgevec/edgevec/wal"
)

// SegmentDir returns the directory holding incremental segments rotated from
// the WAL between two snapshot generations.
func SegmentDir(snapshotPath string) string {
	return snapshotPath + ".segments"
}

const segmentExt = ".jsonl"

// ListSegments returns segment paths in replay order.
func ListSegments(snapshotPath string) ([]string, error) {
	dir := SegmentDir(snapshotPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list segments: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), segmentExt) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// NextSegmentPath allocates the next numbered segment path, creating the
// segment directory if needed.
func NextSegmentPath(snapshotPath string) (string, error) {
	dir := SegmentDir(snapshotPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create segment directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scan segment directory: %w", err)
	}
	var maxSeq uint64
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, segmentExt) {
			continue
		}
		raw := strings.TrimSuffix(name, segmentExt)
		if seq, err := strconv.ParseUint(raw, 10, 64); err == nil && seq > maxSeq {
			maxSeq = seq
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%020d%s", maxSeq+1, segmentExt)), nil
}

// ReplaySegments replays every segment in order into the collection map.
// Segments are complete rotated WAL tails; an open tail inside a segment
// means the rotation itself was interrupted; replay of that segment stops at
// it without error. Unlike the live WAL tail, it is not reported as open.
func ReplaySegments(snapshotPath string, c codec.Codec, collections map[string]*collection.Collection) (int, error) {
	paths, err := ListSegments(snapshotPath)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, path := range paths {
		res, err := wal.ReplayFile(path, c, func(rec wal.Record) error {
			return ApplyRecord(collections, rec)
		})
		if err != nil {
			return total, fmt.Errorf("replay segment %s: %w", filepath.Base(path), err)
		}
		total += res.Records
	}
	return total, nil
}

// ClearSegments removes every segment after a successful compaction.
func ClearSegments(snapshotPath string) error {
	paths, err := ListSegments(snapshotPath)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove segment: %w", err)
		}
	}
	return nil
}

// SegmentStats reports the current backlog of rotated segments.
func SegmentStats(snapshotPath string) (count int, bytes int64) {
	paths, err := ListSegments(snapshotPath)
	if err != nil {
		return 0, 0
	}
	for _, path := range paths {
		if st, err := os.Stat(path); err == nil {
			bytes += st.Size()
		}
	}
	return len(paths), bytes
}
