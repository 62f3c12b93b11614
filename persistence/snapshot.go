// Package persistence implements snapshots, incremental segments, compaction,
// and crash recovery on top of the WAL.
//
// On-disk formats are JSON-lines. A snapshot starts with a header record
// carrying the generation, followed by create_collection and upsert_point
// records in deterministic (name, id) order. Snapshots are written to a temp
// file, fsync'd, and atomically renamed over the active snapshot.
package persistence

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/edgevec/edgevec/codec"
	"github.com/edgevec/edgevec/collection"
	"github.com/edgevec/edgevec/metadata"
	"github.com/edgevec/edgevec/wal"
)

// Compression selects the snapshot body codec. The file is self-describing:
// load sniffs the frame magic, so the setting only affects new snapshots.
type Compression string

const (
	// CompressionNone writes plain JSON lines.
	CompressionNone Compression = "none"
	// CompressionZstd wraps the body in a zstd frame.
	CompressionZstd Compression = "zstd"
	// CompressionLZ4 wraps the body in an lz4 frame.
	CompressionLZ4 Compression = "lz4"
)

// ParseCompression maps a config string to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, fmt.Errorf("unsupported snapshot compression %q", s)
	}
}

const snapshotVersion = 2

type snapshotHeader struct {
	Type       string `json:"type"`
	Version    int    `json:"version"`
	Generation uint64 `json:"generation"`
}

var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
)

// WriteSnapshot serializes the collections to path with the given generation.
func WriteSnapshot(path string, generation uint64, collections map[string]*collection.Collection, comp Compression, c codec.Codec) error {
	if c == nil {
		c = codec.Default
	}
	if err := ensureParentDir(path); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open snapshot temp file: %w", err)
	}

	if err := writeSnapshotBody(file, generation, collections, comp, c); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return syncParentDir(path)
}

func writeSnapshotBody(file *os.File, generation uint64, collections map[string]*collection.Collection, comp Compression, c codec.Codec) error {
	var w io.Writer = file
	var finish func() error

	switch comp {
	case CompressionZstd:
		enc, err := zstd.NewWriter(file)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		w = enc
		finish = enc.Close
	case CompressionLZ4:
		enc := lz4.NewWriter(file)
		w = enc
		finish = enc.Close
	default:
		bw := bufio.NewWriter(file)
		w = bw
		finish = bw.Flush
	}

	writeLine := func(v any) error {
		data, err := c.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		_, err = w.Write([]byte("\n"))
		return err
	}

	if err := writeLine(&snapshotHeader{Type: "snapshot_header", Version: snapshotVersion, Generation: generation}); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}

	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		coll := collections[name]
		rec := wal.Record{
			Type:         wal.OpCreateCollection,
			Name:         coll.Name(),
			Dimension:    coll.Dimension(),
			StrictFinite: coll.StrictFinite(),
		}
		if err := writeRecordLine(w, c, &rec); err != nil {
			return fmt.Errorf("write snapshot collection %q: %w", name, err)
		}
		var werr error
		coll.Range(func(p *collection.Point) bool {
			var payload metadata.Payload
			if len(p.Payload) > 0 {
				payload = p.Payload
			}
			rec := wal.Record{
				Type:       wal.OpUpsertPoint,
				Collection: coll.Name(),
				ID:         p.ID,
				Values:     p.Values,
				Payload:    payload,
			}
			werr = writeRecordLine(w, c, &rec)
			return werr == nil
		})
		if werr != nil {
			return fmt.Errorf("write snapshot points for %q: %w", name, werr)
		}
	}

	if err := finish(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	return nil
}

func writeRecordLine(w io.Writer, c codec.Codec, rec *wal.Record) error {
	data, err := rec.Encode(c)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}

// LoadSnapshot reads the snapshot at path. A missing file yields an empty
// state with generation 0.
func LoadSnapshot(path string, c codec.Codec) (map[string]*collection.Collection, uint64, error) {
	if c == nil {
		c = codec.Default
	}
	collections := make(map[string]*collection.Collection)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return collections, 0, nil
		}
		return nil, 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	body, err := snapshotBodyReader(file)
	if err != nil {
		return nil, 0, err
	}

	reader := bufio.NewReader(body)
	headerLine, err := readNonEmptyLine(reader)
	if err != nil {
		if err == io.EOF {
			return collections, 0, nil
		}
		return nil, 0, fmt.Errorf("read snapshot header: %w", err)
	}
	var header snapshotHeader
	if err := c.Unmarshal(headerLine, &header); err != nil || header.Type != "snapshot_header" {
		return nil, 0, fmt.Errorf("snapshot header must be the first record")
	}
	if header.Version != snapshotVersion {
		return nil, 0, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}

	lineNumber := 1
	for {
		raw, err := readNonEmptyLine(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read snapshot: %w", err)
		}
		lineNumber++

		var rec wal.Record
		if err := rec.Decode(c, raw); err != nil {
			return nil, 0, fmt.Errorf("invalid snapshot record at line %d: %w", lineNumber, err)
		}
		switch rec.Type {
		case wal.OpCreateCollection, wal.OpUpsertPoint:
		default:
			return nil, 0, fmt.Errorf("unexpected %q record in snapshot at line %d", rec.Type, lineNumber)
		}
		if err := ApplyRecord(collections, rec); err != nil {
			return nil, 0, fmt.Errorf("apply snapshot record at line %d: %w", lineNumber, err)
		}
	}

	return collections, header.Generation, nil
}

// snapshotBodyReader sniffs the compression magic and returns a decoding
// reader over the snapshot body.
func snapshotBodyReader(file *os.File) (io.Reader, error) {
	magic := make([]byte, 4)
	n, err := file.Read(magic)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read snapshot magic: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek snapshot: %w", err)
	}
	magic = magic[:n]

	switch {
	case bytes.HasPrefix(magic, zstdMagic):
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	case bytes.HasPrefix(magic, lz4Magic):
		return lz4.NewReader(file), nil
	default:
		return file, nil
	}
}

func readNonEmptyLine(r *bufio.Reader) ([]byte, error) {
	for {
		raw, err := r.ReadBytes('\n')
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 {
			return trimmed, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
