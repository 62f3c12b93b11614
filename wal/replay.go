package wal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/edgevec/edgevec/codec"
)

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	// Records is the number of records applied.
	Records int
	// TailOpen reports that the file ended in a truncated record. The bytes
	// are preserved on disk; the engine surfaces the condition through
	// readiness instead of silently discarding them.
	TailOpen bool
}

// ReplayFile reads the newline-delimited log at path and applies each record
// in append order. A missing file is an empty log. A final line without a
// trailing newline that fails to parse is tolerated and flagged as an open
// tail; a malformed record anywhere else fails the replay.
func ReplayFile(path string, c codec.Codec, apply func(Record) error) (ReplayResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReplayResult{}, nil
		}
		return ReplayResult{}, fmt.Errorf("open wal for replay: %w", err)
	}
	defer file.Close()
	return Replay(file, c, apply)
}

// Replay applies records from r. See ReplayFile for tail semantics.
func Replay(r io.Reader, c codec.Codec, apply func(Record) error) (ReplayResult, error) {
	if c == nil {
		c = codec.Default
	}
	var res ReplayResult

	reader := bufio.NewReader(r)
	lineNumber := 0
	for {
		raw, err := reader.ReadBytes('\n')
		atEOF := err == io.EOF
		if err != nil && !atEOF {
			return res, fmt.Errorf("read wal: %w", err)
		}

		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 {
			lineNumber++
			var rec Record
			if derr := rec.Decode(c, trimmed); derr != nil {
				if atEOF && !bytes.HasSuffix(raw, []byte("\n")) {
					// Truncated tail from an interrupted append.
					res.TailOpen = true
					return res, nil
				}
				return res, fmt.Errorf("invalid wal line %d: %w", lineNumber, derr)
			}
			if aerr := apply(rec); aerr != nil {
				return res, fmt.Errorf("apply wal line %d: %w", lineNumber, aerr)
			}
			res.Records++
		}

		if atEOF {
			return res, nil
		}
	}
}

// TailOpen inspects the file at path without replaying it and reports whether
// it ends mid-record (last byte is not a newline).
func TailOpen(path string) bool {
	st, err := os.Stat(path)
	if err != nil || st.Size() == 0 {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	buf := make([]byte, 1)
	if _, err := file.ReadAt(buf, st.Size()-1); err != nil {
		return false
	}
	return buf[0] != '\n'
}
