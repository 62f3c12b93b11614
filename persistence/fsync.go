package persistence

import (
	"os"
	"path/filepath"
)

// ensureParentDir creates the parent directory of path if needed.
func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}

// syncParentDir fsyncs the parent directory so renames and creates inside it
// are durable.
func syncParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
