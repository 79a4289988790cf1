// Package fsutil holds small filesystem helpers shared by the list repositories.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DirPerm is used when creating parent directories for persisted lists.
	DirPerm = 0o755
	// FilePerm is the mode of persisted list and rule files.
	FilePerm = 0o644
)

// Seams for tests.
var (
	createTemp = os.CreateTemp
	rename     = os.Rename
)

// WriteFileAtomic replaces path with data so that concurrent readers observe
// either the previous file or the complete new one, never a partial write.
//
// The data is written to a temporary file in the same directory, synced,
// and renamed over path. On any failure the temporary file is removed and
// the previous file at path is left untouched.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := createTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, FilePerm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry so the rename survives a crash.
// Best effort: some platforms do not allow fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
