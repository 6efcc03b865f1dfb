// Package fileutil provides the partial-file and tmp+mv helpers used to keep
// output files trustworthy: a file only carries its final name once it has
// been completely written and synced.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eunmann/primegen/pkg/logging"
)

// PartialSuffix marks a file that is still being written, or that belongs to
// a failed run.
const PartialSuffix = ".partial"

// PartialPath returns the in-progress name for path.
func PartialPath(path string) string {
	return path + PartialSuffix
}

// CreatePartial creates (or truncates) the in-progress file for path,
// creating parent directories as needed.
func CreatePartial(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(PartialPath(path))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", PartialPath(path), err)
	}
	return f, nil
}

// CommitPartial syncs and closes f, then renames the in-progress file to path.
func CommitPartial(f *os.File, path string) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.Name(), err)
	}
	if err := os.Rename(PartialPath(path), path); err != nil {
		return fmt.Errorf("rename partial to final: %w", err)
	}
	return nil
}

// WriteTmpThenMove writes to a temporary file then atomically moves it to the final path.
// The writeFunc receives the temporary path and should write the complete file.
// On success, the file is moved to outPath atomically.
func WriteTmpThenMove(tmpDir, outPath string, writeFunc func(tmpPath string) error) error {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return fmt.Errorf("create tmp dir: %w", err)
	}

	tmpPath := filepath.Join(tmpDir, filepath.Base(outPath)+".tmp")

	if err := writeFunc(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := syncFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp to final: %w", err)
	}

	return nil
}

// syncFile opens, syncs, and closes a file.
func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	err = f.Sync()
	f.Close()
	return err
}

// RemoveMatching deletes the regular files directly inside dir whose base
// name satisfies match. A missing dir is not an error.
func RemoveMatching(dir string, match func(name string) bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var removed int
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !match(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		logging.L().Debug().Int("files_removed", removed).Str("dir", dir).Msg("removed stale output files")
	}
	return removed, errors.Join(errs...)
}
