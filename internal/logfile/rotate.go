// Package logfile provides the size-rotated file the commands log to.
package logfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Writer appends to a log file, rotating it once it would grow past a size
// limit. On rotation path becomes path.1, path.1 becomes path.2, and so on,
// keeping at most maxFiles backups.
//
// A Writer is safe for concurrent use.
type Writer struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxFiles int
	size     int64
	file     *os.File
}

var _ io.WriteCloser = (*Writer)(nil)

// Open opens path for appending, creating it and its parent directory as
// needed. maxSizeMB is raised to 1 and maxFiles to 0 when smaller; zero
// backups means the file is truncated on rotation.
func Open(path string, maxSizeMB, maxFiles int) (*Writer, error) {
	return open(path, int64(max(maxSizeMB, 1))<<20, max(maxFiles, 0))
}

func open(path string, maxBytes int64, maxFiles int) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("logfile: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("logfile: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("logfile: %w", err)
	}
	return &Writer{
		path:     path,
		maxBytes: maxBytes,
		maxFiles: maxFiles,
		size:     info.Size(),
		file:     f,
	}, nil
}

// Write rotates first if p would take the file past the limit, so a single
// write is never split across files. An oversized p still lands in a fresh
// file.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("logfile: rotate: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file. Further writes fail with os.ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate must be called with w.mu held.
func (w *Writer) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	// highest first, so nothing is overwritten
	backups := w.backups()
	slices.Reverse(backups)
	for _, n := range backups {
		if n >= w.maxFiles {
			_ = os.Remove(w.backupPath(n))
		} else {
			_ = os.Rename(w.backupPath(n), w.backupPath(n+1))
		}
	}
	if w.maxFiles > 0 {
		_ = os.Rename(w.path, w.backupPath(1))
	} else {
		_ = os.Remove(w.path)
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w.file = f
	w.size = 0
	return nil
}

func (w *Writer) backupPath(n int) string {
	return w.path + "." + strconv.Itoa(n)
}

// backups lists the existing backup numbers in ascending order.
func (w *Writer) backups() []int {
	entries, err := os.ReadDir(filepath.Dir(w.path))
	if err != nil {
		return nil
	}
	prefix := filepath.Base(w.path) + "."
	var nums []int
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n >= 1 {
			nums = append(nums, n)
		}
	}
	slices.Sort(nums)
	return nums
}
