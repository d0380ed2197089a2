package fileutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

const defaultBufferSize = 1 << 20

// syncFile flushes written data to stable storage before a rename commits it.
var syncFile = func(f *os.File) error { return f.Sync() }

// syncDir persists a rename in dir. Filesystems that cannot fsync a
// directory report EINVAL, which is ignored.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := syncFile(d); err != nil && !errors.Is(err, syscall.EINVAL) {
		return err
	}
	return nil
}

// CopyOptions tunes CopyFile.
type CopyOptions struct {
	// BufferSize is the chunk size between cancellation checks.
	BufferSize int
	// Progress receives the byte count of every chunk written.
	Progress func(n int64)
}

// CopyFile streams src to dst through a temporary sibling and renames it into
// place once the full source size has been written and flushed to disk. The context is checked
// between chunks; on cancellation or error the partial file is removed.
func CopyFile(ctx context.Context, src, dst string, opts CopyOptions) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create destination directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".part-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	buf := make([]byte, size)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := in.Read(buf)
		if n > 0 {
			w, writeErr := tmp.Write(buf[:n])
			written += int64(w)
			if writeErr != nil {
				return written, writeErr
			}
			if opts.Progress != nil {
				opts.Progress(int64(w))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, readErr
		}
	}

	if written != info.Size() {
		return written, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
	}
	if err := syncFile(tmp); err != nil {
		return written, fmt.Errorf("sync destination: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return written, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return written, err
	}
	committed = true
	if err := syncDir(filepath.Dir(dst)); err != nil {
		return written, fmt.Errorf("sync destination directory: %w", err)
	}
	return written, nil
}

// WriteFileAtomic writes data to a temporary sibling and renames it over path.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := syncFile(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return syncDir(filepath.Dir(path))
}
