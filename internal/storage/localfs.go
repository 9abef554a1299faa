// Package storage provides the file and key-value backends behind the
// recording catalog.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/audiolibrelab/pocketrec/internal/catalog"
)

var _ catalog.FileService = LocalFiles{}

// LocalFiles is a catalog.FileService on the local filesystem.
type LocalFiles struct{}

func (LocalFiles) EnsureDir(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// Move renames from to to, copying across filesystems when rename cannot.
func (LocalFiles) Move(ctx context.Context, from, to string) error {
	err := os.Rename(from, to)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("failed to move %s to %s: %w", from, to, err)
	}

	slog.Debug("Rename crosses filesystems, copying", "from", from, "to", to)
	if err := copyFile(from, to); err != nil {
		_ = os.Remove(to)
		return fmt.Errorf("failed to copy %s to %s: %w", from, to, err)
	}
	if err := os.Remove(from); err != nil {
		slog.Warn("Failed to remove source after copy", "file", from, "error", err)
	}
	return nil
}

// Delete removes path; a missing file is not an error.
func (LocalFiles) Delete(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}
	dst, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
