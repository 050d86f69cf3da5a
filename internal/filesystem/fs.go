// Package filesystem provides the filesystem collaborator used when a
// finished payload is moved into place, plus disk space checks.
package filesystem

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// FS is the narrow filesystem surface the download manager depends on.
type FS interface {
	Exists(path string) bool
	Move(from, to string) error
}

// OS implements FS on the local filesystem.
type OS struct{}

// Exists reports whether path exists (file or directory).
func (OS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Move renames from to to, falling back to copy and delete when the two paths
// are on different volumes. An existing target is never overwritten.
func (OS) Move(from, to string) error {
	if _, err := os.Stat(to); err == nil {
		return &os.LinkError{Op: "move", Old: from, New: to, Err: os.ErrExist}
	}
	err := os.Rename(from, to)
	if errors.Is(err, syscall.EXDEV) {
		return copyAndRemove(from, to)
	}
	return err
}

func copyAndRemove(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(to)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(to)
		return err
	}
	return os.Remove(from)
}

// GetDefaultDownloadPath returns the user's Downloads directory
func GetDefaultDownloadPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, "Downloads"), nil
}

// IsNotExist reports whether err means a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
