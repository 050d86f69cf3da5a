package filesystem

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrInsufficientSpace wraps a failed free space check.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// reserve keeps some headroom for the rest of the system
const reserve = 100 * 1024 * 1024

// Allocator checks free space before a transfer writes to disk
type Allocator struct {
	usage func(path string) (*disk.UsageStat, error)
}

func NewAllocator() *Allocator {
	return &Allocator{usage: disk.Usage}
}

// CheckSpace verifies that dir's volume can hold required more bytes.
func (a *Allocator) CheckSpace(dir string, required int64) error {
	if required <= 0 {
		return nil
	}

	usage, err := a.usage(dir)
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}

	if int64(usage.Free) < required+reserve {
		return fmt.Errorf("%w: required %d bytes, available %d bytes", ErrInsufficientSpace, required, usage.Free)
	}
	return nil
}
