package analytics

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"project-downlink/internal/progress"
	"project-downlink/internal/registry"
	"project-downlink/internal/storage"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStats(t *testing.T) *StatsManager {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewStatsManager(s, t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFinishedDownloadsAreCounted(t *testing.T) {
	sm := newTestStats(t)

	sm.OnFinished(registry.Model{Name: "a.zip", Written: 1024})
	sm.OnFinished(registry.Model{Name: "b.zip", Written: 2048})
	sm.OnCancelled(registry.Model{Name: "c.zip", Written: 4096})

	total, err := sm.GetLifetimeStats()
	require.NoError(t, err)
	assert.Equal(t, int64(3072), total)

	files, err := sm.GetTotalFiles()
	require.NoError(t, err)
	assert.Equal(t, int64(2), files)

	daily, err := sm.GetDailyStats(7)
	require.NoError(t, err)
	assert.Len(t, daily, 1)
}

func TestCurrentSpeed(t *testing.T) {
	sm := newTestStats(t)

	sm.OnProgressUpdated(registry.Model{Name: "a.zip", Speed: progress.Size{Value: 2, Unit: "KiB"}})
	sm.OnProgressUpdated(registry.Model{Name: "b.zip", Speed: progress.Size{Value: 512, Unit: "B"}})

	speed, active := sm.GetCurrentSpeed()
	assert.Equal(t, 2560.0, speed)
	assert.Equal(t, 2, active)

	sm.OnPaused(registry.Model{Name: "a.zip"})
	speed, active = sm.GetCurrentSpeed()
	assert.Equal(t, 512.0, speed)
	assert.Equal(t, 1, active)
}

func TestDiskUsage(t *testing.T) {
	sm := newTestStats(t)
	sm.usage = func(path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Total: 4 << 30, Used: 1 << 30, Free: 3 << 30, UsedPercent: 25}, nil
	}

	usage := sm.GetDiskUsage()
	assert.Equal(t, 4.0, usage.TotalGB)
	assert.Equal(t, 1.0, usage.UsedGB)
	assert.Equal(t, 25.0, usage.Percent)

	sm.usage = func(string) (*disk.UsageStat, error) { return nil, errors.New("no disk") }
	assert.Equal(t, DiskUsageInfo{}, sm.GetDiskUsage())
}

func TestGetAnalytics(t *testing.T) {
	sm := newTestStats(t)
	sm.OnFinished(registry.Model{Name: "a.zip", Written: 10})

	data := sm.GetAnalytics()
	assert.Equal(t, int64(10), data.TotalDownloaded)
	assert.Equal(t, int64(1), data.TotalFiles)
	assert.GreaterOrEqual(t, data.DiskUsage.Percent, 0.0)
	assert.LessOrEqual(t, data.DiskUsage.Percent, 100.0)
}
