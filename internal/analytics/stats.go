// Package analytics provides download statistics and disk usage tracking.
package analytics

import (
	"log/slog"
	"sync"

	"project-downlink/internal/engine"
	"project-downlink/internal/registry"
	"project-downlink/internal/storage"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskUsageInfo holds disk space information
type DiskUsageInfo struct {
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
	TotalGB float64 `json:"total_gb"`
	Percent float64 `json:"percent"`
}

// AnalyticsData is the payload of the stats endpoint
type AnalyticsData struct {
	TotalDownloaded int64            `json:"total_downloaded"`
	TotalFiles      int64            `json:"total_files"`
	DailyHistory    map[string]int64 `json:"daily_history"`
	DiskUsage       DiskUsageInfo    `json:"disk_usage"`
	CurrentSpeed    float64          `json:"current_speed"`
	Active          int              `json:"active"`
}

// StatsManager records finished downloads and tracks live speed. It is an
// engine.Observer.
type StatsManager struct {
	engine.BaseObserver

	storage      *storage.Storage
	logger       *slog.Logger
	downloadPath string
	usage        func(path string) (*disk.UsageStat, error)

	mu     sync.Mutex
	speeds map[string]float64 // bytes/sec per active download
}

var _ engine.Observer = (*StatsManager)(nil)

// NewStatsManager creates a stats manager with storage backend
func NewStatsManager(s *storage.Storage, downloadPath string, logger *slog.Logger) *StatsManager {
	return &StatsManager{
		storage:      s,
		logger:       logger,
		downloadPath: downloadPath,
		usage:        disk.Usage,
		speeds:       make(map[string]float64),
	}
}

func (sm *StatsManager) OnProgressUpdated(m registry.Model) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.speeds[m.Name] = bytesPerSecond(m)
}

func (sm *StatsManager) OnInterruptedTasksPopulated(m registry.Model) {
	sm.forget(m.Name)
}

func (sm *StatsManager) OnPaused(m registry.Model) {
	sm.forget(m.Name)
}

func (sm *StatsManager) OnCancelled(m registry.Model) {
	sm.forget(m.Name)
}

func (sm *StatsManager) OnFailed(m registry.Model, err error) {
	sm.forget(m.Name)
}

// OnFinished counts the file and its bytes towards today's totals.
func (sm *StatsManager) OnFinished(m registry.Model) {
	sm.forget(m.Name)

	if err := sm.storage.IncrementDailyFiles(); err != nil {
		sm.logger.Warn("Failed to record finished file", "name", m.Name, "error", err)
	}
	if m.Written > 0 {
		if err := sm.storage.IncrementDailyBytes(m.Written); err != nil {
			sm.logger.Warn("Failed to record downloaded bytes", "name", m.Name, "error", err)
		}
	}
}

func (sm *StatsManager) forget(name string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.speeds, name)
}

// GetCurrentSpeed returns the summed speed of active downloads
func (sm *StatsManager) GetCurrentSpeed() (float64, int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var total float64
	for _, s := range sm.speeds {
		total += s
	}
	return total, len(sm.speeds)
}

// GetLifetimeStats returns total bytes downloaded using SQL SUM
func (sm *StatsManager) GetLifetimeStats() (int64, error) {
	return sm.storage.GetTotalLifetime()
}

// GetTotalFiles returns total files downloaded using SQL SUM
func (sm *StatsManager) GetTotalFiles() (int64, error) {
	return sm.storage.GetTotalFiles()
}

// GetDailyStats returns the last N days of stats from SQLite
func (sm *StatsManager) GetDailyStats(days int) (map[string]int64, error) {
	stats, err := sm.storage.GetDailyHistory(days)
	if err != nil {
		return make(map[string]int64), err
	}

	res := make(map[string]int64)
	for _, stat := range stats {
		res[stat.Date] = stat.Bytes
	}
	return res, nil
}

// GetDiskUsage returns disk space info for the download drive
func (sm *StatsManager) GetDiskUsage() DiskUsageInfo {
	if sm.downloadPath == "" {
		return DiskUsageInfo{}
	}

	usage, err := sm.usage(sm.downloadPath)
	if err != nil {
		return DiskUsageInfo{} // Return zeros on error
	}

	const bytesPerGB = 1024 * 1024 * 1024
	return DiskUsageInfo{
		UsedGB:  float64(usage.Used) / bytesPerGB,
		FreeGB:  float64(usage.Free) / bytesPerGB,
		TotalGB: float64(usage.Total) / bytesPerGB,
		Percent: usage.UsedPercent,
	}
}

// GetAnalytics returns comprehensive analytics data
func (sm *StatsManager) GetAnalytics() AnalyticsData {
	lifetime, _ := sm.GetLifetimeStats()
	totalFiles, _ := sm.GetTotalFiles()
	daily, _ := sm.GetDailyStats(7)
	speed, active := sm.GetCurrentSpeed()

	return AnalyticsData{
		TotalDownloaded: lifetime,
		TotalFiles:      totalFiles,
		DailyHistory:    daily,
		DiskUsage:       sm.GetDiskUsage(),
		CurrentSpeed:    speed,
		Active:          active,
	}
}

// bytesPerSecond undoes the unit formatting of the model's speed.
func bytesPerSecond(m registry.Model) float64 {
	multiplier := 1.0
	switch m.Speed.Unit {
	case "kB", "KiB":
		multiplier = 1 << 10
	case "MB", "MiB":
		multiplier = 1 << 20
	case "GB", "GiB":
		multiplier = 1 << 30
	case "TB", "TiB":
		multiplier = 1 << 40
	}
	return m.Speed.Value * multiplier
}
