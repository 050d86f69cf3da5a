package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a session task does not exist.
var ErrNotFound = errors.New("record not found")

// Storage handles all database operations using SQLite
type Storage struct {
	DB *gorm.DB
}

// NewStorage opens downlink.db inside dataDir, creating the directory if needed.
func NewStorage(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}
	return Open(filepath.Join(dataDir, "downlink.db"))
}

// Open initializes the SQLite database at path
func Open(path string) (*Storage, error) {
	// Pure Go driver, no CGO
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	err = db.AutoMigrate(
		&SessionTask{},
		&DailyStat{},
		&AppSetting{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{DB: db}, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Checkpoint forces a WAL checkpoint to ensure durability
func (s *Storage) Checkpoint() error {
	return s.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE);").Error
}

// ============= Session Tasks =============

// SaveSessionTask creates or updates a session task (upsert)
func (s *Storage) SaveSessionTask(task SessionTask) error {
	task.UpdatedAt = time.Now()
	return s.DB.Save(&task).Error
}

// GetSessionTask retrieves a specific task by ID
func (s *Storage) GetSessionTask(id string) (SessionTask, error) {
	var task SessionTask
	err := s.DB.First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return task, ErrNotFound
	}
	return task, err
}

// ListSessionTasks returns the tasks of a session in queue order
func (s *Storage) ListSessionTasks(sessionID string) ([]SessionTask, error) {
	var tasks []SessionTask
	err := s.DB.Where("session_id = ?", sessionID).
		Order("queue_order asc, created_at asc").
		Find(&tasks).Error
	return tasks, err
}

// NextQueueOrder returns the queue position for a newly created task
func (s *Storage) NextQueueOrder(sessionID string) (int, error) {
	var highest int
	err := s.DB.Model(&SessionTask{}).
		Where("session_id = ?", sessionID).
		Select("IFNULL(MAX(queue_order), 0)").
		Row().Scan(&highest)
	return highest + 1, err
}

// UpdateSessionTaskState updates just the state field
func (s *Storage) UpdateSessionTaskState(id, state string) error {
	return s.DB.Model(&SessionTask{}).Where("id = ?", id).Updates(map[string]interface{}{
		"state":      state,
		"updated_at": time.Now(),
	}).Error
}

// UpdateSessionTaskProgress records transferred bytes for a task
func (s *Storage) UpdateSessionTaskProgress(id string, received, expected int64) error {
	return s.DB.Model(&SessionTask{}).Where("id = ?", id).Updates(map[string]interface{}{
		"received":   received,
		"expected":   expected,
		"updated_at": time.Now(),
	}).Error
}

// DeleteSessionTask removes a task row
func (s *Storage) DeleteSessionTask(id string) error {
	return s.DB.Delete(&SessionTask{}, "id = ?", id).Error
}

// ============= Statistics (SQL Analytics) =============

// IncrementDailyBytes adds bytes to today's stats
func (s *Storage) IncrementDailyBytes(bytes int64) error {
	today := time.Now().Format("2006-01-02")
	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"bytes": gorm.Expr("bytes + ?", bytes),
		}),
	}).Create(&DailyStat{Date: today, Bytes: bytes}).Error
}

// IncrementDailyFiles adds a file count to today's stats
func (s *Storage) IncrementDailyFiles() error {
	today := time.Now().Format("2006-01-02")
	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"files": gorm.Expr("files + 1"),
		}),
	}).Create(&DailyStat{Date: today, Files: 1}).Error
}

// GetTotalLifetime returns total bytes downloaded all-time using SQL SUM
func (s *Storage) GetTotalLifetime() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("IFNULL(SUM(bytes), 0)").Row().Scan(&total)
	return total, err
}

// GetTotalFiles returns total files downloaded all-time using SQL SUM
func (s *Storage) GetTotalFiles() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("IFNULL(SUM(files), 0)").Row().Scan(&total)
	return total, err
}

// GetDailyHistory returns the last N days of stats
func (s *Storage) GetDailyHistory(days int) ([]DailyStat, error) {
	var stats []DailyStat
	err := s.DB.Order("date desc").Limit(days).Find(&stats).Error
	return stats, err
}

// ============= App Settings =============

// GetString retrieves a string setting by key
func (s *Storage) GetString(key string) (string, error) {
	var setting AppSetting
	err := s.DB.First(&setting, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return setting.Value, err
}

// SetString stores a string setting
func (s *Storage) SetString(key, value string) error {
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&AppSetting{Key: key, Value: value}).Error
}
