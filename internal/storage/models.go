package storage

import (
	"time"
)

// Session task states as persisted. They mirror transport.TaskState names.
const (
	TaskRunning   = "running"
	TaskSuspended = "suspended"
	TaskCanceling = "canceling"
	TaskCompleted = "completed"
)

// SessionTask is one transfer owned by an HTTP session.
type SessionTask struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	SessionID    string    `gorm:"index" json:"session_id"`
	Description  string    `json:"description"`
	URL          string    `json:"url"`
	State        string    `gorm:"index" json:"state"`
	TempFile     string    `json:"temp_file"`
	Received     int64     `json:"received"`
	Expected     int64     `json:"expected"` // -1 when unknown
	ETag         string    `json:"etag"`
	LastModified string    `json:"last_modified"`
	QueueOrder   int       `gorm:"default:0" json:"queue_order"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for SessionTask
func (SessionTask) TableName() string {
	return "session_tasks"
}

// DailyStat tracks daily download statistics for analytics
type DailyStat struct {
	Date  string `gorm:"primaryKey" json:"date"` // Format: "YYYY-MM-DD"
	Bytes int64  `gorm:"default:0" json:"bytes"`
	Files int64  `gorm:"default:0" json:"files"`
}

// TableName specifies the table name for DailyStat
func (DailyStat) TableName() string {
	return "daily_stats"
}

// AppSetting stores key-value application settings
type AppSetting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// TableName specifies the table name for AppSetting
func (AppSetting) TableName() string {
	return "app_settings"
}
