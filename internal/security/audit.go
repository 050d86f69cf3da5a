package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type AccessLogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SourceIP  string    `json:"source_ip"`
	UserAgent string    `json:"user_agent"`
	Action    string    `json:"action"` // e.g., "POST /v1/downloads"
	Status    int       `json:"status"` // 200, 401, 403
	Details   string    `json:"details"`
}

type AuditLogger struct {
	logFile *os.File
	mu      sync.Mutex
	logPath string
	logger  *slog.Logger
	sink    func(AccessLogEntry)
}

// NewAuditLogger appends JSON lines to access.log under logDir.
func NewAuditLogger(logDir string, logger *slog.Logger) (*AuditLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log dir: %w", err)
	}

	path := filepath.Join(logDir, "access.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &AuditLogger{
		logFile: f,
		logPath: path,
		logger:  logger,
	}, nil
}

// SetSink registers a function that receives every entry after it is written.
func (a *AuditLogger) SetSink(sink func(AccessLogEntry)) {
	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()
}

func (a *AuditLogger) Log(sourceIP, userAgent, action string, status int, details string) {
	entry := AccessLogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		SourceIP:  sourceIP,
		UserAgent: userAgent,
		Action:    action,
		Status:    status,
		Details:   details,
	}

	a.mu.Lock()
	if a.logFile != nil {
		jsonBytes, _ := json.Marshal(entry)
		if _, err := a.logFile.Write(append(jsonBytes, '\n')); err != nil {
			a.logger.Warn("Failed to write audit entry", "error", err)
		}
	}
	sink := a.sink
	a.mu.Unlock()

	if sink != nil {
		sink(entry)
	}

	level := slog.LevelInfo
	if status >= 400 {
		level = slog.LevelWarn
	}
	a.logger.Log(context.Background(), level, "Audit", "action", action, "status", status, "ip", sourceIP)
}

func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logFile == nil {
		return nil
	}
	err := a.logFile.Close()
	a.logFile = nil
	return err
}

// GetRecentLogs returns up to limit entries, newest first.
func (a *AuditLogger) GetRecentLogs(limit int) []AccessLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	content, err := os.ReadFile(a.logPath)
	if err != nil {
		return []AccessLogEntry{}
	}

	lines := strings.Split(string(content), "\n")
	entries := []AccessLogEntry{}

	for i := len(lines) - 1; i >= 0 && len(entries) < limit; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var entry AccessLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries
}
