// Package notify posts user-facing notifications when the application is not
// in the foreground.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Notifier is fire-and-forget.
type Notifier interface {
	PostIfBackgrounded(title, body string)
}

// Notification is a posted notification.
type Notification struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Posted time.Time `json:"posted"`
	Badge  int       `json:"badge"`
}

// LogNotifier records notifications and writes them to the log while the
// application is backgrounded.
type LogNotifier struct {
	logger     *slog.Logger
	background atomic.Bool

	mu     sync.Mutex
	badge  int
	recent []Notification
}

const maxRecent = 50

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SetBackground records whether the application is in the background.
// Returning to the foreground clears the badge.
func (n *LogNotifier) SetBackground(background bool) {
	n.background.Store(background)
	if !background {
		n.mu.Lock()
		n.badge = 0
		n.mu.Unlock()
	}
}

func (n *LogNotifier) PostIfBackgrounded(title, body string) {
	if !n.background.Load() {
		return
	}

	n.mu.Lock()
	n.badge++
	entry := Notification{Title: title, Body: body, Posted: time.Now(), Badge: n.badge}
	n.recent = append(n.recent, entry)
	if len(n.recent) > maxRecent {
		n.recent = n.recent[len(n.recent)-maxRecent:]
	}
	n.mu.Unlock()

	n.logger.Info("Notification", "title", title, "body", body, "badge", entry.Badge)
}

// Recent returns posted notifications, oldest first.
func (n *LogNotifier) Recent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.recent...)
}
