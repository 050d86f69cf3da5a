// Package engine is the download lifecycle manager. It tracks one logical
// download per name, drives the transport session, and turns session
// callbacks into state transitions and observer notifications.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"project-downlink/internal/descriptor"
	"project-downlink/internal/filesystem"
	"project-downlink/internal/notify"
	"project-downlink/internal/registry"
	"project-downlink/internal/resume"
	"project-downlink/internal/transport"
)

// Manager owns the registry of tracked downloads.
type Manager struct {
	logger             *slog.Logger
	session            transport.Session
	observer           Observer
	fs                 filesystem.FS
	validator          *resume.Validator
	notifier           notify.Notifier
	defaultDestination string
	tempDir            string
	now                func() time.Time
	ctx                context.Context

	// mu serializes registry mutation and the notifications it produces
	mu       sync.Mutex
	registry *registry.Registry
	events   *dispatcher
	// abandoned is set when New fails after binding; the session cannot be
	// unbound, so its callbacks are ignored from then on
	abandoned bool

	drain     func()
	drainOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithDefaultDestination sets the directory used when a download has none.
func WithDefaultDestination(dir string) Option {
	return func(m *Manager) { m.defaultDestination = dir }
}

func WithFS(fs filesystem.FS) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithTempDir is where the session keeps partial payloads. Resume data that
// only names a file is resolved against it.
func WithTempDir(dir string) Option {
	return func(m *Manager) { m.tempDir = dir }
}

func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithDrainHandler registers fn to run once, on the notification goroutine,
// when the session reports that all queued events were delivered.
func WithDrainHandler(fn func()) Option {
	return func(m *Manager) { m.drain = fn }
}

// WithContext bounds the startup wait for the session's task list.
func WithContext(ctx context.Context) Option {
	return func(m *Manager) { m.ctx = ctx }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New binds to session and rebuilds the registry from the session's tasks.
// It blocks until the session has enumerated them.
func New(session transport.Session, observer Observer, opts ...Option) (*Manager, error) {
	if session == nil {
		return nil, errors.New("session is required")
	}
	if observer == nil {
		return nil, errors.New("observer is required")
	}

	m := &Manager{
		session:  session,
		observer: observer,
		fs:       filesystem.OS{},
		now:      time.Now,
		ctx:      context.Background(),
		tempDir:  os.TempDir(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.defaultDestination == "" {
		if dir, err := filesystem.GetDefaultDownloadPath(); err == nil {
			m.defaultDestination = dir
		}
	}
	m.validator = &resume.Validator{TempDir: m.tempDir, FS: m.fs, Logger: m.logger}
	m.events = newDispatcher(m.logger)

	// callbacks wait on mu until the registry is rebuilt
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry = registry.New()

	session.Bind(sessionDelegate{m})

	tasks, err := m.enumerate()
	if err != nil {
		m.abandoned = true
		m.events.close()
		return nil, err
	}
	m.registry = InitFromTransport(tasks, m.now(), m.logger)
	m.logger.Info("Download manager ready", "tracked", m.registry.Len(), "session_tasks", len(tasks))
	return m, nil
}

func (m *Manager) enumerate() ([]transport.Task, error) {
	done := make(chan []transport.Task, 1)
	m.session.GetTasks(func(tasks []transport.Task) {
		done <- tasks
	})

	select {
	case tasks := <-done:
		return tasks, nil
	case <-m.ctx.Done():
		return nil, fmt.Errorf("failed to enumerate session tasks: %w", m.ctx.Err())
	}
}

// InitFromTransport rebuilds a registry from the session's task list.
// Running tasks become Downloading, suspended ones Paused. Anything else is
// logged and left untracked, as are tasks whose descriptor does not decode.
func InitFromTransport(tasks []transport.Task, now time.Time, logger *slog.Logger) *registry.Registry {
	reg := registry.New()
	for _, task := range tasks {
		d, err := descriptor.Decode(task.Description())
		if err != nil {
			logger.Debug("Skipping session task without descriptor", "task", task.Identifier(), "error", err)
			continue
		}

		model := registry.NewModel(d.Name, d.URL, d.Destination)
		model.Task = task
		model.StartTime = now

		switch task.State() {
		case transport.StateRunning:
			model.State = registry.StateDownloading
		case transport.StateSuspended:
			model.State = registry.StatePaused
		default:
			model.State = registry.StateFailed
			logger.Info("Session task not resumable", "name", d.Name, "task", task.Identifier(), "state", task.State().String())
			continue
		}
		reg.Upsert(model)
	}
	return reg
}

// Get returns a snapshot of the download tracked under name.
func (m *Manager) Get(name string) (registry.Model, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, ok := m.registry.Get(name)
	if !ok {
		return registry.Model{}, false
	}
	return model.Snapshot(), true
}

// List returns snapshots of every tracked download ordered by name.
func (m *Manager) List() []registry.Model {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.registry.All()
	out := make([]registry.Model, len(all))
	for i, model := range all {
		out[i] = model.Snapshot()
	}
	return out
}

// PresentNotification shows a user notification if the app is in the
// background.
func (m *Manager) PresentNotification(title, body string) {
	if m.notifier != nil {
		m.notifier.PostIfBackgrounded(title, body)
	}
}

// Close delivers pending notifications and stops the notification
// goroutine. The session is left to its owner.
func (m *Manager) Close() {
	m.events.close()
}

// indexOf is the position of name in List order. Must hold mu.
func (m *Manager) indexOf(name string) int {
	for i, model := range m.registry.All() {
		if model.Name == name {
			return i
		}
	}
	return -1
}
