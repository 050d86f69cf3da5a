package engine

import (
	"errors"
	"fmt"
	"strings"

	"project-downlink/internal/descriptor"
	"project-downlink/internal/registry"
	"project-downlink/internal/transport"
)

// AddTask starts a new download named name. An empty destination means the
// default download directory. A download already tracked under name is
// replaced.
func (m *Manager) AddTask(name, rawURL, destination string) error {
	if name == "" {
		return errors.New("download name is required")
	}
	for _, field := range []string{name, rawURL, destination} {
		if strings.Contains(field, descriptor.Separator) {
			return fmt.Errorf("%w: %q may not contain %q", descriptor.ErrMalformed, field, descriptor.Separator)
		}
	}

	task, err := m.session.DownloadTask(rawURL)
	if err != nil {
		return fmt.Errorf("failed to create download task: %w", err)
	}
	task.SetDescription(descriptor.Encode(descriptor.Descriptor{
		Name:        name,
		URL:         rawURL,
		Destination: destination,
	}))

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.registry.Get(name); ok {
		m.logger.Warn("Replacing tracked download", "name", name, "task", prev.TaskID())
	}

	model := registry.NewModel(name, rawURL, destination)
	model.Task = task
	model.StartTime = m.now()
	m.registry.Upsert(model)
	task.Resume()

	index := m.registry.Len() - 1
	snap := model.Snapshot()
	m.events.post(func() { m.observer.OnStarted(snap, index) })

	m.logger.Info("Download started", "name", name, "url", rawURL, "task", task.Identifier())
	return nil
}

// PauseTask suspends the transfer. Paused downloads are left alone.
func (m *Manager) PauseTask(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, ok := m.lookup(name)
	if !ok || model.State == registry.StatePaused {
		return
	}

	if model.Task != nil {
		model.Task.Suspend()
	}
	model.State = registry.StatePaused
	// time spent paused must not count against speed
	model.StartTime = m.now()

	snap := model.Snapshot()
	m.events.post(func() { m.observer.OnPaused(snap) })
	m.logger.Info("Download paused", "name", name)
}

// ResumeTask continues a paused download. The start time is kept.
func (m *Manager) ResumeTask(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, ok := m.lookup(name)
	if !ok || model.State == registry.StateDownloading {
		return
	}

	if !m.ensureLiveTask(model) {
		return
	}
	model.Task.Resume()
	model.State = registry.StateDownloading

	snap := model.Snapshot()
	m.events.post(func() { m.observer.OnResumed(snap) })
	m.logger.Info("Download resumed", "name", name)
}

// RetryTask starts the replacement task prepared when the download failed.
func (m *Manager) RetryTask(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, ok := m.lookup(name)
	if !ok || model.State == registry.StateDownloading {
		return
	}

	if !m.ensureLiveTask(model) {
		return
	}
	model.Task.Resume()
	model.State = registry.StateDownloading
	model.StartTime = m.now()

	index := m.indexOf(name)
	snap := model.Snapshot()
	m.events.post(func() { m.observer.OnRetried(snap, index) })
	m.logger.Info("Download retried", "name", name, "task", model.TaskID())
}

// ensureLiveTask replaces a handle the session has already finished with,
// which happens when no replacement could be built at failure time. On
// failure the model stays as it is and OnFailed is posted. Must hold mu.
func (m *Manager) ensureLiveTask(model *registry.Model) bool {
	if model.Task == nil {
		return false
	}
	if model.Task.State() != transport.StateCompleted {
		return true
	}

	replacement, err := m.prepareRetry(model.Task, nil, model.SourceURL)
	if err != nil {
		m.logger.Error("Failed to prepare retry task", "name", model.Name, "error", err)
		failure := fmt.Errorf("failed to prepare retry task: %w", err)
		snap := model.Snapshot()
		m.events.post(func() { m.observer.OnFailed(snap, failure) })
		return false
	}
	m.registry.Rebind(model.Name, replacement)
	return true
}

// CancelTask asks the session to cancel. The download is removed once the
// session confirms.
func (m *Manager) CancelTask(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, ok := m.lookup(name)
	if !ok || model.Task == nil {
		return
	}
	model.Task.Cancel()
	m.logger.Info("Download cancel requested", "name", name)
}

// RemoveTask stops tracking name without touching its transfer.
func (m *Manager) RemoveTask(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registry.Remove(name); ok {
		m.logger.Info("Download removed", "name", name)
	}
}

func (m *Manager) lookup(name string) (*registry.Model, bool) {
	model, ok := m.registry.Get(name)
	if !ok {
		m.logger.Debug("No download tracked under name", "name", name)
	}
	return model, ok
}
