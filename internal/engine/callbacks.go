package engine

import (
	"errors"
	"fmt"
	"path/filepath"

	"project-downlink/internal/descriptor"
	"project-downlink/internal/progress"
	"project-downlink/internal/registry"
	"project-downlink/internal/transport"
)

// sessionDelegate keeps the transport callbacks off Manager's public API.
type sessionDelegate struct {
	m *Manager
}

func (d sessionDelegate) DidWriteData(task transport.Task, bytesWritten, totalWritten, totalExpected int64) {
	d.m.handleProgress(task, bytesWritten, totalWritten, totalExpected)
}

func (d sessionDelegate) DidFinishDownloading(task transport.Task, location string) {
	d.m.handleFinishDownloading(task, location)
}

func (d sessionDelegate) DidComplete(task transport.Task, err error) {
	d.m.handleComplete(task, err)
}

func (d sessionDelegate) DidFinishEvents() {
	d.m.handleFinishEvents()
}

func (m *Manager) handleProgress(task transport.Task, bytesWritten, totalWritten, totalExpected int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.abandoned {
		return
	}

	model, ok := m.registry.FindByHandle(task)
	if !ok {
		// retries swap handles, so late events from the old task land here
		m.logger.Debug("Dropping progress for untracked task", "task", task.Identifier())
		return
	}

	metrics := progress.Calculate(progress.Sample{
		BytesWritten:  bytesWritten,
		TotalWritten:  totalWritten,
		TotalExpected: totalExpected,
		StartTime:     model.StartTime,
		Now:           m.now(),
	})
	model.Apply(metrics, totalWritten, totalExpected)

	snap := model.Snapshot()
	m.events.post(func() { m.observer.OnProgressUpdated(snap) })
}

// handleFinishDownloading moves the payload into place before returning,
// since the session deletes location afterwards. State is not changed
// here; DidComplete follows.
func (m *Manager) handleFinishDownloading(task transport.Task, location string) {
	m.mu.Lock()
	if m.abandoned {
		m.mu.Unlock()
		return
	}
	model, ok := m.registry.FindByHandle(task)
	var snap registry.Model
	if ok {
		snap = model.Snapshot()
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("Finished payload for untracked task", "task", task.Identifier(), "location", location)
		return
	}

	base := snap.DestinationPath
	if base == "" {
		base = m.defaultDestination
	}

	if !m.fs.Exists(base) {
		if h, ok := m.observer.(DestinationMissingHandler); ok {
			m.logger.Warn("Destination missing, deferring to observer", "name", snap.Name, "destination", base)
			m.events.call(func() { h.OnDestinationMissing(snap, location) })
			return
		}
		err := fmt.Errorf("%w: %s", ErrDestinationMissing, base)
		m.logger.Error("Destination missing", "name", snap.Name, "destination", base)
		m.events.post(func() { m.observer.OnFailed(snap, err) })
		return
	}

	dest := filepath.Join(base, snap.Name)
	if err := m.fs.Move(location, dest); err != nil {
		moveErr := fmt.Errorf("%w: %w", ErrMoveFailed, err)
		m.logger.Error("Failed to move download", "name", snap.Name, "destination", dest, "error", err)
		m.events.post(func() { m.observer.OnFailed(snap, moveErr) })
		return
	}
	m.logger.Info("Download saved", "name", snap.Name, "path", dest)
}

func (m *Manager) handleComplete(task transport.Task, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.abandoned {
		m.logger.Debug("Completion after failed start ignored", "task", task.Identifier())
		return
	}

	if transport.IsInterrupted(err) {
		m.restoreInterrupted(task, err)
		return
	}

	model, ok := m.registry.FindByHandle(task)
	if !ok {
		m.logger.Debug("Completion for untracked task", "task", task.Identifier(), "error", err)
		return
	}

	switch {
	case err == nil:
		m.registry.Remove(model.Name)
		snap := model.Snapshot()
		m.events.post(func() { m.observer.OnFinished(snap) })
		m.logger.Info("Download finished", "name", model.Name)

	case transport.IsCancelled(err):
		m.registry.Remove(model.Name)
		snap := model.Snapshot()
		m.events.post(func() { m.observer.OnCancelled(snap) })
		m.logger.Info("Download cancelled", "name", model.Name)

	default:
		failure := failureOf(err)
		model.State = registry.StateFailed

		replacement, rerr := m.prepareRetry(task, transport.ResumeDataOf(err), model.SourceURL)
		if rerr != nil {
			m.logger.Error("Failed to prepare retry task", "name", model.Name, "error", rerr)
			failure = errors.Join(failure, fmt.Errorf("failed to prepare retry task: %w", rerr))
		} else {
			m.registry.Rebind(model.Name, replacement)
		}

		snap := model.Snapshot()
		m.events.post(func() { m.observer.OnFailed(snap, failure) })
		m.logger.Error("Download failed", "name", model.Name, "error", err)
	}
}

// restoreInterrupted rebuilds a Failed download for a task that did not
// survive a restart. Must hold mu.
func (m *Manager) restoreInterrupted(task transport.Task, err error) {
	d, derr := descriptor.Decode(task.Description())
	if derr != nil {
		m.logger.Debug("Skipping interrupted task without descriptor", "task", task.Identifier(), "error", derr)
		return
	}

	model := registry.NewModel(d.Name, d.URL, d.Destination)
	model.State = registry.StateFailed
	model.Task = task
	model.StartTime = m.now()

	replacement, rerr := m.prepareRetry(task, transport.ResumeDataOf(err), d.URL)
	if rerr != nil {
		m.logger.Error("Failed to prepare retry task", "name", d.Name, "error", rerr)
	} else {
		model.Task = replacement
	}
	m.registry.Upsert(model)

	snap := model.Snapshot()
	m.events.post(func() { m.observer.OnInterruptedTasksPopulated(snap) })
	m.logger.Info("Interrupted download restored", "name", d.Name, "reason", transport.CancelReasonOf(err).String())
}

// prepareRetry builds a suspended replacement for old, continuing from
// resumeData when it still points at a temp file, and carries the
// descriptor over.
func (m *Manager) prepareRetry(old transport.Task, resumeData []byte, rawURL string) (transport.Task, error) {
	var task transport.Task
	if m.validator.IsValid(resumeData) {
		t, err := m.session.DownloadTaskWithResumeData(resumeData)
		if err != nil {
			m.logger.Warn("Session rejected resume data, restarting", "task", old.Identifier(), "error", err)
		} else {
			task = t
		}
	}
	if task == nil {
		t, err := m.session.DownloadTask(rawURL)
		if err != nil {
			return nil, err
		}
		task = t
	}

	task.SetDescription(old.Description())
	return task, nil
}

func (m *Manager) handleFinishEvents() {
	m.mu.Lock()
	abandoned := m.abandoned
	m.mu.Unlock()
	if abandoned {
		return
	}
	m.drainOnce.Do(func() {
		if m.drain == nil {
			return
		}
		m.logger.Debug("Session events drained")
		m.events.post(m.drain)
	})
}
