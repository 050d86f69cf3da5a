package httpsession

import (
	"context"
	"path/filepath"
	"sync"

	"project-downlink/internal/resume"
	"project-downlink/internal/storage"
	"project-downlink/internal/transport"
)

// stopMode records why a running transfer was interrupted.
type stopMode int

const (
	stopNone stopMode = iota
	stopSuspend
	stopRestart
	stopCancel
	stopShutdown
)

// task is a single persisted transfer. Control methods never block on a
// running transfer; the worker observes the stop request and finishes up.
type task struct {
	s  *Session
	id string

	mu           sync.Mutex
	url          string
	description  string
	state        transport.TaskState
	tempFile     string
	received     int64
	expected     int64
	etag         string
	lastModified string
	order        int
	acceptRanges bool

	cancelRun context.CancelFunc
	stopping  stopMode
}

var _ transport.Task = (*task)(nil)

func taskFromRow(s *Session, row storage.SessionTask) *task {
	t := &task{
		s:            s,
		id:           row.ID,
		url:          row.URL,
		description:  row.Description,
		tempFile:     row.TempFile,
		received:     row.Received,
		expected:     row.Expected,
		etag:         row.ETag,
		lastModified: row.LastModified,
		order:        row.QueueOrder,
		acceptRanges: row.Received > 0,
	}
	switch row.State {
	case storage.TaskRunning:
		t.state = transport.StateRunning
	case storage.TaskSuspended:
		t.state = transport.StateSuspended
	case storage.TaskCanceling:
		t.state = transport.StateCanceling
	default:
		t.state = transport.StateCompleted
	}
	return t
}

// row must be called with t.mu held or before t is shared.
func (t *task) row() storage.SessionTask {
	return storage.SessionTask{
		ID:           t.id,
		SessionID:    t.s.opts.SessionID,
		Description:  t.description,
		URL:          t.url,
		State:        t.state.String(),
		TempFile:     t.tempFile,
		Received:     t.received,
		Expected:     t.expected,
		ETag:         t.etag,
		LastModified: t.lastModified,
		QueueOrder:   t.order,
	}
}

func (t *task) persist() {
	t.mu.Lock()
	row := t.row()
	t.mu.Unlock()
	if err := t.s.store.SaveSessionTask(row); err != nil {
		t.s.logger.Warn("Failed to persist task", "id", t.id, "error", err)
	}
}

func (t *task) Identifier() string {
	return t.id
}

func (t *task) State() transport.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *task) OriginalURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

func (t *task) Description() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.description
}

func (t *task) SetDescription(desc string) {
	t.mu.Lock()
	t.description = desc
	t.mu.Unlock()
	t.persist()
}

// Resume queues a suspended task. A suspend that the worker has not settled
// yet is turned into a restart.
func (t *task) Resume() {
	t.mu.Lock()
	if t.state == transport.StateRunning && t.stopping == stopSuspend {
		t.stopping = stopRestart
		t.mu.Unlock()
		return
	}
	if t.state != transport.StateSuspended {
		t.mu.Unlock()
		return
	}
	t.state = transport.StateRunning
	t.mu.Unlock()

	t.persist()
	if !t.s.queue.Push(t.id) {
		t.s.logger.Warn("Resume after close ignored", "id", t.id)
	}
}

// Suspend stops a running or queued task, keeping its temp file.
func (t *task) Suspend() {
	t.mu.Lock()
	if t.state != transport.StateRunning {
		t.mu.Unlock()
		return
	}
	if t.cancelRun != nil {
		t.stopping = stopSuspend
		t.cancelRun()
		t.mu.Unlock()
		return
	}
	t.state = transport.StateSuspended
	t.mu.Unlock()

	t.s.queue.Remove(func(id string) bool { return id == t.id })
	t.persist()
}

// Cancel ends the task. DidComplete reports a cancellation error.
func (t *task) Cancel() {
	t.mu.Lock()
	if t.state == transport.StateCanceling || t.state == transport.StateCompleted {
		t.mu.Unlock()
		return
	}
	t.state = transport.StateCanceling
	if t.cancelRun != nil {
		t.stopping = stopCancel
		t.cancelRun()
		t.mu.Unlock()
		t.persist()
		return
	}
	t.mu.Unlock()

	t.s.queue.Remove(func(id string) bool { return id == t.id })
	t.persist()

	// reported off the caller's goroutine, which may hold its own locks
	t.s.spawn(func() { t.s.finishCancel(t) })
}

// stop interrupts an active transfer, if any.
func (t *task) stop(mode stopMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelRun != nil {
		t.stopping = mode
		t.cancelRun()
	}
}

// resumeData describes the partial transfer, or nil if nothing was received.
func (t *task) resumeData() ([]byte, error) {
	t.mu.Lock()
	d := &resume.Data{
		URL:          t.url,
		TempFileName: filepath.Base(t.tempFile),
		Received:     t.received,
		Expected:     t.expected,
		ETag:         t.etag,
		LastModified: t.lastModified,
	}
	// temp files outside the session dir keep their absolute path
	if filepath.Dir(t.tempFile) != filepath.Clean(t.s.opts.TempDir) {
		d.LocalPath = t.tempFile
	}
	received := t.received
	t.mu.Unlock()

	if received <= 0 {
		return nil, nil
	}
	return d.Marshal()
}
