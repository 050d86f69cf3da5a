// Package httpsession is a transport.Session over net/http. Tasks and their
// progress are persisted in SQLite so transfers outlive the process.
package httpsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"project-downlink/internal/filesystem"
	"project-downlink/internal/queue"
	"project-downlink/internal/resume"
	"project-downlink/internal/storage"
	"project-downlink/internal/transport"

	"github.com/google/uuid"
)

const (
	// DefaultMaxConcurrent is the worker pool size when none is configured
	DefaultMaxConcurrent = 4
	// DefaultProgressInterval paces DidWriteData callbacks per task
	DefaultProgressInterval = 250 * time.Millisecond
	// BufferSize is the read buffer per transfer
	BufferSize = 32 * 1024

	GenericUserAgent = "Downlink/1.0"
)

// Settings is the persisted configuration the session consults on open.
type Settings interface {
	GetBackgroundUpdates() bool
	GetCleanShutdown(sessionID string) bool
	SetCleanShutdown(sessionID string, clean bool) error
}

// SpaceChecker verifies free disk space before a transfer.
type SpaceChecker interface {
	CheckSpace(dir string, required int64) error
}

// Options configure a Session. SessionID, TempDir, Storage and Settings are
// required.
type Options struct {
	SessionID        string
	TempDir          string
	Storage          *storage.Storage
	Settings         Settings
	Allocator        SpaceChecker
	Client           *http.Client
	Logger           *slog.Logger
	MaxConcurrent    int
	ProgressInterval time.Duration
	UserAgent        string
}

// Session runs transfers on a bounded worker pool.
type Session struct {
	opts   Options
	logger *slog.Logger
	store  *storage.Storage
	client *http.Client
	queue  *queue.Queue[string]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	tasks       map[string]*task
	delegate    transport.Delegate
	interrupted []interruption
	busy        int
	closed      bool
}

// interruption is a task that was running when the previous process ended
// and may not continue.
type interruption struct {
	task   *task
	reason transport.CancelReason
}

var _ transport.Session = (*Session)(nil)

// Open restores the session's persisted tasks. Workers start on Bind.
func Open(opts Options) (*Session, error) {
	if opts.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	if opts.Storage == nil || opts.Settings == nil {
		return nil, errors.New("storage and settings are required")
	}
	if opts.TempDir == "" {
		return nil, errors.New("temp dir is required")
	}
	if err := os.MkdirAll(opts.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.UserAgent == "" {
		opts.UserAgent = GenericUserAgent
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   opts.MaxConcurrent,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:   opts,
		logger: logger.With("session", opts.SessionID),
		store:  opts.Storage,
		client: opts.Client,
		queue:  queue.New[string](),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}

	if err := s.restore(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// restore loads persisted rows and decides what happens to tasks that were
// running when the last process exited.
func (s *Session) restore() error {
	rows, err := s.store.ListSessionTasks(s.opts.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session tasks: %w", err)
	}

	clean := s.opts.Settings.GetCleanShutdown(s.opts.SessionID)
	background := s.opts.Settings.GetBackgroundUpdates()
	if err := s.opts.Settings.SetCleanShutdown(s.opts.SessionID, false); err != nil {
		s.logger.Warn("Failed to clear shutdown marker", "error", err)
	}

	referenced := make(map[string]bool)
	for _, row := range rows {
		t := taskFromRow(s, row)
		switch row.State {
		case storage.TaskRunning:
			switch {
			case clean && background:
				s.tasks[t.id] = t
				s.queue.Push(t.id)
			default:
				reason := transport.ReasonUserForceQuit
				if !background {
					reason = transport.ReasonBackgroundUpdatesDisabled
				}
				t.state = transport.StateCompleted
				s.tasks[t.id] = t
				s.interrupted = append(s.interrupted, interruption{task: t, reason: reason})
			}
			referenced[t.tempFile] = true
		case storage.TaskSuspended:
			s.tasks[t.id] = t
			referenced[t.tempFile] = true
		default:
			// canceling or completed rows are leftovers of an interrupted cleanup
			os.Remove(t.tempFile)
			s.store.DeleteSessionTask(t.id)
		}
	}

	s.sweepTempDir(referenced)
	s.logger.Info("Session restored", "tasks", len(s.tasks), "interrupted", len(s.interrupted), "clean", clean)
	return nil
}

// sweepTempDir removes temp files no task refers to.
func (s *Session) sweepTempDir(referenced map[string]bool) {
	entries, err := os.ReadDir(s.opts.TempDir)
	if err != nil {
		s.logger.Warn("Failed to read temp dir", "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		path := filepath.Join(s.opts.TempDir, e.Name())
		if referenced[path] {
			continue
		}
		if err := os.Remove(path); err == nil {
			s.logger.Debug("Removed orphaned temp file", "path", path)
		}
	}
}

// Bind installs the delegate, starts the worker pool and reports interrupted
// tasks asynchronously.
func (s *Session) Bind(d transport.Delegate) {
	s.mu.Lock()
	if s.delegate != nil {
		s.mu.Unlock()
		s.logger.Warn("Session already bound")
		return
	}
	s.delegate = d
	interrupted := s.interrupted
	s.interrupted = nil
	s.mu.Unlock()

	for i := 0; i < s.opts.MaxConcurrent; i++ {
		s.spawn(s.worker)
	}

	if len(interrupted) == 0 {
		return
	}
	s.spawn(func() {
		for _, in := range interrupted {
			s.reportInterrupted(in)
		}
	})
}

// spawn runs fn on a tracked goroutine unless the session is closed.
func (s *Session) spawn(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Session) reportInterrupted(in interruption) {
	t := in.task
	data, err := t.resumeData()
	if err != nil {
		s.logger.Warn("Failed to encode resume data", "id", t.id, "error", err)
	}
	s.logger.Info("Reporting interrupted task", "id", t.id, "reason", in.reason.String())

	// the temp file now belongs to whoever holds the resume data; without
	// any the retry starts from the URL and the file is useless
	if data == nil {
		if err := os.Remove(t.tempFile); err != nil && !filesystem.IsNotExist(err) {
			s.logger.Warn("Failed to remove temp file", "path", t.tempFile, "error", err)
		}
	}
	s.deliver(func(d transport.Delegate) {
		d.DidComplete(t, &transport.Error{
			Code:       transport.CodeCancelled,
			Reason:     in.reason,
			ResumeData: data,
			Err:        errors.New("task interrupted by restart"),
		})
	})
	s.forget(t)
}

// GetTasks enumerates tasks in creation order on another goroutine.
func (s *Session) GetTasks(completion func([]transport.Task)) {
	s.mu.Lock()
	list := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		list = append(list, t)
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].order < list[j].order })
	out := make([]transport.Task, len(list))
	for i, t := range list {
		out[i] = t
	}

	go completion(out)
}

// DownloadTask creates a suspended task for rawURL.
func (s *Session) DownloadTask(rawURL string) (transport.Task, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	t := &task{
		s:        s,
		id:       id,
		url:      rawURL,
		state:    transport.StateSuspended,
		tempFile: filepath.Join(s.opts.TempDir, id+".tmp"),
		expected: -1,
	}
	if err := s.add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// DownloadTaskWithResumeData creates a suspended task that continues the
// transfer described by data, reusing its temp file.
func (s *Session) DownloadTaskWithResumeData(data []byte) (transport.Task, error) {
	d, err := resume.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := validateURL(d.URL); err != nil {
		return nil, err
	}
	path := d.Path(s.opts.TempDir)
	if path == "" {
		return nil, errors.New("resume data has no temp file")
	}

	received := d.Received
	info, err := os.Stat(path)
	switch {
	case err != nil:
		s.logger.Warn("Resume temp file missing, restarting", "path", path, "error", err)
		received = 0
	case info.Size() != received:
		// trust what actually reached the disk
		received = info.Size()
	}

	t := &task{
		s:            s,
		id:           uuid.New().String(),
		url:          d.URL,
		state:        transport.StateSuspended,
		tempFile:     path,
		received:     received,
		expected:     d.Expected,
		etag:         d.ETag,
		lastModified: d.LastModified,
		acceptRanges: received > 0,
	}
	if err := s.add(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Session) add(t *task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("session closed")
	}

	order, err := s.store.NextQueueOrder(s.opts.SessionID)
	if err != nil {
		return fmt.Errorf("failed to allocate queue order: %w", err)
	}
	t.order = order
	if err := s.store.SaveSessionTask(t.row()); err != nil {
		return fmt.Errorf("failed to persist task: %w", err)
	}
	s.tasks[t.id] = t
	return nil
}

func (s *Session) lookup(id string) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

// forget drops a finished task from memory and the store.
func (s *Session) forget(t *task) {
	s.mu.Lock()
	delete(s.tasks, t.id)
	s.mu.Unlock()

	if err := s.store.DeleteSessionTask(t.id); err != nil {
		s.logger.Warn("Failed to delete task row", "id", t.id, "error", err)
	}
}

// deliver runs fn with the bound delegate outside every session lock.
func (s *Session) deliver(fn func(d transport.Delegate)) {
	s.mu.Lock()
	d := s.delegate
	s.mu.Unlock()
	if d != nil {
		fn(d)
	}
}

// Close stops workers without reporting anything. Running tasks stay
// running in the store and continue on the next Open if allowed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		active = append(active, t)
	}
	s.mu.Unlock()

	for _, t := range active {
		t.stop(stopShutdown)
	}
	s.cancel()
	s.queue.Close()
	s.wg.Wait()

	if err := s.opts.Settings.SetCleanShutdown(s.opts.SessionID, true); err != nil {
		return fmt.Errorf("failed to record clean shutdown: %w", err)
	}
	if err := s.store.Checkpoint(); err != nil {
		s.logger.Warn("WAL checkpoint failed", "error", err)
	}
	s.logger.Info("Session closed")
	return nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}
