// Package transporttest provides an in-memory transport.Session for tests.
package transporttest

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	"project-downlink/internal/transport"
)

// Task is a scripted transport.Task.
type Task struct {
	mu          sync.Mutex
	id          string
	url         string
	description string
	state       transport.TaskState

	// ResumeData is set when the task was built from resume data.
	ResumeData []byte

	Resumes  int
	Suspends int
	Cancels  int
}

// NewTask returns a task in the given state.
func NewTask(id, rawURL, description string, state transport.TaskState) *Task {
	return &Task{id: id, url: rawURL, description: description, state: state}
}

func (t *Task) Identifier() string  { return t.id }
func (t *Task) OriginalURL() string { return t.url }

func (t *Task) State() transport.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) SetState(s transport.TaskState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *Task) Description() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.description
}

func (t *Task) SetDescription(desc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.description = desc
}

func (t *Task) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Resumes++
	t.state = transport.StateRunning
}

func (t *Task) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Suspends++
	t.state = transport.StateSuspended
}

func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Cancels++
	t.state = transport.StateCanceling
}

// Counts returns resume, suspend and cancel call counts.
func (t *Task) Counts() (resumes, suspends, cancels int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Resumes, t.Suspends, t.Cancels
}

// Session is an in-memory transport.Session.
type Session struct {
	mu       sync.Mutex
	delegate transport.Delegate
	existing []transport.Task
	created  []*Task
	next     int

	// FailCreate makes task creation fail.
	FailCreate error
}

// NewSession returns a session that enumerates existing on GetTasks.
func NewSession(existing ...transport.Task) *Session {
	return &Session{existing: existing}
}

func (s *Session) Bind(d transport.Delegate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = d
}

// GetTasks answers on a separate goroutine like a real session.
func (s *Session) GetTasks(completion func([]transport.Task)) {
	s.mu.Lock()
	tasks := append([]transport.Task(nil), s.existing...)
	s.mu.Unlock()

	go completion(tasks)
}

func (s *Session) DownloadTask(rawURL string) (transport.Task, error) {
	if s.FailCreate != nil {
		return nil, s.FailCreate
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return nil, errors.New("invalid url: " + rawURL)
	}
	return s.newTask(rawURL, nil), nil
}

func (s *Session) DownloadTaskWithResumeData(data []byte) (transport.Task, error) {
	if s.FailCreate != nil {
		return nil, s.FailCreate
	}
	if len(data) == 0 {
		return nil, errors.New("empty resume data")
	}
	return s.newTask("", data), nil
}

func (s *Session) newTask(rawURL string, data []byte) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	t := NewTask(fmt.Sprintf("task-%d", s.next), rawURL, "", transport.StateSuspended)
	t.ResumeData = data
	s.created = append(s.created, t)
	return t
}

// Created returns the tasks created through the session, oldest first.
func (s *Session) Created() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Task(nil), s.created...)
}

// Last returns the most recently created task.
func (s *Session) Last() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.created) == 0 {
		return nil
	}
	return s.created[len(s.created)-1]
}

// Delegate returns the bound delegate.
func (s *Session) Delegate() transport.Delegate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate
}

func (s *Session) WriteData(t transport.Task, written, total, expected int64) {
	s.Delegate().DidWriteData(t, written, total, expected)
}

func (s *Session) FinishDownloading(t transport.Task, location string) {
	s.Delegate().DidFinishDownloading(t, location)
}

func (s *Session) Complete(t transport.Task, err error) {
	s.Delegate().DidComplete(t, err)
}

func (s *Session) FinishEvents() {
	s.Delegate().DidFinishEvents()
}
