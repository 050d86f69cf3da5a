package httpsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"project-downlink/internal/filesystem"
	"project-downlink/internal/transport"

	"golang.org/x/time/rate"
)

// worker consumes task ids until the queue is closed
func (s *Session) worker() {
	for {
		id, ok := s.queue.Pop()
		if !ok {
			return
		}
		s.setBusy(1)
		if t := s.lookup(id); t != nil {
			s.run(t)
		}
		if s.setBusy(-1) == 0 && s.queue.Len() == 0 && s.ctx.Err() == nil {
			s.deliver(func(d transport.Delegate) { d.DidFinishEvents() })
		}
	}
}

func (s *Session) setBusy(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy += delta
	return s.busy
}

// run executes one transfer attempt and settles its outcome.
func (s *Session) run(t *task) {
	if s.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	t.mu.Lock()
	if t.state != transport.StateRunning {
		t.mu.Unlock()
		return
	}
	t.cancelRun = cancel
	t.stopping = stopNone
	t.mu.Unlock()

	s.logger.Info("Transfer started", "id", t.id)
	err := s.transfer(ctx, t)

	// the suspend is settled under the same lock Resume checks, so a resume
	// racing the stop either restarts the transfer or sees Suspended
	t.mu.Lock()
	t.cancelRun = nil
	mode := t.stopping
	t.stopping = stopNone
	if err == nil && (mode == stopSuspend || mode == stopRestart) {
		// finished before the stop landed
		mode = stopNone
	}
	if mode == stopSuspend {
		t.state = transport.StateSuspended
	}
	t.mu.Unlock()

	if (mode == stopNone || mode == stopRestart) && s.ctx.Err() != nil {
		mode = stopShutdown
	}

	switch {
	case mode == stopShutdown:
		t.persist()
		s.logger.Info("Transfer paused for shutdown", "id", t.id)
	case mode == stopCancel:
		s.finishCancel(t)
	case mode == stopSuspend:
		t.persist()
		s.logger.Info("Transfer suspended", "id", t.id)
	case mode == stopRestart:
		t.persist()
		s.logger.Info("Transfer resumed before suspend settled", "id", t.id)
		if !s.queue.Push(t.id) {
			s.logger.Warn("Resume after close ignored", "id", t.id)
		}
	case err != nil:
		s.fail(t, err)
	default:
		s.complete(t)
	}
}

// transfer streams the body into the task's temp file, continuing from the
// bytes already on disk when the server honours ranges.
func (s *Session) transfer(ctx context.Context, t *task) error {
	t.mu.Lock()
	urlStr := t.url
	path := t.tempFile
	offset := t.received
	etag := t.etag
	lastModified := t.lastModified
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return &transport.Error{Code: transport.CodeNetwork, Err: err}
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "*/*")
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		switch {
		case etag != "":
			req.Header.Set("If-Range", etag)
		case lastModified != "":
			req.Header.Set("If-Range", lastModified)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &transport.Error{Code: transport.CodeNetwork, Err: friendlyError(err)}
	}
	defer resp.Body.Close()

	expected := resp.ContentLength
	acceptRanges := resp.Header.Get("Accept-Ranges") == "bytes"

	switch resp.StatusCode {
	case http.StatusOK:
		if offset > 0 {
			s.logger.Info("Server ignored range, restarting transfer", "id", t.id)
			offset = 0
		}
	case http.StatusPartialContent:
		acceptRanges = true
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			expected = total
		} else if expected >= 0 {
			expected += offset
		}
	default:
		return &transport.Error{
			Code:   transport.CodeHTTPStatus,
			Status: resp.StatusCode,
			Err:    friendlyHTTPError(resp.StatusCode),
		}
	}

	t.mu.Lock()
	t.received = offset
	t.expected = expected
	t.acceptRanges = acceptRanges
	t.etag = resp.Header.Get("ETag")
	t.lastModified = resp.Header.Get("Last-Modified")
	t.mu.Unlock()
	t.persist()

	if expected > 0 && s.opts.Allocator != nil {
		if err := s.opts.Allocator.CheckSpace(s.opts.TempDir, expected-offset); err != nil {
			code := transport.CodeFileSystem
			if errors.Is(err, filesystem.ErrInsufficientSpace) {
				code = transport.CodeInsufficientSpace
			}
			return &transport.Error{Code: code, Err: err}
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return &transport.Error{Code: transport.CodeFileSystem, Err: err}
	}
	defer file.Close()

	pace := &rate.Sometimes{First: 1, Interval: s.opts.ProgressInterval}
	var pending int64
	report := func() {
		t.mu.Lock()
		written, total, exp := pending, t.received, t.expected
		t.mu.Unlock()
		pending = 0
		s.deliver(func(d transport.Delegate) { d.DidWriteData(t, written, total, exp) })
		s.store.UpdateSessionTaskProgress(t.id, total, exp)
	}

	buf := make([]byte, BufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return &transport.Error{Code: transport.CodeFileSystem, Err: err}
			}
			t.mu.Lock()
			t.received += int64(n)
			t.mu.Unlock()
			pending += int64(n)
			pace.Do(report)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if pending > 0 {
				report()
			}
			return &transport.Error{Code: transport.CodeNetwork, Err: readErr}
		}
	}
	if pending > 0 {
		report()
	}

	t.mu.Lock()
	received := t.received
	t.mu.Unlock()
	if expected > 0 && received < expected {
		return &transport.Error{Code: transport.CodeNetwork, Err: io.ErrUnexpectedEOF}
	}
	return nil
}

// complete hands the payload over, then removes whatever is left of it.
func (s *Session) complete(t *task) {
	t.mu.Lock()
	t.state = transport.StateCompleted
	path := t.tempFile
	t.mu.Unlock()
	t.persist()

	s.logger.Info("Transfer finished", "id", t.id)
	s.deliver(func(d transport.Delegate) { d.DidFinishDownloading(t, path) })
	if err := os.Remove(path); err != nil && !filesystem.IsNotExist(err) {
		s.logger.Warn("Failed to remove temp file", "path", path, "error", err)
	}
	s.deliver(func(d transport.Delegate) { d.DidComplete(t, nil) })
	s.forget(t)
}

// fail reports err, attaching resume data when the transfer can continue.
func (s *Session) fail(t *task, err error) {
	t.mu.Lock()
	t.state = transport.StateCompleted
	canResume := t.acceptRanges && t.received > 0
	path := t.tempFile
	t.mu.Unlock()

	var terr *transport.Error
	if !errors.As(err, &terr) {
		terr = &transport.Error{Code: transport.CodeUnknown, Err: err}
	}
	if terr.Status == http.StatusRequestedRangeNotSatisfiable {
		canResume = false
	}
	if canResume {
		data, derr := t.resumeData()
		if derr != nil {
			s.logger.Warn("Failed to encode resume data", "id", t.id, "error", derr)
		}
		terr.ResumeData = data
	}
	if terr.ResumeData == nil {
		os.Remove(path)
	}

	s.logger.Error("Transfer failed", "id", t.id, "error", terr, "resumable", terr.ResumeData != nil)
	s.deliver(func(d transport.Delegate) { d.DidComplete(t, terr) })
	s.forget(t)
}

func (s *Session) finishCancel(t *task) {
	t.mu.Lock()
	t.state = transport.StateCompleted
	path := t.tempFile
	t.mu.Unlock()

	os.Remove(path)
	s.logger.Info("Transfer cancelled", "id", t.id)
	s.deliver(func(d transport.Delegate) {
		d.DidComplete(t, &transport.Error{Code: transport.CodeCancelled, Err: context.Canceled})
	})
	s.forget(t)
}

// parseContentRangeTotal reads the total from "bytes 0-99/1234".
func parseContentRangeTotal(cr string) (int64, bool) {
	parts := strings.Split(cr, "/")
	if len(parts) != 2 || parts[1] == "*" {
		return 0, false
	}
	total, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}

// friendlyError converts technical errors to user-friendly messages
func friendlyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"):
		return fmt.Errorf("server not found: %w", err)
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("server is offline or unreachable: %w", err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("connection timed out: %w", err)
	case strings.Contains(msg, "certificate"):
		return fmt.Errorf("TLS certificate error: %w", err)
	default:
		return err
	}
}

// friendlyHTTPError converts HTTP status codes to user-friendly messages
func friendlyHTTPError(status int) error {
	switch status {
	case http.StatusNotFound:
		return errors.New("file not found on server")
	case http.StatusForbidden:
		return errors.New("access denied by server")
	case http.StatusUnauthorized:
		return errors.New("authentication required")
	case http.StatusTooManyRequests:
		return errors.New("too many requests")
	case http.StatusRequestedRangeNotSatisfiable:
		return errors.New("requested range not satisfiable")
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("server error (%d)", status)
	default:
		return fmt.Errorf("server returned error %d", status)
	}
}
