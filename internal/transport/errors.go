package transport

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a task failure.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeCancelled
	CodeNetwork
	CodeHTTPStatus
	CodeInsufficientSpace
	CodeFileSystem
)

func (c ErrorCode) String() string {
	switch c {
	case CodeCancelled:
		return "cancelled"
	case CodeNetwork:
		return "network"
	case CodeHTTPStatus:
		return "http_status"
	case CodeInsufficientSpace:
		return "insufficient_space"
	case CodeFileSystem:
		return "file_system"
	default:
		return "unknown"
	}
}

// CancelReason says why the session cancelled a task on its own.
type CancelReason int

const (
	ReasonNone CancelReason = iota
	// ReasonUserForceQuit: the owning process died while the task ran.
	ReasonUserForceQuit
	// ReasonBackgroundUpdatesDisabled: running across restarts is turned off.
	ReasonBackgroundUpdatesDisabled
)

func (r CancelReason) String() string {
	switch r {
	case ReasonUserForceQuit:
		return "user_force_quit"
	case ReasonBackgroundUpdatesDisabled:
		return "background_updates_disabled"
	default:
		return "none"
	}
}

// Error is the failure a session reports through DidComplete.
type Error struct {
	Code       ErrorCode
	Reason     CancelReason
	Status     int
	ResumeData []byte
	Err        error
}

func (e *Error) Error() string {
	msg := "transport " + e.Code.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Reason != ReasonNone {
		msg += " [" + e.Reason.String() + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ResumeDataOf extracts resume data from err, if any.
func ResumeDataOf(err error) []byte {
	var te *Error
	if errors.As(err, &te) {
		return te.ResumeData
	}
	return nil
}

// IsCancelled reports an explicit cancellation.
func IsCancelled(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == CodeCancelled
}

// CancelReasonOf returns the session-initiated cancellation reason.
func CancelReasonOf(err error) CancelReason {
	var te *Error
	if errors.As(err, &te) {
		return te.Reason
	}
	return ReasonNone
}

// IsInterrupted reports a task that did not survive a process restart.
func IsInterrupted(err error) bool {
	switch CancelReasonOf(err) {
	case ReasonUserForceQuit, ReasonBackgroundUpdatesDisabled:
		return true
	}
	return false
}
