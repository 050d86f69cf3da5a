package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHelpers(t *testing.T) {
	base := errors.New("connection reset")
	err := fmt.Errorf("wrapped: %w", &Error{Code: CodeNetwork, ResumeData: []byte("rd"), Err: base})

	assert.Equal(t, []byte("rd"), ResumeDataOf(err))
	assert.False(t, IsCancelled(err))
	assert.False(t, IsInterrupted(err))
	assert.ErrorIs(t, err, base)

	cancelled := &Error{Code: CodeCancelled}
	assert.True(t, IsCancelled(cancelled))
	assert.Nil(t, ResumeDataOf(cancelled))

	quit := &Error{Code: CodeCancelled, Reason: ReasonUserForceQuit}
	assert.True(t, IsInterrupted(quit))
	assert.Equal(t, ReasonUserForceQuit, CancelReasonOf(quit))

	disabled := &Error{Code: CodeCancelled, Reason: ReasonBackgroundUpdatesDisabled}
	assert.True(t, IsInterrupted(disabled))

	assert.Nil(t, ResumeDataOf(base))
	assert.Equal(t, ReasonNone, CancelReasonOf(nil))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Code: CodeHTTPStatus, Status: 503}
	assert.Equal(t, "transport http_status (status 503)", err.Error())

	err = &Error{Code: CodeCancelled, Reason: ReasonUserForceQuit, Err: errors.New("process exited")}
	assert.Equal(t, "transport cancelled [user_force_quit]: process exited", err.Error())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "suspended", StateSuspended.String())
	assert.Equal(t, "canceling", StateCanceling.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "unknown", TaskState(42).String())
}
