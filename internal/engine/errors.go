package engine

import (
	"errors"
	"fmt"

	"project-downlink/internal/transport"
)

// Sentinel errors reported through Observer.OnFailed
var (
	// ErrDestinationMissing means the destination directory was gone when the
	// payload finished.
	ErrDestinationMissing = errors.New("destination folder does not exist")

	// ErrMoveFailed wraps the filesystem error from moving a finished payload.
	ErrMoveFailed = errors.New("failed to move downloaded file")

	// ErrUnknownFailure stands in for a failure that carried no cause.
	ErrUnknownFailure = errors.New("unknown error occurred")
)

// failureOf never returns nil so observers always get a cause.
func failureOf(err error) error {
	if err == nil {
		return ErrUnknownFailure
	}
	var te *transport.Error
	if errors.As(err, &te) && te.Code == transport.CodeUnknown && te.Err == nil {
		return fmt.Errorf("%w: %w", ErrUnknownFailure, err)
	}
	return err
}
