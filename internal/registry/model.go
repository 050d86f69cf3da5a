// Package registry holds the in-memory mapping from logical download name to
// its Download Model.
package registry

import (
	"fmt"
	"time"

	"project-downlink/internal/progress"
	"project-downlink/internal/transport"
)

// State is the lifecycle state of a tracked download. Finished and cancelled
// downloads are removed rather than kept in a terminal state.
type State int

const (
	StateDownloading State = iota
	StatePaused
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDownloading:
		return "downloading"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets the state serialize by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "downloading":
		*s = StateDownloading
	case "paused":
		*s = StatePaused
	case "failed":
		*s = StateFailed
	default:
		return fmt.Errorf("unknown download state %q", text)
	}
	return nil
}

// Model is one logical download.
type Model struct {
	Name            string `json:"name"`
	SourceURL       string `json:"source_url"`
	DestinationPath string `json:"destination_path"`
	State           State  `json:"state"`

	// Task is owned by the transport session; the model only keeps it to
	// control the transfer and to match callbacks.
	Task transport.Task `json:"-"`

	StartTime time.Time `json:"start_time"`

	Progress       float64           `json:"progress"`
	ProgressKnown  bool              `json:"progress_known"`
	TotalSize      progress.Size     `json:"total_size"`
	DownloadedSize progress.Size     `json:"downloaded_size"`
	Speed          progress.Size     `json:"speed"`
	Remaining      progress.Duration `json:"remaining"`
	RemainingKnown bool              `json:"remaining_known"`

	Written  int64 `json:"written"`
	Expected int64 `json:"expected"`
}

// NewModel returns a model in the Downloading state.
func NewModel(name, sourceURL, destination string) *Model {
	return &Model{
		Name:            name,
		SourceURL:       sourceURL,
		DestinationPath: destination,
		State:           StateDownloading,
	}
}

// Apply stores derived metrics and the raw counters they came from.
func (m *Model) Apply(metrics progress.Metrics, written, expected int64) {
	m.Progress = metrics.Fraction
	m.ProgressKnown = metrics.FractionKnown
	m.TotalSize = metrics.Total
	m.DownloadedSize = metrics.Downloaded
	m.Speed = metrics.SpeedSize
	m.Remaining = metrics.Remaining
	m.RemainingKnown = metrics.RemainingKnown
	m.Written = written
	m.Expected = expected
}

// Snapshot returns a copy safe to hand to other goroutines.
func (m *Model) Snapshot() Model {
	return *m
}

// TaskID returns the transport identifier of the tracked task, or "".
func (m *Model) TaskID() string {
	if m.Task == nil {
		return ""
	}
	return m.Task.Identifier()
}
