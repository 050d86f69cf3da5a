// Package transport defines the contract between the download manager and
// the background session that performs network I/O and keeps its own
// resumable task store across process restarts.
package transport

// TaskState is the session's view of a task.
type TaskState int

const (
	StateRunning TaskState = iota
	StateSuspended
	StateCanceling
	StateCompleted
)

func (s TaskState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateCanceling:
		return "canceling"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Task is a handle to one transfer owned by the session. Identifier is the
// only reliable identity for matching callbacks back to a download.
type Task interface {
	Identifier() string
	State() TaskState
	OriginalURL() string

	// Description is an opaque tag the session persists with the task.
	Description() string
	SetDescription(desc string)

	Resume()
	Suspend()
	Cancel()
}

// Delegate receives session events. Calls arrive on session goroutines.
type Delegate interface {
	// DidWriteData reports bytes written by the latest chunk and running totals.
	// totalExpected is negative when the length is unknown.
	DidWriteData(task Task, bytesWritten, totalWritten, totalExpected int64)

	// DidFinishDownloading hands over the finished payload. The session
	// removes location once the call returns, so it must be moved inside it.
	DidFinishDownloading(task Task, location string)

	// DidComplete ends the task. err is nil on success.
	DidComplete(task Task, err error)

	// DidFinishEvents reports that all queued work has been delivered.
	DidFinishEvents()
}

// Session is the transport engine.
type Session interface {
	// Bind installs the delegate. Events raised before Bind are held back.
	Bind(d Delegate)

	// GetTasks enumerates the session's current tasks asynchronously.
	GetTasks(completion func([]Task))

	// DownloadTask creates a suspended task for url.
	DownloadTask(url string) (Task, error)

	// DownloadTaskWithResumeData creates a suspended task continuing from data.
	DownloadTaskWithResumeData(data []byte) (Task, error)
}
