package engine

import (
	"log/slog"

	"project-downlink/internal/queue"
)

// dispatcher delivers observer notifications in order on one goroutine.
type dispatcher struct {
	q      *queue.Queue[func()]
	done   chan struct{}
	logger *slog.Logger
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		q:      queue.New[func()](),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		fn, ok := d.q.Pop()
		if !ok {
			return
		}
		d.invoke(fn)
	}
}

func (d *dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Observer panic recovered", "panic", r)
		}
	}()
	fn()
}

// post queues fn without waiting.
func (d *dispatcher) post(fn func()) {
	if !d.q.Push(fn) {
		d.logger.Debug("Notification dropped after close")
	}
}

// call queues fn and waits until it has run. After close fn runs inline.
func (d *dispatcher) call(fn func()) {
	ran := make(chan struct{})
	if !d.q.Push(func() {
		defer close(ran)
		fn()
	}) {
		d.invoke(fn)
		return
	}
	<-ran
}

// close delivers what is queued, then stops.
func (d *dispatcher) close() {
	d.q.Close()
	<-d.done
}
