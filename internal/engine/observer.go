package engine

import (
	"project-downlink/internal/registry"
)

// Observer receives lifecycle notifications. Calls are made one at a time,
// in order, from a single goroutine, and carry a snapshot of the model.
//
// Embed BaseObserver to get no-op versions of every hook except
// OnProgressUpdated and OnInterruptedTasksPopulated.
type Observer interface {
	OnProgressUpdated(m registry.Model)
	OnInterruptedTasksPopulated(m registry.Model)

	OnStarted(m registry.Model, index int)
	OnPaused(m registry.Model)
	OnResumed(m registry.Model)
	OnRetried(m registry.Model, index int)
	OnCancelled(m registry.Model)
	OnFinished(m registry.Model)
	OnFailed(m registry.Model, err error)
}

// DestinationMissingHandler is implemented by observers that want to place a
// finished payload themselves when its destination directory is gone.
// location is only valid until the hook returns. Observers without it get
// OnFailed with ErrDestinationMissing.
type DestinationMissingHandler interface {
	OnDestinationMissing(m registry.Model, location string)
}

// BaseObserver implements the optional hooks as no-ops.
type BaseObserver struct{}

func (BaseObserver) OnStarted(registry.Model, int)  {}
func (BaseObserver) OnPaused(registry.Model)        {}
func (BaseObserver) OnResumed(registry.Model)       {}
func (BaseObserver) OnRetried(registry.Model, int)  {}
func (BaseObserver) OnCancelled(registry.Model)     {}
func (BaseObserver) OnFinished(registry.Model)      {}
func (BaseObserver) OnFailed(registry.Model, error) {}

// Multi fans notifications out to every observer in order. The result
// handles a missing destination if any of them does.
func Multi(observers ...Observer) Observer {
	fan := multiObserver(observers)
	for _, o := range observers {
		if _, ok := o.(DestinationMissingHandler); ok {
			return multiWithDestination{fan}
		}
	}
	return fan
}

type multiObserver []Observer

func (mo multiObserver) OnProgressUpdated(m registry.Model) {
	for _, o := range mo {
		o.OnProgressUpdated(m)
	}
}

func (mo multiObserver) OnInterruptedTasksPopulated(m registry.Model) {
	for _, o := range mo {
		o.OnInterruptedTasksPopulated(m)
	}
}

func (mo multiObserver) OnStarted(m registry.Model, index int) {
	for _, o := range mo {
		o.OnStarted(m, index)
	}
}

func (mo multiObserver) OnPaused(m registry.Model) {
	for _, o := range mo {
		o.OnPaused(m)
	}
}

func (mo multiObserver) OnResumed(m registry.Model) {
	for _, o := range mo {
		o.OnResumed(m)
	}
}

func (mo multiObserver) OnRetried(m registry.Model, index int) {
	for _, o := range mo {
		o.OnRetried(m, index)
	}
}

func (mo multiObserver) OnCancelled(m registry.Model) {
	for _, o := range mo {
		o.OnCancelled(m)
	}
}

func (mo multiObserver) OnFinished(m registry.Model) {
	for _, o := range mo {
		o.OnFinished(m)
	}
}

func (mo multiObserver) OnFailed(m registry.Model, err error) {
	for _, o := range mo {
		o.OnFailed(m, err)
	}
}

type multiWithDestination struct {
	multiObserver
}

func (mo multiWithDestination) OnDestinationMissing(m registry.Model, location string) {
	for _, o := range mo.multiObserver {
		if h, ok := o.(DestinationMissingHandler); ok {
			h.OnDestinationMissing(m, location)
		}
	}
}
