// Package engine defines the media engine contract the playback core drives
// and observes, and provides an HTTP probe engine implementing it.
package engine

import (
	"sync"

	"github.com/google/uuid"
)

// Listener receives engine events. Events are delivered on engine goroutines,
// never from inside a command call.
type Listener interface {
	BufferingStarted()
	ReadyToPlay(autoplay bool)
	PlaybackEnded()
	PlaybackFailed(code int, message string)
}

// Engine is the command side plus listener registration.
type Engine interface {
	LoadAndPlay(uri string)
	SetAutoplayIntent(autoplay bool)
	ReleaseResources()
	Subscribe(l Listener) func()
}

// Listeners is a registry of engine listeners keyed by subscription ID.
// The zero value is ready to use.
type Listeners struct {
	mu sync.RWMutex
	m  map[uuid.UUID]Listener
}

// Subscribe registers l and returns its unsubscribe function.
func (r *Listeners) Subscribe(l Listener) func() {
	id := uuid.New()

	r.mu.Lock()
	if r.m == nil {
		r.m = make(map[uuid.UUID]Listener)
	}
	r.m[id] = l
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.m, id)
		r.mu.Unlock()
	}
}

// Len returns the number of registered listeners.
func (r *Listeners) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Each calls fn for every listener outside the registry lock.
func (r *Listeners) Each(fn func(Listener)) {
	r.mu.RLock()
	ls := make([]Listener, 0, len(r.m))
	for _, l := range r.m {
		ls = append(ls, l)
	}
	r.mu.RUnlock()

	for _, l := range ls {
		fn(l)
	}
}

// Clear removes every listener.
func (r *Listeners) Clear() {
	r.mu.Lock()
	r.m = nil
	r.mu.Unlock()
}
