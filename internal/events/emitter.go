// Package events implements a small per-tag listener emitter for engine
// lifecycle notifications (buffering, progress, transitions, errors). It
// mirrors the teacher's eventbus package in overall shape — a mutex-guarded
// registry plus a dedicated logger per instance — but is redesigned as a
// generic, synchronous, multi-listener emitter instead of a single-consumer
// worker-pool bus, since engine events must be observed in emission order by
// every subscriber, not load-balanced across workers.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/stretchplay/engine/internal/logging"
)

// Tag identifies an event kind. Callers define their own Tag constants
// (see internal/playback for the engine's event vocabulary).
type Tag string

// Listener receives a Payload for every emitted event tagged with the Tag it
// subscribed to.
type Listener func(payload any)

// Emitter is a concurrency-safe, synchronous multi-listener dispatcher keyed
// by Tag. Emit iterates a snapshot of the listener set so that a listener
// unsubscribing itself (or another listener) during dispatch never mutates
// the slice being ranged over.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[Tag]map[uint64]Listener
	nextID    atomic.Uint64
	logger    *slog.Logger
}

// NewEmitter constructs an empty Emitter.
func NewEmitter(component string) *Emitter {
	logger := logging.ForService("events")
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		listeners: make(map[Tag]map[uint64]Listener),
		logger:    logger.With("component", component),
	}
}

// On subscribes fn to events tagged t and returns an idempotent unsubscribe
// function.
func (e *Emitter) On(t Tag, fn Listener) (unsubscribe func()) {
	id := e.nextID.Add(1)

	e.mu.Lock()
	set, ok := e.listeners[t]
	if !ok {
		set = make(map[uint64]Listener)
		e.listeners[t] = set
	}
	set[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if set, ok := e.listeners[t]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(e.listeners, t)
				}
			}
		})
	}
}

// Emit synchronously invokes every listener currently subscribed to t, in an
// unspecified but stable-per-call order, using a snapshot taken under the
// read lock so dispatch never races subscribe/unsubscribe.
func (e *Emitter) Emit(t Tag, payload any) {
	e.mu.RLock()
	set := e.listeners[t]
	snapshot := make([]Listener, 0, len(set))
	for _, fn := range set {
		snapshot = append(snapshot, fn)
	}
	e.mu.RUnlock()

	for _, fn := range snapshot {
		e.safeInvoke(t, fn, payload)
	}
}

// safeInvoke recovers a panicking listener so one misbehaving subscriber
// cannot take down the engine's main loop.
func (e *Emitter) safeInvoke(t Tag, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener panicked", "tag", t, "recover", r)
		}
	}()
	fn(payload)
}

// ListenerCount returns the number of listeners currently subscribed to t,
// primarily for tests.
func (e *Emitter) ListenerCount(t Tag) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[t])
}

// Close removes every listener. Intended for engine teardown.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[Tag]map[uint64]Listener)
}
