// Package registry holds the pending long-poll waiters and arbitrates the
// race between push-driven resolution and connection-driven cancellation.
package registry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Outcome is the terminal state of a waiter.
type Outcome int

// Waiter outcomes.
const (
	OutcomePending Outcome = iota
	OutcomeFulfilled
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFulfilled:
		return "fulfilled"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// CancelReason records why a waiter was cancelled.
type CancelReason string

// Cancellation reasons.
const (
	ReasonDisconnected CancelReason = "disconnected"
	ReasonTimeout      CancelReason = "timeout"
	ReasonSuperseded   CancelReason = "superseded"
	ReasonSelfResolved CancelReason = "self_resolved"
	ReasonShutdown     CancelReason = "shutdown"
)

const (
	statePending int32 = iota
	stateFulfilled
	stateCancelled
)

// waiter is the single-assignment result slot for one pending long-poll
// request. The state transition out of pending happens exactly once: whichever
// of fulfill/cancel wins the compare-and-swap owns the slot, writes it, and
// closes done. Readers observe the write through the channel close.
type waiter[T any] struct {
	state        atomic.Int32
	done         chan struct{}
	payload      T
	reason       CancelReason
	registeredAt time.Time
}

func newWaiter[T any]() *waiter[T] {
	return &waiter[T]{
		done:         make(chan struct{}),
		registeredAt: time.Now(),
	}
}

func (w *waiter[T]) fulfill(payload T) bool {
	if !w.state.CompareAndSwap(statePending, stateFulfilled) {
		return false
	}
	w.payload = payload
	close(w.done)
	recordResolved(time.Since(w.registeredAt))
	return true
}

func (w *waiter[T]) cancel(reason CancelReason) bool {
	if !w.state.CompareAndSwap(statePending, stateCancelled) {
		return false
	}
	w.reason = reason
	close(w.done)
	recordCancelled(reason, time.Since(w.registeredAt))
	return true
}

func (w *waiter[T]) outcome() Outcome {
	switch w.state.Load() {
	case stateFulfilled:
		return OutcomeFulfilled
	case stateCancelled:
		return OutcomeCancelled
	default:
		return OutcomePending
	}
}

// Handle lets the registering endpoint await and cancel its own waiter.
// A handle refers to one specific waiter: cancelling through it never touches
// a waiter that superseded this one under the same key.
type Handle[T any] struct {
	key string
	w   *waiter[T]
	reg *Registry[T]
}

// Key returns the registry key the handle was registered under.
func (h *Handle[T]) Key() string { return h.key }

// Done is closed once the waiter reaches a terminal state.
func (h *Handle[T]) Done() <-chan struct{} { return h.w.done }

// Outcome returns the terminal state and, for a fulfilled waiter, the
// delivered payload. Call only after Done is closed; the payload for a
// pending or cancelled waiter is the zero value.
func (h *Handle[T]) Outcome() (T, Outcome) {
	return h.w.payload, h.w.outcome()
}

// Reason returns the cancellation reason for a cancelled waiter.
func (h *Handle[T]) Reason() CancelReason { return h.w.reason }

// Cancel moves this waiter to cancelled if it is still pending and removes it
// from the registry. Returns false if the waiter already reached a terminal
// state, in which case nothing changes.
func (h *Handle[T]) Cancel(reason CancelReason) bool {
	if !h.w.cancel(reason) {
		return false
	}
	h.reg.remove(h.key, h.w)
	return true
}

// Registry maps keys to their single currently-pending waiter. It is safe for
// concurrent use: map membership is guarded by a mutex, while waiter
// completion is decided by a compare-and-swap outside the lock, so resolve
// calls on one key never block waits on another.
type Registry[T any] struct {
	mu      sync.Mutex
	waiters map[string]*waiter[T]
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{waiters: make(map[string]*waiter[T])}
}

// Register installs a new pending waiter for key and returns its handle.
// An existing pending waiter for the same key is superseded: it is cancelled
// with ReasonSuperseded and replaced, so at most one waiter per key is live.
func (r *Registry[T]) Register(key string) *Handle[T] {
	w := newWaiter[T]()

	r.mu.Lock()
	old := r.waiters[key]
	r.waiters[key] = w
	waitersPending.Set(float64(len(r.waiters)))
	r.mu.Unlock()

	if old != nil {
		old.cancel(ReasonSuperseded)
	}

	waitersRegistered.Inc()

	return &Handle[T]{key: key, w: w, reg: r}
}

// Resolve fulfills the pending waiter for key with payload and wakes its
// consumer. Returns false when no pending waiter exists for key, either
// because none was registered or because it already reached a terminal
// state; the call then has no other effect.
func (r *Registry[T]) Resolve(key string, payload T) bool {
	r.mu.Lock()
	w := r.waiters[key]
	r.mu.Unlock()

	if w == nil || !w.fulfill(payload) {
		return false
	}

	r.remove(key, w)
	return true
}

// Cancel cancels the currently pending waiter for key, if any. Idempotent:
// a second call, or a call racing a resolve that won, returns false.
func (r *Registry[T]) Cancel(key string) bool {
	r.mu.Lock()
	w := r.waiters[key]
	r.mu.Unlock()

	if w == nil || !w.cancel(ReasonDisconnected) {
		return false
	}

	r.remove(key, w)
	return true
}

// IsPending reports whether a pending waiter is registered for key.
func (r *Registry[T]) IsPending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.waiters[key]
	return ok && w.outcome() == OutcomePending
}

// Len returns the number of registered waiters.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Shutdown cancels every pending waiter. Used during graceful shutdown to
// release suspended handlers before the HTTP server drains.
func (r *Registry[T]) Shutdown() {
	r.mu.Lock()
	waiters := make([]*waiter[T], 0, len(r.waiters))
	for _, w := range r.waiters {
		waiters = append(waiters, w)
	}
	r.waiters = make(map[string]*waiter[T])
	r.mu.Unlock()

	for _, w := range waiters {
		w.cancel(ReasonShutdown)
	}

	waitersPending.Set(0)
}

// remove deletes the map entry for key only while it still points at w, so a
// stale handle can never evict a waiter that superseded it. The pending gauge
// is updated under the same lock so it tracks the map exactly.
func (r *Registry[T]) remove(key string, w *waiter[T]) {
	r.mu.Lock()
	if r.waiters[key] == w {
		delete(r.waiters, key)
	}
	waitersPending.Set(float64(len(r.waiters)))
	r.mu.Unlock()
}
