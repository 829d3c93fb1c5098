// Package throttle provides per-key leading+trailing throttling.
package throttle

import (
	"sort"
	"sync"
	"time"
)

// entry is the pending state of one key.
type entry[T any] struct {
	latest      T
	hasTrailing bool
	timer       *time.Timer
	gen         uint64
}

// Keyed coalesces rapid updates independently per key. The first value for
// an idle key is delivered at once; values arriving during the cooldown
// overwrite each other and only the latest is delivered when the cooldown
// ends. The final value of a key is never lost as long as Flush is called
// once the producer is done.
//
// Callbacks are serialized: fn never runs concurrently with itself. fn must
// not call Schedule, Flush or Stop on the same Keyed for any key: a cooldown
// expiry may hold the state lock while it waits for the running callback.
type Keyed[T any] struct {
	mu      sync.Mutex
	emit    sync.Mutex
	fn      func(key string, value T)
	delay   time.Duration
	entries map[string]*entry[T]
	gen     uint64
	stopped bool
}

// NewKeyed returns a throttle that calls fn at most once per delay per key.
// A delay of zero or less disables throttling.
func NewKeyed[T any](fn func(key string, value T), delay time.Duration) *Keyed[T] {
	return &Keyed[T]{
		fn:      fn,
		delay:   delay,
		entries: make(map[string]*entry[T]),
	}
}

// Schedule records value for key. An idle key fires immediately and starts
// its cooldown; a key in cooldown keeps only the latest value.
func (k *Keyed[T]) Schedule(key string, value T) {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return
	}

	if k.delay <= 0 {
		k.emit.Lock()
		k.mu.Unlock()
		defer k.emit.Unlock()
		k.fn(key, value)
		return
	}

	if e, ok := k.entries[key]; ok {
		e.latest = value
		e.hasTrailing = true
		k.mu.Unlock()
		return
	}

	e := &entry[T]{}
	k.entries[key] = e
	k.armLocked(key, e)

	// Take emit before releasing mu so the leading call cannot be overtaken
	// by this key's own trailing call.
	k.emit.Lock()
	k.mu.Unlock()
	defer k.emit.Unlock()
	k.fn(key, value)
}

// armLocked starts a new cooldown for e under a fresh generation.
// Must be called with k.mu held.
func (k *Keyed[T]) armLocked(key string, e *entry[T]) {
	k.gen++
	gen := k.gen
	e.gen = gen
	e.timer = time.AfterFunc(k.delay, func() {
		k.expire(key, gen)
	})
}

// expire runs when a cooldown ends.
func (k *Keyed[T]) expire(key string, gen uint64) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok || e.gen != gen || k.stopped {
		// Stale timer from before a flush or re-arm.
		k.mu.Unlock()
		return
	}

	if !e.hasTrailing {
		delete(k.entries, key)
		k.mu.Unlock()
		return
	}

	value := e.latest
	var zero T
	e.latest = zero
	e.hasTrailing = false
	k.armLocked(key, e)

	k.emit.Lock()
	k.mu.Unlock()
	defer k.emit.Unlock()
	k.fn(key, value)
}

// Flush cancels every cooldown and synchronously delivers each pending
// trailing value, then clears all state. Keys are flushed in sorted order.
func (k *Keyed[T]) Flush() {
	type pending struct {
		key   string
		value T
	}

	k.mu.Lock()
	var out []pending
	for key, e := range k.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		// Invalidate any timer that already fired and is waiting on mu.
		k.gen++
		e.gen = k.gen
		if e.hasTrailing {
			out = append(out, pending{key: key, value: e.latest})
		}
		delete(k.entries, key)
	}
	if len(out) == 0 {
		k.mu.Unlock()
		return
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })

	k.emit.Lock()
	k.mu.Unlock()
	defer k.emit.Unlock()
	for _, p := range out {
		k.fn(p.key, p.value)
	}
}

// Stop cancels all cooldowns and discards pending values. Later calls to
// Schedule are ignored.
func (k *Keyed[T]) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopped = true
	for key, e := range k.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(k.entries, key)
	}
}

// Pending returns the number of keys currently in cooldown.
func (k *Keyed[T]) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
