package registry

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrExists is returned by Create when the id is already registered
	ErrExists = errors.New("session already exists")
	// ErrNotFound is returned when the id is not registered (or already expired)
	ErrNotFound = errors.New("session not found")
)

// Options configures expiry for a Registry
type Options[T any] struct {
	// TTL is the idle window. Every Create, Touch and Update re-arms the deadline.
	TTL time.Duration
	// MaxAge is used by Sweep: entries older than MaxAge since creation are
	// reclaimed even if their deadline was lost. Zero means Sweep only looks at
	// idle time.
	MaxAge time.Duration
	// SweepInterval is how often Run performs the safety-net sweep.
	SweepInterval time.Duration
	// Now is the clock, defaults to time.Now
	Now func() time.Time
	// OnExpire is called (outside the lock) for every entry removed by expiry or sweep
	OnExpire func(id string, value T)
}

type entry[T any] struct {
	value     T
	createdAt time.Time
	touchedAt time.Time
	deadline  time.Time
	gen       uint64
}

// Registry is a keyed store of session records with deadline-based expiry.
// Deadlines live in a single min-heap instead of one timer per session.
type Registry[T any] struct {
	mu        sync.Mutex
	entries   map[string]*entry[T]
	deadlines deadlineHeap
	gen       uint64

	opts Options[T]
	wake chan struct{}
}

// New creates an empty registry
func New[T any](opts Options[T]) *Registry[T] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Registry[T]{
		entries: make(map[string]*entry[T]),
		opts:    opts,
		wake:    make(chan struct{}, 1),
	}
}

// Create registers a value under id. Fails with ErrExists if id is taken.
func (r *Registry[T]) Create(id string, value T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return ErrExists
	}

	now := r.opts.Now()
	e := &entry[T]{value: value, createdAt: now, touchedAt: now}
	r.entries[id] = e
	r.armLocked(id, e, now)
	return nil
}

// GetOrCreate returns the value for id, creating it with create() when missing.
// The boolean reports whether the value was created.
func (r *Registry[T]) GetOrCreate(id string, create func() T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.Now()
	if e, exists := r.entries[id]; exists {
		r.armLocked(id, e, now)
		return e.value, false
	}

	e := &entry[T]{value: create(), createdAt: now, touchedAt: now}
	r.entries[id] = e
	r.armLocked(id, e, now)
	return e.value, true
}

// Get returns a copy of the stored value
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		var zero T
		return zero, false
	}
	return e.value, true
}

// View runs fn against the stored value under the registry lock without
// re-arming the deadline. fn must not retain the pointer.
func (r *Registry[T]) View(id string, fn func(*T)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return ErrNotFound
	}
	fn(&e.value)
	return nil
}

// Update mutates the stored value under the registry lock and re-arms the
// deadline. If fn returns an error the deadline is left untouched.
// fn must not block and must not retain the pointer.
func (r *Registry[T]) Update(id string, fn func(*T) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return ErrNotFound
	}
	if err := fn(&e.value); err != nil {
		return err
	}
	r.armLocked(id, e, r.opts.Now())
	return nil
}

// Touch re-arms the deadline of id
func (r *Registry[T]) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return false
	}
	r.armLocked(id, e, r.opts.Now())
	return true
}

// Delete removes id and returns the removed value
func (r *Registry[T]) Delete(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		var zero T
		return zero, false
	}
	delete(r.entries, id)
	return e.value, true
}

// Len returns the number of live entries
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns the ids of all live entries
func (r *Registry[T]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.entries))
	for id := range r.entries {
		keys = append(keys, id)
	}
	return keys
}

// ExpireDue removes every entry whose deadline is at or before now
func (r *Registry[T]) ExpireDue(now time.Time) int {
	r.mu.Lock()
	var expired []expiredEntry[T]
	for r.deadlines.Len() > 0 {
		next := r.deadlines[0]
		if next.deadline.After(now) {
			break
		}
		heap.Pop(&r.deadlines)

		e, exists := r.entries[next.id]
		if !exists || e.gen != next.gen {
			// stale heap item, the entry was re-armed or deleted
			continue
		}
		delete(r.entries, next.id)
		expired = append(expired, expiredEntry[T]{id: next.id, value: e.value})
	}
	r.mu.Unlock()

	r.notifyExpired(expired)
	return len(expired)
}

// Sweep reclaims entries idle longer than TTL or older than MaxAge.
// It is the safety net in case a deadline is lost.
func (r *Registry[T]) Sweep(now time.Time) int {
	r.mu.Lock()
	var expired []expiredEntry[T]
	for id, e := range r.entries {
		idle := r.opts.TTL > 0 && now.Sub(e.touchedAt) > r.opts.TTL
		old := r.opts.MaxAge > 0 && now.Sub(e.createdAt) > r.opts.MaxAge
		if idle || old {
			delete(r.entries, id)
			expired = append(expired, expiredEntry[T]{id: id, value: e.value})
		}
	}
	r.mu.Unlock()

	r.notifyExpired(expired)
	return len(expired)
}

// Run drives deadline expiry and the periodic sweep until ctx is done
func (r *Registry[T]) Run(ctx context.Context) {
	sweep := time.NewTicker(r.opts.SweepInterval)
	defer sweep.Stop()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		timer.Reset(r.untilNextDeadline())

		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		case <-timer.C:
			r.ExpireDue(r.opts.Now())
		case <-sweep.C:
			r.Sweep(r.opts.Now())
		}
	}
}

func (r *Registry[T]) untilNextDeadline() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deadlines.Len() == 0 {
		return time.Hour
	}
	wait := r.deadlines[0].deadline.Sub(r.opts.Now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (r *Registry[T]) armLocked(id string, e *entry[T], now time.Time) {
	e.touchedAt = now
	if r.opts.TTL <= 0 {
		return
	}

	r.gen++
	e.gen = r.gen
	e.deadline = now.Add(r.opts.TTL)
	wasFirst := r.deadlines.Len() == 0 || e.deadline.Before(r.deadlines[0].deadline)
	heap.Push(&r.deadlines, deadlineItem{id: id, deadline: e.deadline, gen: e.gen})

	// compact stale items so re-arming on every chunk does not grow the heap unbounded
	if r.deadlines.Len() > 4*len(r.entries)+16 {
		r.compactLocked()
	}

	if wasFirst {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

func (r *Registry[T]) compactLocked() {
	live := r.deadlines[:0]
	for _, item := range r.deadlines {
		if e, exists := r.entries[item.id]; exists && e.gen == item.gen {
			live = append(live, item)
		}
	}
	r.deadlines = live
	heap.Init(&r.deadlines)
}

type expiredEntry[T any] struct {
	id    string
	value T
}

func (r *Registry[T]) notifyExpired(expired []expiredEntry[T]) {
	if r.opts.OnExpire == nil {
		return
	}
	for _, e := range expired {
		r.opts.OnExpire(e.id, e.value)
	}
}

type deadlineItem struct {
	id       string
	deadline time.Time
	gen      uint64
}

type deadlineHeap []deadlineItem

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)        { *h = append(*h, x.(deadlineItem)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
