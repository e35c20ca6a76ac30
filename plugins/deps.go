package plugins

import "sync"

// Dependency caches the lookup of an interface a plugin depends on. The
// cache holds a weak reference only: once the cached registration goes
// away the next Get resolves again.
type Dependency[T any] struct {
	ctx Context

	mu  sync.Mutex
	ref WeakRef[T]
}

// Depends returns a cached accessor for T resolved from ctx.
func Depends[T any](ctx Context) *Dependency[T] {
	return &Dependency[T]{ctx: ctx}
}

// Get returns the implementation of T, resolving it when the cache is
// empty or stale.
func (d *Dependency[T]) Get() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v, ok := d.ref.Get(); ok {
		return v, true
	}
	ref, ok := QueryWeak[T](d.ctx)
	if !ok {
		d.ref = WeakRef[T]{}
		var zero T
		return zero, false
	}
	d.ref = ref
	return ref.Get()
}

// MustGet is Get returning the zero value when T is absent.
func (d *Dependency[T]) MustGet() T {
	v, _ := d.Get()
	return v
}

// Reset drops the cached reference.
func (d *Dependency[T]) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ref = WeakRef[T]{}
}
