package plugins

import (
	"reflect"
	"sort"
	"sync"
)

// record is one registration inside a context.
type record struct {
	keys     []InterfaceKey
	impl     any
	identity any
	owned    bool
	private  bool
	seq      uint64
	handle   Handle
}

func (r *record) hasKey(key InterfaceKey) bool {
	for _, k := range r.keys {
		if k == key {
			return true
		}
	}
	return false
}

type slot struct {
	gen uint32
	rec *record
}

// arena stores the records of one context. Handles address a slot by
// index and carry the slot generation they were issued for; a slot's
// generation moves on every time it is vacated, and destroying the arena
// vacates every slot for good.
type arena struct {
	mu        sync.RWMutex
	owner     string
	slots     []slot
	free      []uint32
	live      int
	destroyed bool
}

func newArena(owner string) *arena {
	return &arena{owner: owner}
}

// insert stores rec and returns its handle. ok is false when an equal
// identity is already stored or the arena is destroyed.
func (a *arena) insert(rec *record) (Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return Handle{}, false
	}
	if rec.identity != nil {
		for i := range a.slots {
			if r := a.slots[i].rec; r != nil && r.identity == rec.identity {
				return Handle{}, false
			}
		}
	}

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{gen: 1})
		idx = uint32(len(a.slots) - 1)
	}
	h := Handle{a: a, index: idx, gen: a.slots[idx].gen}
	rec.handle = h
	a.slots[idx].rec = rec
	a.live++
	return h, true
}

func (a *arena) get(index, gen uint32) (*record, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.getLocked(index, gen)
}

func (a *arena) getLocked(index, gen uint32) (*record, bool) {
	if a.destroyed || int(index) >= len(a.slots) {
		return nil, false
	}
	s := a.slots[index]
	if s.gen != gen || s.rec == nil {
		return nil, false
	}
	return s.rec, true
}

// remove vacates the slot addressed by (index, gen).
func (a *arena) remove(index, gen uint32) (*record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.getLocked(index, gen)
	if !ok {
		return nil, false
	}
	a.slots[index].rec = nil
	a.slots[index].gen++
	a.free = append(a.free, index)
	a.live--
	return rec, true
}

// collect returns the records registered under key in registration order.
func (a *arena) collect(key InterfaceKey, includePrivate bool) []*record {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []*record
	for i := range a.slots {
		r := a.slots[i].rec
		if r == nil || (r.private && !includePrivate) {
			continue
		}
		if r.hasKey(key) {
			out = append(out, r)
		}
	}
	sortBySeq(out)
	return out
}

// snapshot returns every live record in registration order.
func (a *arena) snapshot() []*record {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*record, 0, a.live)
	for i := range a.slots {
		if r := a.slots[i].rec; r != nil {
			out = append(out, r)
		}
	}
	sortBySeq(out)
	return out
}

func (a *arena) size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live
}

// invalidate vacates every slot and refuses further inserts. Outstanding
// handles report invalid from then on.
func (a *arena) invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.slots {
		a.slots[i].rec = nil
		a.slots[i].gen++
	}
	a.free = nil
	a.live = 0
	a.destroyed = true
}

func sortBySeq(recs []*record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
}

// Handle addresses one registration. It is the token for
// DeregisterInterface and doubles as a weak reference: it never keeps the
// registration alive and reports invalid once the registration is gone or
// its context was destroyed.
type Handle struct {
	a     *arena
	index uint32
	gen   uint32
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool {
	return h.a == nil
}

// Valid reports whether the registration is still live.
func (h Handle) Valid() bool {
	if h.a == nil {
		return false
	}
	_, ok := h.a.get(h.index, h.gen)
	return ok
}

// Value returns the registered implementation while the registration is live.
func (h Handle) Value() (any, bool) {
	if h.a == nil {
		return nil, false
	}
	rec, ok := h.a.get(h.index, h.gen)
	if !ok {
		return nil, false
	}
	return rec.impl, true
}

// ContextName returns the name of the context that issued h.
func (h Handle) ContextName() string {
	if h.a == nil {
		return ""
	}
	return h.a.owner
}

func (h Handle) issuedBy(a *arena) bool {
	return h.a != nil && h.a == a
}

// WeakRef is a typed, non-owning reference to a registration.
type WeakRef[T any] struct {
	h Handle
}

// NewWeakRef wraps a handle.
func NewWeakRef[T any](h Handle) WeakRef[T] {
	return WeakRef[T]{h: h}
}

// Get returns the referenced implementation while it is still registered.
func (w WeakRef[T]) Get() (T, bool) {
	var zero T
	v, ok := w.h.Value()
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Valid reports whether the referenced registration is still live.
func (w WeakRef[T]) Valid() bool {
	return w.h.Valid()
}

// Handle returns the underlying handle.
func (w WeakRef[T]) Handle() Handle {
	return w.h
}

// pointerIdentity compares reference-like values by address.
type pointerIdentity struct {
	typ reflect.Type
	ptr uintptr
}

// identityOf returns the address identity of a reference-like impl, or
// nil when duplicate detection does not apply. Values are copies and never
// duplicates. Pointers to zero-size types may share one address.
func identityOf(impl any) any {
	v := reflect.ValueOf(impl)
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() || v.Type().Elem().Size() == 0 {
			return nil
		}
	case reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if v.Pointer() == 0 {
			return nil
		}
	default:
		return nil
	}
	return pointerIdentity{typ: v.Type(), ptr: v.Pointer()}
}
