package plugins

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// GlobalContextName is the name of the process-wide context.
const GlobalContextName = "global"

// Context is the view of the interface registry handed to plugins.
type Context interface {
	// Name returns the plugin ID of the owning plugin, or GlobalContextName.
	Name() string

	// Path returns the module path the context was created for.
	Path() string

	// RegisterInterface stores impl and returns the handle that deregisters it.
	RegisterInterface(impl any, opts ...RegisterOption) (Handle, error)

	// DeregisterInterface removes a registration made through this context.
	DeregisterInterface(h Handle) error

	// QueryInterface returns the implementation registered under key, looking
	// at this context first and then its parent. It returns nil when absent.
	QueryInterface(key InterfaceKey) any

	// QueryInterfaces enumerates every implementation registered under key,
	// this context first, each scope in registration order.
	QueryInterfaces(key InterfaceKey) []any

	// QueryHandle is QueryInterface returning the registration handle.
	QueryHandle(key InterfaceKey) (Handle, bool)

	// RegisterListener adds a listener and returns its ID.
	RegisterListener(l ContextListener) string

	// DeregisterListener removes a listener by ID.
	DeregisterListener(id string) bool

	// Parent returns the enclosing context, nil for the global context.
	Parent() Context
}

// ContextState is the lifecycle state of a ComponentContext.
type ContextState int32

const (
	// ContextCreated indicates the context is allocated but not attached yet
	ContextCreated ContextState = iota
	// ContextActive indicates the context accepts registrations
	ContextActive
	// ContextDestroying indicates the context is tearing its registrations down
	ContextDestroying
	// ContextDestroyed indicates the context is gone; every handle it issued is invalid
	ContextDestroyed
)

func (s ContextState) String() string {
	switch s {
	case ContextCreated:
		return "created"
	case ContextActive:
		return "active"
	case ContextDestroying:
		return "destroying"
	case ContextDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ResolvePolicy decides which implementation a single-result query returns
// when several are registered under the same key.
type ResolvePolicy int

const (
	// ResolveLastRegistered returns the most recently registered implementation
	ResolveLastRegistered ResolvePolicy = iota
	// ResolveFirstRegistered returns the earliest registered implementation
	ResolveFirstRegistered
)

func (p ResolvePolicy) String() string {
	if p == ResolveFirstRegistered {
		return "first"
	}
	return "last"
}

// ParseResolvePolicy parses "last" or "first". An empty string means "last".
func ParseResolvePolicy(s string) (ResolvePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last", "last_registered":
		return ResolveLastRegistered, nil
	case "first", "first_registered":
		return ResolveFirstRegistered, nil
	default:
		return ResolveLastRegistered, fmt.Errorf("unknown resolve policy %q", s)
	}
}

// ContextOption configures a global context.
type ContextOption func(*contextOptions)

type contextOptions struct {
	logger log.Logger
	policy ResolvePolicy
}

// WithContextLogger sets the logger used by the context tree.
func WithContextLogger(logger log.Logger) ContextOption {
	return func(o *contextOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithContextResolvePolicy sets the resolve policy of the context tree.
func WithContextResolvePolicy(p ResolvePolicy) ContextOption {
	return func(o *contextOptions) {
		o.policy = p
	}
}

type listenerEntry struct {
	id string
	l  ContextListener
}

// ComponentContext is a scope of the interface registry. The global context
// is the root; plugin contexts are its children. Registrations of a plugin
// context are published through the global context unless they are private,
// so every context can resolve them, while ownership stays with the plugin
// context that made them.
type ComponentContext struct {
	name       string
	path       string
	instanceID string
	parent     *ComponentContext
	policy     ResolvePolicy
	seq        *atomic.Uint64
	rawLogger  log.Logger
	logger     *log.Helper
	store      *arena

	mu        sync.RWMutex
	state     ContextState
	children  []*ComponentContext
	listeners []listenerEntry
}

// NewGlobalContext creates an active root context.
func NewGlobalContext(opts ...ContextOption) *ComponentContext {
	o := contextOptions{logger: log.DefaultLogger}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	c := newContext(GlobalContextName, "", nil, o.policy, &atomic.Uint64{}, o.logger)
	c.state = ContextActive
	return c
}

func newContext(name, path string, parent *ComponentContext, policy ResolvePolicy, seq *atomic.Uint64, logger log.Logger) *ComponentContext {
	id := uuid.NewString()
	return &ComponentContext{
		name:       name,
		path:       path,
		instanceID: id,
		parent:     parent,
		policy:     policy,
		seq:        seq,
		rawLogger:  logger,
		logger:     log.NewHelper(log.With(logger, "context", name, "context.id", id)),
		store:      newArena(name),
		state:      ContextCreated,
	}
}

// NewChild allocates a plugin context under c. The child stays in
// ContextCreated until Activate attaches it.
func (c *ComponentContext) NewChild(name, path string) *ComponentContext {
	return newContext(name, path, c, c.policy, c.seq, c.rawLogger)
}

// Activate attaches a created context to its parent and opens it for
// registrations.
func (c *ComponentContext) Activate() error {
	c.mu.Lock()
	if c.state != ContextCreated {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("context %s cannot be activated from state %s", c.name, state)
	}
	c.state = ContextActive
	c.mu.Unlock()

	if c.parent != nil {
		c.parent.attach(c)
	}
	return nil
}

func (c *ComponentContext) attach(child *ComponentContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children = append(c.children, child)
}

func (c *ComponentContext) detach(child *ComponentContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ch := range c.children {
		if ch == child {
			c.children = append(c.children[:i], c.children[i+1:]...)
			return
		}
	}
}

// Name implements Context.
func (c *ComponentContext) Name() string { return c.name }

// Path implements Context.
func (c *ComponentContext) Path() string { return c.path }

// InstanceID returns a unique ID of this context instance, used in logs.
func (c *ComponentContext) InstanceID() string { return c.instanceID }

// Parent implements Context.
func (c *ComponentContext) Parent() Context {
	if c.parent == nil {
		return nil
	}
	return c.parent
}

// Policy returns the resolve policy of the context.
func (c *ComponentContext) Policy() ResolvePolicy { return c.policy }

// State returns the lifecycle state.
func (c *ComponentContext) State() ContextState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Len returns the number of live registrations owned by c.
func (c *ComponentContext) Len() int {
	return c.store.size()
}

// RegisterInterface implements Context.
func (c *ComponentContext) RegisterInterface(impl any, opts ...RegisterOption) (Handle, error) {
	if impl == nil {
		return Handle{}, fmt.Errorf("%w: nil implementation", ErrInvalidInterface)
	}
	if state := c.State(); state != ContextActive {
		return Handle{}, fmt.Errorf("%w: %s is %s", ErrContextNotActive, c.name, state)
	}

	o := newRegisterOptions(opts)
	for _, check := range o.checks {
		if err := check(impl); err != nil {
			return Handle{}, err
		}
	}
	keys := o.keys
	if len(keys) == 0 {
		keys = []InterfaceKey{KeyOfValue(impl)}
	}

	rec := &record{
		keys:     keys,
		impl:     impl,
		identity: identityOf(impl),
		owned:    o.owned,
		private:  o.private,
		seq:      c.seq.Add(1),
	}
	h, ok := c.store.insert(rec)
	if !ok {
		if c.State() != ContextActive {
			return Handle{}, fmt.Errorf("%w: %s", ErrContextNotActive, c.name)
		}
		c.logger.Errorf("duplicate registration of %T rejected", impl)
		return Handle{}, fmt.Errorf("%w: %T in context %s", ErrDuplicateInterface, impl, c.name)
	}

	c.notifyRegistered(rec)
	return h, nil
}

// DeregisterInterface implements Context.
func (c *ComponentContext) DeregisterInterface(h Handle) error {
	if !h.issuedBy(c.store) {
		return fmt.Errorf("%w: handle was not issued by context %s", ErrInterfaceNotFound, c.name)
	}
	rec, ok := c.store.remove(h.index, h.gen)
	if !ok {
		return fmt.Errorf("%w: stale handle in context %s", ErrInterfaceNotFound, c.name)
	}
	return c.finishDeregister(rec)
}

// finishDeregister notifies listeners and then releases an owned
// implementation. rec is already out of the arena.
func (c *ComponentContext) finishDeregister(rec *record) error {
	ev := rec.event(c.name)
	creator, isCreator := rec.impl.(ContextCreator)
	for _, l := range c.snapshotListeners() {
		if isCreator {
			c.safeNotify("creator deregistered", func() { l.OnContextCreatorDeregistered(creator) })
		}
		c.safeNotify("interface deregistered", func() { l.OnInterfaceDeregistered(ev) })
	}
	if !rec.owned {
		return nil
	}
	if err := releaseImpl(rec.impl); err != nil {
		c.logger.Warnf("release of %T failed: %v", rec.impl, err)
		return fmt.Errorf("release %T in context %s: %w", rec.impl, c.name, err)
	}
	return nil
}

func (c *ComponentContext) notifyRegistered(rec *record) {
	ev := rec.event(c.name)
	creator, isCreator := rec.impl.(ContextCreator)
	for _, l := range c.snapshotListeners() {
		c.safeNotify("interface registered", func() { l.OnInterfaceRegistered(ev) })
		if isCreator {
			c.safeNotify("creator registered", func() { l.OnContextCreatorRegistered(creator) })
		}
	}
}

func (c *ComponentContext) safeNotify(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("listener panicked on %s: %v", what, r)
		}
	}()
	fn()
}

func releaseImpl(impl any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: release: %v", ErrPluginPanic, r)
		}
	}()
	switch v := impl.(type) {
	case Releaser:
		v.Release()
	case io.Closer:
		return v.Close()
	}
	return nil
}

func (r *record) event(ctxName string) InterfaceEvent {
	return InterfaceEvent{
		Context:   ctxName,
		Keys:      r.keys,
		Interface: r.impl,
		Handle:    r.handle,
		Owned:     r.owned,
		Private:   r.private,
	}
}

// QueryInterface implements Context.
func (c *ComponentContext) QueryInterface(key InterfaceKey) any {
	if rec := c.resolve(key); rec != nil {
		return rec.impl
	}
	return nil
}

// QueryHandle implements Context.
func (c *ComponentContext) QueryHandle(key InterfaceKey) (Handle, bool) {
	if rec := c.resolve(key); rec != nil {
		return rec.handle, true
	}
	return Handle{}, false
}

// QueryInterfaces implements Context.
func (c *ComponentContext) QueryInterfaces(key InterfaceKey) []any {
	seen := make(map[*record]struct{})
	var out []any
	for scope := c; scope != nil; scope = scope.parent {
		for _, rec := range scope.scopeRecords(key) {
			if _, dup := seen[rec]; dup {
				continue
			}
			seen[rec] = struct{}{}
			out = append(out, rec.impl)
		}
	}
	return out
}

func (c *ComponentContext) resolve(key InterfaceKey) *record {
	for scope := c; scope != nil; scope = scope.parent {
		recs := scope.scopeRecords(key)
		if len(recs) == 0 {
			continue
		}
		if scope.policy == ResolveFirstRegistered {
			return recs[0]
		}
		return recs[len(recs)-1]
	}
	return nil
}

// scopeRecords returns what a query sees at this level: every record of the
// context itself plus the published records of attached children.
func (c *ComponentContext) scopeRecords(key InterfaceKey) []*record {
	recs := c.store.collect(key, true)

	c.mu.RLock()
	children := append([]*ComponentContext(nil), c.children...)
	c.mu.RUnlock()
	if len(children) == 0 {
		return recs
	}
	for _, ch := range children {
		recs = append(recs, ch.store.collect(key, false)...)
	}
	sortBySeq(recs)
	return recs
}

// RegisterListener implements Context.
func (c *ComponentContext) RegisterListener(l ContextListener) string {
	if l == nil {
		return ""
	}
	id := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listenerEntry{id: id, l: l})
	return id
}

// DeregisterListener implements Context.
func (c *ComponentContext) DeregisterListener(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.listeners {
		if e.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (c *ComponentContext) snapshotListeners() []ContextListener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ContextListener, len(c.listeners))
	for i, e := range c.listeners {
		out[i] = e.l
	}
	return out
}

// Destroy tears the context down: attached children first, then every
// registration of c in reverse registration order, then the arena itself,
// which invalidates every handle c issued. Destroying twice reports
// ErrContextNotFound.
func (c *ComponentContext) Destroy() error {
	c.mu.Lock()
	if c.state == ContextDestroying || c.state == ContextDestroyed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrContextNotFound, c.name)
	}
	c.state = ContextDestroying
	children := make([]*ComponentContext, len(c.children))
	for i, ch := range c.children {
		children[len(c.children)-1-i] = ch
	}
	c.mu.Unlock()

	var result *multierror.Error
	for _, ch := range children {
		if err := ch.Destroy(); err != nil && !errors.Is(err, ErrContextNotFound) {
			result = multierror.Append(result, err)
		}
	}

	recs := c.store.snapshot()
	for i := len(recs) - 1; i >= 0; i-- {
		h := recs[i].handle
		rec, ok := c.store.remove(h.index, h.gen)
		if !ok {
			// a listener deregistered it while we were tearing down
			continue
		}
		if err := c.finishDeregister(rec); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.store.invalidate()

	if c.parent != nil {
		c.parent.detach(c)
	}

	c.mu.Lock()
	c.state = ContextDestroyed
	c.listeners = nil
	c.mu.Unlock()

	c.logger.Debugf("context destroyed (%d registrations torn down)", len(recs))
	return result.ErrorOrNil()
}
