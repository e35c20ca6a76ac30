// Package plughost hosts dynamically loaded plugin modules.
//
// This file (context_manager.go) contains the ContextManager that owns
// the global context, the plugin contexts and the context creators.
package plughost

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/go-multierror"

	"github.com/go-lynx/plughost/plugins"
)

// creatorRegistration tracks the instances one context creator produced.
type creatorRegistration struct {
	creator plugins.ContextCreator
	refs    []plugins.Handle
}

// ContextManagerOption configures a ContextManager.
type ContextManagerOption func(*contextManagerOptions)

type contextManagerOptions struct {
	logger    log.Logger
	policy    plugins.ResolvePolicy
	listeners []plugins.ContextListener
}

// WithContextLogger sets the logger of the manager and its contexts.
func WithContextLogger(logger log.Logger) ContextManagerOption {
	return func(o *contextManagerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithContextResolvePolicy sets the resolve policy of every context.
func WithContextResolvePolicy(p plugins.ResolvePolicy) ContextManagerOption {
	return func(o *contextManagerOptions) {
		o.policy = p
	}
}

// WithContextListener attaches l to the global context and to every plugin
// context the manager creates.
func WithContextListener(l plugins.ContextListener) ContextManagerOption {
	return func(o *contextManagerOptions) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// ContextManager owns the global context and the plugin contexts. It
// listens to every context it owns: when a ContextCreator is registered
// anywhere, the manager asks it for an instance per plugin context and
// registers that instance, privately and owned, in the plugin context.
type ContextManager struct {
	plugins.BaseContextListener

	logger    *log.Helper
	listeners []plugins.ContextListener

	mu             sync.Mutex
	global         *plugins.ComponentContext
	contexts       map[plugins.PluginID]*plugins.ComponentContext
	order          []plugins.PluginID
	creators       map[string]*creatorRegistration
	creatorOrder   []string
	executablePath string
	closed         bool
}

// NewContextManager creates a manager together with its global context.
func NewContextManager(opts ...ContextManagerOption) *ContextManager {
	o := contextManagerOptions{logger: log.DefaultLogger}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	cm := &ContextManager{
		logger:    log.NewHelper(log.With(o.logger, "module", "context_manager")),
		listeners: o.listeners,
		contexts:  make(map[plugins.PluginID]*plugins.ComponentContext),
		creators:  make(map[string]*creatorRegistration),
	}
	cm.global = plugins.NewGlobalContext(
		plugins.WithContextLogger(o.logger),
		plugins.WithContextResolvePolicy(o.policy),
	)
	cm.attachListeners(cm.global)
	return cm
}

func (cm *ContextManager) attachListeners(ctx *plugins.ComponentContext) {
	ctx.RegisterListener(cm)
	for _, l := range cm.listeners {
		ctx.RegisterListener(l)
	}
}

// GetGlobalContext returns the global context, nil after Close.
func (cm *ContextManager) GetGlobalContext() *plugins.ComponentContext {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.global
}

// GetContext returns the context of a plugin, nil if it has none.
func (cm *ContextManager) GetContext(id plugins.PluginID) *plugins.ComponentContext {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.contexts[id]
}

// Contexts lists the plugin IDs with a live context in creation order.
func (cm *ContextManager) Contexts() []plugins.PluginID {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return append([]plugins.PluginID(nil), cm.order...)
}

// SetExecutablePath records the host executable path for plugins that
// need to locate resources next to it.
func (cm *ContextManager) SetExecutablePath(path string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.executablePath = path
}

// ExecutablePath returns the recorded host executable path.
func (cm *ContextManager) ExecutablePath() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.executablePath
}

// CreateContext creates, attaches and activates the context of a plugin
// and populates it with an instance of every registered context creator.
// It returns nil when id already has a context or the manager is closed.
func (cm *ContextManager) CreateContext(id plugins.PluginID, path string) *plugins.ComponentContext {
	cm.mu.Lock()
	if cm.closed || cm.global == nil {
		cm.mu.Unlock()
		cm.logger.Errorf("context for %s requested after the context manager was closed", id)
		return nil
	}
	if _, exists := cm.contexts[id]; exists {
		cm.mu.Unlock()
		cm.logger.Errorf("context for %s already exists", id)
		return nil
	}
	ctx := cm.global.NewChild(string(id), path)
	cm.contexts[id] = ctx
	cm.order = append(cm.order, id)
	creators := cm.creatorSnapshotLocked()
	cm.mu.Unlock()

	cm.attachListeners(ctx)
	if err := ctx.Activate(); err != nil {
		cm.logger.Errorf("activate context %s: %v", id, err)
	}
	for _, reg := range creators {
		cm.instantiate(reg, ctx)
	}
	cm.logger.Debugf("created context %s (%s)", id, ctx.InstanceID())
	return ctx
}

func (cm *ContextManager) creatorSnapshotLocked() []*creatorRegistration {
	out := make([]*creatorRegistration, 0, len(cm.creatorOrder))
	for _, typ := range cm.creatorOrder {
		out = append(out, cm.creators[typ])
	}
	return out
}

// instantiate asks reg's creator for an instance for ctx and tracks the
// resulting registration. Must be called without cm.mu held.
func (cm *ContextManager) instantiate(reg *creatorRegistration, ctx *plugins.ComponentContext) {
	inst, err := safeCreate(reg.creator, ctx)
	if err != nil {
		cm.logger.Errorf("context creator %s failed for %s: %v", reg.creator.Type(), ctx.Name(), err)
		return
	}
	if inst == nil {
		return
	}
	h, err := ctx.RegisterInterface(inst,
		plugins.WithKey(reg.creator.InterfaceKey()),
		plugins.Owned(),
		plugins.Private(),
	)
	if err != nil {
		cm.logger.Warnf("register %s instance in %s: %v", reg.creator.Type(), ctx.Name(), err)
		return
	}

	cm.mu.Lock()
	current := cm.creators[reg.creator.Type()] == reg
	if current {
		reg.refs = append(reg.refs, h)
	}
	cm.mu.Unlock()

	if !current {
		// the creator went away while it was producing the instance
		if err := ctx.DeregisterInterface(h); err != nil {
			cm.logger.Warnf("drop orphaned %s instance in %s: %v", reg.creator.Type(), ctx.Name(), err)
		}
	}
}

func safeCreate(c plugins.ContextCreator, ctx plugins.Context) (inst any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", plugins.ErrPluginPanic, r)
		}
	}()
	return c.CreateContext(ctx), nil
}

// DestroyContext tears down the context of a plugin and drops every
// creator instance handle that pointed into it.
func (cm *ContextManager) DestroyContext(id plugins.PluginID) error {
	cm.mu.Lock()
	ctx, ok := cm.contexts[id]
	if !ok {
		cm.mu.Unlock()
		return fmt.Errorf("%w: %s", plugins.ErrContextNotFound, id)
	}
	delete(cm.contexts, id)
	for i, other := range cm.order {
		if other == id {
			cm.order = append(cm.order[:i], cm.order[i+1:]...)
			break
		}
	}
	cm.mu.Unlock()

	err := ctx.Destroy()
	cm.sweep()
	if err != nil {
		cm.logger.Warnf("context %s destroyed with errors: %v", id, err)
	}
	return err
}

// sweep drops handles whose registration is gone.
func (cm *ContextManager) sweep() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, reg := range cm.creators {
		live := reg.refs[:0]
		for _, h := range reg.refs {
			if h.Valid() {
				live = append(live, h)
			}
		}
		clear(reg.refs[len(live):])
		reg.refs = live
	}
}

// TrackedRefs returns the live instance handles of a creator type.
func (cm *ContextManager) TrackedRefs(creatorType string) []plugins.Handle {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	reg, ok := cm.creators[creatorType]
	if !ok {
		return nil
	}
	return append([]plugins.Handle(nil), reg.refs...)
}

// CreatorTypes lists the tracked creator types in registration order.
func (cm *ContextManager) CreatorTypes() []string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return append([]string(nil), cm.creatorOrder...)
}

// OnContextCreatorRegistered implements plugins.ContextListener.
func (cm *ContextManager) OnContextCreatorRegistered(c plugins.ContextCreator) {
	typ := c.Type()

	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return
	}
	if _, exists := cm.creators[typ]; exists {
		cm.mu.Unlock()
		cm.logger.Warnf("context creator %s is already registered, ignoring the new one", typ)
		return
	}
	reg := &creatorRegistration{creator: c}
	cm.creators[typ] = reg
	cm.creatorOrder = append(cm.creatorOrder, typ)
	targets := make([]*plugins.ComponentContext, 0, len(cm.order))
	for _, id := range cm.order {
		targets = append(targets, cm.contexts[id])
	}
	cm.mu.Unlock()

	for _, ctx := range targets {
		if ctx.State() == plugins.ContextActive {
			cm.instantiate(reg, ctx)
		}
	}
	cm.logger.Debugf("context creator %s registered, %d contexts populated", typ, len(targets))
}

// OnContextCreatorDeregistered implements plugins.ContextListener. The
// creator's instances are deregistered from their contexts; the contexts
// themselves are left alone.
func (cm *ContextManager) OnContextCreatorDeregistered(c plugins.ContextCreator) {
	typ := c.Type()

	cm.mu.Lock()
	reg, ok := cm.creators[typ]
	if !ok || !sameCreator(reg.creator, c) {
		cm.mu.Unlock()
		return
	}
	delete(cm.creators, typ)
	for i, other := range cm.creatorOrder {
		if other == typ {
			cm.creatorOrder = append(cm.creatorOrder[:i], cm.creatorOrder[i+1:]...)
			break
		}
	}
	refs := reg.refs
	reg.refs = nil
	contexts := make(map[string]*plugins.ComponentContext, len(cm.contexts))
	for id, ctx := range cm.contexts {
		contexts[string(id)] = ctx
	}
	cm.mu.Unlock()

	var result *multierror.Error
	for _, h := range refs {
		if !h.Valid() {
			continue
		}
		ctx, ok := contexts[h.ContextName()]
		if !ok {
			continue
		}
		if err := ctx.DeregisterInterface(h); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		cm.logger.Warnf("context creator %s deregistered with errors: %v", typ, err)
	}
}

// sameCreator compares creators by identity when their dynamic type allows it.
func sameCreator(a, b plugins.ContextCreator) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() && ta.Kind() == reflect.Pointer {
		return a == b
	}
	return true
}

// Close destroys every plugin context in reverse creation order, then the
// global context.
func (cm *ContextManager) Close() error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return nil
	}
	cm.closed = true
	ids := append([]plugins.PluginID(nil), cm.order...)
	cm.mu.Unlock()

	var result *multierror.Error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := cm.DestroyContext(ids[i]); err != nil {
			result = multierror.Append(result, err)
		}
	}

	cm.mu.Lock()
	global := cm.global
	cm.global = nil
	cm.mu.Unlock()
	if global != nil {
		if err := global.Destroy(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	cm.sweep()
	return result.ErrorOrNil()
}
