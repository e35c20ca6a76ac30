// Package plughost hosts dynamically loaded plugin modules.
//
// This file (app.go) contains the PluginManager structure, its options
// and its query API.
package plughost

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-lynx/plughost/conf"
	"github.com/go-lynx/plughost/loader"
	"github.com/go-lynx/plughost/observability/metrics"
	"github.com/go-lynx/plughost/plugins"
)


// loadedPlugin is the manager's record of one plugin.
type loadedPlugin struct {
	id       plugins.PluginID
	path     string
	module   loader.Module
	ctx      *plugins.ComponentContext
	main     plugins.PluginMain
	state    plugins.PluginState
	loadedAt time.Time
}

// PluginInfo describes a loaded plugin.
type PluginInfo struct {
	ID       plugins.PluginID
	Path     string
	State    plugins.PluginState
	LoadedAt time.Time
}

// Option configures a PluginManager.
type Option func(*options)

type options struct {
	opener    loader.Opener
	logger    log.Logger
	policy    plugins.ResolvePolicy
	metrics   *metrics.HostMetrics
	tracer    trace.Tracer
	listeners []plugins.ContextListener
}

// WithOpener sets how modules are opened. The default opens Go plugins.
func WithOpener(o loader.Opener) Option {
	return func(opts *options) {
		if o != nil {
			opts.opener = o
		}
	}
}

// WithLogger sets the logger of the manager and everything it creates.
func WithLogger(logger log.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithResolvePolicy picks which of several implementations of one key a
// single-result query returns.
func WithResolvePolicy(p plugins.ResolvePolicy) Option {
	return func(opts *options) {
		opts.policy = p
	}
}

// WithMetrics reports load results and registry activity to m.
func WithMetrics(m *metrics.HostMetrics) Option {
	return func(opts *options) {
		opts.metrics = m
	}
}

// WithTracer sets the tracer used for load and unload spans. The default
// comes from the global OpenTelemetry tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(opts *options) {
		if t != nil {
			opts.tracer = t
		}
	}
}

// WithListener attaches l to every context of the manager.
func WithListener(l plugins.ContextListener) Option {
	return func(opts *options) {
		if l != nil {
			opts.listeners = append(opts.listeners, l)
		}
	}
}

// PluginManager loads, tracks and unloads plugins. Lifecycle operations
// are serialized; interface queries through the contexts are not.
type PluginManager struct {
	opener   loader.Opener
	logger   *log.Helper
	metrics  *metrics.HostMetrics
	tracer   trace.Tracer
	contexts *ContextManager

	mu     sync.Mutex
	loaded []*loadedPlugin
	byID   map[plugins.PluginID]*loadedPlugin
}

// NewPluginManager creates a manager with an empty global context.
func NewPluginManager(opts ...Option) *PluginManager {
	o := options{
		opener: loader.NewGoPluginOpener(),
		logger: log.DefaultLogger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(conf.TracerName)
	}

	cmOpts := []ContextManagerOption{
		WithContextLogger(o.logger),
		WithContextResolvePolicy(o.policy),
	}
	if o.metrics != nil {
		cmOpts = append(cmOpts, WithContextListener(o.metrics.Listener()))
	}
	for _, l := range o.listeners {
		cmOpts = append(cmOpts, WithContextListener(l))
	}

	return &PluginManager{
		opener:   o.opener,
		logger:   log.NewHelper(log.With(o.logger, "module", "plugin_manager")),
		metrics:  o.metrics,
		tracer:   o.tracer,
		contexts: NewContextManager(cmOpts...),
		byID:     make(map[plugins.PluginID]*loadedPlugin),
	}
}

// ContextManager returns the manager's context manager.
func (m *PluginManager) ContextManager() *ContextManager {
	return m.contexts
}

// GlobalContext is a shorthand for ContextManager().GetGlobalContext().
func (m *PluginManager) GlobalContext() *plugins.ComponentContext {
	return m.contexts.GetGlobalContext()
}

// Application returns the application registered by the loaded plugins,
// nil when there is none.
func (m *PluginManager) Application() plugins.Application {
	global := m.contexts.GetGlobalContext()
	if global == nil {
		return nil
	}
	return plugins.Query[plugins.Application](global)
}

// Plugins describes the loaded plugins in load order.
func (m *PluginManager) Plugins() []PluginInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PluginInfo, 0, len(m.loaded))
	for _, p := range m.loaded {
		out = append(out, PluginInfo{ID: p.id, Path: p.path, State: p.state, LoadedAt: p.loadedAt})
	}
	return out
}

// PluginStates reports the state of every loaded plugin by ID. It feeds
// the plugin state collector.
func (m *PluginManager) PluginStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.loaded))
	for _, p := range m.loaded {
		out[string(p.id)] = p.state.String()
	}
	return out
}

// IsLoaded reports whether id is currently loaded.
func (m *PluginManager) IsLoaded(id plugins.PluginID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byID[id]
	return ok
}

// Close unloads every plugin and destroys the global context. The manager
// cannot be used afterwards.
func (m *PluginManager) Close(ctx context.Context) error {
	unloadErr := m.UnloadAll(ctx)
	if err := m.contexts.Close(); err != nil {
		m.logger.Warnf("context manager closed with errors: %v", err)
		if unloadErr == nil {
			return err
		}
	}
	return unloadErr
}

func (m *PluginManager) updateGauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.SetLoadedPlugins(len(m.loaded))
	m.metrics.SetActiveContexts(len(m.contexts.Contexts()))
}
