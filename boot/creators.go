package boot

import (
	"sync"

	klog "github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-lynx/plughost/observability/metrics"
	"github.com/go-lynx/plughost/plugins"
)

// LoggerContextCreator gives every plugin context its own kratos logger,
// tagged with the plugin ID. Plugins fetch it with
// plugins.Query[log.Logger](ctx).
type LoggerContextCreator struct {
	Logger klog.Logger
}

func (c *LoggerContextCreator) Type() string { return "logger" }

func (c *LoggerContextCreator) InterfaceKey() plugins.InterfaceKey {
	return plugins.KeyOf[klog.Logger]()
}

func (c *LoggerContextCreator) CreateContext(ctx plugins.Context) any {
	if c.Logger == nil {
		return nil
	}
	return klog.With(c.Logger, "plugin", ctx.Name())
}

// MetricsContextCreator gives every plugin context a prometheus.Registerer
// that labels what the plugin registers with plugin=<id>. Collectors a
// plugin leaves behind are unregistered when its context goes away.
type MetricsContextCreator struct {
	Registerer prometheus.Registerer
}

func (c *MetricsContextCreator) Type() string { return "metrics" }

func (c *MetricsContextCreator) InterfaceKey() plugins.InterfaceKey {
	return plugins.KeyOf[prometheus.Registerer]()
}

func (c *MetricsContextCreator) CreateContext(ctx plugins.Context) any {
	if c.Registerer == nil {
		return nil
	}
	return &pluginRegisterer{inner: metrics.PluginRegisterer(c.Registerer, ctx.Name())}
}

// pluginRegisterer remembers what went through it so Release can undo it.
type pluginRegisterer struct {
	inner prometheus.Registerer

	mu         sync.Mutex
	collectors []prometheus.Collector
}

func (r *pluginRegisterer) Register(c prometheus.Collector) error {
	if err := r.inner.Register(c); err != nil {
		return err
	}
	r.mu.Lock()
	r.collectors = append(r.collectors, c)
	r.mu.Unlock()
	return nil
}

func (r *pluginRegisterer) MustRegister(cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

func (r *pluginRegisterer) Unregister(c prometheus.Collector) bool {
	if !r.inner.Unregister(c) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.collectors {
		if other == c {
			r.collectors = append(r.collectors[:i], r.collectors[i+1:]...)
			break
		}
	}
	return true
}

// Release implements plugins.Releaser.
func (r *pluginRegisterer) Release() {
	r.mu.Lock()
	cs := r.collectors
	r.collectors = nil
	r.mu.Unlock()
	for i := len(cs) - 1; i >= 0; i-- {
		r.inner.Unregister(cs[i])
	}
}
