package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-lynx/plughost/conf"
	"github.com/go-lynx/plughost/plugins"
)

// HostMetrics are the collectors of the plugin manager and its contexts.
type HostMetrics struct {
	loadResults    *prometheus.CounterVec
	loadDuration   prometheus.Histogram
	loadedPlugins  prometheus.Gauge
	activeContexts prometheus.Gauge
	interfaceOps   *prometheus.CounterVec
	interfaces     prometheus.Gauge
}

// NewHostMetrics creates the host collectors and registers them with reg,
// the host registry when reg is nil. Registering twice against the same
// registry reuses the collectors already there.
func NewHostMetrics(reg prometheus.Registerer) (*HostMetrics, error) {
	if reg == nil {
		reg = registry
	}
	m := &HostMetrics{
		loadResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: conf.MetricsNamespace,
			Name:      "plugin_load_results_total",
			Help:      "Plugin load outcomes by pipeline stage.",
		}, []string{"stage", "result"}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: conf.MetricsNamespace,
			Name:      "plugin_load_duration_seconds",
			Help:      "Duration of one plugin load batch.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		loadedPlugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: conf.MetricsNamespace,
			Name:      "loaded_plugins",
			Help:      "Number of currently loaded plugins.",
		}),
		activeContexts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: conf.MetricsNamespace,
			Name:      "active_contexts",
			Help:      "Number of live plugin component contexts.",
		}),
		interfaceOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: conf.MetricsNamespace,
			Name:      "interface_operations_total",
			Help:      "Interface registry operations by scope and operation.",
		}, []string{"scope", "operation"}),
		interfaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: conf.MetricsNamespace,
			Name:      "registered_interfaces",
			Help:      "Number of live interface registrations.",
		}),
	}

	var err error
	if m.loadResults, err = registerOrExisting(reg, m.loadResults); err != nil {
		return nil, err
	}
	if m.loadDuration, err = registerOrExisting(reg, m.loadDuration); err != nil {
		return nil, err
	}
	if m.loadedPlugins, err = registerOrExisting(reg, m.loadedPlugins); err != nil {
		return nil, err
	}
	if m.activeContexts, err = registerOrExisting(reg, m.activeContexts); err != nil {
		return nil, err
	}
	if m.interfaceOps, err = registerOrExisting(reg, m.interfaceOps); err != nil {
		return nil, err
	}
	if m.interfaces, err = registerOrExisting(reg, m.interfaces); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveLoad counts one plugin outcome at a pipeline stage.
func (m *HostMetrics) ObserveLoad(stage, result string) {
	if m == nil {
		return
	}
	m.loadResults.WithLabelValues(stage, result).Inc()
}

// ObserveLoadDuration records the duration of a load batch.
func (m *HostMetrics) ObserveLoadDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.loadDuration.Observe(d.Seconds())
}

// SetLoadedPlugins sets the loaded plugins gauge.
func (m *HostMetrics) SetLoadedPlugins(n int) {
	if m == nil {
		return
	}
	m.loadedPlugins.Set(float64(n))
}

// SetActiveContexts sets the live plugin contexts gauge.
func (m *HostMetrics) SetActiveContexts(n int) {
	if m == nil {
		return
	}
	m.activeContexts.Set(float64(n))
}

// Listener returns a context listener that counts registry operations.
// Attach it to every context whose registrations should be counted.
func (m *HostMetrics) Listener() plugins.ContextListener {
	return &registryListener{m: m}
}

type registryListener struct {
	plugins.BaseContextListener
	m *HostMetrics
}

func scopeOf(ev plugins.InterfaceEvent) string {
	if ev.Context == plugins.GlobalContextName {
		return "global"
	}
	return "plugin"
}

func (l *registryListener) OnInterfaceRegistered(ev plugins.InterfaceEvent) {
	if l.m == nil {
		return
	}
	l.m.interfaceOps.WithLabelValues(scopeOf(ev), "register").Inc()
	l.m.interfaces.Inc()
}

func (l *registryListener) OnInterfaceDeregistered(ev plugins.InterfaceEvent) {
	if l.m == nil {
		return
	}
	l.m.interfaceOps.WithLabelValues(scopeOf(ev), "deregister").Inc()
	l.m.interfaces.Dec()
}
