// Package metrics holds the host's Prometheus registry and the collectors
// the plugin manager and component contexts report into.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry collects everything the host registers
	registry = prometheus.NewRegistry()

	mu sync.Mutex
	// gatherers of plugins that keep a private registry
	extraGatherers []prometheus.Gatherer
)

// Registry returns the host registry.
func Registry() *prometheus.Registry {
	return registry
}

// RegisterGatherer adds a private registry to what Handler serves.
func RegisterGatherer(g prometheus.Gatherer) {
	if g == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	extraGatherers = append(extraGatherers, g)
}

// RegisterCollector registers c with the host registry.
func RegisterCollector(c prometheus.Collector) error {
	return registry.Register(c)
}

// MustRegister registers collectors in batch and panics on failure.
func MustRegister(cs ...prometheus.Collector) {
	registry.MustRegister(cs...)
}

// PluginRegisterer returns a registerer that stamps every metric with the
// plugin label.
func PluginRegisterer(reg prometheus.Registerer, plugin string) prometheus.Registerer {
	if reg == nil {
		reg = registry
	}
	return prometheus.WrapRegistererWith(prometheus.Labels{"plugin": plugin}, reg)
}

// registerOrExisting registers c and, when an equal collector is already
// registered, returns the existing one instead.
func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func gatherers() prometheus.Gatherers {
	mu.Lock()
	defer mu.Unlock()
	g := prometheus.Gatherers{registry, prometheus.DefaultGatherer}
	return append(g, extraGatherers...)
}
