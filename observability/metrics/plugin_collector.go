package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-lynx/plughost/conf"
)

// PluginStateSource reports the pipeline state of every loaded plugin,
// keyed by plugin ID.
type PluginStateSource interface {
	PluginStates() map[string]string
}

// pluginCollector exposes plughost_plugin_state{plugin,state} 1 for every
// loaded plugin at scrape time.
type pluginCollector struct {
	src  PluginStateSource
	desc *prometheus.Desc
}

// NewPluginCollector creates a collector over src.
func NewPluginCollector(src PluginStateSource) prometheus.Collector {
	return &pluginCollector{
		src: src,
		desc: prometheus.NewDesc(
			conf.MetricsNamespace+"_plugin_state",
			"Pipeline state of a loaded plugin (always 1, state in label).",
			[]string{"plugin", "state"}, nil,
		),
	}
}

func (c *pluginCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *pluginCollector) Collect(ch chan<- prometheus.Metric) {
	for id, state := range c.src.PluginStates() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, 1, id, state)
	}
}
