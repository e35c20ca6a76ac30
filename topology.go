// Package plughost hosts dynamically loaded plugin modules.
//
// This file (topology.go) contains required-interface resolution:
//   - Missing interface lookup for DependencyAware plugins
//   - Fixed-point dependency pass dropping plugins whose providers failed
package plughost

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-lynx/plughost/conf"
	"github.com/go-lynx/plughost/plugins"
)

// missingInterfaces returns the required keys of p that its context cannot
// resolve.
func missingInterfaces(p *loadedPlugin) []plugins.InterfaceKey {
	da, ok := p.main.(plugins.DependencyAware)
	if !ok {
		return nil
	}
	var missing []plugins.InterfaceKey
	for _, key := range da.RequiredInterfaces() {
		if p.ctx.QueryInterface(key) == nil {
			missing = append(missing, key)
		}
	}
	return missing
}

// dependencyPass drops plugins whose required interfaces are not
// resolvable once every PostLoad ran. Dropping a plugin withdraws what it
// published, so the check repeats until no plugin is dropped.
func (m *PluginManager) dependencyPass(ctx context.Context, batch []*loadedPlugin, report *LoadReport) []*loadedPlugin {
	_, span := m.tracer.Start(ctx, conf.SpanDependencies)
	defer span.End()

	for {
		survivors := batch[:0:0]
		dropped := 0
		for _, p := range batch {
			missing := missingInterfaces(p)
			if len(missing) == 0 {
				survivors = append(survivors, p)
				continue
			}
			err := plugins.NewPluginError(p.id, "RequiredInterfaces",
				fmt.Sprintf("missing %s", joinKeys(missing)), plugins.ErrDependencyNotMet)
			m.teardown(p)
			m.recordFailure(report, p.id, p.path, StageDependencies, err)
			span.RecordError(err, withPlugin(p))
			dropped++
		}
		batch = survivors
		if dropped == 0 {
			return batch
		}
	}
}

func joinKeys(keys []plugins.InterfaceKey) string {
	s := make([]string, len(keys))
	for i, k := range keys {
		s[i] = string(k)
	}
	return strings.Join(s, ", ")
}

func withPlugin(p *loadedPlugin) trace.EventOption {
	return trace.WithAttributes(attribute.String(conf.AttrPlugin, string(p.id)))
}
