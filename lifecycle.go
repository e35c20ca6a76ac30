// Package plughost hosts dynamically loaded plugin modules.
//
// This file (lifecycle.go) contains the plugin lifecycle passes:
//   - PostLoad pass with immediate teardown of failing plugins
//   - Initialize pass that reports failures but keeps plugins loaded
//   - Finalize, Unload and release passes in reverse load order
package plughost

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/go-lynx/plughost/conf"
	"github.com/go-lynx/plughost/plugins"
)

// postLoadPass runs PostLoad over the whole batch before anything else
// happens. A plugin whose PostLoad fails is unloaded and dropped.
func (m *PluginManager) postLoadPass(ctx context.Context, batch []*loadedPlugin, report *LoadReport) []*loadedPlugin {
	_, span := m.tracer.Start(ctx, conf.SpanPostLoad)
	defer span.End()

	survivors := batch[:0:0]
	for _, p := range batch {
		if err := m.safeHook(p, hookPostLoad, p.main.PostLoad); err != nil {
			m.teardown(p)
			m.recordFailure(report, p.id, p.path, StagePostLoad, err)
			span.RecordError(err, withPlugin(p))
			continue
		}
		p.state = plugins.StatePostLoaded
		survivors = append(survivors, p)
	}
	span.SetAttributes(attribute.Int(conf.AttrSurvivors, len(survivors)))
	return survivors
}

// initializePass runs Initialize over the survivors. A failing plugin is
// reported but stays loaded: it already published its interfaces.
func (m *PluginManager) initializePass(ctx context.Context, batch []*loadedPlugin, report *LoadReport) {
	_, span := m.tracer.Start(ctx, conf.SpanInitialize)
	defer span.End()

	for _, p := range batch {
		if err := m.safeHook(p, hookInitialize, p.main.Initialize); err != nil {
			m.recordFailure(report, p.id, p.path, StageInitialize, err)
			span.RecordError(err, withPlugin(p))
		}
		p.state = plugins.StateInitialized
	}
}

// finalizePass runs Finalize in reverse load order.
func (m *PluginManager) finalizePass(ctx context.Context, batch []*loadedPlugin) []error {
	_, span := m.tracer.Start(ctx, conf.SpanFinalize)
	defer span.End()

	var errs []error
	for i := len(batch) - 1; i >= 0; i-- {
		p := batch[i]
		if err := m.safeHook(p, hookFinalize, p.main.Finalize); err != nil {
			m.logger.Errorf("finalize %s: %v", p.id, err)
			span.RecordError(err, withPlugin(p))
			errs = append(errs, err)
		}
		p.state = plugins.StateFinalized
	}
	return errs
}

// unloadPass runs Unload in reverse load order.
func (m *PluginManager) unloadPass(ctx context.Context, batch []*loadedPlugin) []error {
	_, span := m.tracer.Start(ctx, conf.SpanUnload)
	defer span.End()

	var errs []error
	for i := len(batch) - 1; i >= 0; i-- {
		p := batch[i]
		if err := m.safeHook(p, hookUnload, p.main.Unload); err != nil {
			m.logger.Errorf("unload %s: %v", p.id, err)
			span.RecordError(err, withPlugin(p))
			errs = append(errs, err)
		}
	}
	return errs
}

// releasePass destroys contexts and releases modules in reverse load order.
func (m *PluginManager) releasePass(ctx context.Context, batch []*loadedPlugin) []error {
	_, span := m.tracer.Start(ctx, conf.SpanRelease)
	defer span.End()

	var errs []error
	for i := len(batch) - 1; i >= 0; i-- {
		p := batch[i]
		if err := m.contexts.DestroyContext(p.id); err != nil {
			m.logger.Errorf("destroy context of %s: %v", p.id, err)
			errs = append(errs, plugins.NewPluginError(p.id, "DestroyContext", "context teardown failed", err))
		}
		if p.module != nil {
			if err := p.module.Close(); err != nil {
				m.logger.Errorf("release module of %s: %v", p.id, err)
				errs = append(errs, plugins.NewPluginError(p.id, "Release", "module release failed", err))
			}
		}
		p.state = plugins.StateUnloaded
	}
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "release failed")
	}
	return errs
}

// teardown unloads a single plugin dropped from its batch after PostLoad
// ran: Unload, then its context, then its module.
func (m *PluginManager) teardown(p *loadedPlugin) {
	if err := m.safeHook(p, hookUnload, p.main.Unload); err != nil {
		m.logger.Warnf("unload of dropped plugin %s: %v", p.id, err)
	}
	m.discard(p)
}
