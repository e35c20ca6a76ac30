// Package plughost hosts dynamically loaded plugin modules.
//
// This file (ops.go) contains plugin manager operations including:
//   - LoadPlugins: open, construct and run the two-pass load of a batch
//   - UnloadPlugins / UnloadAll: reverse order teardown of loaded plugins
//   - ReloadPlugin: unload and load the same module path again
package plughost

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/go-lynx/plughost/conf"
	"github.com/go-lynx/plughost/plugins"
)

// LoadPlugins loads one batch of modules in the given order: open and
// construct every module, run every PostLoad, drop plugins whose required
// interfaces are missing, then run every Initialize. Failures of single
// plugins never abort the batch; they are collected in the report.
func (m *PluginManager) LoadPlugins(ctx context.Context, paths []string) *LoadReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx, paths)
}

func (m *PluginManager) loadLocked(ctx context.Context, paths []string) *LoadReport {
	ctx, span := m.tracer.Start(ctx, conf.SpanLoadPlugins)
	defer span.End()
	span.SetAttributes(attribute.Int(conf.AttrRequested, len(paths)))

	start := time.Now()
	report := &LoadReport{Requested: len(paths)}

	batch := m.preparePlugins(ctx, paths, report)
	batch = m.postLoadPass(ctx, batch, report)
	batch = m.dependencyPass(ctx, batch, report)
	m.initializePass(ctx, batch, report)

	now := time.Now()
	for _, p := range batch {
		p.loadedAt = now
		m.loaded = append(m.loaded, p)
		m.byID[p.id] = p
		report.Loaded = append(report.Loaded, p.id)
		m.metrics.ObserveLoad("complete", "success")
	}
	report.Duration = time.Since(start)
	m.metrics.ObserveLoadDuration(report.Duration)
	m.updateGauges()

	span.SetAttributes(
		attribute.Int(conf.AttrLoaded, len(report.Loaded)),
		attribute.Int(conf.AttrFailed, len(report.Failed)),
		attribute.String(conf.AttrStatus, report.Status().String()),
	)
	if report.Status() == LoadFailed {
		span.SetStatus(codes.Error, "no plugin loaded")
	}

	switch report.Status() {
	case LoadComplete:
		m.logger.Infof("loaded %d plugins in %v", len(report.Loaded), report.Duration)
	case LoadPartial:
		m.logger.Warnf("loaded %d of %d plugins in %v: %v", len(report.Loaded), report.Requested, report.Duration, report.Err())
	case LoadFailed:
		m.logger.Errorf("no plugin of %d loaded: %v", report.Requested, report.Err())
	}
	return report
}

// UnloadPlugins unloads the given plugins: Finalize over all of them in
// reverse load order, then Unload likewise, then each context and module.
// Errors are collected, never aborting the unload. Unknown IDs are
// reported as plugins.ErrPluginNotFound.
func (m *PluginManager) UnloadPlugins(ctx context.Context, ids []plugins.PluginID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[plugins.PluginID]struct{}, len(ids))
	var result *multierror.Error
	for _, id := range ids {
		if _, ok := m.byID[id]; !ok {
			result = multierror.Append(result, fmt.Errorf("%w: %s", plugins.ErrPluginNotFound, id))
			continue
		}
		want[id] = struct{}{}
	}
	var batch []*loadedPlugin
	for _, p := range m.loaded {
		if _, ok := want[p.id]; ok {
			batch = append(batch, p)
		}
	}
	if err := m.unloadLocked(ctx, batch); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// UnloadAll unloads every loaded plugin.
func (m *PluginManager) UnloadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(ctx, append([]*loadedPlugin(nil), m.loaded...))
}

func (m *PluginManager) unloadLocked(ctx context.Context, batch []*loadedPlugin) error {
	if len(batch) == 0 {
		return nil
	}
	ctx, span := m.tracer.Start(ctx, conf.SpanUnloadPlugins)
	defer span.End()
	span.SetAttributes(attribute.Int(conf.AttrRequested, len(batch)))

	var errs []error
	errs = append(errs, m.finalizePass(ctx, batch)...)
	errs = append(errs, m.unloadPass(ctx, batch)...)
	errs = append(errs, m.releasePass(ctx, batch)...)

	gone := make(map[plugins.PluginID]struct{}, len(batch))
	for _, p := range batch {
		gone[p.id] = struct{}{}
		delete(m.byID, p.id)
	}
	kept := m.loaded[:0]
	for _, p := range m.loaded {
		if _, ok := gone[p.id]; !ok {
			kept = append(kept, p)
		}
	}
	clear(m.loaded[len(kept):])
	m.loaded = kept
	m.updateGauges()

	if len(errs) > 0 {
		err := multierror.Append(nil, errs...).ErrorOrNil()
		span.SetStatus(codes.Error, "unload finished with errors")
		m.logger.Warnf("unloaded %d plugins with %d errors: %v", len(batch), len(errs), err)
		return err
	}
	m.logger.Infof("unloaded %d plugins", len(batch))
	return nil
}

// ReloadPlugin unloads a plugin and loads it again from the same path.
func (m *PluginManager) ReloadPlugin(ctx context.Context, id plugins.PluginID) (*LoadReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", plugins.ErrPluginNotFound, id)
	}
	path := p.path
	unloadErr := m.unloadLocked(ctx, []*loadedPlugin{p})
	report := m.loadLocked(ctx, []string{path})
	return report, unloadErr
}

// LoadedPath returns the module path of a loaded plugin.
func (m *PluginManager) LoadedPath(id plugins.PluginID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return "", false
	}
	return p.path, true
}
