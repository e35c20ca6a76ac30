// Package plughost hosts dynamically loaded plugin modules.
//
// This file (prepare.go) contains plugin preparation:
//   - Path normalization and duplicate detection
//   - Module opening through the configured Opener
//   - Context creation and entry construction with panic recovery
package plughost

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-lynx/plughost/conf"
	"github.com/go-lynx/plughost/plugins"
)

// preparePlugins opens and constructs every module of a batch in order.
// Plugins that fail are recorded in report and left fully torn down.
func (m *PluginManager) preparePlugins(ctx context.Context, paths []string, report *LoadReport) []*loadedPlugin {
	_, span := m.tracer.Start(ctx, conf.SpanPrepare)
	defer span.End()

	seen := make(map[plugins.PluginID]struct{}, len(paths))
	batch := make([]*loadedPlugin, 0, len(paths))
	for _, path := range paths {
		id := plugins.NewPluginID(path)
		if id == "" {
			m.recordFailure(report, id, path, StageOpen,
				plugins.NewPluginError(id, "Open", "empty module path", plugins.ErrModuleOpen))
			continue
		}
		if _, dup := seen[id]; dup {
			m.recordFailure(report, id, path, StageOpen,
				plugins.NewPluginError(id, "Open", "repeated in batch", plugins.ErrPluginAlreadyLoaded))
			continue
		}
		seen[id] = struct{}{}
		if _, loaded := m.byID[id]; loaded {
			m.recordFailure(report, id, path, StageOpen,
				plugins.NewPluginError(id, "Open", "already loaded", plugins.ErrPluginAlreadyLoaded))
			continue
		}

		if p := m.preparePlugin(id, path, report); p != nil {
			batch = append(batch, p)
		}
	}
	return batch
}

func (m *PluginManager) preparePlugin(id plugins.PluginID, path string, report *LoadReport) *loadedPlugin {
	mod, err := m.opener.Open(path)
	if err != nil {
		if !errors.Is(err, plugins.ErrModuleOpen) && !errors.Is(err, plugins.ErrEntryNotFound) {
			err = fmt.Errorf("%w: %v", plugins.ErrModuleOpen, err)
		}
		m.recordFailure(report, id, path, StageOpen, plugins.NewPluginError(id, "Open", "module could not be opened", err))
		return nil
	}
	entry := mod.Entry()
	if entry == nil {
		m.closeModule(id, mod)
		m.recordFailure(report, id, path, StageOpen,
			plugins.NewPluginError(id, "Open", "module has no entry", plugins.ErrEntryNotFound))
		return nil
	}

	p := &loadedPlugin{id: id, path: path, module: mod, state: plugins.StateOpened}
	p.ctx = m.contexts.CreateContext(id, path)
	if p.ctx == nil {
		m.closeModule(id, mod)
		m.recordFailure(report, id, path, StageConstruct,
			plugins.NewPluginError(id, hookConstruct, "context could not be created", plugins.ErrContextExists))
		return nil
	}

	pm, err := m.safeConstruct(p, entry)
	if err != nil {
		m.discard(p)
		m.recordFailure(report, id, path, StageConstruct, err)
		return nil
	}
	p.main = pm
	p.state = plugins.StateConstructed
	m.logger.Debugf("constructed plugin %s from %s", id, path)
	return p
}

func (m *PluginManager) recordFailure(report *LoadReport, id plugins.PluginID, path string, stage LoadStage, err error) {
	m.logger.Warnf("plugin %s failed at %s: %v", id, stage, err)
	report.fail(id, path, stage, err)
	m.metrics.ObserveLoad(string(stage), "failure")
}

// discard destroys p's context and releases its module, without running
// any hook.
func (m *PluginManager) discard(p *loadedPlugin) {
	if p.ctx != nil {
		if err := m.contexts.DestroyContext(p.id); err != nil && !errors.Is(err, plugins.ErrContextNotFound) {
			m.logger.Warnf("destroy context of %s: %v", p.id, err)
		}
	}
	m.closeModule(p.id, p.module)
	p.state = plugins.StateFailed
}

func (m *PluginManager) closeModule(id plugins.PluginID, mod interface{ Close() error }) {
	if mod == nil {
		return
	}
	if err := mod.Close(); err != nil {
		m.logger.Warnf("release module of %s: %v", id, err)
	}
}
