package boot

import (
	"context"

	"github.com/go-lynx/plughost/loader"
	"github.com/go-lynx/plughost/log"
	"github.com/go-lynx/plughost/plugins"
)

// startWatcher hot loads modules dropped into the plugin folder and
// unloads the ones removed from it, when plugins.watch is set.
func (app *Application) startWatcher(ctx context.Context) {
	p := app.bc.Plughost.Plugins
	if !p.Watch {
		return
	}
	w, err := loader.NewWatcher(p.Folder, p.Extensions, app.logger)
	if err != nil {
		log.Warnf("plugin folder watch disabled: %v", err)
		return
	}
	app.watcher = w

	app.bg.Add(2)
	go func() {
		defer app.bg.Done()
		_ = w.Run(ctx)
	}()
	go func() {
		defer app.bg.Done()
		for change := range w.Changes() {
			app.applyChange(ctx, change)
		}
	}()
	log.Infof("watching %s for plugin changes", p.Folder)
}

func (app *Application) applyChange(ctx context.Context, change loader.Change) {
	switch change.Kind {
	case loader.ModuleAdded:
		report := app.manager.LoadPlugins(ctx, []string{change.Path})
		if err := report.Err(); err != nil {
			log.Warnf("hot load of %s: %v", change.Path, err)
		}
	case loader.ModuleRemoved:
		id := plugins.NewPluginID(change.Path)
		if !app.manager.IsLoaded(id) {
			return
		}
		if err := app.manager.UnloadPlugins(ctx, []plugins.PluginID{id}); err != nil {
			log.Warnf("hot unload of %s: %v", id, err)
		}
	}
}
