// Package plughost is a host for dynamically loaded plugin modules.
//
// Plugins never talk to each other directly. Each plugin gets a component
// context and publishes the interfaces it implements there; any plugin can
// query an interface by type and receives whatever implementation is
// registered, whoever registered it.
//
// # Architecture
//
//   - ContextManager: owns the global context and one context per plugin,
//     and fans registered context creators out to every plugin context
//   - PluginManager: opens modules, drives the two-pass load protocol and
//     the reverse-order unload, and reports partial failures
//   - plugins: the contracts shared with plugin modules and the interface
//     registry itself
//   - loader: plugin discovery (list file, folder) and module openers
//   - boot: the host entry point built on top of all of the above
//
// # File Organization
//
// The root package contains the following files:
//
//   - app.go: PluginManager structure, options and accessors
//   - context_manager.go: ContextManager
//   - prepare.go: opening modules and constructing plugins
//   - lifecycle.go: the PostLoad, Initialize, Finalize and Unload passes
//   - topology.go: required-interface checks after PostLoad
//   - ops.go: LoadPlugins, UnloadPlugins, ReloadPlugin
//   - report.go: LoadReport
//   - recovery.go: panic containment around plugin code
//
// # Quick Start
//
//	m := plughost.NewPluginManager(
//	    plughost.WithOpener(loader.NewGoPluginOpener()),
//	    plughost.WithLogger(logger),
//	)
//	report := m.LoadPlugins(ctx, paths)
//	if report.Status() == plughost.LoadFailed {
//	    return report.Err()
//	}
//	defer m.Close(ctx)
//
//	if app := m.Application(); app != nil {
//	    os.Exit(app.StartApplication())
//	}
//
// # Load Protocol
//
// A batch of plugins is loaded in the order given. Every plugin of the
// batch is constructed, then every PostLoad runs, then every Initialize.
// A plugin publishes in PostLoad and may rely in Initialize on anything
// published by the batch. Unloading runs every Finalize and then every
// Unload in reverse load order before any context is destroyed.
package plughost
