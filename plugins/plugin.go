// Package plugins provides the contracts shared between the plugin host and
// the plugin modules it loads.
//
// A plugin receives a Context when it is constructed. The context is the
// plugin's view of the interface registry: interfaces registered through it
// are owned by the plugin and are torn down when the plugin's context is
// destroyed. The default implementation is ComponentContext (see context.go).
package plugins

// EntrySymbol is the well-known symbol every plugin module exports.
// It must resolve to an EntryFunc (or a pointer to one).
const EntrySymbol = "PluginMain"

// EntryFunc constructs the plugin's main object. The context passed in is
// the plugin's own component context; it may be used to register early
// interfaces but most plugins defer registration to PostLoad.
type EntryFunc func(ctx Context) PluginMain

// PluginMain is the lifecycle surface of a loaded plugin.
//
// The manager drives the hooks in passes over a whole batch of plugins:
// every PostLoad completes before any Initialize starts, and shutdown runs
// Finalize then Unload in reverse load order.
type PluginMain interface {
	// PostLoad publishes the plugin's interfaces. Returning an error drops
	// the plugin from the batch.
	PostLoad(ctx Context) error

	// Initialize consumes interfaces published by any plugin of the batch.
	Initialize(ctx Context) error

	// Finalize releases whatever Initialize acquired from other plugins.
	Finalize(ctx Context) error

	// Unload runs after every plugin has been finalized, right before the
	// plugin's context is destroyed.
	Unload(ctx Context) error
}

// DependencyAware is implemented by plugins that cannot be initialized
// unless some interfaces are resolvable after the PostLoad pass.
type DependencyAware interface {
	RequiredInterfaces() []InterfaceKey
}

// Application is the object the host starts once all plugins are loaded.
// Exactly one plugin is expected to register it.
type Application interface {
	// StartApplication runs the application and returns the process exit code.
	StartApplication() int

	// QuitApplication asks a running application to return from StartApplication.
	QuitApplication()
}

// CommandLine exposes the host's raw command line to plugins.
type CommandLine interface {
	Args() []string
	Flag(name string) bool
	Param(name string) (string, bool)
}

// PluginState tracks where a plugin is in its load/unload pipeline.
type PluginState int

const (
	// StateOpened indicates the module was opened and its entry symbol resolved.
	StateOpened PluginState = iota

	// StateConstructed indicates the entry func returned the plugin's main object.
	StateConstructed

	// StatePostLoaded indicates PostLoad succeeded.
	StatePostLoaded

	// StateInitialized indicates Initialize ran. The plugin is fully loaded.
	StateInitialized

	// StateFinalized indicates Finalize ran during shutdown.
	StateFinalized

	// StateUnloaded indicates Unload ran and the context was destroyed.
	StateUnloaded

	// StateFailed indicates the plugin was dropped from its batch.
	StateFailed
)

func (s PluginState) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateConstructed:
		return "constructed"
	case StatePostLoaded:
		return "post-loaded"
	case StateInitialized:
		return "initialized"
	case StateFinalized:
		return "finalized"
	case StateUnloaded:
		return "unloaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
