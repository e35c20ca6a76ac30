package plugins

// InterfaceEvent describes one registration or deregistration.
type InterfaceEvent struct {
	// Context is the name of the context the registration belongs to
	Context string

	// Keys are the interface keys of the registration
	Keys []InterfaceKey

	// Interface is the registered implementation
	Interface any

	// Handle addresses the registration. It is already invalid in a
	// deregistration event.
	Handle Handle

	// Owned reports whether the registry owns the implementation
	Owned bool

	// Private reports whether the registration is visible only locally
	Private bool
}

// ContextListener observes a component context. Callbacks run synchronously
// on the goroutine that mutated the context, after the context released its
// own locks. Deregistration callbacks run before an owned implementation is
// released.
type ContextListener interface {
	OnContextCreatorRegistered(creator ContextCreator)
	OnContextCreatorDeregistered(creator ContextCreator)
	OnInterfaceRegistered(ev InterfaceEvent)
	OnInterfaceDeregistered(ev InterfaceEvent)
}

// BaseContextListener implements ContextListener with no-ops so listeners
// only override what they need.
type BaseContextListener struct{}

func (BaseContextListener) OnContextCreatorRegistered(ContextCreator)   {}
func (BaseContextListener) OnContextCreatorDeregistered(ContextCreator) {}
func (BaseContextListener) OnInterfaceRegistered(InterfaceEvent)        {}
func (BaseContextListener) OnInterfaceDeregistered(InterfaceEvent)      {}

// ContextCreator produces a per-plugin interface instance. When a creator is
// registered, the context manager asks it for an instance for every plugin
// context, present and future, and registers the instance privately (and
// owned) in that context under InterfaceKey.
type ContextCreator interface {
	// Type names the creator. The context manager tracks one creator per type.
	Type() string

	// InterfaceKey is the key the produced instances are registered under.
	InterfaceKey() InterfaceKey

	// CreateContext returns the instance for the plugin context ctx, or nil
	// to skip that context.
	CreateContext(ctx Context) any
}
