package plugins

// BasePlugin implements PluginMain with no-op hooks. Plugins embed it and
// override the hooks they need.
type BasePlugin struct {
	ctx Context
}

// NewBasePlugin binds a base plugin to its context.
func NewBasePlugin(ctx Context) BasePlugin {
	return BasePlugin{ctx: ctx}
}

// Context returns the plugin's component context.
func (b *BasePlugin) Context() Context { return b.ctx }

// ID returns the plugin ID, taken from the context name.
func (b *BasePlugin) ID() PluginID {
	if b.ctx == nil {
		return ""
	}
	return PluginID(b.ctx.Name())
}

func (b *BasePlugin) PostLoad(Context) error   { return nil }
func (b *BasePlugin) Initialize(Context) error { return nil }
func (b *BasePlugin) Finalize(Context) error   { return nil }
func (b *BasePlugin) Unload(Context) error     { return nil }
