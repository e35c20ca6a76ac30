// Package plughost hosts dynamically loaded plugin modules.
//
// This file (recovery.go) contains panic containment for plugin code:
//   - safeHook and safeConstruct turning panics into PluginErrors
//   - Stack capture for diagnostics
package plughost

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/go-lynx/plughost/plugins"
)

// hook names used in errors and logs
const (
	hookConstruct  = "Construct"
	hookPostLoad   = "PostLoad"
	hookInitialize = "Initialize"
	hookFinalize   = "Finalize"
	hookUnload     = "Unload"
)

// safeHook runs one lifecycle hook of p, turning a returned error or a
// panic into a *plugins.PluginError.
func (m *PluginManager) safeHook(p *loadedPlugin, hook string, fn func(plugins.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("panic in %s of %s: %v%s", hook, p.id, r, getStackTrace())
			err = plugins.NewPluginError(p.id, hook, fmt.Sprint(r), plugins.ErrPluginPanic)
		}
	}()
	if e := fn(p.ctx); e != nil {
		return plugins.NewPluginError(p.id, hook, "hook returned an error", e)
	}
	return nil
}

// safeConstruct calls the module entry func.
func (m *PluginManager) safeConstruct(p *loadedPlugin, entry plugins.EntryFunc) (pm plugins.PluginMain, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("panic in entry of %s: %v%s", p.id, r, getStackTrace())
			pm = nil
			err = plugins.NewPluginError(p.id, hookConstruct, fmt.Sprint(r), plugins.ErrPluginPanic)
		}
	}()
	pm = entry(p.ctx)
	if pm == nil {
		return nil, plugins.NewPluginError(p.id, hookConstruct, "entry returned no plugin", plugins.ErrNilPluginMain)
	}
	return pm, nil
}

// getStackTrace renders the panicking goroutine's stack.
func getStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var trace strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&trace, "\n\t%s:%d", frame.File, frame.Line)
		if !more {
			break
		}
	}
	return trace.String()
}
