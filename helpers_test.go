package plughost

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/plughost/loader"
	"github.com/go-lynx/plughost/plugins"
)

// journal records lifecycle events across plugins in call order.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(format string, a ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, fmt.Sprintf(format, a...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = nil
}

type hookFunc func(ctx plugins.Context) error

// fakePlugin journals every hook and runs the optional hook funcs.
type fakePlugin struct {
	name       string
	j          *journal
	postLoad   hookFunc
	initialize hookFunc
	finalize   hookFunc
	unload     hookFunc
}

func (p *fakePlugin) run(hook string, fn hookFunc, ctx plugins.Context) error {
	p.j.add("%s:%s", p.name, hook)
	if fn != nil {
		return fn(ctx)
	}
	return nil
}

func (p *fakePlugin) PostLoad(ctx plugins.Context) error {
	return p.run("PostLoad", p.postLoad, ctx)
}

func (p *fakePlugin) Initialize(ctx plugins.Context) error {
	return p.run("Initialize", p.initialize, ctx)
}

func (p *fakePlugin) Finalize(ctx plugins.Context) error {
	return p.run("Finalize", p.finalize, ctx)
}

func (p *fakePlugin) Unload(ctx plugins.Context) error {
	return p.run("Unload", p.unload, ctx)
}

// dependentPlugin is a fakePlugin that declares required interfaces.
type dependentPlugin struct {
	*fakePlugin
	required []plugins.InterfaceKey
}

func (p *dependentPlugin) RequiredInterfaces() []plugins.InterfaceKey {
	return p.required
}

type greeter interface {
	Greet() string
}

type namedGreeter struct{ name string }

func (g *namedGreeter) Greet() string { return "hello from " + g.name }

// releaseProbe journals its release when its context is torn down.
type releaseProbe struct {
	name string
	j    *journal
}

func (r *releaseProbe) Release()      { r.j.add("%s:release", r.name) }
func (r *releaseProbe) Greet() string { return "hello from " + r.name }

type testApp struct {
	code int
	quit bool
}

func (a *testApp) StartApplication() int { return a.code }
func (a *testApp) QuitApplication()      { a.quit = true }

func entryOf(p plugins.PluginMain) plugins.EntryFunc {
	return func(plugins.Context) plugins.PluginMain { return p }
}

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

func newTestManager(t *testing.T, entries map[string]plugins.EntryFunc, opts ...Option) *PluginManager {
	t.Helper()
	opener := loader.NewStaticOpener()
	for name, entry := range entries {
		opener.Register(name, entry)
	}
	all := append([]Option{WithOpener(opener), WithLogger(testLogger())}, opts...)
	return NewPluginManager(all...)
}
