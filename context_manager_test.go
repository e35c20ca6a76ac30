package plughost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/plughost/plugins"
)

// greeterCreator hands every plugin context its own greeter.
type greeterCreator struct {
	created []string
	skip    string
}

func (c *greeterCreator) Type() string                      { return "greeter" }
func (c *greeterCreator) InterfaceKey() plugins.InterfaceKey { return plugins.KeyOf[greeter]() }

func (c *greeterCreator) CreateContext(ctx plugins.Context) any {
	if ctx.Name() == c.skip {
		return nil
	}
	c.created = append(c.created, ctx.Name())
	return &namedGreeter{name: ctx.Name()}
}

type panickyCreator struct{}

func (panickyCreator) Type() string                      { return "panicky" }
func (panickyCreator) InterfaceKey() plugins.InterfaceKey { return plugins.KeyOf[greeter]() }
func (panickyCreator) CreateContext(plugins.Context) any  { panic("no instance for you") }

func newTestContextManager() *ContextManager {
	return NewContextManager(WithContextLogger(testLogger()))
}

func TestCreateContext(t *testing.T) {
	cm := newTestContextManager()
	defer cm.Close()

	ctx := cm.CreateContext("a", "plugins/a.so")
	require.NotNil(t, ctx)
	assert.Equal(t, "a", ctx.Name())
	assert.Equal(t, "plugins/a.so", ctx.Path())
	assert.Equal(t, plugins.ContextActive, ctx.State())
	assert.Same(t, ctx, cm.GetContext("a"))
	assert.Equal(t, plugins.Context(cm.GetGlobalContext()), ctx.Parent())

	assert.Nil(t, cm.CreateContext("a", "elsewhere/a.so"), "one context per plugin")
	assert.Equal(t, []plugins.PluginID{"a"}, cm.Contexts())
}

func TestCreatorRegisteredBeforeAndAfterContexts(t *testing.T) {
	cm := newTestContextManager()
	defer cm.Close()
	global := cm.GetGlobalContext()

	a := cm.CreateContext("a", "a.so")
	creator := &greeterCreator{}
	_, err := global.RegisterInterface(creator)
	require.NoError(t, err)
	b := cm.CreateContext("b", "b.so")

	assert.Equal(t, []string{"a", "b"}, creator.created)
	assert.Equal(t, "hello from a", plugins.Query[greeter](a).Greet())
	assert.Equal(t, "hello from b", plugins.Query[greeter](b).Greet())
	assert.Nil(t, plugins.Query[greeter](global), "creator instances are private")
	assert.Len(t, cm.TrackedRefs("greeter"), 2)
	assert.Equal(t, []string{"greeter"}, cm.CreatorTypes())
}

func TestCreatorMayDeclineContext(t *testing.T) {
	cm := newTestContextManager()
	defer cm.Close()

	creator := &greeterCreator{skip: "b"}
	_, err := cm.GetGlobalContext().RegisterInterface(creator)
	require.NoError(t, err)
	cm.CreateContext("a", "a.so")
	b := cm.CreateContext("b", "b.so")

	assert.Nil(t, plugins.Query[greeter](b))
	assert.Len(t, cm.TrackedRefs("greeter"), 1)
}

func TestCreatorPanicIsContained(t *testing.T) {
	cm := newTestContextManager()
	defer cm.Close()

	_, err := cm.GetGlobalContext().RegisterInterface(panickyCreator{})
	require.NoError(t, err)
	a := cm.CreateContext("a", "a.so")

	require.NotNil(t, a)
	assert.Empty(t, cm.TrackedRefs("panicky"))
}

func TestDestroyContextSweepsRefs(t *testing.T) {
	cm := newTestContextManager()
	defer cm.Close()

	_, err := cm.GetGlobalContext().RegisterInterface(&greeterCreator{})
	require.NoError(t, err)
	a := cm.CreateContext("a", "a.so")
	cm.CreateContext("b", "b.so")
	require.Len(t, cm.TrackedRefs("greeter"), 2)

	require.NoError(t, cm.DestroyContext("a"))
	assert.Equal(t, plugins.ContextDestroyed, a.State())
	assert.Nil(t, cm.GetContext("a"))
	refs := cm.TrackedRefs("greeter")
	require.Len(t, refs, 1)
	assert.Equal(t, "b", refs[0].ContextName())

	assert.ErrorIs(t, cm.DestroyContext("a"), plugins.ErrContextNotFound)
}

func TestCreatorDeregistrationKeepsContexts(t *testing.T) {
	cm := newTestContextManager()
	defer cm.Close()
	global := cm.GetGlobalContext()

	h, err := global.RegisterInterface(&greeterCreator{})
	require.NoError(t, err)
	a := cm.CreateContext("a", "a.so")
	require.NotNil(t, plugins.Query[greeter](a))

	require.NoError(t, global.DeregisterInterface(h))

	assert.Nil(t, plugins.Query[greeter](a))
	assert.Equal(t, plugins.ContextActive, a.State())
	assert.Empty(t, cm.CreatorTypes())
	assert.Nil(t, cm.TrackedRefs("greeter"))

	// later contexts no longer get an instance
	b := cm.CreateContext("b", "b.so")
	assert.Nil(t, plugins.Query[greeter](b))
}

func TestSecondCreatorOfSameTypeIgnored(t *testing.T) {
	cm := newTestContextManager()
	defer cm.Close()
	global := cm.GetGlobalContext()

	first, second := &greeterCreator{}, &greeterCreator{}
	_, err := global.RegisterInterface(first)
	require.NoError(t, err)
	h2, err := global.RegisterInterface(second)
	require.NoError(t, err)

	cm.CreateContext("a", "a.so")
	assert.Equal(t, []string{"a"}, first.created)
	assert.Empty(t, second.created)

	// dropping the ignored creator leaves the tracked one alone
	require.NoError(t, global.DeregisterInterface(h2))
	assert.Equal(t, []string{"greeter"}, cm.CreatorTypes())
	assert.Len(t, cm.TrackedRefs("greeter"), 1)
}

func TestExecutablePath(t *testing.T) {
	cm := newTestContextManager()
	defer cm.Close()

	assert.Empty(t, cm.ExecutablePath())
	cm.SetExecutablePath("/opt/host/bin/plughost")
	assert.Equal(t, "/opt/host/bin/plughost", cm.ExecutablePath())
}

func TestContextManagerClose(t *testing.T) {
	cm := newTestContextManager()
	j := &journal{}

	a := cm.CreateContext("a", "a.so")
	b := cm.CreateContext("b", "b.so")
	_, err := a.RegisterInterface(&releaseProbe{name: "a", j: j}, plugins.Owned())
	require.NoError(t, err)
	_, err = b.RegisterInterface(&releaseProbe{name: "b", j: j}, plugins.Owned())
	require.NoError(t, err)

	require.NoError(t, cm.Close())

	assert.Equal(t, []string{"b:release", "a:release"}, j.list())
	assert.Nil(t, cm.GetGlobalContext())
	assert.Empty(t, cm.Contexts())
	assert.Nil(t, cm.CreateContext("c", "c.so"))
	assert.NoError(t, cm.Close(), "closing twice is a no-op")
}

func TestPublishedInterfacesVisibleAcrossPlugins(t *testing.T) {
	cm := newTestContextManager()
	defer cm.Close()

	a := cm.CreateContext("a", "a.so")
	b := cm.CreateContext("b", "b.so")
	_, err := plugins.Register[greeter](a, &namedGreeter{name: "a"})
	require.NoError(t, err)
	_, err = plugins.Register[greeter](a, &namedGreeter{name: "a-private"}, plugins.Private())
	require.NoError(t, err)

	got := plugins.QueryAll[greeter](b)
	require.Len(t, got, 1)
	assert.Equal(t, "hello from a", got[0].Greet())
	assert.Len(t, plugins.QueryAll[greeter](a), 2)
}
