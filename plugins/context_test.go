package plugins

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter interface {
	Greet() string
}

type english struct{ name string }

func (e *english) Greet() string { return "hello " + e.name }

type closingGreeter struct {
	released *[]string
	name     string
}

func (c *closingGreeter) Greet() string { return c.name }
func (c *closingGreeter) Close() error {
	*c.released = append(*c.released, c.name)
	return nil
}

type releasingGreeter struct {
	released *[]string
	name     string
}

func (r *releasingGreeter) Greet() string { return r.name }
func (r *releasingGreeter) Release()      { *r.released = append(*r.released, r.name) }

// recordingListener writes every callback into a shared journal.
type recordingListener struct {
	BaseContextListener
	journal *[]string
}

func (l *recordingListener) OnInterfaceRegistered(ev InterfaceEvent) {
	*l.journal = append(*l.journal, fmt.Sprintf("reg:%v", ev.Interface.(greeter).Greet()))
}

func (l *recordingListener) OnInterfaceDeregistered(ev InterfaceEvent) {
	*l.journal = append(*l.journal, fmt.Sprintf("dereg:%v", ev.Interface.(greeter).Greet()))
}

func newActiveChild(t *testing.T, global *ComponentContext, name string) *ComponentContext {
	t.Helper()
	c := global.NewChild(name, name+".so")
	require.NoError(t, c.Activate())
	return c
}

func TestRegisterThenQueryReturnsSameObject(t *testing.T) {
	global := NewGlobalContext()
	g := &english{name: "a"}

	h, err := Register[greeter](global, g)
	require.NoError(t, err)
	assert.True(t, h.Valid())
	assert.Equal(t, GlobalContextName, h.ContextName())

	got := Query[greeter](global)
	assert.Same(t, g, got)

	v, ok := h.Value()
	require.True(t, ok)
	assert.Same(t, g, v)
}

func TestQueryAbsentReturnsZero(t *testing.T) {
	global := NewGlobalContext()

	assert.Nil(t, Query[greeter](global))
	_, ok := Lookup[greeter](global)
	assert.False(t, ok)
	assert.Empty(t, QueryAll[greeter](global))
	_, ok = QueryWeak[greeter](global)
	assert.False(t, ok)
	assert.Nil(t, Query[greeter](nil))
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	global := NewGlobalContext()

	_, err := global.RegisterInterface(nil)
	assert.ErrorIs(t, err, ErrInvalidInterface)

	_, err = global.RegisterInterface("not a greeter", As[greeter]())
	assert.ErrorIs(t, err, ErrInterfaceTypeMismatch)
	assert.Equal(t, 0, global.Len())
}

func TestDuplicateRegistrationKeepsFirst(t *testing.T) {
	global := NewGlobalContext()
	g := &english{name: "a"}

	first, err := Register[greeter](global, g)
	require.NoError(t, err)

	_, err = Register[greeter](global, g)
	assert.ErrorIs(t, err, ErrDuplicateInterface)
	assert.True(t, first.Valid())
	assert.Equal(t, 1, global.Len())

	// distinct objects of the same type are fine
	_, err = Register[greeter](global, &english{name: "b"})
	assert.NoError(t, err)
}

type pointValue struct{ x int }

type stateless struct{}

func (stateless) Greet() string { return "stateless" }

func TestEqualValuesAreNotDuplicates(t *testing.T) {
	global := NewGlobalContext()

	_, err := global.RegisterInterface(pointValue{1}, WithKey("k1"))
	require.NoError(t, err)
	_, err = global.RegisterInterface(pointValue{1}, WithKey("k2"))
	require.NoError(t, err)
	assert.Equal(t, 2, global.Len())

	// zero-size allocations may share an address
	_, err = Register[greeter](global, &stateless{})
	require.NoError(t, err)
	_, err = Register[greeter](global, &stateless{})
	assert.NoError(t, err)
	assert.Len(t, QueryAll[greeter](global), 2)
}

func TestDefaultKeyIsDynamicType(t *testing.T) {
	global := NewGlobalContext()
	g := &english{name: "a"}

	_, err := global.RegisterInterface(g)
	require.NoError(t, err)

	assert.Same(t, g, Query[*english](global))
	assert.Nil(t, Query[greeter](global))
}

func TestRegisterUnderSeveralKeys(t *testing.T) {
	global := NewGlobalContext()
	g := &english{name: "a"}

	_, err := global.RegisterInterface(g, As[greeter](), As[*english]())
	require.NoError(t, err)

	assert.Same(t, g, Query[greeter](global))
	assert.Same(t, g, Query[*english](global))
	assert.Len(t, QueryAll[greeter](global), 1)
}

func TestResolvePolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy ResolvePolicy
		want   string
	}{
		{name: "last wins", policy: ResolveLastRegistered, want: "hello second"},
		{name: "first wins", policy: ResolveFirstRegistered, want: "hello first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			global := NewGlobalContext(WithContextResolvePolicy(tt.policy))
			_, err := Register[greeter](global, &english{name: "first"})
			require.NoError(t, err)
			_, err = Register[greeter](global, &english{name: "second"})
			require.NoError(t, err)

			assert.Equal(t, tt.want, Query[greeter](global).Greet())

			all := QueryAll[greeter](global)
			require.Len(t, all, 2)
			assert.Equal(t, "hello first", all[0].Greet())
		})
	}
}

func TestParseResolvePolicy(t *testing.T) {
	p, err := ParseResolvePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ResolveLastRegistered, p)

	p, err = ParseResolvePolicy("First")
	require.NoError(t, err)
	assert.Equal(t, ResolveFirstRegistered, p)
	assert.Equal(t, "first", p.String())

	_, err = ParseResolvePolicy("random")
	assert.Error(t, err)
}

func TestPublishedAndPrivateVisibility(t *testing.T) {
	global := NewGlobalContext()
	a := newActiveChild(t, global, "a")
	b := newActiveChild(t, global, "b")

	pub := &english{name: "published"}
	_, err := Register[greeter](a, pub)
	require.NoError(t, err)

	assert.Same(t, pub, Query[greeter](b), "published records are visible from siblings")
	assert.Same(t, pub, Query[greeter](global), "published records are visible from global")

	priv := &english{name: "private"}
	_, err = Register[*english](a, priv, Private())
	require.NoError(t, err)

	assert.Same(t, priv, Query[*english](a))
	assert.Nil(t, Query[*english](b))
	assert.Nil(t, Query[*english](global))
}

func TestLocalRecordsShadowParent(t *testing.T) {
	global := NewGlobalContext()
	a := newActiveChild(t, global, "a")
	b := newActiveChild(t, global, "b")

	own := &english{name: "own"}
	_, err := Register[greeter](a, own, Private())
	require.NoError(t, err)
	other := &english{name: "other"}
	_, err = Register[greeter](b, other)
	require.NoError(t, err)

	assert.Same(t, own, Query[greeter](a))

	all := QueryAll[greeter](a)
	require.Len(t, all, 2)
	assert.Same(t, own, all[0])
	assert.Same(t, other, all[1])
}

func TestQueryAllDeduplicatesPublishedRecords(t *testing.T) {
	global := NewGlobalContext()
	a := newActiveChild(t, global, "a")

	g := &english{name: "a"}
	_, err := Register[greeter](a, g)
	require.NoError(t, err)

	// seen once through a itself and once through the global scope
	assert.Len(t, QueryAll[greeter](a), 1)
}

func TestDeregisterForeignOrStaleHandle(t *testing.T) {
	global := NewGlobalContext()
	a := newActiveChild(t, global, "a")

	h, err := Register[greeter](a, &english{name: "a"})
	require.NoError(t, err)

	assert.ErrorIs(t, global.DeregisterInterface(h), ErrInterfaceNotFound)
	assert.ErrorIs(t, a.DeregisterInterface(Handle{}), ErrInterfaceNotFound)

	require.NoError(t, a.DeregisterInterface(h))
	assert.False(t, h.Valid())
	assert.ErrorIs(t, a.DeregisterInterface(h), ErrInterfaceNotFound)
}

func TestSlotReuseBumpsGeneration(t *testing.T) {
	global := NewGlobalContext()

	old, err := Register[greeter](global, &english{name: "old"})
	require.NoError(t, err)
	require.NoError(t, global.DeregisterInterface(old))

	fresh, err := Register[greeter](global, &english{name: "fresh"})
	require.NoError(t, err)

	assert.Equal(t, old.index, fresh.index)
	assert.NotEqual(t, old.gen, fresh.gen)
	assert.False(t, old.Valid())
	assert.True(t, fresh.Valid())
}

func TestListenersNotifiedBeforeRelease(t *testing.T) {
	global := NewGlobalContext()
	var journal []string
	global.RegisterListener(&recordingListener{journal: &journal})

	h, err := Register[greeter](global, &releasingGreeter{released: &journal, name: "r"}, Owned())
	require.NoError(t, err)
	require.NoError(t, global.DeregisterInterface(h))

	assert.Equal(t, []string{"reg:r", "dereg:r", "r"}, journal)
}

func TestUnownedObjectsAreNotReleased(t *testing.T) {
	global := NewGlobalContext()
	var released []string

	h, err := Register[greeter](global, &closingGreeter{released: &released, name: "c"})
	require.NoError(t, err)
	require.NoError(t, global.DeregisterInterface(h))

	assert.Empty(t, released)
}

func TestDestroyTearsDownInReverseOrder(t *testing.T) {
	global := NewGlobalContext()
	a := newActiveChild(t, global, "a")

	var journal []string
	a.RegisterListener(&recordingListener{journal: &journal})

	var handles []Handle
	for _, name := range []string{"one", "two", "three"} {
		h, err := Register[greeter](a, &closingGreeter{released: &journal, name: name}, Owned())
		require.NoError(t, err)
		handles = append(handles, h)
	}
	journal = journal[:0]

	require.NoError(t, a.Destroy())

	assert.Equal(t, []string{
		"dereg:three", "three",
		"dereg:two", "two",
		"dereg:one", "one",
	}, journal)
	for _, h := range handles {
		assert.False(t, h.Valid())
	}
	assert.Equal(t, ContextDestroyed, a.State())
	assert.Nil(t, Query[greeter](global), "destroyed context is detached from global")
}

func TestDestroyTwiceReportsNotFound(t *testing.T) {
	global := NewGlobalContext()
	a := newActiveChild(t, global, "a")

	require.NoError(t, a.Destroy())
	assert.ErrorIs(t, a.Destroy(), ErrContextNotFound)
}

func TestRegisterRequiresActiveContext(t *testing.T) {
	global := NewGlobalContext()
	c := global.NewChild("a", "a.so")

	_, err := Register[greeter](c, &english{name: "early"})
	assert.ErrorIs(t, err, ErrContextNotActive)

	require.NoError(t, c.Activate())
	assert.Error(t, c.Activate())
	require.NoError(t, c.Destroy())

	_, err = Register[greeter](c, &english{name: "late"})
	assert.ErrorIs(t, err, ErrContextNotActive)
}

func TestWeakRefDoesNotOutliveContext(t *testing.T) {
	global := NewGlobalContext()
	a := newActiveChild(t, global, "a")
	g := &english{name: "a"}
	_, err := Register[greeter](a, g)
	require.NoError(t, err)

	ref, ok := QueryWeak[greeter](global)
	require.True(t, ok)
	got, ok := ref.Get()
	require.True(t, ok)
	assert.Same(t, g, got)

	require.NoError(t, a.Destroy())
	assert.False(t, ref.Valid())
	_, ok = ref.Get()
	assert.False(t, ok)
}

type panickingListener struct{ BaseContextListener }

func (panickingListener) OnInterfaceRegistered(InterfaceEvent) { panic("boom") }

func TestListenerPanicIsContained(t *testing.T) {
	global := NewGlobalContext()
	var journal []string
	global.RegisterListener(panickingListener{})
	id := global.RegisterListener(&recordingListener{journal: &journal})

	_, err := Register[greeter](global, &english{name: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"reg:hello a"}, journal)

	assert.True(t, global.DeregisterListener(id))
	assert.False(t, global.DeregisterListener(id))
}

type stubCreator struct{ typ string }

func (s *stubCreator) Type() string                  { return s.typ }
func (s *stubCreator) InterfaceKey() InterfaceKey    { return KeyOf[greeter]() }
func (s *stubCreator) CreateContext(ctx Context) any { return &english{name: ctx.Name()} }

type creatorListener struct {
	BaseContextListener
	events []string
}

func (l *creatorListener) OnContextCreatorRegistered(c ContextCreator) {
	l.events = append(l.events, "creator+"+c.Type())
}

func (l *creatorListener) OnContextCreatorDeregistered(c ContextCreator) {
	l.events = append(l.events, "creator-"+c.Type())
}

func (l *creatorListener) OnInterfaceRegistered(InterfaceEvent) {
	l.events = append(l.events, "iface+")
}

func (l *creatorListener) OnInterfaceDeregistered(InterfaceEvent) {
	l.events = append(l.events, "iface-")
}

func TestContextCreatorEvents(t *testing.T) {
	global := NewGlobalContext()
	l := &creatorListener{}
	global.RegisterListener(l)

	h, err := Register[ContextCreator](global, &stubCreator{typ: "stub"})
	require.NoError(t, err)
	require.NoError(t, global.DeregisterInterface(h))

	assert.Equal(t, []string{"iface+", "creator+stub", "creator-stub", "iface-"}, l.events)
}

type failingCloser struct{}

func (failingCloser) Close() error { return errors.New("close failed") }

func TestDestroyAggregatesReleaseErrors(t *testing.T) {
	global := NewGlobalContext()
	a := newActiveChild(t, global, "a")
	_, err := a.RegisterInterface(&failingCloser{}, Owned())
	require.NoError(t, err)

	err = a.Destroy()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
	assert.Equal(t, ContextDestroyed, a.State())
}

func TestGlobalDestroyTakesChildrenDown(t *testing.T) {
	global := NewGlobalContext()
	a := newActiveChild(t, global, "a")
	b := newActiveChild(t, global, "b")

	require.NoError(t, global.Destroy())
	assert.Equal(t, ContextDestroyed, a.State())
	assert.Equal(t, ContextDestroyed, b.State())
}

func TestConcurrentQueries(t *testing.T) {
	global := NewGlobalContext()
	a := newActiveChild(t, global, "a")
	g := &english{name: "a"}
	_, err := Register[greeter](a, g)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if Query[greeter](global) != g {
					t.Errorf("unexpected query result")
					return
				}
			}
		}()
	}
	wg.Wait()
}
