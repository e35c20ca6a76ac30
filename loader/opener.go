package loader

import (
	"errors"
	"fmt"
	goplugin "plugin"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/go-lynx/plughost/plugins"
)

// Module is an opened plugin module.
type Module interface {
	// Path returns the path the module was opened from.
	Path() string

	// Entry returns the module's entry func.
	Entry() plugins.EntryFunc

	// Close releases the module.
	Close() error
}

// Opener opens plugin modules.
type Opener interface {
	Open(path string) (Module, error)
}

type module struct {
	path  string
	entry plugins.EntryFunc

	mu     sync.Mutex
	closed bool
}

func (m *module) Path() string { return m.path }

func (m *module) Entry() plugins.EntryFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	return m.entry
}

func (m *module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entry = nil
	return nil
}

// GoPluginOpener opens modules built with -buildmode=plugin. The module
// must export plugins.EntrySymbol as an EntryFunc variable or a function
// with the same signature. The Go runtime never unmaps a plugin, so Close
// only drops the entry reference.
type GoPluginOpener struct{}

// NewGoPluginOpener returns the native module opener.
func NewGoPluginOpener() GoPluginOpener {
	return GoPluginOpener{}
}

// Open implements Opener.
func (GoPluginOpener) Open(path string) (Module, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", plugins.ErrModuleOpen)
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", plugins.ErrModuleOpen, path, err)
	}
	sym, err := so.Lookup(plugins.EntrySymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", plugins.ErrEntryNotFound, path, err)
	}
	entry, err := entryOf(sym)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &module{path: path, entry: entry}, nil
}

func entryOf(sym any) (plugins.EntryFunc, error) {
	switch e := sym.(type) {
	case plugins.EntryFunc:
		if e != nil {
			return e, nil
		}
	case *plugins.EntryFunc:
		if e != nil && *e != nil {
			return *e, nil
		}
	case func(plugins.Context) plugins.PluginMain:
		if e != nil {
			return e, nil
		}
	case *func(plugins.Context) plugins.PluginMain:
		if e != nil && *e != nil {
			return *e, nil
		}
	default:
		return nil, fmt.Errorf("%w: symbol %s has type %T", plugins.ErrEntryNotFound, plugins.EntrySymbol, sym)
	}
	return nil, fmt.Errorf("%w: symbol %s is nil", plugins.ErrEntryNotFound, plugins.EntrySymbol)
}

// StaticOpener opens plugins linked into the host binary. Entries are
// keyed on the module base name without extension, so "plugins/foo.so"
// opens the entry registered as "foo".
type StaticOpener struct {
	mu      sync.RWMutex
	entries map[string]plugins.EntryFunc
}

// NewStaticOpener returns an empty static registry.
func NewStaticOpener() *StaticOpener {
	return &StaticOpener{entries: make(map[string]plugins.EntryFunc)}
}

// Register adds or replaces an entry.
func (o *StaticOpener) Register(name string, entry plugins.EntryFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[name] = entry
}

// Names lists the registered entries in lexical order.
func (o *StaticOpener) Names() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.entries))
	for name := range o.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open implements Opener.
func (o *StaticOpener) Open(path string) (Module, error) {
	name := plugins.NewPluginID(path).Name()
	o.mu.RLock()
	entry, ok := o.entries[name]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no built-in plugin named %q", plugins.ErrModuleOpen, name)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: built-in plugin %q has a nil entry", plugins.ErrEntryNotFound, name)
	}
	return &module{path: path, entry: entry}, nil
}

var builtin = NewStaticOpener()

// Builtin returns the process-wide static registry.
func Builtin() *StaticOpener {
	return builtin
}

// RegisterBuiltin registers a plugin linked into the host binary. It is
// meant to be called from init functions.
func RegisterBuiltin(name string, entry plugins.EntryFunc) {
	builtin.Register(name, entry)
}

type chainOpener []Opener

// ChainOpener tries each opener in turn and returns the first module that
// opens. When all fail the errors are aggregated.
func ChainOpener(openers ...Opener) Opener {
	return chainOpener(openers)
}

func (c chainOpener) Open(path string) (Module, error) {
	var errs *multierror.Error
	for _, o := range c {
		if o == nil {
			continue
		}
		m, err := o.Open(path)
		if err == nil {
			return m, nil
		}
		errs = multierror.Append(errs, err)
	}
	if errs == nil {
		return nil, fmt.Errorf("%w: no opener configured", plugins.ErrModuleOpen)
	}
	if errors.Is(errs, plugins.ErrEntryNotFound) {
		return nil, fmt.Errorf("%w: %v", plugins.ErrEntryNotFound, errs)
	}
	return nil, fmt.Errorf("%w: %v", plugins.ErrModuleOpen, errs)
}
