package plugins

import (
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// ModuleExtensions lists the file extensions recognised as plugin modules.
var ModuleExtensions = []string{".so", ".dll", ".dylib"}

// PluginID identifies one loaded plugin module. It is derived from the
// module path so that two spellings of the same path map to the same ID.
type PluginID string

// NewPluginID normalizes a module path into a PluginID: the path is
// cleaned, converted to forward slashes and stripped of a known module
// extension. On Windows the result is lower-cased.
func NewPluginID(modulePath string) PluginID {
	if modulePath == "" {
		return ""
	}
	p := filepath.ToSlash(filepath.Clean(modulePath))
	p = trimModuleExt(p)
	if runtime.GOOS == "windows" {
		p = strings.ToLower(p)
	}
	return PluginID(p)
}

// Name returns the module base name without directory and extension.
// StaticOpener registrations are keyed on it.
func (id PluginID) Name() string {
	return path.Base(string(id))
}

func (id PluginID) String() string {
	return string(id)
}

// IsModuleFile reports whether name carries a known module extension.
func IsModuleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ModuleExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func trimModuleExt(p string) string {
	ext := path.Ext(p)
	for _, e := range ModuleExtensions {
		if strings.EqualFold(ext, e) {
			return strings.TrimSuffix(p, ext)
		}
	}
	return p
}
