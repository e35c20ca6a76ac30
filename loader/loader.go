// Package loader discovers plugin modules and opens them.
package loader

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/go-lynx/plughost/plugins"
)

// Loader produces the ordered list of module paths to load.
type Loader interface {
	Plugins() ([]string, error)
}

// FolderLoader lists every module file directly inside Dir in lexical order.
type FolderLoader struct {
	Dir string
	// Extensions overrides plugins.ModuleExtensions when set
	Extensions []string
}

// Plugins implements Loader. A missing folder yields an empty list.
func (l FolderLoader) Plugins() ([]string, error) {
	if l.Dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan plugin folder %s: %w", l.Dir, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !l.accepts(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(l.Dir, e.Name()))
	}
	return out, nil
}

func (l FolderLoader) accepts(name string) bool {
	if len(l.Extensions) == 0 {
		return plugins.IsModuleFile(name)
	}
	ext := filepath.Ext(name)
	for _, e := range l.Extensions {
		if strings.EqualFold(ext, normalizeExt(e)) {
			return true
		}
	}
	return false
}

func normalizeExt(e string) string {
	if e != "" && !strings.HasPrefix(e, ".") {
		return "." + e
	}
	return e
}

// ConfigLoader reads module paths from a list file. A .yaml or .yml file
// carries a top-level "plugins" sequence; any other file holds one path
// per line, where blank lines and lines starting with # are skipped.
// Relative paths resolve against the list file's directory.
type ConfigLoader struct {
	Path string
}

type pluginList struct {
	Plugins []string `yaml:"plugins"`
}

// Plugins implements Loader. A missing list file yields an empty list.
func (l ConfigLoader) Plugins() ([]string, error) {
	if l.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin list %s: %w", l.Path, err)
	}

	var entries []string
	switch strings.ToLower(filepath.Ext(l.Path)) {
	case ".yaml", ".yml":
		var list pluginList
		if err := yaml.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parse plugin list %s: %w", l.Path, err)
		}
		for _, p := range list.Plugins {
			if p = strings.TrimSpace(p); p != "" {
				entries = append(entries, p)
			}
		}
	default:
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			entries = append(entries, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read plugin list %s: %w", l.Path, err)
		}
	}

	base := filepath.Dir(l.Path)
	for i, p := range entries {
		if !filepath.IsAbs(p) {
			entries[i] = filepath.Join(base, p)
		}
	}
	return entries, nil
}

type chain []Loader

// Chain returns a loader that asks each loader in turn and returns the
// first non-empty list.
func Chain(loaders ...Loader) Loader {
	return chain(loaders)
}

func (c chain) Plugins() ([]string, error) {
	var errs *multierror.Error
	for _, l := range c {
		if l == nil {
			continue
		}
		paths, err := l.Plugins()
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if len(paths) > 0 {
			return paths, nil
		}
	}
	return nil, errs.ErrorOrNil()
}
