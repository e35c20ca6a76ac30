package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults(t *testing.T) {
	b := (&Bootstrap{}).ApplyDefaults()

	assert.Equal(t, DefaultApplicationName, b.Plughost.Application.Name)
	assert.Equal(t, DefaultPluginFolder, b.Plughost.Plugins.Folder)
	assert.Equal(t, "last", b.Plughost.Registry.Resolve)
	assert.Equal(t, DefaultLogLevel, b.Plughost.Log.Level)
	assert.True(t, b.Plughost.Log.GetConsoleOutput())
	assert.Equal(t, DefaultMaxSizeMB, b.Plughost.Log.MaxSizeMB)
	assert.Empty(t, b.Plughost.Metrics.Addr)
	assert.False(t, b.Plughost.Tracing.Enable)
	assert.Equal(t, DefaultTracingAddr, b.Plughost.Tracing.Addr)
	assert.Equal(t, 1.0, b.Plughost.Tracing.Ratio)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	off := false
	b := (&Bootstrap{Plughost: &Plughost{
		Plugins:  &Plugins{Folder: "mods", Watch: true},
		Registry: &Registry{Resolve: " First "},
		Log:      &Log{Level: "debug", ConsoleOutput: &off, MaxBackups: 1},
	}}).ApplyDefaults()

	assert.Equal(t, "mods", b.Plughost.Plugins.Folder)
	assert.True(t, b.Plughost.Plugins.Watch)
	assert.Equal(t, "first", b.Plughost.Registry.Resolve)
	assert.Equal(t, "debug", b.Plughost.Log.Level)
	assert.False(t, b.Plughost.Log.GetConsoleOutput())
	assert.Equal(t, 1, b.Plughost.Log.MaxBackups)
}
