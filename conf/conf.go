// Package conf holds the host configuration scanned from kratos config.
package conf

import (
	"strings"
)

// Bootstrap is the root of the host configuration file.
type Bootstrap struct {
	Plughost *Plughost `json:"plughost,omitempty"`
}

// Plughost groups every host setting.
type Plughost struct {
	Application *Application `json:"application,omitempty"`
	Plugins     *Plugins     `json:"plugins,omitempty"`
	Registry    *Registry    `json:"registry,omitempty"`
	Log         *Log         `json:"log,omitempty"`
	Metrics     *Metrics     `json:"metrics,omitempty"`
	Tracing     *Tracing     `json:"tracing,omitempty"`
}

// Application names the host process.
type Application struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	// CloseBanner suppresses the startup banner
	CloseBanner bool `json:"close_banner,omitempty"`
}

// Plugins tells the host where plugin modules come from.
type Plugins struct {
	// Folder is scanned for modules when List yields nothing
	Folder string `json:"folder,omitempty"`
	// List is a plugin list file (.txt or .yaml)
	List string `json:"list,omitempty"`
	// Extensions overrides the recognised module extensions
	Extensions []string `json:"extensions,omitempty"`
	// Watch enables hot load/unload of modules dropped into Folder
	Watch bool `json:"watch,omitempty"`
}

// Registry configures the interface registry.
type Registry struct {
	// Resolve is "last" or "first"
	Resolve string `json:"resolve,omitempty"`
}

// Log configures the process logger.
type Log struct {
	Level         string `json:"level,omitempty"`
	ConsoleOutput *bool  `json:"console_output,omitempty"`
	FilePath      string `json:"file_path,omitempty"`
	MaxSizeMB     int    `json:"max_size_mb,omitempty"`
	MaxBackups    int    `json:"max_backups,omitempty"`
	MaxAgeDays    int    `json:"max_age_days,omitempty"`
	Compress      bool   `json:"compress,omitempty"`
	// BatchSize enables batched file writes when positive
	BatchSize int `json:"batch_size,omitempty"`
	// Stack attaches stack traces to error logs
	Stack bool `json:"stack,omitempty"`
}

// GetConsoleOutput reports whether console output is on (default true).
func (l *Log) GetConsoleOutput() bool {
	if l == nil || l.ConsoleOutput == nil {
		return true
	}
	return *l.ConsoleOutput
}

// Metrics configures the metrics endpoint.
type Metrics struct {
	// Addr is the listen address of /metrics, empty to disable
	Addr string `json:"addr,omitempty"`
}

// Tracing configures span export over OTLP/gRPC.
type Tracing struct {
	Enable bool `json:"enable,omitempty"`
	// Addr is the collector endpoint, "None" to sample without exporting
	Addr     string            `json:"addr,omitempty"`
	Insecure bool              `json:"insecure,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	// Ratio is the parent based sampling ratio in [0,1]
	Ratio          float64 `json:"ratio,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
	// Batch exports through a batch span processor instead of synchronously
	Batch bool `json:"batch,omitempty"`
}

const (
	DefaultApplicationName = "plughost"
	DefaultPluginFolder    = "plugins"
	DefaultLogLevel        = "info"
	DefaultMaxSizeMB       = 64
	DefaultMaxBackups      = 5
	DefaultMaxAgeDays      = 7
	DefaultTracingAddr     = "localhost:4317"
)

// ApplyDefaults fills every unset field and returns b for chaining.
func (b *Bootstrap) ApplyDefaults() *Bootstrap {
	if b.Plughost == nil {
		b.Plughost = &Plughost{}
	}
	p := b.Plughost
	if p.Application == nil {
		p.Application = &Application{}
	}
	if p.Application.Name == "" {
		p.Application.Name = DefaultApplicationName
	}
	if p.Plugins == nil {
		p.Plugins = &Plugins{}
	}
	if p.Plugins.Folder == "" {
		p.Plugins.Folder = DefaultPluginFolder
	}
	if p.Registry == nil {
		p.Registry = &Registry{}
	}
	p.Registry.Resolve = strings.ToLower(strings.TrimSpace(p.Registry.Resolve))
	if p.Registry.Resolve == "" {
		p.Registry.Resolve = "last"
	}
	if p.Log == nil {
		p.Log = &Log{}
	}
	if p.Log.Level == "" {
		p.Log.Level = DefaultLogLevel
	}
	if p.Log.MaxSizeMB <= 0 {
		p.Log.MaxSizeMB = DefaultMaxSizeMB
	}
	if p.Log.MaxBackups <= 0 {
		p.Log.MaxBackups = DefaultMaxBackups
	}
	if p.Log.MaxAgeDays <= 0 {
		p.Log.MaxAgeDays = DefaultMaxAgeDays
	}
	if p.Metrics == nil {
		p.Metrics = &Metrics{}
	}
	if p.Tracing == nil {
		p.Tracing = &Tracing{}
	}
	if p.Tracing.Addr == "" {
		p.Tracing.Addr = DefaultTracingAddr
	}
	if p.Tracing.Ratio == 0 {
		p.Tracing.Ratio = 1
	}
	return b
}
