package boot

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"

	"github.com/go-lynx/plughost/conf"
	"github.com/go-lynx/plughost/log"
)

// LoadBootstrapConfig loads the host configuration from Options.ConfPath,
// scans it into conf.Bootstrap and applies the command line overrides.
// Without a path the host runs on defaults.
func (app *Application) LoadBootstrapConfig() error {
	if app == nil {
		return fmt.Errorf("application instance is nil: cannot load bootstrap configuration")
	}

	var opts []config.Option
	if path := app.opts.ConfPath; path != "" {
		log.Infof("loading bootstrap configuration from: %s", path)
		opts = append(opts, config.WithSource(file.NewSource(path)))
	}
	cfg := config.New(opts...)
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", app.opts.ConfPath, err)
	}

	var bc conf.Bootstrap
	if err := cfg.Scan(&bc); err != nil {
		_ = cfg.Close()
		return fmt.Errorf("failed to scan configuration: %w", err)
	}
	bc.ApplyDefaults()
	app.applyOverrides(&bc)

	app.conf = cfg
	app.bc = &bc
	app.addCleanup(func() {
		if err := cfg.Close(); err != nil {
			log.Errorf("failed to close configuration: %v", err)
		}
	})
	return nil
}

// applyOverrides lets command line flags win over the file.
func (app *Application) applyOverrides(bc *conf.Bootstrap) {
	p := bc.Plughost
	if app.opts.PluginsDir != "" {
		p.Plugins.Folder = app.opts.PluginsDir
	}
	if app.opts.PluginList != "" {
		p.Plugins.List = app.opts.PluginList
	}
	if app.opts.LogLevel != "" {
		p.Log.Level = app.opts.LogLevel
	}
	if app.opts.MetricsAddr != "" {
		p.Metrics.Addr = app.opts.MetricsAddr
	}
}

// Bootstrap returns the effective configuration, nil before
// LoadBootstrapConfig.
func (app *Application) Bootstrap() *conf.Bootstrap {
	return app.bc
}

// GetName returns the configured application name.
func (app *Application) GetName() string {
	if app.bc != nil && app.bc.Plughost.Application.Name != "" {
		return app.bc.Plughost.Application.Name
	}
	return conf.DefaultApplicationName
}

// GetVersion returns the configured application version.
func (app *Application) GetVersion() string {
	if app.bc != nil && app.bc.Plughost.Application.Version != "" {
		return app.bc.Plughost.Application.Version
	}
	return "unknown"
}
