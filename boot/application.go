// Package boot runs the plugin host process: it loads the configuration,
// builds the logger and metrics, discovers and loads plugins, and hands
// control to the application a plugin registered.
package boot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/go-kratos/kratos/v2/config"
	klog "github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-lynx/plughost"
	"github.com/go-lynx/plughost/conf"
	"github.com/go-lynx/plughost/loader"
	"github.com/go-lynx/plughost/log"
	"github.com/go-lynx/plughost/observability/metrics"
	"github.com/go-lynx/plughost/observability/tracing"
	"github.com/go-lynx/plughost/plugins"
)

// DefaultShutdownTimeout bounds the plugin unload and server stop on exit.
const DefaultShutdownTimeout = 30 * time.Second

// Options are the command line inputs of the host.
type Options struct {
	// ConfPath is a config file or directory, empty for defaults
	ConfPath    string
	PluginsDir  string
	PluginList  string
	LogLevel    string
	MetricsAddr string
	// Unattended turns host panics into ExitCrash instead of crashing
	Unattended bool
	// Args are the raw arguments handed to plugins as plugins.CommandLine
	Args []string

	// Opener opens modules; built-in plugins then Go plugins by default
	Opener loader.Opener
	// Registry receives host and plugin metrics; the host registry by default
	Registry *prometheus.Registry
	// Logger replaces the configured process logger, mostly for tests
	Logger klog.Logger
}

// Application is one run of the plugin host.
type Application struct {
	opts Options

	conf   config.Config
	bc     *conf.Bootstrap
	logger klog.Logger
	closer func() error

	registry *prometheus.Registry
	metrics  *metrics.HostMetrics
	manager  *plughost.PluginManager
	server   *metricsServer
	watcher  *loader.Watcher

	shutdownTimeout time.Duration
	bg              sync.WaitGroup
	cancel          context.CancelFunc
	cleanups        []func()
	shutdownOnce    sync.Once
}

// NewApplication creates a host run from opts.
func NewApplication(opts Options) *Application {
	return &Application{opts: opts, shutdownTimeout: DefaultShutdownTimeout}
}

// Manager returns the plugin manager, nil before plugins are loaded.
func (app *Application) Manager() *plughost.PluginManager {
	return app.manager
}

// Run executes the host and returns the process exit code. The code of a
// normal run is whatever the application's StartApplication returns.
func (app *Application) Run(ctx context.Context) (code int) {
	if app == nil {
		return ExitBootstrapFailure
	}
	ctx, app.cancel = context.WithCancel(ctx)

	defer func() {
		r := recover()
		if r == nil {
			app.shutdown()
			return
		}
		app.handlePanic(r)
		app.shutdown()
		if !app.opts.Unattended {
			panic(r)
		}
		code = ExitCrash
	}()

	startTime := time.Now()

	if err := app.LoadBootstrapConfig(); err != nil {
		log.Errorf("failed to load bootstrap configuration: %v", err)
		return ExitBootstrapFailure
	}
	if err := app.initLogger(); err != nil {
		log.Errorf("failed to initialize logger: %v", err)
		return ExitBootstrapFailure
	}
	if err := app.printBanner(os.Stdout); err != nil {
		log.Warnf("%v", err)
	}
	log.Infof("%s %s is starting up", app.GetName(), app.GetVersion())
	if err := app.initTracing(ctx); err != nil {
		log.Errorf("failed to initialize tracing: %v", err)
		return ExitBootstrapFailure
	}

	paths, err := app.DiscoverPlugins()
	if err != nil {
		log.Warnf("plugin discovery reported errors: %v", err)
	}
	if len(paths) == 0 {
		log.Error("no plugins found")
		return ExitNoPlugins
	}

	if err := app.initManager(); err != nil {
		log.Errorf("failed to initialize plugin manager: %v", err)
		return ExitBootstrapFailure
	}
	app.seedGlobalContext()

	report := app.manager.LoadPlugins(ctx, paths)
	if len(report.Loaded) == 0 {
		log.Errorf("none of %d plugins could be loaded: %v", report.Requested, report.Err())
		return ExitNoUsablePlugins
	}

	if err := app.startMetricsServer(ctx); err != nil {
		log.Errorf("failed to start metrics server: %v", err)
		return ExitBootstrapFailure
	}
	app.startWatcher(ctx)

	application := app.manager.Application()
	if application == nil {
		log.Error("no plugin registered an application")
		return ExitNoApplication
	}
	log.Infof("plugin host started in %s with %d plugins", elapsed(startTime), len(report.Loaded))

	stop := app.quitOnSignal(ctx, application)
	defer stop()
	return application.StartApplication()
}

func (app *Application) initLogger() error {
	if app.opts.Logger != nil {
		app.logger = app.opts.Logger
		log.SetLogger(app.logger)
		return nil
	}
	logger, err := log.NewLogger(app.bc.Plughost.Log,
		"app", app.GetName(),
		"version", app.GetVersion(),
	)
	if err != nil {
		return err
	}
	app.logger = logger
	app.closer = logger.Close
	log.SetLogger(logger)
	return nil
}

// initTracing installs the global tracer provider the plugin manager
// reports to. Disabled tracing leaves the no-op provider in place.
func (app *Application) initTracing(ctx context.Context) error {
	tc := app.bc.Plughost.Tracing
	if tc == nil || !tc.Enable {
		return nil
	}
	shutdown, err := tracing.Setup(ctx, tc, tracing.Service{Name: app.GetName(), Version: app.GetVersion()})
	if err != nil {
		return err
	}
	app.addCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Errorf("error shutting down tracing: %v", err)
		}
	})
	log.Infof("tracing enabled, exporting to %s", tc.Addr)
	return nil
}

// DiscoverPlugins lists the modules to load: the plugin list file when
// one is configured and non-empty, the plugin folder otherwise.
func (app *Application) DiscoverPlugins() ([]string, error) {
	p := app.bc.Plughost.Plugins
	var loaders []loader.Loader
	if p.List != "" {
		loaders = append(loaders, loader.ConfigLoader{Path: p.List})
	}
	loaders = append(loaders, loader.FolderLoader{Dir: p.Folder, Extensions: p.Extensions})
	return loader.Chain(loaders...).Plugins()
}

func (app *Application) initManager() error {
	policy, err := plugins.ParseResolvePolicy(app.bc.Plughost.Registry.Resolve)
	if err != nil {
		return err
	}

	app.registry = app.opts.Registry
	if app.registry == nil {
		app.registry = metrics.Registry()
	}
	if app.metrics, err = metrics.NewHostMetrics(app.registry); err != nil {
		return fmt.Errorf("register host metrics: %w", err)
	}

	opener := app.opts.Opener
	if opener == nil {
		opener = loader.ChainOpener(loader.Builtin(), loader.NewGoPluginOpener())
	}
	app.manager = plughost.NewPluginManager(
		plughost.WithOpener(opener),
		plughost.WithLogger(app.logger),
		plughost.WithResolvePolicy(policy),
		plughost.WithMetrics(app.metrics),
	)

	collector := metrics.NewPluginCollector(app.manager)
	if err := app.registry.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return fmt.Errorf("register plugin collector: %w", err)
		}
	} else {
		app.addCleanup(func() { app.registry.Unregister(collector) })
	}

	if exe, err := os.Executable(); err == nil {
		app.manager.ContextManager().SetExecutablePath(exe)
	}
	return nil
}

// seedGlobalContext registers the host singletons every plugin can query
// before any plugin is constructed.
func (app *Application) seedGlobalContext() {
	global := app.manager.GlobalContext()
	register := func(what string, impl any, opts ...plugins.RegisterOption) {
		if _, err := global.RegisterInterface(impl, opts...); err != nil {
			log.Warnf("register %s in the global context: %v", what, err)
		}
	}
	register("command line", NewCommandLine(app.opts.Args), plugins.As[plugins.CommandLine]())
	register("configuration", app.conf, plugins.As[config.Config]())
	register("bootstrap configuration", app.bc)
	register("logger creator", &LoggerContextCreator{Logger: app.logger})
	register("metrics creator", &MetricsContextCreator{Registerer: app.registry})
}

// quitOnSignal asks the application to quit on SIGINT, SIGTERM or when ctx
// ends. The returned func stops listening.
func (app *Application) quitOnSignal(ctx context.Context, a plugins.Application) (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigChan:
			log.Infof("received signal %v, asking the application to quit", sig)
			a.QuitApplication()
		case <-ctx.Done():
			a.QuitApplication()
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(done)
		})
	}
}

func (app *Application) addCleanup(fn func()) {
	app.cleanups = append(app.cleanups, fn)
}

// shutdown stops background work, unloads every plugin and closes the
// logger last. It runs once.
func (app *Application) shutdown() {
	app.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
		defer cancel()

		app.step("stop background work", func() {
			if app.cancel != nil {
				app.cancel()
			}
			if app.watcher != nil {
				_ = app.watcher.Close()
			}
			if app.server != nil {
				if err := app.server.Stop(ctx); err != nil {
					log.Errorf("error stopping metrics server: %v", err)
				}
			}
			app.bg.Wait()
		})

		app.step("unload plugins", func() {
			if app.manager == nil {
				return
			}
			if err := app.manager.Close(ctx); err != nil {
				log.Errorf("error during plugin shutdown: %v", err)
			}
		})

		for i := len(app.cleanups) - 1; i >= 0; i-- {
			app.step("cleanup", app.cleanups[i])
		}

		if app.closer != nil {
			log.SetLogger(nil)
			if err := app.closer(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", err)
			}
		}
	})
}

// step runs one shutdown step, containing its panics.
func (app *Application) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic during %s: %v", name, r)
		}
	}()
	fn()
}

func (app *Application) handlePanic(r any) {
	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", r)
	}
	log.Errorf("host crashed: %v\n%s", err, debug.Stack())
}

func elapsed(start time.Time) string {
	ms := time.Since(start).Milliseconds()
	switch {
	case ms < 1000:
		return fmt.Sprintf("%d ms", ms)
	case ms < 60_000:
		return fmt.Sprintf("%.2f s", float64(ms)/1000)
	default:
		return fmt.Sprintf("%.2f m", float64(ms)/1000/60)
	}
}
