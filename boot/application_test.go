package boot

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-kratos/kratos/v2/config"
	klog "github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/plughost/conf"
	"github.com/go-lynx/plughost/loader"
	"github.com/go-lynx/plughost/plugins"
)

// hostPlugin registers app, when set, and records what the host seeded.
type hostPlugin struct {
	plugins.BasePlugin
	app  plugins.Application
	seen map[string]bool
}

func (p *hostPlugin) PostLoad(ctx plugins.Context) error {
	p.seen = map[string]bool{
		"cmdline":    plugins.Query[plugins.CommandLine](ctx) != nil,
		"config":     plugins.Query[config.Config](ctx) != nil,
		"bootstrap":  plugins.Query[*conf.Bootstrap](ctx) != nil,
		"logger":     plugins.Query[klog.Logger](ctx) != nil,
		"registerer": plugins.Query[prometheus.Registerer](ctx) != nil,
	}
	if p.app == nil {
		return nil
	}
	_, err := plugins.Register[plugins.Application](ctx, p.app)
	return err
}

type funcApp struct {
	start func() int
}

func (a *funcApp) StartApplication() int { return a.start() }
func (a *funcApp) QuitApplication()      {}

func pluginDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
	return dir
}

func testOptions(dir string, opener loader.Opener) Options {
	return Options{
		PluginsDir: dir,
		Opener:     opener,
		Registry:   prometheus.NewRegistry(),
		Logger:     klog.NewStdLogger(io.Discard),
	}
}

func staticOpener(entries map[string]plugins.EntryFunc) *loader.StaticOpener {
	o := loader.NewStaticOpener()
	for name, e := range entries {
		o.Register(name, e)
	}
	return o
}

func TestRunExitCodes(t *testing.T) {
	withApp := func(code int) plugins.EntryFunc {
		return func(ctx plugins.Context) plugins.PluginMain {
			return &hostPlugin{
				BasePlugin: plugins.NewBasePlugin(ctx),
				app:        &funcApp{start: func() int { return code }},
			}
		}
	}
	noApp := func(ctx plugins.Context) plugins.PluginMain {
		return &hostPlugin{BasePlugin: plugins.NewBasePlugin(ctx)}
	}

	tests := []struct {
		name    string
		files   []string
		entries map[string]plugins.EntryFunc
		want    int
	}{
		{name: "no plugins", want: ExitNoPlugins},
		{name: "nothing loads", files: []string{"broken.so"}, want: ExitNoUsablePlugins},
		{name: "no application", files: []string{"lib.so"}, entries: map[string]plugins.EntryFunc{"lib": noApp}, want: ExitNoApplication},
		{name: "application code", files: []string{"app.so", "lib.so"}, entries: map[string]plugins.EntryFunc{"app": withApp(42), "lib": noApp}, want: 42},
		{name: "application ok", files: []string{"app.so"}, entries: map[string]plugins.EntryFunc{"app": withApp(ExitOK)}, want: ExitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := pluginDir(t, tt.files...)
			app := NewApplication(testOptions(dir, staticOpener(tt.entries)))
			assert.Equal(t, tt.want, app.Run(context.Background()))
		})
	}
}

func TestRunBootstrapFailure(t *testing.T) {
	opts := testOptions(t.TempDir(), loader.NewStaticOpener())
	opts.ConfPath = filepath.Join(t.TempDir(), "absent.yaml")
	assert.Equal(t, ExitBootstrapFailure, NewApplication(opts).Run(context.Background()))

	opts = testOptions(pluginDir(t, "a.so"), loader.NewStaticOpener())
	cfg := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("plughost:\n  registry:\n    resolve: sideways\n"), 0o644))
	opts.ConfPath = cfg
	assert.Equal(t, ExitBootstrapFailure, NewApplication(opts).Run(context.Background()))

	opts = testOptions(pluginDir(t, "a.so"), loader.NewStaticOpener())
	cfg = filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("plughost:\n  tracing:\n    enable: true\n    ratio: 3\n"), 0o644))
	opts.ConfPath = cfg
	assert.Equal(t, ExitBootstrapFailure, NewApplication(opts).Run(context.Background()))
}

func TestRunSeedsGlobalContext(t *testing.T) {
	var p *hostPlugin
	var args []string
	opener := staticOpener(map[string]plugins.EntryFunc{
		"app": func(ctx plugins.Context) plugins.PluginMain {
			p = &hostPlugin{BasePlugin: plugins.NewBasePlugin(ctx)}
			p.app = &funcApp{start: func() int {
				args = plugins.Query[plugins.CommandLine](p.Context()).Args()
				return ExitOK
			}}
			return p
		},
	})
	opts := testOptions(pluginDir(t, "app.so"), opener)
	opts.Args = []string{"--scene=demo", "-v"}

	require.Equal(t, ExitOK, NewApplication(opts).Run(context.Background()))
	require.NotNil(t, p)
	for what, ok := range p.seen {
		assert.True(t, ok, what)
	}
	assert.Equal(t, []string{"--scene=demo", "-v"}, args)
}

func TestRunUnattendedCrash(t *testing.T) {
	crashing := func(ctx plugins.Context) plugins.PluginMain {
		return &hostPlugin{
			BasePlugin: plugins.NewBasePlugin(ctx),
			app:        &funcApp{start: func() int { panic("application blew up") }},
		}
	}

	opts := testOptions(pluginDir(t, "app.so"), staticOpener(map[string]plugins.EntryFunc{"app": crashing}))
	opts.Unattended = true
	assert.Equal(t, ExitCrash, NewApplication(opts).Run(context.Background()))

	opts = testOptions(pluginDir(t, "app.so"), staticOpener(map[string]plugins.EntryFunc{"app": crashing}))
	assert.Panics(t, func() { NewApplication(opts).Run(context.Background()) })
}

func TestLoadBootstrapConfig(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "host.yaml")
	content := `
plughost:
  application:
    name: viewer
    version: 1.2.0
  plugins:
    folder: /opt/viewer/plugins
    list: /opt/viewer/plugins.txt
    watch: true
  registry:
    resolve: first
  log:
    level: debug
  metrics:
    addr: ":9100"
`
	require.NoError(t, os.WriteFile(cfg, []byte(content), 0o644))

	app := NewApplication(Options{ConfPath: cfg, LogLevel: "warn", PluginsDir: "/tmp/override"})
	require.NoError(t, app.LoadBootstrapConfig())
	defer app.shutdown()

	bc := app.Bootstrap().Plughost
	assert.Equal(t, "viewer", app.GetName())
	assert.Equal(t, "1.2.0", app.GetVersion())
	assert.Equal(t, "/tmp/override", bc.Plugins.Folder)
	assert.Equal(t, "/opt/viewer/plugins.txt", bc.Plugins.List)
	assert.True(t, bc.Plugins.Watch)
	assert.Equal(t, "first", bc.Registry.Resolve)
	assert.Equal(t, "warn", bc.Log.Level)
	assert.Equal(t, ":9100", bc.Metrics.Addr)
	assert.Equal(t, conf.DefaultMaxBackups, bc.Log.MaxBackups)
}

func TestLoadBootstrapConfigDefaults(t *testing.T) {
	app := NewApplication(Options{})
	require.NoError(t, app.LoadBootstrapConfig())
	defer app.shutdown()

	assert.Equal(t, conf.DefaultApplicationName, app.GetName())
	assert.Equal(t, conf.DefaultPluginFolder, app.Bootstrap().Plughost.Plugins.Folder)
	assert.Equal(t, "last", app.Bootstrap().Plughost.Registry.Resolve)
}

func TestRunServesMetrics(t *testing.T) {
	var app *Application
	var status int
	var body []byte
	opener := staticOpener(map[string]plugins.EntryFunc{
		"app": func(ctx plugins.Context) plugins.PluginMain {
			return &hostPlugin{
				BasePlugin: plugins.NewBasePlugin(ctx),
				app: &funcApp{start: func() int {
					resp, err := http.Get("http://" + app.MetricsAddr() + metricsPath)
					if err != nil {
						return ExitCrash
					}
					defer resp.Body.Close()
					status = resp.StatusCode
					body, _ = io.ReadAll(resp.Body)
					return ExitOK
				}},
			}
		},
	})
	opts := testOptions(pluginDir(t, "app.so"), opener)
	opts.MetricsAddr = "127.0.0.1:0"
	app = NewApplication(opts)

	require.Equal(t, ExitOK, app.Run(context.Background()))
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "plughost_loaded_plugins 1")
	assert.Contains(t, string(body), `plughost_plugin_state{plugin="`)
}

func TestPrintBanner(t *testing.T) {
	app := NewApplication(Options{})
	require.NoError(t, app.LoadBootstrapConfig())
	defer app.shutdown()

	var out strings.Builder
	require.NoError(t, app.printBanner(&out))
	assert.Contains(t, out.String(), conf.DefaultApplicationName+" unknown")

	out.Reset()
	app.Bootstrap().Plughost.Application.CloseBanner = true
	require.NoError(t, app.printBanner(&out))
	assert.Empty(t, out.String())

	app = NewApplication(Options{Unattended: true})
	require.NoError(t, app.LoadBootstrapConfig())
	defer app.shutdown()
	require.NoError(t, app.printBanner(&out))
	assert.Empty(t, out.String())
}
