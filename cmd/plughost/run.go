package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/go-lynx/plughost/boot"
)

// hostFlags are shared by every command
type hostFlags struct {
	confPath    string
	pluginsDir  string
	pluginList  string
	logLevel    string
	metricsAddr string
	unattended  bool
}

var flags hostFlags

func (f hostFlags) options(args []string) boot.Options {
	return boot.Options{
		ConfPath:    f.confPath,
		PluginsDir:  f.pluginsDir,
		PluginList:  f.pluginList,
		LogLevel:    f.logLevel,
		MetricsAddr: f.metricsAddr,
		Unattended:  f.unattended,
		Args:        args,
	}
}

var cmdRun = &cobra.Command{
	Use:   "run [-- plugin args...]",
	Short: "Load the plugins and start the application",
	Long: `Load every discovered plugin module and hand control to the application
a plugin registered. Arguments after -- are passed to plugins.`,
	Example: `  # Run with the modules in ./plugins
  plughost run --plugins-dir ./plugins

  # Run from a config file, passing arguments to plugins
  plughost run --conf configs/plughost.yaml -- --scene=demo`,
	Args: cobra.ArbitraryArgs,
	RunE: runHost,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, cmdRun} {
		c.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /metrics on this address")
		c.Flags().BoolVar(&flags.unattended, "unattended", false, "turn host crashes into exit code 70")
	}
}

// runHost exits the process with the host's exit code.
func runHost(cmd *cobra.Command, args []string) error {
	app := boot.NewApplication(flags.options(args))
	os.Exit(app.Run(cmd.Context()))
	return nil
}
